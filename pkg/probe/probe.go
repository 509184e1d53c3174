// Package probe implements read-only state checks against a guest
// environment. Every probe fails closed: when a check cannot be executed the
// negative answer is returned, because probes only decide whether remedial
// action is still needed.
package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/wslprov/pkg/guest"
	"github.com/openfroyo/wslprov/pkg/transports/wsl"
	"github.com/rs/zerolog/log"
)

const (
	readyMarker = "ready"
	shellMarker = "shell-ok"

	keyringCheck = "test -s /etc/pacman.d/gnupg/pubring.gpg || test -s /etc/pacman.d/gnupg/pubring.kbx"

	chezmoiPath = `export PATH="$HOME/.local/bin:$HOME/bin:$PATH"`
)

// Probe runs state checks through an executor.
type Probe struct {
	exec wsl.Executor
}

// New creates a probe.
func New(exec wsl.Executor) *Probe {
	return &Probe{exec: exec}
}

// ListEnvironments returns the names the management layer knows about.
func (p *Probe) ListEnvironments(ctx context.Context) ([]string, error) {
	result, err := p.exec.Manage(ctx, "--list", "--quiet")
	if err != nil {
		return nil, err
	}
	if !result.Succeeded() {
		return nil, fmt.Errorf("list exited with code %d: %s", result.ExitCode, result.Output)
	}

	var names []string
	for _, line := range strings.Split(result.Output, "\n") {
		name := wsl.Normalize(line)
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// EnvironmentExists reports whether name is registered.
func (p *Probe) EnvironmentExists(ctx context.Context, name string) bool {
	names, err := p.ListEnvironments(ctx)
	if err != nil {
		log.Debug().Err(err).Str("distro", name).Msg("existence probe failed")
		return false
	}
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// EnvironmentReady reports whether the management layer can start a
// process in name and read its output.
func (p *Probe) EnvironmentReady(ctx context.Context, name string) bool {
	result, err := p.exec.Manage(ctx, "-d", name, "-u", string(wsl.Root), "--exec", "echo", readyMarker)
	if err != nil {
		log.Debug().Err(err).Str("distro", name).Msg("readiness probe failed")
		return false
	}
	return result.Succeeded() && result.Output == readyMarker
}

// ShellResponds reports whether a login shell inside name answers.
func (p *Probe) ShellResponds(ctx context.Context, name string) bool {
	result, err := p.exec.Run(ctx, name, wsl.Root, "echo "+shellMarker)
	if err != nil {
		return false
	}
	return result.Succeeded() && result.Output == shellMarker
}

// UserExists reports whether username has an account in name.
func (p *Probe) UserExists(ctx context.Context, name, username string) bool {
	result, err := p.exec.Run(ctx, name, wsl.Root, "id -u "+wsl.Quote(username))
	if err != nil {
		return false
	}
	return result.Succeeded() && result.Output != ""
}

// UserHasPasswordlessSudo reports whether username can run sudo without a
// password prompt.
func (p *Probe) UserHasPasswordlessSudo(ctx context.Context, name, username string) bool {
	result, err := p.exec.Run(ctx, name, wsl.Identity(username), "sudo -n true")
	if err != nil {
		return false
	}
	return result.Succeeded()
}

// UserGroups returns the groups username belongs to, or nil if unknown.
func (p *Probe) UserGroups(ctx context.Context, name, username string) []string {
	result, err := p.exec.Run(ctx, name, wsl.Root, "id -nG "+wsl.Quote(username))
	if err != nil || !result.Succeeded() {
		return nil
	}
	return strings.Fields(result.Output)
}

// HomeExists reports whether username's home directory exists.
func (p *Probe) HomeExists(ctx context.Context, name, username string) bool {
	cmd := fmt.Sprintf(`test -d "$(getent passwd %s | cut -d: -f6)"`, wsl.Quote(username))
	result, err := p.exec.Run(ctx, name, wsl.Root, cmd)
	if err != nil {
		return false
	}
	return result.Succeeded()
}

// PackageManagerKeyringInitialized reports whether the pacman keyring holds
// trust material.
func (p *Probe) PackageManagerKeyringInitialized(ctx context.Context, name string) bool {
	result, err := p.exec.Run(ctx, name, wsl.Root, keyringCheck)
	if err != nil {
		return false
	}
	return result.Succeeded()
}

// MissingPackages returns the subset of required that is not installed,
// using a single batched query. When the query cannot be interpreted every
// package is reported missing.
func (p *Probe) MissingPackages(ctx context.Context, name string, required []string) []string {
	if len(required) == 0 {
		return nil
	}

	quoted := make([]string, len(required))
	for i, pkg := range required {
		quoted[i] = wsl.Quote(pkg)
	}

	// pacman -T prints unsatisfied targets and exits 127 when any are missing.
	result, err := p.exec.Run(ctx, name, wsl.Root, "pacman -T "+strings.Join(quoted, " "))
	if err != nil {
		log.Debug().Err(err).Str("distro", name).Msg("package probe failed")
		return copyList(required)
	}

	switch result.ExitCode {
	case 0:
		return nil
	case 127:
		missing, ok := parseMissing(result.Output, required)
		if !ok {
			return copyList(required)
		}
		return missing
	default:
		return copyList(required)
	}
}

// parseMissing keeps required's order; it fails if the output names anything
// that was not asked for or names nothing at all.
func parseMissing(output string, required []string) ([]string, bool) {
	reported := make(map[string]bool)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			reported[line] = true
		}
	}
	if len(reported) == 0 {
		return nil, false
	}

	var missing []string
	matched := 0
	for _, pkg := range required {
		if reported[pkg] {
			missing = append(missing, pkg)
			matched++
		}
	}
	if matched != len(reported) {
		return nil, false
	}
	return missing, true
}

// DotfileManagerConfigured reports whether chezmoi has a source directory
// for username.
func (p *Probe) DotfileManagerConfigured(ctx context.Context, name, username string) bool {
	cmd := chezmoiPath + ` && command -v chezmoi >/dev/null && test -d "$(chezmoi source-path)"`
	result, err := p.exec.Run(ctx, name, wsl.Identity(username), cmd)
	if err != nil {
		return false
	}
	return result.Succeeded()
}

// ServiceActive reports whether the systemd unit is active.
func (p *Probe) ServiceActive(ctx context.Context, name, unit string) bool {
	result, err := p.exec.Run(ctx, name, wsl.Root, "systemctl is-active --quiet "+wsl.Quote(unit))
	if err != nil {
		return false
	}
	return result.Succeeded()
}

// Environment summarizes the lifecycle state of name.
func (p *Probe) Environment(ctx context.Context, name string) guest.Environment {
	env := guest.Environment{Name: name, State: guest.StateAbsent}
	if !p.EnvironmentExists(ctx, name) {
		return env
	}
	env.State = guest.StateRegistered
	if p.EnvironmentReady(ctx, name) && p.ShellResponds(ctx, name) {
		env.State = guest.StateReady
	}
	return env
}

// Account summarizes username's account state in name.
func (p *Probe) Account(ctx context.Context, name, username, adminGroup string) guest.PrincipalAccount {
	account := guest.PrincipalAccount{Username: username}
	if !p.UserExists(ctx, name, username) {
		return account
	}
	account.Exists = true
	account.Groups = p.UserGroups(ctx, name, username)
	for _, g := range account.Groups {
		if g == adminGroup {
			account.InAdminGroup = true
		}
	}
	account.PasswordlessSudo = p.UserHasPasswordlessSudo(ctx, name, username)
	account.HomeExists = p.HomeExists(ctx, name, username)
	return account
}

func copyList(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
