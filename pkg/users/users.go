// Package users provisions the primary non-root account of a guest and
// grants it passwordless administrative privileges.
package users

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/wslprov/pkg/guest"
	"github.com/openfroyo/wslprov/pkg/probe"
	"github.com/openfroyo/wslprov/pkg/transports/wsl"
	"github.com/rs/zerolog/log"
)

// Options controls account defaults.
type Options struct {
	Shell      string
	AdminGroup string
}

// DefaultOptions returns bash and the wheel group.
func DefaultOptions() Options {
	return Options{Shell: "/bin/bash", AdminGroup: "wheel"}
}

// GrantResult reports what GrantAdministrativePrivileges changed.
type GrantResult struct {
	GroupCreated    bool
	SudoersChanged  bool
	WSLConfChanged  bool
	SudoVerified    bool
	SudoersFilePath string

	// Warnings are recoverable problems, including a failed sudo check
	// before the pending restart.
	Warnings []error
}

// Verification is the outcome of the advisory VerifyConfiguration pass.
type Verification struct {
	Account  guest.PrincipalAccount
	Problems []string
}

// OK reports whether no problems were found.
func (v *Verification) OK() bool {
	return len(v.Problems) == 0
}

// Provisioner manages the principal account.
type Provisioner struct {
	exec  wsl.Executor
	probe *probe.Probe
	opts  Options
}

// New creates a provisioner. Empty option fields take their defaults.
func New(exec wsl.Executor, p *probe.Probe, opts Options) *Provisioner {
	defaults := DefaultOptions()
	if opts.Shell == "" {
		opts.Shell = defaults.Shell
	}
	if opts.AdminGroup == "" {
		opts.AdminGroup = defaults.AdminGroup
	}
	return &Provisioner{exec: exec, probe: p, opts: opts}
}

// CreateUser creates username with a home directory and the configured
// shell. An existing account is left untouched.
func (pr *Provisioner) CreateUser(ctx context.Context, name, username string) error {
	if pr.probe.UserExists(ctx, name, username) {
		log.Info().Str("distro", name).Str("user", username).Msg("User already exists")
		return nil
	}

	log.Info().Str("distro", name).Str("user", username).Msg("Creating user")

	cmd := fmt.Sprintf("useradd -m -s %s %s", wsl.Quote(pr.opts.Shell), wsl.Quote(username))
	result, err := pr.exec.Run(ctx, name, wsl.Root, cmd)
	if err == nil && !result.Succeeded() {
		log.Warn().Str("user", username).Int("exit_code", result.ExitCode).Str("output", result.Output).Msg("useradd reported a failure")
	}

	if !pr.probe.UserExists(ctx, name, username) {
		cause := err
		if cause == nil && result != nil {
			cause = fmt.Errorf("exit code %d: %s", result.ExitCode, result.Output)
		}
		return guest.NewFatalError(fmt.Sprintf("user %s does not exist after creation", username), cause).
			WithDistro(name).
			WithOperation("create-user").
			WithCode(guest.ErrCodeUserCreate)
	}
	return nil
}

// GrantAdministrativePrivileges adds username to the admin group, installs a
// group-scoped passwordless sudo fragment and enables systemd with username
// as the default login. Every step converges, so repeated calls change
// nothing. A returned error means a step could not be applied; a failed
// sudo check afterwards only adds a warning.
func (pr *Provisioner) GrantAdministrativePrivileges(ctx context.Context, name, username string) (*GrantResult, error) {
	group := pr.opts.AdminGroup
	result := &GrantResult{SudoersFilePath: sudoersPath(group)}

	created, err := pr.ensureGroup(ctx, name, group)
	if err != nil {
		return result, err
	}
	result.GroupCreated = created

	cmd := fmt.Sprintf("usermod -aG %s %s", wsl.Quote(group), wsl.Quote(username))
	if err := pr.mustRun(ctx, name, cmd); err != nil {
		return result, privilegesError(name, "failed to add user to admin group", err)
	}

	changed, err := pr.ensureSudoers(ctx, name, group)
	if err != nil {
		return result, privilegesError(name, "failed to install sudoers fragment", err)
	}
	result.SudoersChanged = changed

	changed, err = pr.ensureWSLConf(ctx, name, username)
	if err != nil {
		return result, privilegesError(name, "failed to update wsl.conf", err)
	}
	result.WSLConfChanged = changed

	result.SudoVerified = pr.probe.UserHasPasswordlessSudo(ctx, name, username)
	if !result.SudoVerified {
		warn := guest.NewRecoverableError("passwordless sudo not yet effective; expected after restart", nil).
			WithDistro(name).
			WithOperation("grant").
			WithCode(guest.ErrCodePrivileges)
		result.Warnings = append(result.Warnings, warn)
		log.Warn().Str("distro", name).Str("user", username).Msg("Passwordless sudo check failed before restart")
	}

	log.Info().
		Str("distro", name).
		Str("user", username).
		Bool("sudoers_changed", result.SudoersChanged).
		Bool("wsl_conf_changed", result.WSLConfChanged).
		Msg("Administrative privileges granted")

	return result, nil
}

// VerifyConfiguration inspects the account and logs what is off. It never
// fails.
func (pr *Provisioner) VerifyConfiguration(ctx context.Context, name, username string) *Verification {
	v := &Verification{Account: pr.probe.Account(ctx, name, username, pr.opts.AdminGroup)}

	switch {
	case !v.Account.Exists:
		v.Problems = append(v.Problems, "user does not exist")
	default:
		if !v.Account.HomeExists {
			v.Problems = append(v.Problems, "home directory missing")
		}
		if !v.Account.InAdminGroup {
			v.Problems = append(v.Problems, fmt.Sprintf("not a member of %s", pr.opts.AdminGroup))
		}
		if !v.Account.PasswordlessSudo {
			v.Problems = append(v.Problems, "passwordless sudo unavailable")
		}
	}

	if v.OK() {
		log.Info().Str("distro", name).Str("user", username).Strs("groups", v.Account.Groups).Msg("User configuration verified")
	} else {
		log.Warn().Str("distro", name).Str("user", username).Str("problems", strings.Join(v.Problems, "; ")).Msg("User configuration incomplete")
	}
	return v
}

func (pr *Provisioner) ensureGroup(ctx context.Context, name, group string) (bool, error) {
	result, err := pr.exec.Run(ctx, name, wsl.Root, "getent group "+wsl.Quote(group))
	if err == nil && result.Succeeded() {
		return false, nil
	}
	if err := pr.mustRun(ctx, name, "groupadd "+wsl.Quote(group)); err != nil {
		return false, privilegesError(name, fmt.Sprintf("failed to create group %s", group), err)
	}
	return true, nil
}

func (pr *Provisioner) mustRun(ctx context.Context, name, cmd string) error {
	result, err := pr.exec.Run(ctx, name, wsl.Root, cmd)
	if err != nil {
		return err
	}
	if !result.Succeeded() {
		return fmt.Errorf("exit code %d: %s", result.ExitCode, result.Output)
	}
	return nil
}

func privilegesError(name, msg string, err error) error {
	return guest.NewRecoverableError(msg, err).
		WithDistro(name).
		WithOperation("grant").
		WithCode(guest.ErrCodePrivileges)
}
