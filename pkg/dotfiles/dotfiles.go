// Package dotfiles bootstraps a user's dotfiles with chezmoi. The bootstrap
// is interactive: chezmoi may ask the operator questions through the
// attached terminal.
package dotfiles

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/wslprov/pkg/probe"
	"github.com/openfroyo/wslprov/pkg/transports/wsl"
	"github.com/rs/zerolog/log"
)

// Identity is passed to the dotfile templates.
type Identity struct {
	Name  string
	Email string
}

// Request describes one bootstrap.
type Request struct {
	Distro   string
	Username string
	Repo     string
	Identity Identity
}

// Bootstrapper applies dotfiles and verifies the result.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, req Request) error
	Verify(ctx context.Context, req Request) bool
}

// Chezmoi installs chezmoi into ~/.local/bin and runs init --apply.
type Chezmoi struct {
	exec  wsl.Executor
	probe *probe.Probe
}

// NewChezmoi creates a chezmoi bootstrapper.
func NewChezmoi(exec wsl.Executor, p *probe.Probe) *Chezmoi {
	return &Chezmoi{exec: exec, probe: p}
}

// Command returns the guest command line for req.
func (c *Chezmoi) Command(req Request) string {
	args := []string{"-b", `"$HOME/.local/bin"`, "init", "--apply"}
	if req.Identity.Name != "" {
		args = append(args, "--promptString", wsl.Quote("name="+req.Identity.Name))
	}
	if req.Identity.Email != "" {
		args = append(args, "--promptString", wsl.Quote("email="+req.Identity.Email))
	}
	args = append(args, wsl.Quote(req.Repo))

	return fmt.Sprintf(`cd "$HOME" && sh -c "$(curl -fsLS get.chezmoi.io)" -- %s`, strings.Join(args, " "))
}

// Bootstrap runs chezmoi attached to the operator's terminal.
func (c *Chezmoi) Bootstrap(ctx context.Context, req Request) error {
	if req.Repo == "" {
		return fmt.Errorf("dotfiles repository is required")
	}

	log.Info().Str("distro", req.Distro).Str("user", req.Username).Str("repo", req.Repo).Msg("Bootstrapping dotfiles")

	if err := c.exec.RunInteractive(ctx, req.Distro, wsl.Identity(req.Username), c.Command(req)); err != nil {
		return fmt.Errorf("failed to bootstrap dotfiles: %w", err)
	}
	return nil
}

// Verify reports whether chezmoi has a source directory for the user.
func (c *Chezmoi) Verify(ctx context.Context, req Request) bool {
	return c.probe.DotfileManagerConfigured(ctx, req.Distro, req.Username)
}
