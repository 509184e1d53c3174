// Package pkgmgr brings the guest package manager to a usable state: trust
// keyring initialized, system updated and required packages present.
package pkgmgr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/wslprov/pkg/guest"
	"github.com/openfroyo/wslprov/pkg/probe"
	"github.com/openfroyo/wslprov/pkg/telemetry"
	"github.com/openfroyo/wslprov/pkg/transports/wsl"
	"github.com/rs/zerolog/log"
)

const (
	keyringInitCommand = "pacman-key --init && pacman-key --populate archlinux"
	updateCommand      = "pacman -Syu --noconfirm"
	installCommand     = "pacman -S --needed --noconfirm "
)

// Package install outcomes.
const (
	OutcomeInstalled = "installed"
	OutcomeFailed    = "failed"
)

// PackageResult is the outcome of installing a single package.
type PackageResult struct {
	Name     string
	Outcome  string
	Output   string
	Duration time.Duration
}

// InitResult summarizes an Initialize or InstallPackages call.
type InitResult struct {
	KeyringInitialized bool
	KeyringSkipped     bool
	Updated            bool
	Installed          []string
	Failed             []string
	Packages           []PackageResult

	// Success is false when any requested package failed to install.
	Success bool

	// Warnings are recoverable problems the caller may surface.
	Warnings []error
}

// Initializer drives pacman inside a guest.
type Initializer struct {
	exec  wsl.Executor
	probe *probe.Probe
	sink  telemetry.Sink
}

// New creates an initializer. A nil sink discards events.
func New(exec wsl.Executor, p *probe.Probe, sink telemetry.Sink) *Initializer {
	if sink == nil {
		sink = telemetry.Discard
	}
	return &Initializer{exec: exec, probe: p, sink: sink}
}

// Initialize sets up the keyring if needed, updates the system and installs
// whatever part of required is missing. Only a keyring failure is returned
// as an error.
func (i *Initializer) Initialize(ctx context.Context, name string, required []string) (*InitResult, error) {
	result := &InitResult{Success: true}

	if i.probe.PackageManagerKeyringInitialized(ctx, name) {
		log.Info().Str("distro", name).Msg("Package keyring already initialized")
		result.KeyringInitialized = true
		result.KeyringSkipped = true
	} else {
		if err := i.initKeyring(ctx, name); err != nil {
			return result, err
		}
		result.KeyringInitialized = true
	}

	if err := i.update(ctx, name); err != nil {
		log.Warn().Err(err).Str("distro", name).Msg("System update failed, continuing")
		result.Warnings = append(result.Warnings, err)
	} else {
		result.Updated = true
	}

	installed, err := i.InstallPackages(ctx, name, required)
	if installed != nil {
		result.Installed = installed.Installed
		result.Failed = installed.Failed
		result.Packages = installed.Packages
		result.Success = installed.Success
		result.Warnings = append(result.Warnings, installed.Warnings...)
	}
	return result, err
}

// InstallPackages installs the missing subset of required one package at a
// time, continuing past failures. Nothing is installed when every package is
// already present.
func (i *Initializer) InstallPackages(ctx context.Context, name string, required []string) (*InitResult, error) {
	result := &InitResult{Success: true}

	missing := i.probe.MissingPackages(ctx, name, required)
	if len(missing) == 0 {
		log.Info().Str("distro", name).Int("required", len(required)).Msg("All required packages present")
		return result, nil
	}

	log.Info().Str("distro", name).Strs("packages", missing).Msg("Installing missing packages")

	for _, pkg := range missing {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		pr := i.installOne(ctx, name, pkg)
		result.Packages = append(result.Packages, pr)

		if pr.Outcome == OutcomeInstalled {
			result.Installed = append(result.Installed, pkg)
		} else {
			result.Failed = append(result.Failed, pkg)
			result.Success = false
		}

		_ = i.sink.Publish(telemetry.Event{
			Type:    telemetry.EventTypePackageResult,
			Source:  "pkgmgr",
			Distro:  name,
			Message: fmt.Sprintf("package %s %s", pkg, pr.Outcome),
			Data: map[string]interface{}{
				"package":          pkg,
				"outcome":          pr.Outcome,
				"duration_seconds": pr.Duration.Seconds(),
			},
		})
	}

	if !result.Success {
		err := guest.NewRecoverableError(
			fmt.Sprintf("failed to install packages: %s", strings.Join(result.Failed, ", ")), nil).
			WithDistro(name).
			WithOperation("install-packages").
			WithCode(guest.ErrCodePackages)
		result.Warnings = append(result.Warnings, err)
		log.Warn().Str("distro", name).Strs("failed", result.Failed).Msg("Some packages failed to install")
	}

	return result, nil
}

// CheckStatus reports the package manager state as seen by username. It
// stops at the first unmet precondition; fields after it stay false.
func (i *Initializer) CheckStatus(ctx context.Context, name, username string, required []string) guest.PackageManagerState {
	state := guest.PackageManagerState{RequiredPackages: required}

	state.SudoAvailable = i.probe.UserHasPasswordlessSudo(ctx, name, username)
	if !state.SudoAvailable {
		return state
	}

	state.KeyringInitialized = i.probe.PackageManagerKeyringInitialized(ctx, name)
	if !state.KeyringInitialized {
		return state
	}

	state.MissingPackages = i.probe.MissingPackages(ctx, name, required)
	state.AllPackagesInstalled = len(state.MissingPackages) == 0
	return state
}

func (i *Initializer) initKeyring(ctx context.Context, name string) error {
	log.Info().Str("distro", name).Msg("Initializing package keyring")

	result, err := i.exec.Run(ctx, name, wsl.Root, keyringInitCommand)
	if err == nil && !result.Succeeded() {
		err = fmt.Errorf("exit code %d: %s", result.ExitCode, result.Output)
	}
	if err != nil {
		return guest.NewFatalError("failed to initialize package keyring", err).
			WithDistro(name).
			WithOperation("keyring").
			WithCode(guest.ErrCodeKeyring)
	}
	return nil
}

func (i *Initializer) update(ctx context.Context, name string) error {
	log.Info().Str("distro", name).Msg("Updating system packages")

	result, err := i.exec.RunQuiet(ctx, name, wsl.Root, updateCommand)
	if err == nil && !result.Succeeded() {
		err = fmt.Errorf("exit code %d", result.ExitCode)
	}
	if err != nil {
		return guest.NewRecoverableError("system update failed", err).
			WithDistro(name).
			WithOperation("update").
			WithCode(guest.ErrCodePackages)
	}
	return nil
}

func (i *Initializer) installOne(ctx context.Context, name, pkg string) PackageResult {
	start := time.Now()
	result, err := i.exec.RunQuiet(ctx, name, wsl.Root, installCommand+wsl.Quote(pkg))

	pr := PackageResult{Name: pkg, Outcome: OutcomeInstalled, Duration: time.Since(start)}
	switch {
	case err != nil:
		pr.Outcome = OutcomeFailed
		pr.Output = err.Error()
	case !result.Succeeded():
		pr.Outcome = OutcomeFailed
		pr.Output = result.Output
	}

	log.Debug().
		Str("distro", name).
		Str("package", pkg).
		Str("outcome", pr.Outcome).
		Dur("duration", pr.Duration).
		Msg("Package install finished")
	return pr
}
