package engine

import (
	"context"

	"github.com/openfroyo/wslprov/pkg/dotfiles"
	"github.com/openfroyo/wslprov/pkg/guest"
	"github.com/openfroyo/wslprov/pkg/lifecycle"
	"github.com/openfroyo/wslprov/pkg/network"
	"github.com/openfroyo/wslprov/pkg/pkgmgr"
	"github.com/openfroyo/wslprov/pkg/policy"
	"github.com/openfroyo/wslprov/pkg/prompt"
	"github.com/openfroyo/wslprov/pkg/stores"
	"github.com/openfroyo/wslprov/pkg/users"
)

// StateProbe answers the read-only questions the workflow branches on.
type StateProbe interface {
	EnvironmentExists(ctx context.Context, name string) bool
	UserExists(ctx context.Context, name, username string) bool
	UserHasPasswordlessSudo(ctx context.Context, name, username string) bool
}

// Lifecycle creates, restarts and waits for the environment.
type Lifecycle interface {
	// EnsureFeatures checks the management layer and sets WSL 2 as default.
	EnsureFeatures(ctx context.Context) error

	// Install destroys any environment called name and creates it from image.
	Install(ctx context.Context, image, name string) error

	// Terminate stops name so configuration read at boot takes effect.
	Terminate(ctx context.Context, name string) error

	// WaitUntilReady polls until name is ready or the policy is exhausted.
	WaitUntilReady(ctx context.Context, name string, policy lifecycle.WaitPolicy) (*lifecycle.WaitResult, error)
}

// PackageManager converges the guest's package state.
type PackageManager interface {
	Initialize(ctx context.Context, name string, required []string) (*pkgmgr.InitResult, error)
	InstallPackages(ctx context.Context, name string, required []string) (*pkgmgr.InitResult, error)
	CheckStatus(ctx context.Context, name, username string, required []string) guest.PackageManagerState
}

// UserProvisioner manages the principal account.
type UserProvisioner interface {
	CreateUser(ctx context.Context, name, username string) error
	GrantAdministrativePrivileges(ctx context.Context, name, username string) (*users.GrantResult, error)
	VerifyConfiguration(ctx context.Context, name, username string) *users.Verification
}

// NetworkConfigurator publishes the guest's SSH service on the host.
type NetworkConfigurator interface {
	Configure(ctx context.Context, name string) *network.Result
}

// Admission decides whether a run may start. policy.Engine satisfies it.
type Admission interface {
	Evaluate(ctx context.Context, input policy.Input) (*policy.Result, error)
}

// Journal persists runs and their events. stores.Store satisfies it.
type Journal interface {
	CreateRun(ctx context.Context, run *stores.Run) error
	UpdateRun(ctx context.Context, id string, update stores.RunUpdate) error
	AppendEvent(ctx context.Context, event *stores.Event) error
	UpsertFact(ctx context.Context, fact *stores.Fact) error
	CreateAuditEntry(ctx context.Context, entry *stores.AuditEntry) error
}

// Components are the collaborators a Workflow drives.
type Components struct {
	Probe     StateProbe
	Lifecycle Lifecycle
	Packages  PackageManager
	Users     UserProvisioner

	// Network is optional; nil disables network configuration.
	Network NetworkConfigurator

	// Dotfiles is optional; nil disables the bootstrap.
	Dotfiles dotfiles.Bootstrapper

	Prompter prompt.Prompter
}
