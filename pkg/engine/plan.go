package engine

import (
	"github.com/openfroyo/wslprov/pkg/guest"
)

// PackageAction is what the tail does with the package manager.
type PackageAction string

const (
	// PackagesNone leaves the package manager alone.
	PackagesNone PackageAction = "none"

	// PackagesTopUp installs only the missing packages.
	PackagesTopUp PackageAction = "top-up"

	// PackagesInitialize sets up the keyring, updates and installs.
	PackagesInitialize PackageAction = "initialize"
)

// Plan lists the mutating steps the shared tail still has to perform.
type Plan struct {
	Packages PackageAction `json:"packages"`

	// Missing is the package delta observed while planning.
	Missing []string `json:"missing,omitempty"`

	CreateUser bool `json:"create_user"`
	Grant      bool `json:"grant"`

	// Restart applies boot-time configuration written by Grant.
	Restart bool `json:"restart"`
}

// FreshPlan runs every step.
func FreshPlan() Plan {
	return Plan{
		Packages:   PackagesInitialize,
		CreateUser: true,
		Grant:      true,
		Restart:    true,
	}
}

// PlanConverge derives the deltas for an existing environment. A user who
// cannot sudo hides the keyring and package state from CheckStatus, so that
// case falls back to a full, idempotent initialization.
func PlanConverge(status guest.PackageManagerState, userExists bool) Plan {
	p := Plan{Packages: PackagesNone}

	switch {
	case !status.SudoAvailable, !status.KeyringInitialized:
		p.Packages = PackagesInitialize
	case !status.AllPackagesInstalled:
		p.Packages = PackagesTopUp
		p.Missing = append([]string(nil), status.MissingPackages...)
	}

	p.CreateUser = !userExists
	p.Grant = !userExists || !status.SudoAvailable
	p.Restart = p.Grant
	return p
}

// Empty returns true if nothing needs to change.
func (p Plan) Empty() bool {
	return p.Packages == PackagesNone && !p.CreateUser && !p.Grant && !p.Restart
}
