package engine

import (
	"fmt"
)

// Stage is a point the workflow has reached. Stages are only ever entered
// in the order listed below; network and dotfile stages may be skipped.
type Stage string

const (
	// StageStart is the state before any side effect.
	StageStart Stage = "start"

	// StageFeaturesReady means the management layer answers and defaults to WSL 2.
	StageFeaturesReady Stage = "features_ready"

	// StageEnvironmentReady means the guest is registered and its shell responds.
	StageEnvironmentReady Stage = "environment_ready"

	// StagePackageManagerReady means the keyring is set up and packages converged.
	StagePackageManagerReady Stage = "package_manager_ready"

	// StageUserReady means the principal account exists with admin privileges.
	StageUserReady Stage = "user_ready"

	// StageNetworkConfigured means host forwarding to the guest is in place.
	StageNetworkConfigured Stage = "network_configured"

	// StageDotfilesConfigured means the dotfile bootstrap ran.
	StageDotfilesConfigured Stage = "dotfiles_configured"

	// StageDone is the final state of a successful run.
	StageDone Stage = "done"
)

var stageOrder = []Stage{
	StageStart,
	StageFeaturesReady,
	StageEnvironmentReady,
	StagePackageManagerReady,
	StageUserReady,
	StageNetworkConfigured,
	StageDotfilesConfigured,
	StageDone,
}

// Index returns the position of s in the stage order, or -1.
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// IsTerminal returns true for the final stage.
func (s Stage) IsTerminal() bool {
	return s == StageDone
}

// IsOptional returns true for stages a run may skip.
func (s Stage) IsOptional() bool {
	return s == StageNetworkConfigured || s == StageDotfilesConfigured
}

// Validate checks if the stage is valid.
func (s Stage) Validate() error {
	if s.Index() < 0 {
		return fmt.Errorf("invalid stage: %s", s)
	}
	return nil
}

// Mode selects the entry flow.
type Mode string

const (
	// ModeFresh destroys and recreates the environment.
	ModeFresh Mode = "fresh"

	// ModeConverge repairs an existing environment.
	ModeConverge Mode = "converge"
)

// Validate checks if the mode is valid.
func (m Mode) Validate() error {
	switch m {
	case ModeFresh, ModeConverge:
		return nil
	default:
		return fmt.Errorf("invalid mode: %s", m)
	}
}

// StepOutcome is the result of a single workflow step.
type StepOutcome string

const (
	StepOK      StepOutcome = "ok"
	StepWarning StepOutcome = "warning"
	StepFailed  StepOutcome = "failed"
	StepSkipped StepOutcome = "skipped"
)
