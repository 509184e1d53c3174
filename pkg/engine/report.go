package engine

import (
	"time"

	"github.com/openfroyo/wslprov/pkg/guest"
	"github.com/openfroyo/wslprov/pkg/pkgmgr"
	"github.com/openfroyo/wslprov/pkg/users"
)

// StageRecord is a stage transition.
type StageRecord struct {
	Stage Stage     `json:"stage" yaml:"stage"`
	At    time.Time `json:"at" yaml:"at"`
}

// StepRecord is the outcome of one step.
type StepRecord struct {
	Name     string        `json:"name" yaml:"name"`
	Outcome  StepOutcome   `json:"outcome" yaml:"outcome"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Reason   string        `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Warning is a recoverable failure the run continued past.
type Warning struct {
	Stage   Stage  `json:"stage" yaml:"stage"`
	Code    string `json:"code,omitempty" yaml:"code,omitempty"`
	Message string `json:"message" yaml:"message"`
}

// Report summarizes a workflow run.
type Report struct {
	RunID    string `json:"run_id" yaml:"run_id"`
	Distro   string `json:"distro" yaml:"distro"`
	Username string `json:"username" yaml:"username"`
	Mode     Mode   `json:"mode" yaml:"mode"`

	// Stage is the last stage reached.
	Stage  Stage         `json:"stage" yaml:"stage"`
	Stages []StageRecord `json:"stages" yaml:"stages"`
	Steps  []StepRecord  `json:"steps" yaml:"steps"`
	Plan   *Plan         `json:"plan,omitempty" yaml:"plan,omitempty"`

	Warnings   []Warning `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Advisories []string  `json:"advisories,omitempty" yaml:"advisories,omitempty"`

	Packages         *pkgmgr.InitResult         `json:"-" yaml:"-"`
	Grant            *users.GrantResult         `json:"-" yaml:"-"`
	Account          *guest.PrincipalAccount    `json:"account,omitempty" yaml:"account,omitempty"`
	Network          *guest.NetworkAccessConfig `json:"network,omitempty" yaml:"network,omitempty"`
	Restarted        bool                       `json:"restarted" yaml:"restarted"`
	DotfilesVerified bool                       `json:"dotfiles_verified" yaml:"dotfiles_verified"`

	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// OK returns true if the run finished without a fatal error.
func (r *Report) OK() bool {
	return r.Error == "" && r.Stage == StageDone
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Reached returns true if the run entered s.
func (r *Report) Reached(s Stage) bool {
	for _, rec := range r.Stages {
		if rec.Stage == s {
			return true
		}
	}
	return false
}

// Step returns the record of the named step.
func (r *Report) Step(name string) (StepRecord, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepRecord{}, false
}
