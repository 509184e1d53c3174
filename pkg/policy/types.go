package policy

import (
	"fmt"
	"time"

	"github.com/openfroyo/wslprov/pkg/config"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the run.
	SeverityError Severity = "error"

	// SeverityCritical blocks the run.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of severity s rejects the run.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. Its deny set produces violations.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	Tags []string `json:"tags,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	Severity Severity `json:"severity"`

	// Remediation provides a suggested fix.
	Remediation string `json:"remediation,omitempty"`
}

func (v Violation) String() string {
	s := fmt.Sprintf("%s: %s", v.Policy, v.Message)
	if v.Remediation != "" {
		s += " (" + v.Remediation + ")"
	}
	return s
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed is false when any blocking violation was found.
	Allowed bool `json:"allowed"`

	// Violations are the blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings are non-blocking violations and policies that failed to
	// evaluate.
	Warnings []Violation `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// Input is the document policies see as input.
type Input struct {
	// Mode is "fresh" or "converge".
	Mode string `json:"mode"`

	// Actor is the operator starting the run.
	Actor string `json:"actor,omitempty"`

	Distro     string   `json:"distro"`
	Image      string   `json:"image"`
	Username   string   `json:"username"`
	Shell      string   `json:"shell"`
	AdminGroup string   `json:"admin_group"`
	Packages   []string `json:"packages"`

	Network  NetworkInput  `json:"network"`
	Dotfiles DotfilesInput `json:"dotfiles"`
}

// NetworkInput is the network section of Input.
type NetworkInput struct {
	Enabled       bool   `json:"enabled"`
	HostPort      int    `json:"host_port"`
	ListenAddress string `json:"listen_address"`
	KeyPath       string `json:"key_path,omitempty"`
}

// DotfilesInput is the dotfiles section of Input.
type DotfilesInput struct {
	Enabled bool   `json:"enabled"`
	Repo    string `json:"repo,omitempty"`
}

// InputFor builds the policy input of a run of cfg started by actor.
func InputFor(cfg config.WorkflowConfig, actor string) Input {
	return Input{
		Mode:       cfg.Mode(),
		Actor:      actor,
		Distro:     cfg.Name,
		Image:      cfg.Image,
		Username:   cfg.Username,
		Shell:      cfg.Shell,
		AdminGroup: cfg.AdminGroup,
		Packages:   append([]string{}, cfg.Packages...),
		Network: NetworkInput{
			Enabled:       cfg.Network.Enabled,
			HostPort:      cfg.Network.HostPort,
			ListenAddress: cfg.Network.ListenAddress,
			KeyPath:       cfg.Network.KeyPath,
		},
		Dotfiles: DotfilesInput{
			Enabled: cfg.Dotfiles.Enabled,
			Repo:    cfg.Dotfiles.Repo,
		},
	}
}
