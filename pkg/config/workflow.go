package config

import (
	"time"

	"github.com/openfroyo/wslprov/pkg/telemetry"
)

// WorkflowConfig is the complete input of a provisioning run. It is built
// once by Build before any side effect and passed by value afterwards.
type WorkflowConfig struct {
	// Image is the distribution image to install (e.g., "archlinux").
	Image string `yaml:"image" validate:"required"`

	// Name is the WSL distribution name.
	Name string `yaml:"name" validate:"required,distro_name"`

	// Username is the primary non-root account.
	Username string `yaml:"username" validate:"required,linux_username,ne=root"`

	// Shell is the login shell of the account.
	Shell string `yaml:"shell" validate:"required,startswith=/"`

	// AdminGroup receives the passwordless sudo rule.
	AdminGroup string `yaml:"admin_group" validate:"required,linux_username"`

	// Fresh destroys and recreates the distribution instead of converging it.
	Fresh bool `yaml:"fresh"`

	// NonInteractive answers every prompt with its default.
	NonInteractive bool `yaml:"non_interactive"`

	// Packages must be installed in the guest.
	Packages []string `yaml:"packages" validate:"dive,required"`

	Wait      WaitConfig      `yaml:"wait"`
	Dotfiles  DotfilesConfig  `yaml:"dotfiles"`
	Network   NetworkConfig   `yaml:"network"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// StorePath is the SQLite run journal. Empty disables the journal.
	StorePath string `yaml:"store_path"`

	// Policies are Rego files or directories evaluated before a run starts,
	// in addition to the built-in policies.
	Policies []string `yaml:"policies"`

	// DisabledPolicies names policies that are not evaluated.
	DisabledPolicies []string `yaml:"disabled_policies"`
}

// WaitConfig bounds readiness polling.
type WaitConfig struct {
	MaxAttempts  int           `yaml:"max_attempts" validate:"min=1"`
	Delay        time.Duration `yaml:"delay"`
	InitialGrace time.Duration `yaml:"initial_grace"`
}

// DotfilesConfig controls the chezmoi bootstrap.
type DotfilesConfig struct {
	Enabled bool `yaml:"enabled"`

	// Repo is a chezmoi init argument: a GitHub user name or a repository URL.
	Repo string `yaml:"repo" validate:"required_if=Enabled true"`

	// Name and Email are handed to the dotfile templates.
	Name  string `yaml:"name"`
	Email string `yaml:"email" validate:"omitempty,email"`
}

// NetworkConfig controls host port forwarding to the guest's sshd.
type NetworkConfig struct {
	Enabled bool `yaml:"enabled"`

	HostPort      int    `yaml:"host_port" validate:"min=1,max=65535"`
	ListenAddress string `yaml:"listen_address" validate:"required,ip4_addr"`

	// KeyPath is a private key whose public half is authorized for the
	// user. It is generated when missing. Empty skips key installation.
	KeyPath string `yaml:"key_path" validate:"required_if=VerifyLogin true"`

	// VerifyLogin logs in with KeyPath through the forwarded port.
	VerifyLogin bool `yaml:"verify_login"`

	// KnownHosts, when set, must list the guest's host key for the login
	// check to pass.
	KnownHosts string `yaml:"known_hosts"`
}

// TelemetryConfig controls logging, metrics and tracing output.
type TelemetryConfig struct {
	LogLevel      string `yaml:"log_level" validate:"oneof=trace debug info warn error"`
	LogFormat     string `yaml:"log_format" validate:"oneof=console json"`
	MetricsFile   string `yaml:"metrics_file"`
	TraceExporter string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	TraceEndpoint string `yaml:"trace_endpoint" validate:"required_if=TraceExporter otlp"`
}

// Default returns the configuration used when nothing is specified.
func Default() WorkflowConfig {
	return WorkflowConfig{
		Image:      "archlinux",
		Name:       "archlinux",
		Username:   "dev",
		Shell:      "/bin/bash",
		AdminGroup: "wheel",
		Packages:   []string{"sudo", "base-devel", "git", "curl", "openssh", "vim"},
		Wait: WaitConfig{
			MaxAttempts:  30,
			Delay:        5 * time.Second,
			InitialGrace: 5 * time.Second,
		},
		Network: NetworkConfig{
			HostPort:      2222,
			ListenAddress: "0.0.0.0",
		},
		Telemetry: TelemetryConfig{
			LogLevel:      "info",
			LogFormat:     "console",
			TraceExporter: "none",
		},
	}
}

// Mode names the entry flow selected by Fresh.
func (c WorkflowConfig) Mode() string {
	if c.Fresh {
		return "fresh"
	}
	return "converge"
}

// Clone returns a copy that shares no slices with c.
func (c WorkflowConfig) Clone() WorkflowConfig {
	out := c
	out.Packages = append([]string(nil), c.Packages...)
	out.Policies = append([]string(nil), c.Policies...)
	out.DisabledPolicies = append([]string(nil), c.DisabledPolicies...)
	return out
}

// TelemetryConfig maps the run settings onto the telemetry package.
func (c WorkflowConfig) TelemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Logging.Level = c.Telemetry.LogLevel
	cfg.Logging.Format = c.Telemetry.LogFormat
	cfg.Metrics.TextfilePath = c.Telemetry.MetricsFile
	cfg.Tracing.Exporter = c.Telemetry.TraceExporter
	if c.Telemetry.TraceEndpoint != "" {
		cfg.Tracing.Endpoint = c.Telemetry.TraceEndpoint
	}
	return cfg
}
