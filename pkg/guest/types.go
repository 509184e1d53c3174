package guest

import "time"

// LifecycleState represents where a guest environment is in its lifecycle.
type LifecycleState string

const (
	// StateAbsent means the management layer does not know the environment.
	StateAbsent LifecycleState = "absent"

	// StateRegistered means the environment exists but does not answer yet.
	StateRegistered LifecycleState = "registered"

	// StateReady means both the management layer and the guest shell respond.
	StateReady LifecycleState = "ready"
)

// Environment is the managed guest distribution.
type Environment struct {
	// Name identifies the distribution to the management layer.
	Name string `json:"name" yaml:"name"`

	// Image is the template reference; only meaningful at creation.
	Image string `json:"image,omitempty" yaml:"image,omitempty"`

	State LifecycleState `json:"state" yaml:"state"`
}

// PrincipalAccount is the primary non-root account inside the guest.
type PrincipalAccount struct {
	Username         string   `json:"username" yaml:"username"`
	Exists           bool     `json:"exists" yaml:"exists"`
	UID              string   `json:"uid,omitempty" yaml:"uid,omitempty"`
	Groups           []string `json:"groups,omitempty" yaml:"groups,omitempty"`
	InAdminGroup     bool     `json:"in_admin_group" yaml:"in_admin_group"`
	PasswordlessSudo bool     `json:"passwordless_sudo" yaml:"passwordless_sudo"`
	HomeExists       bool     `json:"home_exists" yaml:"home_exists"`
}

// PackageManagerState is computed on demand and never persisted.
type PackageManagerState struct {
	SudoAvailable        bool     `json:"sudo_available" yaml:"sudo_available"`
	KeyringInitialized   bool     `json:"keyring_initialized" yaml:"keyring_initialized"`
	AllPackagesInstalled bool     `json:"all_packages_installed" yaml:"all_packages_installed"`
	RequiredPackages     []string `json:"required_packages" yaml:"required_packages"`
	MissingPackages      []string `json:"missing_packages" yaml:"missing_packages"`
}

// NetworkAccessConfig describes how the guest's remote-access service is
// reached from outside the control host.
type NetworkAccessConfig struct {
	// GuestAddress is ephemeral and re-derived on every run.
	GuestAddress  string    `json:"guest_address" yaml:"guest_address"`
	GuestPort     int       `json:"guest_port" yaml:"guest_port"`
	HostPort      int       `json:"host_port" yaml:"host_port"`
	ListenAddress string    `json:"listen_address" yaml:"listen_address"`
	ForwardingSet bool      `json:"forwarding_set" yaml:"forwarding_set"`
	FirewallRule  string    `json:"firewall_rule,omitempty" yaml:"firewall_rule,omitempty"`
	ConfiguredAt  time.Time `json:"configured_at" yaml:"configured_at"`

	// LoginVerified is set once a key login through the forwarded port
	// succeeded. HostKeyFingerprint is the guest host key seen then.
	LoginVerified      bool   `json:"login_verified" yaml:"login_verified"`
	HostKeyFingerprint string `json:"host_key_fingerprint,omitempty" yaml:"host_key_fingerprint,omitempty"`
}
