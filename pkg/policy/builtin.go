package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		sudoPackagePolicy(),
		networkExposurePolicy(),
		networkKeyPolicy(),
		dotfilesTransportPolicy(),
	}
}

// sudoPackagePolicy rejects runs whose package list cannot provide sudo.
func sudoPackagePolicy() Policy {
	return Policy{
		Name:        "sudo-package",
		Description: "The package list must include sudo",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"privileges"},
		Rego: `package wslprov.policies.sudo

import rego.v1

deny contains violation if {
	not "sudo" in input.packages
	violation := {
		"message": "packages must include sudo; administrative rights are granted through it",
		"remediation": "add sudo to packages",
	}
}
`,
	}
}

// networkExposurePolicy warns when forwarding listens on every interface.
func networkExposurePolicy() Policy {
	return Policy{
		Name:        "network-exposure",
		Description: "Warns when the forwarded port is reachable from other machines",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"network"},
		Rego: `package wslprov.policies.network_exposure

import rego.v1

deny contains violation if {
	input.network.enabled
	input.network.listen_address == "0.0.0.0"
	violation := {
		"message": sprintf("host port %d is forwarded on all interfaces", [input.network.host_port]),
		"remediation": "set network.listen_address to 127.0.0.1 for local-only access",
	}
}
`,
	}
}

// networkKeyPolicy warns when forwarding is set up without a key.
func networkKeyPolicy() Policy {
	return Policy{
		Name:        "network-key",
		Description: "Warns when SSH forwarding is enabled without an authorized key",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"network", "ssh"},
		Rego: `package wslprov.policies.network_key

import rego.v1

deny contains violation if {
	input.network.enabled
	not input.network.key_path
	violation := {
		"message": sprintf("no key is authorized for %s; logins need a password", [input.username]),
		"remediation": "set network.key_path",
	}
}
`,
	}
}

// dotfilesTransportPolicy warns about dotfiles fetched over plain HTTP.
func dotfilesTransportPolicy() Policy {
	return Policy{
		Name:        "dotfiles-transport",
		Description: "Warns when the dotfile repository is fetched without TLS",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"dotfiles"},
		Rego: `package wslprov.policies.dotfiles_transport

import rego.v1

deny contains violation if {
	input.dotfiles.enabled
	startswith(input.dotfiles.repo, "http://")
	violation := {
		"message": sprintf("dotfile repository %s is fetched over plain HTTP", [input.dotfiles.repo]),
		"remediation": "use an https:// or git@ repository URL",
	}
}
`,
	}
}
