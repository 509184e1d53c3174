// Package config builds the WorkflowConfig of a provisioning run.
//
// # Overview
//
// Configuration is assembled in three layers, each overriding the previous:
//
//  1. Built-in defaults (Default)
//  2. An optional YAML file
//  3. Explicit command-line flags, applied as Override functions
//
// The result is validated with go-playground/validator. Two custom tags are
// registered: linux_username for account and group names and distro_name
// for WSL distribution names.
//
// # Example File
//
//	image: archlinux
//	name: dev
//	username: alice
//	packages: [sudo, git, neovim]
//	wait:
//	  max_attempts: 30
//	  delay: 5s
//	dotfiles:
//	  enabled: true
//	  repo: alice
//	  email: alice@example.com
//	network:
//	  enabled: true
//	  host_port: 2222
//
// # Usage Example
//
//	cfg, err := config.Build("wslprov.yaml", func(c *config.WorkflowConfig) {
//	    c.Fresh = true
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Build returns a value. Components receive it, or the parts they need, as
// arguments and never read configuration from package state.
package config
