package wsl

import (
	"fmt"
	"time"
)

// Identity is the account a guest command runs as.
type Identity string

// Root is the privileged guest account.
const Root Identity = "root"

// Config holds wsl.exe invocation settings.
type Config struct {
	// Binary is the management CLI (default: wsl.exe).
	Binary string

	// Shell interprets command lines inside the guest (default: /bin/bash).
	Shell string

	// CommandTimeout bounds a single guest command. Zero disables the bound:
	// a hung guest blocks the caller until the operator stops the process.
	CommandTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Binary: "wsl.exe",
		Shell:  "/bin/bash",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Binary == "" {
		return fmt.Errorf("binary is required")
	}
	if c.Shell == "" {
		return fmt.Errorf("shell is required")
	}
	if c.CommandTimeout < 0 {
		return fmt.Errorf("command timeout must not be negative")
	}
	return nil
}
