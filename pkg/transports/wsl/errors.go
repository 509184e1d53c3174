package wsl

import "fmt"

// TransportError represents a failure to run a command at all, as opposed to
// a command that ran and exited non-zero.
type TransportError struct {
	Op     string
	Distro string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Distro != "" {
		return fmt.Sprintf("wsl %s (distro=%s): %v", e.Op, e.Distro, e.Err)
	}
	return fmt.Sprintf("wsl %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
