package guest

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		fatal       bool
		recoverable bool
		advisory    bool
	}{
		{
			name:  "fatal",
			err:   NewFatalError("environment never became ready", nil),
			fatal: true,
		},
		{
			name:        "recoverable",
			err:         NewRecoverableError("system update failed", nil),
			recoverable: true,
		},
		{
			name:     "advisory",
			err:      NewAdvisoryError("verification mismatch", nil),
			advisory: true,
		},
		{
			name:  "wrapped fatal",
			err:   fmt.Errorf("fresh flow: %w", NewFatalError("not registered", nil)),
			fatal: true,
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal = %v, expected %v", got, tt.fatal)
			}
			if got := IsRecoverable(tt.err); got != tt.recoverable {
				t.Errorf("IsRecoverable = %v, expected %v", got, tt.recoverable)
			}
			if got := IsAdvisory(tt.err); got != tt.advisory {
				t.Errorf("IsAdvisory = %v, expected %v", got, tt.advisory)
			}
		})
	}
}

func TestErrorMessageAndIs(t *testing.T) {
	cause := errors.New("exit status 1")
	err := NewFatalError("keyring initialization failed", cause).
		WithDistro("arch").
		WithOperation("pacman-key").
		WithCode(ErrCodeKeyring)

	msg := err.Error()
	for _, want := range []string{"[fatal]", "distro=arch", "operation=pacman-key", "exit status 1"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}

	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable through Unwrap")
	}
	if !errors.Is(err, &Error{Class: ErrorClassFatal, Code: ErrCodeKeyring}) {
		t.Error("expected Is to match class and code")
	}
	if CodeOf(fmt.Errorf("wrap: %w", err)) != ErrCodeKeyring {
		t.Error("expected CodeOf to find the wrapped code")
	}
}
