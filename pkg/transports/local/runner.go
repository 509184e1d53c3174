// Package local runs processes on the control host.
//
// It is the lowest layer of the provisioner: every guest command, every
// management call to wsl.exe and every host network change ends up here.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"
)

// ExecResult represents the result of a single process execution.
type ExecResult struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

// Succeeded reports whether the process exited with status zero.
func (r *ExecResult) Succeeded() bool {
	return r != nil && r.ExitCode == 0
}

// Runner starts processes on the control host.
//
// Run captures output; a non-zero exit status is reported through
// ExecResult.ExitCode, not as an error. An error means the process could
// not be run at all. RunAttached connects the process to the caller's
// terminal for steps where a human answers prompts.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (*ExecResult, error)
	RunAttached(ctx context.Context, name string, args ...string) error
}

// ProcessRunner is the os/exec backed Runner.
type ProcessRunner struct {
	// Env is appended to the inherited environment of every process.
	Env []string
}

// NewProcessRunner creates a runner that inherits the current environment.
func NewProcessRunner() *ProcessRunner {
	return &ProcessRunner{}
}

// Run executes name with args and captures stdout and stderr.
func (p *ProcessRunner) Run(ctx context.Context, name string, args ...string) (*ExecResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(p.Env) > 0 {
		cmd.Env = append(os.Environ(), p.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	result := &ExecResult{StartedAt: time.Now()}
	err := cmd.Run()
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	log.Debug().
		Str("command", name).
		Strs("args", args).
		Int("stdout_len", len(result.Stdout)).
		Int("stderr_len", len(result.Stderr)).
		Dur("duration", result.Duration).
		Err(err).
		Msg("process completed")

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("failed to execute %s: %w", name, err)
	}

	return result, nil
}

// RunAttached executes name with the caller's stdin, stdout and stderr.
func (p *ProcessRunner) RunAttached(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(p.Env) > 0 {
		cmd.Env = append(os.Environ(), p.Env...)
	}
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	log.Debug().
		Str("command", name).
		Strs("args", args).
		Msg("starting attached process")

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%s exited with code %d", name, exitErr.ExitCode())
		}
		return fmt.Errorf("failed to execute %s: %w", name, err)
	}
	return nil
}
