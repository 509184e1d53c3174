// Package wsl executes commands inside a WSL guest distribution.
package wsl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/wslprov/pkg/transports/local"
	"github.com/rs/zerolog/log"
)

// Result is the normalized outcome of a guest or management command.
type Result struct {
	// Output is stdout with NUL bytes and surrounding whitespace removed.
	Output string

	// Stderr is normalized the same way as Output.
	Stderr string

	ExitCode int
	Duration time.Duration

	// Flagged is set when the output matched a FailurePatterns entry.
	Flagged bool
}

// Succeeded reports whether the command exited with status zero.
func (r *Result) Succeeded() bool {
	return r != nil && r.ExitCode == 0
}

// Executor is the command boundary every provisioning component is built on.
//
// No method retries; retry policy belongs to callers.
type Executor interface {
	// Run executes commandLine in the guest shell as identity.
	Run(ctx context.Context, distro string, identity Identity, commandLine string) (*Result, error)

	// RunQuiet is Run with output suppressed unless it looks like a failure.
	RunQuiet(ctx context.Context, distro string, identity Identity, commandLine string) (*Result, error)

	// RunInteractive executes commandLine in a login shell attached to the
	// operator's terminal.
	RunInteractive(ctx context.Context, distro string, identity Identity, commandLine string) error

	// Manage invokes the management CLI itself (list, install, terminate...).
	Manage(ctx context.Context, args ...string) (*Result, error)
}

// Client implements Executor on top of a local.Runner.
type Client struct {
	runner local.Runner
	config *Config
}

// NewClient creates a client that drives cfg.Binary through runner.
func NewClient(runner local.Runner, cfg *Config) (*Client, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid wsl config: %w", err)
	}
	return &Client{runner: runner, config: cfg}, nil
}

// Run executes commandLine inside distro as identity.
func (c *Client) Run(ctx context.Context, distro string, identity Identity, commandLine string) (*Result, error) {
	result, err := c.run(ctx, distro, identity, commandLine)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("distro", distro).
		Str("identity", string(identity)).
		Str("command", commandLine).
		Int("exit_code", result.ExitCode).
		Str("output", result.Output).
		Msg("guest command completed")

	return result, nil
}

// RunQuiet executes commandLine and stays silent unless the output matches
// the failure classifier. The classifier is a best-effort heuristic; callers
// that can inspect ExitCode should still do so.
func (c *Client) RunQuiet(ctx context.Context, distro string, identity Identity, commandLine string) (*Result, error) {
	result, err := c.run(ctx, distro, identity, commandLine)
	if err != nil {
		return nil, err
	}

	if result.Flagged {
		log.Warn().
			Str("distro", distro).
			Str("command", commandLine).
			Int("exit_code", result.ExitCode).
			Str("output", joinOutput(result)).
			Msg("guest command reported a failure")
	}

	return result, nil
}

// RunInteractive executes commandLine with the operator's terminal attached.
func (c *Client) RunInteractive(ctx context.Context, distro string, identity Identity, commandLine string) error {
	args := []string{"-d", distro, "-u", string(identity), "--exec", c.config.Shell, "-lc", commandLine}

	log.Info().
		Str("distro", distro).
		Str("identity", string(identity)).
		Msg("starting interactive guest session")

	if err := c.runner.RunAttached(ctx, c.config.Binary, args...); err != nil {
		return &TransportError{Op: "interactive", Distro: distro, Err: err}
	}
	return nil
}

// Manage invokes the management CLI with args.
func (c *Client) Manage(ctx context.Context, args ...string) (*Result, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	raw, err := c.runner.Run(ctx, c.config.Binary, args...)
	if err != nil {
		return nil, &TransportError{Op: "manage", Err: err}
	}

	result := fromExec(raw)
	log.Debug().
		Strs("args", args).
		Int("exit_code", result.ExitCode).
		Str("output", result.Output).
		Msg("management command completed")

	return result, nil
}

func (c *Client) run(ctx context.Context, distro string, identity Identity, commandLine string) (*Result, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	args := []string{"-d", distro, "-u", string(identity), "--exec", c.config.Shell, "-c", commandLine}
	raw, err := c.runner.Run(ctx, c.config.Binary, args...)
	if err != nil {
		return nil, &TransportError{Op: "execute", Distro: distro, Err: err}
	}
	return fromExec(raw), nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.CommandTimeout > 0 {
		return context.WithTimeout(ctx, c.config.CommandTimeout)
	}
	return ctx, func() {}
}

func fromExec(raw *local.ExecResult) *Result {
	result := &Result{
		Output:   Normalize(raw.Stdout),
		Stderr:   Normalize(raw.Stderr),
		ExitCode: raw.ExitCode,
		Duration: raw.Duration,
	}
	result.Flagged = LooksLikeFailure(joinOutput(result))
	return result
}

func joinOutput(r *Result) string {
	if r.Stderr == "" {
		return r.Output
	}
	if r.Output == "" {
		return r.Stderr
	}
	return r.Output + "\n" + r.Stderr
}

// Normalize strips NUL bytes (wsl.exe writes UTF-16 on some hosts) and
// surrounding whitespace.
func Normalize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\x00", ""))
}

// FailurePatterns are case-insensitive substrings that mark output as a failure.
var FailurePatterns = []string{"error:", "failed", "exception"}

// LooksLikeFailure reports whether text contains any FailurePatterns entry.
func LooksLikeFailure(text string) bool {
	lower := strings.ToLower(text)
	for _, pattern := range FailurePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
