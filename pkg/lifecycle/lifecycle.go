// Package lifecycle creates, removes, waits for and terminates guest
// environments.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/openfroyo/wslprov/pkg/guest"
	"github.com/openfroyo/wslprov/pkg/probe"
	"github.com/openfroyo/wslprov/pkg/telemetry"
	"github.com/openfroyo/wslprov/pkg/transports/wsl"
	"github.com/rs/zerolog/log"
)

// WaitPolicy bounds a readiness wait.
type WaitPolicy struct {
	MaxAttempts  int
	Delay        time.Duration
	InitialGrace time.Duration
}

// DefaultWaitPolicy polls every 5s up to 30 times after a 5s grace period.
func DefaultWaitPolicy() WaitPolicy {
	return WaitPolicy{
		MaxAttempts:  30,
		Delay:        5 * time.Second,
		InitialGrace: 5 * time.Second,
	}
}

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitResult reports how a readiness wait ended.
type WaitResult struct {
	Ready    bool
	Attempts int
}

// Manager implements the guest lifecycle operations.
type Manager struct {
	exec  wsl.Executor
	probe *probe.Probe
	sink  telemetry.Sink
	sleep SleepFunc

	// ready remembers environments that passed a wait since they were last
	// installed, removed or terminated.
	mu    sync.Mutex
	ready map[string]bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithSink sets the status sink.
func WithSink(sink telemetry.Sink) Option {
	return func(m *Manager) { m.sink = sink }
}

// WithSleep replaces the sleep function.
func WithSleep(sleep SleepFunc) Option {
	return func(m *Manager) { m.sleep = sleep }
}

// NewManager creates a lifecycle manager.
func NewManager(exec wsl.Executor, p *probe.Probe, opts ...Option) *Manager {
	m := &Manager{
		exec:  exec,
		probe: p,
		sink:  telemetry.Discard,
		sleep: Sleep,
		ready: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureFeatures verifies the management layer answers and makes version 2
// the default for new environments.
func (m *Manager) EnsureFeatures(ctx context.Context) error {
	status, err := m.exec.Manage(ctx, "--status")
	if err != nil || !status.Succeeded() {
		cause := err
		if cause == nil {
			cause = fmt.Errorf("exit code %d: %s", status.ExitCode, status.Output)
		}
		return guest.NewFatalError("WSL management layer is not available", cause).
			WithOperation("status").
			WithCode(guest.ErrCodeUnavailable)
	}

	result, err := m.exec.Manage(ctx, "--set-default-version", "2")
	if err != nil || !result.Succeeded() {
		// Older builds reject the flag when version 2 is already the default.
		log.Warn().Err(err).Msg("Could not set default WSL version to 2")
	}

	return nil
}

// Install creates name from image. An existing environment with the same
// name is removed first; no state of the previous instance survives.
func (m *Manager) Install(ctx context.Context, image, name string) error {
	if m.probe.EnvironmentExists(ctx, name) {
		log.Info().Str("distro", name).Msg("Removing existing environment before fresh install")
		if err := m.Remove(ctx, name); err != nil {
			return err
		}
	}

	if m.probe.EnvironmentExists(ctx, name) {
		return guest.NewFatalError("environment is still registered before install", nil).
			WithDistro(name).
			WithOperation("install").
			WithCode(guest.ErrCodeNotRegistered)
	}

	log.Info().Str("distro", name).Str("image", image).Msg("Installing environment")

	result, err := m.exec.Manage(ctx, "--install", image, "--name", name, "--no-launch")
	if err != nil {
		return guest.NewFatalError("install command failed", err).
			WithDistro(name).
			WithOperation("install").
			WithCode(guest.ErrCodeNotRegistered)
	}
	if !result.Succeeded() {
		log.Error().
			Str("distro", name).
			Int("exit_code", result.ExitCode).
			Str("output", result.Output).
			Msg("Install command reported a failure")
		return guest.NewFatalError(fmt.Sprintf("install command exited with code %d: %s", result.ExitCode, strings.TrimSpace(result.Output)), nil).
			WithDistro(name).
			WithOperation("install").
			WithCode(guest.ErrCodeNotRegistered)
	}

	m.forget(name)

	if !m.probe.EnvironmentExists(ctx, name) {
		return guest.NewFatalError("environment is not registered after install", nil).
			WithDistro(name).
			WithOperation("install").
			WithCode(guest.ErrCodeNotRegistered)
	}

	log.Info().Str("distro", name).Msg("Environment registered")
	return nil
}

// Remove unregisters name and destroys its filesystem.
func (m *Manager) Remove(ctx context.Context, name string) error {
	result, err := m.exec.Manage(ctx, "--unregister", name)
	m.forget(name)
	if err != nil {
		return guest.NewFatalError("unregister command failed", err).
			WithDistro(name).
			WithOperation("unregister")
	}
	if !result.Succeeded() {
		return guest.NewFatalError(fmt.Sprintf("unregister exited with code %d: %s", result.ExitCode, result.Output), nil).
			WithDistro(name).
			WithOperation("unregister")
	}

	log.Info().Str("distro", name).Msg("Environment removed")
	return nil
}

// Terminate stops name so configuration read at boot takes effect on the
// next start.
func (m *Manager) Terminate(ctx context.Context, name string) error {
	result, err := m.exec.Manage(ctx, "--terminate", name)
	m.forget(name)
	if err != nil {
		return fmt.Errorf("failed to terminate %s: %w", name, err)
	}
	if !result.Succeeded() {
		return fmt.Errorf("terminate exited with code %d: %s", result.ExitCode, result.Output)
	}

	log.Info().Str("distro", name).Msg("Environment terminated")
	return nil
}

// WaitUntilReady polls until both the management layer and a guest shell
// answer, or policy.MaxAttempts is exhausted. An environment that already
// passed a wait is confirmed with a single attempt and no grace period.
func (m *Manager) WaitUntilReady(ctx context.Context, name string, policy WaitPolicy) (*WaitResult, error) {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	if m.known(name) {
		if m.check(ctx, name) {
			m.report(name, 1, policy, true)
			return &WaitResult{Ready: true, Attempts: 1}, nil
		}
		m.forget(name)
	}

	if err := m.sleep(ctx, policy.InitialGrace); err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		ready := m.check(ctx, name)
		m.report(name, attempt, policy, ready)

		if ready {
			m.remember(name)
			return &WaitResult{Ready: true, Attempts: attempt}, nil
		}

		if attempt < policy.MaxAttempts {
			if err := m.sleep(ctx, policy.Delay); err != nil {
				return nil, err
			}
		}
	}

	return &WaitResult{Ready: false, Attempts: policy.MaxAttempts}, nil
}

func (m *Manager) check(ctx context.Context, name string) bool {
	if !m.probe.EnvironmentReady(ctx, name) {
		return false
	}
	return m.probe.ShellResponds(ctx, name)
}

func (m *Manager) report(name string, attempt int, policy WaitPolicy, ready bool) {
	remaining := time.Duration(policy.MaxAttempts-attempt) * policy.Delay
	msg := fmt.Sprintf("Waiting for %s: attempt %d of %d (up to %s remaining)", name, attempt, policy.MaxAttempts, remaining)
	if ready {
		msg = fmt.Sprintf("%s is ready after %d attempt(s)", name, attempt)
	}

	_ = m.sink.Publish(telemetry.Event{
		Type:    telemetry.EventTypeWaitProgress,
		Source:  "lifecycle",
		Distro:  name,
		Message: msg,
		Data: map[string]interface{}{
			"attempt":      attempt,
			"max_attempts": policy.MaxAttempts,
			"remaining":    remaining.String(),
			"ready":        ready,
		},
	})
}

func (m *Manager) known(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready[name]
}

func (m *Manager) remember(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready[name] = true
}

func (m *Manager) forget(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ready, name)
}
