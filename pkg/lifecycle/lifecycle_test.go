package lifecycle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/wslprov/internal/testutil"
	"github.com/openfroyo/wslprov/pkg/guest"
	"github.com/openfroyo/wslprov/pkg/probe"
	"github.com/openfroyo/wslprov/pkg/telemetry"
	"github.com/openfroyo/wslprov/pkg/transports/wsl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleep struct {
	calls []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.calls = append(r.calls, d)
	return nil
}

func newTestManager(exec *testutil.FakeExecutor, sink telemetry.Sink) (*Manager, *recordingSleep) {
	rs := &recordingSleep{}
	if sink == nil {
		sink = telemetry.Discard
	}
	return NewManager(exec, probe.New(exec), WithSleep(rs.sleep), WithSink(sink)), rs
}

// registry simulates the management layer's list of environments.
type registry struct {
	names map[string]bool
}

func (r *registry) install(exec *testutil.FakeExecutor) {
	exec.On("--list --quiet", func(testutil.Call) (*wsl.Result, error) {
		var lines []string
		for name := range r.names {
			lines = append(lines, name)
		}
		return testutil.OK(strings.Join(lines, "\n")), nil
	})
	exec.On("--install", func(call testutil.Call) (*wsl.Result, error) {
		fields := strings.Fields(call.Command)
		for i, f := range fields {
			if f == "--name" && i+1 < len(fields) {
				r.names[fields[i+1]] = true
			}
		}
		return testutil.OK(""), nil
	})
	exec.On("--unregister", func(call testutil.Call) (*wsl.Result, error) {
		fields := strings.Fields(call.Command)
		delete(r.names, fields[len(fields)-1])
		return testutil.OK("The operation completed successfully."), nil
	})
}

func TestInstallRegistersEnvironment(t *testing.T) {
	exec := testutil.NewFakeExecutor()
	reg := &registry{names: map[string]bool{}}
	reg.install(exec)
	m, _ := newTestManager(exec, nil)

	require.NoError(t, m.Install(context.Background(), "archlinux", "dev"))
	assert.True(t, probe.New(exec).EnvironmentExists(context.Background(), "dev"))
	assert.Equal(t, 0, exec.Count("--unregister"))
}

func TestInstallRemovesExistingEnvironmentFirst(t *testing.T) {
	exec := testutil.NewFakeExecutor()
	reg := &registry{names: map[string]bool{"dev": true}}
	reg.install(exec)
	m, _ := newTestManager(exec, nil)

	require.NoError(t, m.Install(context.Background(), "archlinux", "dev"))

	var order []string
	for _, cmd := range exec.Commands() {
		switch {
		case strings.HasPrefix(cmd, "--unregister"):
			order = append(order, "unregister")
		case strings.HasPrefix(cmd, "--install"):
			order = append(order, "install")
		}
	}
	assert.Equal(t, []string{"unregister", "install"}, order)
	assert.True(t, reg.names["dev"])
}

func TestInstallFailsWhenNotRegistered(t *testing.T) {
	exec := testutil.NewFakeExecutor()
	exec.OnOutput("--list --quiet", "Ubuntu")
	m, _ := newTestManager(exec, nil)

	err := m.Install(context.Background(), "archlinux", "dev")
	require.Error(t, err)
	assert.True(t, guest.IsFatal(err))
	assert.Equal(t, guest.ErrCodeNotRegistered, guest.CodeOf(err))
}

func TestInstallDoesNotReuseExistingEnvironment(t *testing.T) {
	exec := testutil.NewFakeExecutor()
	lists := 0
	exec.On("--list --quiet", func(testutil.Call) (*wsl.Result, error) {
		lists++
		if lists == 1 {
			return testutil.Exit(1, "Wsl/Service/0x8007274c"), nil
		}
		return testutil.OK("dev"), nil
	})
	exec.OnExit("--install", 1, "A distribution with the supplied name already exists.")
	m, _ := newTestManager(exec, nil)

	err := m.Install(context.Background(), "archlinux", "dev")
	require.Error(t, err)
	assert.True(t, guest.IsFatal(err))
	assert.Equal(t, guest.ErrCodeNotRegistered, guest.CodeOf(err))
	assert.Zero(t, exec.Count("--install"))
}

func TestInstallFailsWhenCreateExitsNonZero(t *testing.T) {
	exec := testutil.NewFakeExecutor()
	reg := &registry{names: map[string]bool{}}
	reg.install(exec)
	exec.On("--install", func(call testutil.Call) (*wsl.Result, error) {
		reg.names["dev"] = true
		return testutil.Exit(1, "A distribution with the supplied name already exists."), nil
	})
	m, _ := newTestManager(exec, nil)

	err := m.Install(context.Background(), "archlinux", "dev")
	require.Error(t, err)
	assert.True(t, guest.IsFatal(err))
	assert.Equal(t, guest.ErrCodeNotRegistered, guest.CodeOf(err))
	assert.Contains(t, err.Error(), "already exists")
}

func TestRemoveReportsFailure(t *testing.T) {
	exec := testutil.NewFakeExecutor()
	exec.OnExit("--unregister", 1, "There is no distribution with the supplied name.")
	m, _ := newTestManager(exec, nil)

	err := m.Remove(context.Background(), "dev")
	require.Error(t, err)
	assert.True(t, guest.IsFatal(err))
}

func TestEnsureFeatures(t *testing.T) {
	t.Run("available", func(t *testing.T) {
		exec := testutil.NewFakeExecutor()
		exec.OnOutput("--status", "Default Version: 2")
		m, _ := newTestManager(exec, nil)

		require.NoError(t, m.EnsureFeatures(context.Background()))
		assert.Equal(t, 1, exec.Count("--set-default-version 2"))
	})

	t.Run("management layer missing", func(t *testing.T) {
		exec := testutil.NewFakeExecutor()
		exec.OnError("--status", errors.New("executable file not found"))
		m, _ := newTestManager(exec, nil)

		err := m.EnsureFeatures(context.Background())
		require.Error(t, err)
		assert.Equal(t, guest.ErrCodeUnavailable, guest.CodeOf(err))
	})

	t.Run("default version rejected is not fatal", func(t *testing.T) {
		exec := testutil.NewFakeExecutor()
		exec.OnExit("--set-default-version", 1, "unsupported")
		m, _ := newTestManager(exec, nil)

		assert.NoError(t, m.EnsureFeatures(context.Background()))
	})
}

func readyAfter(exec *testutil.FakeExecutor, attempts int) *int {
	n := 0
	exec.On("--exec echo ready", func(testutil.Call) (*wsl.Result, error) {
		n++
		if n >= attempts {
			return testutil.OK("ready"), nil
		}
		return testutil.Exit(1, "Catastrophic failure"), nil
	})
	exec.OnOutput("echo shell-ok", "shell-ok")
	return &n
}

func TestWaitUntilReady(t *testing.T) {
	exec := testutil.NewFakeExecutor()
	readyAfter(exec, 3)
	publisher := telemetry.NewEventPublisher(telemetry.EventsConfig{History: 10})
	m, rs := newTestManager(exec, publisher)

	policy := WaitPolicy{MaxAttempts: 5, Delay: 2 * time.Second, InitialGrace: time.Second}
	result, err := m.WaitUntilReady(context.Background(), "dev", policy)
	require.NoError(t, err)
	assert.True(t, result.Ready)
	assert.Equal(t, 3, result.Attempts)

	// grace, then a delay after each of the two failed attempts
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 2 * time.Second}, rs.calls)

	history := publisher.History()
	require.Len(t, history, 3)
	assert.Equal(t, telemetry.EventTypeWaitProgress, history[0].Type)
	assert.Equal(t, 1, history[0].Data["attempt"])
	assert.Equal(t, "8s", history[0].Data["remaining"])
	assert.Equal(t, true, history[2].Data["ready"])
}

func TestWaitUntilReadyRequiresShell(t *testing.T) {
	exec := testutil.NewFakeExecutor()
	exec.OnOutput("--exec echo ready", "ready")
	exec.OnExit("echo shell-ok", 1, "")
	m, _ := newTestManager(exec, nil)

	result, err := m.WaitUntilReady(context.Background(), "dev", WaitPolicy{MaxAttempts: 3})
	require.NoError(t, err)
	assert.False(t, result.Ready)
	assert.Equal(t, 3, result.Attempts)
}

func TestWaitUntilReadyExhausted(t *testing.T) {
	exec := testutil.NewFakeExecutor()
	exec.OnExit("--exec echo ready", 1, "")
	m, rs := newTestManager(exec, nil)

	result, err := m.WaitUntilReady(context.Background(), "dev", WaitPolicy{MaxAttempts: 4, Delay: time.Second})
	require.NoError(t, err)
	assert.False(t, result.Ready)
	assert.Equal(t, 4, exec.Count("--exec echo ready"))
	// grace plus three delays; none after the final attempt
	assert.Len(t, rs.calls, 4)
}

func TestWaitUntilReadyIsMonotonic(t *testing.T) {
	exec := testutil.NewFakeExecutor()
	readyAfter(exec, 2)
	m, rs := newTestManager(exec, nil)
	policy := WaitPolicy{MaxAttempts: 5, Delay: time.Second, InitialGrace: time.Second}

	first, err := m.WaitUntilReady(context.Background(), "dev", policy)
	require.NoError(t, err)
	require.True(t, first.Ready)

	exec.Reset()
	rs.calls = nil

	second, err := m.WaitUntilReady(context.Background(), "dev", policy)
	require.NoError(t, err)
	assert.True(t, second.Ready)
	assert.Equal(t, 1, second.Attempts)
	assert.Empty(t, rs.calls)
	assert.Equal(t, 1, exec.Count("--exec echo ready"))
}

func TestTerminateClearsReadiness(t *testing.T) {
	exec := testutil.NewFakeExecutor()
	readyAfter(exec, 1)
	m, rs := newTestManager(exec, nil)
	policy := WaitPolicy{MaxAttempts: 2, Delay: time.Second, InitialGrace: 3 * time.Second}

	_, err := m.WaitUntilReady(context.Background(), "dev", policy)
	require.NoError(t, err)
	require.NoError(t, m.Terminate(context.Background(), "dev"))
	assert.Equal(t, 1, exec.Count("--terminate dev"))

	rs.calls = nil
	_, err = m.WaitUntilReady(context.Background(), "dev", policy)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{3 * time.Second}, rs.calls)
}

func TestWaitUntilReadyHonorsCancellation(t *testing.T) {
	exec := testutil.NewFakeExecutor()
	m := NewManager(exec, probe.New(exec))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.WaitUntilReady(ctx, "dev", WaitPolicy{MaxAttempts: 3, InitialGrace: time.Minute})
	assert.ErrorIs(t, err, context.Canceled)
}
