package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/wslprov/internal/testutil"
	"github.com/openfroyo/wslprov/pkg/config"
	"github.com/openfroyo/wslprov/pkg/engine"
	"github.com/openfroyo/wslprov/pkg/guest"
	"github.com/openfroyo/wslprov/pkg/stores"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useFakes(t *testing.T, exec *testutil.FakeExecutor, prompter *testutil.FakePrompter) {
	t.Helper()
	if prompter == nil {
		prompter = &testutil.FakePrompter{}
	}
	prev := newRuntime
	newRuntime = func(config.WorkflowConfig) (*runtime, error) {
		return &runtime{exec: exec, host: testutil.NewFakeRunner(), prompter: prompter}, nil
	}
	t.Cleanup(func() { newRuntime = prev })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStatusOfMissingEnvironment(t *testing.T) {
	exec := testutil.NewFakeExecutor()
	useFakes(t, exec, nil)

	out, err := execute(t, "status", "--name", "ghost", "-o", "json")
	require.NoError(t, err)

	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "ghost", report.Environment.Name)
	assert.Equal(t, guest.StateAbsent, report.Environment.State)
	assert.Nil(t, report.Account)
	assert.Nil(t, report.Packages)

	for _, c := range exec.Commands() {
		assert.Contains(t, c, "--list", "only the registration probe may run")
	}
}

func TestStatusOfReadyEnvironment(t *testing.T) {
	exec := testutil.NewFakeExecutor()
	exec.OnOutput("--list --quiet", "dev\n")
	exec.OnOutput("--exec echo ready", "ready")
	exec.OnOutput("echo shell-ok", "shell-ok")
	exec.OnOutput("id -u", "1000")
	exec.OnOutput("id -nG", "dev wheel")
	exec.OnExit("sudo -n true", 1, "sudo: a password is required")
	useFakes(t, exec, nil)

	out, err := execute(t, "status", "--name", "dev", "-o", "json")
	require.NoError(t, err)

	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, guest.StateReady, report.Environment.State)
	require.NotNil(t, report.Account)
	assert.True(t, report.Account.Exists)
	assert.True(t, report.Account.InAdminGroup)
	assert.False(t, report.Account.PasswordlessSudo)
	require.NotNil(t, report.Packages)
	assert.False(t, report.Packages.SudoAvailable)
	assert.False(t, report.Packages.KeyringInitialized, "status stops at the first unmet precondition")
}

func TestStatusTableOutput(t *testing.T) {
	exec := testutil.NewFakeExecutor()
	useFakes(t, exec, nil)

	out, err := execute(t, "status", "--name", "ghost")
	require.NoError(t, err)
	assert.Contains(t, out, "ghost")
	assert.Contains(t, out, "absent")
}

func TestUnsupportedOutputFormat(t *testing.T) {
	useFakes(t, testutil.NewFakeExecutor(), nil)

	_, err := execute(t, "status", "-o", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}

func TestApplyConvergeRequiresEnvironment(t *testing.T) {
	exec := testutil.NewFakeExecutor()
	useFakes(t, exec, nil)
	journal := filepath.Join(t.TempDir(), "journal.db")

	out, err := execute(t, "apply", "--name", "dev", "--store", journal, "-y")
	require.Error(t, err)
	assert.Equal(t, guest.ErrCodeNotFound, guest.CodeOf(err))
	assert.Zero(t, exec.Count("--install"))
	assert.Contains(t, out, "dev")

	store, err := stores.Open(context.Background(), journal)
	require.NoError(t, err)
	defer store.Close()

	runs, err := store.ListRuns(context.Background(), "dev", 0, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, stores.RunStatusFailed, runs[0].Status)
	assert.Equal(t, "converge", runs[0].Mode)
}

func TestApplyJSONReport(t *testing.T) {
	useFakes(t, testutil.NewFakeExecutor(), nil)

	out, err := execute(t, "apply", "--name", "dev", "-y", "-o", "json")
	require.Error(t, err)

	var report engine.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, engine.ModeConverge, report.Mode)
	assert.Equal(t, engine.StageStart, report.Stage)
	assert.NotEmpty(t, report.Error)
}

func TestApplyFreshAsksBeforeReplacing(t *testing.T) {
	exec := testutil.NewFakeExecutor()
	exec.OnOutput("--list --quiet", "dev\n")
	prompter := &testutil.FakePrompter{}
	useFakes(t, exec, prompter)

	_, err := execute(t, "apply", "--fresh", "--name", "dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
	require.Len(t, prompter.Asked, 1)
	assert.Contains(t, prompter.Asked[0], "Replace environment dev")
	assert.Zero(t, exec.Count("--unregister"))
	assert.Zero(t, exec.Count("--install"))
}

func TestApplyRejectsInvalidConfiguration(t *testing.T) {
	useFakes(t, testutil.NewFakeExecutor(), nil)

	_, err := execute(t, "apply", "--user", "root")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestApplyRejectedByPolicy(t *testing.T) {
	exec := testutil.NewFakeExecutor()
	exec.OnOutput("--list --quiet", "dev\n")
	useFakes(t, exec, nil)

	_, err := execute(t, "apply", "--name", "dev", "--packages", "vim", "-y")
	require.Error(t, err)
	assert.Equal(t, guest.ErrCodeValidation, guest.CodeOf(err))
	assert.Contains(t, err.Error(), "sudo-package")
	assert.Len(t, exec.Calls(), 0)
}

func TestApplyLoadsPolicyFiles(t *testing.T) {
	dir := t.TempDir()
	rego := `# Only the dev environment may be provisioned here.
# severity: critical
package site.names

import rego.v1

deny contains msg if {
	input.distro != "dev"
	msg := sprintf("environment %s is not allowed", [input.distro])
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "names.rego"), []byte(rego), 0o644))

	exec := testutil.NewFakeExecutor()
	useFakes(t, exec, nil)

	_, err := execute(t, "apply", "--name", "prod", "--policy", dir, "-y")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "environment prod is not allowed")
	assert.Zero(t, exec.Count("--list"))
}

func TestRemoveRecordsAudit(t *testing.T) {
	exec := testutil.NewFakeExecutor()
	exec.OnOutput("--list --quiet", "dev\n")
	useFakes(t, exec, nil)
	journal := filepath.Join(t.TempDir(), "journal.db")

	ctx := context.Background()
	store, err := stores.Open(ctx, journal)
	require.NoError(t, err)
	engine.RecordFact(ctx, store, "dev", "", "network", "access", guest.NetworkAccessConfig{HostPort: 2222})
	require.NoError(t, store.Close())

	out, err := execute(t, "remove", "--name", "dev", "--yes", "--store", journal)
	require.NoError(t, err)
	assert.Contains(t, out, "dev removed")
	assert.Equal(t, 1, exec.Count("--unregister dev"))

	store, err = stores.Open(ctx, journal)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.GetFact(ctx, "dev", "network", "access")
	assert.ErrorIs(t, err, stores.ErrNotFound)

	action := "distro.removed"
	entries, err := store.ListAuditEntries(ctx, &action, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Target)
	assert.Equal(t, "dev", *entries[0].Target)
}

func TestRemoveWithoutConfirmation(t *testing.T) {
	exec := testutil.NewFakeExecutor()
	exec.OnOutput("--list --quiet", "dev\n")
	prompter := &testutil.FakePrompter{Confirms: []bool{false}}
	useFakes(t, exec, prompter)

	_, err := execute(t, "remove", "--name", "dev")
	require.Error(t, err)
	assert.Zero(t, exec.Count("--unregister"))
}

func TestRemoveMissingEnvironment(t *testing.T) {
	exec := testutil.NewFakeExecutor()
	useFakes(t, exec, nil)

	out, err := execute(t, "remove", "--name", "ghost", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to remove")
	assert.Zero(t, exec.Count("--unregister"))
}

func TestNetworkRequiresEnvironment(t *testing.T) {
	useFakes(t, testutil.NewFakeExecutor(), nil)

	_, err := execute(t, "network", "--name", "ghost")
	require.Error(t, err)
	assert.Equal(t, guest.ErrCodeNotFound, guest.CodeOf(err))
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	journal := filepath.Join(t.TempDir(), "journal.db")
	store, err := stores.Open(ctx, journal)
	require.NoError(t, err)

	run := &stores.Run{
		ID:        "run-1",
		Distro:    "dev",
		Mode:      "fresh",
		Status:    stores.RunStatusCompleted,
		Stage:     "done",
		Image:     "archlinux",
		Username:  "dev",
		StartedAt: time.Now(),
	}
	require.NoError(t, store.CreateRun(ctx, run))
	require.NoError(t, store.AppendEvent(ctx, &stores.Event{
		RunID:     "run-1",
		Type:      "warning",
		Level:     "warning",
		Stage:     "user_ready",
		Message:   "passwordless sudo still unavailable",
		Timestamp: time.Now(),
	}))
	require.NoError(t, store.Close())

	out, err := execute(t, "history", "--store", journal)
	require.NoError(t, err)
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "completed")

	out, err = execute(t, "history", "run-1", "--store", journal, "--level", "warning")
	require.NoError(t, err)
	assert.Contains(t, out, "passwordless sudo still unavailable")

	_, err = execute(t, "history", "missing", "--store", journal)
	assert.ErrorIs(t, err, stores.ErrNotFound)
}

func TestHistoryRequiresJournal(t *testing.T) {
	_, err := execute(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no journal configured")
}

func TestRenderReport(t *testing.T) {
	r := &engine.Report{
		RunID:  "run-1",
		Distro: "dev",
		Mode:   engine.ModeConverge,
		Stage:  engine.StageDone,
		Steps: []engine.StepRecord{
			{Name: "packages", Outcome: engine.StepOK, Duration: 2 * time.Second},
			{Name: "create-user", Outcome: engine.StepSkipped, Reason: "user exists"},
		},
		Warnings: []engine.Warning{{Stage: engine.StageUserReady, Message: "sudo pending restart"}},
		Account:  &guest.PrincipalAccount{Username: "dev", Exists: true, Groups: []string{"dev", "wheel"}},
	}

	out := renderReport(r)
	assert.Contains(t, out, "packages")
	assert.Contains(t, out, "user exists")
	assert.Contains(t, out, "sudo pending restart")
	assert.Contains(t, out, "dev, wheel")
	assert.Contains(t, out, "dev is ready")
	assert.True(t, strings.Contains(out, "1 warning"))
}
