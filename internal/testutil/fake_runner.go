package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/openfroyo/wslprov/pkg/transports/local"
)

type errExit int

func (e errExit) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

// RunnerHandler produces the outcome of a host command; line is the program
// name followed by its arguments joined with spaces.
type RunnerHandler func(name string, args []string) (*local.ExecResult, error)

type runnerRule struct {
	substr  string
	handler RunnerHandler
}

// FakeRunner implements local.Runner for host commands such as netsh and
// powershell. Matching follows FakeExecutor: later rules win, unmatched
// commands succeed silently.
type FakeRunner struct {
	mu    sync.Mutex
	rules []runnerRule
	lines []string
}

// NewFakeRunner creates a runner with no rules.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

// On registers handler for command lines containing substr.
func (f *FakeRunner) On(substr string, handler RunnerHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, runnerRule{substr: substr, handler: handler})
}

// OnExit registers a command line exiting with code and printing stdout.
func (f *FakeRunner) OnExit(substr string, code int, stdout string) {
	f.On(substr, func(string, []string) (*local.ExecResult, error) {
		return &local.ExecResult{Stdout: stdout, ExitCode: code}, nil
	})
}

// Run implements local.Runner.
func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) (*local.ExecResult, error) {
	line := strings.TrimSpace(name + " " + strings.Join(args, " "))

	f.mu.Lock()
	f.lines = append(f.lines, line)
	var handler RunnerHandler
	for i := len(f.rules) - 1; i >= 0; i-- {
		if strings.Contains(line, f.rules[i].substr) {
			handler = f.rules[i].handler
			break
		}
	}
	f.mu.Unlock()

	if handler == nil {
		return &local.ExecResult{}, nil
	}
	return handler(name, args)
}

// RunAttached implements local.Runner.
func (f *FakeRunner) RunAttached(ctx context.Context, name string, args ...string) error {
	result, err := f.Run(ctx, name, args...)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return errExit(result.ExitCode)
	}
	return nil
}

// Lines returns every recorded command line.
func (f *FakeRunner) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.lines))
	copy(out, f.lines)
	return out
}

// Count returns how many recorded command lines contain substr.
func (f *FakeRunner) Count(substr string) int {
	n := 0
	for _, line := range f.Lines() {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}
