// Package testutil provides scriptable fakes for the guest and host command
// boundaries so components can be tested without WSL.
package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/openfroyo/wslprov/pkg/transports/wsl"
)

// Call kinds recorded by FakeExecutor.
const (
	KindRun         = "run"
	KindQuiet       = "quiet"
	KindInteractive = "interactive"
	KindManage      = "manage"
)

// Call is one recorded executor invocation.
type Call struct {
	Kind     string
	Distro   string
	Identity wsl.Identity
	Command  string
}

// Handler produces the outcome of a call.
type Handler func(call Call) (*wsl.Result, error)

type rule struct {
	substr  string
	handler Handler
}

// FakeExecutor implements wsl.Executor with substring-matched rules.
// Rules registered later win over earlier ones; unmatched calls succeed
// with empty output.
type FakeExecutor struct {
	mu    sync.Mutex
	rules []rule
	calls []Call
}

// NewFakeExecutor creates an executor with no rules.
func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{}
}

// On registers handler for calls whose command contains substr.
func (f *FakeExecutor) On(substr string, handler Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{substr: substr, handler: handler})
}

// OnOutput registers a successful call printing output.
func (f *FakeExecutor) OnOutput(substr, output string) {
	f.On(substr, func(Call) (*wsl.Result, error) { return OK(output), nil })
}

// OnExit registers a call exiting with code and printing output.
func (f *FakeExecutor) OnExit(substr string, code int, output string) {
	f.On(substr, func(Call) (*wsl.Result, error) { return Exit(code, output), nil })
}

// OnError registers a call that cannot be executed at all.
func (f *FakeExecutor) OnError(substr string, err error) {
	f.On(substr, func(Call) (*wsl.Result, error) { return nil, err })
}

// Run implements wsl.Executor.
func (f *FakeExecutor) Run(ctx context.Context, distro string, identity wsl.Identity, commandLine string) (*wsl.Result, error) {
	return f.dispatch(Call{Kind: KindRun, Distro: distro, Identity: identity, Command: commandLine})
}

// RunQuiet implements wsl.Executor.
func (f *FakeExecutor) RunQuiet(ctx context.Context, distro string, identity wsl.Identity, commandLine string) (*wsl.Result, error) {
	return f.dispatch(Call{Kind: KindQuiet, Distro: distro, Identity: identity, Command: commandLine})
}

// RunInteractive implements wsl.Executor.
func (f *FakeExecutor) RunInteractive(ctx context.Context, distro string, identity wsl.Identity, commandLine string) error {
	result, err := f.dispatch(Call{Kind: KindInteractive, Distro: distro, Identity: identity, Command: commandLine})
	if err != nil {
		return err
	}
	if !result.Succeeded() {
		return &wsl.TransportError{Op: "interactive", Distro: distro, Err: errExit(result.ExitCode)}
	}
	return nil
}

// Manage implements wsl.Executor.
func (f *FakeExecutor) Manage(ctx context.Context, args ...string) (*wsl.Result, error) {
	return f.dispatch(Call{Kind: KindManage, Command: strings.Join(args, " ")})
}

func (f *FakeExecutor) dispatch(call Call) (*wsl.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	var handler Handler
	for i := len(f.rules) - 1; i >= 0; i-- {
		if strings.Contains(call.Command, f.rules[i].substr) {
			handler = f.rules[i].handler
			break
		}
	}
	f.mu.Unlock()

	if handler == nil {
		return OK(""), nil
	}
	result, err := handler(call)
	if result != nil {
		result.Flagged = wsl.LooksLikeFailure(result.Output + "\n" + result.Stderr)
	}
	return result, err
}

// Calls returns every recorded call in order.
func (f *FakeExecutor) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Count returns how many recorded calls contain substr.
func (f *FakeExecutor) Count(substr string) int {
	n := 0
	for _, call := range f.Calls() {
		if strings.Contains(call.Command, substr) {
			n++
		}
	}
	return n
}

// Commands returns the command text of every recorded call.
func (f *FakeExecutor) Commands() []string {
	calls := f.Calls()
	out := make([]string, 0, len(calls))
	for _, call := range calls {
		out = append(out, call.Command)
	}
	return out
}

// Reset forgets recorded calls but keeps rules.
func (f *FakeExecutor) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// OK is a successful result printing output.
func OK(output string) *wsl.Result {
	return &wsl.Result{Output: output}
}

// Exit is a result with the given exit code and output.
func Exit(code int, output string) *wsl.Result {
	return &wsl.Result{Output: output, ExitCode: code}
}
