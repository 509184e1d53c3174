package testutil

import (
	"context"
	"sync"

	"github.com/openfroyo/wslprov/pkg/prompt"
)

// FakePrompter answers from queues and records the questions asked. An
// empty queue yields the question's default, or PolicyProceed.
type FakePrompter struct {
	mu       sync.Mutex
	Confirms []bool
	Policies []prompt.VerificationPolicy
	Asked    []string
}

// Confirm implements prompt.Prompter.
func (f *FakePrompter) Confirm(_ context.Context, title, _ string, defaultYes bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Asked = append(f.Asked, title)
	if len(f.Confirms) == 0 {
		return defaultYes, nil
	}
	answer := f.Confirms[0]
	f.Confirms = f.Confirms[1:]
	return answer, nil
}

// ChooseVerificationPolicy implements prompt.Prompter.
func (f *FakePrompter) ChooseVerificationPolicy(_ context.Context, title string) (prompt.VerificationPolicy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Asked = append(f.Asked, title)
	if len(f.Policies) == 0 {
		return prompt.PolicyProceed, nil
	}
	policy := f.Policies[0]
	f.Policies = f.Policies[1:]
	return policy, nil
}
