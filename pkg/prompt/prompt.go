// Package prompt asks the operator the few questions a run needs and
// answers them with fixed defaults when nobody is at the terminal.
package prompt

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
)

// VerificationPolicy is the operator's choice after dotfile verification
// fails.
type VerificationPolicy string

const (
	// PolicyRetry runs the bootstrap once more.
	PolicyRetry VerificationPolicy = "retry"

	// PolicyProceed continues without verified dotfiles.
	PolicyProceed VerificationPolicy = "proceed"

	// PolicyAbort fails the run.
	PolicyAbort VerificationPolicy = "abort"
)

// Prompter asks yes/no and verification-policy questions.
type Prompter interface {
	Confirm(ctx context.Context, title, description string, defaultYes bool) (bool, error)
	ChooseVerificationPolicy(ctx context.Context, title string) (VerificationPolicy, error)
}

// New returns an interactive prompter when stdin and stdout are terminals
// and nonInteractive is false, otherwise Defaults.
func New(nonInteractive bool) Prompter {
	if nonInteractive || !IsTerminal() {
		return Defaults{}
	}
	return Interactive{}
}

// IsTerminal reports whether both stdin and stdout are attached to a
// terminal.
func IsTerminal() bool {
	in, out := os.Stdin.Fd(), os.Stdout.Fd()
	return (isatty.IsTerminal(in) || isatty.IsCygwinTerminal(in)) &&
		(isatty.IsTerminal(out) || isatty.IsCygwinTerminal(out))
}

// Defaults answers every question without blocking. Confirmations take their
// default; a failed dotfile verification proceeds without verification.
type Defaults struct{}

// Confirm returns defaultYes.
func (Defaults) Confirm(_ context.Context, title, _ string, defaultYes bool) (bool, error) {
	log.Debug().Str("question", title).Bool("answer", defaultYes).Msg("Using default answer")
	return defaultYes, nil
}

// ChooseVerificationPolicy returns PolicyProceed.
func (Defaults) ChooseVerificationPolicy(_ context.Context, title string) (VerificationPolicy, error) {
	log.Debug().Str("question", title).Str("answer", string(PolicyProceed)).Msg("Using default answer")
	return PolicyProceed, nil
}

// Interactive asks through huh forms.
type Interactive struct{}

// Confirm shows a yes/no question.
func (Interactive) Confirm(ctx context.Context, title, description string, defaultYes bool) (bool, error) {
	answer := defaultYes
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Value(&answer),
		),
	).RunWithContext(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	return answer, nil
}

// ChooseVerificationPolicy offers retry, proceed and abort.
func (Interactive) ChooseVerificationPolicy(ctx context.Context, title string) (VerificationPolicy, error) {
	choice := PolicyRetry
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[VerificationPolicy]().
				Title(title).
				Options(
					huh.NewOption("Retry once", PolicyRetry),
					huh.NewOption("Proceed without verification", PolicyProceed),
					huh.NewOption("Abort", PolicyAbort),
				).
				Value(&choice),
		),
	).RunWithContext(ctx)
	if err != nil {
		return PolicyAbort, fmt.Errorf("failed to read choice: %w", err)
	}
	return choice, nil
}
