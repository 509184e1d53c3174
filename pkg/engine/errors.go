package engine

import (
	"errors"
	"fmt"

	"github.com/openfroyo/wslprov/pkg/guest"
)

// StepError is a fatal failure of a workflow step. It records the last
// stage the run reached before the step failed.
type StepError struct {
	// Stage is the last stage reached.
	Stage Stage `json:"stage"`

	// Step is the step that failed.
	Step string `json:"step"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed after %s: %v", e.Step, e.Stage, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *StepError) Unwrap() error {
	return e.Err
}

// StageOf returns the stage recorded in err, or StageStart when err does
// not come from a workflow step.
func StageOf(err error) Stage {
	var se *StepError
	if errors.As(err, &se) {
		return se.Stage
	}
	return StageStart
}

// IsAborted returns true if the operator aborted the run.
func IsAborted(err error) bool {
	return guest.CodeOf(err) == guest.ErrCodeAborted
}

func fatal(name, op, code, msg string, err error) *guest.Error {
	return guest.NewFatalError(msg, err).
		WithDistro(name).
		WithOperation(op).
		WithCode(code)
}

func recoverable(name, op, code, msg string, err error) *guest.Error {
	return guest.NewRecoverableError(msg, err).
		WithDistro(name).
		WithOperation(op).
		WithCode(code)
}
