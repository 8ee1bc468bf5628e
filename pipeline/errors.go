package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrHalted is wrapped into the error Run returns when a termination
// signal, not a step failure, ended the run.
var ErrHalted = errors.New("halted by signal")

// StepFailureError is the single consolidated error for a failed run. When
// several steps failed, the earliest fatal one is the cause.
type StepFailureError struct {
	Pipeline string
	Step     string
	Cause    error
	// Failed lists every step recorded as failed, nofail ones included.
	Failed []string
}

func (e *StepFailureError) Error() string {
	msg := fmt.Sprintf("pipeline %s failed at step %q: %v", e.Pipeline, e.Step, e.Cause)
	if len(e.Failed) > 1 {
		msg += fmt.Sprintf(" (failed steps: %s)", strings.Join(e.Failed, ", "))
	}
	return msg
}

func (e *StepFailureError) Unwrap() error { return e.Cause }

// HaltedError carries which signal ended the run and which step it caught.
type HaltedError struct {
	Pipeline string
	Step     string
	Signal   string
}

func (e *HaltedError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("pipeline %s halted by %s", e.Pipeline, e.Signal)
	}
	return fmt.Sprintf("pipeline %s halted by %s during step %q", e.Pipeline, e.Signal, e.Step)
}

func (e *HaltedError) Unwrap() error { return ErrHalted }
