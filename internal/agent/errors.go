package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrNoFiles is returned when a generation reply yields no file blocks.
	ErrNoFiles = errors.New("model response contained no files")
	// ErrIllegalTransition marks a state change the workflow does not allow.
	ErrIllegalTransition = errors.New("illegal state transition")
	// ErrNoClarifier is returned when clarify mode has nobody to ask.
	ErrNoClarifier = errors.New("clarify mode requires a clarifier")
	// ErrNoDiff is returned when an improve reply has nothing applicable.
	ErrNoDiff = errors.New("no hunk could be applied")
)

// WorkflowError reports a workflow that stopped in State during Step.
type WorkflowError struct {
	State State
	Step  string
	Err   error
}

func (e *WorkflowError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("workflow %s: %v", e.State, e.Err)
	}
	return fmt.Sprintf("workflow %s (%s): %v", e.State, e.Step, e.Err)
}

func (e *WorkflowError) Unwrap() error { return e.Err }

// IsWorkflowError checks if err carries a *WorkflowError.
func IsWorkflowError(err error) bool {
	var we *WorkflowError
	return errors.As(err, &we)
}
