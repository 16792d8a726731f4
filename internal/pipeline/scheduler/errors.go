package scheduler

import (
	"fmt"
	"strings"
)

// TransformError wraps a failure returned (or a panic raised) by a task's
// transform.
type TransformError struct {
	Task string
	Err  error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("task %s: %v", e.Task, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// RunError is returned when one or more tasks failed.
type RunError struct {
	RunID  string
	Failed []string
	Errs   []error
}

func (e *RunError) Error() string {
	if len(e.Errs) == 0 {
		return fmt.Sprintf("scheduler: run %s failed", e.RunID)
	}
	return fmt.Sprintf("scheduler: %d task(s) failed (%s): %v", len(e.Failed), strings.Join(e.Failed, ", "), e.Errs[0])
}

// Unwrap exposes every task error to errors.Is and errors.As.
func (e *RunError) Unwrap() []error { return e.Errs }
