package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfiguration is the sentinel every graph construction error unwraps
// to. Configuration errors surface before any task runs.
var ErrConfiguration = errors.New("configuration error")

// DuplicateTaskError reports a task name defined more than once.
type DuplicateTaskError struct {
	Name string
}

func (e *DuplicateTaskError) Error() string {
	return fmt.Sprintf("graph: task %s already defined", e.Name)
}

func (e *DuplicateTaskError) Unwrap() error { return ErrConfiguration }

// UnresolvedDependencyError reports a dependency that names no defined task.
type UnresolvedDependencyError struct {
	Task       string
	Dependency string
}

func (e *UnresolvedDependencyError) Error() string {
	return fmt.Sprintf("graph: dependency %s referenced by %s not declared", e.Dependency, e.Task)
}

func (e *UnresolvedDependencyError) Unwrap() error { return ErrConfiguration }

// CyclicDependencyError names the tasks forming a cycle. The first and last
// entries are the same task.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("graph: dependency cycle %s", strings.Join(e.Cycle, " -> "))
}

func (e *CyclicDependencyError) Unwrap() error { return ErrConfiguration }

// UnknownTaskError reports a requested task that the graph does not contain.
type UnknownTaskError struct {
	Name string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("graph: unknown task %s", e.Name)
}

func (e *UnknownTaskError) Unwrap() error { return ErrConfiguration }

// InvalidTaskError wraps a task that failed its own validation.
type InvalidTaskError struct {
	Err error
}

func (e *InvalidTaskError) Error() string { return e.Err.Error() }

// Is lets errors.Is match both the sentinel and the underlying cause.
func (e *InvalidTaskError) Is(target error) bool { return target == ErrConfiguration }

func (e *InvalidTaskError) Unwrap() error { return e.Err }
