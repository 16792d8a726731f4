// Package transform defines the contract between the scheduler and the
// content transforms it invokes, plus the factory registry that resolves a
// task's transform id into a runnable Transform.
package transform

import (
	"context"
	"fmt"

	"github.com/kingrea/assetflow/internal/pipeline"
	"github.com/kingrea/assetflow/internal/pipeline/graph"
)

// Request is the work handed to a transform for one task run.
type Request struct {
	Task string
	// Root is the project root; option paths are relative to it.
	Root string
	// Inputs are the files to process. For one-to-one tasks this is only the
	// stale subset.
	Inputs []pipeline.Input
	// Output is the resolved output location: a directory for one-to-one
	// tasks, a file for aggregate tasks.
	Output  string
	Extname string
	Mode    pipeline.Mode
	Options pipeline.Options
}

// Target returns where a one-to-one transform should write the input.
func (r Request) Target(in pipeline.Input) string {
	return pipeline.TargetPath(r.Output, in, r.Extname)
}

// Result lists the files a transform wrote.
type Result struct {
	Written []string
}

// Transform turns input files into output files.
type Transform interface {
	Apply(ctx context.Context, req Request) (Result, error)
}

// Func adapts a function into a Transform.
type Func func(ctx context.Context, req Request) (Result, error)

// Apply executes f(ctx, req).
func (f Func) Apply(ctx context.Context, req Request) (Result, error) {
	if f == nil {
		return Result{}, nil
	}
	return f(ctx, req)
}

// Lookup finds the transform bound to a task name.
type Lookup interface {
	Lookup(task string) (Transform, bool)
}

// Table maps task names to their bound transforms.
type Table map[string]Transform

// Lookup satisfies the Lookup interface.
func (t Table) Lookup(task string) (Transform, bool) {
	tr, ok := t[task]
	return tr, ok
}

// UnknownTransformError reports a task naming a transform id that is not
// registered.
type UnknownTransformError struct {
	Task      string
	Transform string
}

func (e *UnknownTransformError) Error() string {
	return fmt.Sprintf("transform: task %s uses unknown transform %s", e.Task, e.Transform)
}

func (e *UnknownTransformError) Unwrap() error { return graph.ErrConfiguration }

// Bind resolves every task's transform through the registry. Failures are
// configuration errors and surface before anything runs.
func Bind(tasks []pipeline.Task, registry *Registry) (Table, error) {
	if registry == nil {
		return nil, fmt.Errorf("transform: registry is required")
	}
	table := make(Table, len(tasks))
	for _, task := range tasks {
		if !registry.Has(task.Transform) {
			return nil, &UnknownTransformError{Task: task.Name, Transform: task.Transform}
		}
		tr, err := registry.Resolve(task.Transform, task.Options)
		if err != nil {
			return nil, fmt.Errorf("transform: task %s: %w", task.Name, &graph.InvalidTaskError{Err: err})
		}
		table[task.Name] = tr
	}
	return table, nil
}
