// Package staleness decides which inputs of a task need re-processing by
// comparing modification times on disk. Nothing is cached between calls; the
// filesystem is the only source of truth.
package staleness

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/kingrea/assetflow/internal/pipeline"
)

// Reason explains a staleness verdict.
type Reason string

const (
	ReasonMissingOutput Reason = "missing-output"
	ReasonEmptyOutput   Reason = "empty-output"
	ReasonNewerInput    Reason = "newer-input"
	ReasonNewerImplicit Reason = "newer-implicit"
	ReasonFirstRun      Reason = "first-run"
	ReasonAlways        Reason = "always"
	ReasonFresh         Reason = "fresh"
	ReasonNoInputs      Reason = "no-inputs"
)

// Report is the verdict for one task.
type Report struct {
	Task   string
	Stale  bool
	Reason Reason
	// Inputs is the subset that must be handed to the transform: every input
	// for aggregate and always tasks, only the stale files for one-to-one
	// tasks.
	Inputs []pipeline.Input
	// Reasons records the verdict per stale input name for one-to-one tasks.
	Reasons map[string]Reason
}

// StatFunc matches os.Stat.
type StatFunc func(string) (fs.FileInfo, error)

// Oracle evaluates task freshness relative to a project root.
type Oracle struct {
	root string
	stat StatFunc
}

// Option customizes an Oracle.
type Option func(*Oracle)

// WithStat replaces os.Stat, mostly for tests.
func WithStat(fn StatFunc) Option {
	return func(o *Oracle) {
		if fn != nil {
			o.stat = fn
		}
	}
}

// New returns an oracle resolving task outputs against root.
func New(root string, opts ...Option) *Oracle {
	o := &Oracle{root: root, stat: os.Stat}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// OutputPath resolves the task's declared output against the project root.
func (o *Oracle) OutputPath(task pipeline.Task) string {
	return pipeline.ResolvePath(o.root, task.Output)
}

// IsStale reports whether the task must run for the given inputs.
func (o *Oracle) IsStale(task pipeline.Task, inputs []pipeline.Input) (bool, error) {
	report, err := o.Check(task, inputs, nil)
	if err != nil {
		return false, err
	}
	return report.Stale, nil
}

// Check evaluates the task. Implicit inputs are never handed to the
// transform; a newer implicit input only widens what counts as stale.
func (o *Oracle) Check(task pipeline.Task, inputs, implicit []pipeline.Input) (Report, error) {
	report := Report{Task: task.Name}
	if task.Mode == pipeline.ModeAlways {
		report.Stale = true
		report.Reason = ReasonAlways
		report.Inputs = inputs
		return report, nil
	}
	if len(inputs) == 0 {
		report.Reason = ReasonNoInputs
		return report, nil
	}
	newestImplicit, err := o.newest(implicit)
	if err != nil {
		return Report{}, err
	}
	if task.Mode == pipeline.ModeAggregate {
		return o.checkAggregate(report, task, inputs, newestImplicit)
	}
	return o.checkEach(report, task, inputs, newestImplicit)
}

func (o *Oracle) checkAggregate(report Report, task pipeline.Task, inputs []pipeline.Input, newestImplicit time.Time) (Report, error) {
	out := o.OutputPath(task)
	info, err := o.stat(out)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return stale(report, ReasonMissingOutput, inputs), nil
		}
		return Report{}, fmt.Errorf("staleness: %s: stat %s: %w", task.Name, out, err)
	}
	if info.IsDir() {
		return Report{}, fmt.Errorf("staleness: %s: aggregate output %s is a directory", task.Name, out)
	}
	outTime := info.ModTime()
	newer, content := false, false
	for _, in := range inputs {
		inInfo, err := o.stat(in.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Report{}, fmt.Errorf("staleness: %s: stat %s: %w", task.Name, in.Path, err)
		}
		if inInfo.Size() > 0 {
			content = true
		}
		if inInfo.ModTime().After(outTime) {
			newer = true
		}
	}
	// An empty output of non-empty inputs is an interrupted write.
	if info.Size() == 0 && content {
		return stale(report, ReasonEmptyOutput, inputs), nil
	}
	if newer {
		return stale(report, ReasonNewerInput, inputs), nil
	}
	if newestImplicit.After(outTime) {
		return stale(report, ReasonNewerImplicit, inputs), nil
	}
	report.Reason = ReasonFresh
	return report, nil
}

func (o *Oracle) checkEach(report Report, task pipeline.Task, inputs []pipeline.Input, newestImplicit time.Time) (Report, error) {
	root := o.OutputPath(task)
	rootInfo, err := o.stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return stale(report, ReasonFirstRun, inputs), nil
		}
		return Report{}, fmt.Errorf("staleness: %s: stat %s: %w", task.Name, root, err)
	}
	if !rootInfo.IsDir() {
		return Report{}, fmt.Errorf("staleness: %s: output root %s is not a directory", task.Name, root)
	}
	for _, in := range inputs {
		reason, err := o.checkOne(task, root, in, newestImplicit)
		if err != nil {
			return Report{}, err
		}
		if reason == ReasonFresh {
			continue
		}
		if report.Reasons == nil {
			report.Reasons = map[string]Reason{}
			report.Reason = reason
		}
		report.Reasons[in.Name] = reason
		report.Inputs = append(report.Inputs, in)
	}
	if len(report.Inputs) == 0 {
		report.Reason = ReasonFresh
		return report, nil
	}
	report.Stale = true
	return report, nil
}

func (o *Oracle) checkOne(task pipeline.Task, root string, in pipeline.Input, newestImplicit time.Time) (Reason, error) {
	target := pipeline.TargetPath(root, in, task.Extname)
	outInfo, err := o.stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ReasonMissingOutput, nil
		}
		return "", fmt.Errorf("staleness: %s: stat %s: %w", task.Name, target, err)
	}
	inInfo, err := o.stat(in.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ReasonFresh, nil
		}
		return "", fmt.Errorf("staleness: %s: stat %s: %w", task.Name, in.Path, err)
	}
	if outInfo.Size() == 0 && inInfo.Size() > 0 {
		return ReasonEmptyOutput, nil
	}
	if inInfo.ModTime().After(outInfo.ModTime()) {
		return ReasonNewerInput, nil
	}
	if newestImplicit.After(outInfo.ModTime()) {
		return ReasonNewerImplicit, nil
	}
	return ReasonFresh, nil
}

func (o *Oracle) newest(inputs []pipeline.Input) (time.Time, error) {
	var newest time.Time
	for _, in := range inputs {
		info, err := o.stat(in.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return time.Time{}, fmt.Errorf("staleness: stat %s: %w", in.Path, err)
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	return newest, nil
}

func stale(report Report, reason Reason, inputs []pipeline.Input) Report {
	report.Stale = true
	report.Reason = reason
	report.Inputs = inputs
	return report
}
