package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/assetflow/internal/logging"
	"github.com/kingrea/assetflow/internal/pipeline"
	"github.com/kingrea/assetflow/internal/pipeline/graph"
	"github.com/kingrea/assetflow/internal/pipeline/staleness"
	"github.com/kingrea/assetflow/internal/transform"
)

// TaskEvent is sent to the observer on every state change.
type TaskEvent struct {
	RunID string
	Task  string
	State TaskState
	Err   error
	Time  time.Time
	// UpToDate is set on the succeeded event of a task that had nothing to do.
	UpToDate bool
}

// Scheduler runs graph slices against a project root.
type Scheduler struct {
	root       string
	transforms transform.Lookup
	oracle     *staleness.Oracle
	workers    int
	now        func() time.Time
	logger     *slog.Logger

	observeMu sync.Mutex
	observer  func(TaskEvent)
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithWorkers bounds how many tasks of one stage run at once. Values <= 0
// select runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger. Without it the logger carried by the run
// context is used.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithObserver registers a callback for task state changes. Calls are
// serialized.
func WithObserver(fn func(TaskEvent)) Option {
	return func(s *Scheduler) {
		s.observer = fn
	}
}

// WithOracle replaces the default staleness oracle.
func WithOracle(oracle *staleness.Oracle) Option {
	return func(s *Scheduler) {
		if oracle != nil {
			s.oracle = oracle
		}
	}
}

// New wires a scheduler to the project root and the transforms bound to each
// task.
func New(root string, transforms transform.Lookup, opts ...Option) (*Scheduler, error) {
	if transforms == nil {
		return nil, fmt.Errorf("scheduler: transform lookup is required")
	}
	s := &Scheduler{
		root:       root,
		transforms: transforms,
		workers:    runtime.NumCPU(),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.oracle == nil {
		s.oracle = staleness.New(root)
	}
	return s, nil
}

// Root returns the project root.
func (s *Scheduler) Root() string { return s.root }

// RunOption customizes a single Run.
type RunOption func(*runConfig)

type runConfig struct {
	force map[string]bool
}

// Force skips the staleness check for the named tasks and hands them every
// input. File deletions are invisible to modification times, so the watch
// router forces the owning tasks.
func Force(names ...string) RunOption {
	return func(rc *runConfig) {
		for _, name := range names {
			rc.force[name] = true
		}
	}
}

// Run executes the named tasks plus their DependsOn closure. No names runs
// the whole graph. Configuration problems are reported before any task
// starts. When a task fails the current stage drains and no later stage
// begins; the returned error is then a *RunError and the record is still
// populated.
func (s *Scheduler) Run(ctx context.Context, g *graph.Graph, names []string, opts ...RunOption) (*Record, error) {
	if g == nil {
		return nil, fmt.Errorf("scheduler: graph is required")
	}
	rc := runConfig{force: map[string]bool{}}
	for _, opt := range opts {
		if opt != nil {
			opt(&rc)
		}
	}
	stages, err := g.Stages(names...)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	for _, stage := range stages {
		for _, name := range stage {
			if _, ok := s.transforms.Lookup(name); !ok {
				return nil, fmt.Errorf("scheduler: no transform bound to task %s: %w", name, graph.ErrConfiguration)
			}
		}
		if err := s.checkOutputs(g, stage); err != nil {
			return nil, err
		}
	}

	rec := newRecord(uuid.NewString(), names, stages)
	logger := s.logger
	if logger == nil {
		logger = logging.FromContext(ctx)
	}
	logger = logger.With("run", rec.RunID)
	rec.Started = s.now()
	logger.Debug("Run started.", "tasks", names, "stages", len(stages))

	var runErr error
	for i, stage := range stages {
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("scheduler: run cancelled before stage %d: %w", i+1, err)
			break
		}
		s.runStage(ctx, logger, g, rec, stage, rc)
		if failed := failedIn(rec, stage); len(failed) > 0 {
			logger.Warn("Stage failed, skipping remaining stages.", "stage", i+1, "failed", failed)
			break
		}
	}
	rec.Finished = s.now()

	if failed := rec.Failed(); len(failed) > 0 {
		errs := make([]error, 0, len(failed))
		for _, name := range failed {
			errs = append(errs, rec.Tasks[name].Err)
		}
		return rec, &RunError{RunID: rec.RunID, Failed: failed, Errs: errs}
	}
	if runErr != nil {
		return rec, runErr
	}
	logger.Debug("Run finished.", "invoked", len(rec.Invoked()), "duration", rec.Duration())
	return rec, nil
}

// checkOutputs rejects a stage in which two tasks write the same output,
// since they would run concurrently.
func (s *Scheduler) checkOutputs(g *graph.Graph, stage []string) error {
	owners := make(map[string]string, len(stage))
	for _, name := range stage {
		task, _ := g.Task(name)
		out := pipeline.ResolvePath(s.root, task.Output)
		if out == "" {
			continue
		}
		if other, ok := owners[out]; ok {
			return fmt.Errorf("scheduler: tasks %s and %s both write %s in one stage: %w", other, name, task.Output, graph.ErrConfiguration)
		}
		owners[out] = name
	}
	return nil
}

// runStage runs every task of the stage. Failures are recorded, never
// propagated through the group, so siblings always finish.
func (s *Scheduler) runStage(ctx context.Context, logger *slog.Logger, g *graph.Graph, rec *Record, stage []string, rc runConfig) {
	var group errgroup.Group
	group.SetLimit(s.workers)
	for _, name := range stage {
		task, _ := g.Task(name)
		tr, _ := s.transforms.Lookup(name)
		record := rec.Tasks[name]
		forced := rc.force[name]
		group.Go(func() error {
			s.runTask(ctx, logger.With("task", task.Name), rec.RunID, task, tr, record, forced)
			return nil
		})
	}
	_ = group.Wait()
}

func (s *Scheduler) runTask(ctx context.Context, logger *slog.Logger, runID string, task pipeline.Task, tr transform.Transform, record *TaskRecord, forced bool) {
	record.Started = s.now()
	record.State = StateRunning
	record.Forced = forced
	s.emit(TaskEvent{RunID: runID, Task: task.Name, State: StateRunning, Time: record.Started})

	err := s.execute(ctx, logger, task, tr, record, forced)
	record.Finished = s.now()
	if err != nil {
		record.State = StateFailed
		record.Err = err
		logger.Error("Task failed.", "error", err)
	} else {
		record.State = StateSucceeded
		if record.UpToDate {
			logger.Debug("Task up to date.", "reason", record.Reason)
		} else {
			logger.Info("Task finished.", "inputs", len(record.Inputs), "written", len(record.Written), "duration", record.Duration())
		}
	}
	s.emit(TaskEvent{RunID: runID, Task: task.Name, State: record.State, Err: err, Time: record.Finished, UpToDate: record.UpToDate})
}

func (s *Scheduler) execute(ctx context.Context, logger *slog.Logger, task pipeline.Task, tr transform.Transform, record *TaskRecord, forced bool) error {
	inputs, err := pipeline.ResolveInputs(s.root, task.Inputs)
	if err != nil {
		return fmt.Errorf("task %s: %w", task.Name, err)
	}
	var selected []pipeline.Input
	if forced {
		selected = inputs
		record.Reason = staleness.ReasonAlways
	} else {
		implicit, err := pipeline.ResolveInputs(s.root, task.Implicit)
		if err != nil {
			return fmt.Errorf("task %s: %w", task.Name, err)
		}
		report, err := s.oracle.Check(task, inputs, implicit)
		if err != nil {
			return err
		}
		record.Reason = report.Reason
		if !report.Stale {
			record.UpToDate = true
			return nil
		}
		selected = report.Inputs
	}
	record.Inputs = pipeline.Paths(selected)
	logger.Debug("Invoking transform.", "transform", task.Transform, "reason", record.Reason, "inputs", len(selected))

	req := transform.Request{
		Task:    task.Name,
		Root:    s.root,
		Inputs:  selected,
		Output:  pipeline.ResolvePath(s.root, task.Output),
		Extname: task.Extname,
		Mode:    task.Mode,
		Options: task.Options.Clone(),
	}
	result, err := apply(ctx, tr, req)
	record.Written = result.Written
	if err != nil {
		return &TransformError{Task: task.Name, Err: err}
	}
	return nil
}

// apply invokes the transform and turns a panic into an error so one broken
// transform cannot take down the session.
func apply(ctx context.Context, tr transform.Transform, req transform.Request) (result transform.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return tr.Apply(ctx, req)
}

func (s *Scheduler) emit(ev TaskEvent) {
	if s.observer == nil {
		return
	}
	s.observeMu.Lock()
	defer s.observeMu.Unlock()
	s.observer(ev)
}

func failedIn(rec *Record, stage []string) []string {
	var out []string
	for _, name := range stage {
		if rec.Tasks[name].State == StateFailed {
			out = append(out, name)
		}
	}
	return out
}
