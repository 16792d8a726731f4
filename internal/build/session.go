// Package build ties a loaded project configuration to the task graph, the
// scheduler and the transform registry. A Session answers the CLI commands:
// plan a target, build it, run single tasks, or serve with live reload.
package build

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kingrea/assetflow/internal/config"
	"github.com/kingrea/assetflow/internal/logbook"
	"github.com/kingrea/assetflow/internal/logging"
	"github.com/kingrea/assetflow/internal/pipeline"
	"github.com/kingrea/assetflow/internal/pipeline/graph"
	"github.com/kingrea/assetflow/internal/pipeline/scheduler"
	"github.com/kingrea/assetflow/internal/transform"
	"github.com/kingrea/assetflow/internal/transforms"
	"github.com/kingrea/assetflow/plugins"
)

// Session executes targets of one project.
type Session struct {
	cfg      *config.Config
	registry *transform.Registry
	logger   *slog.Logger
	history  *logbook.Logbook
	observer func(scheduler.TaskEvent)
	workers  int
	now      func() time.Time
}

// Option customizes a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver receives every task state change of every run.
func WithObserver(fn func(scheduler.TaskEvent)) Option {
	return func(s *Session) {
		s.observer = fn
	}
}

// WithHistory records run outcomes in the logbook.
func WithHistory(book *logbook.Logbook) Option {
	return func(s *Session) {
		s.history = book
	}
}

// WithRegistry replaces the transform registry. Plugins are still added to
// it.
func WithRegistry(reg *transform.Registry) Option {
	return func(s *Session) {
		if reg != nil {
			s.registry = reg
		}
	}
}

// WithWorkers overrides the definition's concurrency.
func WithWorkers(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// New prepares a session and loads the project's plugins.
func New(cfg *config.Config, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("build: config is required")
	}
	s := &Session{
		cfg:     cfg,
		logger:  logging.Discard(),
		workers: cfg.Concurrency(),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.registry == nil {
		s.registry = transforms.NewRegistry()
	}
	ids, err := plugins.Register(s.registry, cfg.PluginDir())
	if err != nil {
		return nil, fmt.Errorf("build: %w: %w", graph.ErrConfiguration, err)
	}
	if len(ids) > 0 {
		s.logger.Debug("Plugins loaded.", "ids", ids)
	}
	return s, nil
}

// Config returns the project configuration.
func (s *Session) Config() *config.Config { return s.cfg }

// Registry returns the transform registry, plugins included.
func (s *Session) Registry() *transform.Registry { return s.registry }

// Plan is a compiled target: its graph, stages and bound transforms.
type Plan struct {
	// Target is "" for the all-tasks plan used by RunTasks.
	Target string
	Graph  *graph.Graph
	Stages [][]string
	Table  transform.Table
}

// Plan compiles a target without running it. Every problem it reports
// unwraps to graph.ErrConfiguration.
func (s *Session) Plan(target string) (*Plan, error) {
	tasks, err := s.cfg.Definition.TargetTasks(target)
	if err != nil {
		return nil, fmt.Errorf("build: %w: %w", graph.ErrConfiguration, err)
	}
	g, err := graph.FromTasks(tasks)
	if err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}
	table, err := transform.Bind(g.Tasks(), s.registry)
	if err != nil {
		return nil, fmt.Errorf("build: %w", err)
	}
	return &Plan{
		Target: target,
		Graph:  g,
		Stages: g.TopologicalStages(),
		Table:  table,
	}, nil
}

// Result is the outcome of one Build or RunTasks call.
type Result struct {
	Target string
	Record *scheduler.Record
	// Finalized lists markup rewritten by the target's finalize pass.
	Finalized []string
}

// Build runs every task of the target, then its finalize pass when all of
// them succeeded.
func (s *Session) Build(ctx context.Context, target string, opts ...scheduler.RunOption) (*Result, error) {
	plan, err := s.Plan(target)
	if err != nil {
		return nil, err
	}
	sched, err := s.scheduler(plan)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithLogger(ctx, s.logger)
	s.logger.Info("Build started.", "target", target, "stages", len(plan.Stages))
	rec, runErr := sched.Run(ctx, plan.Graph, nil, opts...)
	if rec == nil {
		return nil, fmt.Errorf("build: %w", runErr)
	}
	res := &Result{Target: target, Record: rec}
	if runErr == nil {
		if fin := s.cfg.Definition.Targets[target].Finalize; fin != nil {
			res.Finalized, runErr = Finalize(s.cfg.ProjectDir, *fin)
			if runErr != nil {
				runErr = fmt.Errorf("build: finalize %s: %w", target, runErr)
			}
		}
	}
	s.record("build "+target, rec, runErr)
	return res, runErr
}

// RunTasks runs the named tasks and their DependsOn closure outside of any
// target's step ordering. With force the named tasks ignore staleness.
func (s *Session) RunTasks(ctx context.Context, names []string, force bool) (*Result, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("build: at least one task is required")
	}
	plan, err := s.Plan("")
	if err != nil {
		return nil, err
	}
	sched, err := s.scheduler(plan)
	if err != nil {
		return nil, err
	}
	var opts []scheduler.RunOption
	if force {
		opts = append(opts, scheduler.Force(names...))
	}
	ctx = logging.WithLogger(ctx, s.logger)
	rec, runErr := sched.Run(ctx, plan.Graph, names, opts...)
	if rec == nil {
		return nil, fmt.Errorf("build: %w", runErr)
	}
	s.record("run "+strings.Join(names, ","), rec, runErr)
	return &Result{Record: rec}, runErr
}

func (s *Session) scheduler(plan *Plan) (*scheduler.Scheduler, error) {
	opts := []scheduler.Option{
		scheduler.WithLogger(s.logger),
		scheduler.WithClock(s.now),
		scheduler.WithObserver(s.observer),
	}
	if s.workers > 0 {
		opts = append(opts, scheduler.WithWorkers(s.workers))
	}
	return scheduler.New(s.cfg.ProjectDir, plan.Table, opts...)
}

// record appends one line per run to the history logbook.
func (s *Session) record(label string, rec *scheduler.Record, err error) {
	if s.history == nil {
		return
	}
	var writeErr error
	switch {
	case rec == nil:
		writeErr = s.history.Error("%s: %v", label, err)
	case err != nil:
		writeErr = s.history.Error("%s run=%s failed=%s duration=%s: %v",
			label, rec.RunID, strings.Join(rec.Failed(), ","), rec.Duration().Round(time.Millisecond), err)
	default:
		writeErr = s.history.Info("%s run=%s ok tasks=%d invoked=%d duration=%s",
			label, rec.RunID, len(rec.Tasks), len(rec.Invoked()), rec.Duration().Round(time.Millisecond))
	}
	if writeErr != nil {
		s.logger.Warn("History write failed.", "path", s.history.Path(), "error", writeErr)
	}
}

// TargetNames lists the declared targets.
func (s *Session) TargetNames() []string {
	return s.cfg.Definition.TargetNames()
}

// Task returns a declared task.
func (s *Session) Task(name string) (pipeline.Task, bool) {
	return s.cfg.Definition.Task(name)
}
