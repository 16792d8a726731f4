package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/assetflow/internal/logging"
	"github.com/kingrea/assetflow/internal/pipeline/graph"
	"github.com/kingrea/assetflow/internal/pipeline/scheduler"
)

// DefaultDebounce is the quiet period that closes a batch of events.
const DefaultDebounce = 100 * time.Millisecond

// State is the router lifecycle.
type State string

const (
	StateIdle        State = "idle"
	StateWatching    State = "watching"
	StateDispatching State = "dispatching"
)

// Runner executes a slice of the graph. *scheduler.Scheduler satisfies it.
type Runner interface {
	Run(ctx context.Context, g *graph.Graph, names []string, opts ...scheduler.RunOption) (*scheduler.Record, error)
}

// RebuildCompleted is emitted after every dispatch.
type RebuildCompleted struct {
	Tasks   []string
	Success bool
	// Changed lists output files written by the rebuild.
	Changed []string
	// Sources lists the changed files that triggered it.
	Sources []string
	Record  *scheduler.Record
	Err     error
}

// Router coalesces change events into scheduler runs.
type Router struct {
	graph    *graph.Graph
	runner   Runner
	bindings Bindings
	debounce time.Duration
	root     string
	ignore   []string
	logger   *slog.Logger
	handlers []func(RebuildCompleted)

	mu      sync.Mutex
	state   State
	pending map[string]bool
	forced  map[string]bool
	sources map[string]bool
	kick    chan struct{}
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithDebounce sets the quiet period. Values <= 0 keep the default.
func WithDebounce(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.debounce = d
		}
	}
}

// WithRoot sets the project root that event paths are made relative to.
func WithRoot(root string) RouterOption {
	return func(r *Router) {
		r.root = root
	}
}

// WithIgnore drops events below the given directories. Relative paths are
// resolved against the root.
func WithIgnore(dirs ...string) RouterOption {
	return func(r *Router) {
		r.ignore = append(r.ignore, dirs...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// OnRebuild registers a handler for RebuildCompleted. Handlers run on the
// dispatch goroutine and should not block for long.
func OnRebuild(fn func(RebuildCompleted)) RouterOption {
	return func(r *Router) {
		if fn != nil {
			r.handlers = append(r.handlers, fn)
		}
	}
}

// NewRouter wires a router to the graph, the runner and the bindings.
func NewRouter(g *graph.Graph, runner Runner, bindings Bindings, opts ...RouterOption) (*Router, error) {
	if g == nil {
		return nil, fmt.Errorf("watch: graph is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("watch: runner is required")
	}
	r := &Router{
		graph:    g,
		runner:   runner,
		bindings: bindings,
		debounce: DefaultDebounce,
		state:    StateIdle,
		pending:  map[string]bool{},
		forced:   map[string]bool{},
		sources:  map[string]bool{},
		kick:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.logger == nil {
		r.logger = logging.Discard()
	}
	if r.root != "" {
		if abs, err := filepath.Abs(r.root); err == nil {
			r.root = abs
		}
	}
	for i, dir := range r.ignore {
		r.ignore[i] = r.absolute(dir)
	}
	return r, nil
}

// State reports the current lifecycle state.
func (r *Router) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// OnFileEvent resolves ev against the bindings and queues the affected
// tasks. It reports whether anything was queued. A deletion forces the
// owning tasks since modification times cannot reveal it.
func (r *Router) OnFileEvent(ev Event) bool {
	abs := r.absolute(ev.Path)
	if r.ignored(abs) {
		return false
	}
	rel := r.relative(abs)
	tasks := r.bindings.Resolve(rel)
	if len(tasks) == 0 {
		r.logger.Debug("Change matches no task.", "path", rel)
		return false
	}
	r.mu.Lock()
	for _, name := range tasks {
		r.pending[name] = true
		if ev.Kind == Deleted {
			r.forced[name] = true
		}
	}
	r.sources[rel] = true
	r.mu.Unlock()
	r.logger.Debug("Change queued.", "path", rel, "kind", ev.Kind, "tasks", tasks)

	select {
	case r.kick <- struct{}{}:
	default:
	}
	return true
}

// Run consumes src until ctx is cancelled or the source fails. Cancelling
// lets an in-flight dispatch finish. A source error ends the session with a
// *SubscriptionError.
func (r *Router) Run(ctx context.Context, src Source) error {
	if src == nil {
		return fmt.Errorf("watch: source is required")
	}
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return fmt.Errorf("watch: router already running")
	}
	r.state = StateWatching
	r.mu.Unlock()
	r.logger.Info("Watching for changes.", "bindings", len(r.bindings))

	var (
		events  = src.Events()
		errs    = src.Errors()
		timer   *time.Timer
		timerC  <-chan time.Time
		done    chan struct{}
		waiting bool
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timerC = nil
	}
	finish := func(err error) error {
		stopTimer()
		if done != nil {
			<-done
		}
		r.mu.Lock()
		r.state = StateIdle
		r.mu.Unlock()
		return err
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Watch stopped.")
			return finish(nil)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.OnFileEvent(ev)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			r.logger.Error("Watch subscription failed.", "error", err)
			var subErr *SubscriptionError
			if !errors.As(err, &subErr) {
				subErr = &SubscriptionError{Err: err}
			}
			return finish(subErr)

		case <-r.kick:
			if timer == nil {
				timer = time.NewTimer(r.debounce)
			} else {
				timer.Stop()
				timer.Reset(r.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			if done != nil {
				// Picked up once the current dispatch finishes.
				waiting = true
				continue
			}
			done = r.dispatch(ctx)

		case <-done:
			done = nil
			if waiting || timerC == nil {
				waiting = false
				if r.hasPending() {
					stopTimer()
					done = r.dispatch(ctx)
					continue
				}
			}
			r.setState(StateWatching)
		}
	}
}

// dispatch drains the pending set and runs it on a separate goroutine. The
// returned channel closes when the run and its handlers have finished.
func (r *Router) dispatch(ctx context.Context) chan struct{} {
	r.mu.Lock()
	names := make([]string, 0, len(r.pending))
	for name := range r.pending {
		names = append(names, name)
	}
	var forced []string
	for name := range r.forced {
		forced = append(forced, name)
	}
	sources := make([]string, 0, len(r.sources))
	for src := range r.sources {
		sources = append(sources, src)
	}
	r.pending = map[string]bool{}
	r.forced = map[string]bool{}
	r.sources = map[string]bool{}
	r.state = StateDispatching
	r.mu.Unlock()

	names = r.graph.SortByDeclaration(names)
	sort.Strings(forced)
	sort.Strings(sources)
	runCtx := context.WithoutCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.logger.Info("Rebuilding.", "tasks", names, "changed", sources)
		var opts []scheduler.RunOption
		if len(forced) > 0 {
			opts = append(opts, scheduler.Force(forced...))
		}
		record, err := r.runner.Run(runCtx, r.graph, names, opts...)
		event := RebuildCompleted{
			Tasks:   names,
			Success: err == nil,
			Sources: sources,
			Record:  record,
			Err:     err,
		}
		if record != nil {
			event.Changed = record.Written()
		}
		if err != nil {
			r.logger.Error("Rebuild failed.", "tasks", names, "error", err)
		} else {
			r.logger.Info("Rebuild finished.", "tasks", names, "written", len(event.Changed))
		}
		for _, handler := range r.handlers {
			handler(event)
		}
	}()
	return done
}

func (r *Router) hasPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending) > 0
}

func (r *Router) setState(state State) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
}

func (r *Router) absolute(path string) string {
	path = filepath.Clean(path)
	if filepath.IsAbs(path) || r.root == "" {
		return path
	}
	return filepath.Join(r.root, path)
}

func (r *Router) relative(abs string) string {
	if r.root == "" {
		return filepath.ToSlash(abs)
	}
	rel, err := filepath.Rel(r.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

func (r *Router) ignored(abs string) bool {
	for _, dir := range r.ignore {
		if abs == dir || strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
