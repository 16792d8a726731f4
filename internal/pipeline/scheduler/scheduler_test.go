package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kingrea/assetflow/internal/pipeline"
	"github.com/kingrea/assetflow/internal/pipeline/graph"
	"github.com/kingrea/assetflow/internal/transform"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type call struct {
	Task   string
	Inputs []string
}

// recorder is a stub transform that writes real outputs so staleness sees
// them, and records every invocation.
type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) transform(fail error) transform.Transform {
	return transform.Func(func(ctx context.Context, req transform.Request) (transform.Result, error) {
		names := make([]string, len(req.Inputs))
		for i, in := range req.Inputs {
			names[i] = in.Name
		}
		r.mu.Lock()
		r.calls = append(r.calls, call{Task: req.Task, Inputs: names})
		r.mu.Unlock()
		if fail != nil {
			return transform.Result{}, fail
		}
		var written []string
		if req.Mode == pipeline.ModeAggregate {
			var data []byte
			for _, in := range req.Inputs {
				content, err := os.ReadFile(in.Path)
				if err != nil {
					return transform.Result{}, err
				}
				data = append(data, content...)
			}
			if err := writeOut(req.Output, data); err != nil {
				return transform.Result{}, err
			}
			return transform.Result{Written: []string{req.Output}}, nil
		}
		for _, in := range req.Inputs {
			content, err := os.ReadFile(in.Path)
			if err != nil {
				return transform.Result{}, err
			}
			target := req.Target(in)
			if err := writeOut(target, content); err != nil {
				return transform.Result{}, err
			}
			written = append(written, target)
		}
		return transform.Result{Written: written}, nil
	})
}

func (r *recorder) tasks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Task
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

func writeOut(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := writeOut(path, []byte(content)); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func mustGraph(t *testing.T, tasks ...pipeline.Task) *graph.Graph {
	t.Helper()
	g, err := graph.FromTasks(tasks)
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	return g
}

func bundleTasks() []pipeline.Task {
	return []pipeline.Task{
		{Name: "styles", Transform: "stub", Inputs: []string{"src/*.scss"}, Output: "out/app.css", Mode: pipeline.ModeAggregate},
		{Name: "scripts", Transform: "stub", Inputs: []string{"src/*.js"}, Output: "out/app.js", Mode: pipeline.ModeAggregate},
		{Name: "bundle-report", Transform: "stub", Inputs: []string{"out/app.*"}, Output: "report/report.txt", Mode: pipeline.ModeAggregate, DependsOn: []string{"styles", "scripts"}},
	}
}

func seedBundle(t *testing.T, root string) {
	t.Helper()
	writeFile(t, filepath.Join(root, "src", "a.scss"), "a{}", base)
	writeFile(t, filepath.Join(root, "src", "b.scss"), "b{}", base)
	writeFile(t, filepath.Join(root, "src", "app.js"), "x()", base)
}

func table(rec *recorder, tasks []pipeline.Task) transform.Table {
	out := transform.Table{}
	for _, task := range tasks {
		out[task.Name] = rec.transform(nil)
	}
	return out
}

func TestRunExecutesBundleScenarioInStages(t *testing.T) {
	root := t.TempDir()
	seedBundle(t, root)
	tasks := bundleTasks()
	g := mustGraph(t, tasks...)

	var (
		mu      sync.Mutex
		running int
		peak    int
		order   []string
	)
	gate := make(chan struct{})
	var started atomic.Int32
	stub := &recorder{}
	lookup := transform.Table{}
	for _, task := range tasks {
		inner := stub.transform(nil)
		name := task.Name
		lookup[name] = transform.Func(func(ctx context.Context, req transform.Request) (transform.Result, error) {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			order = append(order, name)
			mu.Unlock()
			if name != "bundle-report" && started.Add(1) == 2 {
				close(gate)
			}
			if name != "bundle-report" {
				select {
				case <-gate:
				case <-time.After(2 * time.Second):
					return transform.Result{}, errors.New("siblings did not run concurrently")
				}
			}
			defer func() {
				mu.Lock()
				running--
				mu.Unlock()
			}()
			return inner.Apply(ctx, req)
		})
	}

	s, err := New(root, lookup, WithWorkers(4))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	record, err := s.Run(context.Background(), g, []string{"bundle-report"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff([][]string{{"styles", "scripts"}, {"bundle-report"}}, record.Stages); diff != "" {
		t.Fatalf("stages mismatch (-want +got):\n%s", diff)
	}
	if peak != 2 {
		t.Fatalf("expected styles and scripts to overlap, peak concurrency %d", peak)
	}
	if order[2] != "bundle-report" {
		t.Fatalf("bundle-report must start last, order %v", order)
	}
	if !record.Succeeded() {
		t.Fatalf("expected success, failed %v", record.Failed())
	}
	if record.RunID == "" {
		t.Fatalf("run id missing")
	}
}

func TestWorkerLimitBoundsStage(t *testing.T) {
	root := t.TempDir()
	var tasks []pipeline.Task
	for _, name := range []string{"fonts", "images", "scripts", "styles"} {
		tasks = append(tasks, pipeline.Task{Name: name, Transform: "stub", Mode: pipeline.ModeAlways})
	}
	g := mustGraph(t, tasks...)

	var running, peak atomic.Int32
	lookup := transform.Table{}
	for _, task := range tasks {
		lookup[task.Name] = transform.Func(func(ctx context.Context, req transform.Request) (transform.Result, error) {
			now := running.Add(1)
			for {
				old := peak.Load()
				if now <= old || peak.CompareAndSwap(old, now) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return transform.Result{}, nil
		})
	}

	s, err := New(root, lookup, WithWorkers(1))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	record, err := s.Run(context.Background(), g, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(record.Stages) != 1 || len(record.Stages[0]) != 4 {
		t.Fatalf("expected one stage of four tasks, got %v", record.Stages)
	}
	if got := peak.Load(); got != 1 {
		t.Fatalf("peak concurrency %d with one worker", got)
	}
}

func TestSecondRunInvokesNothing(t *testing.T) {
	root := t.TempDir()
	seedBundle(t, root)
	tasks := bundleTasks()
	g := mustGraph(t, tasks...)
	stub := &recorder{}
	s, err := New(root, table(stub, tasks))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.Run(context.Background(), g, nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if got := len(stub.tasks()); got != 3 {
		t.Fatalf("first run should invoke every task, got %d", got)
	}
	stub.reset()
	record, err := s.Run(context.Background(), g, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if calls := stub.tasks(); len(calls) != 0 {
		t.Fatalf("second run invoked %v", calls)
	}
	for _, name := range record.Order() {
		task := record.Task(name)
		if task.State != StateSucceeded || !task.UpToDate {
			t.Fatalf("%s: state %s up-to-date %v", name, task.State, task.UpToDate)
		}
	}
}

func TestTouchingOneInputOnlyRerunsAffectedWork(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "a.txt"), "a", base)
	writeFile(t, filepath.Join(root, "src", "b.txt"), "b", base)
	writeFile(t, filepath.Join(root, "lib", "c.txt"), "c", base)
	tasks := []pipeline.Task{
		{Name: "copy", Transform: "stub", Inputs: []string{"src/*.txt"}, Output: "out", Mode: pipeline.ModeEach},
		{Name: "concat", Transform: "stub", Inputs: []string{"src/*.txt"}, Output: "joined/output.txt", Mode: pipeline.ModeAggregate},
		{Name: "other", Transform: "stub", Inputs: []string{"lib/*.txt"}, Output: "lib-out", Mode: pipeline.ModeEach},
	}
	g := mustGraph(t, tasks...)
	stub := &recorder{}
	s, err := New(root, table(stub, tasks))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.Run(context.Background(), g, nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	future := time.Now().Add(time.Hour)
	for _, out := range []string{"out/a.txt", "out/b.txt", "joined/output.txt", "lib-out/c.txt"} {
		if err := os.Chtimes(filepath.Join(root, out), base.Add(time.Minute), base.Add(time.Minute)); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	if err := os.Chtimes(filepath.Join(root, "src", "a.txt"), future, future); err != nil {
		t.Fatalf("touch: %v", err)
	}
	stub.reset()

	record, err := s.Run(context.Background(), g, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	calls := map[string][]string{}
	for _, c := range stub.calls {
		calls[c.Task] = c.Inputs
	}
	want := map[string][]string{
		"copy":   {"src/a.txt"},
		"concat": {"src/a.txt", "src/b.txt"},
	}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Fatalf("invocations mismatch (-want +got):\n%s", diff)
	}
	if !record.Task("other").UpToDate {
		t.Fatalf("untouched task should be up to date")
	}
}

func TestFailureIsolation(t *testing.T) {
	root := t.TempDir()
	seedBundle(t, root)
	tasks := bundleTasks()
	g := mustGraph(t, tasks...)
	stub := &recorder{}
	boom := errors.New("sass exited 1")
	lookup := table(stub, tasks)
	lookup["styles"] = stub.transform(boom)

	s, err := New(root, lookup)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	record, err := s.Run(context.Background(), g, []string{"bundle-report"})
	var runErr *RunError
	if !errors.As(err, &runErr) {
		t.Fatalf("expected RunError, got %v", err)
	}
	var trErr *TransformError
	if !errors.As(err, &trErr) || trErr.Task != "styles" || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped transform error, got %v", err)
	}
	if got := record.Task("styles").State; got != StateFailed {
		t.Fatalf("styles = %s", got)
	}
	if got := record.Task("scripts").State; got != StateSucceeded {
		t.Fatalf("sibling scripts = %s", got)
	}
	if got := record.Task("bundle-report").State; got != StatePending {
		t.Fatalf("dependent bundle-report = %s", got)
	}
	if diff := cmp.Diff([]string{"styles"}, record.Failed()); diff != "" {
		t.Fatalf("failed mismatch:\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(root, "out", "app.css")); !os.IsNotExist(err) {
		t.Fatalf("failed task must not leave an output: %v", err)
	}

	// The next run retries the failed task because its output is still missing.
	stub.reset()
	lookup["styles"] = stub.transform(nil)
	if _, err := s.Run(context.Background(), g, []string{"bundle-report"}); err != nil {
		t.Fatalf("retry run: %v", err)
	}
	if diff := cmp.Diff([]string{"styles", "bundle-report"}, stub.tasks()); diff != "" {
		t.Fatalf("retry invocations mismatch:\n%s", diff)
	}
}

func TestPanicIsRecoveredAsTransformError(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "a.txt"), "a", base)
	tasks := []pipeline.Task{{Name: "copy", Transform: "stub", Inputs: []string{"src/*.txt"}, Output: "out"}}
	g := mustGraph(t, tasks...)
	lookup := transform.Table{"copy": transform.Func(func(context.Context, transform.Request) (transform.Result, error) {
		panic("nil map")
	})}
	s, err := New(root, lookup)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	record, err := s.Run(context.Background(), g, nil)
	var trErr *TransformError
	if !errors.As(err, &trErr) {
		t.Fatalf("expected TransformError, got %v", err)
	}
	if record.Task("copy").State != StateFailed {
		t.Fatalf("panicking task should fail")
	}
}

func TestForceBypassesStaleness(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "a.txt"), "a", base)
	writeFile(t, filepath.Join(root, "src", "b.txt"), "b", base)
	tasks := []pipeline.Task{{Name: "copy", Transform: "stub", Inputs: []string{"src/*.txt"}, Output: "out"}}
	g := mustGraph(t, tasks...)
	stub := &recorder{}
	s, err := New(root, table(stub, tasks))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.Run(context.Background(), g, nil); err != nil {
		t.Fatalf("first run: %v", err)
	}
	stub.reset()
	record, err := s.Run(context.Background(), g, []string{"copy"}, Force("copy"))
	if err != nil {
		t.Fatalf("forced run: %v", err)
	}
	if len(stub.calls) != 1 || len(stub.calls[0].Inputs) != 2 {
		t.Fatalf("forced run should hand every input, got %+v", stub.calls)
	}
	if !record.Task("copy").Forced {
		t.Fatalf("record should mark the task as forced")
	}
}

func TestRunRejectsUnboundTaskBeforeExecuting(t *testing.T) {
	root := t.TempDir()
	tasks := bundleTasks()
	g := mustGraph(t, tasks...)
	stub := &recorder{}
	lookup := table(stub, tasks)
	delete(lookup, "bundle-report")
	s, err := New(root, lookup)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = s.Run(context.Background(), g, nil)
	if !errors.Is(err, graph.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if calls := stub.tasks(); len(calls) != 0 {
		t.Fatalf("nothing should run, got %v", calls)
	}
	if _, err := s.Run(context.Background(), g, []string{"missing"}); !errors.Is(err, graph.ErrConfiguration) {
		t.Fatalf("unknown task should be a configuration error, got %v", err)
	}
}

func TestRunRejectsSharedOutputWithinStage(t *testing.T) {
	root := t.TempDir()
	seedBundle(t, root)
	tasks := []pipeline.Task{
		{Name: "style", Transform: "stub", Inputs: []string{"src/a.scss"}, Output: "out/main.css", Mode: pipeline.ModeAggregate},
		{Name: "style-build", Transform: "stub", Inputs: []string{"src/b.scss"}, Output: "out/main.css", Mode: pipeline.ModeAggregate},
		{Name: "prefix", Transform: "stub", Inputs: []string{"src/app.js"}, Output: "out/main.css", Mode: pipeline.ModeAggregate, DependsOn: []string{"style"}},
	}
	g := mustGraph(t, tasks...)
	stub := &recorder{}
	s, err := New(root, table(stub, tasks))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_, err = s.Run(context.Background(), g, []string{"style", "style-build"})
	if !errors.Is(err, graph.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if calls := stub.tasks(); len(calls) != 0 {
		t.Fatalf("nothing should run, got %v", calls)
	}

	// Rewriting an output in a later stage is allowed.
	if _, err := s.Run(context.Background(), g, []string{"prefix"}, Force("prefix")); err != nil {
		t.Fatalf("sequential writers: %v", err)
	}
	if diff := cmp.Diff([]string{"style", "prefix"}, stub.tasks()); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestObserverSeesEveryTransition(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "a.txt"), "a", base)
	tasks := []pipeline.Task{{Name: "copy", Transform: "stub", Inputs: []string{"src/*.txt"}, Output: "out"}}
	g := mustGraph(t, tasks...)
	var states []TaskState
	s, err := New(root, table(&recorder{}, tasks), WithObserver(func(ev TaskEvent) {
		states = append(states, ev.State)
	}))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := s.Run(context.Background(), g, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff([]TaskState{StateRunning, StateSucceeded}, states); diff != "" {
		t.Fatalf("states mismatch:\n%s", diff)
	}
}
