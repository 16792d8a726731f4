package scheduler

import (
	"time"

	"github.com/kingrea/assetflow/internal/pipeline/staleness"
)

// TaskState is the lifecycle of one task inside a run.
type TaskState string

const (
	StatePending   TaskState = "pending"
	StateRunning   TaskState = "running"
	StateSucceeded TaskState = "succeeded"
	StateFailed    TaskState = "failed"
)

// Terminal reports whether the state is final for this run.
func (s TaskState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// TaskRecord is the outcome of one task.
type TaskRecord struct {
	Name     string
	State    TaskState
	Err      error
	Reason   staleness.Reason
	Started  time.Time
	Finished time.Time
	// Inputs were handed to the transform. Empty when the task was up to date.
	Inputs []string
	// Written lists files the transform reported.
	Written []string
	// UpToDate is set when the staleness check made the task a no-op.
	UpToDate bool
	Forced   bool
}

// Duration is the wall time the task took.
func (r *TaskRecord) Duration() time.Duration {
	if r == nil || r.Started.IsZero() || r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// Invoked reports whether the transform was called.
func (r *TaskRecord) Invoked() bool {
	return r != nil && !r.Started.IsZero() && !r.UpToDate
}

// Record is the execution record of a single run. It is owned by the
// scheduler until Run returns.
type Record struct {
	RunID     string
	Requested []string
	Stages    [][]string
	Tasks     map[string]*TaskRecord
	Started   time.Time
	Finished  time.Time
}

func newRecord(runID string, requested []string, stages [][]string) *Record {
	rec := &Record{
		RunID:     runID,
		Requested: append([]string(nil), requested...),
		Stages:    stages,
		Tasks:     map[string]*TaskRecord{},
	}
	for _, stage := range stages {
		for _, name := range stage {
			rec.Tasks[name] = &TaskRecord{Name: name, State: StatePending}
		}
	}
	return rec
}

// Order lists task names stage by stage.
func (r *Record) Order() []string {
	if r == nil {
		return nil
	}
	var out []string
	for _, stage := range r.Stages {
		out = append(out, stage...)
	}
	return out
}

// Task returns the record for name, or nil.
func (r *Record) Task(name string) *TaskRecord {
	if r == nil {
		return nil
	}
	return r.Tasks[name]
}

// Succeeded reports whether every task reached StateSucceeded.
func (r *Record) Succeeded() bool {
	if r == nil {
		return false
	}
	for _, task := range r.Tasks {
		if task.State != StateSucceeded {
			return false
		}
	}
	return true
}

// Failed lists failed tasks in stage order.
func (r *Record) Failed() []string {
	return r.filter(func(t *TaskRecord) bool { return t.State == StateFailed })
}

// Invoked lists tasks whose transform ran, in stage order.
func (r *Record) Invoked() []string {
	return r.filter(func(t *TaskRecord) bool { return t.Invoked() })
}

// Written gathers the files written by every task, in stage order.
func (r *Record) Written() []string {
	var out []string
	for _, name := range r.Order() {
		out = append(out, r.Tasks[name].Written...)
	}
	return out
}

// Duration is the wall time of the run.
func (r *Record) Duration() time.Duration {
	if r == nil || r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

func (r *Record) filter(keep func(*TaskRecord) bool) []string {
	var out []string
	for _, name := range r.Order() {
		if keep(r.Tasks[name]) {
			out = append(out, name)
		}
	}
	return out
}
