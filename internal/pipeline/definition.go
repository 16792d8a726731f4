package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultSourceDir is the conventional source root.
	DefaultSourceDir = "src"
	// DefaultOutputDir is the conventional output root.
	DefaultOutputDir = "build"
)

// Definition declares every task of a project plus the named targets that
// sequence them.
type Definition struct {
	Version     int               `json:"version" yaml:"version" toml:"version"`
	Source      string            `json:"source,omitempty" yaml:"source,omitempty" toml:"source,omitempty"`
	Output      string            `json:"output,omitempty" yaml:"output,omitempty" toml:"output,omitempty"`
	Concurrency int               `json:"concurrency,omitempty" yaml:"concurrency,omitempty" toml:"concurrency,omitempty"`
	Plugins     string            `json:"plugins,omitempty" yaml:"plugins,omitempty" toml:"plugins,omitempty"`
	Tasks       []Task            `json:"tasks" yaml:"tasks" toml:"tasks"`
	Targets     map[string]Target `json:"targets,omitempty" yaml:"targets,omitempty" toml:"targets,omitempty"`
	Watch       []WatchRule       `json:"watch,omitempty" yaml:"watch,omitempty" toml:"watch,omitempty"`
	Server      ServerConfig      `json:"server,omitempty" yaml:"server,omitempty" toml:"server,omitempty"`
}

// Target is an ordered list of steps. Each step is one task or a group of
// tasks that may run in parallel once the previous step has finished.
type Target struct {
	Description string    `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Steps       []Step    `json:"steps" yaml:"steps" toml:"steps"`
	Finalize    *Finalize `json:"finalize,omitempty" yaml:"finalize,omitempty" toml:"finalize,omitempty"`
}

// Step lists the task names of one sequence position.
type Step []string

// UnmarshalYAML accepts either a single task name or a list of names.
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var name string
		if err := value.Decode(&name); err != nil {
			return err
		}
		*s = Step{name}
		return nil
	case yaml.SequenceNode:
		var names []string
		if err := value.Decode(&names); err != nil {
			return err
		}
		*s = Step(names)
		return nil
	default:
		return fmt.Errorf("step must be a task name or a list of task names (line %d)", value.Line)
	}
}

// Finalize describes the text substitution pass applied to assembled markup
// after a target's tasks have all succeeded.
type Finalize struct {
	Files   []string      `json:"files" yaml:"files" toml:"files"`
	Replace []Replacement `json:"replace" yaml:"replace" toml:"replace"`
}

// Replacement is one literal substitution.
type Replacement struct {
	From string `json:"from" yaml:"from" toml:"from"`
	To   string `json:"to" yaml:"to" toml:"to"`
}

// WatchRule binds extra file patterns to the tasks they invalidate.
type WatchRule struct {
	Patterns []string `json:"patterns" yaml:"patterns" toml:"patterns"`
	Tasks    []string `json:"tasks" yaml:"tasks" toml:"tasks"`
}

// ServerConfig configures the development server started by serve.
type ServerConfig struct {
	Enabled *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty" toml:"enabled,omitempty"`
	Host    string `json:"host,omitempty" yaml:"host,omitempty" toml:"host,omitempty"`
	Port    int    `json:"port,omitempty" yaml:"port,omitempty" toml:"port,omitempty"`
}

// Clone returns a deep copy of the definition.
func (def Definition) Clone() Definition {
	clone := def
	if len(def.Tasks) > 0 {
		clone.Tasks = make([]Task, len(def.Tasks))
		for i, task := range def.Tasks {
			clone.Tasks[i] = task.Clone()
		}
	}
	if len(def.Targets) > 0 {
		clone.Targets = make(map[string]Target, len(def.Targets))
		for name, target := range def.Targets {
			clone.Targets[name] = target.Clone()
		}
	}
	if len(def.Watch) > 0 {
		clone.Watch = make([]WatchRule, len(def.Watch))
		for i, rule := range def.Watch {
			clone.Watch[i] = WatchRule{
				Patterns: cloneStringSlice(rule.Patterns),
				Tasks:    cloneStringSlice(rule.Tasks),
			}
		}
	}
	if def.Server.Enabled != nil {
		enabled := *def.Server.Enabled
		clone.Server.Enabled = &enabled
	}
	return clone
}

// Clone returns a deep copy of the target.
func (t Target) Clone() Target {
	clone := Target{Description: t.Description}
	if len(t.Steps) > 0 {
		clone.Steps = make([]Step, len(t.Steps))
		for i, step := range t.Steps {
			clone.Steps[i] = Step(cloneStringSlice(step))
		}
	}
	if t.Finalize != nil {
		fin := Finalize{Files: cloneStringSlice(t.Finalize.Files)}
		if len(t.Finalize.Replace) > 0 {
			fin.Replace = append([]Replacement(nil), t.Finalize.Replace...)
		}
		clone.Finalize = &fin
	}
	return clone
}

// Validate ensures the definition is self-consistent. Duplicate task names,
// unresolved dependencies and cycles are reported by the task graph instead.
func (def Definition) Validate() error {
	if def.Version < 1 {
		return fmt.Errorf("pipeline: version must be >= 1")
	}
	if len(def.Tasks) == 0 {
		return fmt.Errorf("pipeline: at least one task is required")
	}
	if def.Concurrency < 0 {
		return fmt.Errorf("pipeline: concurrency must be >= 0")
	}
	known := make(map[string]struct{}, len(def.Tasks))
	for idx, task := range def.Tasks {
		if err := task.Validate(); err != nil {
			return fmt.Errorf("pipeline: tasks[%d]: %w", idx, err)
		}
		known[task.Name] = struct{}{}
	}
	for _, task := range def.Tasks {
		for _, name := range task.After {
			if _, ok := known[name]; !ok {
				return fmt.Errorf("pipeline: task %s runs after unknown task %s", task.Name, name)
			}
		}
	}
	for _, name := range def.TargetNames() {
		target := def.Targets[name]
		if len(target.Steps) == 0 {
			return fmt.Errorf("pipeline: target %s has no steps", name)
		}
		for idx, step := range target.Steps {
			if len(step) == 0 {
				return fmt.Errorf("pipeline: target %s step %d is empty", name, idx+1)
			}
			for _, taskName := range step {
				if _, ok := known[taskName]; !ok {
					return fmt.Errorf("pipeline: target %s references unknown task %s", name, taskName)
				}
			}
		}
		if fin := target.Finalize; fin != nil {
			if len(fin.Files) == 0 {
				return fmt.Errorf("pipeline: target %s finalize requires files", name)
			}
			for i, rep := range fin.Replace {
				if rep.From == "" {
					return fmt.Errorf("pipeline: target %s finalize replace[%d]: from is required", name, i)
				}
			}
		}
	}
	for idx, rule := range def.Watch {
		if len(rule.Patterns) == 0 {
			return fmt.Errorf("pipeline: watch[%d]: at least one pattern is required", idx)
		}
		if len(rule.Tasks) == 0 {
			return fmt.Errorf("pipeline: watch[%d]: at least one task is required", idx)
		}
		for _, taskName := range rule.Tasks {
			if _, ok := known[taskName]; !ok {
				return fmt.Errorf("pipeline: watch[%d] references unknown task %s", idx, taskName)
			}
		}
	}
	if port := def.Server.Port; port < 0 || port > 65535 {
		return fmt.Errorf("pipeline: server port %d out of range", port)
	}
	return nil
}

// Normalized clones the definition, applies defaults, trims every field and
// validates the result.
func (def Definition) Normalized() (Definition, error) {
	clone := def.Clone()
	if clone.Version == 0 {
		clone.Version = 1
	}
	clone.Source = strings.TrimSpace(clone.Source)
	if clone.Source == "" {
		clone.Source = DefaultSourceDir
	}
	clone.Output = strings.TrimSpace(clone.Output)
	if clone.Output == "" {
		clone.Output = DefaultOutputDir
	}
	clone.Plugins = strings.TrimSpace(clone.Plugins)
	clone.Server.Host = strings.TrimSpace(clone.Server.Host)
	for i := range clone.Tasks {
		clone.Tasks[i] = clone.Tasks[i].Normalized()
	}
	for name, target := range clone.Targets {
		for i, step := range target.Steps {
			target.Steps[i] = Step(trimAll(step))
		}
		if target.Finalize != nil {
			target.Finalize.Files = trimAll(target.Finalize.Files)
		}
		trimmed := strings.TrimSpace(name)
		if trimmed != name {
			delete(clone.Targets, name)
		}
		clone.Targets[trimmed] = target
	}
	for i := range clone.Watch {
		clone.Watch[i].Patterns = trimAll(clone.Watch[i].Patterns)
		clone.Watch[i].Tasks = trimAll(clone.Watch[i].Tasks)
	}
	if err := clone.Validate(); err != nil {
		return Definition{}, err
	}
	return clone, nil
}

// TargetNames returns the declared target names sorted alphabetically.
func (def Definition) TargetNames() []string {
	names := make([]string, 0, len(def.Targets))
	for name := range def.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TaskNames returns task names in declaration order.
func (def Definition) TaskNames() []string {
	names := make([]string, 0, len(def.Tasks))
	for _, task := range def.Tasks {
		names = append(names, task.Name)
	}
	return names
}

// Task looks up a task by name.
func (def Definition) Task(name string) (Task, bool) {
	for _, task := range def.Tasks {
		if task.Name == name {
			return task.Clone(), true
		}
	}
	return Task{}, false
}

// TargetTasks compiles a target into graph-ready tasks. Each task in step N
// gains After edges to every task in step N-1, and tasks reachable only via
// DependsOn are included without extra ordering. Tasks keep their declaration
// order. An empty name selects every task with no sequencing.
func (def Definition) TargetTasks(name string) ([]Task, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		out := make([]Task, len(def.Tasks))
		for i, task := range def.Tasks {
			out[i] = task.Clone()
		}
		return out, nil
	}
	target, ok := def.Targets[name]
	if !ok {
		available := def.TargetNames()
		if len(available) == 0 {
			return nil, fmt.Errorf("pipeline: unknown target %s (no targets declared)", name)
		}
		return nil, fmt.Errorf("pipeline: unknown target %s (available: %s)", name, strings.Join(available, ", "))
	}
	after := map[string][]string{}
	include := map[string]bool{}
	for idx, step := range target.Steps {
		for _, taskName := range step {
			include[taskName] = true
			if idx > 0 {
				after[taskName] = mergeNames(after[taskName], target.Steps[idx-1])
			}
		}
	}
	byName := make(map[string]Task, len(def.Tasks))
	for _, task := range def.Tasks {
		if _, exists := byName[task.Name]; !exists {
			byName[task.Name] = task
		}
	}
	var visit func(string)
	visit = func(taskName string) {
		task, ok := byName[taskName]
		if !ok {
			return
		}
		for _, dep := range task.DependsOn {
			if include[dep] {
				continue
			}
			include[dep] = true
			visit(dep)
		}
	}
	for taskName := range include {
		visit(taskName)
	}
	var out []Task
	for _, task := range def.Tasks {
		if !include[task.Name] {
			continue
		}
		clone := task.Clone()
		clone.After = keepIncluded(mergeNames(clone.After, after[task.Name]), include)
		out = append(out, clone)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("pipeline: target %s selects no tasks", name)
	}
	return out, nil
}

// keepIncluded drops ordering edges to tasks outside the run.
func keepIncluded(names []string, include map[string]bool) []string {
	var out []string
	for _, name := range names {
		if include[name] {
			out = append(out, name)
		}
	}
	return out
}

func mergeNames(existing, adds []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(adds))
	out := make([]string, 0, len(existing)+len(adds))
	for _, list := range [][]string{existing, adds} {
		for _, name := range list {
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
