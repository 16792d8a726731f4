package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// Mode selects how a task's inputs relate to its output.
type Mode string

const (
	// ModeEach maps every input file to its own output file under the task's
	// output root. Staleness is evaluated per file.
	ModeEach Mode = "each"
	// ModeAggregate feeds every input into a single output file.
	ModeAggregate Mode = "aggregate"
	// ModeAlways skips staleness checks entirely.
	ModeAlways Mode = "always"
)

func (m Mode) valid() bool {
	switch m {
	case ModeEach, ModeAggregate, ModeAlways:
		return true
	}
	return false
}

// Options carries transform-specific settings (opaque to the scheduler).
type Options map[string]any

// Clone returns a shallow copy of the options map.
func (o Options) Clone() Options {
	if len(o) == 0 {
		return nil
	}
	clone := make(Options, len(o))
	for key, value := range o {
		clone[key] = value
	}
	return clone
}

// String returns the option as a trimmed string, or fallback when unset.
func (o Options) String(key, fallback string) string {
	raw, ok := o[key]
	if !ok || raw == nil {
		return fallback
	}
	switch v := raw.(type) {
	case string:
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
		return fallback
	default:
		return fmt.Sprint(v)
	}
}

// Strings returns a list option. Scalars are promoted to single-item lists.
func (o Options) Strings(key string) []string {
	raw, ok := o[key]
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return []string{v}
	case []string:
		return cloneStringSlice(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

// Bool returns a boolean option, accepting the usual string spellings.
func (o Options) Bool(key string, fallback bool) bool {
	raw, ok := o[key]
	if !ok || raw == nil {
		return fallback
	}
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "on", "1":
			return true
		case "false", "no", "off", "0":
			return false
		}
	}
	return fallback
}

// Int returns an integer option.
func (o Options) Int(key string, fallback int) int {
	raw, ok := o[key]
	if !ok || raw == nil {
		return fallback
	}
	switch v := raw.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

// Task is the immutable description of one unit of work: a transform applied
// to the files matched by Inputs, writing under Output.
type Task struct {
	Name      string   `json:"name" yaml:"name" toml:"name"`
	Transform string   `json:"transform" yaml:"transform" toml:"transform"`
	Inputs    []string `json:"inputs,omitempty" yaml:"inputs,omitempty" toml:"inputs,omitempty"`
	// Implicit inputs invalidate every output of the task when they change
	// (stylesheet partials, markup includes) without being handed to the
	// transform themselves.
	Implicit  []string `json:"implicit,omitempty" yaml:"implicit,omitempty" toml:"implicit,omitempty"`
	Output    string   `json:"output" yaml:"output" toml:"output"`
	Mode      Mode     `json:"mode,omitempty" yaml:"mode,omitempty" toml:"mode,omitempty"`
	Extname   string   `json:"extname,omitempty" yaml:"extname,omitempty" toml:"extname,omitempty"`
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty" toml:"depends_on,omitempty"`
	// After only orders this task behind others that share the same run; it
	// never pulls them into a run.
	After   []string `json:"after,omitempty" yaml:"after,omitempty" toml:"after,omitempty"`
	Options Options  `json:"options,omitempty" yaml:"options,omitempty" toml:"options,omitempty"`
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	clone := t
	clone.Inputs = cloneStringSlice(t.Inputs)
	clone.Implicit = cloneStringSlice(t.Implicit)
	clone.DependsOn = cloneStringSlice(t.DependsOn)
	clone.After = cloneStringSlice(t.After)
	clone.Options = t.Options.Clone()
	return clone
}

// Predecessors returns DependsOn followed by After, without duplicates.
func (t Task) Predecessors() []string {
	if len(t.DependsOn) == 0 && len(t.After) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(t.DependsOn)+len(t.After))
	out := make([]string, 0, len(t.DependsOn)+len(t.After))
	for _, list := range [][]string{t.DependsOn, t.After} {
		for _, name := range list {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

// Normalized returns a trimmed copy with the mode defaulted: tasks without
// inputs always run, everything else maps inputs one to one.
func (t Task) Normalized() Task {
	clone := t.Clone()
	clone.Name = strings.TrimSpace(clone.Name)
	clone.Transform = strings.TrimSpace(clone.Transform)
	clone.Output = strings.TrimSpace(clone.Output)
	clone.Extname = strings.TrimSpace(clone.Extname)
	clone.Mode = Mode(strings.ToLower(strings.TrimSpace(string(clone.Mode))))
	if clone.Mode == "" {
		if len(clone.Inputs) == 0 {
			clone.Mode = ModeAlways
		} else {
			clone.Mode = ModeEach
		}
	}
	clone.Inputs = trimAll(clone.Inputs)
	clone.Implicit = trimAll(clone.Implicit)
	clone.DependsOn = trimAll(clone.DependsOn)
	clone.After = trimAll(clone.After)
	return clone
}

// Validate ensures the task is usable.
func (t Task) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("pipeline: task name is required")
	}
	if t.Transform == "" {
		return fmt.Errorf("pipeline: task %s: transform is required", t.Name)
	}
	if !t.Mode.valid() {
		return fmt.Errorf("pipeline: task %s: unknown mode %q", t.Name, t.Mode)
	}
	if t.Mode != ModeAlways && t.Output == "" {
		return fmt.Errorf("pipeline: task %s: output is required", t.Name)
	}
	if t.Extname != "" && !strings.HasPrefix(t.Extname, ".") {
		return fmt.Errorf("pipeline: task %s: extname must start with '.'", t.Name)
	}
	deps := append([]string{}, t.DependsOn...)
	sort.Strings(deps)
	for i := 1; i < len(deps); i++ {
		if deps[i] == deps[i-1] {
			return fmt.Errorf("pipeline: task %s has duplicate dependency on %s", t.Name, deps[i])
		}
	}
	return nil
}

func trimAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func cloneStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	clone := make([]string, len(values))
	copy(clone, values)
	return clone
}
