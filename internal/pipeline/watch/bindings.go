package watch

import (
	"path/filepath"
	"strings"

	"github.com/kingrea/assetflow/internal/pipeline"
	"github.com/kingrea/assetflow/internal/pipeline/graph"
)

// Binding maps one root-relative glob to the tasks a matching change
// invalidates.
type Binding struct {
	Pattern  string
	Excludes []string
	Tasks    []string
}

// Matches reports whether the slash-separated, root-relative path falls under
// the binding.
func (b Binding) Matches(rel string) bool {
	if !pipeline.MatchPattern(b.Pattern, rel) {
		return false
	}
	for _, exclude := range b.Excludes {
		if pipeline.MatchPattern(exclude, rel) {
			return false
		}
	}
	return true
}

// Bindings is the lookup table consulted by the Router. It is not modified
// once watching begins.
type Bindings []Binding

// BindingsFor derives a binding from every input and implicit pattern of each
// task, then appends the extra rules from the definition.
func BindingsFor(g *graph.Graph, rules []pipeline.WatchRule) Bindings {
	var out Bindings
	if g != nil {
		for _, task := range g.Tasks() {
			var includes, excludes []string
			for _, pattern := range append(append([]string(nil), task.Inputs...), task.Implicit...) {
				pattern = filepath.ToSlash(strings.TrimSpace(pattern))
				switch {
				case pattern == "":
				case strings.HasPrefix(pattern, "!"):
					excludes = append(excludes, strings.TrimPrefix(pattern, "!"))
				default:
					includes = append(includes, pattern)
				}
			}
			for _, pattern := range includes {
				out = append(out, Binding{Pattern: pattern, Excludes: excludes, Tasks: []string{task.Name}})
			}
		}
	}
	for _, rule := range rules {
		for _, pattern := range rule.Patterns {
			pattern = filepath.ToSlash(strings.TrimSpace(pattern))
			if pattern == "" || strings.HasPrefix(pattern, "!") {
				continue
			}
			out = append(out, Binding{Pattern: pattern, Tasks: append([]string(nil), rule.Tasks...)})
		}
	}
	return out
}

// Resolve unions the tasks of every binding matching rel, without
// duplicates, in binding order.
func (b Bindings) Resolve(rel string) []string {
	rel = filepath.ToSlash(rel)
	seen := map[string]bool{}
	var out []string
	for _, binding := range b {
		if !binding.Matches(rel) {
			continue
		}
		for _, name := range binding.Tasks {
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// Roots returns the static directory prefixes of every pattern, skipping
// roots nested inside another root. An empty prefix is reported as ".".
func (b Bindings) Roots() []string {
	var bases []string
	seen := map[string]bool{}
	for _, binding := range b {
		base, _ := pipeline.SplitPattern(binding.Pattern)
		if base == "" {
			base = "."
		}
		base = strings.TrimSuffix(base, "/")
		if seen[base] {
			continue
		}
		seen[base] = true
		bases = append(bases, base)
	}
	var out []string
	for _, base := range bases {
		nested := false
		for _, other := range bases {
			if other != base && within(other, base) {
				nested = true
				break
			}
		}
		if !nested {
			out = append(out, base)
		}
	}
	return out
}

// within reports whether dir sits below parent, both slash-separated and
// relative.
func within(parent, dir string) bool {
	if parent == "." {
		return true
	}
	return strings.HasPrefix(dir, parent+"/")
}
