package graph

import (
	"fmt"

	"github.com/kingrea/assetflow/internal/pipeline"
)

type color int

const (
	white color = iota
	gray
	black
)

// Graph is the set of tasks of one build plus their ordering edges. Define
// tasks, then call Build once; the graph is read-only afterwards and safe for
// concurrent readers.
type Graph struct {
	tasks      map[string]pipeline.Task
	order      []string
	index      map[string]int
	dependents map[string][]string
	built      bool
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		tasks: map[string]pipeline.Task{},
		index: map[string]int{},
	}
}

// FromTasks defines every task in order and builds the graph.
func FromTasks(tasks []pipeline.Task) (*Graph, error) {
	g := New()
	for _, task := range tasks {
		if err := g.Define(task); err != nil {
			return nil, err
		}
	}
	if err := g.Build(); err != nil {
		return nil, err
	}
	return g, nil
}

// Define registers a task. Names must be unique.
func (g *Graph) Define(task pipeline.Task) error {
	if g.built {
		return fmt.Errorf("graph: cannot define %s after build", task.Name)
	}
	task = task.Normalized()
	if err := task.Validate(); err != nil {
		return &InvalidTaskError{Err: err}
	}
	if _, exists := g.tasks[task.Name]; exists {
		return &DuplicateTaskError{Name: task.Name}
	}
	g.tasks[task.Name] = task
	g.index[task.Name] = len(g.order)
	g.order = append(g.order, task.Name)
	return nil
}

// Build validates every reference and rejects cycles. Dependencies are
// checked in declaration order so the first reported problem is stable.
func (g *Graph) Build() error {
	if g.built {
		return nil
	}
	for _, name := range g.order {
		for _, dep := range g.tasks[name].Predecessors() {
			if _, ok := g.tasks[dep]; !ok {
				return &UnresolvedDependencyError{Task: name, Dependency: dep}
			}
		}
	}
	if cycle := g.findCycle(); len(cycle) > 0 {
		return &CyclicDependencyError{Cycle: cycle}
	}
	dependents := make(map[string][]string, len(g.order))
	for _, name := range g.order {
		for _, dep := range g.tasks[name].Predecessors() {
			dependents[dep] = append(dependents[dep], name)
		}
	}
	g.dependents = dependents
	g.built = true
	return nil
}

// findCycle runs a three-colour depth-first search over predecessor edges and
// returns the first cycle found, closed with its starting task.
func (g *Graph) findCycle() []string {
	colors := make(map[string]color, len(g.order))
	var stack []string
	var cycle []string
	var visit func(string) bool
	visit = func(name string) bool {
		colors[name] = gray
		stack = append(stack, name)
		for _, dep := range g.tasks[name].Predecessors() {
			switch colors[dep] {
			case gray:
				start := 0
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == dep {
						start = i
						break
					}
				}
				cycle = append(append([]string{}, stack[start:]...), dep)
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		colors[name] = black
		return false
	}
	for _, name := range g.order {
		if colors[name] == white && visit(name) {
			return cycle
		}
	}
	return nil
}

// Built reports whether Build succeeded.
func (g *Graph) Built() bool {
	return g.built
}

// Len returns the number of defined tasks.
func (g *Graph) Len() int {
	return len(g.order)
}

// Names returns task names in declaration order.
func (g *Graph) Names() []string {
	return append([]string(nil), g.order...)
}

// Task returns a copy of the named task.
func (g *Graph) Task(name string) (pipeline.Task, bool) {
	task, ok := g.tasks[name]
	if !ok {
		return pipeline.Task{}, false
	}
	return task.Clone(), true
}

// Tasks returns copies of every task in declaration order.
func (g *Graph) Tasks() []pipeline.Task {
	out := make([]pipeline.Task, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.tasks[name].Clone())
	}
	return out
}

// Dependents lists the tasks that name the given task as a predecessor.
func (g *Graph) Dependents(name string) []string {
	return append([]string(nil), g.dependents[name]...)
}

// SortByDeclaration orders names by their declaration index. Unknown names
// are dropped.
func (g *Graph) SortByDeclaration(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := g.tasks[name]; ok {
			seen[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for _, name := range g.order {
		if _, ok := seen[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// Closure returns the requested tasks plus, transitively, every task they
// depend on via DependsOn, in declaration order. Ordering-only After edges
// never widen the closure. No names selects the whole graph.
func (g *Graph) Closure(names ...string) ([]string, error) {
	if !g.built {
		return nil, fmt.Errorf("graph: closure requested before build")
	}
	if len(names) == 0 {
		return g.Names(), nil
	}
	include := make(map[string]bool, len(names))
	var visit func(string)
	visit = func(name string) {
		if include[name] {
			return
		}
		include[name] = true
		for _, dep := range g.tasks[name].DependsOn {
			visit(dep)
		}
	}
	for _, name := range names {
		if _, ok := g.tasks[name]; !ok {
			return nil, &UnknownTaskError{Name: name}
		}
		visit(name)
	}
	out := make([]string, 0, len(include))
	for _, name := range g.order {
		if include[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

// TopologicalStages groups every task into stages.
func (g *Graph) TopologicalStages() [][]string {
	stages, _ := g.Stages()
	return stages
}

// Stages groups the closure of names into stages. A task lands in stage k
// when the longest chain of predecessors inside the closure has length k, so
// every stage only holds tasks whose predecessors finished in earlier stages.
// Membership within a stage follows declaration order.
func (g *Graph) Stages(names ...string) ([][]string, error) {
	closure, err := g.Closure(names...)
	if err != nil {
		return nil, err
	}
	if len(closure) == 0 {
		return nil, nil
	}
	inSet := make(map[string]bool, len(closure))
	for _, name := range closure {
		inSet[name] = true
	}
	levels := make(map[string]int, len(closure))
	var level func(string) int
	level = func(name string) int {
		if lvl, ok := levels[name]; ok {
			return lvl
		}
		lvl := 0
		for _, dep := range g.tasks[name].Predecessors() {
			if !inSet[dep] {
				continue
			}
			if candidate := level(dep) + 1; candidate > lvl {
				lvl = candidate
			}
		}
		levels[name] = lvl
		return lvl
	}
	depth := 0
	for _, name := range closure {
		if lvl := level(name); lvl+1 > depth {
			depth = lvl + 1
		}
	}
	stages := make([][]string, depth)
	for _, name := range closure {
		lvl := levels[name]
		stages[lvl] = append(stages[lvl], name)
	}
	return stages, nil
}
