// Package graph holds the task graph: named tasks plus the ordering edges
// between them. It validates references and rejects cycles at Build time and
// turns the graph, or the transitive closure of a few tasks, into stages of
// independent tasks the scheduler may run in parallel.
package graph
