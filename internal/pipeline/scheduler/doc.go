// Package scheduler executes a slice of the task graph stage by stage. Each
// task consults the staleness oracle first and only invokes its transform for
// the inputs that actually need work, so repeating a run over an unchanged
// tree does nothing. A failed stage stops the run after its in-flight tasks
// finish; the returned Record says what ran, what failed and why.
package scheduler
