// Package orchestrator coordinates a pool of agents over a task queue.
//
// An Orchestrator owns all of its state: the agent pool, the task table, the
// FIFO queue and the event handler registry are created in New and torn down
// in Cleanup, so multiple instances coexist in one process. Simple tasks flow
// through the queue and a single-flight scheduling pass; complex requests are
// decomposed by the planner and executed as a dependency DAG with one
// goroutine per step, so independent branches run concurrently.
//
// Lifecycle transitions are observable through a synchronous event bus. Every
// handler runs in registration order on the emitting goroutine; a panicking
// handler is recovered and logged and never aborts the operation that fired
// the event.
package orchestrator
