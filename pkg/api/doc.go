// Package api defines the public contracts of the ramify workflow engine:
// the activity contract, the workflow definition graph, the persisted
// workflow instance, the execution context shared by activities during a
// run, the activity catalog, and the observer/evaluator capabilities the
// engine consumes.
//
// The engine itself lives in internal/engine and is reached through the
// Engine interface; the root ramify package re-exports the types most
// callers need.
//
// # Model
//
// A WorkflowDefinition is a named, versioned directed graph. Its nodes are
// ActivityDefinitions (an id, an activity type name, and a property bag);
// its edges are Transitions keyed by the outcome name an activity returns
// at execution time. The graph may contain cycles: loops are modelled by
// transitions that point back at an earlier activity.
//
// A WorkflowInstance is one run of a definition. It is created when a
// workflow is started, mutated only by the engine while it holds the
// instance lease, and persisted across suspension points so that a halted
// workflow can be resumed days later, in a different process.
//
// Activities are stateless templates. All per-run state (variables, loop
// counters, join arrivals, the executed trace) lives on the instance, never
// on the activity value; the catalog hands the engine a fresh activity
// instance for every run.
package api
