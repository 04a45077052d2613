// Package ramify is an embeddable workflow engine for Go applications.
//
// Workflows are directed graphs of typed activities connected by named
// outcomes. Instances persist across process restarts: a run executes
// until it finishes, faults, or halts at a blocking activity (a signal
// wait, a timer), and a halted instance is resumed later by a signal
// trigger, a due timer, or an explicit resume call.
//
// The root package re-exports the public API and wires the batteries:
// built-in activities, a Go-expression evaluator, in-memory and SQLite
// persistence, and a background runner. Redis, PostgreSQL, and MongoDB
// instance stores are available through their engine constructors.
package ramify
