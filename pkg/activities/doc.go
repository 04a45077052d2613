// Package activities provides the built-in activity library: control flow
// (fork, join, if/else, loops), blocking events (signal, timer), and small
// utilities (set-variable, log, start).
//
// All built-ins are stateless values configured entirely through the
// activity definition's property bag; per-run state such as loop counters
// and join arrivals lives on the workflow instance. Catalog returns an
// activity catalog with the whole set registered, which is what the engine
// constructors use by default.
package activities
