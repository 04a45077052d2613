package api

import (
	"context"
	"fmt"
)

// Outcome is a named exit an activity can produce, e.g. "Done" or "False".
// DisplayName is authoring metadata; the engine matches transitions on Name.
type Outcome struct {
	Name        string
	DisplayName string
}

// NewOutcome returns an Outcome whose display name equals its name.
func NewOutcome(name string) Outcome {
	return Outcome{Name: name, DisplayName: name}
}

// NewOutcomes builds a list of outcomes from plain names.
func NewOutcomes(names ...string) []Outcome {
	out := make([]Outcome, 0, len(names))
	for _, n := range names {
		out = append(out, NewOutcome(n))
	}
	return out
}

// ActivityExecutionResult is what Execute/Resume returns.
//
// Exactly one of the three shapes is meaningful:
//   - outcome names to follow (possibly none, which dead-ends the branch),
//   - Halted, which suspends the whole run at this activity, or
//   - Err, which faults the instance.
type ActivityExecutionResult struct {
	// Outcomes lists the outcome names to follow. Multiple names (or
	// multiple transitions per name) fan out into parallel logical branches.
	Outcomes []string

	// Halted suspends the run. The activity is recorded in the instance's
	// blocking set together with Binding, and the run ends after the
	// remaining branches drain.
	Halted bool

	// Binding carries small matching data for a halted activity, e.g. the
	// signal name it waits for or the RFC 3339 time a timer is due.
	Binding map[string]string

	// Err faults the run. The instance transitions to StatusFaulted with
	// the error message retained for operator inspection.
	Err error
}

// Outcomes returns a result that follows the given outcome names.
// With no names the branch simply terminates.
func Outcomes(names ...string) ActivityExecutionResult {
	return ActivityExecutionResult{Outcomes: names}
}

// Noop returns a result with no outcomes: the branch dead-ends here.
func Noop() ActivityExecutionResult {
	return ActivityExecutionResult{}
}

// Halt returns a result that suspends the run at this activity.
func Halt() ActivityExecutionResult {
	return ActivityExecutionResult{Halted: true}
}

// HaltWithBinding is Halt with matching data recorded on the blocking
// activity, so external triggers can find it later.
func HaltWithBinding(binding map[string]string) ActivityExecutionResult {
	return ActivityExecutionResult{Halted: true, Binding: binding}
}

// Fault returns a result that aborts the run with the given error.
func Fault(err error) ActivityExecutionResult {
	return ActivityExecutionResult{Err: err}
}

// Faultf is Fault with fmt.Errorf formatting.
func Faultf(format string, args ...any) ActivityExecutionResult {
	return ActivityExecutionResult{Err: fmt.Errorf(format, args...)}
}

// Binding keys used by the built-in event activities.
const (
	// BindingSignal names the signal a halted activity waits for.
	BindingSignal = "signal"

	// BindingDueAt holds the RFC 3339 timestamp at which a halted timer
	// activity becomes due.
	BindingDueAt = "dueAt"
)

// Activity is the unit of work executed by the engine. Implementations must
// be stateless: the same value may serve many concurrent runs, and anything
// per-run belongs in the execution context or the instance variables.
type Activity interface {
	// TypeName identifies the activity type in definitions and the catalog.
	TypeName() string

	// GetPossibleOutcomes declares the named exits this activity can
	// produce. It is used by authoring tools and may depend on the
	// activity's properties (a fork's branches, for example).
	GetPossibleOutcomes(wc *ExecutionContext, ac *ActivityContext) []Outcome

	// CanExecute is the guard evaluated before execution. When it returns
	// false the activity is skipped without producing an outcome and the
	// branch dead-ends. An error faults the run.
	CanExecute(ctx context.Context, wc *ExecutionContext, ac *ActivityContext) (bool, error)

	// Execute performs the activity's effect.
	Execute(ctx context.Context, wc *ExecutionContext, ac *ActivityContext) ActivityExecutionResult

	// Resume is invoked instead of Execute when this activity is the
	// resumption target of a halted instance.
	Resume(ctx context.Context, wc *ExecutionContext, ac *ActivityContext) ActivityExecutionResult
}

// Base provides the default guard for activities that are always eligible.
// Embed it and override CanExecute only when a guard is needed.
type Base struct{}

// CanExecute always allows execution.
func (Base) CanExecute(ctx context.Context, wc *ExecutionContext, ac *ActivityContext) (bool, error) {
	return true, nil
}

// The listener interfaces below are optional. The engine broadcasts each
// lifecycle event to every activity of the current run that implements the
// matching interface, not just the active one, so event activities can
// observe global run state. Listener errors are logged and never fault the
// run by themselves.

// InputListener is notified once per run, before execution starts, with the
// input handed to StartWorkflow or ResumeWorkflow.
type InputListener interface {
	OnInputReceived(wc *ExecutionContext, input map[string]any) error
}

// WorkflowListener is notified around workflow start and resume.
type WorkflowListener interface {
	OnWorkflowStarting(ctx context.Context, wc *ExecutionContext) error
	OnWorkflowStarted(ctx context.Context, wc *ExecutionContext) error
	OnWorkflowResuming(ctx context.Context, wc *ExecutionContext) error
	OnWorkflowResumed(ctx context.Context, wc *ExecutionContext) error
}

// ActivityListener is notified around every activity invocation of the run.
type ActivityListener interface {
	OnActivityExecuting(ctx context.Context, wc *ExecutionContext, ac *ActivityContext) error
	OnActivityExecuted(ctx context.Context, wc *ExecutionContext, ac *ActivityContext) error
}
