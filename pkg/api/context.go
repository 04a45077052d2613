package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ActivityContext is the per-invocation view of one activity: its
// definition (properties included) and the live activity instance resolved
// for this run. Inbound is the transition that scheduled this invocation;
// it is nil for start activities and resume targets.
type ActivityContext struct {
	ActivityDefinition ActivityDefinition
	Activity           Activity
	Inbound            *Transition

	// InboundOrdinal distinguishes duplicate identical transitions (the
	// same source, outcome, and destination listed more than once, which
	// models implicit forking). The interpreter numbers the duplicates in
	// definition order, starting at zero.
	InboundOrdinal int
}

// ID returns the activity definition id.
func (ac *ActivityContext) ID() string { return ac.ActivityDefinition.ID }

// TypeName returns the activity type name.
func (ac *ActivityContext) TypeName() string { return ac.ActivityDefinition.TypeName }

// Property returns a raw property value.
func (ac *ActivityContext) Property(name string) (any, bool) {
	v, ok := ac.ActivityDefinition.Properties[name]
	return v, ok
}

// StringProperty returns a property as a string, or "" when absent.
func (ac *ActivityContext) StringProperty(name string) string {
	v, ok := ac.ActivityDefinition.Properties[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// StringSliceProperty returns a property as a string slice. Both []string
// and []any of strings are accepted, since properties round-trip through
// JSON and YAML.
func (ac *ActivityContext) StringSliceProperty(name string) []string {
	v, ok := ac.ActivityDefinition.Properties[name]
	if !ok || v == nil {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, e := range vv {
			out = append(out, fmt.Sprintf("%v", e))
		}
		return out
	default:
		return nil
	}
}

// FloatProperty returns a numeric property. JSON decodes numbers as
// float64 and YAML as int, so both are accepted.
func (ac *ActivityContext) FloatProperty(name string) (float64, bool) {
	v, ok := ac.ActivityDefinition.Properties[name]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// ExecutionContext is the mutable state of one run. It is rebuilt from the
// persisted instance at the start of every run and discarded after the run
// persists; nothing here outlives the run except through the instance.
type ExecutionContext struct {
	Definition WorkflowDefinition
	Instance   *WorkflowInstance

	// Activities maps activity id to the live per-run activity context.
	Activities map[string]*ActivityContext

	// Input is the input handed to this run: the start input, or the
	// payload of the trigger that resumed the instance.
	Input map[string]any

	// RunTrace lists the activity ids executed in this run, in order. It is
	// distinct from the cumulative Instance.ExecutedActivities.
	RunTrace []string

	// PendingEvents buffers the audit events of this run. The engine
	// flushes them to the event store only after the final instance save
	// succeeds; a run that loses the optimistic save leaves no trail.
	PendingEvents []WorkflowEvent

	Evaluator Evaluator
	Logger    *slog.Logger

	// Now supplies the clock, injectable for tests.
	Now func() time.Time
}

// NewExecutionContext builds the run state for one instance. The engine
// populates Activities from the catalog before running.
func NewExecutionContext(def WorkflowDefinition, inst *WorkflowInstance, input map[string]any, ev Evaluator, logger *slog.Logger) *ExecutionContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutionContext{
		Definition: def,
		Instance:   inst,
		Activities: make(map[string]*ActivityContext),
		Input:      input,
		Evaluator:  ev,
		Logger:     logger,
		Now:        time.Now,
	}
}

// GetVariable reads a scoped variable of the instance.
func (wc *ExecutionContext) GetVariable(name string) (any, bool) {
	return wc.Instance.GetVariable(name)
}

// SetVariable writes a scoped variable of the instance.
func (wc *ExecutionContext) SetVariable(name string, value any) {
	wc.Instance.SetVariable(name, value)
}

// Evaluate runs an expression against the instance variables through the
// configured evaluator capability.
func (wc *ExecutionContext) Evaluate(ctx context.Context, expression string) (any, error) {
	if wc.Evaluator == nil {
		return nil, fmt.Errorf("no evaluator configured (expression %q)", expression)
	}
	return wc.Evaluator.Evaluate(ctx, expression, wc.Instance.Variables)
}

// EvaluateBool evaluates an expression that must yield a boolean.
func (wc *ExecutionContext) EvaluateBool(ctx context.Context, expression string) (bool, error) {
	v, err := wc.Evaluate(ctx, expression)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q evaluated to %T, want bool", expression, v)
	}
	return b, nil
}
