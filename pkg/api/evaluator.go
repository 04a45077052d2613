package api

import "context"

// Evaluator is the injected expression-evaluation capability used by
// branching and assignment activities. The engine core is agnostic to the
// scripting technology; pkg/eval ships a Go-expression implementation and
// hosts may plug in anything that satisfies this interface.
//
// An evaluation error surfaces as a fault of the activity that requested
// the evaluation.
type Evaluator interface {
	Evaluate(ctx context.Context, expression string, variables map[string]any) (any, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, expression string, variables map[string]any) (any, error)

// Evaluate implements Evaluator.
func (f EvaluatorFunc) Evaluate(ctx context.Context, expression string, variables map[string]any) (any, error) {
	return f(ctx, expression, variables)
}
