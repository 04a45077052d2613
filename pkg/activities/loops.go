package activities

import (
	"context"

	"github.com/petrijr/ramify/pkg/api"
)

// While re-evaluates its "condition" expression on every pass: while it
// holds, the activity continues with Iterate (the loop body transitions
// back here); once it fails, it continues with Done.
type While struct {
	api.Base
}

func (w *While) TypeName() string { return TypeWhile }

func (w *While) GetPossibleOutcomes(wc *api.ExecutionContext, ac *api.ActivityContext) []api.Outcome {
	return api.NewOutcomes(OutcomeIterate, OutcomeDone)
}

func (w *While) Execute(ctx context.Context, wc *api.ExecutionContext, ac *api.ActivityContext) api.ActivityExecutionResult {
	expr := ac.StringProperty(PropCondition)
	if expr == "" {
		return api.Faultf("while %q: %q property is required", ac.ID(), PropCondition)
	}

	ok, err := wc.EvaluateBool(ctx, expr)
	if err != nil {
		return api.Faultf("while %q: %w", ac.ID(), err)
	}
	if ok {
		return api.Outcomes(OutcomeIterate)
	}
	return api.Outcomes(OutcomeDone)
}

func (w *While) Resume(ctx context.Context, wc *api.ExecutionContext, ac *api.ActivityContext) api.ActivityExecutionResult {
	return w.Execute(ctx, wc, ac)
}

// ForLoop counts from "from" (default 0) towards "to" in increments of
// "step" (default 1). Each pass below the bound continues with Iterate;
// reaching the bound continues with Done and resets the counter so the
// loop can be entered again later.
//
// The counter lives in the instance variables, under the "variable"
// property when set and under a key derived from the activity id
// otherwise. Activities stay stateless.
type ForLoop struct {
	api.Base
}

func (f *ForLoop) TypeName() string { return TypeForLoop }

func (f *ForLoop) GetPossibleOutcomes(wc *api.ExecutionContext, ac *api.ActivityContext) []api.Outcome {
	return api.NewOutcomes(OutcomeIterate, OutcomeDone)
}

func (f *ForLoop) counterKey(ac *api.ActivityContext) string {
	if name := ac.StringProperty(PropVariable); name != "" {
		return name
	}
	return "loop:" + ac.ID()
}

func (f *ForLoop) Execute(ctx context.Context, wc *api.ExecutionContext, ac *api.ActivityContext) api.ActivityExecutionResult {
	to, ok := ac.FloatProperty(PropTo)
	if !ok {
		return api.Faultf("for-loop %q: %q property is required", ac.ID(), PropTo)
	}
	from, _ := ac.FloatProperty(PropFrom)
	step, ok := ac.FloatProperty(PropStep)
	if !ok || step == 0 {
		step = 1
	}

	key := f.counterKey(ac)
	current := from
	if v, found := wc.GetVariable(key); found {
		if n, numeric := toFloat(v); numeric {
			current = n
		}
	}

	if current < to {
		wc.SetVariable(key, current+step)
		return api.Outcomes(OutcomeIterate)
	}

	wc.SetVariable(key, from)
	return api.Outcomes(OutcomeDone)
}

func (f *ForLoop) Resume(ctx context.Context, wc *api.ExecutionContext, ac *api.ActivityContext) api.ActivityExecutionResult {
	return f.Execute(ctx, wc, ac)
}
