package activities

import (
	"context"
	"strconv"
	"strings"

	"github.com/petrijr/ramify/pkg/api"
)

// IfElse evaluates the "condition" expression and continues with True or
// False.
type IfElse struct {
	api.Base
}

func (a *IfElse) TypeName() string { return TypeIfElse }

func (a *IfElse) GetPossibleOutcomes(wc *api.ExecutionContext, ac *api.ActivityContext) []api.Outcome {
	return api.NewOutcomes(OutcomeTrue, OutcomeFalse)
}

func (a *IfElse) Execute(ctx context.Context, wc *api.ExecutionContext, ac *api.ActivityContext) api.ActivityExecutionResult {
	expr := ac.StringProperty(PropCondition)
	if expr == "" {
		return api.Faultf("if-else %q: %q property is required", ac.ID(), PropCondition)
	}

	ok, err := wc.EvaluateBool(ctx, expr)
	if err != nil {
		return api.Faultf("if-else %q: %w", ac.ID(), err)
	}
	if ok {
		return api.Outcomes(OutcomeTrue)
	}
	return api.Outcomes(OutcomeFalse)
}

func (a *IfElse) Resume(ctx context.Context, wc *api.ExecutionContext, ac *api.ActivityContext) api.ActivityExecutionResult {
	return a.Execute(ctx, wc, ac)
}

// Fork splits execution into one logical branch per name in the "branches"
// property. The interpreter interleaves the branches breadth-first; each
// branch runs until it reaches a Join or dead-ends.
type Fork struct {
	api.Base
}

func (f *Fork) TypeName() string { return TypeFork }

func (f *Fork) GetPossibleOutcomes(wc *api.ExecutionContext, ac *api.ActivityContext) []api.Outcome {
	return api.NewOutcomes(ac.StringSliceProperty(PropBranches)...)
}

func (f *Fork) Execute(ctx context.Context, wc *api.ExecutionContext, ac *api.ActivityContext) api.ActivityExecutionResult {
	branches := ac.StringSliceProperty(PropBranches)
	if len(branches) == 0 {
		return api.Faultf("fork %q: %q property is required", ac.ID(), PropBranches)
	}
	return api.Outcomes(branches...)
}

func (f *Fork) Resume(ctx context.Context, wc *api.ExecutionContext, ac *api.ActivityContext) api.ActivityExecutionResult {
	return f.Execute(ctx, wc, ac)
}

// Join is the rendezvous point for forked branches. The expected arrival
// count is the static fan-in: the number of edges entering the join in the
// definition, duplicate identical edges each counted (they model implicit
// forking and each schedules the join). Arrivals are recorded on the
// persisted instance, so branches that halt and resume in later runs still
// count, and the join fires exactly once per rendezvous.
//
// Mode "all" (default) waits for every inbound edge; mode "any" fires on
// the first arrival and absorbs the rest.
type Join struct {
	api.Base
}

func (j *Join) TypeName() string { return TypeJoin }

func (j *Join) GetPossibleOutcomes(wc *api.ExecutionContext, ac *api.ActivityContext) []api.Outcome {
	return api.NewOutcomes(OutcomeJoined)
}

func (j *Join) Execute(ctx context.Context, wc *api.ExecutionContext, ac *api.ActivityContext) api.ActivityExecutionResult {
	edgeKey := "@direct"
	if ac.Inbound != nil {
		edgeKey = ac.Inbound.SourceActivityID + ":" + ac.Inbound.SourceOutcome +
			"#" + strconv.Itoa(ac.InboundOrdinal)
	}

	expected := expectedArrivals(wc.Definition, ac.ID())
	arrived := wc.Instance.Arrive(ac.ID(), edgeKey)

	mode := strings.ToLower(ac.StringProperty(PropMode))
	if mode == "" {
		mode = "all"
	}

	switch mode {
	case "all":
		if arrived >= expected {
			wc.Instance.ClearArrivals(ac.ID())
			return api.Outcomes(OutcomeJoined)
		}
		return api.Noop()

	case "any":
		if arrived >= expected {
			wc.Instance.ClearArrivals(ac.ID())
		}
		if arrived == 1 {
			return api.Outcomes(OutcomeJoined)
		}
		return api.Noop()

	default:
		return api.Faultf("join %q: unknown mode %q", ac.ID(), mode)
	}
}

func (j *Join) Resume(ctx context.Context, wc *api.ExecutionContext, ac *api.ActivityContext) api.ActivityExecutionResult {
	return j.Execute(ctx, wc, ac)
}

// expectedArrivals counts the inbound edges of an activity, duplicates
// included. A join that is scheduled directly (no inbound edges) expects
// exactly one arrival and fires immediately.
func expectedArrivals(def api.WorkflowDefinition, activityID string) int {
	n := len(def.TransitionsTo(activityID))
	if n == 0 {
		return 1
	}
	return n
}
