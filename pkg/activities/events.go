package activities

import (
	"context"
	"fmt"
	"time"

	"github.com/petrijr/ramify/pkg/api"
)

// Signal halts the run until a signal with the configured name is
// delivered. The signal name is recorded in the blocking binding so
// Engine.TriggerSignal can route inbound signals without rebuilding runs.
//
// On resume, the trigger payload has already been merged into the instance
// variables; when the "variable" property is set, the whole payload map is
// additionally stored under that name.
type Signal struct {
	api.Base
}

func (s *Signal) TypeName() string { return TypeSignal }

func (s *Signal) GetPossibleOutcomes(wc *api.ExecutionContext, ac *api.ActivityContext) []api.Outcome {
	return api.NewOutcomes(OutcomeDone)
}

func (s *Signal) Execute(ctx context.Context, wc *api.ExecutionContext, ac *api.ActivityContext) api.ActivityExecutionResult {
	name := ac.StringProperty(PropSignal)
	if name == "" {
		return api.Faultf("signal %q: %q property is required", ac.ID(), PropSignal)
	}
	return api.HaltWithBinding(map[string]string{api.BindingSignal: name})
}

func (s *Signal) Resume(ctx context.Context, wc *api.ExecutionContext, ac *api.ActivityContext) api.ActivityExecutionResult {
	if name := ac.StringProperty(PropVariable); name != "" && wc.Input != nil {
		payload := make(map[string]any, len(wc.Input))
		for k, v := range wc.Input {
			payload[k] = v
		}
		wc.SetVariable(name, payload)
	}
	return api.Outcomes(OutcomeDone)
}

// Timer halts the run until a deadline. The deadline comes from either the
// "duration" property (a Go duration string, relative to now) or the
// "until" property (an RFC 3339 timestamp); it is recorded in the blocking
// binding so Engine.ResumeDueTimers can find due instances.
type Timer struct {
	api.Base
}

func (t *Timer) TypeName() string { return TypeTimer }

func (t *Timer) GetPossibleOutcomes(wc *api.ExecutionContext, ac *api.ActivityContext) []api.Outcome {
	return api.NewOutcomes(OutcomeDone)
}

func (t *Timer) Execute(ctx context.Context, wc *api.ExecutionContext, ac *api.ActivityContext) api.ActivityExecutionResult {
	dueAt, err := t.deadline(wc, ac)
	if err != nil {
		return api.Fault(err)
	}
	return api.HaltWithBinding(map[string]string{
		api.BindingDueAt: dueAt.UTC().Format(time.RFC3339Nano),
	})
}

func (t *Timer) Resume(ctx context.Context, wc *api.ExecutionContext, ac *api.ActivityContext) api.ActivityExecutionResult {
	return api.Outcomes(OutcomeDone)
}

func (t *Timer) deadline(wc *api.ExecutionContext, ac *api.ActivityContext) (time.Time, error) {
	if until := ac.StringProperty(PropUntil); until != "" {
		at, err := time.Parse(time.RFC3339Nano, until)
		if err != nil {
			return time.Time{}, fmt.Errorf("timer %q: invalid %q property: %w", ac.ID(), PropUntil, err)
		}
		return at, nil
	}

	durStr := ac.StringProperty(PropDuration)
	if durStr == "" {
		return time.Time{}, fmt.Errorf("timer %q: %q or %q property is required", ac.ID(), PropDuration, PropUntil)
	}
	d, err := time.ParseDuration(durStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("timer %q: invalid %q property: %w", ac.ID(), PropDuration, err)
	}
	return wc.Now().Add(d), nil
}
