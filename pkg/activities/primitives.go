package activities

import (
	"context"
	"log/slog"

	"github.com/petrijr/ramify/pkg/api"
)

// Start is the canonical entry-point activity: it does nothing and
// continues with Done.
type Start struct {
	api.Base
}

func (s *Start) TypeName() string { return TypeStart }

func (s *Start) GetPossibleOutcomes(wc *api.ExecutionContext, ac *api.ActivityContext) []api.Outcome {
	return api.NewOutcomes(OutcomeDone)
}

func (s *Start) Execute(ctx context.Context, wc *api.ExecutionContext, ac *api.ActivityContext) api.ActivityExecutionResult {
	return api.Outcomes(OutcomeDone)
}

func (s *Start) Resume(ctx context.Context, wc *api.ExecutionContext, ac *api.ActivityContext) api.ActivityExecutionResult {
	return s.Execute(ctx, wc, ac)
}

// SetVariable evaluates the "value" expression and stores the result under
// the "variable" name.
type SetVariable struct {
	api.Base
}

func (s *SetVariable) TypeName() string { return TypeSetVariable }

func (s *SetVariable) GetPossibleOutcomes(wc *api.ExecutionContext, ac *api.ActivityContext) []api.Outcome {
	return api.NewOutcomes(OutcomeDone)
}

func (s *SetVariable) Execute(ctx context.Context, wc *api.ExecutionContext, ac *api.ActivityContext) api.ActivityExecutionResult {
	name := ac.StringProperty(PropVariable)
	if name == "" {
		return api.Faultf("set-variable %q: %q property is required", ac.ID(), PropVariable)
	}

	expr := ac.StringProperty(PropValue)
	value, err := wc.Evaluate(ctx, expr)
	if err != nil {
		return api.Faultf("set-variable %q: %w", ac.ID(), err)
	}

	wc.SetVariable(name, value)
	return api.Outcomes(OutcomeDone)
}

func (s *SetVariable) Resume(ctx context.Context, wc *api.ExecutionContext, ac *api.ActivityContext) api.ActivityExecutionResult {
	return s.Execute(ctx, wc, ac)
}

// Log writes a structured log line through the run's logger. The "level"
// property selects debug/info/warn/error (default info).
type Log struct {
	api.Base
}

func (l *Log) TypeName() string { return TypeLog }

func (l *Log) GetPossibleOutcomes(wc *api.ExecutionContext, ac *api.ActivityContext) []api.Outcome {
	return api.NewOutcomes(OutcomeDone)
}

func (l *Log) Execute(ctx context.Context, wc *api.ExecutionContext, ac *api.ActivityContext) api.ActivityExecutionResult {
	level := slog.LevelInfo
	switch ac.StringProperty(PropLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	wc.Logger.Log(ctx, level, ac.StringProperty(PropMessage),
		slog.String("instance_id", wc.Instance.ID),
		slog.String("activity_id", ac.ID()),
	)
	return api.Outcomes(OutcomeDone)
}

func (l *Log) Resume(ctx context.Context, wc *api.ExecutionContext, ac *api.ActivityContext) api.ActivityExecutionResult {
	return l.Execute(ctx, wc, ac)
}
