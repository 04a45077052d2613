package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/petrijr/ramify/internal/persistence"
	"github.com/petrijr/ramify/pkg/api"
)

// TriggerSignal resumes every halted instance blocked on a signal activity
// bound to signalName. With several matching blocking activities on one
// instance, the first (oldest) one receives the signal; delivering to the
// rest takes further triggers, since each resume reshapes the instance.
func (e *engineImpl) TriggerSignal(ctx context.Context, signalName, correlationID string, payload map[string]any) ([]*api.WorkflowInstance, error) {
	candidates, err := e.instances.ListInstances(ctx, persistence.InstanceFilter{
		Status:        api.StatusHalted,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}

	var resumed []*api.WorkflowInstance
	for _, inst := range candidates {
		target := ""
		for _, b := range inst.BlockingActivities {
			if b.Binding[api.BindingSignal] == signalName {
				target = b.ActivityID
				break
			}
		}
		if target == "" {
			continue
		}

		updated, err := e.ResumeWorkflow(ctx, inst.ID, target, payload)
		if err != nil {
			// Lost races are expected under concurrent triggers; some other
			// run owns the instance right now.
			if errors.Is(err, api.ErrConcurrencyConflict) {
				e.logger.DebugContext(ctx, "signal delivery lost race",
					slog.String("instance_id", inst.ID),
					slog.String("signal", signalName),
				)
				continue
			}
			return resumed, err
		}
		e.appendEvent(ctx, updated, api.EventSignalReceived, target, signalName)
		resumed = append(resumed, updated)
	}
	return resumed, nil
}

// ResumeDueTimers resumes every halted instance with a timer binding due
// at or before now and reports how many runs it triggered.
func (e *engineImpl) ResumeDueTimers(ctx context.Context, now time.Time) (int, error) {
	halted, err := e.instances.ListInstances(ctx, persistence.InstanceFilter{Status: api.StatusHalted})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, inst := range halted {
		for _, b := range inst.BlockingActivities {
			dueStr, ok := b.Binding[api.BindingDueAt]
			if !ok {
				continue
			}
			dueAt, err := time.Parse(time.RFC3339Nano, dueStr)
			if err != nil {
				e.logger.WarnContext(ctx, "unparseable timer binding",
					slog.String("instance_id", inst.ID),
					slog.String("activity_id", b.ActivityID),
					slog.String("due_at", dueStr),
				)
				continue
			}
			if dueAt.After(now) {
				continue
			}

			if _, err := e.ResumeWorkflow(ctx, inst.ID, b.ActivityID, nil); err != nil {
				if errors.Is(err, api.ErrConcurrencyConflict) {
					continue
				}
				return count, err
			}
			count++
			// One resume per instance per sweep; the instance has changed
			// under us, further due timers fire on the next sweep.
			break
		}
	}
	return count, nil
}
