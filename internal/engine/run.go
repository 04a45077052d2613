package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/petrijr/ramify/pkg/api"
)

// workItem is one scheduled activity invocation: the activity to run, the
// transition that scheduled it (nil for start activities and resume
// targets), the ordinal among duplicate identical transitions, and whether
// to invoke Resume instead of Execute.
type workItem struct {
	activityID string
	inbound    *api.Transition
	ordinal    int
	resume     bool
}

func (e *engineImpl) StartWorkflow(ctx context.Context, definitionID string, input map[string]any, correlationID string) (*api.WorkflowInstance, error) {
	return e.StartWorkflowVersion(ctx, definitionID, 0, input, correlationID)
}

func (e *engineImpl) StartWorkflowVersion(ctx context.Context, definitionID string, version int, input map[string]any, correlationID string) (*api.WorkflowInstance, error) {
	def, err := e.definitions.GetDefinition(ctx, definitionID, version)
	if err != nil {
		return nil, err
	}
	if !def.IsEnabled {
		return nil, fmt.Errorf("definition %s: %w", def.ID, api.ErrDefinitionDisabled)
	}
	starts := def.StartActivities()
	if len(starts) == 0 {
		return nil, fmt.Errorf("definition %s has no start activity", def.ID)
	}

	inst := api.NewWorkflowInstance(def, input, correlationID)
	wc, err := e.buildContext(def, inst, input)
	if err != nil {
		return nil, err
	}
	if err := inst.MarkStarting(); err != nil {
		return nil, err
	}

	// Save before running so the instance is visible and the lease has
	// state to guard.
	if err := e.instances.SaveInstance(ctx, inst); err != nil {
		return nil, err
	}

	owner := newRunOwner()
	expires := e.clock().Add(e.leaseTTL)
	acquired, err := e.instances.TryAcquireLease(ctx, inst.ID, owner, expires)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, fmt.Errorf("instance %s: %w", inst.ID, api.ErrInstanceLocked)
	}
	inst.LockOwner, inst.LockedUntil = owner, expires

	e.notifyInput(wc, input)
	e.notifyWorkflow(ctx, wc, "starting", api.WorkflowListener.OnWorkflowStarting)
	e.observer.OnWorkflowStarting(ctx, inst)
	e.bufferEvent(wc, api.EventWorkflowStarted, "", "")

	queue := make([]workItem, 0, len(starts))
	for _, a := range starts {
		queue = append(queue, workItem{activityID: a.ID})
	}
	e.runLoop(ctx, wc, queue)
	e.finalize(ctx, wc)
	e.notifyWorkflow(ctx, wc, "started", api.WorkflowListener.OnWorkflowStarted)

	inst.LockOwner, inst.LockedUntil = "", time.Time{}
	if err := e.instances.SaveInstance(ctx, inst); err != nil {
		e.releaseLease(ctx, inst.ID, owner)
		return inst, err
	}
	e.flushEvents(ctx, wc)
	e.releaseLease(ctx, inst.ID, owner)
	return inst, nil
}

func (e *engineImpl) ResumeWorkflow(ctx context.Context, instanceID, activityID string, input map[string]any) (*api.WorkflowInstance, error) {
	inst, err := e.instances.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != api.StatusHalted {
		return nil, fmt.Errorf("instance %s: cannot resume in status %s", instanceID, inst.Status)
	}
	if _, ok := inst.Blocking(activityID); !ok {
		return nil, fmt.Errorf("instance %s activity %s: %w", instanceID, activityID, api.ErrUnknownResumeTarget)
	}

	def, err := e.definitions.GetDefinition(ctx, inst.DefinitionID, inst.DefinitionVersion)
	if err != nil {
		return nil, err
	}

	owner := newRunOwner()
	expires := e.clock().Add(e.leaseTTL)
	acquired, err := e.instances.TryAcquireLease(ctx, inst.ID, owner, expires)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, fmt.Errorf("instance %s: %w", inst.ID, api.ErrInstanceLocked)
	}
	inst.LockOwner, inst.LockedUntil = owner, expires

	wc, err := e.buildContext(def, inst, input)
	if err != nil {
		e.releaseLease(ctx, inst.ID, owner)
		return nil, err
	}

	// The trigger payload joins the variable scope, like the start input.
	for k, v := range input {
		inst.SetVariable(k, v)
	}

	if err := inst.MarkResuming(); err != nil {
		e.releaseLease(ctx, inst.ID, owner)
		return nil, err
	}
	inst.RemoveBlocking(activityID)

	e.notifyInput(wc, input)
	e.notifyWorkflow(ctx, wc, "resuming", api.WorkflowListener.OnWorkflowResuming)
	e.observer.OnWorkflowResuming(ctx, inst)
	e.bufferEvent(wc, api.EventWorkflowResumed, activityID, "")

	e.runLoop(ctx, wc, []workItem{{activityID: activityID, resume: true}})
	e.finalize(ctx, wc)
	e.notifyWorkflow(ctx, wc, "resumed", api.WorkflowListener.OnWorkflowResumed)

	inst.LockOwner, inst.LockedUntil = "", time.Time{}
	if err := e.instances.SaveInstance(ctx, inst); err != nil {
		e.releaseLease(ctx, inst.ID, owner)
		return inst, err
	}
	e.flushEvents(ctx, wc)
	e.releaseLease(ctx, inst.ID, owner)
	return inst, nil
}

// runLoop drains the work list breadth-first: parallel branches interleave
// invocation by invocation instead of one branch running to completion
// first. A fault stops the loop; a halt only parks its own branch.
func (e *engineImpl) runLoop(ctx context.Context, wc *api.ExecutionContext, queue []workItem) {
	inst := wc.Instance
	steps := 0

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			e.fault(ctx, wc, fmt.Sprintf("run canceled: %v", err))
			return
		}

		item := queue[0]
		queue = queue[1:]

		ac, ok := wc.Activities[item.activityID]
		if !ok {
			e.fault(ctx, wc, fmt.Sprintf("transition references unknown activity %q", item.activityID))
			return
		}
		ac.Inbound = item.inbound
		ac.InboundOrdinal = item.ordinal

		steps++
		if steps > e.maxSteps {
			e.fault(ctx, wc, fmt.Sprintf("activity budget of %d invocations exceeded", e.maxSteps))
			return
		}

		eligible, err := ac.Activity.CanExecute(ctx, wc, ac)
		if err != nil {
			e.fault(ctx, wc, fmt.Sprintf("activity %s guard: %v", ac.ID(), err))
			return
		}
		if !eligible {
			// Guarded out: the branch ends here without an outcome.
			continue
		}

		e.observer.OnActivityExecuting(ctx, inst, ac.ID(), ac.TypeName())
		e.notifyActivity(ctx, wc, ac, "executing", api.ActivityListener.OnActivityExecuting)

		started := e.clock().UTC()
		var res api.ActivityExecutionResult
		if item.resume {
			res = ac.Activity.Resume(ctx, wc, ac)
		} else {
			res = ac.Activity.Execute(ctx, wc, ac)
		}
		finished := e.clock().UTC()

		if res.Err != nil {
			e.fault(ctx, wc, fmt.Sprintf("activity %s: %v", ac.ID(), res.Err))
			return
		}

		if res.Halted {
			// The activity enters the blocking set and is not part of the
			// trace until it actually resumes. Remaining branches drain.
			inst.AddBlocking(api.BlockingActivity{
				ActivityID: ac.ID(),
				TypeName:   ac.TypeName(),
				Binding:    res.Binding,
			})
			e.bufferEvent(wc, api.EventActivityHalted, ac.ID(), "")
			continue
		}

		inst.RecordExecuted(api.ExecutedActivity{
			ActivityID:  ac.ID(),
			TypeName:    ac.TypeName(),
			StartedUTC:  started,
			FinishedUTC: finished,
			Outcomes:    res.Outcomes,
		})
		wc.RunTrace = append(wc.RunTrace, ac.ID())

		e.observer.OnActivityExecuted(ctx, inst, ac.ID(), ac.TypeName(), res.Outcomes, finished.Sub(started))
		e.notifyActivity(ctx, wc, ac, "executed", api.ActivityListener.OnActivityExecuted)
		e.bufferEvent(wc, api.EventActivityExecuted, ac.ID(), strings.Join(res.Outcomes, ","))

		// Duplicate identical edges each schedule the destination, numbered
		// so a join can tell the arrivals apart.
		dup := make(map[api.Transition]int)
		for _, outcome := range res.Outcomes {
			for _, t := range wc.Definition.TransitionsFrom(ac.ID(), outcome) {
				t := t
				ord := dup[t]
				dup[t] = ord + 1
				queue = append(queue, workItem{activityID: t.DestinationActivityID, inbound: &t, ordinal: ord})
			}
		}
	}
}

// fault moves the instance to Faulted with the given message. The run
// still persists afterwards; a fault is a state, not a lost write.
func (e *engineImpl) fault(ctx context.Context, wc *api.ExecutionContext, message string) {
	inst := wc.Instance
	if err := inst.MarkFaulted(message); err != nil {
		e.logger.WarnContext(ctx, "fault transition failed",
			slog.String("instance_id", inst.ID), slog.Any("error", err))
		inst.Status = api.StatusFaulted
		inst.FaultMessage = message
	}
	e.observer.OnWorkflowFaulted(ctx, inst, message)
	e.bufferEvent(wc, api.EventWorkflowFaulted, "", message)
}

// finalize settles the terminal-or-halted status once the work list has
// drained: a non-empty blocking set means Halted, otherwise Finished.
func (e *engineImpl) finalize(ctx context.Context, wc *api.ExecutionContext) {
	inst := wc.Instance
	if inst.Status == api.StatusFaulted {
		return
	}

	if len(inst.BlockingActivities) > 0 {
		if err := inst.MarkHalted(); err != nil {
			e.fault(ctx, wc, err.Error())
			return
		}
		e.observer.OnWorkflowHalted(ctx, inst)
		e.bufferEvent(wc, api.EventWorkflowHalted, "", "")
		return
	}

	if err := inst.MarkFinished(); err != nil {
		e.fault(ctx, wc, err.Error())
		return
	}
	e.observer.OnWorkflowFinished(ctx, inst)
	e.bufferEvent(wc, api.EventWorkflowFinished, "", "")
}

// buildContext resolves one fresh activity instance per node and assembles
// the run state.
func (e *engineImpl) buildContext(def api.WorkflowDefinition, inst *api.WorkflowInstance, input map[string]any) (*api.ExecutionContext, error) {
	wc := api.NewExecutionContext(def, inst, input, e.evaluator, e.logger)
	wc.Now = e.clock
	for _, a := range def.Activities {
		activity, err := e.catalog.CreateInstance(a.TypeName)
		if err != nil {
			return nil, fmt.Errorf("definition %q activity %q: %w", def.ID, a.ID, err)
		}
		wc.Activities[a.ID] = &api.ActivityContext{ActivityDefinition: a, Activity: activity}
	}
	return wc, nil
}

// Listener broadcasts. Every activity of the run that implements the
// matching interface is notified, in definition order. Listener errors are
// logged and do not fault the run.

func (e *engineImpl) notifyInput(wc *api.ExecutionContext, input map[string]any) {
	for _, a := range wc.Definition.Activities {
		if l, ok := wc.Activities[a.ID].Activity.(api.InputListener); ok {
			if err := l.OnInputReceived(wc, input); err != nil {
				e.logger.Warn("input listener failed",
					slog.String("instance_id", wc.Instance.ID),
					slog.String("activity_id", a.ID),
					slog.Any("error", err),
				)
			}
		}
	}
}

func (e *engineImpl) notifyWorkflow(ctx context.Context, wc *api.ExecutionContext, phase string, f func(api.WorkflowListener, context.Context, *api.ExecutionContext) error) {
	for _, a := range wc.Definition.Activities {
		if l, ok := wc.Activities[a.ID].Activity.(api.WorkflowListener); ok {
			if err := f(l, ctx, wc); err != nil {
				e.logger.WarnContext(ctx, "workflow listener failed",
					slog.String("instance_id", wc.Instance.ID),
					slog.String("activity_id", a.ID),
					slog.String("phase", phase),
					slog.Any("error", err),
				)
			}
		}
	}
}

func (e *engineImpl) notifyActivity(ctx context.Context, wc *api.ExecutionContext, ac *api.ActivityContext, phase string, f func(api.ActivityListener, context.Context, *api.ExecutionContext, *api.ActivityContext) error) {
	for _, a := range wc.Definition.Activities {
		if l, ok := wc.Activities[a.ID].Activity.(api.ActivityListener); ok {
			if err := f(l, ctx, wc, ac); err != nil {
				e.logger.WarnContext(ctx, "activity listener failed",
					slog.String("instance_id", wc.Instance.ID),
					slog.String("activity_id", a.ID),
					slog.String("phase", phase),
					slog.Any("error", err),
				)
			}
		}
	}
}

// releaseLease releases with a log on failure; the lease expires on its
// own either way.
func (e *engineImpl) releaseLease(ctx context.Context, instanceID, owner string) {
	if err := e.instances.ReleaseLease(ctx, instanceID, owner); err != nil {
		e.logger.WarnContext(ctx, "lease release failed",
			slog.String("instance_id", instanceID), slog.Any("error", err))
	}
}
