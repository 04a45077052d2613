// Package worker executes queued workflow tasks on background goroutines:
// deferred starts, resume deliveries, and signal fan-out.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/petrijr/ramify/internal/taskqueue"
	"github.com/petrijr/ramify/pkg/api"
)

// Worker pulls tasks from a Queue and executes them against an Engine.
// Tasks that lose a concurrency race (another run holds the instance) are
// retried with backoff before being reported as failed.
type Worker struct {
	engine api.Engine
	queue  taskqueue.Queue
	logger *slog.Logger
}

// New creates a Worker. A nil logger means slog.Default().
func New(engine api.Engine, queue taskqueue.Queue, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{engine: engine, queue: queue, logger: logger}
}

// EnqueueStartWorkflow queues an asynchronous workflow start. The run
// happens in ProcessOne, not here.
func (w *Worker) EnqueueStartWorkflow(ctx context.Context, definitionID string, input map[string]any, correlationID string) error {
	t := taskqueue.NewTask(taskqueue.TaskTypeStartWorkflow)
	t.DefinitionID = definitionID
	t.CorrelationID = correlationID
	t.Input = input
	return w.queue.Enqueue(ctx, t)
}

// EnqueueStartWorkflowAt is EnqueueStartWorkflow deferred to no earlier
// than at.
func (w *Worker) EnqueueStartWorkflowAt(ctx context.Context, definitionID string, input map[string]any, correlationID string, at time.Time) error {
	t := taskqueue.NewTask(taskqueue.TaskTypeStartWorkflow)
	t.DefinitionID = definitionID
	t.CorrelationID = correlationID
	t.Input = input
	t.NotBefore = at
	return w.queue.Enqueue(ctx, t)
}

// EnqueueResume queues the resumption of a halted instance at the given
// blocking activity.
func (w *Worker) EnqueueResume(ctx context.Context, instanceID, activityID string, input map[string]any) error {
	t := taskqueue.NewTask(taskqueue.TaskTypeResume)
	t.InstanceID = instanceID
	t.ActivityID = activityID
	t.Input = input
	return w.queue.Enqueue(ctx, t)
}

// EnqueueSignal queues the delivery of a named signal. A non-empty
// correlationID narrows delivery to correlated instances.
func (w *Worker) EnqueueSignal(ctx context.Context, signalName, correlationID string, payload map[string]any) error {
	t := taskqueue.NewTask(taskqueue.TaskTypeSignal)
	t.SignalName = signalName
	t.CorrelationID = correlationID
	t.Input = payload
	return w.queue.Enqueue(ctx, t)
}

// EnqueueSignalAt is EnqueueSignal deferred to no earlier than at.
func (w *Worker) EnqueueSignalAt(ctx context.Context, signalName, correlationID string, payload map[string]any, at time.Time) error {
	t := taskqueue.NewTask(taskqueue.TaskTypeSignal)
	t.SignalName = signalName
	t.CorrelationID = correlationID
	t.Input = payload
	t.NotBefore = at
	return w.queue.Enqueue(ctx, t)
}

// ProcessOne pulls a single task from the queue and processes it. It
// returns (processed, error): processed reports whether a task was taken
// off the queue, and the error reports how handling it went.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	// In-memory queues hand out deferred tasks immediately; wait out the
	// remainder here.
	if wait := time.Until(task.NotBefore); wait > 0 {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(wait):
		}
	}

	return true, w.handle(ctx, task)
}

func (w *Worker) handle(ctx context.Context, task *taskqueue.Task) error {
	backoff := retry.WithMaxRetries(5, retry.NewExponential(50*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		switch task.Type {
		case taskqueue.TaskTypeStartWorkflow:
			if task.DefinitionVersion > 0 {
				_, err = w.engine.StartWorkflowVersion(ctx, task.DefinitionID, task.DefinitionVersion, task.Input, task.CorrelationID)
			} else {
				_, err = w.engine.StartWorkflow(ctx, task.DefinitionID, task.Input, task.CorrelationID)
			}

		case taskqueue.TaskTypeResume:
			_, err = w.engine.ResumeWorkflow(ctx, task.InstanceID, task.ActivityID, task.Input)

		case taskqueue.TaskTypeSignal:
			_, err = w.engine.TriggerSignal(ctx, task.SignalName, task.CorrelationID, task.Input)

		default:
			return fmt.Errorf("unknown task type %q", task.Type)
		}

		// Lost concurrency races resolve once the competing run releases
		// its lease.
		if errors.Is(err, api.ErrConcurrencyConflict) {
			w.logger.DebugContext(ctx, "task lost concurrency race, retrying",
				slog.String("task_id", task.ID),
				slog.String("task_type", string(task.Type)),
			)
			return retry.RetryableError(err)
		}
		return err
	})
}
