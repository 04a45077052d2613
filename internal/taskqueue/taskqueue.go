// Package taskqueue provides the async work queue behind the worker pool:
// start, resume, and signal requests that should run on a background
// goroutine instead of the caller's.
package taskqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TaskType identifies what the worker should do with a task.
type TaskType string

const (
	// TaskTypeStartWorkflow starts a new instance of a definition.
	TaskTypeStartWorkflow TaskType = "start-workflow"

	// TaskTypeResume resumes a halted instance at a blocking activity.
	TaskTypeResume TaskType = "resume"

	// TaskTypeSignal delivers a named signal to matching halted instances.
	TaskTypeSignal TaskType = "signal"
)

// Task is one unit of background work.
type Task struct {
	ID   string
	Type TaskType

	// For start-workflow tasks.
	DefinitionID      string
	DefinitionVersion int
	CorrelationID     string

	// For resume tasks.
	InstanceID string
	ActivityID string

	// For signal tasks (CorrelationID narrows the delivery).
	SignalName string

	// Input is the start input, resume payload, or signal payload.
	Input map[string]any

	EnqueuedAt time.Time

	// NotBefore is the earliest time this task is eligible for
	// processing. Zero means immediately.
	NotBefore time.Time
}

// NewTask returns a task of the given type with a fresh id and enqueue
// timestamp.
func NewTask(t TaskType) Task {
	return Task{ID: uuid.NewString(), Type: t, EnqueuedAt: time.Now().UTC()}
}

// Queue is the async task queue contract.
type Queue interface {
	// Enqueue adds a task, respecting ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next eligible task, blocking until
	// one is available or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}
