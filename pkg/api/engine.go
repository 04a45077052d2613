package api

import (
	"context"
	"time"
)

// InstanceListOptions controls how instances are listed.
// Zero values mean "no filter" for that field.
type InstanceListOptions struct {
	// DefinitionID, if non-empty, limits results to instances of the given
	// workflow definition.
	DefinitionID string

	// CorrelationID, if non-empty, limits results to instances correlated
	// with the given external entity.
	CorrelationID string

	// Status, if non-empty, limits results to instances with the given
	// status.
	Status Status
}

// Engine is the high-level workflow engine API. A run (one StartWorkflow or
// one ResumeWorkflow call) executes synchronously on the calling goroutine
// until it finishes, faults, or suspends at a blocking activity.
//
// A faulted or halted run is a state, not an API error: the returned
// instance carries the outcome. Errors are reserved for API misuse
// (unknown definition, unknown resume target) and infrastructure failures
// (store errors, lost concurrency races).
type Engine interface {
	// Catalog returns the activity catalog used to resolve activity types.
	Catalog() *ActivityCatalog

	// RegisterDefinition validates and stores a workflow definition.
	// A zero Version is defaulted to 1. Registering an already-known
	// (id, version) pair is an error; publish changes as a new version.
	RegisterDefinition(ctx context.Context, def WorkflowDefinition) error

	// GetDefinition returns a stored definition. Version 0 selects the
	// latest registered version.
	GetDefinition(ctx context.Context, id string, version int) (WorkflowDefinition, error)

	// StartWorkflow creates a new instance of the latest enabled version of
	// the definition and runs it. correlationID may be empty.
	StartWorkflow(ctx context.Context, definitionID string, input map[string]any, correlationID string) (*WorkflowInstance, error)

	// StartWorkflowVersion is StartWorkflow pinned to an explicit version.
	StartWorkflowVersion(ctx context.Context, definitionID string, version int, input map[string]any, correlationID string) (*WorkflowInstance, error)

	// ResumeWorkflow resumes a halted instance at the given blocking
	// activity, handing it the input as the trigger payload. It fails with
	// ErrUnknownResumeTarget if the activity is not in the blocking set and
	// with ErrInstanceLocked/ErrConcurrencyConflict if it loses the race
	// against a concurrent run.
	ResumeWorkflow(ctx context.Context, instanceID, activityID string, input map[string]any) (*WorkflowInstance, error)

	// TriggerSignal resumes every halted instance that is blocked on a
	// signal activity bound to signalName. A non-empty correlationID
	// narrows the candidates to instances correlated with it. It returns
	// the instances that were resumed.
	TriggerSignal(ctx context.Context, signalName, correlationID string, payload map[string]any) ([]*WorkflowInstance, error)

	// ResumeDueTimers resumes every halted instance with a timer binding
	// due at or before now, and returns how many runs it triggered. Hosts
	// call this periodically (the Runner does it automatically).
	ResumeDueTimers(ctx context.Context, now time.Time) (int, error)

	// GetInstance looks up a workflow instance by id.
	GetInstance(ctx context.Context, id string) (*WorkflowInstance, error)

	// GetInstancesByCorrelation returns all instances correlated with the
	// given external entity id.
	GetInstancesByCorrelation(ctx context.Context, correlationID string) ([]*WorkflowInstance, error)

	// ListInstances returns instances matching the given options.
	ListInstances(ctx context.Context, opts InstanceListOptions) ([]*WorkflowInstance, error)
}

// HistoryReader allows reading an instance's audit event history when the
// engine is configured with an event store.
type HistoryReader interface {
	// ListEvents returns all events for an instance in chronological order.
	ListEvents(ctx context.Context, instanceID string) ([]WorkflowEvent, error)
}
