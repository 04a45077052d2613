package api

import (
	"time"

	"github.com/google/uuid"
)

// ExecutedActivity is one entry of the cumulative execution trace.
type ExecutedActivity struct {
	ActivityID  string    `json:"activityId"`
	TypeName    string    `json:"typeName"`
	StartedUTC  time.Time `json:"startedUtc"`
	FinishedUTC time.Time `json:"finishedUtc"`
	Outcomes    []string  `json:"outcomes,omitempty"`
}

// BlockingActivity is an activity at which the instance is suspended,
// awaiting resumption. Binding carries small matching data (the signal name
// it listens for, the time a timer is due) so triggers can be routed
// without rebuilding the run.
type BlockingActivity struct {
	ActivityID string            `json:"activityId"`
	TypeName   string            `json:"typeName"`
	Binding    map[string]string `json:"binding,omitempty"`
}

// WorkflowInstance is the persisted state of one workflow run. It is owned
// by the instance store once saved and mutated only by the engine while it
// holds the lease. Finished and faulted instances are kept for audit; the
// engine never deletes them.
type WorkflowInstance struct {
	ID                string `json:"id"`
	DefinitionID      string `json:"definitionId"`
	DefinitionVersion int    `json:"definitionVersion"`

	// CorrelationID groups all instances related to one external entity.
	// Empty means uncorrelated.
	CorrelationID string `json:"correlationId,omitempty"`

	Status Status `json:"status"`

	Input     map[string]any `json:"input,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`

	ExecutedActivities []ExecutedActivity `json:"executedActivities,omitempty"`
	BlockingActivities []BlockingActivity `json:"blockingActivities,omitempty"`

	// JoinArrivals records, per join activity id, which inbound edges have
	// arrived. Edge keys carry the source, outcome, and an ordinal so
	// duplicate identical edges count separately. It persists across
	// halt/resume cycles so a join spanning several runs still fires
	// exactly once.
	JoinArrivals map[string][]string `json:"joinArrivals,omitempty"`

	FaultMessage string `json:"faultMessage,omitempty"`

	// LockOwner and LockedUntil implement the instance lease: at most one
	// run executes an instance at a time.
	LockOwner   string    `json:"lockOwner,omitempty"`
	LockedUntil time.Time `json:"lockedUntil,omitempty"`

	// Revision is the optimistic-concurrency counter maintained by the
	// store. Zero means never saved.
	Revision int64 `json:"revision"`

	CreatedUTC time.Time `json:"createdUtc"`
	UpdatedUTC time.Time `json:"updatedUtc"`
}

// NewWorkflowInstance creates an Idle instance for the given definition.
// The input map is recorded verbatim and additionally copied into the
// variable scope so expressions can reference input values by name.
func NewWorkflowInstance(def WorkflowDefinition, input map[string]any, correlationID string) *WorkflowInstance {
	now := time.Now().UTC()
	vars := make(map[string]any, len(input))
	for k, v := range input {
		vars[k] = v
	}
	return &WorkflowInstance{
		ID:                uuid.NewString(),
		DefinitionID:      def.ID,
		DefinitionVersion: def.Version,
		CorrelationID:     correlationID,
		Status:            StatusIdle,
		Input:             input,
		Variables:         vars,
		CreatedUTC:        now,
		UpdatedUTC:        now,
	}
}

// IsTerminal reports whether the instance reached a final status.
func (w *WorkflowInstance) IsTerminal() bool {
	return w.Status == StatusFinished || w.Status == StatusFaulted
}

// Blocking returns the blocking record for the given activity id.
func (w *WorkflowInstance) Blocking(activityID string) (BlockingActivity, bool) {
	for _, b := range w.BlockingActivities {
		if b.ActivityID == activityID {
			return b, true
		}
	}
	return BlockingActivity{}, false
}

// AddBlocking records a blocking activity. Adding the same activity id
// twice replaces the earlier record.
func (w *WorkflowInstance) AddBlocking(b BlockingActivity) {
	for i, existing := range w.BlockingActivities {
		if existing.ActivityID == b.ActivityID {
			w.BlockingActivities[i] = b
			return
		}
	}
	w.BlockingActivities = append(w.BlockingActivities, b)
}

// RemoveBlocking removes the blocking record for the given activity id and
// reports whether one was present.
func (w *WorkflowInstance) RemoveBlocking(activityID string) bool {
	for i, b := range w.BlockingActivities {
		if b.ActivityID == activityID {
			w.BlockingActivities = append(w.BlockingActivities[:i], w.BlockingActivities[i+1:]...)
			return true
		}
	}
	return false
}

// RecordExecuted appends an entry to the cumulative trace.
func (w *WorkflowInstance) RecordExecuted(e ExecutedActivity) {
	w.ExecutedActivities = append(w.ExecutedActivities, e)
}

// Arrive records that the inbound edge identified by edgeKey reached the
// join with the given activity id, and returns the number of distinct
// arrivals recorded so far. Re-arrival over the same edge (a loop around
// the join) does not count twice.
func (w *WorkflowInstance) Arrive(joinID, edgeKey string) int {
	if w.JoinArrivals == nil {
		w.JoinArrivals = make(map[string][]string)
	}
	arrived := w.JoinArrivals[joinID]
	for _, k := range arrived {
		if k == edgeKey {
			return len(arrived)
		}
	}
	arrived = append(arrived, edgeKey)
	w.JoinArrivals[joinID] = arrived
	return len(arrived)
}

// ClearArrivals resets the arrival set of a join after it fires, so a loop
// back through the fork starts a fresh rendezvous.
func (w *WorkflowInstance) ClearArrivals(joinID string) {
	if w.JoinArrivals != nil {
		delete(w.JoinArrivals, joinID)
	}
}

// GetVariable returns a scoped variable.
func (w *WorkflowInstance) GetVariable(name string) (any, bool) {
	v, ok := w.Variables[name]
	return v, ok
}

// SetVariable sets a scoped variable.
func (w *WorkflowInstance) SetVariable(name string, value any) {
	if w.Variables == nil {
		w.Variables = make(map[string]any)
	}
	w.Variables[name] = value
}

// SetOutput records an output value of the run.
func (w *WorkflowInstance) SetOutput(name string, value any) {
	if w.Output == nil {
		w.Output = make(map[string]any)
	}
	w.Output[name] = value
}
