package api

import "time"

// EventType identifies a workflow history event.
type EventType string

const (
	EventWorkflowStarted  EventType = "workflow.started"
	EventWorkflowResumed  EventType = "workflow.resumed"
	EventWorkflowHalted   EventType = "workflow.halted"
	EventWorkflowFinished EventType = "workflow.finished"
	EventWorkflowFaulted  EventType = "workflow.faulted"

	EventActivityExecuted EventType = "activity.executed"
	EventActivityHalted   EventType = "activity.halted"

	EventSignalReceived EventType = "signal.received"
)

// WorkflowEvent is a minimal append-only history record for audit and
// debugging. It is intentionally small and stable; richer history can be
// layered later.
type WorkflowEvent struct {
	InstanceID string
	At         time.Time
	Type       EventType

	// Optional context.
	DefinitionID      string
	DefinitionVersion int
	ActivityID        string

	// Small, human-oriented details (outcome names, signal name, fault
	// message). Keep this low-volume: do NOT dump large payloads here.
	Detail string
}
