package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be
// done asynchronously so as not to delay workflow execution. Observer
// failures never change instance state.
type Observer interface {
	// OnWorkflowStarting is called once when an instance is about to run
	// for the first time, before the first activity executes.
	OnWorkflowStarting(ctx context.Context, inst *WorkflowInstance)

	// OnWorkflowResuming is called when a halted instance is about to
	// resume.
	OnWorkflowResuming(ctx context.Context, inst *WorkflowInstance)

	// OnWorkflowHalted is called when a run suspends with a non-empty
	// blocking set.
	OnWorkflowHalted(ctx context.Context, inst *WorkflowInstance)

	// OnWorkflowFinished is called when an instance reaches StatusFinished.
	OnWorkflowFinished(ctx context.Context, inst *WorkflowInstance)

	// OnWorkflowFaulted is called when an instance reaches StatusFaulted.
	OnWorkflowFaulted(ctx context.Context, inst *WorkflowInstance, message string)

	// OnActivityExecuting is called before an activity is invoked.
	OnActivityExecuting(ctx context.Context, inst *WorkflowInstance, activityID, typeName string)

	// OnActivityExecuted is called after an activity invocation produced
	// outcomes (halts and faults are reported through the workflow-level
	// callbacks instead).
	OnActivityExecuted(ctx context.Context, inst *WorkflowInstance, activityID, typeName string, outcomes []string, duration time.Duration)
}

// NoopObserver is an Observer that does nothing. It is the default when no
// observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnWorkflowStarting(ctx context.Context, inst *WorkflowInstance) {}
func (NoopObserver) OnWorkflowResuming(ctx context.Context, inst *WorkflowInstance) {}
func (NoopObserver) OnWorkflowHalted(ctx context.Context, inst *WorkflowInstance)   {}
func (NoopObserver) OnWorkflowFinished(ctx context.Context, inst *WorkflowInstance) {}
func (NoopObserver) OnWorkflowFaulted(ctx context.Context, inst *WorkflowInstance, message string) {
}
func (NoopObserver) OnActivityExecuting(ctx context.Context, inst *WorkflowInstance, activityID, typeName string) {
}
func (NoopObserver) OnActivityExecuted(ctx context.Context, inst *WorkflowInstance, activityID, typeName string, outcomes []string, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnWorkflowStarting(ctx context.Context, inst *WorkflowInstance) {
	for _, o := range c.observers {
		o.OnWorkflowStarting(ctx, inst)
	}
}

func (c *CompositeObserver) OnWorkflowResuming(ctx context.Context, inst *WorkflowInstance) {
	for _, o := range c.observers {
		o.OnWorkflowResuming(ctx, inst)
	}
}

func (c *CompositeObserver) OnWorkflowHalted(ctx context.Context, inst *WorkflowInstance) {
	for _, o := range c.observers {
		o.OnWorkflowHalted(ctx, inst)
	}
}

func (c *CompositeObserver) OnWorkflowFinished(ctx context.Context, inst *WorkflowInstance) {
	for _, o := range c.observers {
		o.OnWorkflowFinished(ctx, inst)
	}
}

func (c *CompositeObserver) OnWorkflowFaulted(ctx context.Context, inst *WorkflowInstance, message string) {
	for _, o := range c.observers {
		o.OnWorkflowFaulted(ctx, inst, message)
	}
}

func (c *CompositeObserver) OnActivityExecuting(ctx context.Context, inst *WorkflowInstance, activityID, typeName string) {
	for _, o := range c.observers {
		o.OnActivityExecuting(ctx, inst, activityID, typeName)
	}
}

func (c *CompositeObserver) OnActivityExecuted(ctx context.Context, inst *WorkflowInstance, activityID, typeName string, outcomes []string, d time.Duration) {
	for _, o := range c.observers {
		o.OnActivityExecuted(ctx, inst, activityID, typeName, outcomes, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs lifecycle events using
// the provided slog.Logger. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnWorkflowStarting(ctx context.Context, inst *WorkflowInstance) {
	o.Logger.InfoContext(ctx, "workflow_starting",
		slog.String("definition", inst.DefinitionID),
		slog.String("instance_id", inst.ID),
		slog.String("correlation_id", inst.CorrelationID),
	)
}

func (o *LoggingObserver) OnWorkflowResuming(ctx context.Context, inst *WorkflowInstance) {
	o.Logger.InfoContext(ctx, "workflow_resuming",
		slog.String("definition", inst.DefinitionID),
		slog.String("instance_id", inst.ID),
	)
}

func (o *LoggingObserver) OnWorkflowHalted(ctx context.Context, inst *WorkflowInstance) {
	o.Logger.InfoContext(ctx, "workflow_halted",
		slog.String("definition", inst.DefinitionID),
		slog.String("instance_id", inst.ID),
		slog.Int("blocking", len(inst.BlockingActivities)),
	)
}

func (o *LoggingObserver) OnWorkflowFinished(ctx context.Context, inst *WorkflowInstance) {
	o.Logger.InfoContext(ctx, "workflow_finished",
		slog.String("definition", inst.DefinitionID),
		slog.String("instance_id", inst.ID),
	)
}

func (o *LoggingObserver) OnWorkflowFaulted(ctx context.Context, inst *WorkflowInstance, message string) {
	o.Logger.ErrorContext(ctx, "workflow_faulted",
		slog.String("definition", inst.DefinitionID),
		slog.String("instance_id", inst.ID),
		slog.String("fault", message),
	)
}

func (o *LoggingObserver) OnActivityExecuting(ctx context.Context, inst *WorkflowInstance, activityID, typeName string) {
	o.Logger.DebugContext(ctx, "activity_executing",
		slog.String("instance_id", inst.ID),
		slog.String("activity_id", activityID),
		slog.String("activity_type", typeName),
	)
}

func (o *LoggingObserver) OnActivityExecuted(ctx context.Context, inst *WorkflowInstance, activityID, typeName string, outcomes []string, d time.Duration) {
	o.Logger.DebugContext(ctx, "activity_executed",
		slog.String("instance_id", inst.ID),
		slog.String("activity_id", activityID),
		slog.String("activity_type", typeName),
		slog.Any("outcomes", outcomes),
		slog.Duration("duration", d),
	)
}

// BasicMetrics collects simple counters and aggregate activity durations.
// It implements Observer and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	workflowsStarted     atomic.Int64
	workflowsResumed     atomic.Int64
	workflowsHalted      atomic.Int64
	workflowsFinished    atomic.Int64
	workflowsFaulted     atomic.Int64
	activitiesExecuted   atomic.Int64
	totalActivityRuntime atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	WorkflowsStarted  int64
	WorkflowsResumed  int64
	WorkflowsHalted   int64
	WorkflowsFinished int64
	WorkflowsFaulted  int64

	ActivitiesExecuted  int64
	AvgActivityDuration time.Duration
}

func (m *BasicMetrics) OnWorkflowStarting(ctx context.Context, inst *WorkflowInstance) {
	m.workflowsStarted.Add(1)
}

func (m *BasicMetrics) OnWorkflowResuming(ctx context.Context, inst *WorkflowInstance) {
	m.workflowsResumed.Add(1)
}

func (m *BasicMetrics) OnWorkflowHalted(ctx context.Context, inst *WorkflowInstance) {
	m.workflowsHalted.Add(1)
}

func (m *BasicMetrics) OnWorkflowFinished(ctx context.Context, inst *WorkflowInstance) {
	m.workflowsFinished.Add(1)
}

func (m *BasicMetrics) OnWorkflowFaulted(ctx context.Context, inst *WorkflowInstance, message string) {
	m.workflowsFaulted.Add(1)
}

func (m *BasicMetrics) OnActivityExecuted(ctx context.Context, inst *WorkflowInstance, activityID, typeName string, outcomes []string, d time.Duration) {
	m.activitiesExecuted.Add(1)
	m.totalActivityRuntime.Add(d.Nanoseconds())
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	executed := m.activitiesExecuted.Load()
	totalNs := m.totalActivityRuntime.Load()

	var avg time.Duration
	if executed > 0 {
		avg = time.Duration(totalNs / executed)
	}

	return BasicMetricsSnapshot{
		WorkflowsStarted:    m.workflowsStarted.Load(),
		WorkflowsResumed:    m.workflowsResumed.Load(),
		WorkflowsHalted:     m.workflowsHalted.Load(),
		WorkflowsFinished:   m.workflowsFinished.Load(),
		WorkflowsFaulted:    m.workflowsFaulted.Load(),
		ActivitiesExecuted:  executed,
		AvgActivityDuration: avg,
	}
}
