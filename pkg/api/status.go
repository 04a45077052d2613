package api

import (
	"context"
	"fmt"

	"github.com/qmuntal/stateless"
)

// Status is the lifecycle state of a workflow instance.
type Status string

const (
	// StatusIdle: created but not yet executed.
	StatusIdle Status = "IDLE"
	// StatusStarting: the first run is executing.
	StatusStarting Status = "STARTING"
	// StatusResuming: a resume run is executing.
	StatusResuming Status = "RESUMING"
	// StatusHalted: suspended at one or more blocking activities, resumable.
	StatusHalted Status = "HALTED"
	// StatusFinished: completed normally. Terminal.
	StatusFinished Status = "FINISHED"
	// StatusFaulted: aborted with a fault message. Terminal.
	StatusFaulted Status = "FAULTED"
)

type statusTrigger string

const (
	triggerStart  statusTrigger = "start"
	triggerResume statusTrigger = "resume"
	triggerHalt   statusTrigger = "halt"
	triggerFinish statusTrigger = "finish"
	triggerFault  statusTrigger = "fault"
)

// statusMachine guards instance status transitions. The machine stores its
// state externally on the instance, so the instance value remains the
// single source of truth for persistence.
func (w *WorkflowInstance) statusMachine() *stateless.StateMachine {
	sm := stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) { return w.Status, nil },
		func(_ context.Context, s stateless.State) error {
			w.Status = s.(Status)
			return nil
		},
		stateless.FiringQueued,
	)

	sm.Configure(StatusIdle).
		Permit(triggerStart, StatusStarting)

	sm.Configure(StatusStarting).
		Permit(triggerHalt, StatusHalted).
		Permit(triggerFinish, StatusFinished).
		Permit(triggerFault, StatusFaulted)

	sm.Configure(StatusHalted).
		Permit(triggerResume, StatusResuming).
		Permit(triggerFault, StatusFaulted)

	sm.Configure(StatusResuming).
		Permit(triggerHalt, StatusHalted).
		Permit(triggerFinish, StatusFinished).
		Permit(triggerFault, StatusFaulted)

	return sm
}

func (w *WorkflowInstance) fire(t statusTrigger) error {
	if err := w.statusMachine().Fire(t); err != nil {
		return fmt.Errorf("instance %s: illegal status transition %q from %s: %w", w.ID, t, w.Status, err)
	}
	return nil
}

// MarkStarting transitions Idle -> Starting.
func (w *WorkflowInstance) MarkStarting() error { return w.fire(triggerStart) }

// MarkResuming transitions Halted -> Resuming.
func (w *WorkflowInstance) MarkResuming() error { return w.fire(triggerResume) }

// MarkHalted transitions a running instance to Halted.
func (w *WorkflowInstance) MarkHalted() error { return w.fire(triggerHalt) }

// MarkFinished transitions a running instance to Finished.
func (w *WorkflowInstance) MarkFinished() error { return w.fire(triggerFinish) }

// MarkFaulted transitions to Faulted and retains the fault message.
func (w *WorkflowInstance) MarkFaulted(message string) error {
	if err := w.fire(triggerFault); err != nil {
		return err
	}
	w.FaultMessage = message
	return nil
}
