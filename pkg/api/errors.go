package api

import (
	"errors"
	"fmt"
)

var (
	// ErrDefinitionNotFound is returned when a workflow definition (or the
	// requested version of it) does not exist.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrInstanceNotFound is returned when a workflow instance is not found.
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrDefinitionDisabled is returned when starting a workflow whose
	// definition is not enabled.
	ErrDefinitionDisabled = errors.New("workflow definition is disabled")

	// ErrConcurrencyConflict is returned when a save is rejected because the
	// stored instance changed since it was loaded. The in-memory progress of
	// the losing run is discarded; the caller may retry the whole call.
	ErrConcurrencyConflict = errors.New("workflow instance was modified concurrently")

	// ErrInstanceLocked is returned when a start or resume cannot acquire
	// the instance lease because another run holds it. It matches
	// errors.Is(err, ErrConcurrencyConflict).
	ErrInstanceLocked = fmt.Errorf("%w: instance lease is held by another run", ErrConcurrencyConflict)

	// ErrUnknownResumeTarget is returned when ResumeWorkflow names an
	// activity that is not in the instance's blocking set. The persisted
	// instance is left unchanged.
	ErrUnknownResumeTarget = errors.New("activity is not awaiting resumption")
)
