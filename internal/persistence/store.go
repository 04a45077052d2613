// Package persistence contains the storage backends for workflow
// definitions, instances, and audit events. All engine state that must
// survive a restart flows through these interfaces.
//
// Instance writes are guarded two ways: a revision counter rejects lost
// updates (ErrConcurrencyConflict), and a lease serializes runs so at most
// one goroutine or process executes an instance at a time.
package persistence

import (
	"context"
	"time"

	"github.com/petrijr/ramify/pkg/api"
)

// DefinitionStore stores versioned workflow definitions.
type DefinitionStore interface {
	// SaveDefinition stores a definition. Saving an already-known
	// (id, version) pair fails; changes are published as a new version.
	SaveDefinition(ctx context.Context, def api.WorkflowDefinition) error

	// GetDefinition returns the definition with the given id and version.
	// Version 0 selects the latest stored version. Returns
	// api.ErrDefinitionNotFound when absent.
	GetDefinition(ctx context.Context, id string, version int) (api.WorkflowDefinition, error)

	// ListDefinitions returns the latest version of every stored
	// definition, ordered by id.
	ListDefinitions(ctx context.Context) ([]api.WorkflowDefinition, error)
}

// InstanceFilter narrows ListInstances results. Zero values mean "no
// filter" for that field.
type InstanceFilter struct {
	DefinitionID  string
	CorrelationID string
	Status        api.Status
}

// InstanceStore stores workflow instances and their run leases.
//
// Stores hand out copies: mutating a returned instance does not change the
// stored state until it is saved back.
type InstanceStore interface {
	// SaveInstance persists the instance with an optimistic-concurrency
	// check: the stored revision must equal inst.Revision. On success both
	// the stored and the in-memory revision are incremented, so the caller
	// can keep saving the same value. A new instance must carry revision 0.
	// A mismatch fails with api.ErrConcurrencyConflict.
	SaveInstance(ctx context.Context, inst *api.WorkflowInstance) error

	// GetInstance returns the instance with the given id, or
	// api.ErrInstanceNotFound.
	GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error)

	// GetInstancesByCorrelation returns all instances with the given
	// correlation id.
	GetInstancesByCorrelation(ctx context.Context, correlationID string) ([]*api.WorkflowInstance, error)

	// ListInstances returns all instances matching the filter.
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.WorkflowInstance, error)

	// DeleteInstance removes an instance and its lease. Deleting an absent
	// instance is not an error.
	DeleteInstance(ctx context.Context, id string) error

	// TryAcquireLease attempts to take the run lease for an instance until
	// expiresAt. It succeeds when the lease is free, expired, or already
	// held by the same owner, and reports whether it was acquired.
	TryAcquireLease(ctx context.Context, instanceID, owner string, expiresAt time.Time) (bool, error)

	// RenewLease extends a lease the owner already holds. It fails when
	// the lease was lost.
	RenewLease(ctx context.Context, instanceID, owner string, expiresAt time.Time) error

	// ReleaseLease releases a lease held by owner. Releasing a lease that
	// is no longer held is not an error.
	ReleaseLease(ctx context.Context, instanceID, owner string) error
}

// Persistence bundles the stores an engine runs on. Events is optional;
// nil disables audit history.
type Persistence struct {
	Definitions DefinitionStore
	Instances   InstanceStore
	Events      EventStore
}
