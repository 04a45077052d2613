package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/petrijr/ramify/pkg/api"
)

// MemoryDefinitionStore keeps workflow definitions in memory, versioned
// per id.
type MemoryDefinitionStore struct {
	mu   sync.RWMutex
	defs map[string]map[int]api.WorkflowDefinition
}

// NewMemoryDefinitionStore creates an empty in-memory definition store.
func NewMemoryDefinitionStore() *MemoryDefinitionStore {
	return &MemoryDefinitionStore{defs: make(map[string]map[int]api.WorkflowDefinition)}
}

func (s *MemoryDefinitionStore) SaveDefinition(ctx context.Context, def api.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.defs[def.ID]
	if versions == nil {
		versions = make(map[int]api.WorkflowDefinition)
		s.defs[def.ID] = versions
	}
	if _, exists := versions[def.Version]; exists {
		return fmt.Errorf("definition %s version %d already registered", def.ID, def.Version)
	}
	versions[def.Version] = def
	return nil
}

func (s *MemoryDefinitionStore) GetDefinition(ctx context.Context, id string, version int) (api.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.defs[id]
	if len(versions) == 0 {
		return api.WorkflowDefinition{}, fmt.Errorf("definition %s: %w", id, api.ErrDefinitionNotFound)
	}
	if version == 0 {
		for v := range versions {
			if v > version {
				version = v
			}
		}
	}
	def, ok := versions[version]
	if !ok {
		return api.WorkflowDefinition{}, fmt.Errorf("definition %s version %d: %w", id, version, api.ErrDefinitionNotFound)
	}
	return def, nil
}

func (s *MemoryDefinitionStore) ListDefinitions(ctx context.Context) ([]api.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]api.WorkflowDefinition, 0, len(s.defs))
	for _, versions := range s.defs {
		latest := 0
		for v := range versions {
			if v > latest {
				latest = v
			}
		}
		out = append(out, versions[latest])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// statusIndexer indexes instances by their Status field. A dedicated
// indexer instead of a StringFieldIndex because Status is a named string
// type.
type statusIndexer struct{}

func (statusIndexer) FromObject(obj any) (bool, []byte, error) {
	inst, ok := obj.(*api.WorkflowInstance)
	if !ok {
		return false, nil, fmt.Errorf("object is not a workflow instance: %T", obj)
	}
	if inst.Status == "" {
		return false, nil, nil
	}
	return true, []byte(string(inst.Status) + "\x00"), nil
}

func (statusIndexer) FromArgs(args ...any) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("status index takes exactly one argument")
	}
	switch v := args[0].(type) {
	case api.Status:
		return []byte(string(v) + "\x00"), nil
	case string:
		return []byte(v + "\x00"), nil
	default:
		return nil, fmt.Errorf("status index argument must be a status, got %T", args[0])
	}
}

const (
	instancesTable = "instances"

	indexID          = "id"
	indexCorrelation = "correlation"
	indexDefinition  = "definition"
	indexStatus      = "status"
)

var memorySchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		instancesTable: {
			Name: instancesTable,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:    indexID,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				indexCorrelation: {
					Name:         indexCorrelation,
					AllowMissing: true,
					Indexer:      &memdb.StringFieldIndex{Field: "CorrelationID"},
				},
				indexDefinition: {
					Name:    indexDefinition,
					Indexer: &memdb.StringFieldIndex{Field: "DefinitionID"},
				},
				indexStatus: {
					Name:    indexStatus,
					Indexer: &statusIndexer{},
				},
			},
		},
	},
}

type memoryLease struct {
	owner     string
	expiresAt time.Time
}

// MemoryInstanceStore keeps workflow instances in an indexed in-memory
// database. Correlation, definition, and status lookups go through memdb
// indexes rather than full scans.
type MemoryInstanceStore struct {
	db *memdb.MemDB

	leaseMu sync.Mutex
	leases  map[string]memoryLease
}

// NewMemoryInstanceStore creates an empty in-memory instance store.
func NewMemoryInstanceStore() (*MemoryInstanceStore, error) {
	db, err := memdb.NewMemDB(memorySchema)
	if err != nil {
		return nil, fmt.Errorf("create instance db: %w", err)
	}
	return &MemoryInstanceStore{db: db, leases: make(map[string]memoryLease)}, nil
}

func (s *MemoryInstanceStore) SaveInstance(ctx context.Context, inst *api.WorkflowInstance) error {
	stored, err := CloneInstance(inst)
	if err != nil {
		return err
	}
	stored.Revision++
	stored.UpdatedUTC = time.Now().UTC()

	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(instancesTable, indexID, inst.ID)
	if err != nil {
		return fmt.Errorf("save instance %s: %w", inst.ID, err)
	}
	current := int64(0)
	if raw != nil {
		current = raw.(*api.WorkflowInstance).Revision
	}
	if current != inst.Revision {
		return fmt.Errorf("save instance %s: stored revision %d, expected %d: %w",
			inst.ID, current, inst.Revision, api.ErrConcurrencyConflict)
	}

	if err := txn.Insert(instancesTable, stored); err != nil {
		return fmt.Errorf("save instance %s: %w", inst.ID, err)
	}
	txn.Commit()

	inst.Revision = stored.Revision
	inst.UpdatedUTC = stored.UpdatedUTC
	return nil
}

func (s *MemoryInstanceStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(instancesTable, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("get instance %s: %w", id, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("instance %s: %w", id, api.ErrInstanceNotFound)
	}
	return CloneInstance(raw.(*api.WorkflowInstance))
}

func (s *MemoryInstanceStore) GetInstancesByCorrelation(ctx context.Context, correlationID string) ([]*api.WorkflowInstance, error) {
	return s.ListInstances(ctx, InstanceFilter{CorrelationID: correlationID})
}

func (s *MemoryInstanceStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	// Iterate the most selective index available, then post-filter.
	index, arg := indexID, any(nil)
	switch {
	case filter.CorrelationID != "":
		index, arg = indexCorrelation, any(filter.CorrelationID)
	case filter.DefinitionID != "":
		index, arg = indexDefinition, any(filter.DefinitionID)
	case filter.Status != "":
		index, arg = indexStatus, any(filter.Status)
	}

	var it memdb.ResultIterator
	var err error
	if arg == nil {
		it, err = txn.Get(instancesTable, index)
	} else {
		it, err = txn.Get(instancesTable, index, arg)
	}
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}

	var out []*api.WorkflowInstance
	for raw := it.Next(); raw != nil; raw = it.Next() {
		inst := raw.(*api.WorkflowInstance)
		if !matchesFilter(inst, filter) {
			continue
		}
		clone, err := CloneInstance(inst)
		if err != nil {
			return nil, err
		}
		out = append(out, clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedUTC.Before(out[j].CreatedUTC) })
	return out, nil
}

func matchesFilter(inst *api.WorkflowInstance, filter InstanceFilter) bool {
	if filter.DefinitionID != "" && inst.DefinitionID != filter.DefinitionID {
		return false
	}
	if filter.CorrelationID != "" && inst.CorrelationID != filter.CorrelationID {
		return false
	}
	if filter.Status != "" && inst.Status != filter.Status {
		return false
	}
	return true
}

func (s *MemoryInstanceStore) DeleteInstance(ctx context.Context, id string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(instancesTable, indexID, id)
	if err != nil {
		return fmt.Errorf("delete instance %s: %w", id, err)
	}
	if raw != nil {
		if err := txn.Delete(instancesTable, raw); err != nil {
			return fmt.Errorf("delete instance %s: %w", id, err)
		}
	}
	txn.Commit()

	s.leaseMu.Lock()
	delete(s.leases, id)
	s.leaseMu.Unlock()
	return nil
}

func (s *MemoryInstanceStore) TryAcquireLease(ctx context.Context, instanceID, owner string, expiresAt time.Time) (bool, error) {
	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()

	lease, held := s.leases[instanceID]
	if held && lease.owner != owner && lease.expiresAt.After(time.Now()) {
		return false, nil
	}
	s.leases[instanceID] = memoryLease{owner: owner, expiresAt: expiresAt}
	return true, nil
}

func (s *MemoryInstanceStore) RenewLease(ctx context.Context, instanceID, owner string, expiresAt time.Time) error {
	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()

	lease, held := s.leases[instanceID]
	if !held || lease.owner != owner {
		return fmt.Errorf("renew lease on %s: not held by %s", instanceID, owner)
	}
	s.leases[instanceID] = memoryLease{owner: owner, expiresAt: expiresAt}
	return nil
}

func (s *MemoryInstanceStore) ReleaseLease(ctx context.Context, instanceID, owner string) error {
	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()

	if lease, held := s.leases[instanceID]; held && lease.owner == owner {
		delete(s.leases, instanceID)
	}
	return nil
}

// NewMemoryPersistence bundles fresh in-memory stores, with audit history
// enabled.
func NewMemoryPersistence() (Persistence, error) {
	instances, err := NewMemoryInstanceStore()
	if err != nil {
		return Persistence{}, err
	}
	return Persistence{
		Definitions: NewMemoryDefinitionStore(),
		Instances:   instances,
		Events:      NewMemoryEventStore(),
	}, nil
}
