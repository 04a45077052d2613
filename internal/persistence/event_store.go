package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/petrijr/ramify/pkg/api"
)

// EventStore persists the audit event history of workflow instances.
type EventStore interface {
	// AppendEvent appends one event to an instance's history.
	AppendEvent(ctx context.Context, ev api.WorkflowEvent) error

	// ListEvents returns all events for an instance in chronological
	// order. An unknown instance yields an empty slice.
	ListEvents(ctx context.Context, instanceID string) ([]api.WorkflowEvent, error)
}

// NoopEventStore discards events. Used when audit history is disabled.
type NoopEventStore struct{}

func (NoopEventStore) AppendEvent(ctx context.Context, ev api.WorkflowEvent) error {
	return nil
}

func (NoopEventStore) ListEvents(ctx context.Context, instanceID string) ([]api.WorkflowEvent, error) {
	return nil, nil
}

// MemoryEventStore keeps event history in memory, per instance id.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[string][]api.WorkflowEvent
}

// NewMemoryEventStore creates an empty in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make(map[string][]api.WorkflowEvent)}
}

func (s *MemoryEventStore) AppendEvent(ctx context.Context, ev api.WorkflowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.InstanceID] = append(s.events[ev.InstanceID], ev)
	return nil
}

func (s *MemoryEventStore) ListEvents(ctx context.Context, instanceID string) ([]api.WorkflowEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.events[instanceID]
	out := make([]api.WorkflowEvent, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}
