package api

import (
	"fmt"
	"sort"
	"sync"
)

// ActivityMetadata describes an activity type for authoring tools.
type ActivityMetadata struct {
	TypeName    string
	Category    string
	Description string

	// IsEvent marks activities that block awaiting an external trigger.
	IsEvent bool

	// CanStartWorkflow marks activities that may appear as a workflow's
	// start activity.
	CanStartWorkflow bool
}

// ActivityFactory creates a fresh, stateless activity instance.
type ActivityFactory func() Activity

// ActivityCatalog maps activity type names to factories and metadata. It
// holds no execution logic; the engine asks it for fresh instances when
// building a run.
type ActivityCatalog struct {
	mu      sync.RWMutex
	entries map[string]catalogEntry
}

type catalogEntry struct {
	meta    ActivityMetadata
	factory ActivityFactory
}

// NewActivityCatalog returns an empty catalog.
func NewActivityCatalog() *ActivityCatalog {
	return &ActivityCatalog{entries: make(map[string]catalogEntry)}
}

// Register adds an activity type. Registering an already-known type name
// is an error.
func (c *ActivityCatalog) Register(meta ActivityMetadata, factory ActivityFactory) error {
	if meta.TypeName == "" {
		return fmt.Errorf("activity type name is required")
	}
	if factory == nil {
		return fmt.Errorf("activity %q has no factory", meta.TypeName)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[meta.TypeName]; exists {
		return fmt.Errorf("activity type %q already registered", meta.TypeName)
	}
	c.entries[meta.TypeName] = catalogEntry{meta: meta, factory: factory}
	return nil
}

// MustRegister is Register, panicking on error. Intended for package-level
// wiring of built-in activity sets.
func (c *ActivityCatalog) MustRegister(meta ActivityMetadata, factory ActivityFactory) {
	if err := c.Register(meta, factory); err != nil {
		panic(err)
	}
}

// CreateInstance returns a fresh activity instance for the type name.
func (c *ActivityCatalog) CreateInstance(typeName string) (Activity, error) {
	c.mu.RLock()
	entry, ok := c.entries[typeName]
	c.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown activity type %q", typeName)
	}
	return entry.factory(), nil
}

// Get returns the metadata for a type name.
func (c *ActivityCatalog) Get(typeName string) (ActivityMetadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[typeName]
	return entry.meta, ok
}

// ListAll returns the metadata of every registered type, sorted by type
// name for stable authoring output.
func (c *ActivityCatalog) ListAll() []ActivityMetadata {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ActivityMetadata, 0, len(c.entries))
	for _, entry := range c.entries {
		out = append(out, entry.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TypeName < out[j].TypeName })
	return out
}
