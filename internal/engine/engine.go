// Package engine contains the workflow interpreter: it walks activity
// graphs breadth-first, persists instance state through the configured
// stores, and routes signal and timer triggers back into halted instances.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/ramify/internal/persistence"
	"github.com/petrijr/ramify/pkg/api"
)

// DefaultMaxSteps bounds the number of activity invocations per run, so a
// cyclic definition without a halt faults instead of spinning forever.
const DefaultMaxSteps = 10000

// DefaultLeaseTTL is how long a run may hold an instance lease before a
// crashed process is considered dead and the lease claimable.
const DefaultLeaseTTL = 30 * time.Second

// Config describes how to construct an engine. Only Persistence and
// Catalog are required; everything else has working defaults.
type Config struct {
	Persistence persistence.Persistence
	Catalog     *api.ActivityCatalog
	Observer    api.Observer
	Evaluator   api.Evaluator
	Logger      *slog.Logger

	// MaxSteps caps activity invocations per run. 0 means DefaultMaxSteps.
	MaxSteps int

	// LeaseTTL is the instance lease duration. 0 means DefaultLeaseTTL.
	LeaseTTL time.Duration

	// Clock is injectable for tests. Nil means time.Now.
	Clock func() time.Time
}

type engineImpl struct {
	definitions persistence.DefinitionStore
	instances   persistence.InstanceStore
	events      persistence.EventStore

	catalog   *api.ActivityCatalog
	observer  api.Observer
	evaluator api.Evaluator
	logger    *slog.Logger

	maxSteps int
	leaseTTL time.Duration
	clock    func() time.Time
}

var (
	_ api.Engine        = (*engineImpl)(nil)
	_ api.HistoryReader = (*engineImpl)(nil)
)

// NewEngineWithConfig creates an engine from an explicit configuration.
func NewEngineWithConfig(cfg Config) (api.Engine, error) {
	if cfg.Persistence.Definitions == nil || cfg.Persistence.Instances == nil {
		return nil, errors.New("engine requires definition and instance stores")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("engine requires an activity catalog")
	}

	e := &engineImpl{
		definitions: cfg.Persistence.Definitions,
		instances:   cfg.Persistence.Instances,
		events:      cfg.Persistence.Events,
		catalog:     cfg.Catalog,
		observer:    cfg.Observer,
		evaluator:   cfg.Evaluator,
		logger:      cfg.Logger,
		maxSteps:    cfg.MaxSteps,
		leaseTTL:    cfg.LeaseTTL,
		clock:       cfg.Clock,
	}
	if e.events == nil {
		e.events = persistence.NoopEventStore{}
	}
	if e.observer == nil {
		e.observer = api.NoopObserver{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.maxSteps <= 0 {
		e.maxSteps = DefaultMaxSteps
	}
	if e.leaseTTL <= 0 {
		e.leaseTTL = DefaultLeaseTTL
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	return e, nil
}

// NewInMemoryEngine creates an engine with fresh in-memory stores.
func NewInMemoryEngine(catalog *api.ActivityCatalog, ev api.Evaluator) (api.Engine, error) {
	p, err := persistence.NewMemoryPersistence()
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{Persistence: p, Catalog: catalog, Evaluator: ev})
}

// NewSQLiteEngine creates an engine persisting to the given SQLite
// database (open it with the modernc.org/sqlite driver). The schema is
// created on first use.
func NewSQLiteEngine(ctx context.Context, db *sql.DB, catalog *api.ActivityCatalog, ev api.Evaluator) (api.Engine, error) {
	p, err := persistence.NewSQLitePersistence(ctx, db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{Persistence: p, Catalog: catalog, Evaluator: ev})
}

// NewPostgresEngine creates an engine persisting instances to PostgreSQL.
// Definitions are code-registered, so they stay in memory.
func NewPostgresEngine(ctx context.Context, db *sql.DB, catalog *api.ActivityCatalog, ev api.Evaluator) (api.Engine, error) {
	p, err := persistence.NewPostgresPersistence(ctx, db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{Persistence: p, Catalog: catalog, Evaluator: ev})
}

// NewRedisEngine creates an engine persisting instances to Redis under the
// given key prefix ("" means "ramify:").
func NewRedisEngine(client *redis.Client, prefix string, catalog *api.ActivityCatalog, ev api.Evaluator) (api.Engine, error) {
	return NewEngineWithConfig(Config{
		Persistence: persistence.NewRedisPersistence(client, prefix),
		Catalog:     catalog,
		Evaluator:   ev,
	})
}

// NewMongoEngine creates an engine persisting instances to MongoDB in the
// given database ("" means "ramify").
func NewMongoEngine(ctx context.Context, client *mongo.Client, dbName string, catalog *api.ActivityCatalog, ev api.Evaluator) (api.Engine, error) {
	p, err := persistence.NewMongoPersistence(ctx, client, dbName)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{Persistence: p, Catalog: catalog, Evaluator: ev})
}

func (e *engineImpl) Catalog() *api.ActivityCatalog { return e.catalog }

func (e *engineImpl) RegisterDefinition(ctx context.Context, def api.WorkflowDefinition) error {
	if def.Version == 0 {
		def.Version = 1
	}
	if err := def.Validate(); err != nil {
		return err
	}

	// Every referenced activity type must be resolvable, and start
	// activities must be types allowed to start a workflow.
	for _, a := range def.Activities {
		meta, ok := e.catalog.Get(a.TypeName)
		if !ok {
			return fmt.Errorf("definition %q activity %q: unknown activity type %q", def.ID, a.ID, a.TypeName)
		}
		if a.IsStart && !meta.CanStartWorkflow && !meta.IsEvent {
			return fmt.Errorf("definition %q activity %q: type %q cannot start a workflow", def.ID, a.ID, a.TypeName)
		}
	}

	return e.definitions.SaveDefinition(ctx, def)
}

func (e *engineImpl) GetDefinition(ctx context.Context, id string, version int) (api.WorkflowDefinition, error) {
	return e.definitions.GetDefinition(ctx, id, version)
}

func (e *engineImpl) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	return e.instances.GetInstance(ctx, id)
}

func (e *engineImpl) GetInstancesByCorrelation(ctx context.Context, correlationID string) ([]*api.WorkflowInstance, error) {
	return e.instances.GetInstancesByCorrelation(ctx, correlationID)
}

func (e *engineImpl) ListInstances(ctx context.Context, opts api.InstanceListOptions) ([]*api.WorkflowInstance, error) {
	return e.instances.ListInstances(ctx, persistence.InstanceFilter{
		DefinitionID:  opts.DefinitionID,
		CorrelationID: opts.CorrelationID,
		Status:        opts.Status,
	})
}

// ListEvents implements api.HistoryReader.
func (e *engineImpl) ListEvents(ctx context.Context, instanceID string) ([]api.WorkflowEvent, error) {
	return e.events.ListEvents(ctx, instanceID)
}

// appendEvent records an audit event. History failures are logged, never
// propagated; the instance state is authoritative.
func (e *engineImpl) appendEvent(ctx context.Context, inst *api.WorkflowInstance, t api.EventType, activityID, detail string) {
	if err := e.events.AppendEvent(ctx, e.newEvent(inst, t, activityID, detail)); err != nil {
		e.logger.WarnContext(ctx, "event append failed",
			slog.String("instance_id", inst.ID),
			slog.String("event", string(t)),
			slog.Any("error", err),
		)
	}
}

// bufferEvent stages an audit event on the run. Events reach the store
// through flushEvents only once the run's final save succeeded, so a run
// that loses the optimistic save appends nothing.
func (e *engineImpl) bufferEvent(wc *api.ExecutionContext, t api.EventType, activityID, detail string) {
	wc.PendingEvents = append(wc.PendingEvents, e.newEvent(wc.Instance, t, activityID, detail))
}

func (e *engineImpl) flushEvents(ctx context.Context, wc *api.ExecutionContext) {
	for _, ev := range wc.PendingEvents {
		if err := e.events.AppendEvent(ctx, ev); err != nil {
			e.logger.WarnContext(ctx, "event append failed",
				slog.String("instance_id", ev.InstanceID),
				slog.String("event", string(ev.Type)),
				slog.Any("error", err),
			)
		}
	}
	wc.PendingEvents = nil
}

func (e *engineImpl) newEvent(inst *api.WorkflowInstance, t api.EventType, activityID, detail string) api.WorkflowEvent {
	return api.WorkflowEvent{
		InstanceID:        inst.ID,
		At:                e.clock().UTC(),
		Type:              t,
		DefinitionID:      inst.DefinitionID,
		DefinitionVersion: inst.DefinitionVersion,
		ActivityID:        activityID,
		Detail:            detail,
	}
}

func newRunOwner() string { return "run-" + uuid.NewString() }
