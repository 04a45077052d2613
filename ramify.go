package ramify

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/ramify/internal/engine"
	"github.com/petrijr/ramify/internal/persistence"
	"github.com/petrijr/ramify/pkg/activities"
	"github.com/petrijr/ramify/pkg/api"
	"github.com/petrijr/ramify/pkg/eval"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine              = api.Engine
	HistoryReader       = api.HistoryReader
	WorkflowDefinition  = api.WorkflowDefinition
	ActivityDefinition  = api.ActivityDefinition
	Transition          = api.Transition
	WorkflowInstance    = api.WorkflowInstance
	WorkflowEvent       = api.WorkflowEvent
	InstanceListOptions = api.InstanceListOptions
	Status              = api.Status
	Activity            = api.Activity
	ActivityCatalog     = api.ActivityCatalog
	ActivityMetadata    = api.ActivityMetadata
	ExecutionContext    = api.ExecutionContext
	ActivityContext     = api.ActivityContext
	Evaluator           = api.Evaluator

	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	NoopObserver         = api.NoopObserver
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export status values for convenience.

const (
	StatusIdle     = api.StatusIdle
	StatusStarting = api.StatusStarting
	StatusResuming = api.StatusResuming
	StatusHalted   = api.StatusHalted
	StatusFinished = api.StatusFinished
	StatusFaulted  = api.StatusFaulted
)

// Re-export the sentinel errors callers branch on.

var (
	ErrDefinitionNotFound  = api.ErrDefinitionNotFound
	ErrInstanceNotFound    = api.ErrInstanceNotFound
	ErrDefinitionDisabled  = api.ErrDefinitionDisabled
	ErrConcurrencyConflict = api.ErrConcurrencyConflict
	ErrInstanceLocked      = api.ErrInstanceLocked
	ErrUnknownResumeTarget = api.ErrUnknownResumeTarget
)

// NewCatalog returns a catalog pre-populated with the built-in activities.
// Register custom activity types on top before handing it to an engine.
func NewCatalog() *ActivityCatalog {
	return activities.Catalog()
}

// NewEvaluator returns the bundled Go-expression evaluator.
func NewEvaluator() Evaluator {
	return eval.New()
}

// Config configures an engine built with NewEngineWithConfig. The zero
// value of every optional field has a working default; see
// internal/engine.Config for the knobs.
type Config struct {
	Observer Observer
	Logger   *slog.Logger

	// MaxSteps caps activity invocations per run (default 10000).
	MaxSteps int
}

// Engine constructors. These wrap the internal engine so external callers
// never import internal packages. Every engine comes with the built-in
// activity catalog and the Go-expression evaluator; use the *WithConfig
// variants to customize.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine() (Engine, error) {
	return engine.NewInMemoryEngine(NewCatalog(), NewEvaluator())
}

// NewInMemoryEngineWithConfig is NewInMemoryEngine with custom options.
func NewInMemoryEngineWithConfig(cfg Config) (Engine, error) {
	p, err := persistence.NewMemoryPersistence()
	if err != nil {
		return nil, err
	}
	return newConfigured(p, cfg)
}

// NewSQLiteEngine returns an Engine that persists definitions, instances,
// and history in a SQLite database opened with the modernc.org/sqlite
// driver. The schema is created on first use.
func NewSQLiteEngine(ctx context.Context, db *sql.DB) (Engine, error) {
	return engine.NewSQLiteEngine(ctx, db, NewCatalog(), NewEvaluator())
}

// NewSQLiteEngineWithConfig is NewSQLiteEngine with custom options.
func NewSQLiteEngineWithConfig(ctx context.Context, db *sql.DB, cfg Config) (Engine, error) {
	p, err := persistence.NewSQLitePersistence(ctx, db)
	if err != nil {
		return nil, err
	}
	return newConfigured(p, cfg)
}

// NewPostgresEngine returns an Engine that persists instances in
// PostgreSQL. Open db with a PostgreSQL driver, e.g.
//
//	import _ "github.com/jackc/pgx/v5/stdlib"
//	db, err := sql.Open("pgx", dsn)
func NewPostgresEngine(ctx context.Context, db *sql.DB) (Engine, error) {
	return engine.NewPostgresEngine(ctx, db, NewCatalog(), NewEvaluator())
}

// NewRedisEngine returns an Engine that persists instances in Redis under
// the given key prefix ("" means "ramify:").
func NewRedisEngine(client *redis.Client, prefix string) (Engine, error) {
	return engine.NewRedisEngine(client, prefix, NewCatalog(), NewEvaluator())
}

// NewMongoEngine returns an Engine that persists instances in MongoDB in
// the named database ("" means "ramify").
func NewMongoEngine(ctx context.Context, client *mongo.Client, dbName string) (Engine, error) {
	return engine.NewMongoEngine(ctx, client, dbName, NewCatalog(), NewEvaluator())
}

func newConfigured(p persistence.Persistence, cfg Config) (Engine, error) {
	return engine.NewEngineWithConfig(engine.Config{
		Persistence: p,
		Catalog:     NewCatalog(),
		Observer:    cfg.Observer,
		Evaluator:   NewEvaluator(),
		Logger:      cfg.Logger,
		MaxSteps:    cfg.MaxSteps,
	})
}

// Convenience helpers that forward to the underlying Engine.

// StartWorkflow starts a new instance of a registered definition and runs
// it synchronously until it finishes, faults, or halts.
func StartWorkflow(ctx context.Context, eng Engine, definitionID string, input map[string]any) (*WorkflowInstance, error) {
	return eng.StartWorkflow(ctx, definitionID, input, "")
}

// ResumeWorkflow resumes a halted instance at the given blocking activity.
func ResumeWorkflow(ctx context.Context, eng Engine, instanceID, activityID string, input map[string]any) (*WorkflowInstance, error) {
	return eng.ResumeWorkflow(ctx, instanceID, activityID, input)
}

// TriggerSignal delivers a named signal to every matching halted instance.
func TriggerSignal(ctx context.Context, eng Engine, signalName, correlationID string, payload map[string]any) ([]*WorkflowInstance, error) {
	return eng.TriggerSignal(ctx, signalName, correlationID, payload)
}

// GetInstance fetches an instance by id.
func GetInstance(ctx context.Context, eng Engine, id string) (*WorkflowInstance, error) {
	return eng.GetInstance(ctx, id)
}

// ListInstances lists workflow instances according to the given options.
func ListInstances(ctx context.Context, eng Engine, opts InstanceListOptions) ([]*WorkflowInstance, error) {
	return eng.ListInstances(ctx, opts)
}
