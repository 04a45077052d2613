package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/petrijr/ramify/pkg/api"
)

// PostgresInstanceStore is an InstanceStore backed by PostgreSQL.
//
// It expects an *sql.DB opened with a PostgreSQL driver; the caller imports
// the driver for its side effects, e.g.
//
//	_ "github.com/jackc/pgx/v5/stdlib"
//
// Instances are stored as JSONB documents with the queryable columns
// broken out, and leases live in their own table.
type PostgresInstanceStore struct {
	db *sql.DB
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS workflow_instances (
	id                 TEXT PRIMARY KEY,
	definition_id      TEXT NOT NULL,
	definition_version INTEGER NOT NULL,
	correlation_id     TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	revision           BIGINT NOT NULL,
	doc                JSONB NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_instances_correlation ON workflow_instances (correlation_id);
CREATE INDEX IF NOT EXISTS idx_instances_definition  ON workflow_instances (definition_id);
CREATE INDEX IF NOT EXISTS idx_instances_status      ON workflow_instances (status);

CREATE TABLE IF NOT EXISTS workflow_leases (
	instance_id TEXT PRIMARY KEY,
	owner       TEXT NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL
);
`

// NewPostgresInstanceStore initializes the schema and returns a store.
func NewPostgresInstanceStore(ctx context.Context, db *sql.DB) (*PostgresInstanceStore, error) {
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("init postgres schema: %w", err)
	}
	return &PostgresInstanceStore{db: db}, nil
}

func (p *PostgresInstanceStore) SaveInstance(ctx context.Context, inst *api.WorkflowInstance) error {
	next := inst.Revision + 1
	updated := time.Now().UTC()

	prevRevision, prevUpdated := inst.Revision, inst.UpdatedUTC
	inst.Revision, inst.UpdatedUTC = next, updated
	doc, err := EncodeInstance(inst)
	if err != nil {
		inst.Revision, inst.UpdatedUTC = prevRevision, prevUpdated
		return err
	}

	var res sql.Result
	if prevRevision == 0 {
		res, err = p.db.ExecContext(ctx, `
			INSERT INTO workflow_instances
				(id, definition_id, definition_version, correlation_id, status, revision, doc, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`,
			inst.ID, inst.DefinitionID, inst.DefinitionVersion, inst.CorrelationID,
			string(inst.Status), next, string(doc), inst.CreatedUTC, updated)
	} else {
		res, err = p.db.ExecContext(ctx, `
			UPDATE workflow_instances
			SET correlation_id = $1, status = $2, revision = $3, doc = $4, updated_at = $5
			WHERE id = $6 AND revision = $7`,
			inst.CorrelationID, string(inst.Status), next, string(doc), updated,
			inst.ID, prevRevision)
	}
	if err != nil {
		inst.Revision, inst.UpdatedUTC = prevRevision, prevUpdated
		return fmt.Errorf("save instance %s: %w", inst.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		inst.Revision, inst.UpdatedUTC = prevRevision, prevUpdated
		return fmt.Errorf("save instance %s: %w", inst.ID, err)
	}
	if affected == 0 {
		inst.Revision, inst.UpdatedUTC = prevRevision, prevUpdated
		return fmt.Errorf("save instance %s: expected revision %d: %w",
			inst.ID, prevRevision, api.ErrConcurrencyConflict)
	}
	return nil
}

func (p *PostgresInstanceStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	var doc []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT doc FROM workflow_instances WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instance %s: %w", id, api.ErrInstanceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get instance %s: %w", id, err)
	}
	return DecodeInstance(doc)
}

func (p *PostgresInstanceStore) GetInstancesByCorrelation(ctx context.Context, correlationID string) ([]*api.WorkflowInstance, error) {
	return p.ListInstances(ctx, InstanceFilter{CorrelationID: correlationID})
}

func (p *PostgresInstanceStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	query := `SELECT doc FROM workflow_instances WHERE 1=1`
	var args []any
	if filter.DefinitionID != "" {
		args = append(args, filter.DefinitionID)
		query += fmt.Sprintf(` AND definition_id = $%d`, len(args))
	}
	if filter.CorrelationID != "" {
		args = append(args, filter.CorrelationID)
		query += fmt.Sprintf(` AND correlation_id = $%d`, len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	query += ` ORDER BY created_at, id`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var out []*api.WorkflowInstance
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("list instances: %w", err)
		}
		inst, err := DecodeInstance(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (p *PostgresInstanceStore) DeleteInstance(ctx context.Context, id string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM workflow_instances WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete instance %s: %w", id, err)
	}
	if _, err := p.db.ExecContext(ctx, `DELETE FROM workflow_leases WHERE instance_id = $1`, id); err != nil {
		return fmt.Errorf("delete instance %s lease: %w", id, err)
	}
	return nil
}

func (p *PostgresInstanceStore) TryAcquireLease(ctx context.Context, instanceID, owner string, expiresAt time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO workflow_leases (instance_id, owner, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (instance_id) DO UPDATE SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE workflow_leases.owner = EXCLUDED.owner OR workflow_leases.expires_at <= NOW()`,
		instanceID, owner, expiresAt)
	if err != nil {
		return false, fmt.Errorf("acquire lease on %s: %w", instanceID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease on %s: %w", instanceID, err)
	}
	return affected > 0, nil
}

func (p *PostgresInstanceStore) RenewLease(ctx context.Context, instanceID, owner string, expiresAt time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE workflow_leases SET expires_at = $1 WHERE instance_id = $2 AND owner = $3`,
		expiresAt, instanceID, owner)
	if err != nil {
		return fmt.Errorf("renew lease on %s: %w", instanceID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("renew lease on %s: %w", instanceID, err)
	}
	if affected == 0 {
		return fmt.Errorf("renew lease on %s: not held by %s", instanceID, owner)
	}
	return nil
}

func (p *PostgresInstanceStore) ReleaseLease(ctx context.Context, instanceID, owner string) error {
	if _, err := p.db.ExecContext(ctx,
		`DELETE FROM workflow_leases WHERE instance_id = $1 AND owner = $2`, instanceID, owner); err != nil {
		return fmt.Errorf("release lease on %s: %w", instanceID, err)
	}
	return nil
}

// NewPostgresPersistence bundles a Postgres instance store with in-memory
// definitions and events.
func NewPostgresPersistence(ctx context.Context, db *sql.DB) (Persistence, error) {
	instances, err := NewPostgresInstanceStore(ctx, db)
	if err != nil {
		return Persistence{}, err
	}
	return Persistence{
		Definitions: NewMemoryDefinitionStore(),
		Instances:   instances,
		Events:      NewMemoryEventStore(),
	}, nil
}
