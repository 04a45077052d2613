package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/petrijr/ramify/pkg/api"
)

// SQLite-backed stores. The database handle is owned by the caller; pass
// one opened with the modernc.org/sqlite driver. Instances and definitions
// are stored as JSON documents with the queryable columns broken out.

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS workflow_definitions (
	id         TEXT NOT NULL,
	version    INTEGER NOT NULL,
	is_enabled INTEGER NOT NULL,
	doc        BLOB NOT NULL,
	PRIMARY KEY (id, version)
);

CREATE TABLE IF NOT EXISTS workflow_instances (
	id                 TEXT PRIMARY KEY,
	definition_id      TEXT NOT NULL,
	definition_version INTEGER NOT NULL,
	correlation_id     TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	revision           INTEGER NOT NULL,
	doc                BLOB NOT NULL,
	created_at         INTEGER NOT NULL,
	updated_at         INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_instances_correlation ON workflow_instances (correlation_id);
CREATE INDEX IF NOT EXISTS idx_instances_definition  ON workflow_instances (definition_id);
CREATE INDEX IF NOT EXISTS idx_instances_status      ON workflow_instances (status);

CREATE TABLE IF NOT EXISTS workflow_leases (
	instance_id TEXT PRIMARY KEY,
	owner       TEXT NOT NULL,
	expires_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	instance_id TEXT NOT NULL,
	at          INTEGER NOT NULL,
	doc         BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_instance ON workflow_events (instance_id);
`

// InitSQLiteSchema creates the workflow tables if they do not exist.
func InitSQLiteSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("init sqlite schema: %w", err)
	}
	return nil
}

// SQLiteDefinitionStore stores definitions in a SQLite table.
type SQLiteDefinitionStore struct {
	db *sql.DB
}

func NewSQLiteDefinitionStore(db *sql.DB) *SQLiteDefinitionStore {
	return &SQLiteDefinitionStore{db: db}
}

func (s *SQLiteDefinitionStore) SaveDefinition(ctx context.Context, def api.WorkflowDefinition) error {
	doc, err := EncodeDefinition(def)
	if err != nil {
		return err
	}
	enabled := 0
	if def.IsEnabled {
		enabled = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_definitions (id, version, is_enabled, doc) VALUES (?, ?, ?, ?)`,
		def.ID, def.Version, enabled, doc)
	if err != nil {
		return fmt.Errorf("save definition %s v%d: %w", def.ID, def.Version, err)
	}
	return nil
}

func (s *SQLiteDefinitionStore) GetDefinition(ctx context.Context, id string, version int) (api.WorkflowDefinition, error) {
	var row *sql.Row
	if version == 0 {
		row = s.db.QueryRowContext(ctx,
			`SELECT doc FROM workflow_definitions WHERE id = ? ORDER BY version DESC LIMIT 1`, id)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT doc FROM workflow_definitions WHERE id = ? AND version = ?`, id, version)
	}

	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return api.WorkflowDefinition{}, fmt.Errorf("definition %s: %w", id, api.ErrDefinitionNotFound)
		}
		return api.WorkflowDefinition{}, fmt.Errorf("get definition %s: %w", id, err)
	}
	return DecodeDefinition(doc)
}

func (s *SQLiteDefinitionStore) ListDefinitions(ctx context.Context) ([]api.WorkflowDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.doc FROM workflow_definitions d
		JOIN (SELECT id, MAX(version) AS version FROM workflow_definitions GROUP BY id) latest
		  ON d.id = latest.id AND d.version = latest.version
		ORDER BY d.id`)
	if err != nil {
		return nil, fmt.Errorf("list definitions: %w", err)
	}
	defer rows.Close()

	var out []api.WorkflowDefinition
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("list definitions: %w", err)
		}
		def, err := DecodeDefinition(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

// SQLiteInstanceStore stores instances and leases in SQLite tables, with
// revision-checked writes.
type SQLiteInstanceStore struct {
	db *sql.DB
}

func NewSQLiteInstanceStore(db *sql.DB) *SQLiteInstanceStore {
	return &SQLiteInstanceStore{db: db}
}

func (s *SQLiteInstanceStore) SaveInstance(ctx context.Context, inst *api.WorkflowInstance) error {
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
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO workflow_instances
				(id, definition_id, definition_version, correlation_id, status, revision, doc, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			inst.ID, inst.DefinitionID, inst.DefinitionVersion, inst.CorrelationID,
			string(inst.Status), next, doc, inst.CreatedUTC.UnixMilli(), updated.UnixMilli())
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE workflow_instances
			SET correlation_id = ?, status = ?, revision = ?, doc = ?, updated_at = ?
			WHERE id = ? AND revision = ?`,
			inst.CorrelationID, string(inst.Status), next, doc, updated.UnixMilli(),
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

func (s *SQLiteInstanceStore) GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM workflow_instances WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instance %s: %w", id, api.ErrInstanceNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get instance %s: %w", id, err)
	}
	return DecodeInstance(doc)
}

func (s *SQLiteInstanceStore) GetInstancesByCorrelation(ctx context.Context, correlationID string) ([]*api.WorkflowInstance, error) {
	return s.ListInstances(ctx, InstanceFilter{CorrelationID: correlationID})
}

func (s *SQLiteInstanceStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.WorkflowInstance, error) {
	query := `SELECT doc FROM workflow_instances WHERE 1=1`
	var args []any
	if filter.DefinitionID != "" {
		query += ` AND definition_id = ?`
		args = append(args, filter.DefinitionID)
	}
	if filter.CorrelationID != "" {
		query += ` AND correlation_id = ?`
		args = append(args, filter.CorrelationID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *SQLiteInstanceStore) DeleteInstance(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workflow_instances WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete instance %s: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM workflow_leases WHERE instance_id = ?`, id); err != nil {
		return fmt.Errorf("delete instance %s lease: %w", id, err)
	}
	return nil
}

func (s *SQLiteInstanceStore) TryAcquireLease(ctx context.Context, instanceID, owner string, expiresAt time.Time) (bool, error) {
	now := time.Now().UnixMilli()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_leases (instance_id, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (instance_id) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE workflow_leases.owner = excluded.owner OR workflow_leases.expires_at <= ?`,
		instanceID, owner, expiresAt.UnixMilli(), now)
	if err != nil {
		return false, fmt.Errorf("acquire lease on %s: %w", instanceID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease on %s: %w", instanceID, err)
	}
	return affected > 0, nil
}

func (s *SQLiteInstanceStore) RenewLease(ctx context.Context, instanceID, owner string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflow_leases SET expires_at = ? WHERE instance_id = ? AND owner = ?`,
		expiresAt.UnixMilli(), instanceID, owner)
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

func (s *SQLiteInstanceStore) ReleaseLease(ctx context.Context, instanceID, owner string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM workflow_leases WHERE instance_id = ? AND owner = ?`, instanceID, owner); err != nil {
		return fmt.Errorf("release lease on %s: %w", instanceID, err)
	}
	return nil
}

// SQLiteEventStore appends audit events to a SQLite table.
type SQLiteEventStore struct {
	db *sql.DB
}

func NewSQLiteEventStore(db *sql.DB) *SQLiteEventStore {
	return &SQLiteEventStore{db: db}
}

func (s *SQLiteEventStore) AppendEvent(ctx context.Context, ev api.WorkflowEvent) error {
	doc, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_events (instance_id, at, doc) VALUES (?, ?, ?)`,
		ev.InstanceID, ev.At.UnixMilli(), doc)
	if err != nil {
		return fmt.Errorf("append event for %s: %w", ev.InstanceID, err)
	}
	return nil
}

func (s *SQLiteEventStore) ListEvents(ctx context.Context, instanceID string) ([]api.WorkflowEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM workflow_events WHERE instance_id = ? ORDER BY seq`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", instanceID, err)
	}
	defer rows.Close()

	var out []api.WorkflowEvent
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("list events for %s: %w", instanceID, err)
		}
		ev, err := decodeEvent(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// NewSQLitePersistence bundles SQLite-backed stores over one database
// handle, creating the schema first.
func NewSQLitePersistence(ctx context.Context, db *sql.DB) (Persistence, error) {
	if err := InitSQLiteSchema(ctx, db); err != nil {
		return Persistence{}, err
	}
	return Persistence{
		Definitions: NewSQLiteDefinitionStore(db),
		Instances:   NewSQLiteInstanceStore(db),
		Events:      NewSQLiteEventStore(db),
	}, nil
}
