package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteQueue is a persistent task queue backed by SQLite: FIFO by
// not-before time and insertion order. Dequeue claims a row by deleting it
// inside a transaction, so each task is handed out once.
type SQLiteQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewSQLiteQueue initializes the tasks table in the given DB and returns a
// new queue.
func NewSQLiteQueue(db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{
		db:           db,
		pollInterval: 20 * time.Millisecond,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflow_tasks (
			seq                INTEGER PRIMARY KEY AUTOINCREMENT,
			id                 TEXT NOT NULL,
			type               TEXT NOT NULL,
			definition_id      TEXT NOT NULL DEFAULT '',
			definition_version INTEGER NOT NULL DEFAULT 0,
			correlation_id     TEXT NOT NULL DEFAULT '',
			instance_id        TEXT NOT NULL DEFAULT '',
			activity_id        TEXT NOT NULL DEFAULT '',
			signal_name        TEXT NOT NULL DEFAULT '',
			input              BLOB,
			enqueued_at        INTEGER NOT NULL,
			not_before         INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("init task queue schema: %w", err)
	}
	return nil
}

var _ Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) Enqueue(ctx context.Context, t Task) error {
	input, err := encodeInput(t.Input)
	if err != nil {
		return err
	}

	enqueuedAt := t.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now().UTC()
	}
	notBefore := t.NotBefore
	if notBefore.IsZero() {
		notBefore = enqueuedAt
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO workflow_tasks
			(id, type, definition_id, definition_version, correlation_id, instance_id, activity_id, signal_name, input, enqueued_at, not_before)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, string(t.Type), t.DefinitionID, t.DefinitionVersion, t.CorrelationID,
		t.InstanceID, t.ActivityID, t.SignalName, input,
		enqueuedAt.UnixNano(), notBefore.UnixNano())
	if err != nil {
		return fmt.Errorf("enqueue task %s: %w", t.ID, err)
	}
	return nil
}

func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		task, err := q.tryClaim(ctx)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *SQLiteQueue) tryClaim(ctx context.Context) (*Task, error) {
	now := time.Now().UnixNano()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	defer tx.Rollback()

	var (
		seq        int64
		t          Task
		typeStr    string
		input      []byte
		enqueuedAt int64
		notBefore  int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT seq, id, type, definition_id, definition_version, correlation_id, instance_id, activity_id, signal_name, input, enqueued_at, not_before
		FROM workflow_tasks
		WHERE not_before <= ?
		ORDER BY not_before, seq
		LIMIT 1`, now).Scan(
		&seq, &t.ID, &typeStr, &t.DefinitionID, &t.DefinitionVersion, &t.CorrelationID,
		&t.InstanceID, &t.ActivityID, &t.SignalName, &input, &enqueuedAt, &notBefore)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM workflow_tasks WHERE seq = ?`, seq); err != nil {
		return nil, fmt.Errorf("claim task %s: %w", t.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("claim task %s: %w", t.ID, err)
	}

	t.Type = TaskType(typeStr)
	t.EnqueuedAt = time.Unix(0, enqueuedAt)
	t.NotBefore = time.Unix(0, notBefore)
	if t.Input, err = decodeInput(input); err != nil {
		return nil, err
	}
	return &t, nil
}

func (q *SQLiteQueue) Len() int {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM workflow_tasks`).Scan(&n); err != nil {
		return 0
	}
	return n
}
