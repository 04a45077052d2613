package ramify

import (
	"context"
	"database/sql"

	"github.com/petrijr/ramify/internal/taskqueue"
)

// NewSQLiteBundle constructs a durable Runner whose engine state and task
// queue share one SQLite database: definitions, instances, history, and
// queued work all survive a restart together.
//
// Typical usage:
//
//	db, _ := ramify.OpenSQLite("workflows.db")
//	runner, err := ramify.NewSQLiteBundle(ctx, db)
//	// register definitions on runner.Engine
//	// enqueue work via runner.StartWorkflowAsync
//	_ = runner.Start(ctx, 4)
func NewSQLiteBundle(ctx context.Context, db *sql.DB) (*Runner, error) {
	eng, err := NewSQLiteEngine(ctx, db)
	if err != nil {
		return nil, err
	}
	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}
	return NewRunner(eng, q, nil), nil
}
