package taskqueue

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

type queueFactory func(t *testing.T) Queue

func queueFactories() map[string]queueFactory {
	return map[string]queueFactory{
		"in-memory": func(t *testing.T) Queue {
			return NewInMemoryQueue(16)
		},
		"sqlite": func(t *testing.T) Queue {
			db, err := sql.Open("sqlite", ":memory:")
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { _ = db.Close() })
			q, err := NewSQLiteQueue(db)
			if err != nil {
				t.Fatal(err)
			}
			return q
		},
	}
}

func TestQueueFIFO(t *testing.T) {
	for name, factory := range queueFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := factory(t)

			first := NewTask(TaskTypeStartWorkflow)
			first.DefinitionID = "order"
			second := NewTask(TaskTypeSignal)
			second.SignalName = "approved"

			if err := q.Enqueue(ctx, first); err != nil {
				t.Fatal(err)
			}
			if err := q.Enqueue(ctx, second); err != nil {
				t.Fatal(err)
			}
			if q.Len() != 2 {
				t.Fatalf("Len = %d, want 2", q.Len())
			}

			got, err := q.Dequeue(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if got.ID != first.ID || got.Type != TaskTypeStartWorkflow || got.DefinitionID != "order" {
				t.Fatalf("first dequeue = %+v", got)
			}

			got, err = q.Dequeue(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if got.ID != second.ID || got.SignalName != "approved" {
				t.Fatalf("second dequeue = %+v", got)
			}
			if q.Len() != 0 {
				t.Fatalf("Len after drain = %d", q.Len())
			}
		})
	}
}

func TestQueueInputRoundTrip(t *testing.T) {
	for name, factory := range queueFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := factory(t)

			task := NewTask(TaskTypeResume)
			task.InstanceID = "inst-1"
			task.ActivityID = "wait"
			task.Input = map[string]any{
				"approver": "alice",
				"level":    3.0,
				"urgent":   true,
			}
			if err := q.Enqueue(ctx, task); err != nil {
				t.Fatal(err)
			}

			got, err := q.Dequeue(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if got.Input["approver"] != "alice" || got.Input["level"] != 3.0 || got.Input["urgent"] != true {
				t.Fatalf("input = %+v", got.Input)
			}
		})
	}
}

func TestDequeueRespectsCancellation(t *testing.T) {
	for name, factory := range queueFactories() {
		t.Run(name, func(t *testing.T) {
			q := factory(t)

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			_, err := q.Dequeue(ctx)
			if !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("error = %v, want DeadlineExceeded", err)
			}
		})
	}
}

func TestSQLiteQueueDelaysNotBefore(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	q, err := NewSQLiteQueue(db)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	delayed := NewTask(TaskTypeResume)
	delayed.NotBefore = time.Now().Add(time.Hour)
	prompt := NewTask(TaskTypeStartWorkflow)

	// The delayed task is enqueued first but is not yet eligible.
	if err := q.Enqueue(ctx, delayed); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, prompt); err != nil {
		t.Fatal(err)
	}

	got, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != prompt.ID {
		t.Fatalf("dequeued %s before its not-before time", got.ID)
	}

	// Only the delayed task remains; an immediate dequeue times out.
	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("delayed task handed out early: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1", q.Len())
	}
}

func TestSQLiteQueueSurvivesReopen(t *testing.T) {
	// The queue is durable state: a second queue over the same handle sees
	// tasks the first one enqueued.
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()

	q1, err := NewSQLiteQueue(db)
	if err != nil {
		t.Fatal(err)
	}
	task := NewTask(TaskTypeStartWorkflow)
	task.DefinitionID = "order"
	if err := q1.Enqueue(ctx, task); err != nil {
		t.Fatal(err)
	}

	q2, err := NewSQLiteQueue(db)
	if err != nil {
		t.Fatal(err)
	}
	got, err := q2.Dequeue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != task.ID || got.DefinitionID != "order" {
		t.Fatalf("recovered task = %+v", got)
	}
}
