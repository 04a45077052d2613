package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/petrijr/ramify/internal/engine"
	"github.com/petrijr/ramify/internal/taskqueue"
	"github.com/petrijr/ramify/pkg/activities"
	"github.com/petrijr/ramify/pkg/api"
	"github.com/petrijr/ramify/pkg/eval"
)

func newTestWorker(t *testing.T) (*Worker, api.Engine, *taskqueue.InMemoryQueue) {
	t.Helper()
	eng, err := engine.NewInMemoryEngine(activities.Catalog(), eval.New())
	if err != nil {
		t.Fatal(err)
	}
	q := taskqueue.NewInMemoryQueue(16)
	return New(eng, q, nil), eng, q
}

func registerApproval(t *testing.T, eng api.Engine) {
	t.Helper()
	def := api.WorkflowDefinition{
		ID: "doc-approval", Version: 1, IsEnabled: true,
		Activities: []api.ActivityDefinition{
			{ID: "start", TypeName: activities.TypeStart, IsStart: true},
			{ID: "wait", TypeName: activities.TypeSignal, Properties: map[string]any{
				activities.PropSignal: "approved",
			}},
			{ID: "done", TypeName: activities.TypeLog, Properties: map[string]any{
				activities.PropMessage: "approved",
			}},
		},
		Transitions: []api.Transition{
			{SourceActivityID: "start", SourceOutcome: activities.OutcomeDone, DestinationActivityID: "wait"},
			{SourceActivityID: "wait", SourceOutcome: activities.OutcomeDone, DestinationActivityID: "done"},
		},
	}
	if err := eng.RegisterDefinition(context.Background(), def); err != nil {
		t.Fatal(err)
	}
}

func TestProcessOneStartsWorkflow(t *testing.T) {
	w, eng, _ := newTestWorker(t)
	registerApproval(t, eng)
	ctx := context.Background()

	if err := w.EnqueueStartWorkflow(ctx, "doc-approval", nil, "doc-1"); err != nil {
		t.Fatal(err)
	}

	processed, err := w.ProcessOne(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !processed {
		t.Fatal("ProcessOne took no task")
	}

	instances, err := eng.GetInstancesByCorrelation(ctx, "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 || instances[0].Status != api.StatusHalted {
		t.Fatalf("instances = %+v", instances)
	}
}

func TestProcessOneResumesAndSignals(t *testing.T) {
	w, eng, _ := newTestWorker(t)
	registerApproval(t, eng)
	ctx := context.Background()

	first, err := eng.StartWorkflow(ctx, "doc-approval", nil, "doc-1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := eng.StartWorkflow(ctx, "doc-approval", nil, "doc-2")
	if err != nil {
		t.Fatal(err)
	}

	// A targeted resume.
	if err := w.EnqueueResume(ctx, first.ID, "wait", map[string]any{"approver": "alice"}); err != nil {
		t.Fatal(err)
	}
	if _, err := w.ProcessOne(ctx); err != nil {
		t.Fatal(err)
	}
	resumed, err := eng.GetInstance(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if resumed.Status != api.StatusFinished {
		t.Fatalf("resumed status = %s", resumed.Status)
	}

	// A correlated signal delivery for the other instance.
	if err := w.EnqueueSignal(ctx, "approved", "doc-2", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := w.ProcessOne(ctx); err != nil {
		t.Fatal(err)
	}
	signaled, err := eng.GetInstance(ctx, second.ID)
	if err != nil {
		t.Fatal(err)
	}
	if signaled.Status != api.StatusFinished {
		t.Fatalf("signaled status = %s", signaled.Status)
	}
}

func TestProcessOneWaitsForNotBefore(t *testing.T) {
	w, eng, _ := newTestWorker(t)
	registerApproval(t, eng)
	ctx := context.Background()

	at := time.Now().Add(80 * time.Millisecond)
	if err := w.EnqueueStartWorkflowAt(ctx, "doc-approval", nil, "later", at); err != nil {
		t.Fatal(err)
	}

	begin := time.Now()
	if _, err := w.ProcessOne(ctx); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(begin); elapsed < 70*time.Millisecond {
		t.Fatalf("task ran after %s, before its not-before time", elapsed)
	}

	instances, err := eng.GetInstancesByCorrelation(ctx, "later")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 {
		t.Fatalf("instances = %d", len(instances))
	}
}

func TestProcessOneUnknownTaskType(t *testing.T) {
	w, _, q := newTestWorker(t)
	ctx := context.Background()

	bogus := taskqueue.NewTask(taskqueue.TaskType("explode"))
	if err := q.Enqueue(ctx, bogus); err != nil {
		t.Fatal(err)
	}

	processed, err := w.ProcessOne(ctx)
	if !processed {
		t.Fatal("task was not taken off the queue")
	}
	if err == nil {
		t.Fatal("unknown task type accepted")
	}
}

func TestPoolDrainsQueue(t *testing.T) {
	w, eng, _ := newTestWorker(t)
	registerApproval(t, eng)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := w.EnqueueStartWorkflow(ctx, "doc-approval", nil, "batch"); err != nil {
			t.Fatal(err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- NewPool(w, 3).Run(runCtx) }()

	deadline := time.After(5 * time.Second)
	for {
		instances, err := eng.GetInstancesByCorrelation(ctx, "batch")
		if err != nil {
			t.Fatal(err)
		}
		if len(instances) == 5 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("pool processed %d of 5 tasks", len(instances))
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("pool exit = %v", err)
	}
}
