package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/petrijr/ramify/internal/persistence"
	"github.com/petrijr/ramify/pkg/activities"
	"github.com/petrijr/ramify/pkg/api"
	"github.com/petrijr/ramify/pkg/eval"
)

type engineFactory func(t *testing.T) api.Engine

func engineFactories() map[string]engineFactory {
	return map[string]engineFactory{
		"in-memory": func(t *testing.T) api.Engine {
			eng, err := NewInMemoryEngine(activities.Catalog(), eval.New())
			if err != nil {
				t.Fatal(err)
			}
			return eng
		},
		"sqlite": func(t *testing.T) api.Engine {
			db, err := sql.Open("sqlite", ":memory:")
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { _ = db.Close() })
			eng, err := NewSQLiteEngine(context.Background(), db, activities.Catalog(), eval.New())
			if err != nil {
				t.Fatal(err)
			}
			return eng
		},
	}
}

func newMemoryEngine(t *testing.T, cfg Config) (api.Engine, persistence.Persistence) {
	t.Helper()
	p, err := persistence.NewMemoryPersistence()
	if err != nil {
		t.Fatal(err)
	}
	cfg.Persistence = p
	if cfg.Catalog == nil {
		cfg.Catalog = activities.Catalog()
	}
	if cfg.Evaluator == nil {
		cfg.Evaluator = eval.New()
	}
	eng, err := NewEngineWithConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return eng, p
}

func mustRegister(t *testing.T, eng api.Engine, def api.WorkflowDefinition) {
	t.Helper()
	if err := eng.RegisterDefinition(context.Background(), def); err != nil {
		t.Fatal(err)
	}
}

// executions counts trace entries for one activity id.
func executions(inst *api.WorkflowInstance, activityID string) int {
	n := 0
	for _, e := range inst.ExecutedActivities {
		if e.ActivityID == activityID {
			n++
		}
	}
	return n
}

func traceIDs(inst *api.WorkflowInstance) []string {
	out := make([]string, 0, len(inst.ExecutedActivities))
	for _, e := range inst.ExecutedActivities {
		out = append(out, e.ActivityID)
	}
	return out
}

func linearDefinition() api.WorkflowDefinition {
	return api.WorkflowDefinition{
		ID: "linear", Name: "Linear", Version: 1, IsEnabled: true,
		Activities: []api.ActivityDefinition{
			{ID: "start", TypeName: activities.TypeStart, IsStart: true},
			{ID: "set", TypeName: activities.TypeSetVariable, Properties: map[string]any{
				activities.PropVariable: "answer", activities.PropValue: "21 * 2",
			}},
			{ID: "done", TypeName: activities.TypeLog, Properties: map[string]any{
				activities.PropMessage: "finished",
			}},
		},
		Transitions: []api.Transition{
			{SourceActivityID: "start", SourceOutcome: activities.OutcomeDone, DestinationActivityID: "set"},
			{SourceActivityID: "set", SourceOutcome: activities.OutcomeDone, DestinationActivityID: "done"},
		},
	}
}

func TestStartWorkflowLinear(t *testing.T) {
	for name, factory := range engineFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			eng := factory(t)
			mustRegister(t, eng, linearDefinition())

			inst, err := eng.StartWorkflow(ctx, "linear", nil, "order-1")
			if err != nil {
				t.Fatal(err)
			}

			if inst.Status != api.StatusFinished {
				t.Fatalf("status = %s, want %s (fault: %s)", inst.Status, api.StatusFinished, inst.FaultMessage)
			}
			want := []string{"start", "set", "done"}
			got := traceIDs(inst)
			if len(got) != len(want) {
				t.Fatalf("trace = %v, want %v", got, want)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("trace = %v, want %v", got, want)
				}
			}
			if v, _ := inst.GetVariable("answer"); v != 42 {
				t.Fatalf("answer = %v", v)
			}
			if inst.LockOwner != "" {
				t.Fatalf("lease not cleared: %s", inst.LockOwner)
			}

			// The run survived persistence: a fresh read sees the outcome.
			loaded, err := eng.GetInstance(ctx, inst.ID)
			if err != nil {
				t.Fatal(err)
			}
			if loaded.Status != api.StatusFinished || loaded.Revision != inst.Revision {
				t.Fatalf("loaded = %s rev %d, want %s rev %d",
					loaded.Status, loaded.Revision, api.StatusFinished, inst.Revision)
			}
		})
	}
}

func TestIfElseBranches(t *testing.T) {
	def := api.WorkflowDefinition{
		ID: "approval", Version: 1, IsEnabled: true,
		Activities: []api.ActivityDefinition{
			{ID: "start", TypeName: activities.TypeStart, IsStart: true},
			{ID: "check", TypeName: activities.TypeIfElse, Properties: map[string]any{
				activities.PropCondition: "amount > 1000.0",
			}},
			{ID: "review", TypeName: activities.TypeLog, Properties: map[string]any{activities.PropMessage: "review"}},
			{ID: "auto", TypeName: activities.TypeLog, Properties: map[string]any{activities.PropMessage: "auto"}},
		},
		Transitions: []api.Transition{
			{SourceActivityID: "start", SourceOutcome: activities.OutcomeDone, DestinationActivityID: "check"},
			{SourceActivityID: "check", SourceOutcome: activities.OutcomeTrue, DestinationActivityID: "review"},
			{SourceActivityID: "check", SourceOutcome: activities.OutcomeFalse, DestinationActivityID: "auto"},
		},
	}

	for name, factory := range engineFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			eng := factory(t)
			mustRegister(t, eng, def)

			high, err := eng.StartWorkflow(ctx, "approval", map[string]any{"amount": 2500.0}, "")
			if err != nil {
				t.Fatal(err)
			}
			if high.Status != api.StatusFinished {
				t.Fatalf("status = %s (fault: %s)", high.Status, high.FaultMessage)
			}
			if executions(high, "review") != 1 || executions(high, "auto") != 0 {
				t.Fatalf("high amount trace = %v", traceIDs(high))
			}

			low, err := eng.StartWorkflow(ctx, "approval", map[string]any{"amount": 100.0}, "")
			if err != nil {
				t.Fatal(err)
			}
			if executions(low, "auto") != 1 || executions(low, "review") != 0 {
				t.Fatalf("low amount trace = %v", traceIDs(low))
			}
		})
	}
}

func forkJoinDefinition(mode string) api.WorkflowDefinition {
	joinProps := map[string]any{}
	if mode != "" {
		joinProps[activities.PropMode] = mode
	}
	return api.WorkflowDefinition{
		ID: "fan-out", Version: 1, IsEnabled: true,
		Activities: []api.ActivityDefinition{
			{ID: "start", TypeName: activities.TypeStart, IsStart: true},
			{ID: "fork", TypeName: activities.TypeFork, Properties: map[string]any{
				activities.PropBranches: []any{"billing", "shipping"},
			}},
			{ID: "bill", TypeName: activities.TypeSetVariable, Properties: map[string]any{
				activities.PropVariable: "billed", activities.PropValue: "true",
			}},
			{ID: "ship", TypeName: activities.TypeSetVariable, Properties: map[string]any{
				activities.PropVariable: "shipped", activities.PropValue: "true",
			}},
			{ID: "join", TypeName: activities.TypeJoin, Properties: joinProps},
			{ID: "done", TypeName: activities.TypeLog, Properties: map[string]any{activities.PropMessage: "done"}},
		},
		Transitions: []api.Transition{
			{SourceActivityID: "start", SourceOutcome: activities.OutcomeDone, DestinationActivityID: "fork"},
			{SourceActivityID: "fork", SourceOutcome: "billing", DestinationActivityID: "bill"},
			{SourceActivityID: "fork", SourceOutcome: "shipping", DestinationActivityID: "ship"},
			{SourceActivityID: "bill", SourceOutcome: activities.OutcomeDone, DestinationActivityID: "join"},
			{SourceActivityID: "ship", SourceOutcome: activities.OutcomeDone, DestinationActivityID: "join"},
			{SourceActivityID: "join", SourceOutcome: activities.OutcomeJoined, DestinationActivityID: "done"},
		},
	}
}

func TestForkJoin(t *testing.T) {
	for name, factory := range engineFactories() {
		t.Run(name, func(t *testing.T) {
			eng := factory(t)
			mustRegister(t, eng, forkJoinDefinition(""))

			inst, err := eng.StartWorkflow(context.Background(), "fan-out", nil, "")
			if err != nil {
				t.Fatal(err)
			}

			if inst.Status != api.StatusFinished {
				t.Fatalf("status = %s (fault: %s)", inst.Status, inst.FaultMessage)
			}
			if executions(inst, "bill") != 1 || executions(inst, "ship") != 1 {
				t.Fatalf("branches did not both run: %v", traceIDs(inst))
			}
			// Both arrivals are traced but the rendezvous fires exactly once.
			if executions(inst, "done") != 1 {
				t.Fatalf("join continuation ran %d times: %v", executions(inst, "done"), traceIDs(inst))
			}
			if v, _ := inst.GetVariable("billed"); v != true {
				t.Fatalf("billed = %v", v)
			}
			if v, _ := inst.GetVariable("shipped"); v != true {
				t.Fatalf("shipped = %v", v)
			}
			if len(inst.JoinArrivals) != 0 {
				t.Fatalf("join arrivals not cleared: %v", inst.JoinArrivals)
			}
		})
	}
}

func TestForkJoinAnyMode(t *testing.T) {
	for name, factory := range engineFactories() {
		t.Run(name, func(t *testing.T) {
			eng := factory(t)
			mustRegister(t, eng, forkJoinDefinition("any"))

			inst, err := eng.StartWorkflow(context.Background(), "fan-out", nil, "")
			if err != nil {
				t.Fatal(err)
			}

			if inst.Status != api.StatusFinished {
				t.Fatalf("status = %s (fault: %s)", inst.Status, inst.FaultMessage)
			}
			// The first arrival fires the join; the straggler is absorbed.
			if executions(inst, "done") != 1 {
				t.Fatalf("any-join continuation ran %d times", executions(inst, "done"))
			}
		})
	}
}

func TestJoinDuplicateEdges(t *testing.T) {
	// The same transition listed twice is implicit forking: the source
	// schedules the join once per edge, and the join must wait for both
	// before its continuation runs, exactly once.
	def := api.WorkflowDefinition{
		ID: "dup-edges", Version: 1, IsEnabled: true,
		Activities: []api.ActivityDefinition{
			{ID: "start", TypeName: activities.TypeStart, IsStart: true},
			{ID: "join", TypeName: activities.TypeJoin},
			{ID: "done", TypeName: activities.TypeLog, Properties: map[string]any{
				activities.PropMessage: "joined",
			}},
		},
		Transitions: []api.Transition{
			{SourceActivityID: "start", SourceOutcome: activities.OutcomeDone, DestinationActivityID: "join"},
			{SourceActivityID: "start", SourceOutcome: activities.OutcomeDone, DestinationActivityID: "join"},
			{SourceActivityID: "join", SourceOutcome: activities.OutcomeJoined, DestinationActivityID: "done"},
		},
	}

	for name, factory := range engineFactories() {
		t.Run(name, func(t *testing.T) {
			eng := factory(t)
			mustRegister(t, eng, def)

			inst, err := eng.StartWorkflow(context.Background(), "dup-edges", nil, "")
			if err != nil {
				t.Fatal(err)
			}

			if inst.Status != api.StatusFinished {
				t.Fatalf("status = %s (fault: %s)", inst.Status, inst.FaultMessage)
			}
			if executions(inst, "done") != 1 {
				t.Fatalf("join continuation ran %d times: %v", executions(inst, "done"), traceIDs(inst))
			}
			if len(inst.JoinArrivals) != 0 {
				t.Fatalf("join arrivals not cleared: %v", inst.JoinArrivals)
			}
		})
	}
}

func TestWhileLoop(t *testing.T) {
	def := api.WorkflowDefinition{
		ID: "count", Version: 1, IsEnabled: true,
		Activities: []api.ActivityDefinition{
			{ID: "start", TypeName: activities.TypeStart, IsStart: true},
			{ID: "loop", TypeName: activities.TypeWhile, Properties: map[string]any{
				activities.PropCondition: "i < 3.0",
			}},
			{ID: "inc", TypeName: activities.TypeSetVariable, Properties: map[string]any{
				activities.PropVariable: "i", activities.PropValue: "i + 1.0",
			}},
			{ID: "done", TypeName: activities.TypeLog, Properties: map[string]any{activities.PropMessage: "counted"}},
		},
		Transitions: []api.Transition{
			{SourceActivityID: "start", SourceOutcome: activities.OutcomeDone, DestinationActivityID: "loop"},
			{SourceActivityID: "loop", SourceOutcome: activities.OutcomeIterate, DestinationActivityID: "inc"},
			{SourceActivityID: "inc", SourceOutcome: activities.OutcomeDone, DestinationActivityID: "loop"},
			{SourceActivityID: "loop", SourceOutcome: activities.OutcomeDone, DestinationActivityID: "done"},
		},
	}

	for name, factory := range engineFactories() {
		t.Run(name, func(t *testing.T) {
			eng := factory(t)
			mustRegister(t, eng, def)

			inst, err := eng.StartWorkflow(context.Background(), "count", map[string]any{"i": 0.0}, "")
			if err != nil {
				t.Fatal(err)
			}

			if inst.Status != api.StatusFinished {
				t.Fatalf("status = %s (fault: %s)", inst.Status, inst.FaultMessage)
			}
			if v, _ := inst.GetVariable("i"); v != 3.0 {
				t.Fatalf("i = %v, want 3", v)
			}
			if executions(inst, "inc") != 3 || executions(inst, "loop") != 4 {
				t.Fatalf("loop trace = %v", traceIDs(inst))
			}
		})
	}
}

func TestRunawayLoopFaults(t *testing.T) {
	eng, _ := newMemoryEngine(t, Config{MaxSteps: 10})

	def := api.WorkflowDefinition{
		ID: "spin", Version: 1, IsEnabled: true,
		Activities: []api.ActivityDefinition{
			{ID: "start", TypeName: activities.TypeStart, IsStart: true},
			{ID: "echo", TypeName: activities.TypeLog, Properties: map[string]any{activities.PropMessage: "spin"}},
		},
		Transitions: []api.Transition{
			{SourceActivityID: "start", SourceOutcome: activities.OutcomeDone, DestinationActivityID: "echo"},
			{SourceActivityID: "echo", SourceOutcome: activities.OutcomeDone, DestinationActivityID: "echo"},
		},
	}
	mustRegister(t, eng, def)

	inst, err := eng.StartWorkflow(context.Background(), "spin", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if inst.Status != api.StatusFaulted {
		t.Fatalf("status = %s, want %s", inst.Status, api.StatusFaulted)
	}
	if !strings.Contains(inst.FaultMessage, "budget") {
		t.Fatalf("fault message = %q", inst.FaultMessage)
	}
}

func TestFaultingActivity(t *testing.T) {
	for name, factory := range engineFactories() {
		t.Run(name, func(t *testing.T) {
			eng := factory(t)

			def := linearDefinition()
			def.ID = "broken"
			def.Activities[1].Properties[activities.PropValue] = "no_such_variable + 1"
			mustRegister(t, eng, def)

			inst, err := eng.StartWorkflow(context.Background(), "broken", nil, "")
			if err != nil {
				t.Fatal(err)
			}
			if inst.Status != api.StatusFaulted {
				t.Fatalf("status = %s, want %s", inst.Status, api.StatusFaulted)
			}
			if !strings.Contains(inst.FaultMessage, "set") {
				t.Fatalf("fault message %q does not name the activity", inst.FaultMessage)
			}
			// The faulting activity never made it into the trace.
			if executions(inst, "set") != 0 || executions(inst, "done") != 0 {
				t.Fatalf("trace after fault = %v", traceIDs(inst))
			}
		})
	}
}

func TestCanceledContextFaultsRun(t *testing.T) {
	eng, _ := newMemoryEngine(t, Config{})
	mustRegister(t, eng, linearDefinition())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inst, err := eng.StartWorkflow(ctx, "linear", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if inst.Status != api.StatusFaulted {
		t.Fatalf("status = %s, want %s", inst.Status, api.StatusFaulted)
	}
	if !strings.Contains(inst.FaultMessage, "canceled") {
		t.Fatalf("fault message = %q", inst.FaultMessage)
	}
}

func TestRegisterDefinitionValidation(t *testing.T) {
	eng, _ := newMemoryEngine(t, Config{})
	ctx := context.Background()

	t.Run("unknown activity type", func(t *testing.T) {
		def := linearDefinition()
		def.ID = "bad-type"
		def.Activities[1].TypeName = "Teleport"
		if err := eng.RegisterDefinition(ctx, def); err == nil {
			t.Fatal("unknown activity type accepted")
		}
	})

	t.Run("start must be a starter type", func(t *testing.T) {
		def := api.WorkflowDefinition{
			ID: "log-start", Version: 1, IsEnabled: true,
			Activities: []api.ActivityDefinition{
				{ID: "l", TypeName: activities.TypeLog, IsStart: true},
			},
		}
		if err := eng.RegisterDefinition(ctx, def); err == nil {
			t.Fatal("non-starter start activity accepted")
		}

		// Event activities may start a workflow.
		def = api.WorkflowDefinition{
			ID: "timer-start", Version: 1, IsEnabled: true,
			Activities: []api.ActivityDefinition{
				{ID: "t", TypeName: activities.TypeTimer, IsStart: true,
					Properties: map[string]any{activities.PropDuration: "1h"}},
			},
		}
		if err := eng.RegisterDefinition(ctx, def); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("version defaults and duplicates", func(t *testing.T) {
		def := linearDefinition()
		def.ID = "versioned"
		def.Version = 0
		if err := eng.RegisterDefinition(ctx, def); err != nil {
			t.Fatal(err)
		}
		got, err := eng.GetDefinition(ctx, "versioned", 1)
		if err != nil {
			t.Fatal(err)
		}
		if got.Version != 1 {
			t.Fatalf("defaulted version = %d", got.Version)
		}

		def.Version = 1
		if err := eng.RegisterDefinition(ctx, def); err == nil {
			t.Fatal("duplicate version accepted")
		}
	})
}

func TestDisabledDefinition(t *testing.T) {
	for name, factory := range engineFactories() {
		t.Run(name, func(t *testing.T) {
			eng := factory(t)

			def := linearDefinition()
			def.ID = "retired"
			def.IsEnabled = false
			mustRegister(t, eng, def)

			_, err := eng.StartWorkflow(context.Background(), "retired", nil, "")
			if !errors.Is(err, api.ErrDefinitionDisabled) {
				t.Fatalf("error = %v, want ErrDefinitionDisabled", err)
			}
		})
	}
}

func TestStartWorkflowVersionPinning(t *testing.T) {
	for name, factory := range engineFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			eng := factory(t)

			v1 := linearDefinition()
			v1.ID = "pinned"
			mustRegister(t, eng, v1)

			v2 := linearDefinition()
			v2.ID = "pinned"
			v2.Version = 2
			v2.Activities[1].Properties[activities.PropValue] = "2"
			mustRegister(t, eng, v2)

			latest, err := eng.StartWorkflow(ctx, "pinned", nil, "")
			if err != nil {
				t.Fatal(err)
			}
			if latest.DefinitionVersion != 2 {
				t.Fatalf("latest run bound to v%d", latest.DefinitionVersion)
			}
			if v, _ := latest.GetVariable("answer"); v != 2 {
				t.Fatalf("v2 answer = %v", v)
			}

			pinned, err := eng.StartWorkflowVersion(ctx, "pinned", 1, nil, "")
			if err != nil {
				t.Fatal(err)
			}
			if pinned.DefinitionVersion != 1 {
				t.Fatalf("pinned run bound to v%d", pinned.DefinitionVersion)
			}
			if v, _ := pinned.GetVariable("answer"); v != 42 {
				t.Fatalf("v1 answer = %v", v)
			}
		})
	}
}

func TestUnknownDefinition(t *testing.T) {
	eng, _ := newMemoryEngine(t, Config{})
	_, err := eng.StartWorkflow(context.Background(), "ghost", nil, "")
	if !errors.Is(err, api.ErrDefinitionNotFound) {
		t.Fatalf("error = %v, want ErrDefinitionNotFound", err)
	}
}

func TestListInstancesAndHistory(t *testing.T) {
	for name, factory := range engineFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			eng := factory(t)
			mustRegister(t, eng, linearDefinition())

			a, err := eng.StartWorkflow(ctx, "linear", nil, "cust-1")
			if err != nil {
				t.Fatal(err)
			}
			if _, err := eng.StartWorkflow(ctx, "linear", nil, "cust-2"); err != nil {
				t.Fatal(err)
			}

			finished, err := eng.ListInstances(ctx, api.InstanceListOptions{Status: api.StatusFinished})
			if err != nil {
				t.Fatal(err)
			}
			if len(finished) != 2 {
				t.Fatalf("finished instances = %d", len(finished))
			}

			byCorr, err := eng.GetInstancesByCorrelation(ctx, "cust-1")
			if err != nil {
				t.Fatal(err)
			}
			if len(byCorr) != 1 || byCorr[0].ID != a.ID {
				t.Fatalf("correlation lookup = %+v", byCorr)
			}

			history, ok := eng.(api.HistoryReader)
			if !ok {
				t.Fatal("engine does not expose history")
			}
			events, err := history.ListEvents(ctx, a.ID)
			if err != nil {
				t.Fatal(err)
			}
			if len(events) < 2 {
				t.Fatalf("history has %d events", len(events))
			}
			if events[0].Type != api.EventWorkflowStarted {
				t.Fatalf("first event = %s", events[0].Type)
			}
			if events[len(events)-1].Type != api.EventWorkflowFinished {
				t.Fatalf("last event = %s", events[len(events)-1].Type)
			}
		})
	}
}

func TestObserverCallbacks(t *testing.T) {
	metrics := &api.BasicMetrics{}
	eng, _ := newMemoryEngine(t, Config{Observer: metrics})

	def := api.WorkflowDefinition{
		ID: "wait", Version: 1, IsEnabled: true,
		Activities: []api.ActivityDefinition{
			{ID: "start", TypeName: activities.TypeStart, IsStart: true},
			{ID: "gate", TypeName: activities.TypeSignal, Properties: map[string]any{
				activities.PropSignal: "go",
			}},
		},
		Transitions: []api.Transition{
			{SourceActivityID: "start", SourceOutcome: activities.OutcomeDone, DestinationActivityID: "gate"},
		},
	}
	mustRegister(t, eng, def)

	ctx := context.Background()
	inst, err := eng.StartWorkflow(ctx, "wait", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.ResumeWorkflow(ctx, inst.ID, "gate", nil); err != nil {
		t.Fatal(err)
	}

	snap := metrics.Snapshot()
	if snap.WorkflowsStarted != 1 || snap.WorkflowsHalted != 1 ||
		snap.WorkflowsResumed != 1 || snap.WorkflowsFinished != 1 {
		t.Fatalf("metrics = %+v", snap)
	}
	if snap.ActivitiesExecuted < 2 {
		t.Fatalf("activities executed = %d", snap.ActivitiesExecuted)
	}
}

// revisionBumper wraps an evaluator and, once armed, saves the stored copy
// of the instance mid-run so the running instance's revision goes stale.
type revisionBumper struct {
	inner      api.Evaluator
	store      persistence.InstanceStore
	instanceID string
	armed      bool
}

func (r *revisionBumper) Evaluate(ctx context.Context, expression string, vars map[string]any) (any, error) {
	if r.armed {
		r.armed = false
		inst, err := r.store.GetInstance(ctx, r.instanceID)
		if err != nil {
			return nil, err
		}
		if err := r.store.SaveInstance(ctx, inst); err != nil {
			return nil, err
		}
	}
	return r.inner.Evaluate(ctx, expression, vars)
}

func TestLosingRunDiscardsEvents(t *testing.T) {
	bumper := &revisionBumper{inner: eval.New()}
	eng, p := newMemoryEngine(t, Config{Evaluator: bumper})
	bumper.store = p.Instances

	def := api.WorkflowDefinition{
		ID: "audited", Version: 1, IsEnabled: true,
		Activities: []api.ActivityDefinition{
			{ID: "start", TypeName: activities.TypeStart, IsStart: true},
			{ID: "wait", TypeName: activities.TypeSignal, Properties: map[string]any{
				activities.PropSignal: "go",
			}},
			{ID: "set", TypeName: activities.TypeSetVariable, Properties: map[string]any{
				activities.PropVariable: "answer", activities.PropValue: "21 * 2",
			}},
		},
		Transitions: []api.Transition{
			{SourceActivityID: "start", SourceOutcome: activities.OutcomeDone, DestinationActivityID: "wait"},
			{SourceActivityID: "wait", SourceOutcome: activities.OutcomeDone, DestinationActivityID: "set"},
		},
	}
	mustRegister(t, eng, def)
	ctx := context.Background()

	inst, err := eng.StartWorkflow(ctx, "audited", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if inst.Status != api.StatusHalted {
		t.Fatalf("status = %s", inst.Status)
	}

	history, ok := eng.(api.HistoryReader)
	if !ok {
		t.Fatal("engine does not expose history")
	}
	before, err := history.ListEvents(ctx, inst.ID)
	if err != nil {
		t.Fatal(err)
	}

	// The resume run evaluates "21 * 2", which triggers the revision bump;
	// its final save must then lose to the conflicting write.
	bumper.instanceID = inst.ID
	bumper.armed = true
	_, err = eng.ResumeWorkflow(ctx, inst.ID, "wait", nil)
	if !errors.Is(err, api.ErrConcurrencyConflict) {
		t.Fatalf("error = %v, want ErrConcurrencyConflict", err)
	}

	// The losing run's progress was discarded, audit trail included: no
	// resumed/finished events from the run that never persisted.
	after, err := history.ListEvents(ctx, inst.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != len(before) {
		t.Fatalf("events = %d, want %d (losing run left a trail)", len(after), len(before))
	}
	for _, ev := range after {
		if ev.Type == api.EventWorkflowResumed || ev.Type == api.EventWorkflowFinished {
			t.Fatalf("losing run appended %s", ev.Type)
		}
	}

	// The stored instance is still resumable, and a clean retry both
	// finishes it and records the full trail.
	resumed, err := eng.ResumeWorkflow(ctx, inst.ID, "wait", nil)
	if err != nil {
		t.Fatal(err)
	}
	if resumed.Status != api.StatusFinished {
		t.Fatalf("status after retry = %s (fault: %s)", resumed.Status, resumed.FaultMessage)
	}
	final, err := history.ListEvents(ctx, inst.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(final) <= len(before) || final[len(final)-1].Type != api.EventWorkflowFinished {
		t.Fatalf("retry trail = %+v", final)
	}
}
