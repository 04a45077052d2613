package api

import (
	"strings"
	"testing"
)

func validDefinition() WorkflowDefinition {
	return WorkflowDefinition{
		ID:        "wf",
		Name:      "Test",
		Version:   1,
		IsEnabled: true,
		Activities: []ActivityDefinition{
			{ID: "a", TypeName: "Start", IsStart: true},
			{ID: "b", TypeName: "Log"},
		},
		Transitions: []Transition{
			{SourceActivityID: "a", SourceOutcome: "Done", DestinationActivityID: "b"},
		},
	}
}

func TestDefinitionValidate(t *testing.T) {
	if err := validDefinition().Validate(); err != nil {
		t.Fatalf("valid definition rejected: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*WorkflowDefinition)
		wantSub string
	}{
		{"missing id", func(d *WorkflowDefinition) { d.ID = "" }, "id is required"},
		{"no activities", func(d *WorkflowDefinition) { d.Activities = nil }, "no activities"},
		{"no start", func(d *WorkflowDefinition) { d.Activities[0].IsStart = false }, "no start activity"},
		{"duplicate ids", func(d *WorkflowDefinition) { d.Activities[1].ID = "a" }, "duplicate activity id"},
		{"missing type", func(d *WorkflowDefinition) { d.Activities[1].TypeName = "" }, "has no type"},
		{"unknown source", func(d *WorkflowDefinition) { d.Transitions[0].SourceActivityID = "zzz" }, "unknown source"},
		{"unknown destination", func(d *WorkflowDefinition) { d.Transitions[0].DestinationActivityID = "zzz" }, "unknown destination"},
		{"empty outcome", func(d *WorkflowDefinition) { d.Transitions[0].SourceOutcome = "" }, "no outcome"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := validDefinition()
			tc.mutate(&def)
			err := def.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantSub)
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error %q does not contain %q", err, tc.wantSub)
			}
		})
	}
}

func TestDefinitionCyclesAreLegal(t *testing.T) {
	def := validDefinition()
	def.Transitions = append(def.Transitions,
		Transition{SourceActivityID: "b", SourceOutcome: "Done", DestinationActivityID: "a"})
	if err := def.Validate(); err != nil {
		t.Fatalf("cyclic definition rejected: %v", err)
	}
}

func TestTransitionLookups(t *testing.T) {
	def := WorkflowDefinition{
		ID: "wf",
		Activities: []ActivityDefinition{
			{ID: "fork", TypeName: "Fork", IsStart: true},
			{ID: "x", TypeName: "Log"},
			{ID: "join", TypeName: "Join"},
		},
		Transitions: []Transition{
			{SourceActivityID: "fork", SourceOutcome: "left", DestinationActivityID: "x"},
			{SourceActivityID: "fork", SourceOutcome: "left", DestinationActivityID: "join"},
			{SourceActivityID: "fork", SourceOutcome: "right", DestinationActivityID: "join"},
			{SourceActivityID: "x", SourceOutcome: "Done", DestinationActivityID: "join"},
		},
	}

	if got := len(def.TransitionsFrom("fork", "left")); got != 2 {
		t.Fatalf("TransitionsFrom(fork, left) = %d, want 2", got)
	}
	if got := len(def.TransitionsFrom("fork", "missing")); got != 0 {
		t.Fatalf("TransitionsFrom(fork, missing) = %d, want 0", got)
	}
	if got := len(def.TransitionsTo("join")); got != 3 {
		t.Fatalf("TransitionsTo(join) = %d, want 3", got)
	}

	starts := def.StartActivities()
	if len(starts) != 1 || starts[0].ID != "fork" {
		t.Fatalf("StartActivities = %+v, want [fork]", starts)
	}
}
