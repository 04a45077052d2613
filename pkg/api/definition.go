package api

import (
	"errors"
	"fmt"
)

// ActivityDefinition is one node of a workflow definition graph.
type ActivityDefinition struct {
	// ID is unique within the definition.
	ID string `json:"id" yaml:"id"`

	// TypeName resolves the activity implementation through the catalog.
	TypeName string `json:"typeName" yaml:"type"`

	// Properties is activity-specific configuration (conditions, branch
	// names, signal names, ...). Values are plain JSON/YAML scalars and
	// sequences.
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`

	// IsStart marks an activity that may start the workflow.
	IsStart bool `json:"isStart,omitempty" yaml:"start,omitempty"`

	// X, Y are designer layout metadata. The engine ignores them.
	X int `json:"x,omitempty" yaml:"x,omitempty"`
	Y int `json:"y,omitempty" yaml:"y,omitempty"`
}

// Transition is one edge of the graph: when the activity identified by
// SourceActivityID returns SourceOutcome, execution continues at
// DestinationActivityID. Several transitions may share a source and
// outcome; each one schedules the destination once (intentional fan-out).
type Transition struct {
	SourceActivityID      string `json:"sourceActivityId" yaml:"from"`
	SourceOutcome         string `json:"sourceOutcome" yaml:"outcome"`
	DestinationActivityID string `json:"destinationActivityId" yaml:"to"`
}

// WorkflowDefinition is a named, versioned activity graph. Definitions are
// immutable once registered; publishing a change means a new version.
type WorkflowDefinition struct {
	ID          string               `json:"id" yaml:"id"`
	Name        string               `json:"name" yaml:"name"`
	Version     int                  `json:"version" yaml:"version"`
	IsEnabled   bool                 `json:"isEnabled" yaml:"enabled"`
	Activities  []ActivityDefinition `json:"activities" yaml:"activities"`
	Transitions []Transition         `json:"transitions" yaml:"transitions"`
}

// Validate checks the structural invariants: a non-empty id, at least one
// start activity, unique activity ids, and transitions whose endpoints all
// reference existing activities. Cycles are legal.
func (d WorkflowDefinition) Validate() error {
	if d.ID == "" {
		return errors.New("definition id is required")
	}
	if len(d.Activities) == 0 {
		return fmt.Errorf("definition %q has no activities", d.ID)
	}

	ids := make(map[string]bool, len(d.Activities))
	starts := 0
	for _, a := range d.Activities {
		if a.ID == "" {
			return fmt.Errorf("definition %q has an activity without an id", d.ID)
		}
		if a.TypeName == "" {
			return fmt.Errorf("definition %q activity %q has no type", d.ID, a.ID)
		}
		if ids[a.ID] {
			return fmt.Errorf("definition %q has duplicate activity id %q", d.ID, a.ID)
		}
		ids[a.ID] = true
		if a.IsStart {
			starts++
		}
	}
	if starts == 0 {
		return fmt.Errorf("definition %q has no start activity", d.ID)
	}

	for _, t := range d.Transitions {
		if !ids[t.SourceActivityID] {
			return fmt.Errorf("definition %q transition references unknown source %q", d.ID, t.SourceActivityID)
		}
		if !ids[t.DestinationActivityID] {
			return fmt.Errorf("definition %q transition references unknown destination %q", d.ID, t.DestinationActivityID)
		}
		if t.SourceOutcome == "" {
			return fmt.Errorf("definition %q transition %q -> %q has no outcome", d.ID, t.SourceActivityID, t.DestinationActivityID)
		}
	}

	return nil
}

// ActivityByID returns the activity definition with the given id.
func (d WorkflowDefinition) ActivityByID(id string) (ActivityDefinition, bool) {
	for _, a := range d.Activities {
		if a.ID == id {
			return a, true
		}
	}
	return ActivityDefinition{}, false
}

// StartActivities returns the activities marked as workflow starters, in
// definition order.
func (d WorkflowDefinition) StartActivities() []ActivityDefinition {
	var out []ActivityDefinition
	for _, a := range d.Activities {
		if a.IsStart {
			out = append(out, a)
		}
	}
	return out
}

// TransitionsFrom returns every transition leaving (sourceID, outcome), in
// definition order. Duplicates are returned as-is: each edge schedules its
// destination once.
func (d WorkflowDefinition) TransitionsFrom(sourceID, outcome string) []Transition {
	var out []Transition
	for _, t := range d.Transitions {
		if t.SourceActivityID == sourceID && t.SourceOutcome == outcome {
			out = append(out, t)
		}
	}
	return out
}

// TransitionsTo returns every transition entering the given activity. The
// static fan-in of a join is derived from this.
func (d WorkflowDefinition) TransitionsTo(destinationID string) []Transition {
	var out []Transition
	for _, t := range d.Transitions {
		if t.DestinationActivityID == destinationID {
			out = append(out, t)
		}
	}
	return out
}
