package ramify

import (
	"context"
	"fmt"
	"time"

	"github.com/petrijr/ramify/pkg/activities"
	"github.com/petrijr/ramify/pkg/api"
)

// GraphBuilder provides a fluent API for defining workflow graphs:
//
//	def := ramify.NewDefinition("doc-approval", "Document approval").
//	    Start("start").
//	    IfElse("check", "amount > 1000").
//	    Signal("wait", "manager-approved").
//	    Log("done", "approved").
//	    Connect("start", "Done", "check").
//	    Connect("check", "True", "wait").
//	    Connect("check", "False", "done").
//	    Connect("wait", "Done", "done").
//	    Definition()
//
//	if err := eng.RegisterDefinition(ctx, def); err != nil {
//	    log.Fatal(err)
//	}
//
// Structural problems (duplicate ids, dangling transitions) surface at
// registration through WorkflowDefinition.Validate, not here.
type GraphBuilder struct {
	def api.WorkflowDefinition
}

// NewDefinition creates a builder for an enabled version-1 definition.
func NewDefinition(id, name string) *GraphBuilder {
	if id == "" {
		panic("ramify: definition id must not be empty")
	}
	return &GraphBuilder{
		def: api.WorkflowDefinition{
			ID:        id,
			Name:      name,
			Version:   1,
			IsEnabled: true,
		},
	}
}

// Version overrides the definition version.
func (b *GraphBuilder) Version(v int) *GraphBuilder {
	b.def.Version = v
	return b
}

// Disabled marks the definition as not startable.
func (b *GraphBuilder) Disabled() *GraphBuilder {
	b.def.IsEnabled = false
	return b
}

// Activity appends an activity node of the given type.
func (b *GraphBuilder) Activity(id, typeName string, props map[string]any) *GraphBuilder {
	return b.add(id, typeName, props, false)
}

// StartWith appends an activity node marked as a workflow start.
func (b *GraphBuilder) StartWith(id, typeName string, props map[string]any) *GraphBuilder {
	return b.add(id, typeName, props, true)
}

func (b *GraphBuilder) add(id, typeName string, props map[string]any, isStart bool) *GraphBuilder {
	if id == "" {
		panic(fmt.Sprintf("ramify: definition %q: activity id must not be empty", b.def.ID))
	}
	b.def.Activities = append(b.def.Activities, api.ActivityDefinition{
		ID:         id,
		TypeName:   typeName,
		Properties: props,
		IsStart:    isStart,
	})
	return b
}

// Connect adds a transition: when from produces outcome, run to.
func (b *GraphBuilder) Connect(from, outcome, to string) *GraphBuilder {
	b.def.Transitions = append(b.def.Transitions, api.Transition{
		SourceActivityID:      from,
		SourceOutcome:         outcome,
		DestinationActivityID: to,
	})
	return b
}

// Built-in activity shorthands.

// Start appends the canonical start activity.
func (b *GraphBuilder) Start(id string) *GraphBuilder {
	return b.StartWith(id, activities.TypeStart, nil)
}

// IfElse appends a condition node producing True or False.
func (b *GraphBuilder) IfElse(id, condition string) *GraphBuilder {
	return b.Activity(id, activities.TypeIfElse, map[string]any{
		activities.PropCondition: condition,
	})
}

// Fork appends a parallel split with one outcome per branch name.
func (b *GraphBuilder) Fork(id string, branches ...string) *GraphBuilder {
	return b.Activity(id, activities.TypeFork, map[string]any{
		activities.PropBranches: branches,
	})
}

// Join appends a rendezvous that waits for all inbound branches.
func (b *GraphBuilder) Join(id string) *GraphBuilder {
	return b.Activity(id, activities.TypeJoin, nil)
}

// JoinAny appends a rendezvous that fires on the first inbound branch.
func (b *GraphBuilder) JoinAny(id string) *GraphBuilder {
	return b.Activity(id, activities.TypeJoin, map[string]any{
		activities.PropMode: "any",
	})
}

// While appends a loop head re-evaluating its condition each pass.
func (b *GraphBuilder) While(id, condition string) *GraphBuilder {
	return b.Activity(id, activities.TypeWhile, map[string]any{
		activities.PropCondition: condition,
	})
}

// ForLoop appends a counting loop over [from, to) in increments of step,
// with the counter stored in the named variable.
func (b *GraphBuilder) ForLoop(id, variable string, from, to, step float64) *GraphBuilder {
	return b.Activity(id, activities.TypeForLoop, map[string]any{
		activities.PropVariable: variable,
		activities.PropFrom:     from,
		activities.PropTo:       to,
		activities.PropStep:     step,
	})
}

// Signal appends a blocking wait for the named signal.
func (b *GraphBuilder) Signal(id, signalName string) *GraphBuilder {
	return b.Activity(id, activities.TypeSignal, map[string]any{
		activities.PropSignal: signalName,
	})
}

// Timer appends a blocking wait for the given duration.
func (b *GraphBuilder) Timer(id string, d time.Duration) *GraphBuilder {
	return b.Activity(id, activities.TypeTimer, map[string]any{
		activities.PropDuration: d.String(),
	})
}

// SetVariable appends a node storing the value expression's result under
// the variable name.
func (b *GraphBuilder) SetVariable(id, variable, valueExpr string) *GraphBuilder {
	return b.Activity(id, activities.TypeSetVariable, map[string]any{
		activities.PropVariable: variable,
		activities.PropValue:    valueExpr,
	})
}

// Log appends a node writing a structured log line.
func (b *GraphBuilder) Log(id, message string) *GraphBuilder {
	return b.Activity(id, activities.TypeLog, map[string]any{
		activities.PropMessage: message,
	})
}

// Definition returns the built definition.
func (b *GraphBuilder) Definition() WorkflowDefinition {
	return b.def
}

// Register validates and registers the definition on the engine.
func (b *GraphBuilder) Register(ctx context.Context, eng Engine) error {
	return eng.RegisterDefinition(ctx, b.def)
}

// MustRegister is Register, panicking on error. Intended for startup
// wiring where a broken definition is a programming error.
func (b *GraphBuilder) MustRegister(ctx context.Context, eng Engine) {
	if err := b.Register(ctx, eng); err != nil {
		panic(err)
	}
}
