package activities

import "github.com/petrijr/ramify/pkg/api"

// Activity type names of the built-in library.
const (
	TypeStart       = "Start"
	TypeFork        = "Fork"
	TypeJoin        = "Join"
	TypeIfElse      = "IfElse"
	TypeWhile       = "While"
	TypeForLoop     = "ForLoop"
	TypeSignal      = "Signal"
	TypeTimer       = "Timer"
	TypeSetVariable = "SetVariable"
	TypeLog         = "Log"
)

// Outcome names produced by the built-in library.
const (
	OutcomeDone    = "Done"
	OutcomeTrue    = "True"
	OutcomeFalse   = "False"
	OutcomeIterate = "Iterate"
	OutcomeJoined  = "Joined"
)

// Property keys understood by the built-in library.
const (
	PropBranches  = "branches"
	PropMode      = "mode"
	PropCondition = "condition"
	PropFrom      = "from"
	PropTo        = "to"
	PropStep      = "step"
	PropVariable  = "variable"
	PropValue     = "value"
	PropSignal    = "signal"
	PropDuration  = "duration"
	PropUntil     = "until"
	PropMessage   = "message"
	PropLevel     = "level"
)

const categoryControlFlow = "Control Flow"
const categoryEvents = "Events"
const categoryPrimitives = "Primitives"

// Register adds every built-in activity type to the catalog.
func Register(c *api.ActivityCatalog) {
	c.MustRegister(api.ActivityMetadata{
		TypeName:         TypeStart,
		Category:         categoryPrimitives,
		Description:      "Entry point that immediately continues with Done.",
		CanStartWorkflow: true,
	}, func() api.Activity { return &Start{} })

	c.MustRegister(api.ActivityMetadata{
		TypeName:    TypeFork,
		Category:    categoryControlFlow,
		Description: "Splits execution into one logical branch per configured branch name.",
	}, func() api.Activity { return &Fork{} })

	c.MustRegister(api.ActivityMetadata{
		TypeName:    TypeJoin,
		Category:    categoryControlFlow,
		Description: "Rendezvous point that fires once all (or any) inbound branches have arrived.",
	}, func() api.Activity { return &Join{} })

	c.MustRegister(api.ActivityMetadata{
		TypeName:    TypeIfElse,
		Category:    categoryControlFlow,
		Description: "Evaluates a boolean expression and continues with True or False.",
	}, func() api.Activity { return &IfElse{} })

	c.MustRegister(api.ActivityMetadata{
		TypeName:    TypeWhile,
		Category:    categoryControlFlow,
		Description: "Continues with Iterate while its condition holds, then with Done.",
	}, func() api.Activity { return &While{} })

	c.MustRegister(api.ActivityMetadata{
		TypeName:    TypeForLoop,
		Category:    categoryControlFlow,
		Description: "Counts from 'from' to 'to', continuing with Iterate per step and Done at the end.",
	}, func() api.Activity { return &ForLoop{} })

	c.MustRegister(api.ActivityMetadata{
		TypeName:         TypeSignal,
		Category:         categoryEvents,
		Description:      "Halts until a matching named signal is delivered.",
		IsEvent:          true,
		CanStartWorkflow: true,
	}, func() api.Activity { return &Signal{} })

	c.MustRegister(api.ActivityMetadata{
		TypeName:    TypeTimer,
		Category:    categoryEvents,
		Description: "Halts until a duration has elapsed or a deadline has passed.",
		IsEvent:     true,
	}, func() api.Activity { return &Timer{} })

	c.MustRegister(api.ActivityMetadata{
		TypeName:    TypeSetVariable,
		Category:    categoryPrimitives,
		Description: "Evaluates an expression and stores the result in a workflow variable.",
	}, func() api.Activity { return &SetVariable{} })

	c.MustRegister(api.ActivityMetadata{
		TypeName:    TypeLog,
		Category:    categoryPrimitives,
		Description: "Writes a structured log line.",
	}, func() api.Activity { return &Log{} })
}

// Catalog returns a fresh catalog holding the complete built-in library.
func Catalog() *api.ActivityCatalog {
	c := api.NewActivityCatalog()
	Register(c)
	return c
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
