// Package eval provides the bundled expression evaluator: Go expressions
// interpreted with yaegi. Workflow variables are exported into the
// interpreter and dot-imported, so conditions read naturally ("count > 3",
// "status == \"approved\"").
//
// The evaluator satisfies api.Evaluator; hosts that prefer a different
// expression language plug in their own implementation.
package eval

import (
	"context"
	"fmt"
	"reflect"
	"unicode"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/petrijr/ramify/pkg/api"
)

// GoEvaluator evaluates Go expressions with a fresh yaegi interpreter per
// call. Fresh interpreters keep evaluations isolated: an expression cannot
// leak declarations into a later one.
type GoEvaluator struct {
	// UseStdlib exposes the Go standard library to expressions. Enabled by
	// default via New; disable for a tighter sandbox.
	UseStdlib bool
}

var _ api.Evaluator = (*GoEvaluator)(nil)

// New returns a GoEvaluator with the standard library available.
func New() *GoEvaluator {
	return &GoEvaluator{UseStdlib: true}
}

// Evaluate implements api.Evaluator.
func (e *GoEvaluator) Evaluate(ctx context.Context, expression string, variables map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{})
	if e.UseStdlib {
		if err := i.Use(stdlib.Symbols); err != nil {
			return nil, fmt.Errorf("eval: load stdlib: %w", err)
		}
	}

	if len(variables) > 0 {
		symbols := make(map[string]reflect.Value, len(variables))
		for name, value := range variables {
			if !isIdentifier(name) || value == nil {
				continue
			}
			symbols[name] = reflect.ValueOf(value)
		}
		if len(symbols) > 0 {
			if err := i.Use(interp.Exports{"vars/vars": symbols}); err != nil {
				return nil, fmt.Errorf("eval: export variables: %w", err)
			}
			if _, err := i.Eval(`import . "vars"`); err != nil {
				return nil, fmt.Errorf("eval: import variables: %w", err)
			}
		}
	}

	v, err := i.Eval(expression)
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w", expression, err)
	}
	if !v.IsValid() {
		return nil, nil
	}
	return v.Interface(), nil
}

// isIdentifier reports whether name is a legal Go identifier, i.e. usable
// as an exported interpreter symbol.
func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		if r == '_' || unicode.IsLetter(r) {
			continue
		}
		if i > 0 && unicode.IsDigit(r) {
			continue
		}
		return false
	}
	return true
}
