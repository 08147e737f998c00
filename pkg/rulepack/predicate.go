package rulepack

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// predicateEnv exposes the record payload to requiredness predicates as a
// dynamic map named `payload`, e.g.
//
//	payload.incident_type_code in ["FIRE", "EXPLOSION"]
var (
	predicateEnvOnce sync.Once
	predicateEnv     *cel.Env
	predicateEnvErr  error
)

func sharedEnv() (*cel.Env, error) {
	predicateEnvOnce.Do(func() {
		predicateEnv, predicateEnvErr = cel.NewEnv(
			cel.Variable("payload", cel.MapType(cel.StringType, cel.DynType)),
		)
	})
	return predicateEnv, predicateEnvErr
}

// Predicate is a compiled CEL requiredness condition.
type Predicate struct {
	prg cel.Program
}

// CompilePredicate compiles expr against the shared environment and asserts
// a boolean result type.
func CompilePredicate(expr string) (*Predicate, error) {
	env, err := sharedEnv()
	if err != nil {
		return nil, fmt.Errorf("rulepack: cel environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("rulepack: predicate %q does not compile: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rulepack: predicate %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("rulepack: predicate %q program: %w", expr, err)
	}
	return &Predicate{prg: prg}, nil
}

// Eval runs the predicate over a record payload. Evaluation errors (e.g. a
// reference to an absent key) resolve to false: a predicate that cannot be
// decided must not force requiredness.
func (p *Predicate) Eval(payload map[string]any) bool {
	val, _, err := p.prg.Eval(map[string]any{"payload": payload})
	if err != nil {
		return false
	}
	b, ok := val.Value().(bool)
	return ok && b
}
