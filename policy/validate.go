package policy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// Condition expressions are evaluated by the trigger engine against these
// variables. We only check that an expression compiles to a boolean.
var (
	celEnvOnce sync.Once
	celEnv     *cel.Env
	celEnvErr  error
)

func conditionEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("count", cel.IntType),
			cel.Variable("minutes", cel.IntType),
			cel.Variable("days", cel.IntType),
			cel.Variable("score", cel.DoubleType),
			cel.Variable("event", cel.StringType),
		)
	})
	return celEnv, celEnvErr
}

// ValidateExpression checks that expr compiles to a boolean CEL expression.
func ValidateExpression(expr string) error {
	env, err := conditionEnv()
	if err != nil {
		return fmt.Errorf("condition environment: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return &InvalidArgumentError{Field: "conditions.expression", Reason: iss.Err().Error()}
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return &InvalidArgumentError{
			Field:  "conditions.expression",
			Reason: fmt.Sprintf("must evaluate to bool, got %s", ast.OutputType()),
		}
	}
	return nil
}

// NormalizeContent validates rule content and rewrites action kinds to their
// canonical spelling.
func NormalizeContent(c Content) (Content, error) {
	out := c.Clone()
	out.Description = strings.TrimSpace(out.Description)
	if out.Description == "" {
		return Content{}, &InvalidArgumentError{Field: "description", Reason: "required"}
	}
	if len(out.Actions) == 0 {
		return Content{}, &InvalidArgumentError{Field: "actions", Reason: "at least one action is required"}
	}
	for i, a := range out.Actions {
		kind, ok := NormalizeActionKind(string(a.Kind))
		if !ok {
			return Content{}, &InvalidArgumentError{
				Field:  fmt.Sprintf("actions[%d].kind", i),
				Reason: fmt.Sprintf("unknown action kind %q", a.Kind),
			}
		}
		if a.Value.IsNegative() {
			return Content{}, &InvalidArgumentError{
				Field:  fmt.Sprintf("actions[%d].value", i),
				Reason: "must not be negative",
			}
		}
		out.Actions[i].Kind = kind
	}
	if expr := strings.TrimSpace(out.Conditions.Expression); expr != "" {
		if err := ValidateExpression(expr); err != nil {
			return Content{}, err
		}
		out.Conditions.Expression = expr
	}
	return out, nil
}
