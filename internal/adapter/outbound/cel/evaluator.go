// Package cel provides a CEL-based custom-rule evaluator. Custom rules can
// only escalate a finding from allow to block (SPEC_FULL.md §4.2.1); they
// never downgrade a block decision.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/ongarde/ongarde/internal/domain/scan"
)

// maxExpressionLength is the maximum allowed length for CEL expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit to prevent cost-exhaustion DoS.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout is the maximum time allowed for a single CEL evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context cancellation is checked.
const interruptCheckFreq = 100

// Evaluator compiles and evaluates CEL custom rules.
type Evaluator struct {
	env *cel.Env
}

// NewRuleEnvironment creates the CEL environment exposing a scan.RuleContext
// as a flat set of variables: rule_id, category, risk_level, upstream,
// roles, is_test.
func NewRuleEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("rule_id", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("risk_level", cel.StringType),
		cel.Variable("upstream", cel.StringType),
		cel.Variable("roles", cel.ListType(cel.StringType)),
		cel.Variable("is_test", cel.BoolType),
	)
}

// NewEvaluator creates a new CEL evaluator with the rule environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewRuleEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create rule environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile parses and type-checks a CEL expression, returning a compiled program.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	return prg, nil
}

// validateNesting checks that the expression does not exceed the maximum
// allowed nesting depth for parentheses, brackets, and braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// ValidateExpression checks that a CEL expression is syntactically valid and
// safe to evaluate (length, nesting depth, compile-time type checking).
func (e *Evaluator) ValidateExpression(expr string) error {
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}

	if expr == "" {
		return errors.New("expression is empty")
	}

	if err := validateNesting(expr); err != nil {
		return err
	}

	_, err := e.Compile(expr)
	if err != nil {
		return fmt.Errorf("invalid CEL expression: %w", err)
	}

	return nil
}

// activation builds the CEL variable bindings from a scan.RuleContext.
func activation(rc scan.RuleContext) map[string]interface{} {
	roles := make([]string, len(rc.Roles))
	copy(roles, rc.Roles)
	return map[string]interface{}{
		"rule_id":    rc.RuleID,
		"category":   string(rc.Category),
		"risk_level": string(rc.RiskLevel),
		"upstream":   rc.Upstream,
		"roles":      roles,
		"is_test":    rc.IsTest,
	}
}

// Evaluate runs a compiled CEL program against a rule context and reports
// whether the custom rule fires. A firing rule escalates the finding's
// decision to block; it can never suppress one.
func (e *Evaluator) Evaluate(prg cel.Program, rc scan.RuleContext) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, activation(rc))
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}

	return boolResult, nil
}
