package cel

import (
	"testing"

	"github.com/ongarde/ongarde/internal/domain/scan"
)

func TestEvaluate_EscalatesOnMatchingCategory(t *testing.T) {
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	prg, err := e.Compile(`category == "shell_pattern" && risk_level == "critical"`)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	fire, err := e.Evaluate(prg, scan.RuleContext{
		Category:  scan.CategoryShellPattern,
		RiskLevel: scan.RiskCritical,
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !fire {
		t.Error("expected rule to fire")
	}
}

func TestEvaluate_DoesNotFireOnMismatch(t *testing.T) {
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	prg, err := e.Compile(`upstream == "internal-llm"`)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	fire, err := e.Evaluate(prg, scan.RuleContext{Upstream: "openai-default"})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if fire {
		t.Error("expected rule not to fire")
	}
}

func TestEvaluate_RolesMembership(t *testing.T) {
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	prg, err := e.Compile(`!is_test && roles.exists(r, r == "contractor")`)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	fire, err := e.Evaluate(prg, scan.RuleContext{Roles: []string{"contractor", "user"}, IsTest: false})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !fire {
		t.Error("expected rule to fire for contractor role")
	}
}

func TestValidateExpression_RejectsOversizedExpression(t *testing.T) {
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	huge := make([]byte, maxExpressionLength+1)
	for i := range huge {
		huge[i] = 'a'
	}

	if err := e.ValidateExpression(string(huge)); err == nil {
		t.Error("expected error for oversized expression")
	}
}

func TestValidateExpression_RejectsDeepNesting(t *testing.T) {
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	expr := ""
	for i := 0; i < maxNestingDepth+5; i++ {
		expr += "("
	}
	expr += "true"
	for i := 0; i < maxNestingDepth+5; i++ {
		expr += ")"
	}

	if err := e.ValidateExpression(expr); err == nil {
		t.Error("expected error for overly nested expression")
	}
}

func TestValidateExpression_RejectsEmpty(t *testing.T) {
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}
	if err := e.ValidateExpression(""); err == nil {
		t.Error("expected error for empty expression")
	}
}

func TestValidateExpression_RejectsInvalidSyntax(t *testing.T) {
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}
	if err := e.ValidateExpression("category ==="); err == nil {
		t.Error("expected error for invalid syntax")
	}
}

func TestValidateExpression_AcceptsValidExpression(t *testing.T) {
	e, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}
	if err := e.ValidateExpression(`category == "pii" && risk_level != "low"`); err != nil {
		t.Errorf("unexpected error for valid expression: %v", err)
	}
}
