package domain

import (
	"context"
	"errors"
	"testing"
)

type staticRule struct {
	name string
	res  Result
	err  error
}

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(context.Context, TitrationView, StepInput) (Result, error) {
	return r.res, r.err
}

func TestRulesEngineMergesResults(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{name: "warn", res: Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}}})
	engine.Register(staticRule{name: "quiet"})
	engine.Register(staticRule{name: "block", res: Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock, Position: 4}}}})

	res, err := engine.Evaluate(context.Background(), NewTitration(""), StepInput{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 2 || !res.HasBlocking() {
		t.Fatalf("unexpected result %+v", res)
	}
	if (RuleViolationError{Result: res}).Error() == "" {
		t.Fatalf("expected error message")
	}
}

func TestRulesEngineStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	engine := NewRulesEngine()
	engine.Register(staticRule{name: "fail", err: boom})
	if _, err := engine.Evaluate(context.Background(), NewTitration(""), StepInput{}); !errors.Is(err, boom) {
		t.Fatalf("expected rule error, got %v", err)
	}
	var nilEngine *RulesEngine
	if res, err := nilEngine.Evaluate(context.Background(), NewTitration(""), StepInput{}); err != nil || res.HasBlocking() {
		t.Fatalf("nil engine must be a no-op")
	}
}
