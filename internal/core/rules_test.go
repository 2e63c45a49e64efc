package core

import (
	"context"
	"testing"

	"shift2me/pkg/domain"
)

type fakeView struct {
	steps      int
	positions  []int
	incomplete []int
	protocol   domain.Protocol
	consistent bool
}

func (v fakeView) Steps() int                 { return v.steps }
func (v fakeView) Positions() []int           { return v.positions }
func (v fakeView) CompletePositions() []int   { return nil }
func (v fakeView) IncompletePositions() []int { return v.incomplete }
func (v fakeView) Protocol() domain.Protocol  { return v.protocol }
func (v fakeView) IsConsistent() bool         { return v.consistent }

func TestDuplicatePositionRule(t *testing.T) {
	step := domain.StepInput{Step: 1, Source: "t1.list", Records: []domain.Record{
		{Position: 1, H: 8, N: 120},
		{Position: 1, H: 8, N: 120},
		{Position: 1, H: 8, N: 120},
		{Position: 2, H: 8, N: 120},
	}}
	res, err := DuplicatePositionRule().Evaluate(context.Background(), fakeView{}, step)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 1 || res.Violations[0].Position != 1 || res.Violations[0].Severity != domain.SeverityWarn {
		t.Fatalf("expected single warning for position 1, got %+v", res.Violations)
	}
}

func TestCoverageRule(t *testing.T) {
	rule := CoverageRule(0.5)
	cases := []struct {
		name string
		view fakeView
		want int
	}{
		{"empty", fakeView{}, 0},
		{"half", fakeView{positions: []int{1, 2}, incomplete: []int{2}}, 0},
		{"mostly incomplete", fakeView{positions: []int{1, 2, 3}, incomplete: []int{2, 3}}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := rule.Evaluate(context.Background(), tc.view, domain.StepInput{Step: 2})
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if len(res.Violations) != tc.want {
				t.Fatalf("expected %d violations, got %+v", tc.want, res.Violations)
			}
		})
	}
}

func TestVolumeConsistencyRule(t *testing.T) {
	configured := domain.Protocol{
		Titrant:     domain.Reagent{Concentration: 1},
		Analyte:     domain.Reagent{Concentration: 1},
		StartVolume: domain.StartVolume{Analyte: 1, Total: 2},
		Volumes:     []float64{0},
	}
	rule := VolumeConsistencyRule()
	res, _ := rule.Evaluate(context.Background(), fakeView{steps: 2, protocol: configured}, domain.StepInput{})
	if len(res.Violations) != 1 || res.Violations[0].Severity != domain.SeverityLog {
		t.Fatalf("expected log note, got %+v", res.Violations)
	}
	res, _ = rule.Evaluate(context.Background(), fakeView{steps: 2}, domain.StepInput{})
	if len(res.Violations) != 0 {
		t.Fatalf("unconfigured protocol must not be reported: %+v", res.Violations)
	}
	res, _ = rule.Evaluate(context.Background(), fakeView{steps: 1, protocol: configured, consistent: true}, domain.StepInput{})
	if len(res.Violations) != 0 {
		t.Fatalf("consistent protocol must not be reported: %+v", res.Violations)
	}
}

func TestNewDefaultRulesEngineRegistersRules(t *testing.T) {
	engine := NewDefaultRulesEngine()
	step := domain.StepInput{Records: []domain.Record{{Position: 4}, {Position: 4}}}
	res, err := engine.Evaluate(context.Background(), fakeView{positions: []int{4}}, step)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if res.HasBlocking() || len(res.Violations) != 1 {
		t.Fatalf("unexpected default result %+v", res)
	}
}
