package core

import (
	"context"
	"fmt"

	"shift2me/pkg/domain"
)

// DefaultIncompleteRatio is the share of incomplete residues above which the
// coverage rule warns.
const DefaultIncompleteRatio = 0.5

// NewDefaultRulesEngine returns the engine with the built-in step rules.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(DuplicatePositionRule())
	engine.Register(CoverageRule(DefaultIncompleteRatio))
	engine.Register(VolumeConsistencyRule())
	return engine
}

type duplicatePositionRule struct{}

// DuplicatePositionRule warns when a step file lists a position more than once.
// Every occurrence is still appended to the residue.
func DuplicatePositionRule() domain.Rule { return duplicatePositionRule{} }

func (duplicatePositionRule) Name() string { return "duplicate_positions" }

func (r duplicatePositionRule) Evaluate(_ context.Context, _ domain.TitrationView, step domain.StepInput) (domain.Result, error) {
	seen := make(map[int]int, len(step.Records))
	var res domain.Result
	for _, rec := range step.Records {
		seen[rec.Position]++
		if seen[rec.Position] == 2 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("position %d listed more than once in %s", rec.Position, step.Source),
				Position: rec.Position,
			})
		}
	}
	return res, nil
}

type coverageRule struct{ maxRatio float64 }

// CoverageRule warns when more than maxRatio of the residues are incomplete
// after the step.
func CoverageRule(maxRatio float64) domain.Rule { return coverageRule{maxRatio: maxRatio} }

func (coverageRule) Name() string { return "coverage" }

func (r coverageRule) Evaluate(_ context.Context, view domain.TitrationView, step domain.StepInput) (domain.Result, error) {
	total := len(view.Positions())
	if total == 0 {
		return domain.Result{}, nil
	}
	incomplete := len(view.IncompletePositions())
	ratio := float64(incomplete) / float64(total)
	if ratio <= r.maxRatio {
		return domain.Result{}, nil
	}
	return domain.Result{Violations: []domain.Violation{{
		Rule:     r.Name(),
		Severity: domain.SeverityWarn,
		Message:  fmt.Sprintf("%d of %d residues incomplete after step %d", incomplete, total, step.Step),
	}}}, nil
}

type volumeConsistencyRule struct{}

// VolumeConsistencyRule notes when a configured protocol has no volume for
// every ingested step.
func VolumeConsistencyRule() domain.Rule { return volumeConsistencyRule{} }

func (volumeConsistencyRule) Name() string { return "volume_consistency" }

func (r volumeConsistencyRule) Evaluate(_ context.Context, view domain.TitrationView, _ domain.StepInput) (domain.Result, error) {
	p := view.Protocol()
	if !p.Configured() || view.IsConsistent() {
		return domain.Result{}, nil
	}
	return domain.Result{Violations: []domain.Violation{{
		Rule:     r.Name(),
		Severity: domain.SeverityLog,
		Message:  fmt.Sprintf("protocol lists %d volumes for %d steps", len(p.Volumes), view.Steps()),
	}}}, nil
}
