// Package quality implements the phase-5 ("Assure Quality") composite
// scoring rules: a weighted sum over four sub-scores (style-lint,
// type-check, security-audit, test-coverage), using integer weights that
// must sum to exactly 100, the same "fixed integer math, validated once at
// load" shape internal/priority uses for its own (non-runtime-configurable)
// age/dependency weights — except here the weights themselves come from
// internal/config and are validated once at startup rather than compiled
// in, since §4.11 of the spec names quality_weights as a declarative knob.
package quality

import (
	"fmt"

	"github.com/worldforge/orchestrator/internal/domain"
)

// Weights are the four sub-score weights; DefaultWeights matches the
// 30/25/30/15 split recorded in original_source/miyabi-persistence's
// checkpoint integer math.
type Weights struct {
	StyleLint     int
	TypeCheck     int
	SecurityAudit int
	TestCoverage  int
}

// DefaultWeights returns the spec's documented default split.
func DefaultWeights() Weights {
	return Weights{StyleLint: 30, TypeCheck: 25, SecurityAudit: 30, TestCoverage: 15}
}

// Validate rejects a Weights whose four fields do not sum to exactly 100,
// the decision recorded for the "sum to 100 vs merely normalized" open
// question.
func (w Weights) Validate() error {
	sum := w.StyleLint + w.TypeCheck + w.SecurityAudit + w.TestCoverage
	if sum != 100 {
		return fmt.Errorf("%w: quality_weights must sum to 100, got %d", domain.ErrConfigInvalid, sum)
	}
	return nil
}

// Composite computes the weighted sub-score sum, divided by 100 per
// spec.md §3's formula: composite = Σ(sub · weight) / 100.
func (w Weights) Composite(m domain.ResultMetrics) float64 {
	sub := func(p *float64) float64 {
		if p == nil {
			return 0
		}
		return *p
	}
	return (sub(m.StyleLint)*float64(w.StyleLint) +
		sub(m.TypeCheck)*float64(w.TypeCheck) +
		sub(m.SecurityAudit)*float64(w.SecurityAudit) +
		sub(m.TestCoverage)*float64(w.TestCoverage)) / 100
}

// Report builds a QualityReport from a world's metrics, recording
// autoFixAttempt on it; the fix/pass thresholds are applied by the
// report's own Marginal and Passed methods.
func (w Weights) Report(m domain.ResultMetrics, autoFixAttempt int) domain.QualityReport {
	sub := func(p *float64) float64 {
		if p == nil {
			return 0
		}
		return *p
	}
	return domain.QualityReport{
		StyleLint:      sub(m.StyleLint),
		TypeCheck:      sub(m.TypeCheck),
		SecurityAudit:  sub(m.SecurityAudit),
		TestCoverage:   sub(m.TestCoverage),
		Composite:      w.Composite(m),
		AutoFixAttempt: autoFixAttempt,
	}
}

// WorldScorer implements fiveworlds.Scorer: it scores one world's
// AgentResult using the configured weights. A result with no Metrics at all
// falls back to a pass/fail score (100 on success, 0 otherwise) — the
// normal case for a world whose agent never reported sub-scores and whose
// metrics were not backfilled by internal/advisor before scoring.
type WorldScorer struct {
	Weights Weights
}

// Score implements internal/fiveworlds.Scorer.
func (s WorldScorer) Score(result domain.AgentResult) float64 {
	if result.Metrics == nil {
		if result.Success {
			return 100
		}
		return 0
	}
	return s.Weights.Composite(*result.Metrics)
}
