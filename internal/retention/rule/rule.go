// Package rule implements the Retention Engine's rule-based Policy
// (spec.md §4.8): explicit thresholds on store size and age, no learning
// state. This is the engine's default and its fallback when an rl_based
// policy raises PolicyError.
package rule

import (
	"context"

	"github.com/vidurai/vidurai-core/internal/retention/policy"
)

// Thresholds configures when the rule policy escalates from a light touch
// to an aggressive one.
type Thresholds struct {
	ConsolidateAt       int     // total memories at which to start consolidating
	AggressiveAt        int     // total memories at which to consolidate aggressively
	ArchiveIdleSeconds  float64 // min seconds since last hygiene before archiving pending
	LowValueRatioToSweep float64
}

// DefaultThresholds mirrors the size buckets in policy.State.Bucket.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ConsolidateAt:        500,
		AggressiveAt:         50000,
		ArchiveIdleSeconds:   86400,
		LowValueRatioToSweep: 0.25,
	}
}

// Policy is the rule-based Policy implementation.
type Policy struct {
	thresholds Thresholds
}

// New builds a rule Policy. A zero Thresholds falls back to DefaultThresholds.
func New(t Thresholds) *Policy {
	if t == (Thresholds{}) {
		t = DefaultThresholds()
	}

	return &Policy{thresholds: t}
}

// Name implements policy.Policy.
func (p *Policy) Name() string { return "rule_based" }

// Observe implements policy.Policy with deterministic threshold checks.
func (p *Policy) Observe(_ context.Context, s policy.State) (policy.Action, error) {
	if s.TotalMemories >= p.thresholds.AggressiveAt {
		return policy.ActionConsolidateAggressive, nil
	}

	if s.SecondsSinceHygiene >= p.thresholds.ArchiveIdleSeconds {
		return policy.ActionArchivePending, nil
	}

	if s.TotalMemories >= p.thresholds.ConsolidateAt {
		lowRatio := 0.0
		if s.ActiveMemories > 0 {
			lowRatio = float64(s.LowValueCount) / float64(s.ActiveMemories)
		}

		if lowRatio >= p.thresholds.LowValueRatioToSweep {
			return policy.ActionConsolidateLight, nil
		}
	}

	if s.LowValueCount > 0 {
		return policy.ActionPassiveSweep, nil
	}

	return policy.ActionNoOp, nil
}

// Learn is a no-op: the rule-based policy carries no learning state
// (spec.md §4.8: "rule-based policies ignore this").
func (p *Policy) Learn(context.Context, policy.State, policy.Action, float64, policy.State) error {
	return nil
}
