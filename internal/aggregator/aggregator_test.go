package aggregator_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vidurai/vidurai-core/internal/aggregator"
	"github.com/vidurai/vidurai-core/internal/store/model"
)

func TestNormalizeMasksNumbersAndPath(t *testing.T) {
	norm := aggregator.Normalize("Cannot find name 'Claude' at line   42", "/home/dev/proj/src/auth.ts", "/home/dev/proj")

	assert.Equal(t, "cannot find name 'claude' at line # /src/auth.ts", norm)
}

func TestFingerprintStableForSameInput(t *testing.T) {
	norm := aggregator.Normalize("same message", "src/a.ts", "")
	fp1 := aggregator.Fingerprint(norm, "diagnostic", "src/a.ts")
	fp2 := aggregator.Fingerprint(norm, "diagnostic", "src/a.ts")

	assert.Equal(t, fp1, fp2)
}

func TestFingerprintDiffersByKind(t *testing.T) {
	norm := aggregator.Normalize("same message", "src/a.ts", "")
	fp1 := aggregator.Fingerprint(norm, "diagnostic", "src/a.ts")
	fp2 := aggregator.Fingerprint(norm, "terminal", "src/a.ts")

	assert.NotEqual(t, fp1, fp2)
}

// TestAggregationBurst is scenario S1 from spec.md §8: 50 identical
// diagnostic events collapse to one ACTIVE memory with repeat_count 50 and
// salience demoted to at most LOW.
func TestAggregationBurst(t *testing.T) {
	existing := &model.Memory{
		ID:          1,
		Salience:    model.SalienceHigh,
		RepeatCount: 1,
		Tags:        []string{"diagnostic"},
		CreatedAt:   time.Now().Add(-time.Hour),
	}

	for i := 0; i < 49; i++ {
		d := aggregator.Decide(existing, []string{"diagnostic"})
		assert.True(t, d.Aggregate)

		existing.RepeatCount = d.NewRepeatCount
		existing.Salience = d.NewSalience
		existing.Tags = d.MergedTags
	}

	assert.Equal(t, 50, existing.RepeatCount)
	assert.LessOrEqual(t, existing.Salience.Rank(), model.SalienceLow.Rank())
}

func TestCriticalNeverDemotes(t *testing.T) {
	existing := &model.Memory{Salience: model.SalienceCritical, RepeatCount: 1}

	for i := 0; i < 100; i++ {
		d := aggregator.Decide(existing, nil)
		existing.RepeatCount = d.NewRepeatCount
		existing.Salience = d.NewSalience
	}

	assert.Equal(t, model.SalienceCritical, existing.Salience)
}

func TestPinnedNeverDemotes(t *testing.T) {
	existing := &model.Memory{Salience: model.SalienceMedium, RepeatCount: 1, Pinned: true}

	for i := 0; i < 100; i++ {
		d := aggregator.Decide(existing, nil)
		existing.RepeatCount = d.NewRepeatCount
		existing.Salience = d.NewSalience
	}

	assert.Equal(t, model.SalienceMedium, existing.Salience)
}

func TestMergeTagsDeduplicates(t *testing.T) {
	merged := aggregator.MergeTags([]string{"a", "b"}, []string{"b", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, merged)
}
