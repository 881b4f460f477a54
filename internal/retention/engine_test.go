package retention_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidurai/vidurai-core/internal/config"
	"github.com/vidurai/vidurai-core/internal/ledger"
	"github.com/vidurai/vidurai-core/internal/mlog"
	"github.com/vidurai/vidurai-core/internal/pins"
	"github.com/vidurai/vidurai-core/internal/retention"
	"github.com/vidurai/vidurai-core/internal/retention/rule"
	"github.com/vidurai/vidurai-core/internal/store/model"
	"github.com/vidurai/vidurai-core/internal/store/writer"
)

type fakeReader struct {
	memories []model.Memory
}

func (f *fakeReader) ActiveMemories(context.Context, int64) ([]model.Memory, error) {
	return f.memories, nil
}

// fakeSubmitter applies commands synchronously against an in-memory index,
// standing in for the real SQLite-backed Writer.
type fakeSubmitter struct {
	byID map[int64]*model.Memory
}

func (f *fakeSubmitter) Submit(_ context.Context, cmd writer.Command) error {
	switch c := cmd.(type) {
	case writer.UpdateStatus:
		if m, ok := f.byID[c.MemoryID]; ok {
			m.Status = c.NewStatus
			m.DecayReason = c.DecayReason
		}

		c.Result <- nil
	case writer.ConsolidateGroup:
		for _, id := range c.RemoveIDs {
			delete(f.byID, id)
		}

		c.Result <- writer.ConsolidateResult{SummaryID: 999}
	}

	return nil
}

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()

	l, err := ledger.Open(t.TempDir()+"/ledger.jsonl", mlog.NewGoLogger(mlog.ErrorLevel))
	require.NoError(t, err)

	t.Cleanup(func() { _ = l.Close() })

	return l
}

func newPolicy() *retention.FallbackPolicy {
	return &retention.FallbackPolicy{
		Primary:  rule.New(rule.DefaultThresholds()),
		Fallback: rule.New(rule.DefaultThresholds()),
	}
}

// TestPinImmunityUnderHygiene is scenario S2 from spec.md §8: a pinned
// MEDIUM memory survives 365 simulated days and a hygiene tick untouched.
func TestPinImmunityUnderHygiene(t *testing.T) {
	now := time.Now().UTC()

	pinned := model.Memory{
		ID: 1, ProjectID: 1, Salience: model.SalienceMedium, Status: model.StatusActive,
		Pinned: true, CreatedAt: now.Add(-400 * 24 * time.Hour), LastAccessed: now.Add(-400 * 24 * time.Hour),
		FilePath: "notes.md", Gist: "important note",
	}

	reader := &fakeReader{memories: []model.Memory{pinned}}
	l := newTestLedger(t)
	cfg := config.Default().Retention
	sub := &fakeSubmitter{byID: map[int64]*model.Memory{1: &pinned}}

	eng := retention.New(reader, sub, l, nil, newPolicy(), mlog.NewGoLogger(mlog.ErrorLevel), cfg)

	later := now.Add(365 * 24 * time.Hour)

	require.NoError(t, eng.PassiveDecay(context.Background(), 1, "/proj", later, pins.Denylist{}))
	require.NoError(t, eng.Hygiene(context.Background(), 1, "/proj", later, pins.Denylist{}))

	stats, err := l.ComputeStats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.CountsByEventType[model.LedgerDecay])
	assert.Equal(t, 0, stats.CountsByEventType[model.LedgerConsolidation])
	assert.Equal(t, model.StatusActive, pinned.Status)
}

func TestPassiveDecayTransitionsStaleNoise(t *testing.T) {
	now := time.Now().UTC()

	stale := model.Memory{
		ID: 2, ProjectID: 1, Salience: model.SalienceNoise, Status: model.StatusActive,
		CreatedAt: now.Add(-48 * time.Hour), LastAccessed: now.Add(-48 * time.Hour),
	}

	reader := &fakeReader{memories: []model.Memory{stale}}
	l := newTestLedger(t)
	cfg := config.Default().Retention
	sub := &fakeSubmitter{byID: map[int64]*model.Memory{2: &stale}}

	eng := retention.New(reader, sub, l, nil, newPolicy(), mlog.NewGoLogger(mlog.ErrorLevel), cfg)

	require.NoError(t, eng.PassiveDecay(context.Background(), 1, "/proj", now, pins.Denylist{}))

	assert.Equal(t, model.StatusPendingDecay, stale.Status)

	stats, err := l.ComputeStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CountsByEventType[model.LedgerDecay])
}

// TestCriticalNeverConsolidated is invariant #13: CRITICAL memories are
// unchanged before/after any hygiene tick, even when stale.
func TestCriticalNeverConsolidated(t *testing.T) {
	now := time.Now().UTC()

	critical := model.Memory{
		ID: 3, ProjectID: 1, Salience: model.SalienceCritical, Status: model.StatusActive,
		CreatedAt: now.Add(-100 * 24 * time.Hour), LastAccessed: now.Add(-100 * 24 * time.Hour),
		FilePath: "core.go", Gist: "root cause",
	}
	other := model.Memory{
		ID: 4, ProjectID: 1, Salience: model.SalienceLow, Status: model.StatusActive,
		CreatedAt: now.Add(-100 * 24 * time.Hour), LastAccessed: now.Add(-100 * 24 * time.Hour),
		FilePath: "core.go", Gist: "minor note",
	}

	reader := &fakeReader{memories: []model.Memory{critical, other}}
	l := newTestLedger(t)
	cfg := config.Default().Retention
	cfg.MaxAgeDays = 30
	sub := &fakeSubmitter{byID: map[int64]*model.Memory{3: &critical, 4: &other}}

	eng := retention.New(reader, sub, l, nil, newPolicy(), mlog.NewGoLogger(mlog.ErrorLevel), cfg)

	require.NoError(t, eng.Hygiene(context.Background(), 1, "/proj", now, pins.Denylist{}))

	assert.Equal(t, model.StatusActive, critical.Status)
	assert.Equal(t, model.SalienceCritical, critical.Salience)
}
