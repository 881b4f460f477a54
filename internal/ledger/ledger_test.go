package ledger_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidurai/vidurai-core/internal/ledger"
	"github.com/vidurai/vidurai-core/internal/mlog"
	"github.com/vidurai/vidurai-core/internal/store/model"
)

func newLedger(t *testing.T) (*ledger.Ledger, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger.jsonl")

	l, err := ledger.Open(path, mlog.NewGoLogger(mlog.ErrorLevel))
	require.NoError(t, err)

	t.Cleanup(func() { _ = l.Close() })

	return l, path
}

func TestAppendAndQueryRoundTrip(t *testing.T) {
	l, _ := newLedger(t)

	ev := model.LedgerEvent{
		Timestamp:      time.Now().UTC(),
		EventType:      model.LedgerAggregation,
		Action:         "aggregate",
		ProjectPath:    "/proj",
		MemoriesBefore: 1,
		MemoriesAfter:  1,
		Reversible:     true,
	}

	require.NoError(t, l.Append(ev))

	events, err := l.Query(ledger.Filter{ProjectPath: "/proj"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.LedgerAggregation, events[0].EventType)
}

// TestLedgerImmutability is property #7: previously written byte ranges
// never change, only appended bytes grow.
func TestLedgerImmutability(t *testing.T) {
	l, path := newLedger(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(model.LedgerEvent{
			Timestamp: time.Now().UTC(),
			EventType: model.LedgerDecay,
			Action:    "passive_decay",
		}))
	}

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, l.Append(model.LedgerEvent{
		Timestamp: time.Now().UTC(),
		EventType: model.LedgerArchive,
		Action:    "archive",
	}))

	after, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.True(t, len(after) > len(before))
	assert.Equal(t, string(before), string(after[:len(before)]))
}

// TestQueryToleratesTruncatedTail covers a crash mid-write: the last line
// has no closing brace and must be treated as a truncated tail, not an
// error (spec.md §4.6).
func TestQueryToleratesTruncatedTail(t *testing.T) {
	l, path := newLedger(t)

	require.NoError(t, l.Append(model.LedgerEvent{
		Timestamp: time.Now().UTC(),
		EventType: model.LedgerUnlearn,
		Action:    "unlearn",
	}))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"timestamp":"2024-01-01T00:00:00Z","event_typ`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	events, err := l.Query(ledger.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.LedgerUnlearn, events[0].EventType)
}

// TestReconciliationMatchesMemoryCounts is property #3: every store
// mutation that creates or removes memories has a ledger entry whose
// memories_before/after matches.
func TestReconciliationMatchesMemoryCounts(t *testing.T) {
	l, _ := newLedger(t)

	require.NoError(t, l.Append(model.LedgerEvent{
		Timestamp:        time.Now().UTC(),
		EventType:        model.LedgerConsolidation,
		Action:           "consolidate",
		MemoriesBefore:   5,
		MemoriesAfter:    1,
		MemoriesRemoved:  []int64{1, 2, 3, 4, 5},
		ConsolidatedInto: []int64{6},
		Reversible:       true,
	})

	events, err := l.Query(ledger.Filter{EventType: model.LedgerConsolidation})
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, ev.MemoriesBefore-len(ev.MemoriesRemoved)+len(ev.ConsolidatedInto), ev.MemoriesAfter)
}

func TestRotatePreservesOldContentUnderNewName(t *testing.T) {
	l, path := newLedger(t)

	require.NoError(t, l.Append(model.LedgerEvent{Timestamp: time.Now().UTC(), EventType: model.LedgerDecay}))

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, l.Rotate(now))

	require.NoError(t, l.Append(model.LedgerEvent{Timestamp: time.Now().UTC(), EventType: model.LedgerArchive}))

	rotated := path + ".20260102T030405"
	_, err := os.Stat(rotated)
	assert.NoError(t, err)

	events, err := l.Query(ledger.Filter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, model.LedgerArchive, events[0].EventType)
}

func TestComputeStatsAggregatesCounts(t *testing.T) {
	l, _ := newLedger(t)

	require.NoError(t, l.Append(model.LedgerEvent{
		Timestamp: time.Now().UTC(), EventType: model.LedgerArchive,
		MemoriesRemoved: []int64{1, 2}, EntitiesPreserved: 3,
	}))
	require.NoError(t, l.Append(model.LedgerEvent{
		Timestamp: time.Now().UTC(), EventType: model.LedgerDecay,
	}))

	stats, err := l.ComputeStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CountsByEventType[model.LedgerArchive])
	assert.Equal(t, 1, stats.CountsByEventType[model.LedgerDecay])
	assert.Equal(t, 2, stats.MemoriesRemoved)
	assert.Equal(t, 3, stats.MemoriesPreserved)
}
