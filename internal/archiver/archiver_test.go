package archiver_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidurai/vidurai-core/internal/archiver"
	"github.com/vidurai/vidurai-core/internal/ledger"
	"github.com/vidurai/vidurai-core/internal/mlog"
	"github.com/vidurai/vidurai-core/internal/store/cold"
	"github.com/vidurai/vidurai-core/internal/store/model"
	"github.com/vidurai/vidurai-core/internal/store/writer"
)

type fakePendingReader struct {
	batch []model.Memory
}

func (f *fakePendingReader) PendingDecay(context.Context, int64, time.Time) ([]model.Memory, error) {
	return f.batch, nil
}

// fakeCold fails Verify on its first call and succeeds thereafter, letting
// tests exercise the "retry after verification failure" half of the atomic
// archive protocol without a real Parquet backend.
type fakeCold struct {
	failFirstVerify bool
	verifyCalls     int
}

func (f *fakeCold) WriteBatch(_ context.Context, projectID int64, memories []model.Memory, now time.Time) (cold.WrittenBatch, error) {
	return cold.WrittenBatch{Path: "fake", RowCount: len(memories), Checksum: "ok", ProjectID: projectID}, nil
}

func (f *fakeCold) Verify(context.Context, cold.WrittenBatch) (bool, error) {
	f.verifyCalls++
	if f.failFirstVerify && f.verifyCalls == 1 {
		return false, nil
	}

	return true, nil
}

type fakeSubmitter struct {
	deleted []int64
	fail    bool
}

func (f *fakeSubmitter) Submit(_ context.Context, cmd writer.Command) error {
	del, ok := cmd.(writer.DeleteArchived)
	if !ok {
		return nil
	}

	if f.fail {
		del.Result <- assert.AnError
		return nil
	}

	f.deleted = append(f.deleted, del.IDs...)
	del.Result <- nil

	return nil
}

func newBatch(n int) []model.Memory {
	now := time.Now().UTC()

	out := make([]model.Memory, n)
	for i := range out {
		out[i] = model.Memory{
			ID: int64(i + 1), ProjectID: 1, Verbatim: "v", Gist: "g",
			Status: model.StatusPendingDecay, Salience: model.SalienceLow,
			CreatedAt: now, LastAccessed: now.Add(-48 * time.Hour),
		}
	}

	return out
}

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()

	l, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.jsonl"), mlog.NewGoLogger(mlog.ErrorLevel))
	require.NoError(t, err)

	t.Cleanup(func() { _ = l.Close() })

	return l
}

// TestArchiveAtomicityUnderFailure is scenario S5 from spec.md §8: when the
// cold verify step fails, no hot rows are deleted and the ledger records a
// failed-archive entry; a subsequent successful tick deletes exactly that
// batch.
func TestArchiveAtomicityUnderFailure(t *testing.T) {
	batch := newBatch(100)
	reader := &fakePendingReader{batch: batch}
	sub := &fakeSubmitter{}
	coldStore := &fakeCold{failFirstVerify: true}
	l := newTestLedger(t)

	a := archiver.New(reader, coldStore, sub, l, mlog.NewGoLogger(mlog.ErrorLevel), 0)

	// First tick: verification fails, no hot rows deleted.
	err := a.ArchiveProject(context.Background(), 1, "/proj")
	require.Error(t, err)
	assert.Empty(t, sub.deleted)

	stats, err := l.ComputeStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CountsByEventType[model.LedgerArchive])

	// Second tick: verification succeeds, exactly the batch is deleted and
	// a successful archive entry is appended.
	require.NoError(t, a.ArchiveProject(context.Background(), 1, "/proj"))
	assert.Len(t, sub.deleted, 100)

	stats, err = l.ComputeStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.CountsByEventType[model.LedgerArchive])
}

func TestArchiveSkipsWhenBatchEmpty(t *testing.T) {
	root := t.TempDir()
	store, err := cold.Open(filepath.Join(root, "cold"))
	require.NoError(t, err)

	reader := &fakePendingReader{batch: nil}
	sub := &fakeSubmitter{}
	l := newTestLedger(t)

	a := archiver.New(reader, store, sub, l, mlog.NewGoLogger(mlog.ErrorLevel), 0)

	require.NoError(t, a.ArchiveProject(context.Background(), 1, "/proj"))
	assert.Empty(t, sub.deleted)
}
