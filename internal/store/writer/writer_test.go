package writer_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidurai/vidurai-core/internal/ledger"
	"github.com/vidurai/vidurai-core/internal/mlog"
	"github.com/vidurai/vidurai-core/internal/store/hot"
	"github.com/vidurai/vidurai-core/internal/store/model"
	"github.com/vidurai/vidurai-core/internal/store/writer"
)

func newTestWriter(t *testing.T) (*writer.Writer, *hot.DB) {
	t.Helper()

	dir := t.TempDir()

	db, err := hot.Open(context.Background(), filepath.Join(dir, "hot.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	ldg, err := ledger.Open(filepath.Join(dir, "ledger.jsonl"), mlog.NewGoLogger(mlog.ErrorLevel))
	require.NoError(t, err)

	t.Cleanup(func() { _ = ldg.Close() })

	w := writer.New(db, ldg, mlog.NewGoLogger(mlog.ErrorLevel), writer.Config{BatchSize: 8, BatchWindow: 5 * time.Millisecond})

	return w, db
}

func runWriter(t *testing.T, w *writer.Writer) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		_ = w.Run(ctx)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return cancel
}

func ensureProject(t *testing.T, ctx context.Context, w *writer.Writer, path string) int64 {
	t.Helper()

	result := make(chan writer.EnsureProjectResult, 1)
	require.NoError(t, w.Submit(ctx, writer.EnsureProject{Path: path, Now: time.Now().UnixMilli(), Result: result}))

	r := <-result
	require.NoError(t, r.Err)

	return r.ID
}

// TestInsertMemoryStartsAtRepeatCountOne guards the schema's
// CHECK(repeat_count >= 1): a brand-new memory must be insertable without
// tripping it, the core ingest path for every first-sight event.
func TestInsertMemoryStartsAtRepeatCountOne(t *testing.T) {
	w, _ := newTestWriter(t)
	runWriter(t, w)

	ctx := context.Background()
	projectID := ensureProject(t, ctx, w, "/tmp/project-a")

	now := time.Now().UTC()

	insertCh := make(chan writer.InsertResult, 1)
	err := w.Submit(ctx, writer.InsertMemory{
		Memory: model.Memory{
			ProjectID:    projectID,
			Verbatim:     "ran tests",
			EventType:    "terminal",
			Salience:     model.SalienceLow,
			Status:       model.StatusActive,
			Fingerprint:  "fp-1",
			RepeatCount:  1,
			LastAccessed: now,
			CreatedAt:    now,
		},
		Result: insertCh,
	})
	require.NoError(t, err)

	res := <-insertCh
	require.NoError(t, res.Err)
	assert.Greater(t, res.ID, int64(0))
}

// TestBatchFailurePreventsEarlierSuccessFromLeaking verifies that when a
// later command in the same micro-batch fails and rolls back the whole
// transaction, an earlier command in that batch reports the failure too,
// rather than a success value sent before the batch committed.
func TestBatchFailurePreventsEarlierSuccessFromLeaking(t *testing.T) {
	w, _ := newTestWriter(t)
	runWriter(t, w)

	ctx := context.Background()
	projectID := ensureProject(t, ctx, w, "/tmp/project-b")

	now := time.Now().UTC()

	goodCh := make(chan writer.InsertResult, 1)
	badCh := make(chan error, 1)

	// Submitted together so the Writer's micro-batcher applies both in one
	// transaction: the good insert, then an UpdateStatus referencing a
	// memory_id that does not exist, which fails its SELECT.
	require.NoError(t, w.Submit(ctx, writer.InsertMemory{
		Memory: model.Memory{
			ProjectID:    projectID,
			Verbatim:     "ran tests",
			EventType:    "terminal",
			Salience:     model.SalienceLow,
			Status:       model.StatusActive,
			Fingerprint:  "fp-2",
			RepeatCount:  1,
			LastAccessed: now,
			CreatedAt:    now,
		},
		Result: goodCh,
	}))

	require.NoError(t, w.Submit(ctx, writer.UpdateStatus{
		MemoryID:    999999,
		NewStatus:   model.StatusPendingDecay,
		DecayReason: "passive_decay",
		Result:      badCh,
	}))

	select {
	case res := <-goodCh:
		assert.Error(t, res.Err, "the insert must not report success once the batch rolled back")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for insert result")
	}

	select {
	case err := <-badCh:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update-status result")
	}
}
