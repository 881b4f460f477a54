package retriever_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidurai/vidurai-core/internal/retriever"
	"github.com/vidurai/vidurai-core/internal/store/hot"
	"github.com/vidurai/vidurai-core/internal/store/model"
)

func openTestDB(t *testing.T) *hot.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "hot.db")

	db, err := hot.Open(context.Background(), path)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return db
}

func insertMemory(t *testing.T, db *hot.DB, m model.Memory) int64 {
	t.Helper()

	res, err := db.Writer().ExecContext(context.Background(), `
		INSERT INTO memories (project_id, verbatim, gist, tags, event_type, file_path,
			line_number, language, salience, status, outcome, fingerprint, repeat_count,
			access_count, last_accessed, pinned, created_at, expires_at, decay_reason)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ProjectID, m.Verbatim, m.Gist, `[]`, m.EventType, m.FilePath,
		nil, "", string(m.Salience), string(m.Status), 0,
		m.Fingerprint, 1, 0, m.LastAccessed.UnixMilli(), 0,
		m.CreatedAt.UnixMilli(), nil, "",
	)
	require.NoError(t, err)

	id, err := res.LastInsertId()
	require.NoError(t, err)

	return id
}

func insertProject(t *testing.T, db *hot.DB) int64 {
	t.Helper()

	res, err := db.Writer().ExecContext(context.Background(), `
		INSERT INTO projects (path, name, created_at, last_active) VALUES (?,?,?,?)`,
		"/proj", "proj", time.Now().UnixMilli(), time.Now().UnixMilli())
	require.NoError(t, err)

	id, err := res.LastInsertId()
	require.NoError(t, err)

	return id
}

// TestFocusedRecallBias is scenario S3 from spec.md §8: memory A (focused
// file, older) outranks memory B (different file, newer) once a focus bond
// is in play.
func TestFocusedRecallBias(t *testing.T) {
	db := openTestDB(t)
	projectID := insertProject(t, db)

	now := time.Now().UTC()

	aID := insertMemory(t, db, model.Memory{
		ProjectID: projectID, Verbatim: "fixed auth bug", Gist: "fixed auth bug",
		EventType: "diagnostic", FilePath: "a.ts", Salience: model.SalienceHigh,
		Status: model.StatusActive, Fingerprint: "fp-a",
		CreatedAt: now.Add(-10 * time.Minute), LastAccessed: now.Add(-10 * time.Minute),
	})
	bID := insertMemory(t, db, model.Memory{
		ProjectID: projectID, Verbatim: "refactored util", Gist: "refactored util",
		EventType: "diagnostic", FilePath: "b.ts", Salience: model.SalienceHigh,
		Status: model.StatusActive, Fingerprint: "fp-b",
		CreatedAt: now.Add(-1 * time.Minute), LastAccessed: now.Add(-1 * time.Minute),
	})

	r := retriever.New(db.Reader())

	results, err := r.Rank(context.Background(), retriever.Query{
		ProjectID: projectID,
		FocusFile: "a.ts",
	}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, aID, results[0].Memory.ID)
	assert.Equal(t, bID, results[1].Memory.ID)
}

func TestRankDeduplicatesByFingerprint(t *testing.T) {
	db := openTestDB(t)
	projectID := insertProject(t, db)
	now := time.Now().UTC()

	insertMemory(t, db, model.Memory{
		ProjectID: projectID, Verbatim: "dup", Gist: "dup", EventType: "terminal",
		Salience: model.SalienceLow, Status: model.StatusActive, Fingerprint: "dup-fp",
		CreatedAt: now, LastAccessed: now,
	})
	insertMemory(t, db, model.Memory{
		ProjectID: projectID, Verbatim: "dup2", Gist: "dup2", EventType: "terminal",
		Salience: model.SalienceLow, Status: model.StatusActive, Fingerprint: "dup-fp",
		CreatedAt: now, LastAccessed: now,
	})

	r := retriever.New(db.Reader())

	results, err := r.Rank(context.Background(), retriever.Query{ProjectID: projectID}, 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestRankTiesBreakByAscendingID(t *testing.T) {
	db := openTestDB(t)
	projectID := insertProject(t, db)
	now := time.Now().UTC()

	firstID := insertMemory(t, db, model.Memory{
		ProjectID: projectID, Verbatim: "x", Gist: "x", EventType: "terminal",
		Salience: model.SalienceLow, Status: model.StatusActive, Fingerprint: "fp-1",
		CreatedAt: now, LastAccessed: now,
	})
	secondID := insertMemory(t, db, model.Memory{
		ProjectID: projectID, Verbatim: "y", Gist: "y", EventType: "terminal",
		Salience: model.SalienceLow, Status: model.StatusActive, Fingerprint: "fp-2",
		CreatedAt: now, LastAccessed: now,
	})

	r := retriever.New(db.Reader())

	results, err := r.Rank(context.Background(), retriever.Query{ProjectID: projectID}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, firstID < secondID)
	assert.Equal(t, firstID, results[0].Memory.ID)
}
