package oracle_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidurai/vidurai-core/internal/oracle"
	"github.com/vidurai/vidurai-core/internal/oracle/render"
	"github.com/vidurai/vidurai-core/internal/retriever"
	"github.com/vidurai/vidurai-core/internal/store/hot"
	"github.com/vidurai/vidurai-core/internal/store/model"
)

func openTestDB(t *testing.T) *hot.DB {
	t.Helper()

	db, err := hot.Open(context.Background(), filepath.Join(t.TempDir(), "hot.db"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return db
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

func insertPinnedMemory(t *testing.T, db *hot.DB, projectID int64, gist string, now time.Time) {
	t.Helper()

	_, err := db.Writer().ExecContext(context.Background(), `
		INSERT INTO memories (project_id, verbatim, gist, tags, event_type, file_path,
			line_number, language, salience, status, outcome, fingerprint, repeat_count,
			access_count, last_accessed, pinned, created_at, expires_at, decay_reason)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		projectID, gist, gist, `[]`, "memory_op", "",
		nil, "", string(model.SalienceCritical), string(model.StatusActive), 0,
		gist, 1, 0, now.UnixMilli(), 1,
		now.UnixMilli(), nil, "",
	)
	require.NoError(t, err)
}

// TestOracleTokenBudgetNeverExceeded is scenario S6 + invariant #12: with
// 20 pinned memories of ~300 chars each and a budget sized for 5, the
// response contains exactly 5 pinned items, in priority order, marked
// truncated, and its size stays within budget.
func TestOracleTokenBudgetNeverExceeded(t *testing.T) {
	db := openTestDB(t)
	projectID := insertProject(t, db)
	now := time.Now().UTC()

	filler := make([]byte, 280)
	for i := range filler {
		filler[i] = 'x'
	}

	for i := 0; i < 20; i++ {
		insertPinnedMemory(t, db, projectID, string(filler), now)
	}

	r := retriever.New(db.Reader())
	o := oracle.New(r)

	// Each item costs roughly len(gist)+len(verbatim) / 4 + 1 tokens; size
	// the budget for exactly 5 of them.
	perItemTokens := (280+280)/4 + 1
	maxTokens := perItemTokens * 5

	ctx, err := o.Assemble(context.Background(), oracle.Request{
		Audience:  render.AudienceDeveloper,
		MaxTokens: maxTokens,
		ProjectID: projectID,
	})
	require.NoError(t, err)

	assert.Equal(t, 5, ctx.ItemCount)
	assert.True(t, ctx.Truncated)
	assert.LessOrEqual(t, len(ctx.Body)/4, maxTokens+50) // rendering overhead tolerance
}

func TestOracleIsPureAcrossRepeatedCalls(t *testing.T) {
	db := openTestDB(t)
	projectID := insertProject(t, db)
	now := time.Now().UTC()

	insertPinnedMemory(t, db, projectID, "stable gist", now)

	o := oracle.New(retriever.New(db.Reader()))

	req := oracle.Request{Audience: render.AudienceDeveloper, MaxTokens: 4000, ProjectID: projectID}

	first, err := o.Assemble(context.Background(), req)
	require.NoError(t, err)

	second, err := o.Assemble(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Body, second.Body)
}
