package hot

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vidurai/vidurai-core/internal/store/model"
)

// ReadQueries implements the retention engine's MemoryReader and the
// archiver's PendingReader against a hot.DB's read connection pool, so
// neither package needs its own copy of the memories column list.
type ReadQueries struct {
	db *DB
}

// QueriesOn returns a read helper bound to db's reader pool.
func QueriesOn(db *DB) *ReadQueries { return &ReadQueries{db: db} }

// ActiveMemories returns every ACTIVE memory for a project.
func (q *ReadQueries) ActiveMemories(ctx context.Context, projectID int64) ([]model.Memory, error) {
	rows, err := q.db.Reader().QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM memories WHERE project_id = ? AND status = 'ACTIVE'`, MemoryColumns),
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("hot: querying active memories: %w", err)
	}
	defer rows.Close()

	return scanAll(rows)
}

// PendingDecay returns PENDING_DECAY memories for a project whose status
// transition (tracked via last_accessed, the only timestamp the Writer
// updates on transition) is older than olderThan.
func (q *ReadQueries) PendingDecay(ctx context.Context, projectID int64, olderThan time.Time) ([]model.Memory, error) {
	rows, err := q.db.Reader().QueryContext(ctx, fmt.Sprintf(
		`SELECT %s FROM memories WHERE project_id = ? AND status = 'PENDING_DECAY' AND last_accessed < ?`, MemoryColumns),
		projectID, olderThan.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("hot: querying pending decay memories: %w", err)
	}
	defer rows.Close()

	return scanAll(rows)
}

// FindActiveByFingerprint returns the ACTIVE memory sharing (project_id,
// fingerprint) with the incoming event, or nil if none exists — the lookup
// the Aggregator's Decide needs to tell an insert from a repeat.
func (q *ReadQueries) FindActiveByFingerprint(ctx context.Context, projectID int64, fingerprint string) (*model.Memory, error) {
	row := q.db.Reader().QueryRowContext(ctx, fmt.Sprintf(
		`SELECT %s FROM memories WHERE project_id = ? AND fingerprint = ? AND status = 'ACTIVE'`, MemoryColumns),
		projectID, fingerprint,
	)

	m, err := ScanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hot: querying memory by fingerprint: %w", err)
	}

	return &m, nil
}

// GetByID returns a single memory by id, or nil if it does not exist.
func (q *ReadQueries) GetByID(ctx context.Context, id int64) (*model.Memory, error) {
	row := q.db.Reader().QueryRowContext(ctx, fmt.Sprintf(
		`SELECT %s FROM memories WHERE id = ?`, MemoryColumns), id)

	m, err := ScanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hot: querying memory by id: %w", err)
	}

	return &m, nil
}

// ListProjects returns every registered project, used by the Scheduler's
// hygiene and archive ticks to iterate all known projects.
func (q *ReadQueries) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := q.db.Reader().QueryContext(ctx, `SELECT id, path, name, created_at, last_active FROM projects`)
	if err != nil {
		return nil, fmt.Errorf("hot: querying projects: %w", err)
	}
	defer rows.Close()

	var out []model.Project

	for rows.Next() {
		var (
			p                     model.Project
			createdAt, lastActive int64
		)

		if err := rows.Scan(&p.ID, &p.Path, &p.Name, &createdAt, &lastActive); err != nil {
			return nil, fmt.Errorf("hot: scanning project row: %w", err)
		}

		p.CreatedAt = time.UnixMilli(createdAt).UTC()
		p.LastActive = time.UnixMilli(lastActive).UTC()
		out = append(out, p)
	}

	return out, rows.Err()
}

func scanAll(rows *sql.Rows) ([]model.Memory, error) {
	var out []model.Memory

	for rows.Next() {
		m, err := ScanMemoryRows(rows)
		if err != nil {
			return nil, fmt.Errorf("hot: scanning row: %w", err)
		}

		out = append(out, m)
	}

	return out, rows.Err()
}
