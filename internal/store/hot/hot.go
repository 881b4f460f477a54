// Package hot implements the Durable Store's hot side (spec.md §4.5): a
// single local SQLite database in WAL mode, holding ACTIVE and transitional
// memories. Only internal/store/writer may open a read-write connection to
// this database; everything else in the engine reads through DB.Reader().
package hot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/vidurai/vidurai-core/internal/store/model"
	"github.com/vidurai/vidurai-core/internal/verrors"
)

// DB wraps the hot store's write connection and a small pool of read-only
// connections, matching spec.md §4.5's "Readers use separate read-only
// connections; WAL permits concurrent reads with the writer."
type DB struct {
	writeConn *sql.DB
	readPool  *sql.DB
	path      string
}

// Open opens (creating if absent) the hot store at path, runs migrations,
// and returns a DB ready for a single Writer and a pool of Readers. A
// failure to open is always a StoreUnavailableError — the one fatal error
// kind in the engine (spec.md §7).
func Open(ctx context.Context, path string) (*DB, error) {
	writeConn, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, verrors.WrapStoreUnavailable(path, err)
	}

	writeConn.SetMaxOpenConns(1) // single-writer discipline (spec.md §4.5)

	readPool, err := sql.Open("sqlite", path+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, verrors.WrapStoreUnavailable(path, err)
	}

	readPool.SetMaxOpenConns(4) // N small, per spec.md §5

	db := &DB{writeConn: writeConn, readPool: readPool, path: path}

	if err := db.migrate(ctx); err != nil {
		return nil, verrors.WrapStoreUnavailable(path, err)
	}

	return db, nil
}

// Writer returns the single write connection. Only internal/store/writer
// should call this.
func (db *DB) Writer() *sql.DB { return db.writeConn }

// Reader returns a read-only connection from the pool.
func (db *DB) Reader() *sql.DB { return db.readPool }

// Close closes both connections.
func (db *DB) Close() error {
	werr := db.writeConn.Close()
	rerr := db.readPool.Close()

	if werr != nil {
		return werr
	}

	return rerr
}

// migrate applies schema.sql idempotently and, if the schema_version table
// is empty, records the one-shot "migration" ledger entry spec.md §9
// requires for legacy-shape coalescing. Since this is a fresh rewrite there
// is no legacy shape to migrate from; the hook is here so a future
// SPEC_FULL.md column addition has a place to land its backfill step.
func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.writeConn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}

	var count int
	if err := db.writeConn.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_version`).Scan(&count); err != nil {
		return fmt.Errorf("reading schema_version: %w", err)
	}

	if count == 0 {
		if _, err := db.writeConn.ExecContext(ctx, `INSERT INTO schema_version(version) VALUES (?)`, currentSchemaVersion); err != nil {
			return fmt.Errorf("seeding schema_version: %w", err)
		}
	}

	return nil
}

// --- row marshaling helpers shared by writer and retriever ---

func scanMemory(row interface {
	Scan(dest ...any) error
}) (model.Memory, error) {
	var (
		m            model.Memory
		tagsJSON     string
		lastAccessed int64
		createdAt    int64
		expiresAt    sql.NullInt64
		lineNumber   sql.NullInt64
		pinned       int
	)

	err := row.Scan(
		&m.ID, &m.ProjectID, &m.Verbatim, &m.Gist, &tagsJSON, &m.EventType,
		&m.FilePath, &lineNumber, &m.Language, &m.Salience, &m.Status, &m.Outcome,
		&m.Fingerprint, &m.RepeatCount, &m.AccessCount, &lastAccessed, &pinned,
		&createdAt, &expiresAt, &m.DecayReason,
	)
	if err != nil {
		return model.Memory{}, err
	}

	if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
		m.Tags = nil
	}

	m.LineNumber = int(lineNumber.Int64)
	m.LastAccessed = time.UnixMilli(lastAccessed).UTC()
	m.CreatedAt = time.UnixMilli(createdAt).UTC()
	m.Pinned = pinned != 0

	if expiresAt.Valid {
		t := time.UnixMilli(expiresAt.Int64).UTC()
		m.ExpiresAt = &t
	}

	return m, nil
}

// MemoryColumns is the column list scanMemory expects, in order. Shared so
// every query site stays in lockstep with scanMemory.
const MemoryColumns = `id, project_id, verbatim, gist, tags, event_type, file_path, line_number,
	language, salience, status, outcome, fingerprint, repeat_count, access_count,
	last_accessed, pinned, created_at, expires_at, decay_reason`

// ScanMemory exposes scanMemory to sibling packages (retriever, retention)
// that run their own SELECT statements against MemoryColumns.
func ScanMemory(row *sql.Row) (model.Memory, error)   { return scanMemory(row) }
func ScanMemoryRows(rows *sql.Rows) (model.Memory, error) { return scanMemory(rows) }
