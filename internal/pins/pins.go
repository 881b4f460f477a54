// Package pins implements the Pin Registry (spec.md §4.7): a read-only view
// over the hot store's pins table. Mutations go exclusively through the
// Writer's Pin/Unpin commands; this package never opens a write connection.
package pins

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vidurai/vidurai-core/internal/store/model"
)

// Registry is a read-only view over the pins table.
type Registry struct {
	reader *sql.DB
}

// New builds a Registry over a read-only connection pool.
func New(reader *sql.DB) *Registry {
	return &Registry{reader: reader}
}

// Denylist is the snapshot of pinned memory IDs and pinned file paths the
// Retention Engine must treat as immune for the duration of one hygiene
// cycle (spec.md §4.7: "treat it as a denylist on eviction candidates for
// the duration of the cycle").
type Denylist struct {
	MemoryIDs map[int64]struct{}
	FilePaths map[string]struct{}
}

// IsPinned reports whether a memory ID or file path is covered by the
// snapshot taken at Snapshot time.
func (d Denylist) IsPinned(memoryID int64, filePath string) bool {
	if _, ok := d.MemoryIDs[memoryID]; ok {
		return true
	}

	if filePath != "" {
		if _, ok := d.FilePaths[filePath]; ok {
			return true
		}
	}

	return false
}

// Snapshot reads the current pin set. Callers take one snapshot per
// hygiene cycle rather than re-querying per candidate, so a concurrent pin
// change mid-cycle never produces a torn view of "pinned".
func (r *Registry) Snapshot(ctx context.Context) (Denylist, error) {
	rows, err := r.reader.QueryContext(ctx, `SELECT memory_id, file_path FROM pins`)
	if err != nil {
		return Denylist{}, fmt.Errorf("pins: querying snapshot: %w", err)
	}
	defer rows.Close()

	d := Denylist{
		MemoryIDs: make(map[int64]struct{}),
		FilePaths: make(map[string]struct{}),
	}

	for rows.Next() {
		var (
			memoryID sql.NullInt64
			filePath string
		)

		if err := rows.Scan(&memoryID, &filePath); err != nil {
			return Denylist{}, fmt.Errorf("pins: scanning row: %w", err)
		}

		if memoryID.Valid {
			d.MemoryIDs[memoryID.Int64] = struct{}{}
		}

		if filePath != "" {
			d.FilePaths[filePath] = struct{}{}
		}
	}

	return d, rows.Err()
}

// List returns every pin entry, for the `get_pinned` consumer request
// (spec.md §6).
func (r *Registry) List(ctx context.Context) ([]model.PinEntry, error) {
	rows, err := r.reader.QueryContext(ctx, `SELECT memory_id, file_path, pinned_at, reason, pinned_by FROM pins ORDER BY pinned_at`)
	if err != nil {
		return nil, fmt.Errorf("pins: listing: %w", err)
	}
	defer rows.Close()

	var out []model.PinEntry

	for rows.Next() {
		var (
			memoryID sql.NullInt64
			pinnedAt int64
			e        model.PinEntry
		)

		if err := rows.Scan(&memoryID, &e.FilePath, &pinnedAt, &e.Reason, &e.PinnedBy); err != nil {
			return nil, fmt.Errorf("pins: scanning row: %w", err)
		}

		if memoryID.Valid {
			id := memoryID.Int64
			e.MemoryID = &id
		}

		e.PinnedAt = time.UnixMilli(pinnedAt).UTC()
		out = append(out, e)
	}

	return out, rows.Err()
}
