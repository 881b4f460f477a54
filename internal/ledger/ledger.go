// Package ledger implements the append-only JSONL audit trail of every
// forgetting decision the engine makes (spec.md §3, §4.6). The Ledger owns
// its file handle exclusively; nobody else appends to it.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vidurai/vidurai-core/internal/mlog"
	"github.com/vidurai/vidurai-core/internal/store/model"
)

// Ledger appends model.LedgerEvent records to a single newline-delimited
// JSON file, one record per line, each flushed to disk before Append
// returns (spec.md §4.6: "O_APPEND... with an explicit flush after each
// record").
type Ledger struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	logger mlog.Logger
}

// Open opens (creating if absent) the ledger file at path for append.
func Open(path string, logger mlog.Logger) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: creating directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening %s: %w", path, err)
	}

	return &Ledger{file: f, path: path, logger: logger}, nil
}

// Append writes one record as a single JSON line, fsyncing before return.
// Existing lines are never rewritten (spec.md §8 invariant #7: ledger
// immutability — only appended bytes grow).
func (l *Ledger) Append(ev model.LedgerEvent) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("ledger: marshaling event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("ledger: writing: %w", err)
	}

	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("ledger: fsync: %w", err)
	}

	return nil
}

// Close flushes and closes the underlying file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file.Close()
}

// Rotate renames the current ledger file to a timestamped name and opens a
// fresh file at the original path. Rotation is the only sanctioned way to
// shrink the active ledger — existing lines are never edited in place.
func (l *Ledger) Rotate(now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("ledger: closing before rotate: %w", err)
	}

	rotated := fmt.Sprintf("%s.%s", l.path, now.UTC().Format("20060102T150405"))
	if err := os.Rename(l.path, rotated); err != nil {
		return fmt.Errorf("ledger: renaming to %s: %w", rotated, err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("ledger: reopening after rotate: %w", err)
	}

	l.file = f

	return nil
}

// Filter narrows a Query to a project, event type and/or time range.
type Filter struct {
	ProjectPath string
	EventType   model.LedgerEventType // empty means any
	Since       time.Time
	Until       time.Time // zero means unbounded
	Limit       int       // hard cap; 0 means the package default
}

const defaultQueryLimit = 1000

// Query scans the ledger file line by line and returns records matching
// filter, most recent last, honoring filter.Limit (or defaultQueryLimit).
// A trailing line that fails to parse is treated as a truncated write in
// progress and silently stopped at, never an error (spec.md §4.6).
func (l *Ledger) Query(filter Filter) ([]model.LedgerEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	f, err := os.Open(l.path)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening for read: %w", err)
	}
	defer f.Close()

	var out []model.LedgerEvent

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev model.LedgerEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			// Truncated tail from a crash mid-write; stop here rather
			// than error the whole query.
			break
		}

		if !matches(ev, filter) {
			continue
		}

		out = append(out, ev)
		if len(out) > limit {
			out = out[1:]
		}
	}

	return out, scanner.Err()
}

func matches(ev model.LedgerEvent, f Filter) bool {
	if f.ProjectPath != "" && ev.ProjectPath != f.ProjectPath {
		return false
	}

	if f.EventType != "" && ev.EventType != f.EventType {
		return false
	}

	if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
		return false
	}

	if !f.Until.IsZero() && ev.Timestamp.After(f.Until) {
		return false
	}

	return true
}

// Stats summarizes the ledger for the `stats` consumer request (spec.md
// §4.6, §6).
type Stats struct {
	CountsByEventType map[model.LedgerEventType]int
	MemoriesRemoved   int
	MemoriesPreserved int
	EarliestTimestamp time.Time
	LatestTimestamp   time.Time
}

// ComputeStats re-scans the ledger and aggregates Stats. Intended for
// periodic/administrative use, not the hot path.
func (l *Ledger) ComputeStats() (Stats, error) {
	events, err := l.Query(Filter{Limit: 1 << 30})
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{CountsByEventType: make(map[model.LedgerEventType]int)}

	for _, ev := range events {
		stats.CountsByEventType[ev.EventType]++
		stats.MemoriesRemoved += len(ev.MemoriesRemoved)
		stats.MemoriesPreserved += ev.EntitiesPreserved + ev.RootCausesPreserved + ev.ResolutionsPreserved

		if stats.EarliestTimestamp.IsZero() || ev.Timestamp.Before(stats.EarliestTimestamp) {
			stats.EarliestTimestamp = ev.Timestamp
		}

		if ev.Timestamp.After(stats.LatestTimestamp) {
			stats.LatestTimestamp = ev.Timestamp
		}
	}

	return stats, nil
}
