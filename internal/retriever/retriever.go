// Package retriever implements the Retriever (spec.md §4.9): ranked recall
// over the hot store combining recency, salience, text match and focus
// bond into a single weighted score.
package retriever

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/vidurai/vidurai-core/internal/store/hot"
	"github.com/vidurai/vidurai-core/internal/store/model"
)

// Weights configures the scoring formula (spec.md §4.9 defaults).
type Weights struct {
	Recency  float64
	Salience float64
	Match    float64
	Focus    float64
}

// DefaultWeights matches spec.md §4.9.
func DefaultWeights() Weights {
	return Weights{Recency: 0.4, Salience: 0.4, Match: 0.2, Focus: 0.2}
}

// Query describes one recall request.
type Query struct {
	ProjectID int64
	Text      string
	FocusFile string
	FocusLine int
}

// ScoredMemory pairs a Memory with its computed score.
type ScoredMemory struct {
	Memory model.Memory
	Score  float64
}

// Retriever ranks ACTIVE memories for one project using a read-only
// connection from the hot store.
type Retriever struct {
	reader  *sql.DB
	weights Weights
	now     func() time.Time
}

// New builds a Retriever over reader, using DefaultWeights.
func New(reader *sql.DB) *Retriever {
	return &Retriever{reader: reader, weights: DefaultWeights(), now: time.Now}
}

// WithWeights returns a copy of r using custom scoring weights.
func (r *Retriever) WithWeights(w Weights) *Retriever {
	clone := *r
	clone.weights = w

	return &clone
}

// Rank returns the top-K ACTIVE memories for q, highest score first, ties
// broken by ascending ID, deduplicated by fingerprint.
func (r *Retriever) Rank(ctx context.Context, q Query, k int) ([]ScoredMemory, error) {
	candidates, matchScores, err := r.loadCandidates(ctx, q)
	if err != nil {
		return nil, err
	}

	now := r.now()

	scored := make([]ScoredMemory, 0, len(candidates))
	seenFingerprint := make(map[string]struct{})

	for _, m := range candidates {
		if m.Fingerprint != "" {
			if _, ok := seenFingerprint[m.Fingerprint]; ok {
				continue
			}

			seenFingerprint[m.Fingerprint] = struct{}{}
		}

		score := r.score(m, q, now, matchScores[m.ID])
		scored = append(scored, ScoredMemory{Memory: m, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}

		return scored[i].Memory.ID < scored[j].Memory.ID
	})

	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}

	return scored, nil
}

func (r *Retriever) score(m model.Memory, q Query, now time.Time, textMatch float64) float64 {
	age := now.Sub(m.LastAccessed)
	recency := recencyScore(age)
	salience := m.Salience.Weight() / 5.0
	focus := focusBond(m, q)

	return r.weights.Recency*recency + r.weights.Salience*salience + r.weights.Match*textMatch + r.weights.Focus*focus
}

// recencyScore maps an age to (0,1], halving roughly every 3 days.
func recencyScore(age time.Duration) float64 {
	days := age.Hours() / 24
	if days < 0 {
		days = 0
	}

	const halfLifeDays = 3.0

	return 1.0 / (1.0 + days/halfLifeDays)
}

// focusBond boosts memories whose file_path equals or is adjacent (same
// directory) to the focus file.
func focusBond(m model.Memory, q Query) float64 {
	if q.FocusFile == "" || m.FilePath == "" {
		return 0
	}

	if m.FilePath == q.FocusFile {
		if q.FocusLine > 0 && m.LineNumber > 0 {
			delta := m.LineNumber - q.FocusLine
			if delta < 0 {
				delta = -delta
			}

			if delta <= 5 {
				return 1.0
			}
		}

		return 0.8
	}

	if sameDir(m.FilePath, q.FocusFile) {
		return 0.3
	}

	return 0
}

func sameDir(a, b string) bool {
	da, db := dirOf(a), dirOf(b)
	return da != "" && da == db
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}

	return ""
}

func (r *Retriever) loadCandidates(ctx context.Context, q Query) ([]model.Memory, map[int64]float64, error) {
	matchScores := make(map[int64]float64)

	if q.Text != "" {
		return r.loadViaFTS(ctx, q, matchScores)
	}

	rows, err := r.reader.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM memories WHERE project_id = ? AND status = 'ACTIVE'`, hot.MemoryColumns),
		q.ProjectID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("retriever: querying candidates: %w", err)
	}
	defer rows.Close()

	var out []model.Memory

	for rows.Next() {
		m, err := hot.ScanMemoryRows(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("retriever: scanning row: %w", err)
		}

		out = append(out, m)
	}

	return out, matchScores, rows.Err()
}

// loadViaFTS first resolves matching memory IDs and their bm25 rank via the
// FTS5 index, then fetches the full rows through the shared MemoryColumns
// scanner, keeping the two queries independent so the column list used by
// hot.ScanMemoryRows never has to track an extra computed column.
func (r *Retriever) loadViaFTS(ctx context.Context, q Query, matchScores map[int64]float64) ([]model.Memory, map[int64]float64, error) {
	rankRows, err := r.reader.QueryContext(ctx, `
		SELECT memories.id, bm25(memories_fts) AS rank
		FROM memories
		JOIN memories_fts ON memories_fts.rowid = memories.id
		WHERE memories.project_id = ? AND memories.status = 'ACTIVE' AND memories_fts MATCH ?`,
		q.ProjectID, q.Text,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("retriever: querying fts candidates: %w", err)
	}
	defer rankRows.Close()

	var (
		ids             []int64
		ranks           = make(map[int64]float64)
		minRank, maxRank float64
		first           = true
	)

	for rankRows.Next() {
		var (
			id   int64
			rank float64
		)

		if err := rankRows.Scan(&id, &rank); err != nil {
			return nil, nil, fmt.Errorf("retriever: scanning rank row: %w", err)
		}

		ids = append(ids, id)
		ranks[id] = rank

		if first || rank < minRank {
			minRank = rank
		}

		if first || rank > maxRank {
			maxRank = rank
		}

		first = false
	}

	if err := rankRows.Err(); err != nil {
		return nil, nil, err
	}

	if len(ids) == 0 {
		return nil, matchScores, nil
	}

	// bm25() in SQLite's fts5 returns lower-is-better; normalize to [0,1]
	// with 1.0 being the best match in this result set.
	spread := maxRank - minRank
	for id, rank := range ranks {
		if spread == 0 {
			matchScores[id] = 1.0
			continue
		}

		matchScores[id] = 1.0 - (rank-minRank)/spread
	}

	placeholders := make([]any, len(ids))
	qmarks := make([]byte, 0, len(ids)*2)

	for i, id := range ids {
		placeholders[i] = id

		if i > 0 {
			qmarks = append(qmarks, ',')
		}

		qmarks = append(qmarks, '?')
	}

	memRows, err := r.reader.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM memories WHERE id IN (%s)`, hot.MemoryColumns, string(qmarks)),
		placeholders...,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("retriever: querying matched memories: %w", err)
	}
	defer memRows.Close()

	var out []model.Memory

	for memRows.Next() {
		m, err := hot.ScanMemoryRows(memRows)
		if err != nil {
			return nil, nil, fmt.Errorf("retriever: scanning memory row: %w", err)
		}

		out = append(out, m)
	}

	return out, matchScores, memRows.Err()
}
