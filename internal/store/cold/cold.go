// Package cold implements the Durable Store's cold side (spec.md §4.5): a
// columnar archive partitioned by year=YYYY/month=MM/, written by the
// Archiver alone, queryable directly for analytic stats.
package cold

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/vidurai/vidurai-core/internal/store/model"
)

// WrittenBatch describes a just-written cold file pending verification.
type WrittenBatch struct {
	Path      string
	RowCount  int
	Checksum  string
	ProjectID int64
}

// Store writes and verifies Parquet batches under root, partitioned
// year=YYYY/month=MM/.
type Store struct {
	root string

	mu    sync.Mutex
	stats map[string]int // "year/month/project" -> row count, for StatsByMonth
}

// Open prepares a cold store rooted at root (created if absent).
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("cold: creating root: %w", err)
	}

	return &Store{root: root, stats: make(map[string]int)}, nil
}

func (s *Store) partitionDir(now time.Time) string {
	return filepath.Join(s.root, fmt.Sprintf("year=%04d", now.Year()), fmt.Sprintf("month=%02d", now.Month()))
}

// WriteBatch writes memories as one Parquet file in the partition for now,
// per spec.md §4.5 step 2 ("WRITE to a temp cold file in the target
// partition"). The file name embeds a random batch id so concurrent
// archive ticks (different projects) never collide.
func (s *Store) WriteBatch(ctx context.Context, projectID int64, memories []model.Memory, now time.Time) (WrittenBatch, error) {
	dir := s.partitionDir(now)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WrittenBatch{}, fmt.Errorf("cold: creating partition dir: %w", err)
	}

	batchID := uuid.NewString()
	path := filepath.Join(dir, fmt.Sprintf("%d-%s.parquet.tmp", projectID, batchID))

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return WrittenBatch{}, fmt.Errorf("cold: opening parquet file: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(Row), 4)
	if err != nil {
		_ = fw.Close()
		return WrittenBatch{}, fmt.Errorf("cold: creating parquet writer: %w", err)
	}

	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, m := range memories {
		select {
		case <-ctx.Done():
			_ = pw.WriteStop()
			_ = fw.Close()
			return WrittenBatch{}, ctx.Err()
		default:
		}

		row := toRow(m, now)
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			_ = fw.Close()
			return WrittenBatch{}, fmt.Errorf("cold: writing row: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return WrittenBatch{}, fmt.Errorf("cold: finalizing parquet writer: %w", err)
	}

	if err := fw.Close(); err != nil {
		return WrittenBatch{}, fmt.Errorf("cold: closing parquet file: %w", err)
	}

	checksum, err := checksumFile(path)
	if err != nil {
		return WrittenBatch{}, err
	}

	finalPath := path[:len(path)-len(".tmp")]
	if err := os.Rename(path, finalPath); err != nil {
		return WrittenBatch{}, fmt.Errorf("cold: renaming to final path: %w", err)
	}

	return WrittenBatch{Path: finalPath, RowCount: len(memories), Checksum: checksum, ProjectID: projectID}, nil
}

func toRow(m model.Memory, archivedAt time.Time) *Row {
	tagsJSON, _ := json.Marshal(m.Tags)

	return &Row{
		ID: m.ID, ProjectID: m.ProjectID, Verbatim: m.Verbatim, Gist: m.Gist,
		Tags: string(tagsJSON), EventType: m.EventType, FilePath: m.FilePath,
		LineNumber: int32(m.LineNumber), Language: m.Language, Salience: string(m.Salience),
		Status: string(m.Status), Outcome: int32(m.Outcome), Fingerprint: m.Fingerprint,
		RepeatCount: int32(m.RepeatCount), AccessCount: int32(m.AccessCount),
		LastAccessed: m.LastAccessed.UnixMilli(), Pinned: m.Pinned,
		CreatedAt: m.CreatedAt.UnixMilli(), DecayReason: m.DecayReason,
		ArchivedAt: archivedAt.UnixMilli(),
	}
}

func checksumFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("cold: reading file for checksum: %w", err)
	}

	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:]), nil
}

// Verify implements spec.md §4.5 step 3: confirms the file exists, its row
// count matches, and its checksum matches what WriteBatch reported.
func (s *Store) Verify(_ context.Context, batch WrittenBatch) (bool, error) {
	info, err := os.Stat(batch.Path)
	if err != nil {
		return false, fmt.Errorf("cold: stat %s: %w", batch.Path, err)
	}

	if info.Size() == 0 {
		return false, nil
	}

	fr, err := local.NewLocalFileReader(batch.Path)
	if err != nil {
		return false, fmt.Errorf("cold: opening for verify: %w", err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(Row), 4)
	if err != nil {
		return false, fmt.Errorf("cold: reading parquet footer: %w", err)
	}
	defer pr.ReadStop()

	rowCount := int(pr.GetNumRows())
	if rowCount != batch.RowCount {
		return false, nil
	}

	actualChecksum, err := checksumFile(batch.Path)
	if err != nil {
		return false, err
	}

	s.recordStats(batch, rowCount)

	return actualChecksum == batch.Checksum, nil
}

func (s *Store) recordStats(batch WrittenBatch, rowCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strconv.FormatInt(batch.ProjectID, 10)
	s.stats[key] += rowCount
}

// StatsByProject returns the cumulative archived row count per project,
// used by the hygiene policy as a signal (spec.md §4.11).
func (s *Store) StatsByProject() map[int64]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int64]int, len(s.stats))

	for k, v := range s.stats {
		id, _ := strconv.ParseInt(k, 10, 64)
		out[id] = v
	}

	return out
}
