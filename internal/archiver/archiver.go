// Package archiver implements the Archiver (spec.md §4.11): the atomic
// hot-to-cold migration protocol, run under the Scheduler, wrapped per
// project in a circuit breaker so a misbehaving cold backend degrades
// gracefully instead of wedging every project's archive tick.
package archiver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vidurai/vidurai-core/internal/ledger"
	"github.com/vidurai/vidurai-core/internal/mlog"
	"github.com/vidurai/vidurai-core/internal/store/cold"
	"github.com/vidurai/vidurai-core/internal/store/model"
	"github.com/vidurai/vidurai-core/internal/store/writer"
)

// PendingReader is the read-side dependency the Archiver needs: the set of
// PENDING_DECAY memories older than the archive-grace interval.
type PendingReader interface {
	PendingDecay(ctx context.Context, projectID int64, olderThan time.Time) ([]model.Memory, error)
}

// CommandSubmitter is the subset of *writer.Writer the Archiver depends on.
type CommandSubmitter interface {
	Submit(ctx context.Context, cmd writer.Command) error
}

// ColdWriter is the subset of *cold.Store the Archiver depends on, so
// tests can inject a double that fails verification on demand.
type ColdWriter interface {
	WriteBatch(ctx context.Context, projectID int64, memories []model.Memory, now time.Time) (cold.WrittenBatch, error)
	Verify(ctx context.Context, batch cold.WrittenBatch) (bool, error)
}

// Archiver runs the atomic archival protocol (spec.md §4.5) for batches of
// PENDING_DECAY memories.
type Archiver struct {
	reader PendingReader
	cold   ColdWriter
	writer CommandSubmitter
	ledger *ledger.Ledger
	logger mlog.Logger

	graceInterval time.Duration

	mu       sync.Mutex
	breakers map[int64]*gobreaker.CircuitBreaker
}

// New builds an Archiver.
func New(reader PendingReader, c ColdWriter, w CommandSubmitter, l *ledger.Ledger, logger mlog.Logger, graceInterval time.Duration) *Archiver {
	return &Archiver{
		reader:        reader,
		cold:          c,
		writer:        w,
		ledger:        l,
		logger:        logger,
		graceInterval: graceInterval,
		breakers:      make(map[int64]*gobreaker.CircuitBreaker),
	}
}

func (a *Archiver) breakerFor(projectID int64) *gobreaker.CircuitBreaker {
	a.mu.Lock()
	defer a.mu.Unlock()

	if b, ok := a.breakers[projectID]; ok {
		return b
	}

	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("archiver-project-%d", projectID),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			a.logger.Warnf("archiver: circuit %s %s -> %s", name, from, to)
		},
	})

	a.breakers[projectID] = b

	return b
}

// ArchiveProject runs one archive tick for a project: selects the eligible
// batch, and follows the four-step atomic protocol (spec.md §4.5):
// SELECT, WRITE to cold, VERIFY, then DELETE from hot + ledger entry. A
// verify failure aborts without deleting and the batch stays
// PENDING_DECAY for retry.
func (a *Archiver) ArchiveProject(ctx context.Context, projectID int64, projectPath string) error {
	cutoff := time.Now().UTC().Add(-a.graceInterval)

	batch, err := a.reader.PendingDecay(ctx, projectID, cutoff)
	if err != nil {
		return fmt.Errorf("archiver: loading pending batch: %w", err)
	}

	if len(batch) == 0 {
		return nil
	}

	breaker := a.breakerFor(projectID)

	_, err = breaker.Execute(func() (any, error) {
		return nil, a.archiveBatch(ctx, projectID, projectPath, batch)
	})

	return err
}

func (a *Archiver) archiveBatch(ctx context.Context, projectID int64, projectPath string, batch []model.Memory) error {
	now := time.Now().UTC()

	written, err := a.cold.WriteBatch(ctx, projectID, batch, now)
	if err != nil {
		a.recordFailure(now, projectPath, batch, "cold write failed: "+err.Error())
		return fmt.Errorf("archiver: writing cold batch: %w", err)
	}

	verified, err := a.cold.Verify(ctx, written)
	if err != nil || !verified {
		reason := "verification failed"
		if err != nil {
			reason = err.Error()
		}

		a.recordFailure(now, projectPath, batch, reason)

		return fmt.Errorf("archiver: %s", reason)
	}

	ids := make([]int64, len(batch))
	for i, m := range batch {
		ids[i] = m.ID
	}

	result := make(chan error, 1)
	if err := a.writer.Submit(ctx, writer.DeleteArchived{IDs: ids, Result: result}); err != nil {
		return err
	}

	if err := <-result; err != nil {
		return fmt.Errorf("archiver: deleting archived rows: %w", err)
	}

	return a.ledger.Append(model.LedgerEvent{
		Timestamp:       now,
		EventType:       model.LedgerArchive,
		Action:          "archive",
		ProjectPath:     projectPath,
		MemoriesBefore:  len(batch),
		MemoriesAfter:   0,
		MemoriesRemoved: ids,
		Reason:          "archive-grace interval elapsed, cold write verified",
		Policy:          "archiver",
		Reversible:      false,
	})
}

func (a *Archiver) recordFailure(now time.Time, projectPath string, batch []model.Memory, reason string) {
	ids := make([]int64, len(batch))
	for i, m := range batch {
		ids[i] = m.ID
	}

	if err := a.ledger.Append(model.LedgerEvent{
		Timestamp:      now,
		EventType:      model.LedgerArchive,
		Action:         "archive_failed",
		ProjectPath:    projectPath,
		MemoriesBefore: len(batch),
		MemoriesAfter:  len(batch),
		Reason:         reason,
		Policy:         "archiver",
		Reversible:     true,
		Details:        map[string]any{"candidate_ids": ids},
	}); err != nil {
		a.logger.Errorf("archiver: failed to record archive failure: %v", err)
	}
}
