// Package writer implements the Durable Store's single-writer discipline
// (spec.md §4.5, §5): exactly one goroutine owns the write connection, and
// every mutation is a typed Command submitted on a bounded queue with a
// completion handle.
package writer

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/vidurai/vidurai-core/internal/ledger"
	"github.com/vidurai/vidurai-core/internal/mlog"
	"github.com/vidurai/vidurai-core/internal/store/hot"
	"github.com/vidurai/vidurai-core/internal/store/model"
	"github.com/vidurai/vidurai-core/internal/store/notify"
	"github.com/vidurai/vidurai-core/internal/verrors"
)

// Writer owns the hot store's write connection and drains its command
// queue in a single goroutine (Run), matching spec.md §5's "the Writer
// never blocks on readers".
type Writer struct {
	db     *hot.DB
	ledger *ledger.Ledger
	logger mlog.Logger
	notify *notify.Hub

	queue chan Command

	batchSize   int
	batchWindow time.Duration
}

// Config configures the Writer's micro-batching (spec.md §4.5: "K, T
// configurable, e.g. 64 / 5ms").
type Config struct {
	QueueCapacity int
	BatchSize     int
	BatchWindow   time.Duration
}

// New builds a Writer. Call Run in its own goroutine (via internal/app) to
// start draining the queue.
func New(db *hot.DB, l *ledger.Ledger, logger mlog.Logger, cfg Config) *Writer {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 4096
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}

	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = 5 * time.Millisecond
	}

	return &Writer{
		db:          db,
		ledger:      l,
		logger:      logger,
		notify:      notify.New(),
		queue:       make(chan Command, cfg.QueueCapacity),
		batchSize:   cfg.BatchSize,
		batchWindow: cfg.BatchWindow,
	}
}

// Subscribe exposes the Writer's status-change fan-out (spec.md §1's
// optional local-notification carve-out) to in-process subscribers.
func (w *Writer) Subscribe() (<-chan notify.StatusChange, func()) {
	return w.notify.Subscribe()
}

// Submit enqueues a command, blocking (back-pressure, never silently
// dropping — spec.md §5/§8 item 11) until there is room or ctx is done.
func (w *Writer) Submit(ctx context.Context, cmd Command) error {
	select {
	case w.queue <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run implements app.Task: it drains the queue until ctx is cancelled,
// batching up to batchSize commands or batchWindow, whichever comes first,
// into a single SQLite transaction per batch (spec.md §4.5 steps 1-4).
func (w *Writer) Run(ctx context.Context) error {
	batch := make([]Command, 0, w.batchSize)
	timer := time.NewTimer(w.batchWindow)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		w.executeBatch(ctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return nil
		case cmd := <-w.queue:
			batch = append(batch, cmd)
			if len(batch) >= w.batchSize {
				flush()
				timer.Reset(w.batchWindow)
			}
		case <-timer.C:
			flush()
			timer.Reset(w.batchWindow)
		}
	}
}

// executeBatch opens one transaction, applies every command in order, and
// commits. Every apply* only prepares its completion signal; none of them
// reach the caller until the whole batch has actually committed, so a later
// command's failure (or the commit itself failing) can still roll back an
// earlier command in the same batch without an already-sent success value
// racing the rollback (spec.md §4.12 failure semantics: "signal the
// command's completion with an error"). A failure signals every pending
// command's completion handle with an error; the Writer itself keeps
// running.
func (w *Writer) executeBatch(ctx context.Context, batch []Command) {
	tx, err := w.db.Writer().BeginTx(ctx, nil)
	if err != nil {
		w.failAll(batch, err)
		return
	}

	completions := make([]func(), 0, len(batch))

	for _, cmd := range batch {
		complete, err := w.apply(ctx, tx, cmd)
		if err != nil {
			_ = tx.Rollback()
			w.failAll(batch, err)
			w.recordWriteFailed(ctx, err)

			return
		}

		completions = append(completions, complete)
	}

	if err := tx.Commit(); err != nil {
		w.failAll(batch, err)
		w.recordWriteFailed(ctx, err)

		return
	}

	for _, complete := range completions {
		complete()
	}
}

func (w *Writer) recordWriteFailed(ctx context.Context, cause error) {
	w.logger.Errorf("writer: batch failed: %v", cause)

	if w.ledger == nil {
		return
	}

	_ = w.ledger.Append(model.LedgerEvent{
		Timestamp: time.Now().UTC(),
		EventType: model.LedgerDecay,
		Action:    "write_failed",
		Reason:    cause.Error(),
		Policy:    "writer",
	})
}

func (w *Writer) failAll(batch []Command, err error) {
	for _, cmd := range batch {
		failOne(cmd, verrors.WrapWriteConflict(commandName(cmd), err))
	}
}

func failOne(cmd Command, err error) {
	switch c := cmd.(type) {
	case InsertMemory:
		sendResult(c.Result, InsertResult{Err: err})
	case AggregateMemory:
		sendErr(c.Result, err)
	case UpdateStatus:
		sendErr(c.Result, err)
	case Pin:
		sendErr(c.Result, err)
	case Unpin:
		sendErr(c.Result, err)
	case ConsolidateGroup:
		sendResult(c.Result, ConsolidateResult{Err: err})
	case DeleteArchived:
		sendErr(c.Result, err)
	case EnsureProject:
		sendResult(c.Result, EnsureProjectResult{Err: err})
	}
}

func sendErr(ch chan<- error, err error) {
	if ch == nil {
		return
	}

	select {
	case ch <- err:
	default:
	}
}

func sendResult[T any](ch chan<- T, v T) {
	if ch == nil {
		return
	}

	select {
	case ch <- v:
	default:
	}
}

func commandName(cmd Command) string {
	switch cmd.(type) {
	case InsertMemory:
		return "InsertMemory"
	case AggregateMemory:
		return "AggregateMemory"
	case UpdateStatus:
		return "UpdateStatus"
	case Pin:
		return "Pin"
	case Unpin:
		return "Unpin"
	case ConsolidateGroup:
		return "ConsolidateGroup"
	case DeleteArchived:
		return "DeleteArchived"
	case EnsureProject:
		return "EnsureProject"
	default:
		return "Unknown"
	}
}

// apply dispatches a command to its applier. On success it returns a
// completion closure the caller must invoke only after the batch's
// transaction has committed; it never sends to a command's Result channel
// itself.
func (w *Writer) apply(ctx context.Context, tx *sql.Tx, cmd Command) (func(), error) {
	switch c := cmd.(type) {
	case InsertMemory:
		return w.applyInsert(ctx, tx, c)
	case AggregateMemory:
		return w.applyAggregate(ctx, tx, c)
	case UpdateStatus:
		return w.applyUpdateStatus(ctx, tx, c)
	case Pin:
		return w.applyPin(ctx, tx, c)
	case Unpin:
		return w.applyUnpin(ctx, tx, c)
	case ConsolidateGroup:
		return w.applyConsolidate(ctx, tx, c)
	case DeleteArchived:
		return w.applyDeleteArchived(ctx, tx, c)
	case EnsureProject:
		return w.applyEnsureProject(ctx, tx, c)
	default:
		return func() {}, nil
	}
}

func (w *Writer) applyInsert(ctx context.Context, tx *sql.Tx, c InsertMemory) (func(), error) {
	m := c.Memory
	tagsJSON, _ := json.Marshal(m.Tags)

	var expiresAt any
	if m.ExpiresAt != nil {
		expiresAt = m.ExpiresAt.UnixMilli()
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO memories (project_id, verbatim, gist, tags, event_type, file_path,
			line_number, language, salience, status, outcome, fingerprint, repeat_count,
			access_count, last_accessed, pinned, created_at, expires_at, decay_reason)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ProjectID, m.Verbatim, m.Gist, string(tagsJSON), m.EventType, m.FilePath,
		nullableInt(m.LineNumber), m.Language, string(m.Salience), string(m.Status), int(m.Outcome),
		m.Fingerprint, m.RepeatCount, m.AccessCount, m.LastAccessed.UnixMilli(), boolToInt(m.Pinned),
		m.CreatedAt.UnixMilli(), expiresAt, m.DecayReason,
	)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return func() { sendResult(c.Result, InsertResult{ID: id}) }, nil
}

func (w *Writer) applyAggregate(ctx context.Context, tx *sql.Tx, c AggregateMemory) (func(), error) {
	tagsJSON, _ := json.Marshal(c.Tags)

	_, err := tx.ExecContext(ctx, `
		UPDATE memories SET salience = ?, repeat_count = ?, tags = ?, last_accessed = ?, access_count = access_count + 1
		WHERE id = ? AND status = 'ACTIVE'`,
		string(c.NewSalience), c.RepeatCount, string(tagsJSON), c.LastAccessed, c.MemoryID,
	)
	if err != nil {
		return nil, err
	}

	return func() { sendErr(c.Result, nil) }, nil
}

func (w *Writer) applyUpdateStatus(ctx context.Context, tx *sql.Tx, c UpdateStatus) (func(), error) {
	var (
		oldStatus string
		projectID int64
	)

	if err := tx.QueryRowContext(ctx, `SELECT status, project_id FROM memories WHERE id = ?`, c.MemoryID).
		Scan(&oldStatus, &projectID); err != nil {
		return nil, err
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE memories SET status = ?, decay_reason = ? WHERE id = ?`,
		string(c.NewStatus), c.DecayReason, c.MemoryID,
	)
	if err != nil {
		return nil, err
	}

	return func() {
		sendErr(c.Result, nil)

		w.notify.Publish(notify.StatusChange{
			ProjectID: projectID,
			MemoryID:  c.MemoryID,
			OldStatus: oldStatus,
			NewStatus: string(c.NewStatus),
			Reason:    c.DecayReason,
		})
	}, nil
}

func (w *Writer) applyPin(ctx context.Context, tx *sql.Tx, c Pin) (func(), error) {
	e := c.Entry

	_, err := tx.ExecContext(ctx, `INSERT INTO pins (memory_id, file_path, pinned_at, reason, pinned_by) VALUES (?,?,?,?,?)`,
		nullableID(e.MemoryID), e.FilePath, e.PinnedAt.UnixMilli(), e.Reason, e.PinnedBy)
	if err != nil {
		return nil, err
	}

	if e.MemoryID != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE memories SET pinned = 1, expires_at = NULL WHERE id = ?`, *e.MemoryID); err != nil {
			return nil, err
		}
	}

	return func() { sendErr(c.Result, nil) }, nil
}

func (w *Writer) applyUnpin(ctx context.Context, tx *sql.Tx, c Unpin) (func(), error) {
	var err error

	if c.MemoryID != nil {
		_, err = tx.ExecContext(ctx, `DELETE FROM pins WHERE memory_id = ?`, *c.MemoryID)
		if err == nil {
			_, err = tx.ExecContext(ctx, `UPDATE memories SET pinned = 0 WHERE id = ?`, *c.MemoryID)
		}
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM pins WHERE file_path = ?`, c.FilePath)
	}

	if err != nil {
		return nil, err
	}

	return func() { sendErr(c.Result, nil) }, nil
}

func (w *Writer) applyConsolidate(ctx context.Context, tx *sql.Tx, c ConsolidateGroup) (func(), error) {
	for _, id := range c.RemoveIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
			return nil, err
		}
	}

	m := c.Summary
	tagsJSON, _ := json.Marshal(m.Tags)

	res, err := tx.ExecContext(ctx, `
		INSERT INTO memories (project_id, verbatim, gist, tags, event_type, file_path,
			line_number, language, salience, status, outcome, fingerprint, repeat_count,
			access_count, last_accessed, pinned, created_at, expires_at, decay_reason)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ProjectID, m.Verbatim, m.Gist, string(tagsJSON), m.EventType, m.FilePath,
		nullableInt(m.LineNumber), m.Language, string(m.Salience), string(model.StatusActive), 0,
		m.Fingerprint, 1, 0, m.LastAccessed.UnixMilli(), 0,
		m.CreatedAt.UnixMilli(), nil, "",
	)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return func() { sendResult(c.Result, ConsolidateResult{SummaryID: id}) }, nil
}

func (w *Writer) applyDeleteArchived(ctx context.Context, tx *sql.Tx, c DeleteArchived) (func(), error) {
	for _, id := range c.IDs {
		var status string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM memories WHERE id = ?`, id).Scan(&status); err != nil {
			return nil, err
		}

		if status != string(model.StatusArchived) {
			return nil, verrors.NewConfigError("status", "refusing to delete a row that is not ARCHIVED")
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
			return nil, err
		}
	}

	return func() { sendErr(c.Result, nil) }, nil
}

func (w *Writer) applyEnsureProject(ctx context.Context, tx *sql.Tx, c EnsureProject) (func(), error) {
	var id int64

	err := tx.QueryRowContext(ctx, `SELECT id FROM projects WHERE path = ?`, c.Path).Scan(&id)

	switch {
	case err == sql.ErrNoRows:
		res, insertErr := tx.ExecContext(ctx,
			`INSERT INTO projects (path, name, created_at, last_active) VALUES (?,?,?,?)`,
			c.Path, filepath.Base(c.Path), c.Now, c.Now,
		)
		if insertErr != nil {
			return nil, insertErr
		}

		id, err = res.LastInsertId()
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if _, err := tx.ExecContext(ctx, `UPDATE projects SET last_active = ? WHERE id = ?`, c.Now, id); err != nil {
			return nil, err
		}
	}

	return func() { sendResult(c.Result, EnsureProjectResult{ID: id}) }, nil
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}

	return n
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}

	return *id
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
