package writer

import (
	"github.com/vidurai/vidurai-core/internal/store/model"
)

// Command is the typed mutation submitted to the Writer's bounded queue
// (spec.md §4.5). Every command carries its own result channel so the
// caller can await completion without the Writer knowing anything about
// the caller.
type Command interface {
	command()
}

// InsertMemory creates a brand-new ACTIVE memory row (no existing ACTIVE
// memory shares its (project_id, fingerprint)).
type InsertMemory struct {
	Memory model.Memory
	Result chan<- InsertResult
}

func (InsertMemory) command() {}

type InsertResult struct {
	ID  int64
	Err error
}

// AggregateMemory increments repeat_count on an existing ACTIVE memory and
// applies the recomputed salience/tags from the aggregator's Decision.
type AggregateMemory struct {
	MemoryID    int64
	NewSalience model.Salience
	RepeatCount int
	Tags        []string
	LastAccessed int64 // ms
	Result      chan<- error
}

func (AggregateMemory) command() {}

// UpdateStatus transitions a memory's status, recording decay_reason when
// leaving ACTIVE.
type UpdateStatus struct {
	MemoryID    int64
	NewStatus   model.Status
	DecayReason string
	Result      chan<- error
}

func (UpdateStatus) command() {}

// Pin marks a memory (or a not-yet-materialized file path) as pinned.
type Pin struct {
	Entry  model.PinEntry
	Result chan<- error
}

func (Pin) command() {}

// Unpin removes a pin by memory ID or file path.
type Unpin struct {
	MemoryID *int64
	FilePath string
	Result   chan<- error
}

func (Unpin) command() {}

// ConsolidateGroup deletes a group of low-utility memories and inserts one
// summary memory in their place, atomically.
type ConsolidateGroup struct {
	RemoveIDs []int64
	Summary   model.Memory
	Result    chan<- ConsolidateResult
}

func (ConsolidateGroup) command() {}

type ConsolidateResult struct {
	SummaryID int64
	Err       error
}

// EnsureProject resolves a project's working-directory path to a stable
// project_id, creating the project row on first sight and bumping
// last_active on every subsequent call.
type EnsureProject struct {
	Path   string
	Now    int64 // ms
	Result chan<- EnsureProjectResult
}

func (EnsureProject) command() {}

type EnsureProjectResult struct {
	ID  int64
	Err error
}

// DeleteArchived removes rows already verified present in cold storage.
// Only the Archiver issues this command (spec.md §4.5 "the store rejects
// deletes of rows that have not been successfully archived").
type DeleteArchived struct {
	IDs    []int64
	Result chan<- error
}

func (DeleteArchived) command() {}
