// Package verrors defines the engine's typed error kinds (spec.md §7). Each
// type carries enough structured detail for a caller to recover a stable
// error code and human message without string-matching.
package verrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// BadEventError records an ingress validation failure: a missing field, an
// unknown kind, or a payload shape mismatch. Bad events are counted and
// dropped; they never reach the Classifier or Store.
type BadEventError struct {
	Reason string
	Err    error
}

func (e *BadEventError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bad event: %s: %v", e.Reason, e.Err)
	}

	return fmt.Sprintf("bad event: %s", e.Reason)
}

func (e *BadEventError) Unwrap() error { return e.Err }

// NewBadEvent builds a BadEventError with reason.
func NewBadEvent(reason string) *BadEventError { return &BadEventError{Reason: reason} }

// WrapBadEvent wraps err as a BadEventError with reason.
func WrapBadEvent(reason string, err error) *BadEventError {
	return &BadEventError{Reason: reason, Err: err}
}

// WriteConflictError is returned by the Writer when a command's transaction
// could not be committed. The caller decides whether to retry.
type WriteConflictError struct {
	Command string
	Err     error
}

func (e *WriteConflictError) Error() string {
	return fmt.Sprintf("write conflict executing %s: %v", e.Command, e.Err)
}

func (e *WriteConflictError) Unwrap() error { return e.Err }

// WrapWriteConflict builds a WriteConflictError.
func WrapWriteConflict(command string, err error) *WriteConflictError {
	return &WriteConflictError{Command: command, Err: err}
}

// StoreUnavailableError means the hot database could not be opened. This is
// the single fatal error kind in the engine: the core refuses to start.
type StoreUnavailableError struct {
	Path string
	Err  error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("hot store unavailable at %s: %v", e.Path, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// WrapStoreUnavailable builds a StoreUnavailableError.
func WrapStoreUnavailable(path string, err error) *StoreUnavailableError {
	return &StoreUnavailableError{Path: path, Err: err}
}

// PolicyError is raised by a retention Policy implementation. The engine
// degrades to the rule-based policy for the remainder of the tick.
type PolicyError struct {
	Policy string
	Err    error
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("retention policy %q error: %v", e.Policy, e.Err)
}

func (e *PolicyError) Unwrap() error { return e.Err }

// WrapPolicyError builds a PolicyError.
func WrapPolicyError(policy string, err error) *PolicyError {
	return &PolicyError{Policy: policy, Err: err}
}

// ArchiveVerifyFailedError means a cold write didn't match the hot batch;
// the batch remains PENDING_DECAY and is retried on the next archive tick.
type ArchiveVerifyFailedError struct {
	BatchSize int
	Reason    string
}

func (e *ArchiveVerifyFailedError) Error() string {
	return fmt.Sprintf("archive verify failed for batch of %d: %s", e.BatchSize, e.Reason)
}

// NewArchiveVerifyFailed builds an ArchiveVerifyFailedError.
func NewArchiveVerifyFailed(batchSize int, reason string) *ArchiveVerifyFailedError {
	return &ArchiveVerifyFailedError{BatchSize: batchSize, Reason: reason}
}

// DeadlineExceededError is returned by the Oracle or the Classifier's LLM
// gist path when a soft/hard deadline expires; callers fall back to a
// partial or rule-based result rather than failing outright.
type DeadlineExceededError struct {
	Operation string
}

func (e *DeadlineExceededError) Error() string {
	return fmt.Sprintf("deadline exceeded: %s", e.Operation)
}

// NewDeadlineExceeded builds a DeadlineExceededError.
func NewDeadlineExceeded(operation string) *DeadlineExceededError {
	return &DeadlineExceededError{Operation: operation}
}

// ConfigError means a configuration bundle referenced an unrecognized key or
// an out-of-range value.
type ConfigError struct {
	Key     string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error on %q: %s", e.Key, e.Message)
}

// NewConfigError builds a ConfigError.
func NewConfigError(key, message string) *ConfigError {
	return &ConfigError{Key: key, Message: message}
}

// Wrap is a thin re-export of github.com/pkg/errors.Wrap so call sites in
// this module have one place to reach for annotated wrapping, matching the
// teacher's convention of wrapping at package boundaries.
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}
