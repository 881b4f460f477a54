// Package event defines the canonical Event type and its closed payload
// taxonomy (spec.md §3, §4.1). Unknown kinds are rejected at ingress; this
// package never carries an untyped/duck-typed payload.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vidurai/vidurai-core/internal/verrors"
)

// Source identifies the sensor transport an event arrived over.
type Source string

const (
	SourceEditor  Source = "editor"
	SourceBrowser Source = "browser"
	SourceProxy   Source = "proxy"
	SourceCLI     Source = "cli"
	SourceDaemon  Source = "daemon"
)

// Channel distinguishes who produced the event.
type Channel string

const (
	ChannelHuman  Channel = "human"
	ChannelAI     Channel = "ai"
	ChannelSystem Channel = "system"
)

// Kind is the closed set of event kinds. DecodeEvent rejects any value
// outside this set.
type Kind string

const (
	KindFileEdit    Kind = "file_edit"
	KindTerminal    Kind = "terminal"
	KindDiagnostic  Kind = "diagnostic"
	KindAIMessage   Kind = "ai_message"
	KindErrorReport Kind = "error_report"
	KindFocus       Kind = "focus"
	KindMemoryOp    Kind = "memory_op"
	KindHint        Kind = "hint"
	KindSystem      Kind = "system"
)

func validKind(k Kind) bool {
	switch k {
	case KindFileEdit, KindTerminal, KindDiagnostic, KindAIMessage,
		KindErrorReport, KindFocus, KindMemoryOp, KindHint, KindSystem:
		return true
	default:
		return false
	}
}

// Payload is implemented only by the fixed per-kind payload structs below,
// forming the closed tagged union spec.md §9 calls for.
type Payload interface {
	payload()
}

// Event is the immutable ingress record (spec.md §3).
type Event struct {
	EventID     string  `json:"event_id"`
	Timestamp   int64   `json:"timestamp"` // UTC ms
	Source      Source  `json:"source"`
	Channel     Channel `json:"channel"`
	Kind        Kind    `json:"kind"`
	Subtype     string  `json:"subtype,omitempty"`
	ProjectRoot string  `json:"project_root,omitempty"`
	ProjectID   string  `json:"project_id,omitempty"`
	SessionID   string  `json:"session_id,omitempty"`
	RequestID   string  `json:"request_id,omitempty"`
	Payload     Payload `json:"payload"`

	// ReceiveSeq is a monotonic receive-order counter assigned by the
	// Ingress task, used only for tracing — never set by the sensor.
	ReceiveSeq uint64 `json:"-"`
}

// NewEventID generates a fresh event identifier for sensors that don't
// already assign one.
func NewEventID() string { return uuid.NewString() }

// NowMillis returns the current UTC time in milliseconds, the unit Event
// timestamps are stored in.
func NowMillis() int64 { return time.Now().UTC().UnixMilli() }

// --- Payload taxonomy (spec.md §3 "Payloads are fixed schemas keyed by kind") ---

type FileEditPayload struct {
	FilePath   string `json:"file_path"`
	ChangeType string `json:"change_type"` // created | modified | deleted | renamed
	Language   string `json:"language,omitempty"`
	LineCount  int    `json:"line_count,omitempty"`
}

func (FileEditPayload) payload() {}

type TerminalPayload struct {
	Command  string `json:"command"`
	ExitCode int    `json:"exit_code"`
	Cwd      string `json:"cwd,omitempty"`
}

func (TerminalPayload) payload() {}

type DiagnosticPayload struct {
	Severity string `json:"severity"` // error | warning | info | hint
	Message  string `json:"message"`
	FilePath string `json:"file_path"`
	Line     int    `json:"line"`
	Code     string `json:"code,omitempty"`
}

func (DiagnosticPayload) payload() {}

type AIMessagePayload struct {
	Role    string `json:"role"` // user | assistant
	Content string `json:"content"`
}

func (AIMessagePayload) payload() {}

type ErrorReportPayload struct {
	Message    string `json:"message"`
	StackTrace string `json:"stack_trace,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
	Line       int    `json:"line,omitempty"`
}

func (ErrorReportPayload) payload() {}

type FocusPayload struct {
	FilePath string `json:"file_path"`
	Line     int    `json:"line,omitempty"`
	Selected string `json:"selected,omitempty"`
}

func (FocusPayload) payload() {}

// MemoryOpPayload carries explicit user-driven memory operations, e.g. pin,
// unpin, annotate, unlearn.
type MemoryOpPayload struct {
	Op       string `json:"op"` // pin | unpin | annotate | unlearn
	MemoryID int64  `json:"memory_id,omitempty"`
	FilePath string `json:"file_path,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Note     string `json:"note,omitempty"`
}

func (MemoryOpPayload) payload() {}

type HintPayload struct {
	Text string `json:"text"`
}

func (HintPayload) payload() {}

type SystemPayload struct {
	Message string `json:"message"`
}

func (SystemPayload) payload() {}

// envelope is the wire shape used to decode an Event without a payload
// interface, so DecodeEvent can dispatch on Kind before constructing the
// concrete payload type.
type envelope struct {
	EventID     string          `json:"event_id"`
	Timestamp   int64           `json:"timestamp"`
	Source      Source          `json:"source"`
	Channel     Channel         `json:"channel"`
	Kind        Kind            `json:"kind"`
	Subtype     string          `json:"subtype,omitempty"`
	ProjectRoot string          `json:"project_root,omitempty"`
	ProjectID   string          `json:"project_id,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	RequestID   string          `json:"request_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// Decode performs the exhaustive kind match spec.md §9 requires: any kind
// outside the closed set, or a payload whose shape mismatches its kind, is
// rejected as a BadEventError rather than silently accepted.
func Decode(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, verrors.WrapBadEvent("malformed envelope", err)
	}

	if env.EventID == "" || env.Timestamp == 0 || env.Source == "" || env.Channel == "" {
		return Event{}, verrors.NewBadEvent("missing required field")
	}

	if !validKind(env.Kind) {
		return Event{}, verrors.NewBadEvent("unknown kind: " + string(env.Kind))
	}

	payload, err := decodePayload(env.Kind, env.Payload)
	if err != nil {
		return Event{}, verrors.WrapBadEvent("payload shape mismatch for kind "+string(env.Kind), err)
	}

	return Event{
		EventID:     env.EventID,
		Timestamp:   env.Timestamp,
		Source:      env.Source,
		Channel:     env.Channel,
		Kind:        env.Kind,
		Subtype:     env.Subtype,
		ProjectRoot: env.ProjectRoot,
		ProjectID:   env.ProjectID,
		SessionID:   env.SessionID,
		RequestID:   env.RequestID,
		Payload:     payload,
	}, nil
}

func decodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	switch kind {
	case KindFileEdit:
		var p FileEditPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}

		if p.FilePath == "" || p.ChangeType == "" {
			return nil, verrors.NewBadEvent("file_edit payload missing file_path/change_type")
		}

		return p, nil
	case KindTerminal:
		var p TerminalPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}

		if p.Command == "" {
			return nil, verrors.NewBadEvent("terminal payload missing command")
		}

		return p, nil
	case KindDiagnostic:
		var p DiagnosticPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}

		if p.Severity == "" || p.Message == "" {
			return nil, verrors.NewBadEvent("diagnostic payload missing severity/message")
		}

		return p, nil
	case KindAIMessage:
		var p AIMessagePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}

		return p, nil
	case KindErrorReport:
		var p ErrorReportPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}

		if p.Message == "" {
			return nil, verrors.NewBadEvent("error_report payload missing message")
		}

		return p, nil
	case KindFocus:
		var p FocusPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}

		if p.FilePath == "" {
			return nil, verrors.NewBadEvent("focus payload missing file_path")
		}

		return p, nil
	case KindMemoryOp:
		var p MemoryOpPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}

		if p.Op == "" {
			return nil, verrors.NewBadEvent("memory_op payload missing op")
		}

		return p, nil
	case KindHint:
		var p HintPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}

		return p, nil
	case KindSystem:
		var p SystemPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}

		return p, nil
	default:
		return nil, verrors.NewBadEvent("unknown kind: " + string(kind))
	}
}
