// Package classifier maps an Event to a (salience, gist, tags) triple via
// the ordered rule cascade of spec.md §4.3. First match wins; the cascade is
// data (a slice of predicates), not a chain of if-statements, so it can be
// tested rule-by-rule.
package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vidurai/vidurai-core/internal/event"
	"github.com/vidurai/vidurai-core/internal/store/model"
)

// Input bundles everything a classify rule might need beyond the raw event:
// focus state and the current aggregation repeat count, both of which the
// Classifier does not own but is handed by the caller (the Writer, which
// already knows whether this event is a repeat).
type Input struct {
	Event        event.Event
	FocusFile    string
	RepeatCount  int
	PinnedFile   bool // true if FilePath has a pinned ancestor directory
	HighRepeatN  int  // threshold beyond which repeats become NOISE, config-driven
}

// Result is the Classifier's output triple.
type Result struct {
	Salience model.Salience
	Gist     string
	Tags     []string
}

type rule func(in Input) (model.Salience, bool)

// cascade implements spec.md §4.3's six ordered rules, first match wins.
var cascade = []rule{
	ruleCriticalAnnotation,
	ruleFocusedError,
	ruleNonZeroExit,
	ruleWarningOrPinnedSave,
	ruleRoutineLow,
	ruleRepeatedNoise,
}

// ruleCriticalAnnotation is listed last in spec.md's prose (#6) but must be
// checked first: an explicit pin/annotation always wins regardless of what
// else is true about the event, since it is an unambiguous user signal.
func ruleCriticalAnnotation(in Input) (model.Salience, bool) {
	if in.Event.Kind != event.KindMemoryOp {
		return "", false
	}

	p, ok := in.Event.Payload.(event.MemoryOpPayload)
	if !ok {
		return "", false
	}

	if p.Op == "pin" || p.Op == "annotate" {
		return model.SalienceCritical, true
	}

	return "", false
}

func ruleFocusedError(in Input) (model.Salience, bool) {
	if in.Event.Kind == event.KindErrorReport {
		return model.SalienceHigh, true
	}

	if d, ok := in.Event.Payload.(event.DiagnosticPayload); ok {
		if d.Severity == "error" && d.FilePath != "" && d.FilePath == in.FocusFile {
			return model.SalienceHigh, true
		}
	}

	return "", false
}

func ruleNonZeroExit(in Input) (model.Salience, bool) {
	if t, ok := in.Event.Payload.(event.TerminalPayload); ok && t.ExitCode != 0 {
		return model.SalienceHigh, true
	}

	return "", false
}

func ruleWarningOrPinnedSave(in Input) (model.Salience, bool) {
	if d, ok := in.Event.Payload.(event.DiagnosticPayload); ok && d.Severity == "warning" {
		return model.SalienceMedium, true
	}

	if f, ok := in.Event.Payload.(event.FileEditPayload); ok && in.PinnedFile {
		_ = f
		return model.SalienceMedium, true
	}

	return "", false
}

func ruleRoutineLow(in Input) (model.Salience, bool) {
	switch in.Event.Kind {
	case event.KindTerminal, event.KindFileEdit, event.KindFocus:
		return model.SalienceLow, true
	default:
		return "", false
	}
}

// ruleRepeatedNoise demotes anything aggregated beyond the configured
// repeat threshold to NOISE. It is evaluated last because it is a
// *downgrade* of whatever the cascade already decided, not an independent
// classification — see Classify, which applies it as a floor after the
// cascade rather than folding it into the ordered match.
func ruleRepeatedNoise(in Input) (model.Salience, bool) {
	if in.HighRepeatN > 0 && in.RepeatCount > in.HighRepeatN {
		return model.SalienceNoise, true
	}

	return "", false
}

// Classifier assigns salience and produces a gist for each event.
type Classifier struct {
	gist GistStrategy
}

// New builds a Classifier using the given gist strategy (TemplateGist or a
// DeadlineGist wrapping an LLM backend).
func New(gist GistStrategy) *Classifier {
	if gist == nil {
		gist = TemplateGist{}
	}

	return &Classifier{gist: gist}
}

// Classify runs the salience cascade and produces a gist. It never fails:
// a gist strategy error or timeout falls back to the deterministic
// template gist (spec.md §4.3 "the Classifier never fails").
func (c *Classifier) Classify(ctx context.Context, in Input) Result {
	salience := model.SalienceLow

	for _, r := range cascade {
		if s, matched := r(in); matched {
			salience = s

			break
		}
	}

	// Repetition further demotes, never promotes (spec.md §4.3): apply the
	// NOISE floor from rule 5 even when an earlier rule matched, unless the
	// memory is CRITICAL (explicit user signal always wins).
	if salience != model.SalienceCritical {
		if _, matched := ruleRepeatedNoise(in); matched && salience.Rank() > model.SalienceNoise.Rank() {
			salience = model.SalienceNoise
		}
	}

	gist := c.gist.Gist(ctx, in.Event)
	tags := deriveTags(in.Event)

	return Result{Salience: salience, Gist: gist, Tags: tags}
}

func deriveTags(ev event.Event) []string {
	tags := []string{string(ev.Kind)}

	switch p := ev.Payload.(type) {
	case event.FileEditPayload:
		if p.Language != "" {
			tags = append(tags, "lang:"+p.Language)
		}
	case event.DiagnosticPayload:
		tags = append(tags, "severity:"+p.Severity)
	case event.TerminalPayload:
		if p.ExitCode != 0 {
			tags = append(tags, "failed")
		}
	}

	return tags
}

// GistStrategy produces a short natural-language summary for an event.
type GistStrategy interface {
	Gist(ctx context.Context, ev event.Event) string
}

// TemplateGist is the deterministic, always-available rule-based gist
// (spec.md §4.3): templated per kind.
type TemplateGist struct{}

func (TemplateGist) Gist(_ context.Context, ev event.Event) string {
	switch p := ev.Payload.(type) {
	case event.FileEditPayload:
		return fmt.Sprintf("Modified %s", p.FilePath)
	case event.TerminalPayload:
		if p.ExitCode != 0 {
			return fmt.Sprintf("Command failed: %s", truncate(p.Command, 60))
		}

		return fmt.Sprintf("Ran: %s", truncate(p.Command, 60))
	case event.DiagnosticPayload:
		return fmt.Sprintf("%s: %s", strings.ToUpper(p.Severity), truncate(p.Message, 80))
	case event.ErrorReportPayload:
		return fmt.Sprintf("Error: %s", truncate(p.Message, 80))
	case event.FocusPayload:
		return fmt.Sprintf("Focused %s", p.FilePath)
	case event.MemoryOpPayload:
		return fmt.Sprintf("Memory op: %s", p.Op)
	case event.AIMessagePayload:
		return fmt.Sprintf("AI %s: %s", p.Role, truncate(p.Content, 60))
	case event.HintPayload:
		return truncate(p.Text, 80)
	default:
		return string(ev.Kind)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "…"
}

// GistBackend is the external collaborator interface for an LLM-backed gist
// (spec.md §1 — the concrete client lives outside this module's scope).
type GistBackend interface {
	Summarize(ctx context.Context, ev event.Event) (string, error)
}

// DeadlineGist wraps a GistBackend with a hard deadline, falling back to
// TemplateGist on timeout or error (spec.md §4.3, §5).
type DeadlineGist struct {
	Backend  GistBackend
	Deadline time.Duration
	Fallback GistStrategy
}

func (d DeadlineGist) Gist(ctx context.Context, ev event.Event) string {
	fallback := d.Fallback
	if fallback == nil {
		fallback = TemplateGist{}
	}

	if d.Backend == nil {
		return fallback.Gist(ctx, ev)
	}

	deadline := d.Deadline
	if deadline <= 0 {
		deadline = 2 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type result struct {
		gist string
		err  error
	}

	ch := make(chan result, 1)

	go func() {
		g, err := d.Backend.Summarize(ctx, ev)
		ch <- result{gist: g, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil || strings.TrimSpace(r.gist) == "" {
			return fallback.Gist(ctx, ev)
		}

		return r.gist
	case <-ctx.Done():
		return fallback.Gist(ctx, ev)
	}
}
