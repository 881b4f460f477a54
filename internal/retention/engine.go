// Package retention implements the Retention Engine (spec.md §4.8): passive
// decay, active unlearning, and the periodic hygiene cycle, all gated by a
// pluggable Policy and a Pin Registry denylist.
package retention

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vidurai/vidurai-core/internal/config"
	"github.com/vidurai/vidurai-core/internal/ledger"
	"github.com/vidurai/vidurai-core/internal/mlog"
	"github.com/vidurai/vidurai-core/internal/pins"
	"github.com/vidurai/vidurai-core/internal/retention/policy"
	"github.com/vidurai/vidurai-core/internal/store/model"
	"github.com/vidurai/vidurai-core/internal/store/writer"
	"github.com/vidurai/vidurai-core/internal/verrors"
)

// CommandSubmitter is the subset of *writer.Writer the engine depends on,
// so tests can substitute a fake queue without a real hot store.
type CommandSubmitter interface {
	Submit(ctx context.Context, cmd writer.Command) error
}

// FallbackPolicy wraps a primary Policy with a fallback that takes over for
// the remainder of the tick once Primary raises (spec.md §4.12: "Policy
// exceptions degrade to rule-based fallback for the remainder of the
// cycle").
type FallbackPolicy struct {
	Primary  policy.Policy
	Fallback policy.Policy

	degraded bool
}

// Name implements policy.Policy.
func (f *FallbackPolicy) Name() string {
	if f.degraded {
		return f.Fallback.Name() + "(fallback)"
	}

	return f.Primary.Name()
}

// Observe implements policy.Policy, switching to Fallback permanently for
// the lifetime of this FallbackPolicy value once Primary errors once.
func (f *FallbackPolicy) Observe(ctx context.Context, s policy.State) (policy.Action, error) {
	if f.degraded {
		return f.Fallback.Observe(ctx, s)
	}

	action, err := f.Primary.Observe(ctx, s)
	if err != nil {
		f.degraded = true
		return f.Fallback.Observe(ctx, s)
	}

	return action, nil
}

// Learn implements policy.Policy.
func (f *FallbackPolicy) Learn(ctx context.Context, s policy.State, a policy.Action, outcome float64, next policy.State) error {
	if f.degraded {
		return f.Fallback.Learn(ctx, s, a, outcome, next)
	}

	if err := f.Primary.Learn(ctx, s, a, outcome, next); err != nil {
		f.degraded = true
		return f.Fallback.Learn(ctx, s, a, outcome, next)
	}

	return nil
}

// Reset clears the degraded flag at the start of a new tick, so one
// PolicyError only taints the cycle it happened in.
func (f *FallbackPolicy) Reset() { f.degraded = false }

// MemoryReader is the read-only subset of the hot store the engine needs
// to find decay/hygiene candidates. internal/store/hot.DB satisfies this
// through a package-level query helper supplied by the caller.
type MemoryReader interface {
	ActiveMemories(ctx context.Context, projectID int64) ([]model.Memory, error)
}

// Engine runs passive decay, active unlearn, and hygiene over one project
// at a time, submitting mutations through the Writer and recording every
// decision in the Ledger.
type Engine struct {
	reader MemoryReader
	writer CommandSubmitter
	ledger *ledger.Ledger
	pins   *pins.Registry
	logger mlog.Logger
	policy *FallbackPolicy
	cfg    config.RetentionConfig

	lastHygiene time.Time
}

// New builds a retention Engine.
func New(reader MemoryReader, w CommandSubmitter, l *ledger.Ledger, pinRegistry *pins.Registry, pol *FallbackPolicy, logger mlog.Logger, cfg config.RetentionConfig) *Engine {
	return &Engine{
		reader: reader,
		writer: w,
		ledger: l,
		pins:   pinRegistry,
		policy: pol,
		logger: logger,
		cfg:    cfg,
	}
}

// decayThreshold returns the configured passive-decay threshold for a
// salience level, or zero duration for CRITICAL (never decays).
func (e *Engine) decayThreshold(s model.Salience) (time.Duration, bool) {
	switch s {
	case model.SalienceCritical:
		return 0, false
	case model.SalienceHigh:
		return e.cfg.Decay.High, true
	case model.SalienceMedium:
		return e.cfg.Decay.Medium, true
	case model.SalienceLow:
		return e.cfg.Decay.Low, true
	default:
		return e.cfg.Decay.Noise, true
	}
}

// PassiveDecay implements spec.md §4.8(a): scans every ACTIVE memory in a
// project and transitions stale ones to PENDING_DECAY, skipping anything
// in deny (pinned).
func (e *Engine) PassiveDecay(ctx context.Context, projectID int64, projectPath string, now time.Time, deny pins.Denylist) error {
	memories, err := e.reader.ActiveMemories(ctx, projectID)
	if err != nil {
		return fmt.Errorf("retention: loading active memories: %w", err)
	}

	before := len(memories)
	var transitioned []int64

	for _, m := range memories {
		if m.Pinned || deny.IsPinned(m.ID, m.FilePath) {
			continue
		}

		threshold, decays := e.decayThreshold(m.Salience)
		if !decays {
			continue
		}

		age := m.EffectiveAge(now)

		if m.Gist == "" {
			threshold = time.Duration(float64(threshold) * 0.3) // 70% faster
		}

		if m.AccessCount == 0 {
			threshold = time.Duration(float64(threshold) * 0.7) // 30% faster
		}

		if age < threshold {
			continue
		}

		result := make(chan error, 1)
		if err := e.writer.Submit(ctx, writer.UpdateStatus{
			MemoryID:    m.ID,
			NewStatus:   model.StatusPendingDecay,
			DecayReason: "passive_decay",
			Result:      result,
		}); err != nil {
			return err
		}

		if err := <-result; err != nil {
			return verrors.WrapWriteConflict("passive_decay", err)
		}

		transitioned = append(transitioned, m.ID)
	}

	if len(transitioned) == 0 {
		return nil
	}

	return e.ledger.Append(model.LedgerEvent{
		Timestamp:       now,
		EventType:       model.LedgerDecay,
		Action:          "passive_decay",
		ProjectPath:     projectPath,
		MemoriesBefore:  before,
		MemoriesAfter:   before - len(transitioned),
		MemoriesRemoved: transitioned,
		Reason:          "effective age exceeded salience threshold",
		Policy:          "passive_decay",
		Reversible:      true,
	})
}

// UnlearnMode distinguishes a confirmed user unlearn from the fast
// "silence" path (spec.md §4.8(b)).
type UnlearnMode int

const (
	UnlearnConfirmed UnlearnMode = iota
	UnlearnSilence
)

// Unlearn transitions every candidate memory to UNLEARNED or SILENCED.
func (e *Engine) Unlearn(ctx context.Context, projectPath string, candidates []model.Memory, mode UnlearnMode) error {
	newStatus := model.StatusUnlearned
	reversible := false
	action := "unlearn"

	if mode == UnlearnSilence {
		newStatus = model.StatusSilenced
		reversible = true
		action = "silence"
	}

	var ids []int64

	for _, m := range candidates {
		result := make(chan error, 1)
		if err := e.writer.Submit(ctx, writer.UpdateStatus{
			MemoryID:    m.ID,
			NewStatus:   newStatus,
			DecayReason: action,
			Result:      result,
		}); err != nil {
			return err
		}

		if err := <-result; err != nil {
			return verrors.WrapWriteConflict(action, err)
		}

		ids = append(ids, m.ID)
	}

	return e.ledger.Append(model.LedgerEvent{
		Timestamp:       time.Now().UTC(),
		EventType:       model.LedgerUnlearn,
		Action:          action,
		ProjectPath:     projectPath,
		MemoriesBefore:  len(candidates),
		MemoriesAfter:   0,
		MemoriesRemoved: ids,
		Reason:          "user-initiated unlearn",
		Policy:          "manual",
		Reversible:      reversible,
	})
}

// group is a bucket of memories the hygiene cycle consolidates together.
type group struct {
	key       string
	memories  []model.Memory
}

// groupByTopicalProximity buckets memories sharing a file_path or a
// dominant tag (spec.md §4.8(c): "group by topical proximity (tag set,
// file_path, shared entities)").
func groupByTopicalProximity(memories []model.Memory) []group {
	byKey := make(map[string][]model.Memory)

	for _, m := range memories {
		key := m.FilePath
		if key == "" && len(m.Tags) > 0 {
			sorted := append([]string(nil), m.Tags...)
			sort.Strings(sorted)
			key = "tags:" + strings.Join(sorted, ",")
		}

		if key == "" {
			key = "untagged"
		}

		byKey[key] = append(byKey[key], m)
	}

	groups := make([]group, 0, len(byKey))
	for k, ms := range byKey {
		groups = append(groups, group{key: k, memories: ms})
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].key < groups[j].key })

	return groups
}

func medianSalience(memories []model.Memory) model.Salience {
	ranks := make([]int, len(memories))
	for i, m := range memories {
		ranks[i] = m.Salience.Rank()
	}

	sort.Ints(ranks)

	mid := ranks[len(ranks)/2]

	for s, r := range map[model.Salience]int{
		model.SalienceCritical: 5, model.SalienceHigh: 4, model.SalienceMedium: 3,
		model.SalienceLow: 2, model.SalienceNoise: 1,
	} {
		if r == mid {
			return s
		}
	}

	return model.SalienceLow
}

func summarizeGist(memories []model.Memory) string {
	gists := make([]string, 0, len(memories))
	for _, m := range memories {
		if m.Gist != "" {
			gists = append(gists, m.Gist)
		}
	}

	joined := strings.Join(gists, "; ")
	if len(joined) > 200 {
		joined = joined[:200] + "..."
	}

	return joined
}

// Hygiene implements spec.md §4.8(c): consolidates low-utility memories
// into summaries, honoring the pin denylist and preserve_critical.
func (e *Engine) Hygiene(ctx context.Context, projectID int64, projectPath string, now time.Time, deny pins.Denylist) error {
	all, err := e.reader.ActiveMemories(ctx, projectID)
	if err != nil {
		return fmt.Errorf("retention: loading active memories: %w", err)
	}

	horizon := time.Duration(e.cfg.MaxAgeDays) * 24 * time.Hour

	var candidates []model.Memory

	for _, m := range all {
		if m.Salience == model.SalienceCritical || m.Salience == model.SalienceHigh {
			continue // never consolidated, spec.md §4.8(c)
		}

		if m.Pinned || deny.IsPinned(m.ID, m.FilePath) {
			continue
		}

		if now.Sub(m.LastAccessed) < horizon {
			continue
		}

		candidates = append(candidates, m)
	}

	if len(candidates) == 0 {
		e.lastHygiene = now
		return nil
	}

	before := len(all)
	var totalRemoved, totalPreserved int

	for _, g := range groupByTopicalProximity(candidates) {
		if len(g.memories) < 2 {
			continue // nothing to consolidate in a group of one
		}

		maxOutputs := int(float64(len(g.memories)) * e.cfg.ConsolidationRatio)
		if maxOutputs < 1 {
			maxOutputs = 1
		}

		removeIDs := make([]int64, len(g.memories))
		for i, m := range g.memories {
			removeIDs[i] = m.ID
		}

		summary := model.Memory{
			ProjectID:    projectID,
			Verbatim:     summarizeGist(g.memories),
			Gist:         summarizeGist(g.memories),
			Tags:         mergeAllTags(g.memories),
			FilePath:     g.memories[0].FilePath,
			Salience:     medianSalience(g.memories),
			Fingerprint:  fmt.Sprintf("consolidated:%s:%d", g.key, now.UnixNano()),
			LastAccessed: now,
			CreatedAt:    now,
		}

		result := make(chan writer.ConsolidateResult, 1)
		if err := e.writer.Submit(ctx, writer.ConsolidateGroup{
			RemoveIDs: removeIDs,
			Summary:   summary,
			Result:    result,
		}); err != nil {
			return err
		}

		r := <-result
		if r.Err != nil {
			return verrors.WrapWriteConflict("consolidate", r.Err)
		}

		totalRemoved += len(removeIDs)
		totalPreserved++

		if err := e.ledger.Append(model.LedgerEvent{
			Timestamp:         now,
			EventType:         model.LedgerConsolidation,
			Action:            "consolidate",
			ProjectPath:       projectPath,
			MemoriesBefore:    len(removeIDs),
			MemoriesAfter:     1,
			MemoriesRemoved:   removeIDs,
			ConsolidatedInto:  []int64{r.SummaryID},
			EntitiesPreserved: 1,
			Reason:            "hygiene consolidation: " + g.key,
			Policy:            "hygiene",
			Reversible:        true,
		}); err != nil {
			return err
		}
	}

	e.lastHygiene = now

	e.logger.Infof("retention: hygiene consolidated %d/%d candidates into summaries", totalRemoved, before)

	return nil
}

func mergeAllTags(memories []model.Memory) []string {
	seen := make(map[string]struct{})

	var out []string

	for _, m := range memories {
		for _, t := range m.Tags {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
	}

	return out
}
