// Package engine wires the pipeline modules (Gatekeeper, Classifier,
// Aggregator, Writer, Retention, Retriever, Oracle, Archiver, Scheduler)
// into one running instance, the shape spec.md §5 calls the core's
// concurrency model: one Writer goroutine, a small reader pool, one
// Scheduler goroutine driving hygiene/archive ticks.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/vidurai/vidurai-core/internal/aggregator"
	"github.com/vidurai/vidurai-core/internal/app"
	"github.com/vidurai/vidurai-core/internal/archiver"
	"github.com/vidurai/vidurai-core/internal/classifier"
	"github.com/vidurai/vidurai-core/internal/config"
	"github.com/vidurai/vidurai-core/internal/event"
	"github.com/vidurai/vidurai-core/internal/gatekeeper"
	"github.com/vidurai/vidurai-core/internal/ledger"
	"github.com/vidurai/vidurai-core/internal/mlog"
	"github.com/vidurai/vidurai-core/internal/oracle"
	"github.com/vidurai/vidurai-core/internal/pins"
	"github.com/vidurai/vidurai-core/internal/retention"
	"github.com/vidurai/vidurai-core/internal/retention/policy"
	"github.com/vidurai/vidurai-core/internal/retention/qlearn"
	"github.com/vidurai/vidurai-core/internal/retention/rule"
	"github.com/vidurai/vidurai-core/internal/retriever"
	"github.com/vidurai/vidurai-core/internal/scheduler"
	"github.com/vidurai/vidurai-core/internal/store/cold"
	"github.com/vidurai/vidurai-core/internal/store/hot"
	"github.com/vidurai/vidurai-core/internal/store/model"
	"github.com/vidurai/vidurai-core/internal/store/notify"
	"github.com/vidurai/vidurai-core/internal/store/writer"
	"github.com/vidurai/vidurai-core/internal/verrors"
)

// highRepeatN is the repeat count beyond which the Classifier's NOISE floor
// kicks in (spec.md §4.3 rule 5). Not yet exposed as a config key since no
// deployment has needed a different value.
const highRepeatN = 10

// archiveGraceInterval is how long a memory must sit PENDING_DECAY before
// the Archiver is allowed to migrate it to cold storage (spec.md §4.5).
const archiveGraceInterval = 24 * time.Hour

// focusState tracks the last focused file per project, used to bias the
// Classifier's ruleFocusedError and the Retriever's focus bond.
type focusState struct {
	mu    sync.RWMutex
	byPrj map[int64]event.FocusPayload
}

func newFocusState() *focusState {
	return &focusState{byPrj: make(map[int64]event.FocusPayload)}
}

func (f *focusState) set(projectID int64, p event.FocusPayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byPrj[projectID] = p
}

func (f *focusState) get(projectID int64) event.FocusPayload {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.byPrj[projectID]
}

// Engine is the assembled core: every module in SPEC_FULL.md's module list
// constructed once and wired together.
type Engine struct {
	cfg    *config.Config
	logger mlog.Logger

	hotDB  *hot.DB
	ledger *ledger.Ledger
	cold   *cold.Store

	gatekeeper *gatekeeper.Gatekeeper
	classifier *classifier.Classifier
	pins       *pins.Registry
	queries    *hot.ReadQueries
	writer     *writer.Writer

	retention       *retention.Engine
	retentionPolicy *retention.FallbackPolicy
	retriever       *retriever.Retriever
	oracle          *oracle.Oracle
	archiver        *archiver.Archiver
	scheduler       *scheduler.Scheduler
	launcher        *app.Launcher

	focus *focusState

	projectMu    sync.Mutex
	projectCache map[string]int64

	// policyMu serializes every Observe/Learn call against retentionPolicy:
	// the hygiene, archive, and dream ticks are independent cron jobs (spec.md
	// §4.12) that can run concurrently, but FallbackPolicy's degraded flag and
	// a *qlearn.Policy's Q-table are not safe for concurrent callers from
	// outside their own locks.
	policyMu sync.Mutex

	// obsMu guards lastObservation, the per-project (state, action) pair the
	// hygiene tick's Observe produced and the dream tick's Learn consumes.
	obsMu           sync.Mutex
	lastObservation map[int64]policyObservation
}

// policyObservation is what the hygiene tick hands to the dream tick: the
// state the Policy was shown and the Action it picked, so Learn can compute
// an outcome against the state the next dream cycle finds.
type policyObservation struct {
	state  policy.State
	action policy.Action
}

// New constructs every module and wires the long-running tasks (Writer,
// Scheduler) into an app.Launcher, ready for Run.
func New(cfg *config.Config, logger mlog.Logger) (*Engine, error) {
	ctx := context.Background()

	hotDB, err := hot.Open(ctx, filepath.Join(cfg.DataDir, "hot.db"))
	if err != nil {
		return nil, err
	}

	ldg, err := ledger.Open(filepath.Join(cfg.DataDir, "ledger.jsonl"), logger)
	if err != nil {
		return nil, verrors.Wrap(err, "opening ledger")
	}

	coldStore, err := cold.Open(filepath.Join(cfg.DataDir, "cold"))
	if err != nil {
		return nil, verrors.Wrap(err, "opening cold store")
	}

	pinRegistry := pins.New(hotDB.Reader())
	queries := hot.QueriesOn(hotDB)

	w := writer.New(hotDB, ldg, logger, writer.Config{
		QueueCapacity: int(cfg.IngressQueueCapacity),
		BatchSize:     int(cfg.WriterMicroBatchSize),
		BatchWindow:   time.Duration(cfg.WriterMicroBatchWindow) * time.Millisecond,
	})

	retPolicy, err := buildRetentionPolicy(cfg)
	if err != nil {
		return nil, err
	}

	retentionEngine := retention.New(queries, w, ldg, pinRegistry, retPolicy, logger, cfg.Retention)

	rt := retriever.New(hotDB.Reader())
	orc := oracle.New(rt)

	arch := archiver.New(queries, coldStore, w, ldg, logger, archiveGraceInterval)

	e := &Engine{
		cfg:             cfg,
		logger:          logger,
		hotDB:           hotDB,
		ledger:          ldg,
		cold:            coldStore,
		gatekeeper:      gatekeeper.New(cfg.GatekeeperExtraPatterns),
		classifier:      classifier.New(nil),
		pins:            pinRegistry,
		queries:         queries,
		writer:          w,
		retention:       retentionEngine,
		retentionPolicy: retPolicy,
		retriever:       rt,
		oracle:          orc,
		archiver:        arch,
		focus:           newFocusState(),
		projectCache:    make(map[string]int64),
		lastObservation: make(map[int64]policyObservation),
	}

	e.scheduler = scheduler.New(e.buildJobs(), logger)

	e.launcher = app.NewLauncher(logger).
		Add("writer", w).
		Add("scheduler", e.scheduler)

	return e, nil
}

func buildRetentionPolicy(cfg *config.Config) (*retention.FallbackPolicy, error) {
	fallback := rule.New(rule.DefaultThresholds())

	var primary policy.Policy = fallback

	if cfg.Retention.Policy == "rl_based" {
		q, err := qlearn.Load(qlearn.DefaultOptions(
			filepath.Join(cfg.DataDir, "retention_policy.json"),
			cfg.Retention.RewardProfile,
		))
		if err != nil {
			return nil, verrors.Wrap(err, "loading q-learning policy state")
		}

		primary = q
	}

	return &retention.FallbackPolicy{Primary: primary, Fallback: fallback}, nil
}

// buildJobs wires the Scheduler's three ticks (spec.md §4.12): hygiene and
// archive gated by the Policy's Observe action, and the dream cycle that
// feeds the outcome of each observed action back into Learn.
func (e *Engine) buildJobs() []scheduler.Job {
	return []scheduler.Job{
		{
			Name:     "hygiene",
			Interval: time.Duration(e.cfg.Retention.HygieneIntervalSecs) * time.Second,
			Run:      e.runHygieneTick,
		},
		{
			Name:     "archive",
			Interval: time.Duration(e.cfg.Retention.ArchiveIntervalSecs) * time.Second,
			Run:      e.runArchiveTick,
		},
		{
			Name:     "dream",
			Interval: time.Duration(e.cfg.Retention.DreamIntervalSecs) * time.Second,
			Run:      e.runDreamTick,
		},
	}
}

// buildState summarizes a project's active memories into the discretized
// State the Policy observes (spec.md §4.8). StoragePressureHigh uses the
// same 5000-memory threshold policy.State.Bucket treats as SizeLarge.
func (e *Engine) buildState(ctx context.Context, projectID int64) (policy.State, error) {
	memories, err := e.queries.ActiveMemories(ctx, projectID)
	if err != nil {
		return policy.State{}, fmt.Errorf("engine: loading active memories for policy state: %w", err)
	}

	var lowValue int

	for _, m := range memories {
		if m.Pinned {
			continue
		}

		switch m.Salience {
		case model.SalienceMedium, model.SalienceLow, model.SalienceNoise:
			lowValue++
		}
	}

	return policy.State{
		TotalMemories:       len(memories),
		ActiveMemories:      len(memories),
		LowValueCount:       lowValue,
		StoragePressureHigh: len(memories) >= 5000,
	}, nil
}

// observe takes the policy lock, runs Observe, and records the (state,
// action) pair for the dream tick's Learn call. A policy error is logged
// and treated as passive_sweep, the least destructive non-no-op action.
func (e *Engine) observe(ctx context.Context, projectID int64, s policy.State) policy.Action {
	e.policyMu.Lock()
	action, err := e.retentionPolicy.Observe(ctx, s)
	e.policyMu.Unlock()

	if err != nil {
		e.logger.Errorf("engine: policy observe for project %d: %v", projectID, err)
		action = policy.ActionPassiveSweep
	}

	e.obsMu.Lock()
	e.lastObservation[projectID] = policyObservation{state: s, action: action}
	e.obsMu.Unlock()

	return action
}

// shouldArchive reports whether the Policy's most recent observation for a
// project called for archiving pending memories. A project with no
// observation yet (the archive tick firing before the first hygiene tick)
// defaults to archiving, matching the behavior before Observe was wired in.
func (e *Engine) shouldArchive(projectID int64) bool {
	e.obsMu.Lock()
	obs, ok := e.lastObservation[projectID]
	e.obsMu.Unlock()

	if !ok {
		return true
	}

	return obs.action == policy.ActionArchivePending || obs.action == policy.ActionConsolidateAggressive
}

func (e *Engine) runHygieneTick(ctx context.Context) error {
	projects, err := e.queries.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("engine: listing projects for hygiene: %w", err)
	}

	now := time.Now().UTC()

	e.policyMu.Lock()
	e.retentionPolicy.Reset()
	e.policyMu.Unlock()

	for _, p := range projects {
		deny, err := e.pins.Snapshot(ctx)
		if err != nil {
			e.logger.Errorf("engine: pin snapshot for hygiene: %v", err)
			continue
		}

		state, err := e.buildState(ctx, p.ID)
		if err != nil {
			e.logger.Errorf("engine: building policy state for project %d: %v", p.ID, err)
			continue
		}

		action := e.observe(ctx, p.ID, state)
		if action == policy.ActionNoOp {
			continue
		}

		if err := e.retention.PassiveDecay(ctx, p.ID, p.Path, now, deny); err != nil {
			e.logger.Errorf("engine: passive decay for project %d: %v", p.ID, err)
		}

		if action == policy.ActionConsolidateLight || action == policy.ActionConsolidateAggressive {
			if err := e.retention.Hygiene(ctx, p.ID, p.Path, now, deny); err != nil {
				e.logger.Errorf("engine: hygiene for project %d: %v", p.ID, err)
			}
		}
	}

	return nil
}

func (e *Engine) runArchiveTick(ctx context.Context) error {
	projects, err := e.queries.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("engine: listing projects for archive: %w", err)
	}

	for _, p := range projects {
		if !e.shouldArchive(p.ID) {
			continue
		}

		if err := e.archiver.ArchiveProject(ctx, p.ID, p.Path); err != nil {
			e.logger.Warnf("engine: archive tick for project %d: %v", p.ID, err)
		}
	}

	return nil
}

// runDreamTick implements the dream cycle's Learn half of spec.md §4.12:
// for every project the hygiene tick observed since the last dream cycle,
// it re-measures the store, scores the action that was taken with
// qlearn.Reward, and lets the Policy update before the next hygiene tick
// observes again.
func (e *Engine) runDreamTick(ctx context.Context) error {
	projects, err := e.queries.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("engine: listing projects for dream cycle: %w", err)
	}

	for _, p := range projects {
		e.obsMu.Lock()
		obs, ok := e.lastObservation[p.ID]
		if ok {
			delete(e.lastObservation, p.ID)
		}
		e.obsMu.Unlock()

		if !ok {
			continue
		}

		next, err := e.buildState(ctx, p.ID)
		if err != nil {
			e.logger.Errorf("engine: building next policy state for project %d: %v", p.ID, err)
			continue
		}

		tokenSavings := 0.0
		if obs.state.TotalMemories > 0 {
			tokenSavings = float64(obs.state.TotalMemories-next.TotalMemories) / float64(obs.state.TotalMemories)
		}

		qualityPreserved := 1.0
		if next.ActiveMemories > 0 {
			qualityPreserved = 1.0 - float64(next.LowValueCount)/float64(next.ActiveMemories)
		}

		// frequentlyAccessedDeleted is left at 0: this tick only has
		// before/after aggregates, not a per-memory access-count delta to
		// attribute to the action.
		outcome := qlearn.Reward(e.cfg.Retention.RewardProfile, tokenSavings, qualityPreserved, 0)

		e.policyMu.Lock()
		learnErr := e.retentionPolicy.Learn(ctx, obs.state, obs.action, outcome, next)
		e.policyMu.Unlock()

		if learnErr != nil {
			e.logger.Errorf("engine: policy learn for project %d: %v", p.ID, learnErr)
		}
	}

	return nil
}

// Accept implements ingress.EventSink: it runs one event through
// Gatekeeper -> project resolution -> Aggregator lookup -> Classifier ->
// Writer, spec.md §4's full ingestion pipeline.
func (e *Engine) Accept(ctx context.Context, ev event.Event) error {
	projectID, err := e.resolveProject(ctx, ev.ProjectRoot)
	if err != nil {
		return err
	}

	if ev.Kind == event.KindFocus {
		if p, ok := ev.Payload.(event.FocusPayload); ok {
			e.focus.set(projectID, p)
		}
	}

	if ev.Kind == event.KindMemoryOp {
		if p, ok := ev.Payload.(event.MemoryOpPayload); ok {
			switch p.Op {
			case "pin":
				return e.applyPin(ctx, p)
			case "unpin":
				return e.applyUnpin(ctx, p)
			case "unlearn":
				return e.applyUnlearn(ctx, ev.ProjectRoot, p)
			}
		}
	}

	c := extractContent(ev)

	redacted := e.gatekeeper.Redact(c.Verbatim)

	language := c.Language
	if language == "" && c.FilePath != "" {
		language = languageFromExt(c.FilePath)
	}

	normalized := aggregator.Normalize(redacted.Sanitized, c.FilePath, ev.ProjectRoot)
	fingerprint := aggregator.Fingerprint(normalized, string(ev.Kind), c.FilePath)

	existing, err := e.queries.FindActiveByFingerprint(ctx, projectID, fingerprint)
	if err != nil {
		return fmt.Errorf("engine: looking up existing memory: %w", err)
	}

	deny, err := e.pins.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("engine: pin snapshot: %w", err)
	}

	focus := e.focus.get(projectID)
	repeatCount := 0
	if existing != nil {
		repeatCount = existing.RepeatCount + 1
	}

	result := e.classifier.Classify(ctx, classifier.Input{
		Event:       ev,
		FocusFile:   focus.FilePath,
		RepeatCount: repeatCount,
		PinnedFile:  deny.IsPinned(0, c.FilePath),
		HighRepeatN: highRepeatN,
	})

	decision := aggregator.Decide(existing, result.Tags)

	now := eventTimestamp(ev)

	if decision.Aggregate {
		resultCh := make(chan error, 1)

		if err := e.writer.Submit(ctx, writer.AggregateMemory{
			MemoryID:     existing.ID,
			NewSalience:  decision.NewSalience,
			RepeatCount:  decision.NewRepeatCount,
			Tags:         decision.MergedTags,
			LastAccessed: now.UnixMilli(),
			Result:       resultCh,
		}); err != nil {
			return err
		}

		return <-resultCh
	}

	insertCh := make(chan writer.InsertResult, 1)

	// The Classifier's gist is built from the raw event payload, not
	// redacted.Sanitized, so it needs its own pass through the Gatekeeper
	// before anything stores it (spec.md §4.2: no unredacted pattern match
	// reaches the Store).
	gist := e.gatekeeper.Redact(result.Gist).Sanitized

	m := model.Memory{
		ProjectID:    projectID,
		Verbatim:     redacted.Sanitized,
		Gist:         gist,
		Tags:         result.Tags,
		EventType:    string(ev.Kind),
		FilePath:     c.FilePath,
		LineNumber:   c.LineNumber,
		Language:     language,
		Salience:     result.Salience,
		Status:       model.StatusActive,
		Outcome:      model.OutcomeNeutral,
		Fingerprint:  fingerprint,
		RepeatCount:  1,
		AccessCount:  0,
		LastAccessed: now,
		CreatedAt:    now,
	}

	if err := e.writer.Submit(ctx, writer.InsertMemory{Memory: m, Result: insertCh}); err != nil {
		return err
	}

	return (<-insertCh).Err
}

func (e *Engine) applyPin(ctx context.Context, p event.MemoryOpPayload) error {
	var memoryID *int64
	if p.MemoryID != 0 {
		id := p.MemoryID
		memoryID = &id
	}

	resultCh := make(chan error, 1)

	if err := e.writer.Submit(ctx, writer.Pin{
		Entry: model.PinEntry{
			MemoryID: memoryID,
			FilePath: p.FilePath,
			PinnedAt: time.Now().UTC(),
			Reason:   p.Reason,
			PinnedBy: "user",
		},
		Result: resultCh,
	}); err != nil {
		return err
	}

	return <-resultCh
}

func (e *Engine) applyUnpin(ctx context.Context, p event.MemoryOpPayload) error {
	var memoryID *int64
	if p.MemoryID != 0 {
		id := p.MemoryID
		memoryID = &id
	}

	resultCh := make(chan error, 1)

	if err := e.writer.Submit(ctx, writer.Unpin{
		MemoryID: memoryID,
		FilePath: p.FilePath,
		Result:   resultCh,
	}); err != nil {
		return err
	}

	return <-resultCh
}

// applyUnlearn implements the active-unlearning half of spec.md §4.7: the
// candidate set here is the single memory the caller named; a text-query
// driven candidate search is the ingress layer's responsibility (out of
// scope for this module, per spec.md §6's "outside this spec" framing
// note).
func (e *Engine) applyUnlearn(ctx context.Context, projectPath string, p event.MemoryOpPayload) error {
	if p.MemoryID == 0 {
		return verrors.NewConfigError("memory_id", "unlearn requires a memory_id")
	}

	m, err := e.queries.GetByID(ctx, p.MemoryID)
	if err != nil {
		return err
	}

	if m == nil {
		return nil
	}

	return e.retention.Unlearn(ctx, projectPath, []model.Memory{*m}, retention.UnlearnConfirmed)
}

func (e *Engine) resolveProject(ctx context.Context, path string) (int64, error) {
	if path == "" {
		path = "."
	}

	e.projectMu.Lock()
	if id, ok := e.projectCache[path]; ok {
		e.projectMu.Unlock()
		return id, nil
	}
	e.projectMu.Unlock()

	resultCh := make(chan writer.EnsureProjectResult, 1)
	if err := e.writer.Submit(ctx, writer.EnsureProject{
		Path: path, Now: time.Now().UTC().UnixMilli(), Result: resultCh,
	}); err != nil {
		return 0, err
	}

	res := <-resultCh
	if res.Err != nil {
		return 0, res.Err
	}

	e.projectMu.Lock()
	e.projectCache[path] = res.ID
	e.projectMu.Unlock()

	return res.ID, nil
}

// AssembleContext delegates to the Oracle, the only entry point spec.md §6's
// "get_context" request uses.
func (e *Engine) AssembleContext(ctx context.Context, req oracle.Request) (oracle.Context, error) {
	return e.oracle.Assemble(ctx, req)
}

// Subscribe exposes the Writer's status-change fan-out to an in-process
// local subscriber, spec.md §1's "optional local notifications" carve-out.
// The returned unsubscribe function must be called once the subscriber is
// done, or its channel is leaked in the Hub.
func (e *Engine) Subscribe() (<-chan notify.StatusChange, func()) {
	return e.writer.Subscribe()
}

// Run blocks, driving every registered task until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	e.launcher.Run(ctx)
}

// Close releases the hot store, ledger, and persists Q-learning state if
// that policy is active.
func (e *Engine) Close() error {
	if q, ok := e.retentionPolicy.Primary.(*qlearn.Policy); ok {
		if err := q.Save(); err != nil {
			e.logger.Errorf("engine: saving retention policy state: %v", err)
		}
	}

	if err := e.ledger.Close(); err != nil {
		e.logger.Errorf("engine: closing ledger: %v", err)
	}

	return e.hotDB.Close()
}
