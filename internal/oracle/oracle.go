// Package oracle implements the Oracle (spec.md §4.10): a pure,
// audience-shaped, token-budgeted context assembly over a Retriever
// snapshot. The Oracle never mutates the store; it is the single source of
// packing logic for every consumer surface.
package oracle

import (
	"context"
	"sort"
	"time"

	"github.com/vidurai/vidurai-core/internal/oracle/render"
	"github.com/vidurai/vidurai-core/internal/retriever"
	"github.com/vidurai/vidurai-core/internal/store/model"
)

// candidateMultiplier is the "generous candidate set" factor from spec.md
// §4.10 step 1 ("K = 4x target").
const candidateMultiplier = 4

// softDeadline is the Oracle's default soft deadline (spec.md §5: "Oracle
// calls carry a soft deadline (default 500ms)").
const softDeadline = 500 * time.Millisecond

// charsPerToken is the Oracle's conservative character-to-token estimate
// for greedy packing (spec.md §4.10 step 4).
const charsPerToken = 4

// Request describes one context-assembly call.
type Request struct {
	Audience   render.Audience
	MaxTokens  int
	Query      string
	FocusFile  string
	FocusLine  int
	ProjectID  int64
}

// Context is the Oracle's rendered output.
type Context struct {
	Body      string
	Audience  render.Audience
	ItemCount int
	Truncated bool
}

// Oracle assembles Context from a Retriever snapshot.
type Oracle struct {
	retriever *retriever.Retriever
}

// New builds an Oracle over r.
func New(r *retriever.Retriever) *Oracle {
	return &Oracle{retriever: r}
}

// Assemble implements spec.md §4.10's five-step algorithm under a soft
// deadline: on timeout it returns the best partial context assembled so
// far with Truncated set.
func (o *Oracle) Assemble(ctx context.Context, req Request) (Context, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = 4000
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, softDeadline)
	defer cancel()

	k := req.MaxTokens / 40 // a loose "items-per-budget" heuristic before packing
	if k < 5 {
		k = 5
	}

	candidates, err := o.retriever.Rank(deadlineCtx, retriever.Query{
		ProjectID: req.ProjectID,
		Text:      req.Query,
		FocusFile: req.FocusFile,
		FocusLine: req.FocusLine,
	}, k*candidateMultiplier)

	truncated := false
	if deadlineCtx.Err() != nil {
		truncated = true
	}

	if err != nil && len(candidates) == 0 {
		return Context{}, err
	}

	filtered := filterNoise(req.Audience, candidates)
	ordered := prioritize(filtered, req)
	packed, overflowed := pack(ordered, req.MaxTokens)

	if overflowed {
		truncated = true
	}

	body, err := render.Render(req.Audience, toMemories(packed))
	if err != nil {
		return Context{}, err
	}

	return Context{
		Body:      body,
		Audience:  req.Audience,
		ItemCount: len(packed),
		Truncated: truncated,
	}, nil
}

// filterNoise drops audience-inappropriate detail (spec.md §4.10 step 2):
// the manager profile drops most diagnostic detail, ai keeps it.
func filterNoise(audience render.Audience, candidates []retriever.ScoredMemory) []retriever.ScoredMemory {
	if audience != render.AudienceManager && audience != render.AudienceProduct && audience != render.AudienceStakeholder {
		return candidates
	}

	out := make([]retriever.ScoredMemory, 0, len(candidates))

	for _, c := range candidates {
		if c.Memory.EventType == "diagnostic" && c.Memory.Salience.Rank() < model.SalienceHigh.Rank() {
			continue
		}

		out = append(out, c)
	}

	return out
}

// priorityClass implements spec.md §4.10 step 3: pinned > CRITICAL >
// focus-bonded > HIGH > recent aggregated errors > the rest.
func priorityClass(m model.Memory, req Request) int {
	switch {
	case m.Pinned:
		return 0
	case m.Salience == model.SalienceCritical:
		return 1
	case req.FocusFile != "" && m.FilePath == req.FocusFile:
		return 2
	case m.Salience == model.SalienceHigh:
		return 3
	case m.EventType == "diagnostic" && m.RepeatCount > 1:
		return 4
	default:
		return 5
	}
}

func prioritize(candidates []retriever.ScoredMemory, req Request) []retriever.ScoredMemory {
	ordered := append([]retriever.ScoredMemory(nil), candidates...)

	sort.SliceStable(ordered, func(i, j int) bool {
		pi := priorityClass(ordered[i].Memory, req)
		pj := priorityClass(ordered[j].Memory, req)

		if pi != pj {
			return pi < pj
		}

		return ordered[i].Score > ordered[j].Score
	})

	return ordered
}

// pack greedily fills maxTokens using charsPerToken, always including
// pinned items first (already guaranteed by prioritize's ordering), and
// stops before any item that would overflow.
func pack(ordered []retriever.ScoredMemory, maxTokens int) ([]retriever.ScoredMemory, bool) {
	budget := maxTokens

	var out []retriever.ScoredMemory

	for _, c := range ordered {
		cost := estimateTokens(c.Memory)
		if cost > budget {
			if len(out) == 0 && c.Memory.Pinned {
				// Cannot fit even one pinned item: emit nothing, still
				// signal truncation per spec.md §8 invariant #12.
				return out, true
			}

			return out, true
		}

		out = append(out, c)
		budget -= cost
	}

	return out, false
}

func estimateTokens(m model.Memory) int {
	n := len(m.Gist) + len(m.Verbatim)
	if n == 0 {
		n = 1
	}

	return n/charsPerToken + 1
}

func toMemories(scored []retriever.ScoredMemory) []model.Memory {
	out := make([]model.Memory, len(scored))
	for i, s := range scored {
		out[i] = s.Memory
	}

	return out
}
