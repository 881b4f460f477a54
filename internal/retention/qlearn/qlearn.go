// Package qlearn implements the Retention Engine's reinforcement-learning
// Policy (spec.md §4.8): tabular Q(s,a) with epsilon-greedy exploration,
// persisted as plain data so the learning state survives a restart without
// carrying any closures or unexported runtime types across the JSON
// boundary.
package qlearn

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"sync"

	"github.com/vidurai/vidurai-core/internal/config"
	"github.com/vidurai/vidurai-core/internal/retention/policy"
)

var actions = []policy.Action{
	policy.ActionNoOp,
	policy.ActionPassiveSweep,
	policy.ActionConsolidateLight,
	policy.ActionConsolidateAggressive,
	policy.ActionArchivePending,
}

// stateKey renders a discretized State to a stable map key.
func stateKey(s policy.State) string {
	size, mix, rate := s.Bucket()
	return fmt.Sprintf("%d:%d:%d", size, mix, rate)
}

// Persisted is the plain-data shape written to the policy state file
// (spec.md §6: "Policy state: a small local file (JSON) for the Q-table
// and counters"). Every field is a map/slice/primitive so it round-trips
// through encoding/json with no custom marshaling.
type Persisted struct {
	QTable      map[string]map[string]float64 `json:"q_table"`
	VisitCounts map[string]int                `json:"visit_counts"`
	Epsilon     float64                       `json:"epsilon"`
}

// Policy is the tabular Q-learning Policy. Epsilon decays toward EpsilonMin
// as VisitCounts accumulates, starting near 0.3 per spec.md §4.8.
type Policy struct {
	mu sync.Mutex

	path  string
	state Persisted

	epsilonMin       float64
	epsilonDecay     float64
	learningRate     float64
	discount         float64
	rewardProfile    config.RewardProfile
	rng              *rand.Rand
}

// Options configures a Policy's learning hyperparameters.
type Options struct {
	Path          string
	RewardProfile config.RewardProfile
	EpsilonStart  float64
	EpsilonMin    float64
	EpsilonDecay  float64
	LearningRate  float64
	Discount      float64
	Seed          int64
}

// DefaultOptions matches spec.md §4.8: "initial epsilon ~= 0.3 decaying to
// ~= 0.05".
func DefaultOptions(path string, profile config.RewardProfile) Options {
	return Options{
		Path:          path,
		RewardProfile: profile,
		EpsilonStart:  0.3,
		EpsilonMin:    0.05,
		EpsilonDecay:  0.001,
		LearningRate:  0.1,
		Discount:      0.9,
		Seed:          1,
	}
}

// Load reads persisted Q-learning state from opts.Path, or starts fresh if
// the file does not exist.
func Load(opts Options) (*Policy, error) {
	p := &Policy{
		path:          opts.Path,
		epsilonMin:    opts.EpsilonMin,
		epsilonDecay:  opts.EpsilonDecay,
		learningRate:  opts.LearningRate,
		discount:      opts.Discount,
		rewardProfile: opts.RewardProfile,
		rng:           rand.New(rand.NewSource(opts.Seed)),
		state: Persisted{
			QTable:      make(map[string]map[string]float64),
			VisitCounts: make(map[string]int),
			Epsilon:     opts.EpsilonStart,
		},
	}

	raw, err := os.ReadFile(opts.Path)
	if os.IsNotExist(err) {
		return p, nil
	}

	if err != nil {
		return nil, fmt.Errorf("qlearn: reading state file: %w", err)
	}

	if err := json.Unmarshal(raw, &p.state); err != nil {
		return nil, fmt.Errorf("qlearn: parsing state file: %w", err)
	}

	if p.state.QTable == nil {
		p.state.QTable = make(map[string]map[string]float64)
	}

	if p.state.VisitCounts == nil {
		p.state.VisitCounts = make(map[string]int)
	}

	return p, nil
}

// Name implements policy.Policy.
func (p *Policy) Name() string { return "rl_based" }

// Save persists the Q-table and counters to disk.
func (p *Policy) Save() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	raw, err := json.MarshalIndent(p.state, "", "  ")
	if err != nil {
		return fmt.Errorf("qlearn: marshaling state: %w", err)
	}

	if err := os.WriteFile(p.path, raw, 0o644); err != nil {
		return fmt.Errorf("qlearn: writing state file: %w", err)
	}

	return nil
}

// Observe implements policy.Policy with epsilon-greedy action selection
// over the discretized state bucket.
func (p *Policy) Observe(_ context.Context, s policy.State) (policy.Action, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := stateKey(s)

	if p.rng.Float64() < p.state.Epsilon {
		return actions[p.rng.Intn(len(actions))], nil
	}

	return p.bestAction(key), nil
}

func (p *Policy) bestAction(key string) policy.Action {
	row := p.state.QTable[key]

	best := actions[0]
	bestQ := row[string(best)]

	for _, a := range actions[1:] {
		q := row[string(a)]
		if q > bestQ {
			bestQ = q
			best = a
		}
	}

	return best
}

// Learn implements policy.Policy: a standard Q-update with a reward shaped
// by the configured RewardProfile, and epsilon decay toward epsilonMin
// (spec.md §4.8).
func (p *Policy) Learn(_ context.Context, s policy.State, action policy.Action, outcome float64, next policy.State) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := stateKey(s)
	nextKey := stateKey(next)

	if p.state.QTable[key] == nil {
		p.state.QTable[key] = make(map[string]float64)
	}

	bestNext := 0.0
	if row, ok := p.state.QTable[nextKey]; ok {
		for _, a := range actions {
			if v := row[string(a)]; v > bestNext {
				bestNext = v
			}
		}
	}

	current := p.state.QTable[key][string(action)]
	p.state.QTable[key][string(action)] = current + p.learningRate*(outcome+p.discount*bestNext-current)

	p.state.VisitCounts[key]++

	p.state.Epsilon -= p.epsilonDecay
	if p.state.Epsilon < p.epsilonMin {
		p.state.Epsilon = p.epsilonMin
	}

	return nil
}

// Reward combines a token-savings proxy and a quality proxy (access rate
// preserved for retained gists) with profile-specific weights, and
// subtracts a penalty for deleting frequently-accessed memories — this
// substitutes for gradient-ascent unlearning, which spec.md explicitly
// permits omitting, with a flat state-action penalty instead.
func Reward(profile config.RewardProfile, tokenSavings, qualityPreserved, frequentlyAccessedDeleted float64) float64 {
	var savingsWeight, qualityWeight float64

	switch profile {
	case config.RewardCostFocused:
		savingsWeight, qualityWeight = 3.0, 0.5
	case config.RewardQualityFocused:
		savingsWeight, qualityWeight = 0.3, 5.0
	default:
		savingsWeight, qualityWeight = 1.0, 1.0
	}

	penalty := frequentlyAccessedDeleted * 2.0

	return savingsWeight*tokenSavings + qualityWeight*qualityPreserved - penalty
}
