// Package strategist implements the value-table routing policy: ε-greedy
// selection over the filtered candidate set and temporal-difference updates
// from observed rewards.
package strategist

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

// Config holds the learning hyperparameters.
type Config struct {
	Alpha       float64 `json:"alpha"`        // learning rate, (0,1]
	Gamma       float64 `json:"gamma"`        // discount factor, [0,1]
	Epsilon     float64 `json:"epsilon"`      // base exploration rate
	EpsilonMin  float64 `json:"epsilon_min"`  // decay floor
	Decay       float64 `json:"decay"`        // per-feedback multiplier
	SignalScale float64 `json:"signal_scale"` // k in eps*(1-k*signal)
}

// DefaultConfig returns the stock hyperparameters.
func DefaultConfig() Config {
	return Config{
		Alpha:       0.1,
		Gamma:       0.95,
		Epsilon:     0.1,
		EpsilonMin:  0.01,
		Decay:       0.995,
		SignalScale: 0.5,
	}
}

// Validate rejects configurations that would break learning.
func (c Config) Validate() error {
	if c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("alpha %v outside (0,1]", c.Alpha)
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("gamma %v outside [0,1]", c.Gamma)
	}
	if c.Epsilon < 0 || c.Epsilon > 1 {
		return fmt.Errorf("epsilon %v outside [0,1]", c.Epsilon)
	}
	if c.EpsilonMin < 0 || c.EpsilonMin > c.Epsilon {
		return fmt.Errorf("epsilon_min %v outside [0, epsilon]", c.EpsilonMin)
	}
	if c.Decay <= 0 || c.Decay > 1 {
		return fmt.Errorf("decay %v outside (0,1]", c.Decay)
	}
	return nil
}

const rewardHistoryCap = 1000

// Strategist owns the value table, the exploration schedule, and the reward
// history. Safe for concurrent use.
type Strategist struct {
	cfg    Config
	table  *Table
	rng    RNG
	logger *slog.Logger

	mu              sync.Mutex // guards epsilon, counters, history
	epsilon         float64
	decisionCount   uint64
	rewards         []float64
	totalRewards    uint64
	snapshotVersion string
}

// Option configures a Strategist.
type Option func(*Strategist)

// WithRNG injects a randomness source, typically a DeterministicRNG in tests.
func WithRNG(r RNG) Option {
	return func(s *Strategist) { s.rng = r }
}

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Strategist) { s.logger = l }
}

// New builds a Strategist with the given hyperparameters.
func New(cfg Config, opts ...Option) (*Strategist, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("strategist config: %w", err)
	}
	s := &Strategist{
		cfg:             cfg,
		table:           NewTable(),
		rng:             NewDefaultRNG(),
		logger:          slog.Default(),
		epsilon:         cfg.Epsilon,
		snapshotVersion: SnapshotSchemaVersion,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Recommend picks a provider from candidates for the given state using
// ε-greedy selection. A present signal in [0,1] shifts the balance toward
// exploitation: effective ε = clamp(ε·(1−k·signal), ε_min, 1).
func (s *Strategist) Recommend(stateKey string, candidates []string, signal *float64) (string, contracts.ActionMetadata, error) {
	if len(candidates) == 0 {
		return "", contracts.ActionMetadata{}, contracts.ErrNoViableProviders
	}

	s.mu.Lock()
	effective := s.epsilon
	adjusted := false
	var sigVal float64
	if signal != nil {
		sigVal = clamp(*signal, 0, 1)
		effective = clamp(s.epsilon*(1-s.cfg.SignalScale*sigVal), s.cfg.EpsilonMin, 1)
		adjusted = true
	}
	s.decisionCount++
	count := s.decisionCount
	s.mu.Unlock()

	var (
		chosen string
		mode   contracts.SelectionMode
	)
	if s.rng.Float64() < effective {
		chosen = candidates[s.rng.Intn(len(candidates))]
		mode = contracts.ModeExplore
	} else {
		chosen, _ = s.table.ArgMax(stateKey, candidates)
		mode = contracts.ModeExploit
	}

	meta := contracts.ActionMetadata{
		StateKey:       stateKey,
		Mode:           mode,
		Epsilon:        effective,
		QValue:         s.table.Get(stateKey, chosen),
		DecisionCount:  count,
		Signal:         sigVal,
		SignalAdjusted: adjusted,
	}
	s.logger.Debug("recommendation",
		"state", stateKey, "provider", chosen, "mode", mode, "epsilon", effective)
	return chosen, meta, nil
}

// Update applies the temporal-difference rule
//
//	q ← q + α·(reward + γ·max_a q(next, a) − q)
//
// and returns the new value. An empty nextState is terminal: the future term
// is zero. Non-finite rewards are rejected without touching the table.
func (s *Strategist) Update(stateKey, providerID string, reward float64, nextState string) (float64, error) {
	if math.IsNaN(reward) || math.IsInf(reward, 0) {
		return 0, fmt.Errorf("reward %v for %s: %w", reward, providerID, contracts.ErrPoisonedReward)
	}

	s.mu.Lock()
	alpha, gamma := s.cfg.Alpha, s.cfg.Gamma
	s.mu.Unlock()

	future := 0.0
	if nextState != "" {
		future = s.table.MaxOver(nextState)
	}
	newQ := s.table.Apply(stateKey, providerID, func(q float64) float64 {
		return q + alpha*(reward+gamma*future-q)
	})

	s.mu.Lock()
	s.rewards = append(s.rewards, reward)
	if len(s.rewards) > rewardHistoryCap {
		s.rewards = s.rewards[len(s.rewards)-rewardHistoryCap:]
	}
	s.totalRewards++
	s.mu.Unlock()

	return newQ, nil
}

// DecayEpsilon shrinks ε one notch, bounded below by ε_min. Called exactly
// once per feedback event.
func (s *Strategist) DecayEpsilon() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epsilon = math.Max(s.cfg.EpsilonMin, s.epsilon*s.cfg.Decay)
	return s.epsilon
}

// Epsilon reports the current base exploration rate.
func (s *Strategist) Epsilon() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epsilon
}

// Value exposes a single table read.
func (s *Strategist) Value(stateKey, providerID string) float64 {
	return s.table.Get(stateKey, providerID)
}

// Stats summarizes the learning state.
type Stats struct {
	Epsilon       float64 `json:"epsilon"`
	DecisionCount uint64  `json:"decision_count"`
	States        int     `json:"states"`
	Entries       int     `json:"entries"`
	AvgReward100  float64 `json:"avg_reward_100"`
	TotalRewards  uint64  `json:"total_rewards"`
}

// Snapshot of current counters and table size.
func (s *Strategist) Stats() Stats {
	states, entries := s.table.Size()
	s.mu.Lock()
	defer s.mu.Unlock()

	window := s.rewards
	if len(window) > 100 {
		window = window[len(window)-100:]
	}
	avg := 0.0
	if len(window) > 0 {
		sum := 0.0
		for _, r := range window {
			sum += r
		}
		avg = sum / float64(len(window))
	}
	return Stats{
		Epsilon:       s.epsilon,
		DecisionCount: s.decisionCount,
		States:        states,
		Entries:       entries,
		AvgReward100:  avg,
		TotalRewards:  s.totalRewards,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
