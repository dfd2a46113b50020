package observability

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Operation names tracked against SLO targets.
const (
	OpDecide   = "decide"
	OpFeedback = "feedback"
	OpSync     = "sync"
)

// SLOTarget states what an operation owes its callers over a rolling window.
type SLOTarget struct {
	Operation   string        `json:"operation"`
	LatencyP99  time.Duration `json:"latency_p99"`
	SuccessRate float64       `json:"success_rate"` // 0 to 1
	Window      time.Duration `json:"window"`
}

// SLOStatus reports current compliance for one operation.
type SLOStatus struct {
	Operation       string  `json:"operation"`
	CurrentP99MS    float64 `json:"current_p99_ms"`
	CurrentSuccess  float64 `json:"current_success_rate"`
	InCompliance    bool    `json:"in_compliance"`
	BurnRate        float64 `json:"burn_rate"`         // >1 burns budget faster than allowed
	ErrorBudgetLeft float64 `json:"error_budget_left"` // percent remaining
	Observations    int     `json:"observations"`
}

// DefaultTargets covers the three serving operations with routing-grade
// latency and availability floors.
func DefaultTargets() []SLOTarget {
	return []SLOTarget{
		{Operation: OpDecide, LatencyP99: 100 * time.Millisecond, SuccessRate: 0.995, Window: time.Hour},
		{Operation: OpFeedback, LatencyP99: 50 * time.Millisecond, SuccessRate: 0.999, Window: time.Hour},
		{Operation: OpSync, LatencyP99: 5 * time.Second, SuccessRate: 0.99, Window: time.Hour},
	}
}

type observation struct {
	latency time.Duration
	success bool
	at      time.Time
}

// SLOTracker keeps windowed observations per operation and computes burn
// rates against the configured targets. Observations outside every target's
// window are dropped on the next write, so memory stays bounded.
type SLOTracker struct {
	mu           sync.Mutex
	targets      map[string]SLOTarget
	observations map[string][]observation
	clock        func() time.Time
}

// NewSLOTracker builds a tracker with the given targets.
func NewSLOTracker(targets ...SLOTarget) *SLOTracker {
	t := &SLOTracker{
		targets:      make(map[string]SLOTarget),
		observations: make(map[string][]observation),
		clock:        time.Now,
	}
	for _, target := range targets {
		t.targets[target.Operation] = target
	}
	return t
}

// WithClock overrides the clock for tests.
func (t *SLOTracker) WithClock(clock func() time.Time) *SLOTracker {
	t.clock = clock
	return t
}

// SetTarget installs or replaces the target for an operation.
func (t *SLOTracker) SetTarget(target SLOTarget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets[target.Operation] = target
}

// Record adds one observation. Operations without a target are ignored.
func (t *SLOTracker) Record(operation string, latency time.Duration, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, ok := t.targets[operation]
	if !ok {
		return
	}

	now := t.clock()
	kept := t.observations[operation][:0]
	cutoff := now.Add(-target.Window)
	for _, obs := range t.observations[operation] {
		if obs.at.After(cutoff) {
			kept = append(kept, obs)
		}
	}
	t.observations[operation] = append(kept, observation{latency: latency, success: success, at: now})
}

// Status computes current compliance for one operation.
func (t *SLOTracker) Status(operation string) (SLOStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, ok := t.targets[operation]
	if !ok {
		return SLOStatus{}, fmt.Errorf("no SLO target for operation %q", operation)
	}
	return t.status(target), nil
}

// Statuses reports every targeted operation, sorted by operation name.
func (t *SLOTracker) Statuses() []SLOStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]SLOStatus, 0, len(t.targets))
	for _, target := range t.targets {
		out = append(out, t.status(target))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

func (t *SLOTracker) status(target SLOTarget) SLOStatus {
	cutoff := t.clock().Add(-target.Window)
	var windowed []observation
	for _, obs := range t.observations[target.Operation] {
		if obs.at.After(cutoff) {
			windowed = append(windowed, obs)
		}
	}

	if len(windowed) == 0 {
		return SLOStatus{
			Operation:       target.Operation,
			InCompliance:    true,
			ErrorBudgetLeft: 100,
		}
	}

	successes := 0
	latencies := make([]float64, len(windowed))
	for i, obs := range windowed {
		if obs.success {
			successes++
		}
		latencies[i] = float64(obs.latency.Milliseconds())
	}
	successRate := float64(successes) / float64(len(windowed))

	sort.Float64s(latencies)
	idx := int(float64(len(latencies)) * 0.99)
	if idx >= len(latencies) {
		idx = len(latencies) - 1
	}
	p99 := latencies[idx]

	errorBudget := 1 - target.SuccessRate
	errorRate := 1 - successRate
	var burnRate, budgetLeft float64
	switch {
	case errorBudget > 0:
		burnRate = errorRate / errorBudget
		budgetLeft = math.Max(0, 100*(1-burnRate))
	case errorRate > 0:
		// A zero budget with any failure is fully burned.
		burnRate = math.Inf(1)
	default:
		budgetLeft = 100
	}

	return SLOStatus{
		Operation:       target.Operation,
		CurrentP99MS:    p99,
		CurrentSuccess:  successRate,
		InCompliance:    p99 <= float64(target.LatencyP99.Milliseconds()) && successRate >= target.SuccessRate,
		BurnRate:        burnRate,
		ErrorBudgetLeft: budgetLeft,
		Observations:    len(windowed),
	}
}
