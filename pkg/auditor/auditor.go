// Package auditor screens routing candidates against tenant constraints and
// maintains the compliance audit trail. It runs in strict mode (violating
// candidates leave the pool) or permissive mode (they stay, flagged).
package auditor

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Mindburn-Labs/aurora/pkg/audit"
	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

// Mode selects how constraint violations affect the candidate pool.
type Mode string

// Modes.
const (
	Strict     Mode = "strict"
	Permissive Mode = "permissive"
)

func (m Mode) valid() bool {
	return m == Strict || m == Permissive
}

// Candidate is one screened provider together with its validation result.
// Rejected candidates never appear in Screen results.
type Candidate struct {
	Provider   *contracts.Provider
	Status     contracts.AuditStatus
	Violations []contracts.Violation
}

// Auditor validates candidates and appends every validation to the audit sink.
type Auditor struct {
	mode  Mode
	sink  audit.Sink
	rules *AnomalyEngine
	log   *slog.Logger
	now   func() time.Time

	mu         sync.Mutex
	total      uint64
	approved   uint64
	flagged    uint64
	rejected   uint64
	violations map[contracts.Violation]uint64
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Auditor) { a.log = l }
}

// WithClock overrides the timestamp source for audit entries.
func WithClock(now func() time.Time) Option {
	return func(a *Auditor) { a.now = now }
}

// WithAnomalyEngine attaches operator-configured anomaly rules.
func WithAnomalyEngine(e *AnomalyEngine) Option {
	return func(a *Auditor) { a.rules = e }
}

// New builds an Auditor writing to the given sink.
func New(mode Mode, sink audit.Sink, opts ...Option) (*Auditor, error) {
	if !mode.valid() {
		return nil, fmt.Errorf("%w: unknown auditor mode %q", contracts.ErrInvalidInput, mode)
	}
	if sink == nil {
		return nil, fmt.Errorf("%w: auditor requires an audit sink", contracts.ErrInvalidInput)
	}
	a := &Auditor{
		mode:       mode,
		sink:       sink,
		log:        slog.Default(),
		now:        time.Now,
		violations: make(map[contracts.Violation]uint64),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Mode reports the configured screening mode.
func (a *Auditor) Mode() Mode { return a.mode }

// Check computes the violation set for one candidate without recording
// anything. Checks run in the canonical violation order so the set ordering is
// deterministic.
func (a *Auditor) Check(p *contracts.Provider, wctx *contracts.WorkloadContext) []contracts.Violation {
	var out []contracts.Violation
	c := wctx.Constraints
	acc := wctx.RequestedAccelerator()

	if c.MaxPrice > 0 && quotedPrice(p, acc) > c.MaxPrice {
		out = append(out, contracts.ViolationPrice)
	}
	if c.MaxLatencyMS > 0 && p.EffectiveLatencyMS() > c.MaxLatencyMS {
		out = append(out, contracts.ViolationLatency)
	}
	if c.MinReputation > 0 && p.EffectiveReputation() < c.MinReputation {
		out = append(out, contracts.ViolationReputation)
	}
	if c.RequiredRegion != "" && !p.SupportsRegion(c.RequiredRegion) {
		out = append(out, contracts.ViolationRegion)
	}
	if acc != "" && acc != "any" && !p.SupportsAccelerator(acc) {
		out = append(out, contracts.ViolationAccelerator)
	}
	if wctx.ResourceHours > 0 && p.EffectiveCapacity() < wctx.ResourceHours {
		out = append(out, contracts.ViolationCapacity)
	}
	return out
}

// Screen validates every candidate in the pool, appends one audit entry per
// candidate, and returns the candidates still eligible for selection. In
// strict mode violating candidates are dropped; in permissive mode they stay
// flagged. A sink failure fails the screen: decisions without a trail do not
// proceed.
func (a *Auditor) Screen(decisionID, stateKey string, pool []*contracts.Provider, wctx *contracts.WorkloadContext) ([]Candidate, error) {
	if wctx == nil {
		return nil, fmt.Errorf("%w: nil workload context", contracts.ErrInvalidInput)
	}
	eligible := make([]Candidate, 0, len(pool))
	for _, p := range pool {
		violations := a.Check(p, wctx)
		status := contracts.AuditApproved
		if len(violations) > 0 {
			if a.mode == Strict {
				status = contracts.AuditRejected
			} else {
				status = contracts.AuditFlagged
			}
		}
		entry := contracts.AuditEntry{
			Timestamp:  a.now().UTC(),
			DecisionID: decisionID,
			StateKey:   stateKey,
			ProviderID: p.ID,
			Status:     status,
			Violations: violations,
		}
		if err := a.append(entry); err != nil {
			return nil, err
		}
		if status != contracts.AuditRejected {
			eligible = append(eligible, Candidate{Provider: p, Status: status, Violations: violations})
		}
	}
	a.log.Debug("screened candidates",
		"decision_id", decisionID,
		"pool", len(pool),
		"eligible", len(eligible),
		"mode", string(a.mode))
	return eligible, nil
}

// RecordDecision appends the decision's single final-status entry for the
// chosen provider. Anomaly rules run against the selection metadata; matching
// rule names become notes without changing status. Status must not be
// rejected: a chosen action was by construction not screened out.
func (a *Auditor) RecordDecision(decisionID, providerID string, status contracts.AuditStatus, meta contracts.ActionMetadata) error {
	if status == contracts.AuditRejected {
		return fmt.Errorf("%w: chosen action cannot be recorded as rejected", contracts.ErrInvalidInput)
	}
	entry := contracts.AuditEntry{
		Timestamp:  a.now().UTC(),
		DecisionID: decisionID,
		StateKey:   meta.StateKey,
		ProviderID: providerID,
		Status:     status,
		Final:      true,
	}
	if a.rules != nil {
		entry.Note = joinNotes(a.rules.Evaluate(decisionRecord(providerID, meta)))
	}
	return a.append(entry)
}

// RecordRejection appends the final entry for a decision that produced no
// viable candidates. There is no chosen action, so the entry carries no
// provider id.
func (a *Auditor) RecordRejection(decisionID, stateKey, note string) error {
	return a.append(contracts.AuditEntry{
		Timestamp:  a.now().UTC(),
		DecisionID: decisionID,
		StateKey:   stateKey,
		Status:     contracts.AuditRejected,
		Final:      true,
		Note:       note,
	})
}

// ObserveOutcome feeds feedback results into the anomaly history so rules over
// loss streaks and last rewards see fresh data. No-op without an engine.
func (a *Auditor) ObserveOutcome(providerID string, reward float64, success bool) {
	if a.rules != nil {
		a.rules.Observe(providerID, reward, success)
	}
}

func (a *Auditor) append(entry contracts.AuditEntry) error {
	if err := a.sink.Append(entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	a.mu.Lock()
	a.total++
	switch entry.Status {
	case contracts.AuditApproved:
		a.approved++
	case contracts.AuditFlagged:
		a.flagged++
	case contracts.AuditRejected:
		a.rejected++
	}
	for _, v := range entry.Violations {
		a.violations[v]++
	}
	a.mu.Unlock()
	return nil
}

// Stats is a point-in-time summary of audit activity.
type Stats struct {
	Total         uint64                         `json:"total_entries"`
	Approved      uint64                         `json:"approved"`
	Flagged       uint64                         `json:"flagged"`
	Rejected      uint64                         `json:"rejected"`
	ApprovalRate  float64                        `json:"approval_rate"`
	FlaggedRate   float64                        `json:"flagged_rate"`
	RejectionRate float64                        `json:"rejection_rate"`
	Violations    map[contracts.Violation]uint64 `json:"violations"`
}

// Stats returns counters over every entry appended so far.
func (a *Auditor) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Stats{
		Total:      a.total,
		Approved:   a.approved,
		Flagged:    a.flagged,
		Rejected:   a.rejected,
		Violations: make(map[contracts.Violation]uint64, len(a.violations)),
	}
	for v, n := range a.violations {
		s.Violations[v] = n
	}
	if a.total > 0 {
		s.ApprovalRate = float64(a.approved) / float64(a.total)
		s.FlaggedRate = float64(a.flagged) / float64(a.total)
		s.RejectionRate = float64(a.rejected) / float64(a.total)
	}
	return s
}

// quotedPrice is the effective price the provider would charge for the
// request. Unconstrained accelerators quote the cheapest offering.
func quotedPrice(p *contracts.Provider, acc contracts.AcceleratorClass) float64 {
	if acc != "" && acc != "any" {
		return p.EffectivePrice(acc)
	}
	min := math.Inf(1)
	for a := range p.Prices {
		if q := p.EffectivePrice(a); q < min {
			min = q
		}
	}
	if math.IsInf(min, 1) {
		return 0
	}
	return min
}

func joinNotes(notes []string) string {
	switch len(notes) {
	case 0:
		return ""
	case 1:
		return notes[0]
	}
	joined := notes[0]
	for _, n := range notes[1:] {
		joined += "; " + n
	}
	return joined
}

func decisionRecord(providerID string, meta contracts.ActionMetadata) map[string]any {
	return map[string]any{
		"provider":       providerID,
		"state_key":      meta.StateKey,
		"mode":           string(meta.Mode),
		"epsilon":        meta.Epsilon,
		"q_value":        meta.QValue,
		"decision_count": int64(meta.DecisionCount),
		"signal":         meta.Signal,
	}
}
