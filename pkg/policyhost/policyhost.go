// Package policyhost evaluates a sandboxed declarative policy module per
// decision. The module sees {treaty, order, acc} and answers {allow, reason};
// the host owns the accumulator state (quota counters, nonce ledger) and the
// wall-clock cap. Any policy failure is a hard reject.
package policyhost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"
)

// ReasonTimeout is the reject reason when the module exceeds the wall-clock cap.
const ReasonTimeout = "policy_timeout"

const defaultWallClockCap = 100 * time.Millisecond

// Treaty is the standing agreement a tenant order is checked against.
type Treaty struct {
	TreatyID           string   `json:"treaty_id"`
	Regions            []string `json:"regions"`
	QuotaGPUHoursTotal uint32   `json:"quota_gpu_hours_total"`
	QuotaGPUHoursDaily uint32   `json:"quota_gpu_hours_daily_per_tenant"`
	MinReputation      int      `json:"min_reputation"`
}

// Order is one authorization request derived from a decision.
type Order struct {
	TenantID          string `json:"tenant_id"`
	Region            string `json:"region"`
	GPUHoursRequested uint32 `json:"gpu_hours_requested"`
	Nonce             string `json:"nonce"`
	SignatureB64      string `json:"signature_b64,omitempty"`
	TenantReputation  int    `json:"tenant_reputation"`
}

// Accumulators carry the treaty's consumption state between calls. The day
// string is YYYY-MM-DD; daily counters and the nonce ledger reset when it
// rolls over, the lifetime total does not.
type Accumulators struct {
	TreatyUsedTotal uint32            `json:"treaty_used_total"`
	Day             string            `json:"day"`
	PerTenantToday  map[string]uint32 `json:"per_tenant_today"`
	SeenNonces      map[string]bool   `json:"seen_nonces"`
}

func newAccumulators() Accumulators {
	return Accumulators{
		PerTenantToday: make(map[string]uint32),
		SeenNonces:     make(map[string]bool),
	}
}

func (a Accumulators) clone() Accumulators {
	out := a
	out.PerTenantToday = maps.Clone(a.PerTenantToday)
	out.SeenNonces = maps.Clone(a.SeenNonces)
	if out.PerTenantToday == nil {
		out.PerTenantToday = make(map[string]uint32)
	}
	if out.SeenNonces == nil {
		out.SeenNonces = make(map[string]bool)
	}
	return out
}

// Request is the JSON envelope handed to the module.
type Request struct {
	Treaty Treaty       `json:"treaty"`
	Order  Order        `json:"order"`
	Acc    Accumulators `json:"acc"`
}

// Decision is the module verdict.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
}

// Response is the module output. A module that consumed quota echoes the
// mutated accumulators; the host persists them verbatim.
type Response struct {
	Allow  bool          `json:"allow"`
	Reason string        `json:"reason"`
	Acc    *Accumulators `json:"acc,omitempty"`
}

// Module evaluates one serialized Request and returns a serialized Response.
// Implementations must be pure with respect to the host: the only state they
// may carry forward is what they echo in Response.Acc.
type Module interface {
	Authorize(ctx context.Context, input []byte) ([]byte, error)
	Close(ctx context.Context) error
}

// Host drives a Module with accumulator custody and the wall-clock cap.
type Host struct {
	module Module
	treaty Treaty
	cap    time.Duration
	log    *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	acc Accumulators
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithWallClockCap bounds a single module evaluation.
func WithWallClockCap(d time.Duration) HostOption {
	return func(h *Host) {
		if d > 0 {
			h.cap = d
		}
	}
}

// WithHostLogger sets the structured logger.
func WithHostLogger(l *slog.Logger) HostOption {
	return func(h *Host) { h.log = l }
}

// WithHostClock overrides the time source.
func WithHostClock(now func() time.Time) HostOption {
	return func(h *Host) { h.now = now }
}

// NewHost binds a module to a treaty.
func NewHost(module Module, treaty Treaty, opts ...HostOption) *Host {
	h := &Host{
		module: module,
		treaty: treaty,
		cap:    defaultWallClockCap,
		log:    slog.Default(),
		now:    time.Now,
		acc:    newAccumulators(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Authorize evaluates one order. Evaluations serialize on the host lock so
// concurrent orders cannot reuse a nonce or double-spend quota; the cap bounds
// how long the lock is held. A cap overrun returns a deny with reason
// policy_timeout and a nil error: it is a decision, not a malfunction. Module
// malfunctions (trap, unparsable output) deny too, with the error attached
// for the operator.
func (h *Host) Authorize(ctx context.Context, order Order) (Decision, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	today := h.now().UTC().Format("2006-01-02")
	if h.acc.Day != today {
		h.acc.Day = today
		h.acc.PerTenantToday = make(map[string]uint32)
		h.acc.SeenNonces = make(map[string]bool)
	}

	input, err := json.Marshal(Request{Treaty: h.treaty, Order: order, Acc: h.acc})
	if err != nil {
		return Decision{Allow: false, Reason: "policy input encoding failed"}, fmt.Errorf("marshal policy request: %w", err)
	}

	mctx, cancel := context.WithTimeout(ctx, h.cap)
	defer cancel()

	out, err := h.module.Authorize(mctx, input)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || mctx.Err() != nil {
			h.log.Warn("policy module exceeded wall-clock cap", "treaty", h.treaty.TreatyID, "cap", h.cap)
			return Decision{Allow: false, Reason: ReasonTimeout}, nil
		}
		h.log.Error("policy module failed", "treaty", h.treaty.TreatyID, "error", err)
		return Decision{Allow: false, Reason: "policy execution error"}, err
	}

	var resp Response
	if err := json.Unmarshal(out, &resp); err != nil {
		h.log.Error("policy module returned unparsable output", "treaty", h.treaty.TreatyID, "error", err)
		return Decision{Allow: false, Reason: "policy output unparsable"}, fmt.Errorf("decode policy response: %w", err)
	}

	if resp.Allow && resp.Acc != nil {
		h.acc = resp.Acc.clone()
	}
	return Decision{Allow: resp.Allow, Reason: resp.Reason}, nil
}

// AccumulatorSnapshot returns a copy of the current accumulator state.
func (h *Host) AccumulatorSnapshot() Accumulators {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.acc.clone()
}

// RestoreAccumulators replaces the accumulator state, e.g. after a restart.
func (h *Host) RestoreAccumulators(acc Accumulators) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.acc = acc.clone()
}

// Close releases the underlying module.
func (h *Host) Close(ctx context.Context) error {
	return h.module.Close(ctx)
}
