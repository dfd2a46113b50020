// Package fleet holds the dynamic provider registry and the scenario
// controller that perturbs it. The registry is the single source of truth for
// provider effective state and remaining capacity; all readers get consistent
// snapshot copies.
package fleet

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

// Registry errors.
var (
	ErrUnknownProvider      = errors.New("unknown provider")
	ErrInsufficientCapacity = errors.New("insufficient capacity")
)

type entry struct {
	p         contracts.Provider
	remaining float64
}

// Registry tracks the provider fleet, its overlays, and per-provider
// remaining capacity.
type Registry struct {
	log *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

// NewRegistry builds an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		log:     slog.Default(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces a provider. Zero-valued overlays are normalized to
// the identity overlay. Re-registering keeps consumed capacity: remaining is
// clamped into the new effective capacity rather than refilled.
func (r *Registry) Register(p contracts.Provider) error {
	if p.ID == "" {
		return fmt.Errorf("%w: provider id required", contracts.ErrInvalidInput)
	}
	if (p.Overlay == contracts.Overlay{}) {
		p.Overlay = contracts.IdentityOverlay()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entries[p.ID]; ok {
		remaining := math.Min(prev.remaining, p.EffectiveCapacity())
		r.entries[p.ID] = &entry{p: p, remaining: remaining}
		return nil
	}
	r.entries[p.ID] = &entry{p: p, remaining: p.EffectiveCapacity()}
	r.log.Info("provider registered", "provider", p.ID, "regions", p.Regions, "capacity", p.Capacity)
	return nil
}

// Remove drops a provider. Returns false when the id is unknown.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// Len reports the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// snapshot clones the provider for external readers. The clone quotes live
// remaining capacity as its capacity, so effective-capacity checks gate on
// what is actually left.
func (e *entry) snapshot() contracts.Provider {
	p := e.p
	p.Regions = slices.Clone(p.Regions)
	p.Prices = maps.Clone(p.Prices)
	p.CreditsPerHour = maps.Clone(p.CreditsPerHour)
	p.Capacity = e.remaining
	p.Overlay.CapacityMult = 1
	return p
}

// Get returns a snapshot of one provider.
func (r *Registry) Get(id string) (contracts.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return contracts.Provider{}, false
	}
	return e.snapshot(), true
}

// Active returns snapshots of every active provider, sorted by id.
func (r *Registry) Active() []*contracts.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*contracts.Provider, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.p.Active {
			continue
		}
		p := e.snapshot()
		out = append(out, &p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Remaining reports the provider's unreserved capacity.
func (r *Registry) Remaining(id string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return 0, false
	}
	return e.remaining, true
}

// Reserve consumes capacity for a dispatch. The reservation is all-or-nothing.
func (r *Registry) Reserve(id string, hours float64) error {
	if hours < 0 {
		return fmt.Errorf("%w: negative reservation", contracts.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	if e.remaining < hours {
		return fmt.Errorf("%w: %s has %.2f of %.2f requested", ErrInsufficientCapacity, id, e.remaining, hours)
	}
	e.remaining -= hours
	return nil
}

// Release returns previously reserved capacity, clamped into the effective
// capacity so scenario shrinks are respected.
func (r *Registry) Release(id string, hours float64) {
	if hours <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return
	}
	e.remaining = math.Min(e.remaining+hours, e.p.EffectiveCapacity())
}

// Replenish refills every provider to its effective capacity. The daemon runs
// this on the replenish interval; capacity is quoted per interval.
func (r *Registry) Replenish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.remaining = e.p.EffectiveCapacity()
	}
}

// SetActive flips a provider's availability. Returns false for unknown ids.
func (r *Registry) SetActive(id string, active bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.p.Active = active
	return true
}

// MutateOverlay applies fn to the provider's overlay under the registry lock.
// Capacity headroom follows the overlay: growth adds the difference, shrink
// clamps remaining down. Returns false for unknown ids.
func (r *Registry) MutateOverlay(id string, fn func(*contracts.Overlay)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	before := e.p.EffectiveCapacity()
	fn(&e.p.Overlay)
	after := e.p.EffectiveCapacity()
	if after > before {
		e.remaining += after - before
	} else if e.remaining > after {
		e.remaining = after
	}
	return true
}

// HeuristicScore is the advisory weighted score for one provider under the
// tenant's weights: price 1/p, latency 1/l, reputation r/100, availability
// remaining/capacity. Recorded in decision metadata; selection itself is the
// strategist's.
func (r *Registry) HeuristicScore(id string, wctx *contracts.WorkloadContext) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return 0, false
	}
	acc := wctx.RequestedAccelerator()
	price := e.p.EffectivePrice(acc)
	latency := e.p.EffectiveLatencyMS()
	rep := e.p.EffectiveReputation()
	avail := e.remaining / math.Max(1e-6, e.p.EffectiveCapacity())
	w := wctx.EffectiveWeights()
	score := w.Price/math.Max(price, 1e-6) +
		w.Latency/math.Max(latency, 1e-6) +
		w.Reputation*rep/100 +
		w.Availability*avail
	return score, true
}

// Stats summarizes the fleet for status surfaces.
type Stats struct {
	Providers      int     `json:"providers"`
	Active         int     `json:"active"`
	RemainingHours float64 `json:"remaining_hours"`
}

// Stats returns current fleet counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{Providers: len(r.entries)}
	for _, e := range r.entries {
		if e.p.Active {
			s.Active++
		}
		s.RemainingHours += e.remaining
	}
	return s
}
