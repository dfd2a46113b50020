package contracts

// Overlay carries the dynamic perturbation applied on top of a provider's
// base attributes. The identity overlay has both multipliers at 1 and both
// deltas at 0; Registry normalizes zero-valued overlays on registration.
type Overlay struct {
	LatencyDeltaMS  float64 `json:"latency_delta_ms" yaml:"latency_delta_ms"`
	CapacityMult    float64 `json:"capacity_mult" yaml:"capacity_mult"`
	PriceMult       float64 `json:"price_mult" yaml:"price_mult"`
	ReputationDelta float64 `json:"reputation_delta" yaml:"reputation_delta"`
}

// IdentityOverlay returns the overlay that leaves effective values untouched.
func IdentityOverlay() Overlay {
	return Overlay{CapacityMult: 1, PriceMult: 1}
}

// Provider is one entry in the dynamic fleet. Base attributes change rarely;
// the overlay is rewritten by the scenario controller.
type Provider struct {
	ID             string                       `json:"id" yaml:"id"`
	Regions        []string                     `json:"regions" yaml:"regions"`
	Prices         map[AcceleratorClass]float64 `json:"prices" yaml:"prices"`                     // per accelerator-hour
	CreditsPerHour map[AcceleratorClass]float64 `json:"credits_per_hour" yaml:"credits_per_hour"` // billing units
	BaseLatencyMS  float64                      `json:"base_latency_ms" yaml:"base_latency_ms"`
	Capacity       float64                      `json:"capacity" yaml:"capacity"` // units per replenish interval
	Reputation     float64                      `json:"reputation" yaml:"reputation"`
	Active         bool                         `json:"active" yaml:"active"`
	Overlay        Overlay                      `json:"overlay" yaml:"overlay"`
}

// SupportsRegion reports whether the provider serves the given region. A
// provider listing "global" serves every region.
func (p *Provider) SupportsRegion(region string) bool {
	for _, r := range p.Regions {
		if r == region || r == "global" {
			return true
		}
	}
	return false
}

// SupportsAccelerator reports whether the provider offers the accelerator.
func (p *Provider) SupportsAccelerator(acc AcceleratorClass) bool {
	_, ok := p.Prices[acc]
	return ok
}

// EffectiveLatencyMS is the base latency shifted by the overlay, floored at 1ms.
func (p *Provider) EffectiveLatencyMS() float64 {
	l := p.BaseLatencyMS + p.Overlay.LatencyDeltaMS
	if l < 1 {
		return 1
	}
	return l
}

// EffectiveCapacity is the per-step capacity scaled by the overlay, floored at 0.
func (p *Provider) EffectiveCapacity() float64 {
	c := p.Capacity * p.Overlay.CapacityMult
	if c < 0 {
		return 0
	}
	return c
}

// DefaultPriceUSD is quoted for accelerators a provider does not price.
// Screening flags the unsupported accelerator separately; the high quote keeps
// unpriced offerings from looking cheap in permissive pools.
const DefaultPriceUSD = 10.0

// EffectivePrice is the accelerator price scaled by the overlay.
func (p *Provider) EffectivePrice(acc AcceleratorClass) float64 {
	base, ok := p.Prices[acc]
	if !ok {
		base = DefaultPriceUSD
	}
	return base * p.Overlay.PriceMult
}

// CreditsFor is the billing rate for the accelerator, defaulting to 1 credit
// per hour when unlisted.
func (p *Provider) CreditsFor(acc AcceleratorClass) float64 {
	if c, ok := p.CreditsPerHour[acc]; ok {
		return c
	}
	return 1.0
}

// EffectiveReputation is the reputation shifted by the overlay, clamped to [0,100].
func (p *Provider) EffectiveReputation() float64 {
	r := p.Reputation + p.Overlay.ReputationDelta
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return r
}
