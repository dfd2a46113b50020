package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

// EventType names a fleet perturbation.
type EventType string

// Scenario event types.
const (
	EventOutage         EventType = "outage"
	EventLatencySpike   EventType = "latency_spike"
	EventCapacitySurge  EventType = "capacity_surge"
	EventPriceSpike     EventType = "price_spike"
	EventReputationDrop EventType = "reputation_drop"
)

// defaultEventDuration bounds events that omit a duration.
const defaultEventDuration = 60 * time.Second

// Duration wraps time.Duration so scenario files can write "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Event is one timed perturbation. After is relative to controller start;
// when Duration elapses the effect is reversed.
type Event struct {
	Provider   string    `json:"provider" yaml:"provider"`
	Type       EventType `json:"event" yaml:"event"`
	After      Duration  `json:"after" yaml:"after"`
	Duration   Duration  `json:"duration,omitempty" yaml:"duration,omitempty"`
	DeltaMS    float64   `json:"delta_ms,omitempty" yaml:"delta_ms,omitempty"`
	Multiplier float64   `json:"multiplier,omitempty" yaml:"multiplier,omitempty"`
	Delta      float64   `json:"delta,omitempty" yaml:"delta,omitempty"`
}

// ActiveEffect is an applied event awaiting reversal.
type ActiveEffect struct {
	Event     Event     `json:"event"`
	AppliedAt time.Time `json:"applied_at"`
	ExpireAt  time.Time `json:"expire_at"`
}

// Controller applies scenario events to the registry and reverses them when
// they expire. A single controller owns fleet perturbation; run exactly one.
type Controller struct {
	reg *Registry
	log *slog.Logger
	now func() time.Time

	mu      sync.Mutex
	started time.Time
	pending []Event
	active  []ActiveEffect
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithControllerLogger sets the structured logger.
func WithControllerLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) { c.log = l }
}

// WithControllerClock overrides the time source.
func WithControllerClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// NewController builds a controller over the registry with a scheduled
// scenario. The scenario may be empty; Inject still works.
func NewController(reg *Registry, scenario []Event, opts ...ControllerOption) *Controller {
	c := &Controller{
		reg:     reg,
		log:     slog.Default(),
		now:     time.Now,
		pending: append([]Event(nil), scenario...),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Tick applies events that have come due and reverses effects that have
// expired. The schedule clock starts at the first Tick.
func (c *Controller) Tick() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started.IsZero() {
		c.started = now
	}

	kept := c.active[:0]
	for _, eff := range c.active {
		if now.Before(eff.ExpireAt) {
			kept = append(kept, eff)
			continue
		}
		c.reverse(eff.Event)
	}
	c.active = kept

	remaining := c.pending[:0]
	for _, ev := range c.pending {
		if now.Before(c.started.Add(time.Duration(ev.After))) {
			remaining = append(remaining, ev)
			continue
		}
		c.apply(ev, now)
	}
	c.pending = remaining
}

// Inject applies an event immediately, ignoring its After offset.
func (c *Controller) Inject(ev Event) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apply(ev, now)
}

// ActiveEffects returns currently applied effects.
func (c *Controller) ActiveEffects() []ActiveEffect {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ActiveEffect(nil), c.active...)
}

// Run ticks on the given interval until the context ends.
func (c *Controller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

func (c *Controller) apply(ev Event, now time.Time) {
	if (ev.Type == EventCapacitySurge || ev.Type == EventPriceSpike) && ev.Multiplier <= 0 {
		c.log.Warn("scenario event with non-positive multiplier ignored", "type", string(ev.Type), "provider", ev.Provider)
		return
	}

	applied := true
	switch ev.Type {
	case EventOutage:
		applied = c.reg.SetActive(ev.Provider, false)
	case EventLatencySpike:
		applied = c.reg.MutateOverlay(ev.Provider, func(o *contracts.Overlay) {
			o.LatencyDeltaMS += ev.DeltaMS
		})
	case EventCapacitySurge:
		applied = c.reg.MutateOverlay(ev.Provider, func(o *contracts.Overlay) {
			o.CapacityMult *= ev.Multiplier
		})
	case EventPriceSpike:
		applied = c.reg.MutateOverlay(ev.Provider, func(o *contracts.Overlay) {
			o.PriceMult *= ev.Multiplier
		})
	case EventReputationDrop:
		applied = c.reg.MutateOverlay(ev.Provider, func(o *contracts.Overlay) {
			o.ReputationDelta += ev.Delta
		})
	default:
		c.log.Warn("unknown scenario event type", "type", string(ev.Type), "provider", ev.Provider)
		return
	}
	if !applied {
		c.log.Warn("scenario event for unknown provider", "type", string(ev.Type), "provider", ev.Provider)
		return
	}

	dur := time.Duration(ev.Duration)
	if dur <= 0 {
		dur = defaultEventDuration
	}
	c.active = append(c.active, ActiveEffect{Event: ev, AppliedAt: now, ExpireAt: now.Add(dur)})
	c.log.Info("scenario event applied",
		"type", string(ev.Type),
		"provider", ev.Provider,
		"expires_in", dur.String())
}

func (c *Controller) reverse(ev Event) {
	switch ev.Type {
	case EventOutage:
		c.reg.SetActive(ev.Provider, true)
	case EventLatencySpike:
		c.reg.MutateOverlay(ev.Provider, func(o *contracts.Overlay) {
			o.LatencyDeltaMS -= ev.DeltaMS
		})
	case EventCapacitySurge:
		c.reg.MutateOverlay(ev.Provider, func(o *contracts.Overlay) {
			o.CapacityMult /= ev.Multiplier
		})
	case EventPriceSpike:
		c.reg.MutateOverlay(ev.Provider, func(o *contracts.Overlay) {
			o.PriceMult /= ev.Multiplier
		})
	case EventReputationDrop:
		c.reg.MutateOverlay(ev.Provider, func(o *contracts.Overlay) {
			o.ReputationDelta -= ev.Delta
		})
	}
	c.log.Info("scenario event reversed", "type", string(ev.Type), "provider", ev.Provider)
}
