package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/aurora/pkg/fleet"
)

// FleetDispatcher dispatches against the in-process provider registry,
// consuming real capacity. It backs simulations, tests, and deployments where
// providers are modeled rather than bridged.
type FleetDispatcher struct {
	reg *fleet.Registry
}

// NewFleetDispatcher builds a dispatcher over the registry.
func NewFleetDispatcher(reg *fleet.Registry) *FleetDispatcher {
	return &FleetDispatcher{reg: reg}
}

// Dispatch implements Dispatcher. Capacity is reserved all-or-nothing; a
// depleted or inactive provider yields a rejected result, not an error.
func (d *FleetDispatcher) Dispatch(_ context.Context, req DispatchRequest) (DispatchResult, error) {
	p, ok := d.reg.Get(req.Provider)
	if !ok {
		return DispatchResult{}, fmt.Errorf("%w: provider %q", fleet.ErrUnknownProvider, req.Provider)
	}
	if !p.Active {
		return DispatchResult{Accepted: false, Reason: "provider_inactive"}, nil
	}
	if err := d.reg.Reserve(req.Provider, req.ResourceHours); err != nil {
		if errors.Is(err, fleet.ErrInsufficientCapacity) {
			return DispatchResult{Accepted: false, Reason: "insufficient_capacity"}, nil
		}
		return DispatchResult{}, err
	}

	acc := req.Accelerator
	return DispatchResult{
		Accepted:    true,
		Handle:      uuid.NewString(),
		QuotedPrice: p.EffectivePrice(acc),
		CreditsCost: p.CreditsFor(acc) * req.ResourceHours,
		LatencyMS:   p.EffectiveLatencyMS(),
	}, nil
}

// Release returns capacity for a dispatch that was accepted but later
// abandoned before completion.
func (d *FleetDispatcher) Release(req DispatchRequest) {
	d.reg.Release(req.Provider, req.ResourceHours)
}

var (
	_ Dispatcher = (*FleetDispatcher)(nil)
	_ Dispatcher = (*HTTPDispatcher)(nil)
)
