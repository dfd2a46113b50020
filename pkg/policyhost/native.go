package policyhost

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
)

// NativeModule is the built-in treaty policy: the same checks a compiled
// policy module would run, evaluated in process. It is the default when no
// module binary is configured and the reference the sandbox tests compare
// against.
type NativeModule struct{}

// Authorize implements Module. Checks run in a fixed order and the first
// violation wins: region lock, nonce replay, reputation floor, per-tenant
// daily cap, treaty total cap.
func (NativeModule) Authorize(_ context.Context, input []byte) ([]byte, error) {
	var req Request
	if err := json.Unmarshal(input, &req); err != nil {
		return nil, fmt.Errorf("decode policy request: %w", err)
	}
	treaty, order := req.Treaty, req.Order
	acc := req.Acc.clone()

	deny := func(reason string) ([]byte, error) {
		return json.Marshal(Response{Allow: false, Reason: reason})
	}

	if !slices.Contains(treaty.Regions, order.Region) {
		return deny(fmt.Sprintf("region %s not allowed", order.Region))
	}
	if acc.SeenNonces[order.Nonce] {
		return deny("replay nonce")
	}
	if order.TenantReputation < treaty.MinReputation {
		return deny("low reputation")
	}
	usedToday := acc.PerTenantToday[order.TenantID]
	if usedToday+order.GPUHoursRequested > treaty.QuotaGPUHoursDaily {
		return deny("daily tenant cap exceeded")
	}
	if acc.TreatyUsedTotal+order.GPUHoursRequested > treaty.QuotaGPUHoursTotal {
		return deny("treaty total cap exceeded")
	}

	acc.PerTenantToday[order.TenantID] = usedToday + order.GPUHoursRequested
	acc.TreatyUsedTotal += order.GPUHoursRequested
	acc.SeenNonces[order.Nonce] = true

	return json.Marshal(Response{Allow: true, Reason: "ok", Acc: &acc})
}

// Close implements Module.
func (NativeModule) Close(context.Context) error { return nil }

var _ Module = NativeModule{}
