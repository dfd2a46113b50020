package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

// Semantic convention attributes for routing telemetry.
var (
	AttrTenant      = attribute.Key("aurora.tenant")
	AttrWorkload    = attribute.Key("aurora.workload")
	AttrAccelerator = attribute.Key("aurora.accelerator")
	AttrRegion      = attribute.Key("aurora.region")

	AttrDecisionID = attribute.Key("aurora.decision.id")
	AttrProvider   = attribute.Key("aurora.provider")
	AttrMode       = attribute.Key("aurora.mode")
	AttrStateKey   = attribute.Key("aurora.state.key")

	AttrErrorKind = attribute.Key("aurora.error.kind")
	AttrPeer      = attribute.Key("aurora.federation.peer")
)

// DecideAttrs describes an incoming routing request.
func DecideAttrs(tenant string, wc contracts.WorkloadContext) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenant.String(tenant),
		AttrWorkload.String(string(wc.Workload)),
		AttrAccelerator.String(string(wc.RequestedAccelerator())),
		AttrRegion.String(wc.Region),
	}
}

// ChoiceAttrs describes a completed selection.
func ChoiceAttrs(decisionID, provider string, mode contracts.SelectionMode) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrDecisionID.String(decisionID),
		AttrProvider.String(provider),
		AttrMode.String(string(mode)),
	}
}

// FeedbackAttrs describes a reported outcome.
func FeedbackAttrs(decisionID string, success bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrDecisionID.String(decisionID),
		attribute.Bool("aurora.outcome.success", success),
	}
}

// SyncAttrs describes one federation pull from a peer.
func SyncAttrs(peer string, inserted, failed int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPeer.String(peer),
		attribute.Int("aurora.sync.inserted", inserted),
		attribute.Int("aurora.sync.failed", failed),
	}
}

// AddSpanEvent adds an event to the span in ctx, if any.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanError records err on the span in ctx. A nil err is a no-op.
func SetSpanError(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
