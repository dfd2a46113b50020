package observability

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
	"github.com/Mindburn-Labs/aurora/pkg/router"
)

// Engine is the engine surface the decorator wraps.
type Engine interface {
	Decide(ctx context.Context, req router.DecideRequest) (router.DecideResponse, error)
	Feedback(ctx context.Context, req router.FeedbackRequest) (router.FeedbackResponse, error)
	Status(ctx context.Context) (router.StatusReport, error)
}

// InstrumentedEngine decorates an engine with spans, RED instruments,
// Prometheus observations and SLO bookkeeping. Any of the three sinks may be
// nil; the decorator skips what it was not given.
type InstrumentedEngine struct {
	next     Engine
	provider *Provider
	metrics  *Metrics
	slo      *SLOTracker
}

// Instrument wraps next. A nil provider, metrics or tracker disables that
// sink only.
func Instrument(next Engine, provider *Provider, metrics *Metrics, slo *SLOTracker) *InstrumentedEngine {
	return &InstrumentedEngine{next: next, provider: provider, metrics: metrics, slo: slo}
}

func (e *InstrumentedEngine) Decide(ctx context.Context, req router.DecideRequest) (router.DecideResponse, error) {
	start := time.Now()
	finish := func(error) {}
	if e.provider != nil {
		ctx, finish = e.provider.TrackOperation(ctx, "aurora.decide", DecideAttrs(req.Tenant, req.Context)...)
	}

	resp, err := e.next.Decide(ctx, req)
	elapsed := time.Since(start)

	if err == nil {
		AddSpanEvent(ctx, "provider.selected", ChoiceAttrs(resp.DecisionID, resp.Provider, resp.Metadata.Mode)...)
		if e.metrics != nil {
			e.metrics.ObserveDecide(resp.Metadata.Mode, elapsed.Seconds())
			if resp.Dispatch.LatencyMS > 0 {
				e.metrics.ObserveDispatch(resp.Provider, resp.Dispatch.LatencyMS/1000)
			}
		}
	} else if e.metrics != nil {
		e.metrics.ObserveError(OpDecide, contracts.KindOf(err))
	}
	if e.slo != nil {
		e.slo.Record(OpDecide, elapsed, err == nil)
	}
	finish(err)
	return resp, err
}

func (e *InstrumentedEngine) Feedback(ctx context.Context, req router.FeedbackRequest) (router.FeedbackResponse, error) {
	start := time.Now()
	finish := func(error) {}
	if e.provider != nil {
		ctx, finish = e.provider.TrackOperation(ctx, "aurora.feedback",
			FeedbackAttrs(req.DecisionID, req.Outcome.Success)...)
	}

	resp, err := e.next.Feedback(ctx, req)
	elapsed := time.Since(start)

	if err == nil {
		if e.metrics != nil {
			e.metrics.ObserveFeedback(elapsed.Seconds(), resp.Reward)
		}
	} else if e.metrics != nil {
		e.metrics.ObserveError(OpFeedback, contracts.KindOf(err))
	}
	if e.slo != nil {
		e.slo.Record(OpFeedback, elapsed, err == nil)
	}
	finish(err)
	return resp, err
}

func (e *InstrumentedEngine) Status(ctx context.Context) (router.StatusReport, error) {
	return e.next.Status(ctx)
}

var _ Engine = (*router.Engine)(nil)
