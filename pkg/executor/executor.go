// Package executor dispatches routed workloads to providers under a uniform
// contract. It enforces per-provider deadlines and performs no retries:
// higher layers reissue under a fresh decision id.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

const defaultDispatchDeadline = 10 * time.Second

// DispatchRequest is the normalized outbound unit. DecisionID always travels
// with it so asynchronous feedback can be correlated.
type DispatchRequest struct {
	DecisionID    string                     `json:"decision_id"`
	Provider      string                     `json:"provider"`
	Tenant        string                     `json:"tenant"`
	Workload      contracts.WorkloadClass    `json:"workload"`
	Accelerator   contracts.AcceleratorClass `json:"accelerator"`
	Region        string                     `json:"region"`
	ResourceHours float64                    `json:"resource_hours"`
}

// DispatchResult is the provider's acknowledgement. Accepted dispatches carry
// a completion handle; failures carry a reason string.
type DispatchResult struct {
	Accepted    bool    `json:"accepted"`
	Handle      string  `json:"handle,omitempty"`
	QuotedPrice float64 `json:"quoted_price,omitempty"`
	CreditsCost float64 `json:"credits_cost,omitempty"`
	LatencyMS   float64 `json:"latency_ms,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

// Dispatcher sends one normalized request to one provider.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error)
}

// Executor binds dispatchers to providers and bounds every dispatch with a
// per-provider deadline.
type Executor struct {
	fallback    Dispatcher
	dispatchers map[string]Dispatcher
	deadline    time.Duration
	deadlines   map[string]time.Duration
	log         *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithDispatcher routes one provider through a dedicated dispatcher.
func WithDispatcher(providerID string, d Dispatcher) Option {
	return func(e *Executor) { e.dispatchers[providerID] = d }
}

// WithDefaultDeadline sets the deadline applied when a provider has no
// specific one.
func WithDefaultDeadline(d time.Duration) Option {
	return func(e *Executor) { e.deadline = d }
}

// WithProviderDeadline sets a per-provider deadline.
func WithProviderDeadline(providerID string, d time.Duration) Option {
	return func(e *Executor) { e.deadlines[providerID] = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// New builds an Executor. The fallback dispatcher serves providers without a
// dedicated one; it may be nil when every provider is wired explicitly.
func New(fallback Dispatcher, opts ...Option) *Executor {
	e := &Executor{
		fallback:    fallback,
		dispatchers: make(map[string]Dispatcher),
		deadline:    defaultDispatchDeadline,
		deadlines:   make(map[string]time.Duration),
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute dispatches the request within the provider's deadline. Exceeding
// the deadline yields a timeout result and an upstream_timeout error; other
// dispatcher failures surface as a dispatch_error result. Execute never
// retries.
func (e *Executor) Execute(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	if req.DecisionID == "" || req.Provider == "" {
		return DispatchResult{}, fmt.Errorf("%w: dispatch requires decision id and provider", contracts.ErrInvalidInput)
	}
	d := e.dispatchers[req.Provider]
	if d == nil {
		d = e.fallback
	}
	if d == nil {
		return DispatchResult{}, fmt.Errorf("%w: no dispatcher for provider %q", contracts.ErrInvalidInput, req.Provider)
	}

	deadline := e.deadline
	if pd, ok := e.deadlines[req.Provider]; ok {
		deadline = pd
	}
	dctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	res, err := d.Dispatch(dctx, req)
	elapsed := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(dctx.Err(), context.DeadlineExceeded) {
			e.log.Warn("dispatch timed out",
				"decision_id", req.DecisionID,
				"provider", req.Provider,
				"deadline", deadline.String())
			return DispatchResult{Accepted: false, Reason: "upstream_timeout"},
				fmt.Errorf("dispatch to %s: %w", req.Provider, contracts.ErrUpstreamTimeout)
		}
		return DispatchResult{Accepted: false, Reason: "dispatch_error"},
			fmt.Errorf("dispatch to %s: %w", req.Provider, err)
	}
	e.log.Debug("dispatched",
		"decision_id", req.DecisionID,
		"provider", req.Provider,
		"accepted", res.Accepted,
		"elapsed_ms", elapsed.Milliseconds())
	return res, nil
}
