// Package store persists decision traces. Traces are write-once: after Create
// only the outcome tail may be written, exactly once. Implementations: a
// crash-safe file log (primary), SQLite, Postgres, and an in-memory store for
// tests.
package store

import (
	"context"
	"time"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

// DecisionStore is the durable index of decision traces.
//
// Finalize performs a compare-and-set on the outcome tail: it succeeds only
// while the outcome is still unset. A second call returns
// contracts.ErrAlreadyFinalized; an unknown id returns
// contracts.ErrUnknownDecision.
type DecisionStore interface {
	// Create persists a new trace. A duplicate decision id is a conflict.
	Create(ctx context.Context, trace *contracts.DecisionTrace) error
	// Get returns the trace by decision id.
	Get(ctx context.Context, id string) (*contracts.DecisionTrace, error)
	// Finalize writes the outcome tail once and moves the trace to completed.
	Finalize(ctx context.Context, id string, outcome *contracts.Outcome, reward float64, at time.Time) error
	// MarkStatus updates the lifecycle status of a non-finalized trace.
	MarkStatus(ctx context.Context, id string, status contracts.TraceStatus) error
	// ScanByTime returns traces with timestamp in [from, to), oldest first.
	ScanByTime(ctx context.Context, from, to time.Time, limit int) ([]*contracts.DecisionTrace, error)
	// ScanByTenant returns the tenant's traces, oldest first.
	ScanByTenant(ctx context.Context, tenant string, limit int) ([]*contracts.DecisionTrace, error)
	// Delete removes a trace. Retention is explicit: nothing expires on its own.
	Delete(ctx context.Context, id string) error
	// Count reports the number of live traces.
	Count(ctx context.Context) (int64, error)
	// Close releases the underlying resources.
	Close() error
}

// Stats summarizes a store for status surfaces.
type Stats struct {
	TotalTraces  int64   `json:"total_traces"`
	WithFeedback int64   `json:"traces_with_feedback"`
	FeedbackRate float64 `json:"feedback_rate"`
}

// cloneTrace copies a trace so callers cannot mutate store state through the
// returned pointer.
func cloneTrace(t *contracts.DecisionTrace) *contracts.DecisionTrace {
	if t == nil {
		return nil
	}
	out := *t
	if t.Outcome != nil {
		o := *t.Outcome
		if t.Outcome.ActualReputation != nil {
			r := *t.Outcome.ActualReputation
			o.ActualReputation = &r
		}
		out.Outcome = &o
	}
	if t.Reward != nil {
		r := *t.Reward
		out.Reward = &r
	}
	if t.FeedbackAt != nil {
		at := *t.FeedbackAt
		out.FeedbackAt = &at
	}
	return &out
}
