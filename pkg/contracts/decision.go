package contracts

import (
	"time"
)

// SelectionMode records whether the strategist explored or exploited.
type SelectionMode string

// Selection mode constants.
const (
	ModeExplore SelectionMode = "explore"
	ModeExploit SelectionMode = "exploit"
)

// TraceStatus is the lifecycle state of a decision trace.
type TraceStatus string

// Trace status constants.
const (
	TracePending   TraceStatus = "pending"   // created, awaiting feedback
	TraceCompleted TraceStatus = "completed" // outcome and reward written
	TracePoisoned  TraceStatus = "poisoned"  // rejected non-finite reward input
	TraceAbandoned TraceStatus = "abandoned" // persisted but never dispatched
)

// ActionMetadata explains how a provider was chosen. It is returned to the
// caller and stored verbatim in the trace.
type ActionMetadata struct {
	StateKey       string        `json:"state_key"`
	Mode           SelectionMode `json:"mode"`
	Epsilon        float64       `json:"epsilon"`
	QValue         float64       `json:"q_value"`
	DecisionCount  uint64        `json:"decision_count"`
	Signal         float64       `json:"signal,omitempty"`
	SignalAdjusted bool          `json:"signal_adjusted"`
	HeuristicScore float64       `json:"heuristic_score,omitempty"`
}

// Outcome is the observed result of a dispatched decision, reported once via
// feedback. ActualReputation is a pointer because providers do not always
// report it.
type Outcome struct {
	Success          bool     `json:"success"`
	ActualCost       float64  `json:"actual_cost"`
	ActualLatencyMS  float64  `json:"actual_latency_ms"`
	ActualReputation *float64 `json:"actual_reputation,omitempty"`
	ErrorReason      string   `json:"error_reason,omitempty"`
}

// DecisionTrace binds a decision id to everything needed to match feedback
// back after unbounded delay. Immutable once written except for the outcome
// tail, which is set exactly once.
type DecisionTrace struct {
	DecisionID string          `json:"decision_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Tenant     string          `json:"tenant"`
	StateKey   string          `json:"state_key"`
	Action     string          `json:"action"` // chosen provider id
	Metadata   ActionMetadata  `json:"metadata"`
	Context    WorkloadContext `json:"context"`
	Status     TraceStatus     `json:"status"`

	// Outcome tail. Nil until feedback arrives.
	Outcome    *Outcome   `json:"outcome,omitempty"`
	Reward     *float64   `json:"reward,omitempty"`
	FeedbackAt *time.Time `json:"feedback_at,omitempty"`
}

// Finalized reports whether the outcome tail has been written.
func (t *DecisionTrace) Finalized() bool {
	return t.Outcome != nil
}
