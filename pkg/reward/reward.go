// Package reward turns an observed outcome into the scalar that drives the
// value-table update. The function is pure and its output is always finite.
package reward

import (
	"fmt"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

// Calibration constants. The failure penalty is sized so a single failure
// outweighs several successful runs.
const (
	SuccessBonus   = 10.0
	FailurePenalty = 20.0
	LatencyRefMS   = 500.0
	ReputationMax  = 100.0
)

// Breakdown itemizes the reward terms for explainability.
type Breakdown struct {
	SuccessTerm    float64 `json:"success_term"`
	CostTerm       float64 `json:"cost_term"`
	LatencyTerm    float64 `json:"latency_term"`
	ReputationTerm float64 `json:"reputation_term"`
	Total          float64 `json:"total"`
}

// String renders the breakdown for human consumption.
func (b Breakdown) String() string {
	return fmt.Sprintf("success=%+.2f cost=%+.2f latency=%+.2f reputation=%+.2f total=%+.2f",
		b.SuccessTerm, b.CostTerm, b.LatencyTerm, b.ReputationTerm, b.Total)
}

// Compute maps an outcome to its scalar reward.
func Compute(out *contracts.Outcome) float64 {
	return Explain(out).Total
}

// Explain computes the reward together with its per-term breakdown.
//
//	reward = success_term - actual_cost - min(1, latency/ref) + reputation/max
func Explain(out *contracts.Outcome) Breakdown {
	b := Breakdown{}

	if out.Success {
		b.SuccessTerm = SuccessBonus
	} else {
		b.SuccessTerm = -FailurePenalty
	}

	b.CostTerm = -out.ActualCost

	penalty := out.ActualLatencyMS / LatencyRefMS
	if penalty > 1 {
		penalty = 1
	}
	if penalty < 0 {
		penalty = 0
	}
	b.LatencyTerm = -penalty

	if out.ActualReputation != nil {
		b.ReputationTerm = *out.ActualReputation / ReputationMax
	}

	b.Total = b.SuccessTerm + b.CostTerm + b.LatencyTerm + b.ReputationTerm
	return b
}
