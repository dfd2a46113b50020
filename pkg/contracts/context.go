package contracts

// WorkloadClass identifies the broad category of a tenant workload.
type WorkloadClass string

// Workload class constants.
const (
	WorkloadLLMInference WorkloadClass = "llm_inference"
	WorkloadLLMTraining  WorkloadClass = "llm_training"
	WorkloadRendering    WorkloadClass = "rendering"
	WorkloadGeneral      WorkloadClass = "general"
)

// AcceleratorClass identifies a GPU family.
type AcceleratorClass string

// Accelerator class constants.
const (
	AcceleratorA100    AcceleratorClass = "a100"
	AcceleratorH100    AcceleratorClass = "h100"
	AcceleratorA6000   AcceleratorClass = "a6000"
	AcceleratorRTX4090 AcceleratorClass = "rtx4090"
	AcceleratorT4      AcceleratorClass = "t4"
	AcceleratorL40     AcceleratorClass = "l40"
)

// Constraints are the tenant-supplied hard bounds evaluated per candidate.
// Zero values mean "unconstrained" for the numeric fields and "any" for the
// categorical ones.
type Constraints struct {
	MaxPrice            float64          `json:"max_price,omitempty"`
	MaxLatencyMS        float64          `json:"max_latency_ms,omitempty"`
	MinReputation       float64          `json:"min_reputation,omitempty"`
	RequiredRegion      string           `json:"required_region,omitempty"`
	RequiredAccelerator AcceleratorClass `json:"required_accelerator,omitempty"`
}

// Weights are the tenant policy weights over scoring dimensions. They are
// advisory: the strategist learns its own values, but the heuristic score
// recorded in decision metadata uses them.
type Weights struct {
	Price        float64 `json:"price"`
	Latency      float64 `json:"latency"`
	Reputation   float64 `json:"reputation"`
	Availability float64 `json:"availability"`
}

// DefaultWeights returns the stock weighting used when a tenant supplies none.
func DefaultWeights() Weights {
	return Weights{Price: 0.35, Latency: 0.30, Reputation: 0.20, Availability: 0.15}
}

// WorkloadContext is the immutable per-request description of what the tenant
// wants to run. It is captured verbatim into the decision trace.
type WorkloadContext struct {
	Workload          WorkloadClass    `json:"workload"`
	Accelerator       AcceleratorClass `json:"accelerator"`
	Region            string           `json:"region"`
	ResourceHours     float64          `json:"resource_hours"`
	CPUCores          int              `json:"cpu_cores,omitempty"`
	Memory            string           `json:"memory,omitempty"` // free-form, e.g. "32Gi"
	ExpectedLatencyMS float64          `json:"expected_latency_ms,omitempty"`
	Constraints       Constraints      `json:"constraints"`
	Weights           Weights          `json:"weights"`
}

// RequestedAccelerator resolves the accelerator the tenant is asking for: an
// explicit constraint wins over the workload hint.
func (c *WorkloadContext) RequestedAccelerator() AcceleratorClass {
	if c.Constraints.RequiredAccelerator != "" {
		return c.Constraints.RequiredAccelerator
	}
	return c.Accelerator
}

// EffectiveWeights returns the tenant weights, falling back to the defaults
// when none were supplied.
func (c *WorkloadContext) EffectiveWeights() Weights {
	if (c.Weights == Weights{}) {
		return DefaultWeights()
	}
	return c.Weights
}
