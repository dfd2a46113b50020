package contracts

import (
	"time"
)

// Violation names one failed constraint check.
type Violation string

// Violation constants, in canonical set order.
const (
	ViolationPrice       Violation = "price"
	ViolationLatency     Violation = "latency"
	ViolationReputation  Violation = "reputation"
	ViolationRegion      Violation = "region"
	ViolationAccelerator Violation = "accelerator"
	ViolationCapacity    Violation = "capacity"
)

// AuditStatus classifies a validation result.
type AuditStatus string

// Audit status constants.
const (
	AuditApproved AuditStatus = "approved"
	AuditFlagged  AuditStatus = "flagged"
	AuditRejected AuditStatus = "rejected"
)

// AuditEntry is the per-validation record appended to the audit log. Candidate
// screening produces one entry per candidate; the decision's disposition is the
// single entry per decision id with Final set.
type AuditEntry struct {
	Timestamp  time.Time   `json:"timestamp"`
	DecisionID string      `json:"decision_id"`
	StateKey   string      `json:"state_key"`
	ProviderID string      `json:"provider_id,omitempty"`
	Status     AuditStatus `json:"status"`
	Final      bool        `json:"final,omitempty"`
	Violations []Violation `json:"violations,omitempty"`
	Note       string      `json:"note,omitempty"`
}
