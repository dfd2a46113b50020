package contracts

import (
	"encoding/json"
	"time"
)

// AnchorClass is the trust domain of an external attestation. Lower numeric
// priority wins conflicts.
type AnchorClass string

// Anchor class constants.
const (
	AnchorBTC AnchorClass = "btc"
	AnchorEVM AnchorClass = "evm"
	AnchorTSA AnchorClass = "tsa"
)

// AnchorPriority maps anchor classes to their total order. Unknown classes
// rank after every known one.
func AnchorPriority(c AnchorClass) int {
	switch c {
	case AnchorBTC:
		return 0
	case AnchorEVM:
		return 1
	case AnchorTSA:
		return 2
	default:
		return 3
	}
}

// Anchor pins a record's content to a trust domain. AnchoredAt is kept as the
// raw string the anchoring tool produced; consumers parse it permissively.
type Anchor struct {
	Class      AnchorClass `json:"class"`
	Ref        string      `json:"ref"` // tx hash, token, or receipt reference
	AnchoredAt string      `json:"anchored_at,omitempty"`
}

// MemoryRecord is one self-describing event in the federation log.
// ID is globally unique; two records sharing an id with different payload
// hashes are a conflict.
type MemoryRecord struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	Type        string          `json:"type"`
	Component   string          `json:"component"`
	Version     string          `json:"version"`
	PayloadHash string          `json:"payload_hash"` // hex SHA-256 of canonical payload
	Signature   string          `json:"signature,omitempty"`
	SignerID    string          `json:"signer_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	MerkleRoot  string          `json:"merkle_root,omitempty"` // root known at write time
	Anchors     []Anchor        `json:"anchors,omitempty"`
	Superseded  bool            `json:"superseded,omitempty"`
}

// MemoryProjection summarizes one node's log for federation reconciliation.
type MemoryProjection struct {
	NodeID      string            `json:"node_id"`
	Timestamp   time.Time         `json:"timestamp"`
	MerkleRoot  string            `json:"merkle_root"`
	MemoryCount int               `json:"memory_count"`
	Signatures  []string          `json:"signatures,omitempty"`
	VectorClock map[string]uint64 `json:"vector_clock,omitempty"`
}

// MergeReceipt records one deterministic union of two event logs.
type MergeReceipt struct {
	LeftRoot       string    `json:"left_root"`
	RightRoot      string    `json:"right_root"`
	MergedRoot     string    `json:"merged_root"`
	EventsReplayed int       `json:"events_replayed"`
	Policy         string    `json:"policy"`
	MergedAt       time.Time `json:"merged_at"`
}
