package federation

import (
	"context"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
	"github.com/Mindburn-Labs/aurora/pkg/memory"
	"github.com/Mindburn-Labs/aurora/pkg/merkle"
)

// Projector summarizes the local memory log for peers: the merkle root over
// the active records in their canonical order, plus per-signer counts.
type Projector struct {
	nodeID  string
	store   memory.Store
	keyring *Keyring
	now     func() time.Time
}

// ProjectorOption customizes a Projector.
type ProjectorOption func(*Projector)

// WithProjectorKeyring makes projections carry a signature over the root.
func WithProjectorKeyring(k *Keyring) ProjectorOption {
	return func(p *Projector) { p.keyring = k }
}

// WithProjectorClock overrides the timestamp source.
func WithProjectorClock(now func() time.Time) ProjectorOption {
	return func(p *Projector) { p.now = now }
}

// NewProjector builds a projector over the node's record store.
func NewProjector(nodeID string, store memory.Store, opts ...ProjectorOption) *Projector {
	p := &Projector{nodeID: nodeID, store: store, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Projection computes the current summary. Two nodes holding the same active
// records report the same root regardless of how the records arrived.
func (p *Projector) Projection(ctx context.Context) (contracts.MemoryProjection, error) {
	records, err := p.store.All(ctx)
	if err != nil {
		return contracts.MemoryProjection{}, fmt.Errorf("projection: %w", err)
	}
	root, err := merkle.RecordsRoot(records)
	if err != nil {
		return contracts.MemoryProjection{}, fmt.Errorf("projection: %w", err)
	}

	var clock map[string]uint64
	for i := range records {
		if records[i].SignerID == "" {
			continue
		}
		if clock == nil {
			clock = make(map[string]uint64)
		}
		clock[records[i].SignerID]++
	}

	proj := contracts.MemoryProjection{
		NodeID:      p.nodeID,
		Timestamp:   p.now().UTC(),
		MerkleRoot:  root,
		MemoryCount: len(records),
		VectorClock: clock,
	}
	if p.keyring != nil {
		proj.Signatures = []string{p.keyring.SignBytes([]byte(root))}
	}
	return proj, nil
}
