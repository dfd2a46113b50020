// Package merkle computes the content-addressed projection of a memory log.
// Peers compare roots before syncing; equal roots mean equal logs under the
// canonical projection, so the whole diff/fetch path can be skipped.
package merkle

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/aurora/pkg/canonicalize"
	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

// ProjectRecord reduces a record to its stable leaf fields. Volatile fields
// (anchor set, superseded flag, root-at-write-time) stay out so re-anchoring
// does not move the root.
func ProjectRecord(rec *contracts.MemoryRecord) map[string]any {
	var data any
	if len(rec.Payload) > 0 {
		data = json.RawMessage(rec.Payload)
	}
	return map[string]any{
		"id":        rec.ID,
		"timestamp": rec.Timestamp.UTC().Format(time.RFC3339Nano),
		"type":      rec.Type,
		"component": rec.Component,
		"version":   rec.Version,
		"hash":      rec.PayloadHash,
		"sig":       rec.Signature,
		"data":      data,
	}
}

// LeafHash is the hex SHA-256 of the canonical JSON projection of rec.
func LeafHash(rec *contracts.MemoryRecord) (string, error) {
	h, err := canonicalize.Hash(ProjectRecord(rec))
	if err != nil {
		return "", fmt.Errorf("merkle: leaf hash for %s: %w", rec.ID, err)
	}
	return h, nil
}

// Root folds hex leaf digests pairwise until one digest remains. Parents hash
// the concatenation of their children's hex forms. An odd trailing leaf pairs
// with itself. The empty log projects to the hash of the empty string.
func Root(leaves []string) string {
	if len(leaves) == 0 {
		return canonicalize.SumHex(nil)
	}
	level := make([]string, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			a := level[i]
			b := a
			if i+1 < len(level) {
				b = level[i+1]
			}
			next = append(next, canonicalize.SumHex([]byte(a+b)))
		}
		level = next
	}
	return level[0]
}

// RecordsRoot computes the root over records in the order given. Callers
// supply append order (or the canonical merge order for receipts).
func RecordsRoot(records []contracts.MemoryRecord) (string, error) {
	leaves := make([]string, 0, len(records))
	for i := range records {
		h, err := LeafHash(&records[i])
		if err != nil {
			return "", err
		}
		leaves = append(leaves, h)
	}
	return Root(leaves), nil
}
