package federation

import (
	"fmt"
	"sort"
	"time"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
	"github.com/Mindburn-Labs/aurora/pkg/merkle"
)

// MergePolicy names the union algorithm baked into this package. Receipts
// carry it so a future algorithm change cannot silently mix with old ones.
const MergePolicy = "jcs-canonical-union-v1"

// Merged is the deterministic union of two event lists plus its receipt.
type Merged struct {
	Records []contracts.MemoryRecord
	Receipt contracts.MergeReceipt
}

type mergeEntry struct {
	rec  contracts.MemoryRecord
	hash string
}

// Merge unions left and right: dedupe by id keeping the lexicographically
// smaller content hash, sort by (content hash, timestamp, signer id), and
// root the result. The merged root is the same for Merge(L, R) and
// Merge(R, L), and chaining merges associates, so any peer gossip order
// converges.
func Merge(left, right []contracts.MemoryRecord, at time.Time) (Merged, error) {
	byID := make(map[string]mergeEntry, len(left)+len(right))
	for _, side := range [][]contracts.MemoryRecord{left, right} {
		for i := range side {
			rec := side[i]
			hash, err := merkle.LeafHash(&rec)
			if err != nil {
				return Merged{}, fmt.Errorf("merge: %w", err)
			}
			prev, seen := byID[rec.ID]
			if !seen || hash < prev.hash {
				byID[rec.ID] = mergeEntry{rec: rec, hash: hash}
			}
		}
	}

	entries := make([]mergeEntry, 0, len(byID))
	for _, e := range byID {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].hash != entries[j].hash {
			return entries[i].hash < entries[j].hash
		}
		if !entries[i].rec.Timestamp.Equal(entries[j].rec.Timestamp) {
			return entries[i].rec.Timestamp.Before(entries[j].rec.Timestamp)
		}
		return entries[i].rec.SignerID < entries[j].rec.SignerID
	})

	records := make([]contracts.MemoryRecord, 0, len(entries))
	leaves := make([]string, 0, len(entries))
	for _, e := range entries {
		records = append(records, e.rec)
		leaves = append(leaves, e.hash)
	}

	leftRoot, err := merkle.RecordsRoot(left)
	if err != nil {
		return Merged{}, fmt.Errorf("merge: left root: %w", err)
	}
	rightRoot, err := merkle.RecordsRoot(right)
	if err != nil {
		return Merged{}, fmt.Errorf("merge: right root: %w", err)
	}

	return Merged{
		Records: records,
		Receipt: contracts.MergeReceipt{
			LeftRoot:       leftRoot,
			RightRoot:      rightRoot,
			MergedRoot:     merkle.Root(leaves),
			EventsReplayed: len(records),
			Policy:         MergePolicy,
			MergedAt:       at.UTC(),
		},
	}, nil
}
