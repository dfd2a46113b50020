//go:build property
// +build property

// Package memory_test contains property-based tests for conflict resolution
// order independence.
package memory_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/aurora/pkg/canonicalize"
	"github.com/Mindburn-Labs/aurora/pkg/contracts"
	"github.com/Mindburn-Labs/aurora/pkg/memory"
)

var anchorClasses = []contracts.AnchorClass{
	contracts.AnchorBTC,
	contracts.AnchorEVM,
	contracts.AnchorTSA,
	contracts.AnchorClass("other"),
}

// buildVersions derives conflicting versions of one id from generator seeds.
// Payloads differ per seed so every pair is a genuine conflict.
func buildVersions(seeds []int) []*contracts.MemoryRecord {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]*contracts.MemoryRecord, 0, len(seeds))
	for i, seed := range seeds {
		if seed < 0 {
			seed = -seed
		}
		payload := json.RawMessage(fmt.Sprintf(`{"variant":%d,"slot":%d}`, seed, i))
		hash, err := canonicalize.Hash(payload)
		if err != nil {
			panic(err)
		}
		rec := &contracts.MemoryRecord{
			ID:          "m-1",
			Timestamp:   base,
			Type:        "decision",
			Component:   "router",
			Version:     "1",
			PayloadHash: hash,
			Payload:     payload,
		}
		if seed%5 != 0 { // every fifth version stays unanchored
			rec.Anchors = []contracts.Anchor{{
				Class:      anchorClasses[seed%len(anchorClasses)],
				Ref:        fmt.Sprintf("ref-%d", seed%9),
				AnchoredAt: base.Add(time.Duration(seed%600) * time.Second).Format(time.RFC3339),
			}}
		}
		out = append(out, rec)
	}
	return out
}

// TestConflictWinnerOrderIndependence verifies arrival order never changes
// the surviving version.
// Property: Put(perm(versions)) yields the same active record for any perm
func TestConflictWinnerOrderIndependence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("conflict winner is arrival-order independent", prop.ForAll(
		func(seeds []int, rotate int) bool {
			if len(seeds) == 0 {
				return true
			}
			versions := buildVersions(seeds)
			if rotate < 0 {
				rotate = -rotate
			}
			shift := rotate % len(versions)
			rotated := append(append([]*contracts.MemoryRecord{}, versions[shift:]...), versions[:shift]...)

			ctx := context.Background()
			forward := memory.NewMemStore()
			for _, rec := range versions {
				if _, err := forward.Put(ctx, rec); err != nil {
					return false
				}
			}
			shuffled := memory.NewMemStore()
			for _, rec := range rotated {
				if _, err := shuffled.Put(ctx, rec); err != nil {
					return false
				}
			}

			a, err1 := forward.Get(ctx, "m-1")
			b, err2 := shuffled.Get(ctx, "m-1")
			if err1 != nil || err2 != nil {
				return false
			}
			return a.PayloadHash == b.PayloadHash
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

// TestPairwiseResolutionMatchesGlobalMinimum verifies folding the resolver
// over any arrival order picks the same winner as a full pairwise scan.
func TestPairwiseResolutionMatchesGlobalMinimum(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("fold equals global minimum", prop.ForAll(
		func(seeds []int) bool {
			if len(seeds) == 0 {
				return true
			}
			versions := buildVersions(seeds)

			best := versions[0]
			for _, rec := range versions[1:] {
				best = memory.ResolveConflict(best, rec)
			}
			for _, rec := range versions {
				if memory.ResolveConflict(best, rec) != best {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}
