package federation

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/aurora/pkg/canonicalize"
	"github.com/Mindburn-Labs/aurora/pkg/contracts"
	"github.com/Mindburn-Labs/aurora/pkg/merkle"
)

var mergeBase = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func eventRecord(id string, at time.Time, payload any) *contracts.MemoryRecord {
	rec, err := NewRecord(id, "decision", "router", "1", at, payload)
	if err != nil {
		panic(err)
	}
	return rec
}

func eventList(recs ...*contracts.MemoryRecord) []contracts.MemoryRecord {
	out := make([]contracts.MemoryRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, *r)
	}
	return out
}

func TestMergeUnionsDistinctIDs(t *testing.T) {
	left := eventList(
		eventRecord("m-1", mergeBase, map[string]any{"seq": 1}),
		eventRecord("m-2", mergeBase.Add(time.Minute), map[string]any{"seq": 2}),
	)
	right := eventList(
		eventRecord("m-3", mergeBase.Add(2*time.Minute), map[string]any{"seq": 3}),
	)

	merged, err := Merge(left, right, mergeBase.Add(time.Hour))
	require.NoError(t, err)

	assert.Len(t, merged.Records, 3)
	ids := make([]string, 0, 3)
	for _, rec := range merged.Records {
		ids = append(ids, rec.ID)
	}
	assert.ElementsMatch(t, []string{"m-1", "m-2", "m-3"}, ids)
	assert.Equal(t, 3, merged.Receipt.EventsReplayed)
}

func TestMergeDedupesByIDKeepingSmallerHash(t *testing.T) {
	a := eventRecord("m-1", mergeBase, map[string]any{"v": "alpha"})
	b := eventRecord("m-1", mergeBase, map[string]any{"v": "beta"})

	ha, err := merkle.LeafHash(a)
	require.NoError(t, err)
	hb, err := merkle.LeafHash(b)
	require.NoError(t, err)
	want := a
	if hb < ha {
		want = b
	}

	merged, err := Merge(eventList(a), eventList(b), mergeBase)
	require.NoError(t, err)

	require.Len(t, merged.Records, 1)
	assert.Equal(t, want.PayloadHash, merged.Records[0].PayloadHash)
}

func TestMergeDropsIdenticalCopies(t *testing.T) {
	rec := eventRecord("m-1", mergeBase, map[string]any{"v": 1})

	merged, err := Merge(eventList(rec), eventList(rec), mergeBase)
	require.NoError(t, err)

	assert.Len(t, merged.Records, 1)
	assert.Equal(t, 1, merged.Receipt.EventsReplayed)
}

func TestMergeIsCommutative(t *testing.T) {
	left := eventList(
		eventRecord("m-1", mergeBase, map[string]any{"v": "left"}),
		eventRecord("m-2", mergeBase.Add(time.Second), map[string]any{"v": 2}),
	)
	right := eventList(
		eventRecord("m-1", mergeBase, map[string]any{"v": "right"}),
		eventRecord("m-3", mergeBase.Add(2*time.Second), map[string]any{"v": 3}),
	)

	lr, err := Merge(left, right, mergeBase)
	require.NoError(t, err)
	rl, err := Merge(right, left, mergeBase)
	require.NoError(t, err)

	assert.Equal(t, lr.Receipt.MergedRoot, rl.Receipt.MergedRoot)
	assert.Equal(t, lr.Records, rl.Records)
	// The receipt heads swap with the argument order.
	assert.Equal(t, lr.Receipt.LeftRoot, rl.Receipt.RightRoot)
	assert.Equal(t, lr.Receipt.RightRoot, rl.Receipt.LeftRoot)
}

func TestMergeIsAssociative(t *testing.T) {
	a := eventList(
		eventRecord("m-1", mergeBase, map[string]any{"v": "a"}),
		eventRecord("m-2", mergeBase, map[string]any{"v": "a2"}),
	)
	b := eventList(
		eventRecord("m-2", mergeBase, map[string]any{"v": "b2"}),
		eventRecord("m-3", mergeBase, map[string]any{"v": "b3"}),
	)
	c := eventList(
		eventRecord("m-1", mergeBase, map[string]any{"v": "c1"}),
		eventRecord("m-4", mergeBase, map[string]any{"v": "c4"}),
	)

	ab, err := Merge(a, b, mergeBase)
	require.NoError(t, err)
	abc, err := Merge(ab.Records, c, mergeBase)
	require.NoError(t, err)

	bc, err := Merge(b, c, mergeBase)
	require.NoError(t, err)
	abc2, err := Merge(a, bc.Records, mergeBase)
	require.NoError(t, err)

	assert.Equal(t, abc.Receipt.MergedRoot, abc2.Receipt.MergedRoot)
	assert.Equal(t, abc.Records, abc2.Records)
}

func TestMergeOrdersRecordsByContentHash(t *testing.T) {
	left := eventList(
		eventRecord("m-1", mergeBase, map[string]any{"v": 1}),
		eventRecord("m-2", mergeBase, map[string]any{"v": 2}),
	)
	right := eventList(
		eventRecord("m-3", mergeBase, map[string]any{"v": 3}),
		eventRecord("m-4", mergeBase, map[string]any{"v": 4}),
	)

	merged, err := Merge(left, right, mergeBase)
	require.NoError(t, err)

	leaves := make([]string, 0, len(merged.Records))
	for i := range merged.Records {
		h, err := merkle.LeafHash(&merged.Records[i])
		require.NoError(t, err)
		leaves = append(leaves, h)
	}
	assert.True(t, sort.StringsAreSorted(leaves), "merged records must sort by content hash")
}

func TestMergeReceiptCarriesPolicyAndRoots(t *testing.T) {
	left := eventList(eventRecord("m-1", mergeBase, map[string]any{"v": 1}))
	right := eventList(eventRecord("m-2", mergeBase, map[string]any{"v": 2}))
	at := time.Date(2026, 3, 2, 8, 30, 0, 0, time.FixedZone("CET", 3600))

	merged, err := Merge(left, right, at)
	require.NoError(t, err)

	leftRoot, err := merkle.RecordsRoot(left)
	require.NoError(t, err)
	rightRoot, err := merkle.RecordsRoot(right)
	require.NoError(t, err)

	assert.Equal(t, MergePolicy, merged.Receipt.Policy)
	assert.Equal(t, leftRoot, merged.Receipt.LeftRoot)
	assert.Equal(t, rightRoot, merged.Receipt.RightRoot)
	assert.Equal(t, at.UTC(), merged.Receipt.MergedAt)
	assert.Equal(t, len(merged.Records), merged.Receipt.EventsReplayed)
}

func TestMergeOfEmptyLogs(t *testing.T) {
	merged, err := Merge(nil, nil, mergeBase)
	require.NoError(t, err)

	assert.Empty(t, merged.Records)
	assert.Equal(t, 0, merged.Receipt.EventsReplayed)
	assert.Equal(t, canonicalize.SumHex(nil), merged.Receipt.MergedRoot)
	assert.Equal(t, merged.Receipt.LeftRoot, merged.Receipt.RightRoot)
}
