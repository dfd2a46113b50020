package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

func TestMemStorePutAndGet(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	rec := testRecord("m-1", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), `{"kind":"decision","action":"provider-1"}`)
	rec.Anchors = []contracts.Anchor{{Class: contracts.AnchorTSA, Ref: "tok-1", AnchoredAt: "2026-03-01T10:05:00Z"}}

	res, err := s.Put(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, PutInserted, res)

	got, err := s.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, rec.PayloadHash, got.PayloadHash)
	assert.JSONEq(t, string(rec.Payload), string(got.Payload))
	assert.Equal(t, rec.Anchors, got.Anchors)
	assert.False(t, got.Superseded)

	_, err = s.Get(ctx, "m-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStorePutDuplicateIsNoOp(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	rec := testRecord("m-1", time.Now().UTC(), `{"v":1}`)
	_, err := s.Put(ctx, rec)
	require.NoError(t, err)

	res, err := s.Put(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, PutDuplicate, res)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemStorePutRejectsMissingKey(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	_, err := s.Put(ctx, nil)
	assert.ErrorIs(t, err, contracts.ErrInvalidInput)

	_, err = s.Put(ctx, &contracts.MemoryRecord{PayloadHash: "abc"})
	assert.ErrorIs(t, err, contracts.ErrInvalidInput)

	_, err = s.Put(ctx, &contracts.MemoryRecord{ID: "m-1"})
	assert.ErrorIs(t, err, contracts.ErrInvalidInput)
}

func TestMemStoreConflictConvergesEitherArrivalOrder(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	strong := anchoredRecord("m-1", contracts.AnchorBTC, "tx-1", "2026-03-01T11:00:00Z", `{"v":"strong"}`)
	weak := anchoredRecord("m-1", contracts.AnchorEVM, "0x1", "2026-03-01T10:30:00Z", `{"v":"weak"}`)
	strong.Timestamp = at
	weak.Timestamp = at

	// Strong first: the later weak insert loses and is retained superseded.
	s := NewMemStore()
	ctx := context.Background()
	_, err := s.Put(ctx, strong)
	require.NoError(t, err)
	res, err := s.Put(ctx, weak)
	require.NoError(t, err)
	assert.Equal(t, PutResolvedKept, res)

	got, err := s.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, strong.PayloadHash, got.PayloadHash)

	// Weak first: the strong insert replaces it.
	s2 := NewMemStore()
	_, err = s2.Put(ctx, weak)
	require.NoError(t, err)
	res, err = s2.Put(ctx, strong)
	require.NoError(t, err)
	assert.Equal(t, PutResolvedReplaced, res)

	got2, err := s2.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, strong.PayloadHash, got2.PayloadHash)

	// Both stores retain both versions, winner first.
	for _, st := range []*MemStore{s, s2} {
		vs, err := st.Versions(ctx, "m-1")
		require.NoError(t, err)
		require.Len(t, vs, 2)
		assert.Equal(t, strong.PayloadHash, vs[0].PayloadHash)
		assert.False(t, vs[0].Superseded)
		assert.Equal(t, weak.PayloadHash, vs[1].PayloadHash)
		assert.True(t, vs[1].Superseded)
	}
}

func TestMemStoreListIDsStableOrderAndPaging(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// Inserted out of order; listing must come back (timestamp, id) sorted.
	for _, rec := range []*contracts.MemoryRecord{
		testRecord("m-c", base.Add(2*time.Hour), `{"n":3}`),
		testRecord("m-a", base, `{"n":1}`),
		testRecord("m-b", base, `{"n":2}`),
	} {
		_, err := s.Put(ctx, rec)
		require.NoError(t, err)
	}

	ids, err := s.ListIDs(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m-a", "m-b", "m-c"}, ids)

	page, err := s.ListIDs(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"m-b", "m-c"}, page)

	past, err := s.ListIDs(ctx, 10, 99)
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestMemStoreAllSkipsSupersededVersions(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	winner := anchoredRecord("m-1", contracts.AnchorBTC, "tx", "2026-03-01T01:00:00Z", `{"v":1}`)
	winner.Timestamp = at
	loser := testRecord("m-1", at, `{"v":2}`)
	other := testRecord("m-2", at.Add(time.Minute), `{"v":3}`)

	for _, rec := range []*contracts.MemoryRecord{loser, winner, other} {
		_, err := s.Put(ctx, rec)
		require.NoError(t, err)
	}

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, winner.PayloadHash, all[0].PayloadHash)
	assert.Equal(t, "m-2", all[1].ID)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{ActiveRecords: 2, SupersededRecords: 1}, st)
}

func TestMemStoreGetReturnsCopy(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	rec := testRecord("m-1", time.Now().UTC(), `{"v":1}`)
	_, err := s.Put(ctx, rec)
	require.NoError(t, err)

	got, err := s.Get(ctx, "m-1")
	require.NoError(t, err)
	got.Type = "tampered"
	got.Payload[0] = 'X'

	fresh, err := s.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, "decision", fresh.Type)
	assert.JSONEq(t, `{"v":1}`, string(fresh.Payload))
}
