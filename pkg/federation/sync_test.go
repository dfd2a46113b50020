package federation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
	"github.com/Mindburn-Labs/aurora/pkg/memory"
	"github.com/Mindburn-Labs/aurora/pkg/merkle"
	"github.com/Mindburn-Labs/aurora/pkg/retry"
)

// noRetry keeps sync tests to a single attempt with no sleeping.
var noRetry = retry.Policy{}

type fakeSource struct {
	ids     []string
	recs    map[string]*contracts.MemoryRecord
	getErr  map[string]error
	listErr error
}

func (f fakeSource) ListIDs(context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.ids, nil
}

func (f fakeSource) GetRecord(_ context.Context, id string) (*contracts.MemoryRecord, error) {
	if err, ok := f.getErr[id]; ok {
		return nil, err
	}
	rec, ok := f.recs[id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	return rec, nil
}

// gatedSource blocks record fetches until every participant has both listed
// the remote ids and diffed them against the local store, forcing the
// conflicting pulls to race.
type gatedSource struct {
	fakeSource
	gate *sync.WaitGroup
}

func (g gatedSource) GetRecord(ctx context.Context, id string) (*contracts.MemoryRecord, error) {
	g.gate.Done()
	g.gate.Wait()
	return g.fakeSource.GetRecord(ctx, id)
}

type flakySource struct {
	fakeSource
	mu       sync.Mutex
	failures int
}

func (f *flakySource) ListIDs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("connection reset by peer")
	}
	return f.fakeSource.ListIDs(ctx)
}

func anchoredEvent(id string, class contracts.AnchorClass, ref string, payload any) *contracts.MemoryRecord {
	rec := eventRecord(id, mergeBase, payload)
	rec.Anchors = []contracts.Anchor{{Class: class, Ref: ref, AnchoredAt: "2026-03-01T00:00:00Z"}}
	return rec
}

func laxValidator() *Validator {
	return NewValidator(TrustSettings{}, nil)
}

func TestSyncerCopiesMissingRecordsFromPeer(t *testing.T) {
	ctx := context.Background()

	remoteCfg := DefaultConfig()
	remoteCfg.NodeID = "node-b"
	remoteStore, ts := newTestNode(t, remoteCfg)

	kr, err := NewKeyring(bytes.Repeat([]byte{9}, 32), "node-b")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		rec := eventRecord(fmt.Sprintf("m-%02d", i), mergeBase.Add(time.Duration(i)*time.Second), map[string]any{"seq": i})
		require.NoError(t, kr.SignRecord(rec))
		_, err := remoteStore.Put(ctx, rec)
		require.NoError(t, err)
	}

	localCfg := DefaultConfig()
	localCfg.NodeID = "node-a"
	localCfg.Peers = []Peer{{NodeID: "node-b", URL: ts.URL, PublicKey: kr.PublicKeyHex()}}
	localStore := memory.NewMemStore()
	verifier, err := NewKeyVerifier(localCfg.Peers...)
	require.NoError(t, err)
	syncer := NewSyncer(localCfg, localStore, NewValidator(localCfg.Trust, verifier), WithSyncRetryPolicy(noRetry))

	report := syncer.SyncOnce(ctx)
	require.Len(t, report.Peers, 1)
	pr := report.Peers[0]
	assert.Equal(t, "node-b", pr.Peer)
	assert.Equal(t, 3, pr.RemoteIDs)
	assert.Equal(t, 3, pr.Missing)
	assert.Equal(t, 3, pr.Inserted)
	assert.Zero(t, pr.Failed)
	assert.Empty(t, pr.Err)

	localAll, err := localStore.All(ctx)
	require.NoError(t, err)
	remoteAll, err := remoteStore.All(ctx)
	require.NoError(t, err)
	localRoot, err := merkle.RecordsRoot(localAll)
	require.NoError(t, err)
	remoteRoot, err := merkle.RecordsRoot(remoteAll)
	require.NoError(t, err)
	assert.Equal(t, remoteRoot, localRoot, "synced nodes must project the same root")

	// A caught-up peer costs one id list and nothing else.
	report = syncer.SyncOnce(ctx)
	assert.Zero(t, report.Peers[0].Missing)
	assert.Zero(t, report.Peers[0].Inserted)

	stats := syncer.Stats()
	assert.Equal(t, uint64(2), stats.Rounds)
	assert.Equal(t, uint64(3), stats.Inserted)
	assert.Zero(t, stats.Failed)
	assert.False(t, stats.LastSync.IsZero())
}

func TestSyncerRejectsUnsignedRecordsWhenTrustRequires(t *testing.T) {
	ctx := context.Background()

	remoteCfg := DefaultConfig()
	remoteCfg.NodeID = "node-b"
	remoteStore, ts := newTestNode(t, remoteCfg)

	kr, err := GenerateKeyring("node-b")
	require.NoError(t, err)
	signed := eventRecord("m-00", mergeBase, map[string]any{"seq": 0})
	require.NoError(t, kr.SignRecord(signed))
	_, err = remoteStore.Put(ctx, signed)
	require.NoError(t, err)
	_, err = remoteStore.Put(ctx, eventRecord("m-01", mergeBase.Add(time.Second), map[string]any{"seq": 1}))
	require.NoError(t, err)

	localCfg := DefaultConfig()
	localCfg.NodeID = "node-a"
	localCfg.Peers = []Peer{{NodeID: "node-b", URL: ts.URL, PublicKey: kr.PublicKeyHex()}}
	localStore := memory.NewMemStore()
	verifier, err := NewKeyVerifier(localCfg.Peers...)
	require.NoError(t, err)
	syncer := NewSyncer(localCfg, localStore, NewValidator(localCfg.Trust, verifier), WithSyncRetryPolicy(noRetry))

	report := syncer.SyncOnce(ctx)
	pr := report.Peers[0]
	assert.Equal(t, 2, pr.Missing)
	assert.Equal(t, 1, pr.Inserted)
	assert.Equal(t, 1, pr.Failed)

	_, err = localStore.Get(ctx, "m-00")
	assert.NoError(t, err)
	_, err = localStore.Get(ctx, "m-01")
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestSyncerPerRecordFailureContinuesBatch(t *testing.T) {
	ctx := context.Background()

	src := fakeSource{
		ids: []string{"m-00", "m-01", "m-02"},
		recs: map[string]*contracts.MemoryRecord{
			"m-00": eventRecord("m-00", mergeBase, map[string]any{"seq": 0}),
			"m-02": eventRecord("m-02", mergeBase.Add(2*time.Second), map[string]any{"seq": 2}),
		},
		getErr: map[string]error{"m-01": errors.New("short read")},
	}

	cfg := DefaultConfig()
	cfg.NodeID = "node-a"
	cfg.Trust = TrustSettings{}
	cfg.Peers = []Peer{{NodeID: "node-b", URL: "http://node-b:7421"}}
	store := memory.NewMemStore()
	syncer := NewSyncer(cfg, store, laxValidator(),
		WithSyncRetryPolicy(noRetry),
		WithSyncDialer(func(Peer) PeerSource { return src }),
	)

	pr := syncer.SyncOnce(ctx).Peers[0]
	assert.Equal(t, 3, pr.Missing)
	assert.Equal(t, 2, pr.Inserted)
	assert.Equal(t, 1, pr.Failed)

	ids, err := store.ListIDs(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m-00", "m-02"}, ids)
}

func TestSyncerIsolatesPeerListFailures(t *testing.T) {
	ctx := context.Background()

	healthy := fakeSource{
		ids:  []string{"m-00"},
		recs: map[string]*contracts.MemoryRecord{"m-00": eventRecord("m-00", mergeBase, map[string]any{"seq": 0})},
	}
	broken := fakeSource{listErr: errors.New("dial tcp: connection refused")}

	cfg := DefaultConfig()
	cfg.NodeID = "node-a"
	cfg.Trust = TrustSettings{}
	cfg.Peers = []Peer{
		{NodeID: "node-b", URL: "http://node-b:7421"},
		{NodeID: "node-c", URL: "http://node-c:7421"},
	}
	store := memory.NewMemStore()
	syncer := NewSyncer(cfg, store, laxValidator(),
		WithSyncRetryPolicy(noRetry),
		WithSyncDialer(func(p Peer) PeerSource {
			if p.NodeID == "node-b" {
				return broken
			}
			return healthy
		}),
	)

	report := syncer.SyncOnce(ctx)
	require.Len(t, report.Peers, 2)
	assert.NotEmpty(t, report.Peers[0].Err)
	assert.Zero(t, report.Peers[0].Inserted)
	assert.Empty(t, report.Peers[1].Err)
	assert.Equal(t, 1, report.Peers[1].Inserted)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSyncerConcurrentConflictingPullsConverge(t *testing.T) {
	ctx := context.Background()

	btc := anchoredEvent("m-1", contracts.AnchorBTC, "tx-1", map[string]any{"provider": "alpha"})
	tsa := anchoredEvent("m-1", contracts.AnchorTSA, "tok-1", map[string]any{"provider": "beta"})

	gate := &sync.WaitGroup{}
	gate.Add(2)
	fromB := gatedSource{
		fakeSource: fakeSource{ids: []string{"m-1"}, recs: map[string]*contracts.MemoryRecord{"m-1": btc}},
		gate:       gate,
	}
	fromC := gatedSource{
		fakeSource: fakeSource{ids: []string{"m-1"}, recs: map[string]*contracts.MemoryRecord{"m-1": tsa}},
		gate:       gate,
	}

	cfg := DefaultConfig()
	cfg.NodeID = "node-a"
	cfg.Trust = TrustSettings{}
	cfg.Sync.MaxConcurrency = 2
	cfg.Peers = []Peer{
		{NodeID: "node-b", URL: "http://node-b:7421"},
		{NodeID: "node-c", URL: "http://node-c:7421"},
	}
	store := memory.NewMemStore()
	syncer := NewSyncer(cfg, store, laxValidator(),
		WithSyncRetryPolicy(noRetry),
		WithSyncDialer(func(p Peer) PeerSource {
			if p.NodeID == "node-b" {
				return fromB
			}
			return fromC
		}),
	)

	report := syncer.SyncOnce(ctx)

	inserted, resolved, failed := 0, 0, 0
	for _, pr := range report.Peers {
		inserted += pr.Inserted
		resolved += pr.Resolved
		failed += pr.Failed
	}
	assert.Equal(t, 2, inserted)
	assert.Equal(t, 1, resolved)
	assert.Zero(t, failed)

	// Whichever pull landed first, the anchored order picks the same winner.
	active, err := store.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, btc.PayloadHash, active.PayloadHash)

	versions, err := store.Versions(ctx, "m-1")
	require.NoError(t, err)
	assert.Len(t, versions, 2)
	assert.Equal(t, uint64(1), syncer.Stats().Resolved)
}

func TestSyncerConcurrentDuplicatePullsAreNoOps(t *testing.T) {
	ctx := context.Background()

	rec := eventRecord("m-1", mergeBase, map[string]any{"seq": 1})
	gate := &sync.WaitGroup{}
	gate.Add(2)
	source := func() gatedSource {
		return gatedSource{
			fakeSource: fakeSource{ids: []string{"m-1"}, recs: map[string]*contracts.MemoryRecord{"m-1": rec}},
			gate:       gate,
		}
	}

	cfg := DefaultConfig()
	cfg.NodeID = "node-a"
	cfg.Trust = TrustSettings{}
	cfg.Sync.MaxConcurrency = 2
	cfg.Peers = []Peer{
		{NodeID: "node-b", URL: "http://node-b:7421"},
		{NodeID: "node-c", URL: "http://node-c:7421"},
	}
	store := memory.NewMemStore()
	syncer := NewSyncer(cfg, store, laxValidator(),
		WithSyncRetryPolicy(noRetry),
		WithSyncDialer(func(Peer) PeerSource { return source() }),
	)

	syncer.SyncOnce(ctx)

	stats := syncer.Stats()
	assert.Equal(t, uint64(1), stats.Inserted)
	assert.Equal(t, uint64(1), stats.Duplicates)
	assert.Zero(t, stats.Resolved)

	versions, err := store.Versions(ctx, "m-1")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestSyncerRetriesTransientListFailures(t *testing.T) {
	ctx := context.Background()

	src := &flakySource{
		fakeSource: fakeSource{
			ids:  []string{"m-00"},
			recs: map[string]*contracts.MemoryRecord{"m-00": eventRecord("m-00", mergeBase, map[string]any{"seq": 0})},
		},
		failures: 1,
	}

	cfg := DefaultConfig()
	cfg.NodeID = "node-a"
	cfg.Trust = TrustSettings{}
	cfg.Peers = []Peer{{NodeID: "node-b", URL: "http://node-b:7421"}}
	store := memory.NewMemStore()
	syncer := NewSyncer(cfg, store, laxValidator(),
		WithSyncRetryPolicy(retry.Policy{Schedule: []time.Duration{time.Millisecond}}),
		WithSyncDialer(func(Peer) PeerSource { return src }),
	)

	pr := syncer.SyncOnce(ctx).Peers[0]
	assert.Empty(t, pr.Err)
	assert.Equal(t, 1, pr.Inserted)
}

func TestSyncerStartStopLoop(t *testing.T) {
	ctx := context.Background()

	remoteCfg := DefaultConfig()
	remoteCfg.NodeID = "node-b"
	remoteStore, ts := newTestNode(t, remoteCfg)
	_, err := remoteStore.Put(ctx, eventRecord("m-00", mergeBase, map[string]any{"seq": 0}))
	require.NoError(t, err)

	localCfg := DefaultConfig()
	localCfg.NodeID = "node-a"
	localCfg.Trust = TrustSettings{}
	localCfg.Sync.IntervalSeconds = 1
	localCfg.Peers = []Peer{{NodeID: "node-b", URL: ts.URL}}
	localStore := memory.NewMemStore()
	syncer := NewSyncer(localCfg, localStore, laxValidator(), WithSyncRetryPolicy(noRetry))

	require.NoError(t, syncer.Start(ctx))
	assert.Error(t, syncer.Start(ctx), "second start must refuse")

	require.Eventually(t, func() bool {
		n, err := localStore.Count(ctx)
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)

	syncer.Stop()
	syncer.Stop()
	assert.GreaterOrEqual(t, syncer.Stats().Rounds, uint64(1))
}
