package federation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
	"github.com/Mindburn-Labs/aurora/pkg/memory"
	"github.com/Mindburn-Labs/aurora/pkg/retry"
)

// PeerSource is the remote surface the syncer pulls from. PeerClient is the
// HTTP implementation; tests substitute in-process fakes.
type PeerSource interface {
	ListIDs(ctx context.Context) ([]string, error)
	GetRecord(ctx context.Context, id string) (*contracts.MemoryRecord, error)
}

// PeerDialer turns peer config into a live source.
type PeerDialer func(Peer) PeerSource

// PeerReport is the outcome of one pull from one peer.
type PeerReport struct {
	Peer      string `json:"peer"`
	RemoteIDs int    `json:"remote_ids"`
	Missing   int    `json:"missing"`
	Inserted  int    `json:"inserted"`
	Resolved  int    `json:"resolved"`
	Failed    int    `json:"failed"`
	Err       string `json:"error,omitempty"`
}

// Report is one full sync round across all peers.
type Report struct {
	At    time.Time    `json:"at"`
	Peers []PeerReport `json:"peers"`
}

// SyncStats accumulates across rounds for status reporting.
type SyncStats struct {
	Rounds     uint64    `json:"rounds"`
	Inserted   uint64    `json:"inserted"`
	Resolved   uint64    `json:"resolved"`
	Duplicates uint64    `json:"duplicates"`
	Failed     uint64    `json:"failed"`
	LastSync   time.Time `json:"last_sync"`
}

// Syncer periodically reconciles the local store with every configured
// peer: pull the id list, fetch what is missing, validate, insert. It runs
// on its own bounded worker pool so a slow peer never steals an ingress
// worker, and replaying a caught-up peer is a no-op.
type Syncer struct {
	cfg       Config
	store     memory.Store
	validator *Validator
	policy    retry.Policy
	dial      PeerDialer
	log       *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}

	rounds     atomic.Uint64
	inserted   atomic.Uint64
	resolved   atomic.Uint64
	duplicates atomic.Uint64
	failed     atomic.Uint64
	lastSync   atomic.Int64
}

// SyncerOption customizes a Syncer.
type SyncerOption func(*Syncer)

// WithSyncLogger routes sync logging.
func WithSyncLogger(log *slog.Logger) SyncerOption {
	return func(s *Syncer) { s.log = log }
}

// WithSyncDialer substitutes the peer transport.
func WithSyncDialer(dial PeerDialer) SyncerOption {
	return func(s *Syncer) { s.dial = dial }
}

// WithSyncRetryPolicy overrides the config-derived backoff schedule.
func WithSyncRetryPolicy(p retry.Policy) SyncerOption {
	return func(s *Syncer) { s.policy = p }
}

// WithSyncClock overrides the timestamp source.
func WithSyncClock(now func() time.Time) SyncerOption {
	return func(s *Syncer) { s.now = now }
}

// NewSyncer builds a syncer over the local store.
func NewSyncer(cfg Config, store memory.Store, validator *Validator, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		cfg:       cfg,
		store:     store,
		validator: validator,
		policy:    cfg.RetryPolicy(),
		log:       slog.Default(),
		now:       time.Now,
	}
	s.dial = func(p Peer) PeerSource {
		return NewPeerClient(p, WithPeerPageSize(cfg.Sync.PageSize))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the periodic loop. It returns immediately; Stop or context
// cancellation ends the loop.
func (s *Syncer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("syncer already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	go s.loop(ctx, s.stopCh)
	return nil
}

// Stop halts the periodic loop.
func (s *Syncer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	close(s.stopCh)
	s.running = false
}

func (s *Syncer) loop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.Interval())
	defer ticker.Stop()

	s.SyncOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.SyncOnce(ctx)
		}
	}
}

// SyncOnce pulls from every peer, bounded by the configured concurrency.
func (s *Syncer) SyncOnce(ctx context.Context) Report {
	report := Report{At: s.now().UTC(), Peers: make([]PeerReport, len(s.cfg.Peers))}

	sem := make(chan struct{}, s.cfg.Sync.MaxConcurrency)
	var wg sync.WaitGroup
	for i, peer := range s.cfg.Peers {
		wg.Add(1)
		go func(i int, peer Peer) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			report.Peers[i] = s.syncPeer(ctx, peer)
		}(i, peer)
	}
	wg.Wait()

	s.rounds.Add(1)
	s.lastSync.Store(report.At.UnixNano())
	return report
}

// syncPeer reconciles against one peer. Per-id failures are counted and the
// batch continues; only a failed id list aborts the peer for this round.
func (s *Syncer) syncPeer(ctx context.Context, peer Peer) PeerReport {
	report := PeerReport{Peer: peer.NodeID}
	src := s.dial(peer)

	var remote []string
	err := retry.Do(ctx, s.policy, retry.Params{Scope: "federation.list", Peer: peer.NodeID}, func(ctx context.Context) error {
		var err error
		remote, err = src.ListIDs(ctx)
		return err
	})
	if err != nil {
		report.Err = err.Error()
		s.log.Warn("peer id list failed", "peer", peer.NodeID, "error", err)
		return report
	}
	report.RemoteIDs = len(remote)

	local, err := s.store.ListIDs(ctx, 0, 0)
	if err != nil {
		report.Err = err.Error()
		return report
	}
	have := make(map[string]struct{}, len(local))
	for _, id := range local {
		have[id] = struct{}{}
	}

	var missing []string
	for _, id := range remote {
		if _, ok := have[id]; !ok {
			missing = append(missing, id)
		}
	}
	report.Missing = len(missing)
	if len(missing) == 0 {
		return report
	}

	for _, id := range missing {
		if ctx.Err() != nil {
			report.Err = ctx.Err().Error()
			return report
		}
		res, err := s.pullRecord(ctx, src, peer, id)
		if err != nil {
			report.Failed++
			s.failed.Add(1)
			s.log.Warn("record pull failed", "peer", peer.NodeID, "id", id, "error", err)
			continue
		}
		switch res {
		case memory.PutDuplicate:
			s.duplicates.Add(1)
		case memory.PutResolvedKept, memory.PutResolvedReplaced:
			report.Inserted++
			report.Resolved++
			s.inserted.Add(1)
			s.resolved.Add(1)
		default:
			report.Inserted++
			s.inserted.Add(1)
		}
	}
	return report
}

func (s *Syncer) pullRecord(ctx context.Context, src PeerSource, peer Peer, id string) (memory.PutResult, error) {
	var rec *contracts.MemoryRecord
	err := retry.Do(ctx, s.policy, retry.Params{Scope: "federation.fetch", Peer: peer.NodeID, Key: id}, func(ctx context.Context) error {
		var err error
		rec, err = src.GetRecord(ctx, id)
		return err
	})
	if err != nil {
		return "", err
	}
	if err := s.validator.Validate(rec); err != nil {
		return "", err
	}
	return s.store.Put(ctx, rec)
}

// Stats reports lifetime counters.
func (s *Syncer) Stats() SyncStats {
	st := SyncStats{
		Rounds:     s.rounds.Load(),
		Inserted:   s.inserted.Load(),
		Resolved:   s.resolved.Load(),
		Duplicates: s.duplicates.Load(),
		Failed:     s.failed.Load(),
	}
	if ns := s.lastSync.Load(); ns > 0 {
		st.LastSync = time.Unix(0, ns).UTC()
	}
	return st
}
