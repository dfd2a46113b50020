package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

// ErrNotFound reports a record id with no stored version.
var ErrNotFound = errors.New("memory record not found")

// MemStore is the in-memory reference implementation. It backs tests and
// single-process nodes; nothing survives a restart.
type MemStore struct {
	mu sync.RWMutex
	// versions holds every retained version of an id, the active winner
	// first, losers in arrival order after it.
	versions map[string][]contracts.MemoryRecord
}

// NewMemStore builds an empty in-memory record store.
func NewMemStore() *MemStore {
	return &MemStore{versions: make(map[string][]contracts.MemoryRecord)}
}

// Put implements Store.
func (s *MemStore) Put(_ context.Context, rec *contracts.MemoryRecord) (PutResult, error) {
	if err := checkRecordKey(rec); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res := classifyVersion(s.versions, rec)
	applyVersion(s.versions, rec, res)
	return res, nil
}

// classifyVersion reports what folding rec into versions would do, without
// mutating anything.
func classifyVersion(versions map[string][]contracts.MemoryRecord, rec *contracts.MemoryRecord) PutResult {
	vs := versions[rec.ID]
	if len(vs) == 0 {
		return PutInserted
	}
	for i := range vs {
		if vs[i].PayloadHash == rec.PayloadHash {
			return PutDuplicate
		}
	}
	if active := &vs[0]; ResolveConflict(active, rec) == active {
		return PutResolvedKept
	}
	return PutResolvedReplaced
}

// applyVersion folds rec into versions under res, which callers obtain from
// classifyVersion on the same state. PutDuplicate applies as a no-op.
func applyVersion(versions map[string][]contracts.MemoryRecord, rec *contracts.MemoryRecord, res PutResult) {
	switch res {
	case PutInserted:
		stored := cloneRecord(rec)
		stored.Superseded = false
		versions[rec.ID] = []contracts.MemoryRecord{*stored}
	case PutResolvedKept:
		loser := cloneRecord(rec)
		loser.Superseded = true
		versions[rec.ID] = append(versions[rec.ID], *loser)
	case PutResolvedReplaced:
		vs := versions[rec.ID]
		vs[0].Superseded = true
		winner := cloneRecord(rec)
		winner.Superseded = false
		versions[rec.ID] = append([]contracts.MemoryRecord{*winner}, vs...)
	}
}

// Get implements Store. It returns the active version for the id.
func (s *MemStore) Get(_ context.Context, id string) (*contracts.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs, ok := s.versions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneRecord(&vs[0]), nil
}

// Versions implements Store. The active version comes first.
func (s *MemStore) Versions(_ context.Context, id string) ([]contracts.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs, ok := s.versions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	out := make([]contracts.MemoryRecord, 0, len(vs))
	for i := range vs {
		out = append(out, *cloneRecord(&vs[i]))
	}
	return out, nil
}

// ListIDs implements Store.
func (s *MemStore) ListIDs(_ context.Context, limit, offset int) ([]string, error) {
	s.mu.RLock()
	active := activeSnapshot(s.versions)
	s.mu.RUnlock()
	return pageIDs(active, limit, offset), nil
}

// All implements Store.
func (s *MemStore) All(_ context.Context) ([]contracts.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeSnapshot(s.versions), nil
}

// activeSnapshot copies the active version of every id in (timestamp, id)
// order. Callers hold at least a read lock on the map.
func activeSnapshot(versions map[string][]contracts.MemoryRecord) []contracts.MemoryRecord {
	out := make([]contracts.MemoryRecord, 0, len(versions))
	for _, vs := range versions {
		out = append(out, *cloneRecord(&vs[0]))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func pageIDs(active []contracts.MemoryRecord, limit, offset int) []string {
	ids := make([]string, 0, len(active))
	for i := range active {
		ids = append(ids, active[i].ID)
	}
	if offset > 0 {
		if offset >= len(ids) {
			return nil
		}
		ids = ids[offset:]
	}
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	return ids
}

// Count implements Store.
func (s *MemStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.versions)), nil
}

// Stats implements Store.
func (s *MemStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st Stats
	for _, vs := range s.versions {
		st.ActiveRecords++
		st.SupersededRecords += int64(len(vs) - 1)
	}
	return st, nil
}

// Close implements Store.
func (s *MemStore) Close() error { return nil }

func checkRecordKey(rec *contracts.MemoryRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: memory record requires an id", contracts.ErrInvalidInput)
	}
	if rec.PayloadHash == "" {
		return fmt.Errorf("%w: memory record %s requires a payload hash", contracts.ErrInvalidInput, rec.ID)
	}
	return nil
}

func cloneRecord(rec *contracts.MemoryRecord) *contracts.MemoryRecord {
	c := *rec
	if rec.Payload != nil {
		c.Payload = append([]byte(nil), rec.Payload...)
	}
	if rec.Anchors != nil {
		c.Anchors = append([]contracts.Anchor(nil), rec.Anchors...)
	}
	return &c
}

var _ Store = (*MemStore)(nil)
