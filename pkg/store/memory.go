package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

// MemoryStore is the reference in-memory implementation. It backs unit tests
// and single-process simulations; nothing survives a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	traces map[string]*contracts.DecisionTrace
	order  []string
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{traces: make(map[string]*contracts.DecisionTrace)}
}

// Create implements DecisionStore.
func (s *MemoryStore) Create(_ context.Context, trace *contracts.DecisionTrace) error {
	if trace == nil || trace.DecisionID == "" {
		return fmt.Errorf("%w: trace requires a decision id", contracts.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.traces[trace.DecisionID]; exists {
		return fmt.Errorf("%w: decision %s already exists", contracts.ErrConflict, trace.DecisionID)
	}
	s.traces[trace.DecisionID] = cloneTrace(trace)
	s.order = append(s.order, trace.DecisionID)
	return nil
}

// Get implements DecisionStore.
func (s *MemoryStore) Get(_ context.Context, id string) (*contracts.DecisionTrace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.traces[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", contracts.ErrUnknownDecision, id)
	}
	return cloneTrace(t), nil
}

// Finalize implements DecisionStore.
func (s *MemoryStore) Finalize(_ context.Context, id string, outcome *contracts.Outcome, reward float64, at time.Time) error {
	if outcome == nil {
		return fmt.Errorf("%w: outcome required", contracts.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.traces[id]
	if !ok {
		return fmt.Errorf("%w: %s", contracts.ErrUnknownDecision, id)
	}
	if t.Outcome != nil {
		return fmt.Errorf("%w: decision %s", contracts.ErrAlreadyFinalized, id)
	}
	o := *outcome
	t.Outcome = &o
	t.Reward = &reward
	t.FeedbackAt = &at
	t.Status = contracts.TraceCompleted
	return nil
}

// MarkStatus implements DecisionStore.
func (s *MemoryStore) MarkStatus(_ context.Context, id string, status contracts.TraceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.traces[id]
	if !ok {
		return fmt.Errorf("%w: %s", contracts.ErrUnknownDecision, id)
	}
	if t.Outcome != nil {
		return fmt.Errorf("%w: decision %s", contracts.ErrAlreadyFinalized, id)
	}
	t.Status = status
	return nil
}

// ScanByTime implements DecisionStore.
func (s *MemoryStore) ScanByTime(_ context.Context, from, to time.Time, limit int) ([]*contracts.DecisionTrace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*contracts.DecisionTrace
	for _, id := range s.order {
		t, ok := s.traces[id]
		if !ok {
			continue
		}
		if t.Timestamp.Before(from) || !t.Timestamp.Before(to) {
			continue
		}
		out = append(out, cloneTrace(t))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ScanByTenant implements DecisionStore.
func (s *MemoryStore) ScanByTenant(_ context.Context, tenant string, limit int) ([]*contracts.DecisionTrace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*contracts.DecisionTrace
	for _, id := range s.order {
		t, ok := s.traces[id]
		if !ok || t.Tenant != tenant {
			continue
		}
		out = append(out, cloneTrace(t))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Delete implements DecisionStore.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.traces[id]; !ok {
		return fmt.Errorf("%w: %s", contracts.ErrUnknownDecision, id)
	}
	delete(s.traces, id)
	return nil
}

// Count implements DecisionStore.
func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.traces)), nil
}

// Close implements DecisionStore.
func (s *MemoryStore) Close() error { return nil }

// Stats reports feedback coverage.
func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{TotalTraces: int64(len(s.traces))}
	for _, t := range s.traces {
		if t.Outcome != nil {
			st.WithFeedback++
		}
	}
	if st.TotalTraces > 0 {
		st.FeedbackRate = float64(st.WithFeedback) / float64(st.TotalTraces)
	}
	return st
}

var _ DecisionStore = (*MemoryStore)(nil)
