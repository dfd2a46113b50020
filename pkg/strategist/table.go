package strategist

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// atomicFloat stores a float64 as raw bits so slot updates can use CAS.
type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) load() float64 {
	return math.Float64frombits(f.bits.Load())
}

func (f *atomicFloat) store(v float64) {
	f.bits.Store(math.Float64bits(v))
}

// apply runs fn atomically against the slot and returns the stored result.
// Concurrent callers on the same slot serialize through the CAS loop, so the
// outcome is always the sequentially consistent result of one ordering.
func (f *atomicFloat) apply(fn func(old float64) float64) float64 {
	for {
		oldBits := f.bits.Load()
		next := fn(math.Float64frombits(oldBits))
		if f.bits.CompareAndSwap(oldBits, math.Float64bits(next)) {
			return next
		}
	}
}

// stateRow holds the action slots of one state.
type stateRow struct {
	mu    sync.RWMutex
	slots map[string]*atomicFloat
}

func (r *stateRow) get(action string) float64 {
	r.mu.RLock()
	slot := r.slots[action]
	r.mu.RUnlock()
	if slot == nil {
		return 0
	}
	return slot.load()
}

func (r *stateRow) slot(action string) *atomicFloat {
	r.mu.RLock()
	slot := r.slots[action]
	r.mu.RUnlock()
	if slot != nil {
		return slot
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot = r.slots[action]; slot == nil {
		slot = &atomicFloat{}
		r.slots[action] = slot
	}
	return slot
}

// Table is the sparse value table: state key -> provider id -> value.
// Reads are lock-free once the row pointer is resolved and never materialize
// entries; the value of an untouched pair is exactly zero.
type Table struct {
	mu     sync.RWMutex
	states map[string]*stateRow
}

// NewTable returns an empty value table.
func NewTable() *Table {
	return &Table{states: make(map[string]*stateRow)}
}

// Get reads the value for (state, action). Unseen pairs read as zero.
func (t *Table) Get(state, action string) float64 {
	t.mu.RLock()
	row := t.states[state]
	t.mu.RUnlock()
	if row == nil {
		return 0
	}
	return row.get(action)
}

// Apply atomically transforms the value of (state, action), materializing the
// slot on first write. Returns the stored result.
func (t *Table) Apply(state, action string, fn func(old float64) float64) float64 {
	return t.row(state).slot(action).apply(fn)
}

// Set overwrites the value of (state, action). Used by snapshot restore.
func (t *Table) Set(state, action string, v float64) {
	t.row(state).slot(action).store(v)
}

// MaxOver returns the maximum value across the materialized actions of state.
// A state with no entries contributes zero future value.
func (t *Table) MaxOver(state string) float64 {
	t.mu.RLock()
	row := t.states[state]
	t.mu.RUnlock()
	if row == nil {
		return 0
	}
	row.mu.RLock()
	defer row.mu.RUnlock()
	if len(row.slots) == 0 {
		return 0
	}
	first := true
	var max float64
	for _, slot := range row.slots {
		v := slot.load()
		if first || v > max {
			max = v
			first = false
		}
	}
	return max
}

// Size reports (state count, entry count).
func (t *Table) Size() (int, int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entries := 0
	for _, row := range t.states {
		row.mu.RLock()
		entries += len(row.slots)
		row.mu.RUnlock()
	}
	return len(t.states), entries
}

// Export copies the table into plain maps with deterministic iteration left
// to the caller (keys are returned unsorted; canonical encoding sorts them).
func (t *Table) Export() map[string]map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]map[string]float64, len(t.states))
	for state, row := range t.states {
		row.mu.RLock()
		actions := make(map[string]float64, len(row.slots))
		for action, slot := range row.slots {
			actions[action] = slot.load()
		}
		row.mu.RUnlock()
		out[state] = actions
	}
	return out
}

// Replace swaps the table contents for the given snapshot data.
func (t *Table) Replace(data map[string]map[string]float64) {
	states := make(map[string]*stateRow, len(data))
	for state, actions := range data {
		row := &stateRow{slots: make(map[string]*atomicFloat, len(actions))}
		for action, v := range actions {
			slot := &atomicFloat{}
			slot.store(v)
			row.slots[action] = slot
		}
		states[state] = row
	}
	t.mu.Lock()
	t.states = states
	t.mu.Unlock()
}

func (t *Table) row(state string) *stateRow {
	t.mu.RLock()
	row := t.states[state]
	t.mu.RUnlock()
	if row != nil {
		return row
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if row = t.states[state]; row == nil {
		row = &stateRow{slots: make(map[string]*atomicFloat)}
		t.states[state] = row
	}
	return row
}

// ArgMax picks the candidate with the highest value for state, breaking ties
// by the lexicographically lowest id so the choice is independent of
// candidate order. Candidates must be non-empty.
func (t *Table) ArgMax(state string, candidates []string) (string, float64) {
	ids := make([]string, len(candidates))
	copy(ids, candidates)
	sort.Strings(ids)

	best := ids[0]
	bestV := t.Get(state, best)
	for _, id := range ids[1:] {
		if v := t.Get(state, id); v > bestV {
			best, bestV = id, v
		}
	}
	return best, bestV
}
