// Package audit persists the validator's per-decision entries. The log is a
// single append-only sequence; appends serialize through one mutex but never
// block the decide path for longer than one line write.
package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

// Sink receives every audit entry the validator produces.
type Sink interface {
	Append(entry contracts.AuditEntry) error
}

// LineSink writes entries as prefixed JSON lines so operators can grep the
// audit stream out of mixed output.
type LineSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLineSink creates a sink on the given writer, defaulting to stdout.
func NewLineSink(w io.Writer) *LineSink {
	if w == nil {
		w = os.Stdout
	}
	return &LineSink{w: w}
}

// Append writes one entry as a line.
func (s *LineSink) Append(entry contracts.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit marshal: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(append([]byte("AUDIT: "), append(data, '\n')...)); err != nil {
		return fmt.Errorf("audit write: %w", err)
	}
	return nil
}

// MemorySink retains entries in order for tests and the status endpoint.
type MemorySink struct {
	mu      sync.Mutex
	entries []contracts.AuditEntry
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append stores the entry.
func (s *MemorySink) Append(entry contracts.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a copy of everything appended so far, in append order.
func (s *MemorySink) Entries() []contracts.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contracts.AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// ByDecision filters entries for one decision id.
func (s *MemorySink) ByDecision(decisionID string) []contracts.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []contracts.AuditEntry
	for _, e := range s.entries {
		if e.DecisionID == decisionID {
			out = append(out, e)
		}
	}
	return out
}

// Fanout duplicates appends across several sinks, failing on the first error.
type Fanout []Sink

// Append forwards the entry to every sink.
func (f Fanout) Append(entry contracts.AuditEntry) error {
	for _, s := range f {
		if err := s.Append(entry); err != nil {
			return err
		}
	}
	return nil
}
