package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

// File log layout:
//
//	header: magic "ADSLOG01" | schema uint16 BE | crc32(magic|schema) uint32 BE
//	record: length uint32 BE | payload | crc32(payload) uint32 BE
//
// Records are JSON envelopes replayed into an in-memory index on open. A torn
// tail (short record or checksum mismatch) is truncated away on recovery;
// surviving records keep their order.
const (
	logMagic         = "ADSLOG01"
	logSchemaVersion = uint16(1)
	logHeaderSize    = len(logMagic) + 2 + 4
	maxRecordSize    = 16 << 20
)

type logOp string

const (
	opCreate   logOp = "create"
	opFinalize logOp = "finalize"
	opStatus   logOp = "status"
	opDelete   logOp = "delete"
)

type logRecord struct {
	Op      logOp                    `json:"op"`
	Trace   *contracts.DecisionTrace `json:"trace,omitempty"`
	ID      string                   `json:"id,omitempty"`
	Outcome *contracts.Outcome       `json:"outcome,omitempty"`
	Reward  *float64                 `json:"reward,omitempty"`
	Status  contracts.TraceStatus    `json:"status,omitempty"`
	At      *time.Time               `json:"at,omitempty"`
}

// FileLogStore is the primary decision store: a single append-only file with
// checksummed records and an in-memory id index rebuilt on open. Every append
// is synced before it acknowledges.
type FileLogStore struct {
	log  *slog.Logger
	path string

	mu     sync.RWMutex
	f      *os.File
	traces map[string]*contracts.DecisionTrace
	order  []string
}

// FileLogOption configures a FileLogStore.
type FileLogOption func(*FileLogStore)

// WithFileLogLogger sets the structured logger.
func WithFileLogLogger(l *slog.Logger) FileLogOption {
	return func(s *FileLogStore) { s.log = l }
}

// OpenFileLog opens or creates the log at path and replays it.
func OpenFileLog(path string, opts ...FileLogOption) (*FileLogStore, error) {
	s := &FileLogStore{
		log:    slog.Default(),
		path:   path,
		traces: make(map[string]*contracts.DecisionTrace),
	}
	for _, opt := range opts {
		opt(s)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open decision log: %w", err)
	}
	s.f = f

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat decision log: %w", err)
	}
	if info.Size() == 0 {
		if err := s.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
		return s, nil
	}
	if err := s.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *FileLogStore) writeHeader() error {
	buf := make([]byte, logHeaderSize)
	copy(buf, logMagic)
	binary.BigEndian.PutUint16(buf[len(logMagic):], logSchemaVersion)
	crc := crc32.ChecksumIEEE(buf[:len(logMagic)+2])
	binary.BigEndian.PutUint32(buf[len(logMagic)+2:], crc)
	if _, err := s.f.Write(buf); err != nil {
		return fmt.Errorf("write log header: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync log header: %w", err)
	}
	return nil
}

func (s *FileLogStore) replay() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek decision log: %w", err)
	}
	header := make([]byte, logHeaderSize)
	if _, err := io.ReadFull(s.f, header); err != nil {
		return fmt.Errorf("%w: decision log header unreadable: %v", contracts.ErrCorruption, err)
	}
	if string(header[:len(logMagic)]) != logMagic {
		return fmt.Errorf("%w: bad decision log magic", contracts.ErrCorruption)
	}
	version := binary.BigEndian.Uint16(header[len(logMagic):])
	wantCRC := binary.BigEndian.Uint32(header[len(logMagic)+2:])
	if crc32.ChecksumIEEE(header[:len(logMagic)+2]) != wantCRC {
		return fmt.Errorf("%w: decision log header checksum mismatch", contracts.ErrCorruption)
	}
	if version != logSchemaVersion {
		return fmt.Errorf("%w: decision log schema %d unsupported", contracts.ErrCorruption, version)
	}

	offset := int64(logHeaderSize)
	lenBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(s.f, lenBuf); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return s.truncateTail(offset, "short length prefix")
		}
		length := binary.BigEndian.Uint32(lenBuf)
		if length == 0 || length > maxRecordSize {
			return s.truncateTail(offset, "implausible record length")
		}
		payload := make([]byte, length+4)
		if _, err := io.ReadFull(s.f, payload); err != nil {
			return s.truncateTail(offset, "short record body")
		}
		body := payload[:length]
		wantCRC := binary.BigEndian.Uint32(payload[length:])
		if crc32.ChecksumIEEE(body) != wantCRC {
			return s.truncateTail(offset, "record checksum mismatch")
		}
		var rec logRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			return s.truncateTail(offset, "record unparsable")
		}
		s.apply(&rec)
		offset += int64(4 + len(payload))
	}
	if _, err := s.f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek decision log end: %w", err)
	}
	return nil
}

// truncateTail discards everything from offset on. Records before the tear
// stay exactly as written.
func (s *FileLogStore) truncateTail(offset int64, reason string) error {
	s.log.Warn("discarding torn decision log tail", "path", s.path, "offset", offset, "reason", reason)
	if err := s.f.Truncate(offset); err != nil {
		return fmt.Errorf("truncate torn tail: %w", err)
	}
	if _, err := s.f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek decision log end: %w", err)
	}
	return nil
}

func (s *FileLogStore) apply(rec *logRecord) {
	switch rec.Op {
	case opCreate:
		if rec.Trace == nil || rec.Trace.DecisionID == "" {
			return
		}
		if _, exists := s.traces[rec.Trace.DecisionID]; exists {
			return
		}
		s.traces[rec.Trace.DecisionID] = cloneTrace(rec.Trace)
		s.order = append(s.order, rec.Trace.DecisionID)
	case opFinalize:
		t, ok := s.traces[rec.ID]
		if !ok || t.Outcome != nil || rec.Outcome == nil {
			return
		}
		o := *rec.Outcome
		t.Outcome = &o
		t.Reward = rec.Reward
		t.FeedbackAt = rec.At
		t.Status = contracts.TraceCompleted
	case opStatus:
		if t, ok := s.traces[rec.ID]; ok && t.Outcome == nil {
			t.Status = rec.Status
		}
	case opDelete:
		delete(s.traces, rec.ID)
	}
}

// append writes one record durably. Callers hold the write lock.
func (s *FileLogStore) append(rec *logRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal log record: %w", err)
	}
	buf := make([]byte, 4+len(body)+4)
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)
	binary.BigEndian.PutUint32(buf[4+len(body):], crc32.ChecksumIEEE(body))
	if _, err := s.f.Write(buf); err != nil {
		return fmt.Errorf("append log record: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync log record: %w", err)
	}
	return nil
}

// Create implements DecisionStore.
func (s *FileLogStore) Create(_ context.Context, trace *contracts.DecisionTrace) error {
	if trace == nil || trace.DecisionID == "" {
		return fmt.Errorf("%w: trace requires a decision id", contracts.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.traces[trace.DecisionID]; exists {
		return fmt.Errorf("%w: decision %s already exists", contracts.ErrConflict, trace.DecisionID)
	}
	if err := s.append(&logRecord{Op: opCreate, Trace: trace}); err != nil {
		return err
	}
	s.traces[trace.DecisionID] = cloneTrace(trace)
	s.order = append(s.order, trace.DecisionID)
	return nil
}

// Get implements DecisionStore.
func (s *FileLogStore) Get(_ context.Context, id string) (*contracts.DecisionTrace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.traces[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", contracts.ErrUnknownDecision, id)
	}
	return cloneTrace(t), nil
}

// Finalize implements DecisionStore.
func (s *FileLogStore) Finalize(_ context.Context, id string, outcome *contracts.Outcome, reward float64, at time.Time) error {
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
	rec := &logRecord{Op: opFinalize, ID: id, Outcome: outcome, Reward: &reward, At: &at}
	if err := s.append(rec); err != nil {
		return err
	}
	s.apply(rec)
	return nil
}

// MarkStatus implements DecisionStore.
func (s *FileLogStore) MarkStatus(_ context.Context, id string, status contracts.TraceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.traces[id]
	if !ok {
		return fmt.Errorf("%w: %s", contracts.ErrUnknownDecision, id)
	}
	if t.Outcome != nil {
		return fmt.Errorf("%w: decision %s", contracts.ErrAlreadyFinalized, id)
	}
	rec := &logRecord{Op: opStatus, ID: id, Status: status}
	if err := s.append(rec); err != nil {
		return err
	}
	s.apply(rec)
	return nil
}

// ScanByTime implements DecisionStore.
func (s *FileLogStore) ScanByTime(_ context.Context, from, to time.Time, limit int) ([]*contracts.DecisionTrace, error) {
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
func (s *FileLogStore) ScanByTenant(_ context.Context, tenant string, limit int) ([]*contracts.DecisionTrace, error) {
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

// Delete implements DecisionStore. The tombstone is appended; the log itself
// never rewrites history.
func (s *FileLogStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.traces[id]; !ok {
		return fmt.Errorf("%w: %s", contracts.ErrUnknownDecision, id)
	}
	rec := &logRecord{Op: opDelete, ID: id}
	if err := s.append(rec); err != nil {
		return err
	}
	s.apply(rec)
	return nil
}

// Count implements DecisionStore.
func (s *FileLogStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.traces)), nil
}

// Close implements DecisionStore.
func (s *FileLogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// Stats reports feedback coverage.
func (s *FileLogStore) Stats() Stats {
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

var _ DecisionStore = (*FileLogStore)(nil)
