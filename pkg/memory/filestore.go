package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

// Journal layout:
//
//	record: length uint32 BE | record JSON | sha256(record JSON)
//
// There is no file header; an empty file is a valid empty journal. Every
// accepted version is appended in arrival order and the version map is
// rebuilt on open by replaying the journal through the same conflict
// resolution the live path uses, so a rebuilt store converges on the state
// of the store that wrote it. A torn tail (short frame or digest mismatch)
// is truncated away on recovery; frames before the tear keep their order.
const maxJournalRecord = 16 << 20

// FileStore persists federation memories in a single append-only journal.
type FileStore struct {
	log  *slog.Logger
	path string

	mu       sync.RWMutex
	f        *os.File
	versions map[string][]contracts.MemoryRecord
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithFileStoreLogger sets the structured logger.
func WithFileStoreLogger(l *slog.Logger) FileStoreOption {
	return func(s *FileStore) { s.log = l }
}

// OpenFileStore opens or creates the journal at path and replays it.
func OpenFileStore(path string, opts ...FileStoreOption) (*FileStore, error) {
	s := &FileStore{
		log:      slog.Default(),
		path:     path,
		versions: make(map[string][]contracts.MemoryRecord),
	}
	for _, opt := range opts {
		opt(s)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open memory journal: %w", err)
	}
	s.f = f
	if err := s.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *FileStore) replay() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek memory journal: %w", err)
	}
	var offset int64
	lenBuf := make([]byte, 4)
	for {
		if _, err := io.ReadFull(s.f, lenBuf); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return s.truncateTail(offset, "short length prefix")
		}
		length := binary.BigEndian.Uint32(lenBuf)
		if length == 0 || length > maxJournalRecord {
			return s.truncateTail(offset, "implausible record length")
		}
		frame := make([]byte, int(length)+sha256.Size)
		if _, err := io.ReadFull(s.f, frame); err != nil {
			return s.truncateTail(offset, "short record body")
		}
		body := frame[:length]
		if sum := sha256.Sum256(body); !bytes.Equal(sum[:], frame[length:]) {
			return s.truncateTail(offset, "record digest mismatch")
		}
		var rec contracts.MemoryRecord
		if err := json.Unmarshal(body, &rec); err != nil {
			return s.truncateTail(offset, "record unparsable")
		}
		// Frames that decode but carry no usable key are skipped rather than
		// treated as a tear; the bytes themselves are intact.
		if checkRecordKey(&rec) == nil {
			applyVersion(s.versions, &rec, classifyVersion(s.versions, &rec))
		}
		offset += int64(4 + len(frame))
	}
	if _, err := s.f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek memory journal end: %w", err)
	}
	return nil
}

// truncateTail discards everything from offset on. Records before the tear
// stay exactly as written.
func (s *FileStore) truncateTail(offset int64, reason string) error {
	s.log.Warn("discarding torn memory journal tail", "path", s.path, "offset", offset, "reason", reason)
	if err := s.f.Truncate(offset); err != nil {
		return fmt.Errorf("truncate torn tail: %w", err)
	}
	if _, err := s.f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek memory journal end: %w", err)
	}
	return nil
}

// append writes one accepted version durably. The journaled copy always has
// Superseded cleared; replay is the single authority on which version wins.
// Callers hold the write lock.
func (s *FileStore) append(rec *contracts.MemoryRecord) error {
	entry := cloneRecord(rec)
	entry.Superseded = false
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal memory record: %w", err)
	}
	buf := make([]byte, 4+len(body)+sha256.Size)
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)
	sum := sha256.Sum256(body)
	copy(buf[4+len(body):], sum[:])
	if _, err := s.f.Write(buf); err != nil {
		return fmt.Errorf("append memory record: %w", err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("sync memory record: %w", err)
	}
	return nil
}

// Put implements Store. Duplicates never reach the journal; a version is
// applied in memory only after its frame is durable, so a failed append
// leaves both the file and the map untouched.
func (s *FileStore) Put(_ context.Context, rec *contracts.MemoryRecord) (PutResult, error) {
	if err := checkRecordKey(rec); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res := classifyVersion(s.versions, rec)
	if res == PutDuplicate {
		return res, nil
	}
	if err := s.append(rec); err != nil {
		return "", err
	}
	applyVersion(s.versions, rec, res)
	return res, nil
}

// Get implements Store. It returns the active version for the id.
func (s *FileStore) Get(_ context.Context, id string) (*contracts.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs, ok := s.versions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneRecord(&vs[0]), nil
}

// Versions implements Store. The active version comes first.
func (s *FileStore) Versions(_ context.Context, id string) ([]contracts.MemoryRecord, error) {
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
func (s *FileStore) ListIDs(_ context.Context, limit, offset int) ([]string, error) {
	s.mu.RLock()
	active := activeSnapshot(s.versions)
	s.mu.RUnlock()
	return pageIDs(active, limit, offset), nil
}

// All implements Store.
func (s *FileStore) All(_ context.Context) ([]contracts.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return activeSnapshot(s.versions), nil
}

// Count implements Store.
func (s *FileStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.versions)), nil
}

// Stats implements Store.
func (s *FileStore) Stats(_ context.Context) (Stats, error) {
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
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

var _ Store = (*FileStore)(nil)
