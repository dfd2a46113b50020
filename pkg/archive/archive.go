// Package archive is content-addressed blob storage for value-table
// snapshots and receipts. Keys are "sha256:<hex>" over the raw bytes,
// so storing identical content twice lands on the same key and a read
// can verify exactly what it fetched.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

const keyPrefix = "sha256:"

// ErrNotFound reports a key with no archived blob behind it.
var ErrNotFound = errors.New("archive: blob not found")

// Store is content-addressed blob storage. Put is idempotent: storing
// the same bytes twice returns the same key without a second write.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// KeyFor returns the archive key for data without storing it.
func KeyFor(data []byte) string {
	sum := sha256.Sum256(data)
	return keyPrefix + hex.EncodeToString(sum[:])
}

// hexPart strips and validates the key prefix, returning the raw hex
// digest that backends use to build object names.
func hexPart(key string) (string, error) {
	raw, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return "", fmt.Errorf("invalid archive key %q: want %s<hex>", key, keyPrefix)
	}
	if len(raw) != sha256.Size*2 {
		return "", fmt.Errorf("invalid archive key %q: digest must be %d hex chars", key, sha256.Size*2)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("invalid archive key %q: %w", key, err)
	}
	return raw, nil
}

// verify recomputes the digest of fetched bytes against the requested key.
func verify(key string, data []byte) error {
	if KeyFor(data) != key {
		return fmt.Errorf("%w: archive blob %s content digest mismatch", contracts.ErrCorruption, key)
	}
	return nil
}

// FileStore keeps blobs as <hex>.blob files under a single directory.
// Writes land in a temp file and are committed with a rename, so a
// reader never observes a partial blob.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(rawHex string) string {
	return filepath.Join(s.dir, rawHex+".blob")
}

func (s *FileStore) Put(_ context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := KeyFor(data)
	path := s.path(key[len(keyPrefix):])
	if _, err := os.Stat(path); err == nil {
		return key, nil
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write archive blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("commit archive blob: %w", err)
	}
	return key, nil
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := hexPart(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(raw))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("read archive blob: %w", err)
	}
	if err := verify(key, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *FileStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, err := hexPart(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(s.path(raw))
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, fmt.Errorf("stat archive blob: %w", err)
	}
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := hexPart(key)
	if err != nil {
		return err
	}
	if err := os.Remove(s.path(raw)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete archive blob: %w", err)
	}
	return nil
}
