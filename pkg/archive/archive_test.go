package archive

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

func TestFromEnvDefaultsToFilesystem(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AURORA_ARCHIVE_BACKEND", "")
	t.Setenv("AURORA_SNAPSHOT_DIR", dir)

	st, err := FromEnv(context.Background())
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	fs, ok := st.(*FileStore)
	if !ok {
		t.Fatalf("want *FileStore, got %T", st)
	}
	if fs.dir != dir {
		t.Fatalf("want dir %s, got %s", dir, fs.dir)
	}
}

func TestFromEnvRequiresS3Bucket(t *testing.T) {
	t.Setenv("AURORA_ARCHIVE_BACKEND", "s3")
	t.Setenv("AURORA_ARCHIVE_S3_BUCKET", "")

	_, err := FromEnv(context.Background())
	if err == nil || !strings.Contains(err.Error(), "AURORA_ARCHIVE_S3_BUCKET") {
		t.Fatalf("want missing-bucket error, got %v", err)
	}
}

func TestFromEnvGCSNeedsBucketOrBuildTag(t *testing.T) {
	t.Setenv("AURORA_ARCHIVE_BACKEND", "gcs")
	t.Setenv("AURORA_ARCHIVE_GCS_BUCKET", "")

	_, err := FromEnv(context.Background())
	if err == nil {
		t.Fatal("want error for gcs without bucket")
	}
	// Plain builds report the missing tag, gcp builds the missing bucket.
	if !strings.Contains(err.Error(), "-tags gcp") && !strings.Contains(err.Error(), "AURORA_ARCHIVE_GCS_BUCKET") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFromEnvRejectsUnknownBackend(t *testing.T) {
	t.Setenv("AURORA_ARCHIVE_BACKEND", "tape")

	_, err := FromEnv(context.Background())
	if err == nil || !strings.Contains(err.Error(), "unknown archive backend") {
		t.Fatalf("want unknown-backend error, got %v", err)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	st, err := NewFileStore(filepath.Join(t.TempDir(), "nested", "archive"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	data := []byte(`{"schema_version":1,"hyperparameters":{"epsilon":0.1}}`)

	key, err := st.Put(ctx, data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(key, "sha256:") {
		t.Fatalf("key %q lacks sha256: prefix", key)
	}
	if key != KeyFor(data) {
		t.Fatalf("key %q does not match KeyFor %q", key, KeyFor(data))
	}

	got, err := st.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Get returned %q, want %q", got, data)
	}

	ok, err := st.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Fatal("Exists reported false for a stored blob")
	}
}

func TestFileStorePutIsIdempotent(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	data := []byte("same bytes twice")

	first, err := st.Put(ctx, data)
	if err != nil {
		t.Fatalf("first Put: %v", err)
	}
	second, err := st.Put(ctx, data)
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if first != second {
		t.Fatalf("keys differ: %s vs %s", first, second)
	}

	entries, err := os.ReadDir(st.dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("want 1 blob on disk, got %d", len(entries))
	}
}

func TestFileStoreConcurrentPutsAgree(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	data := []byte(`{"schema_version":1}`)

	keys := make([]string, 8)
	errs := make([]error, 8)
	var wg sync.WaitGroup
	for i := range keys {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			keys[i], errs[i] = st.Put(ctx, data)
		}(i)
	}
	wg.Wait()

	for i := range keys {
		if errs[i] != nil {
			t.Fatalf("put %d: %v", i, errs[i])
		}
		if keys[i] != keys[0] {
			t.Fatalf("put %d returned %s, want %s", i, keys[i], keys[0])
		}
	}
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("want 1 blob on disk, got %d", len(entries))
	}
}

func TestFileStoreGetMissingBlob(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	_, err = st.Get(context.Background(), KeyFor([]byte("never stored")))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestFileStoreGetRejectsTamperedBlob(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	key, err := st.Put(ctx, []byte("snapshot payload"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	blob := filepath.Join(st.dir, strings.TrimPrefix(key, "sha256:")+".blob")
	if err := os.WriteFile(blob, []byte("tampered"), 0o644); err != nil {
		t.Fatalf("overwrite blob: %v", err)
	}

	_, err = st.Get(ctx, key)
	if !errors.Is(err, contracts.ErrCorruption) {
		t.Fatalf("want corruption error, got %v", err)
	}
}

func TestFileStoreRejectsMalformedKeys(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{
		"deadbeef",
		"md5:" + strings.Repeat("ab", 16),
		"sha256:abcd",
		"sha256:" + strings.Repeat("zx", 32),
	} {
		if _, err := st.Get(ctx, key); err == nil {
			t.Errorf("Get(%q) accepted a malformed key", key)
		}
		if _, err := st.Exists(ctx, key); err == nil {
			t.Errorf("Exists(%q) accepted a malformed key", key)
		}
		if err := st.Delete(ctx, key); err == nil {
			t.Errorf("Delete(%q) accepted a malformed key", key)
		}
	}
}

func TestFileStoreDeleteIsIdempotent(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	key, err := st.Put(ctx, []byte("ephemeral"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := st.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	ok, err := st.Exists(ctx, key)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Fatal("blob still exists after Delete")
	}
	if err := st.Delete(ctx, key); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}
