package archive

import (
	"context"
	"fmt"
	"os"
)

// Backend names an archive implementation selectable at runtime.
type Backend string

const (
	BackendFS  Backend = "fs"
	BackendS3  Backend = "s3"
	BackendGCS Backend = "gcs"
)

// FromEnv builds the archive selected by AURORA_ARCHIVE_BACKEND
// (default fs).
//
// Filesystem: AURORA_SNAPSHOT_DIR (default "data/snapshots").
//
// S3: AURORA_ARCHIVE_S3_BUCKET (required), AURORA_ARCHIVE_S3_REGION
// (falls back to AWS_REGION, then us-east-1), AURORA_ARCHIVE_S3_ENDPOINT,
// AURORA_ARCHIVE_S3_PREFIX.
//
// GCS: AURORA_ARCHIVE_GCS_BUCKET (required), AURORA_ARCHIVE_GCS_PREFIX.
// Needs a binary built with -tags gcp.
func FromEnv(ctx context.Context) (Store, error) {
	backend := Backend(os.Getenv("AURORA_ARCHIVE_BACKEND"))
	if backend == "" {
		backend = BackendFS
	}

	switch backend {
	case BackendFS:
		dir := os.Getenv("AURORA_SNAPSHOT_DIR")
		if dir == "" {
			dir = "data/snapshots"
		}
		return NewFileStore(dir)
	case BackendS3:
		return newS3FromEnv(ctx)
	case BackendGCS:
		return newGCSFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", backend)
	}
}

func newS3FromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("AURORA_ARCHIVE_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("AURORA_ARCHIVE_S3_BUCKET is required for the s3 backend")
	}
	region := os.Getenv("AURORA_ARCHIVE_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	return NewS3Store(ctx, S3Config{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("AURORA_ARCHIVE_S3_ENDPOINT"),
		Prefix:   os.Getenv("AURORA_ARCHIVE_S3_PREFIX"),
	})
}
