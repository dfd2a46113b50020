//go:build !gcp

package archive

import (
	"context"
	"fmt"
)

func newGCSFromEnv(_ context.Context) (Store, error) {
	return nil, fmt.Errorf("gcs archive backend requires a build with -tags gcp")
}
