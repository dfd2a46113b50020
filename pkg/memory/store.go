// Package memory stores federation memory records: the peer-replicated event
// log behind the merkle projection. Insertion is keyed by record id; when two
// records claim the same id with different content, the conflict resolver
// picks the winner and the loser is retained marked superseded, so replaying
// any peer's view converges to the same active set on every node.
package memory

import (
	"context"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

// PutResult says what an insert did. Sync loops count these.
type PutResult string

// Put outcomes.
const (
	// PutInserted means the id was new and the record is now active.
	PutInserted PutResult = "inserted"
	// PutDuplicate means an identical version (same id, same content) was
	// already present. The store is unchanged.
	PutDuplicate PutResult = "duplicate"
	// PutResolvedKept means the id collided, the resolver kept the local
	// version, and the incoming record was retained superseded.
	PutResolvedKept PutResult = "resolved_kept"
	// PutResolvedReplaced means the id collided and the incoming record won;
	// the previously active version was retained superseded.
	PutResolvedReplaced PutResult = "resolved_replaced"
)

// Stats summarizes a store for status reporting.
type Stats struct {
	ActiveRecords     int64 `json:"active_records"`
	SupersededRecords int64 `json:"superseded_records"`
}

// Store is the federation memory log. Active records are the per-id conflict
// winners; superseded versions stay readable through Versions. ListIDs and
// All return the stable (timestamp, id) order every peer agrees on.
type Store interface {
	Put(ctx context.Context, rec *contracts.MemoryRecord) (PutResult, error)
	Get(ctx context.Context, id string) (*contracts.MemoryRecord, error)
	Versions(ctx context.Context, id string) ([]contracts.MemoryRecord, error)
	ListIDs(ctx context.Context, limit, offset int) ([]string, error)
	All(ctx context.Context) ([]contracts.MemoryRecord, error)
	Count(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
