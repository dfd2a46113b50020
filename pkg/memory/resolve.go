package memory

import (
	"strings"
	"time"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
	"github.com/Mindburn-Labs/aurora/pkg/merkle"
)

// anchorTimeLayouts are tried in order when parsing Anchor.AnchoredAt. The
// anchoring tools in the wild emit everything from full RFC 3339 to naive
// date-time strings; naive values are taken as UTC.
var anchorTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// unanchoredRank orders records carrying no anchors after every anchored one,
// including anchors of unknown class.
const unanchoredRank = 4

// anchorRank is the total order used to compare competing anchors: class
// priority, then earliest timestamp with unparseable timestamps sorting last,
// then the lowercased reference.
type anchorRank struct {
	priority int
	tsValid  bool
	ts       time.Time
	ref      string
}

func rankAnchor(a contracts.Anchor) anchorRank {
	r := anchorRank{
		priority: contracts.AnchorPriority(a.Class),
		ref:      strings.ToLower(a.Ref),
	}
	r.ts, r.tsValid = parseAnchorTime(a.AnchoredAt)
	return r
}

// less reports whether r beats other.
func (r anchorRank) less(other anchorRank) bool {
	if r.priority != other.priority {
		return r.priority < other.priority
	}
	if r.tsValid != other.tsValid {
		return r.tsValid
	}
	if r.tsValid && !r.ts.Equal(other.ts) {
		return r.ts.Before(other.ts)
	}
	return r.ref < other.ref
}

func parseAnchorTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range anchorTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// BestAnchor returns the strongest anchor on rec under the resolver order,
// or false when the record carries none.
func BestAnchor(rec *contracts.MemoryRecord) (contracts.Anchor, bool) {
	if rec == nil || len(rec.Anchors) == 0 {
		return contracts.Anchor{}, false
	}
	best := 0
	bestRank := rankAnchor(rec.Anchors[0])
	for i := 1; i < len(rec.Anchors); i++ {
		if r := rankAnchor(rec.Anchors[i]); r.less(bestRank) {
			best, bestRank = i, r
		}
	}
	return rec.Anchors[best], true
}

func rankRecord(rec *contracts.MemoryRecord) anchorRank {
	if a, ok := BestAnchor(rec); ok {
		return rankAnchor(a)
	}
	return anchorRank{priority: unanchoredRank}
}

// ResolveConflict picks the winner between two records sharing an id with
// differing content. The order is total: anchor class priority, earliest
// anchor timestamp, lowest anchor reference, and as the final tie-break the
// lexicographically smaller content hash. Passing the same two records in
// either order yields the same winner.
func ResolveConflict(a, b *contracts.MemoryRecord) *contracts.MemoryRecord {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	ra, rb := rankRecord(a), rankRecord(b)
	if ra.less(rb) {
		return a
	}
	if rb.less(ra) {
		return b
	}
	ha, errA := merkle.LeafHash(a)
	hb, errB := merkle.LeafHash(b)
	switch {
	case errA != nil && errB != nil:
		// Neither projects cleanly; compare the payload hash claims, which
		// differ for any genuine conflict.
		if b.PayloadHash < a.PayloadHash {
			return b
		}
		return a
	case errA != nil:
		// Unhashable content cannot win against hashable content.
		return b
	case errB != nil:
		return a
	}
	if hb < ha {
		return b
	}
	return a
}
