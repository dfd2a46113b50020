package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/aurora/pkg/canonicalize"
	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

func hexSHA(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestRootEmpty(t *testing.T) {
	assert.Equal(t, hexSHA(""), Root(nil))
	assert.Equal(t, hexSHA(""), Root([]string{}))
}

func TestRootSingleLeaf(t *testing.T) {
	leaf := hexSHA("only")
	assert.Equal(t, leaf, Root([]string{leaf}))
}

func TestRootPairsConcatenateHexDigests(t *testing.T) {
	a, b := hexSHA("a"), hexSHA("b")
	assert.Equal(t, hexSHA(a+b), Root([]string{a, b}))
}

func TestRootOddLeafDuplicatesItself(t *testing.T) {
	a, b, c := hexSHA("a"), hexSHA("b"), hexSHA("c")
	ab := hexSHA(a + b)
	cc := hexSHA(c + c)
	assert.Equal(t, hexSHA(ab+cc), Root([]string{a, b, c}))
}

func TestLeafHashUsesCanonicalProjection(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := contracts.MemoryRecord{
		ID:          "mem-1",
		Timestamp:   ts,
		Type:        "decision",
		Component:   "router",
		Version:     "1",
		PayloadHash: "abc123",
		Signature:   "sig",
		Payload:     json.RawMessage(`{"z":1,"a":2}`),
	}

	got, err := LeafHash(&rec)
	require.NoError(t, err)

	want, err := canonicalize.Hash(map[string]any{
		"id":        "mem-1",
		"timestamp": "2026-03-01T12:00:00Z",
		"type":      "decision",
		"component": "router",
		"version":   "1",
		"hash":      "abc123",
		"sig":       "sig",
		"data":      map[string]any{"a": 2, "z": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

// Anchoring or superseding a record must not move the root.
func TestLeafHashIgnoresVolatileFields(t *testing.T) {
	rec := contracts.MemoryRecord{
		ID:          "mem-2",
		Timestamp:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Type:        "decision",
		Component:   "router",
		Version:     "1",
		PayloadHash: "abc",
		Payload:     json.RawMessage(`{"v":1}`),
	}
	before, err := LeafHash(&rec)
	require.NoError(t, err)

	rec.Anchors = []contracts.Anchor{{Class: contracts.AnchorBTC, Ref: "deadbeef"}}
	rec.Superseded = true
	rec.MerkleRoot = "whatever"
	after, err := LeafHash(&rec)
	require.NoError(t, err)

	assert.Equal(t, before, after)
}

func TestRecordsRootChangesWithContent(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mk := func(id, payload string) contracts.MemoryRecord {
		return contracts.MemoryRecord{
			ID: id, Timestamp: ts, Type: "t", Component: "c", Version: "1",
			PayloadHash: canonicalize.SumHex([]byte(payload)),
			Payload:     json.RawMessage(payload),
		}
	}

	r1, err := RecordsRoot([]contracts.MemoryRecord{mk("a", `{"n":1}`), mk("b", `{"n":2}`)})
	require.NoError(t, err)
	r2, err := RecordsRoot([]contracts.MemoryRecord{mk("a", `{"n":1}`), mk("b", `{"n":3}`)})
	require.NoError(t, err)

	assert.NotEqual(t, r1, r2)
}
