package strategist

import (
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/Mindburn-Labs/aurora/pkg/canonicalize"
	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

// SnapshotSchemaVersion is stamped into every exported snapshot.
const SnapshotSchemaVersion = "1.0.0"

// snapshotCompat is the range of schema versions Restore accepts.
var snapshotCompat = mustConstraint(">=1.0.0 <2.0.0")

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// snapshotDoc is the serialized form. Canonical encoding sorts the keys, so
// the hyperparameters block always precedes the table block.
type snapshotDoc struct {
	SchemaVersion string                        `json:"schema_version"`
	Hyper         Config                        `json:"hyperparameters"`
	Epsilon       float64                       `json:"epsilon"`
	DecisionCount uint64                        `json:"decision_count"`
	Table         map[string]map[string]float64 `json:"table"`
}

// Export serializes the full learning state as canonical JSON. Feeding the
// result back through Restore and Export reproduces the identical bytes, and
// the canonical form makes the snapshot content-addressable.
func (s *Strategist) Export() ([]byte, error) {
	s.mu.Lock()
	doc := snapshotDoc{
		SchemaVersion: s.snapshotVersion,
		Hyper:         s.cfg,
		Epsilon:       s.epsilon,
		DecisionCount: s.decisionCount,
	}
	s.mu.Unlock()
	doc.Table = s.table.Export()

	data, err := canonicalize.Canonical(doc)
	if err != nil {
		return nil, fmt.Errorf("snapshot export: %w", err)
	}
	return data, nil
}

// Restore replaces the learning state with a previously exported snapshot.
// The schema version must fall inside the supported range.
func (s *Strategist) Restore(data []byte) error {
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("snapshot decode: %w: %v", contracts.ErrCorruption, err)
	}

	v, err := semver.NewVersion(doc.SchemaVersion)
	if err != nil {
		return fmt.Errorf("snapshot schema version %q: %w", doc.SchemaVersion, err)
	}
	if !snapshotCompat.Check(v) {
		return fmt.Errorf("snapshot schema %s outside supported range %s", doc.SchemaVersion, snapshotCompat)
	}
	if err := doc.Hyper.Validate(); err != nil {
		return fmt.Errorf("snapshot hyperparameters: %w", err)
	}

	s.table.Replace(doc.Table)
	s.mu.Lock()
	s.cfg = doc.Hyper
	s.epsilon = doc.Epsilon
	s.decisionCount = doc.DecisionCount
	s.snapshotVersion = doc.SchemaVersion
	s.mu.Unlock()
	return nil
}
