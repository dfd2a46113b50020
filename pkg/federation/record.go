package federation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/aurora/pkg/canonicalize"
	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

// NewRecord mints a memory record over an arbitrary JSON-encodable payload,
// computing the canonical payload hash the rest of the federation machinery
// keys on.
func NewRecord(id, recordType, component, version string, at time.Time, payload any) (*contracts.MemoryRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: memory record requires an id", contracts.ErrInvalidInput)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("record %s: encode payload: %w", id, err)
	}
	hash, err := canonicalize.Hash(json.RawMessage(raw))
	if err != nil {
		return nil, fmt.Errorf("record %s: hash payload: %w", id, err)
	}
	return &contracts.MemoryRecord{
		ID:          id,
		Timestamp:   at.UTC(),
		Type:        recordType,
		Component:   component,
		Version:     version,
		PayloadHash: hash,
		Payload:     raw,
	}, nil
}

// Validator screens records before insertion: structural checks, payload
// integrity against the carried hash, and signature verification when the
// trust policy demands it.
type Validator struct {
	trust    TrustSettings
	verifier Verifier
}

// NewValidator builds a validator for the given trust policy.
func NewValidator(trust TrustSettings, verifier Verifier) *Validator {
	return &Validator{trust: trust, verifier: verifier}
}

// Validate returns nil when the record may be inserted.
func (v *Validator) Validate(rec *contracts.MemoryRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: memory record requires an id", contracts.ErrInvalidInput)
	}
	if rec.Timestamp.IsZero() {
		return fmt.Errorf("%w: record %s requires a timestamp", contracts.ErrInvalidInput, rec.ID)
	}
	if rec.PayloadHash == "" {
		return fmt.Errorf("%w: record %s requires a payload hash", contracts.ErrInvalidInput, rec.ID)
	}
	if len(rec.Payload) > 0 {
		sum, err := canonicalize.Hash(json.RawMessage(rec.Payload))
		if err != nil {
			return fmt.Errorf("%w: record %s payload is not valid JSON", contracts.ErrInvalidInput, rec.ID)
		}
		if sum != rec.PayloadHash {
			return fmt.Errorf("%w: record %s payload hash mismatch", contracts.ErrCorruption, rec.ID)
		}
	}
	if v.trust.RequireSignatures {
		if v.verifier == nil {
			return fmt.Errorf("%w: trust requires signatures but no verifier is configured", contracts.ErrInvalidInput)
		}
		if err := v.verifier.VerifyRecord(rec); err != nil {
			return fmt.Errorf("%w: %v", contracts.ErrInvalidInput, err)
		}
	}
	return nil
}
