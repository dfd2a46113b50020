package federation

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/Mindburn-Labs/aurora/pkg/canonicalize"
	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

// kdfSalt domain-separates federation keys from every other use of the
// master seed.
const kdfSalt = "aurora-federation-kdf"

// SigningBytes returns the canonical bytes a record signature covers: the
// stable identity fields, never the signature or anchor set. Two nodes
// serializing the same record always produce the same bytes.
func SigningBytes(rec *contracts.MemoryRecord) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("signing bytes: nil record")
	}
	b, err := canonicalize.Canonical(map[string]any{
		"id":           rec.ID,
		"timestamp":    rec.Timestamp.UTC().Format(time.RFC3339Nano),
		"type":         rec.Type,
		"component":    rec.Component,
		"version":      rec.Version,
		"payload_hash": rec.PayloadHash,
	})
	if err != nil {
		return nil, fmt.Errorf("signing bytes for %s: %w", rec.ID, err)
	}
	return b, nil
}

// Keyring holds one node's Ed25519 signing key, derived from a master seed
// via HKDF-SHA256 with the node id as info. The same seed and node id always
// yield the same keypair, so key distribution is just seed custody.
type Keyring struct {
	nodeID string
	priv   ed25519.PrivateKey
	pub    ed25519.PublicKey
}

// NewKeyring derives the node's keypair from the master seed.
func NewKeyring(masterSeed []byte, nodeID string) (*Keyring, error) {
	if len(masterSeed) == 0 {
		return nil, fmt.Errorf("keyring: master seed required")
	}
	if nodeID == "" {
		return nil, fmt.Errorf("keyring: node id required")
	}
	r := hkdf.New(sha256.New, masterSeed, []byte(kdfSalt), []byte(nodeID))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("keyring: derive %s: %w", nodeID, err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Keyring{
		nodeID: nodeID,
		priv:   priv,
		pub:    priv.Public().(ed25519.PublicKey),
	}, nil
}

// GenerateKeyring builds a keyring from a random seed, for tests and
// single-node development.
func GenerateKeyring(nodeID string) (*Keyring, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("keyring: seed: %w", err)
	}
	return NewKeyring(seed, nodeID)
}

// NodeID returns the identity records are signed as.
func (k *Keyring) NodeID() string { return k.nodeID }

// PublicKey returns the verification key.
func (k *Keyring) PublicKey() ed25519.PublicKey { return k.pub }

// PublicKeyHex is the form peers carry in their config.
func (k *Keyring) PublicKeyHex() string { return hex.EncodeToString(k.pub) }

// SignRecord signs rec in place, setting SignerID and the hex signature.
func (k *Keyring) SignRecord(rec *contracts.MemoryRecord) error {
	rec.SignerID = k.nodeID
	msg, err := SigningBytes(rec)
	if err != nil {
		return err
	}
	rec.Signature = hex.EncodeToString(ed25519.Sign(k.priv, msg))
	return nil
}

// SignBytes signs raw bytes, used for projection roots.
func (k *Keyring) SignBytes(msg []byte) string {
	return hex.EncodeToString(ed25519.Sign(k.priv, msg))
}

// Verifier checks a record's signature against the signer's trusted key.
type Verifier interface {
	VerifyRecord(rec *contracts.MemoryRecord) error
}

// KeyVerifier verifies against a static signer-id to public-key map built
// from peer config. Signing stays in process; verification never shells out.
type KeyVerifier struct {
	keys map[string]ed25519.PublicKey
}

// NewKeyVerifier builds a verifier from the peers carrying public keys.
func NewKeyVerifier(peers ...Peer) (*KeyVerifier, error) {
	v := &KeyVerifier{keys: make(map[string]ed25519.PublicKey, len(peers))}
	for _, p := range peers {
		if p.PublicKey == "" {
			continue
		}
		raw, err := hex.DecodeString(p.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("verifier: peer %s public key: %w", p.NodeID, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("verifier: peer %s public key is %d bytes, want %d", p.NodeID, len(raw), ed25519.PublicKeySize)
		}
		v.keys[p.NodeID] = ed25519.PublicKey(raw)
	}
	return v, nil
}

// Trust adds a signer key, typically the local node's own.
func (v *KeyVerifier) Trust(nodeID string, pub ed25519.PublicKey) {
	v.keys[nodeID] = pub
}

// VerifyRecord implements Verifier.
func (v *KeyVerifier) VerifyRecord(rec *contracts.MemoryRecord) error {
	if rec.SignerID == "" || rec.Signature == "" {
		return fmt.Errorf("record %s is unsigned", rec.ID)
	}
	pub, ok := v.keys[rec.SignerID]
	if !ok {
		return fmt.Errorf("record %s signed by untrusted node %s", rec.ID, rec.SignerID)
	}
	sig, err := hex.DecodeString(rec.Signature)
	if err != nil {
		return fmt.Errorf("record %s signature: %w", rec.ID, err)
	}
	msg, err := SigningBytes(rec)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, msg, sig) {
		return fmt.Errorf("record %s signature does not verify against %s", rec.ID, rec.SignerID)
	}
	return nil
}

var _ Verifier = (*KeyVerifier)(nil)
