// Package federation reconciles memory logs across peer nodes. Each node
// periodically diffs a peer's id list against its own, fetches what is
// missing, validates it, and inserts it; the deterministic merge and the
// conflict resolver guarantee every node converges to the same active set
// and the same merkle root no matter the arrival order.
package federation

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/aurora/pkg/retry"
)

// Sync loop defaults.
const (
	DefaultSyncInterval   = 60 * time.Second
	defaultPageSize       = 500
	defaultMaxConcurrency = 4
)

var defaultRetryBackoff = []int{5, 10, 30}

// Peer is one remote node this node pulls from. PublicKey is the hex Ed25519
// key records signed by the peer verify against.
type Peer struct {
	NodeID    string `yaml:"node_id" json:"node_id"`
	URL       string `yaml:"url" json:"url"`
	PublicKey string `yaml:"public_key,omitempty" json:"public_key,omitempty"`
}

// SyncSettings tunes the pull loop. RetryBackoff is in seconds to match the
// on-disk config format.
type SyncSettings struct {
	IntervalSeconds int   `yaml:"interval_seconds" json:"interval_seconds"`
	RetryBackoff    []int `yaml:"retry_backoff" json:"retry_backoff"`
	PageSize        int   `yaml:"page_size" json:"page_size"`
	MaxConcurrency  int   `yaml:"max_concurrency" json:"max_concurrency"`
}

// TrustSettings controls record acceptance.
type TrustSettings struct {
	RequireSignatures bool `yaml:"require_signatures" json:"require_signatures"`
	MinQuorum         int  `yaml:"min_quorum" json:"min_quorum"`
}

// Config is the federation section of a node's configuration.
type Config struct {
	NodeID string        `yaml:"node_id" json:"node_id"`
	Peers  []Peer        `yaml:"peers" json:"peers"`
	Sync   SyncSettings  `yaml:"sync" json:"sync"`
	Trust  TrustSettings `yaml:"trust" json:"trust"`
}

// DefaultConfig is a standalone node: no peers, signatures required.
func DefaultConfig() Config {
	return Config{
		Sync: SyncSettings{
			IntervalSeconds: int(DefaultSyncInterval / time.Second),
			RetryBackoff:    append([]int(nil), defaultRetryBackoff...),
			PageSize:        defaultPageSize,
			MaxConcurrency:  defaultMaxConcurrency,
		},
		Trust: TrustSettings{RequireSignatures: true, MinQuorum: 2},
	}
}

// fileConfig keeps the sync and trust sections as pointers so an absent
// section keeps its defaults wholesale, the way an absent file does.
type fileConfig struct {
	NodeID string         `yaml:"node_id"`
	Peers  []Peer         `yaml:"peers"`
	Sync   *SyncSettings  `yaml:"sync"`
	Trust  *TrustSettings `yaml:"trust"`
}

// LoadConfig reads a federation YAML file. An empty path or a missing file
// yields the standalone default; a malformed file is an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("federation config: %w", err)
	}

	var raw fileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("federation config %s: %w", path, err)
	}
	cfg.NodeID = raw.NodeID
	cfg.Peers = raw.Peers
	if raw.Sync != nil {
		cfg.Sync = *raw.Sync
	}
	if raw.Trust != nil {
		cfg.Trust = *raw.Trust
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	if c.Sync.IntervalSeconds <= 0 {
		c.Sync.IntervalSeconds = int(DefaultSyncInterval / time.Second)
	}
	if len(c.Sync.RetryBackoff) == 0 {
		c.Sync.RetryBackoff = append([]int(nil), defaultRetryBackoff...)
	}
	if c.Sync.PageSize <= 0 {
		c.Sync.PageSize = defaultPageSize
	}
	if c.Sync.MaxConcurrency <= 0 {
		c.Sync.MaxConcurrency = defaultMaxConcurrency
	}
}

// Validate rejects configs the sync loop cannot act on.
func (c Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Peers))
	for i, p := range c.Peers {
		if p.NodeID == "" || p.URL == "" {
			return fmt.Errorf("federation config: peer %d requires node_id and url", i)
		}
		if p.NodeID == c.NodeID {
			return fmt.Errorf("federation config: peer %s is this node", p.NodeID)
		}
		if _, dup := seen[p.NodeID]; dup {
			return fmt.Errorf("federation config: duplicate peer %s", p.NodeID)
		}
		seen[p.NodeID] = struct{}{}
		if c.Trust.RequireSignatures && p.PublicKey == "" {
			return fmt.Errorf("federation config: trust requires signatures but peer %s has no public_key", p.NodeID)
		}
	}
	return nil
}

// Interval is the sync cadence.
func (c Config) Interval() time.Duration {
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// RetryPolicy converts the backoff schedule for the retry package.
func (c Config) RetryPolicy() retry.Policy {
	schedule := make([]time.Duration, 0, len(c.Sync.RetryBackoff))
	for _, s := range c.Sync.RetryBackoff {
		schedule = append(schedule, time.Duration(s)*time.Second)
	}
	return retry.Policy{Schedule: schedule, MaxJitter: time.Second}
}
