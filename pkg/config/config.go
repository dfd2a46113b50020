// Package config carries node settings. Load reads environment variables
// over built-in defaults; profile files layer a named YAML profile under
// the environment for per-deployment presets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Store drivers accepted by AURORA_STORE_DRIVER.
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Audit modes accepted by AURORA_AUDIT_MODE.
const (
	AuditStrict     = "strict"
	AuditPermissive = "permissive"
)

// Config holds one node's settings. Every field carries a default, so a
// zero environment still boots.
type Config struct {
	ListenAddr       string
	LogLevel         string
	StoreDriver      string
	StorePath        string
	SnapshotDir      string
	PolicyModule     string
	FederationConfig string
	SignalURL        string
	SignalTimeout    time.Duration
	CacheTTL         time.Duration
	Epsilon          float64
	Alpha            float64
	Gamma            float64
	AuditMode        string
	RedisAddr        string
	JWTRequired      bool
	JWTSecret        string
}

// Default is the standalone development setup: file-backed store, strict
// auditing, no policy module, no federation, no ingress auth.
func Default() Config {
	return Config{
		ListenAddr:    ":8080",
		LogLevel:      "info",
		StoreDriver:   DriverFile,
		StorePath:     "data/decisions.log",
		SnapshotDir:   "data/snapshots",
		SignalTimeout: 2 * time.Second,
		CacheTTL:      5 * time.Second,
		Epsilon:       0.1,
		Alpha:         0.1,
		Gamma:         0.95,
		AuditMode:     AuditStrict,
	}
}

// Load reads configuration from AURORA_* environment variables over the
// defaults.
func Load() (Config, error) {
	cfg := Default()
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strVar(&c.ListenAddr, "AURORA_LISTEN_ADDR")
	strVar(&c.LogLevel, "AURORA_LOG_LEVEL")
	strVar(&c.StoreDriver, "AURORA_STORE_DRIVER")
	strVar(&c.StorePath, "AURORA_STORE_PATH")
	strVar(&c.SnapshotDir, "AURORA_SNAPSHOT_DIR")
	strVar(&c.PolicyModule, "AURORA_POLICY_MODULE")
	strVar(&c.FederationConfig, "AURORA_FEDERATION_CONFIG")
	strVar(&c.SignalURL, "AURORA_SIGNAL_URL")
	strVar(&c.AuditMode, "AURORA_AUDIT_MODE")
	strVar(&c.RedisAddr, "AURORA_REDIS_ADDR")
	strVar(&c.JWTSecret, "AURORA_JWT_SECRET")

	if err := durVar(&c.SignalTimeout, "AURORA_SIGNAL_TIMEOUT"); err != nil {
		return err
	}
	if err := durVar(&c.CacheTTL, "AURORA_CACHE_TTL"); err != nil {
		return err
	}
	if err := floatVar(&c.Epsilon, "AURORA_EPSILON"); err != nil {
		return err
	}
	if err := floatVar(&c.Alpha, "AURORA_ALPHA"); err != nil {
		return err
	}
	if err := floatVar(&c.Gamma, "AURORA_GAMMA"); err != nil {
		return err
	}
	return boolVar(&c.JWTRequired, "AURORA_JWT_REQUIRED")
}

// Validate rejects settings the node cannot run with.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverFile, DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("store driver %q not one of file, sqlite, postgres", c.StoreDriver)
	}
	switch c.AuditMode {
	case AuditStrict, AuditPermissive:
	default:
		return fmt.Errorf("audit mode %q not one of strict, permissive", c.AuditMode)
	}
	if c.Epsilon < 0 || c.Epsilon > 1 {
		return fmt.Errorf("epsilon %v outside [0,1]", c.Epsilon)
	}
	if c.Alpha <= 0 || c.Alpha > 1 {
		return fmt.Errorf("alpha %v outside (0,1]", c.Alpha)
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("gamma %v outside [0,1]", c.Gamma)
	}
	if c.JWTRequired && c.JWTSecret == "" {
		return fmt.Errorf("AURORA_JWT_REQUIRED set without AURORA_JWT_SECRET")
	}
	return nil
}

func strVar(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func durVar(dst *time.Duration, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}

func floatVar(dst *float64, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = f
	return nil
}

func boolVar(dst *bool, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = b
	return nil
}
