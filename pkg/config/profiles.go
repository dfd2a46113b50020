package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultProfile is the profile name used when none is requested.
const DefaultProfile = "default"

// Profile is one named settings block of a profile file. Pointer fields
// distinguish absent keys from explicit zeros, so an overlay only touches
// what the profile actually sets. Durations are strings in Go syntax
// ("2s", "750ms").
type Profile struct {
	ListenAddr       *string  `yaml:"listen_addr"`
	LogLevel         *string  `yaml:"log_level"`
	StoreDriver      *string  `yaml:"store_driver"`
	StorePath        *string  `yaml:"store_path"`
	SnapshotDir      *string  `yaml:"snapshot_dir"`
	PolicyModule     *string  `yaml:"policy_module"`
	FederationConfig *string  `yaml:"federation_config"`
	SignalURL        *string  `yaml:"signal_url"`
	SignalTimeout    *string  `yaml:"signal_timeout"`
	CacheTTL         *string  `yaml:"cache_ttl"`
	Epsilon          *float64 `yaml:"epsilon"`
	Alpha            *float64 `yaml:"alpha"`
	Gamma            *float64 `yaml:"gamma"`
	AuditMode        *string  `yaml:"audit_mode"`
	RedisAddr        *string  `yaml:"redis_addr"`
	JWTRequired      *bool    `yaml:"jwt_required"`
	JWTSecret        *string  `yaml:"jwt_secret"`
}

type profileFile struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// LoadProfile layers the named profile from a YAML file between the
// defaults and the environment: defaults first, then the profile, then
// AURORA_* variables on top. An empty path means env-only configuration
// and is an error when a non-default profile was asked for.
func LoadProfile(path, name string) (Config, error) {
	if name == "" {
		name = DefaultProfile
	}
	if path == "" {
		if name != DefaultProfile {
			return Config{}, fmt.Errorf("profile %q requested without a config file", name)
		}
		return Load()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config file: %w", err)
	}
	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	p, ok := file.Profiles[name]
	if !ok {
		return Config{}, fmt.Errorf("profile %q not found in %s", name, path)
	}

	cfg := Default()
	if err := p.apply(&cfg); err != nil {
		return Config{}, fmt.Errorf("profile %q: %w", name, err)
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ProfileNames lists the profiles a config file defines.
func ProfileNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config file: %w", err)
	}
	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	names := make([]string, 0, len(file.Profiles))
	for name := range file.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (p Profile) apply(c *Config) error {
	setStr(&c.ListenAddr, p.ListenAddr)
	setStr(&c.LogLevel, p.LogLevel)
	setStr(&c.StoreDriver, p.StoreDriver)
	setStr(&c.StorePath, p.StorePath)
	setStr(&c.SnapshotDir, p.SnapshotDir)
	setStr(&c.PolicyModule, p.PolicyModule)
	setStr(&c.FederationConfig, p.FederationConfig)
	setStr(&c.SignalURL, p.SignalURL)
	setStr(&c.AuditMode, p.AuditMode)
	setStr(&c.RedisAddr, p.RedisAddr)
	setStr(&c.JWTSecret, p.JWTSecret)

	if err := setDur(&c.SignalTimeout, p.SignalTimeout, "signal_timeout"); err != nil {
		return err
	}
	if err := setDur(&c.CacheTTL, p.CacheTTL, "cache_ttl"); err != nil {
		return err
	}
	if p.Epsilon != nil {
		c.Epsilon = *p.Epsilon
	}
	if p.Alpha != nil {
		c.Alpha = *p.Alpha
	}
	if p.Gamma != nil {
		c.Gamma = *p.Gamma
	}
	if p.JWTRequired != nil {
		c.JWTRequired = *p.JWTRequired
	}
	return nil
}

func setStr(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDur(dst *time.Duration, v *string, key string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
