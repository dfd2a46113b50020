// Package signal fetches the adaptive-exploration signal that modulates the
// strategist's exploration rate. Reads are cached and never block a decision
// on a dead source: failures serve the last good value, then neutral defaults.
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

const (
	defaultStatePath  = "/state"
	defaultHealthPath = "/health"
	defaultTimeout    = 2 * time.Second
	defaultTTL        = 5 * time.Second
)

// Reading is one sample of the adaptive-exploration signal. All fields are
// normalized to [0, 1]. Fallback marks the neutral defaults served when the
// source is unreachable and no cached value exists.
type Reading struct {
	Psi       float64   `json:"psi"`
	Coherence float64   `json:"coherence"`
	Density   float64   `json:"density"`
	Entropy   float64   `json:"entropy,omitempty"`
	Fallback  bool      `json:"fallback,omitempty"`
	FetchedAt time.Time `json:"-"`
}

// Neutral is the reading served when nothing better is known.
func Neutral() Reading {
	return Reading{Psi: 0.5, Coherence: 0.5, Density: 0.5, Fallback: true}
}

// Reader yields signal readings. Read never fails; degraded sources yield
// stale or fallback readings instead.
type Reader interface {
	Read(ctx context.Context) Reading
}

// Config locates the signal source.
type Config struct {
	URL     string        `json:"url" yaml:"url"`
	Path    string        `json:"path,omitempty" yaml:"path,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	TTL     time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

// Stats describes cache and breaker behavior since construction.
type Stats struct {
	Hits       uint64  `json:"cache_hits"`
	Misses     uint64  `json:"cache_misses"`
	Errors     uint64  `json:"cache_errors"`
	HitRate    float64 `json:"cache_hit_rate"`
	CacheAge   float64 `json:"cache_age_seconds"`
	CacheValid bool    `json:"cache_valid"`
	Breaker    string  `json:"breaker_state"`
}

// Source is a cached HTTP client for the signal service.
type Source struct {
	cfg     Config
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	cached   Reading
	cachedAt time.Time
	hits     uint64
	misses   uint64
	errors   uint64
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithSourceLogger sets the structured logger.
func WithSourceLogger(l *slog.Logger) SourceOption {
	return func(s *Source) { s.log = l }
}

// WithSourceClock overrides the time source.
func WithSourceClock(now func() time.Time) SourceOption {
	return func(s *Source) { s.now = now }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) SourceOption {
	return func(s *Source) { s.client = c }
}

// NewSource builds a Source with the config defaults filled in.
func NewSource(cfg Config, opts ...SourceOption) *Source {
	if cfg.Path == "" {
		cfg.Path = defaultStatePath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	s := &Source{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    slog.Default(),
		now:    time.Now,
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "signal-source",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read returns the current signal reading. Within the TTL the cached value is
// served; on fetch failure the last good value wins, then neutral defaults.
func (s *Source) Read(ctx context.Context) Reading {
	s.mu.Lock()
	now := s.now()
	if !s.cachedAt.IsZero() && now.Sub(s.cachedAt) < s.cfg.TTL {
		s.hits++
		r := s.cached
		s.mu.Unlock()
		return r
	}
	s.misses++
	stale := s.cached
	hasStale := !s.cachedAt.IsZero()
	s.mu.Unlock()

	fresh, err := s.fetch(ctx)
	if err != nil {
		s.mu.Lock()
		s.errors++
		s.mu.Unlock()
		s.log.Warn("signal fetch failed", "url", s.cfg.URL, "error", err)
		if hasStale {
			return stale
		}
		return Neutral()
	}

	s.mu.Lock()
	s.cached = fresh
	s.cachedAt = now
	s.mu.Unlock()
	return fresh
}

func (s *Source) fetch(ctx context.Context) (Reading, error) {
	out, err := s.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL+s.cfg.Path, nil)
		if err != nil {
			return Reading{}, fmt.Errorf("build signal request: %w", err)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return Reading{}, fmt.Errorf("signal request: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return Reading{}, fmt.Errorf("signal source returned status %d", resp.StatusCode)
		}
		var r Reading
		if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
			return Reading{}, fmt.Errorf("decode signal response: %w", err)
		}
		return r, nil
	})
	if err != nil {
		return Reading{}, err
	}
	r := out.(Reading)
	r.Psi = clamp01(r.Psi)
	r.Coherence = clamp01(r.Coherence)
	r.Density = clamp01(r.Density)
	r.Entropy = clamp01(r.Entropy)
	r.Fallback = false
	r.FetchedAt = s.now()
	return r, nil
}

// Healthy probes the source's health endpoint.
func (s *Source) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.URL+defaultHealthPath, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Invalidate forces a refetch on the next Read.
func (s *Source) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cachedAt = time.Time{}
}

// Stats reports cache counters and the breaker state.
func (s *Source) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Hits:    s.hits,
		Misses:  s.misses,
		Errors:  s.errors,
		Breaker: s.breaker.State().String(),
	}
	if total := s.hits + s.misses; total > 0 {
		st.HitRate = float64(s.hits) / float64(total)
	}
	if !s.cachedAt.IsZero() {
		st.CacheAge = s.now().Sub(s.cachedAt).Seconds()
		st.CacheValid = s.now().Sub(s.cachedAt) < s.cfg.TTL
	}
	return st
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Static serves a fixed reading. Used by the offline simulator and tests.
type Static struct {
	Reading Reading
}

// Read implements Reader.
func (s Static) Read(context.Context) Reading {
	return s.Reading
}

var (
	_ Reader = (*Source)(nil)
	_ Reader = Static{}
)
