package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type ctxKey int

const (
	ctxRequestID ctxKey = iota
	ctxTenant
)

// RequestID tags every request with an X-Request-ID, reusing the
// client's id when it sent one, and echoes it on the response so
// problem documents and logs correlate.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), ctxRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFrom extracts the request id, empty when untagged.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxRequestID).(string)
	return id
}

// Limiter admits or rejects one request for a tenant key.
type Limiter interface {
	Allow(ctx context.Context, tenant string) (bool, error)
}

// TenantLimiter is the in-process limiter: one token bucket per tenant
// key, with a janitor dropping buckets idle for three minutes.
type TenantLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rps     rate.Limit
	burst   int
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewTenantLimiter allows rps requests per second with the given burst,
// per tenant.
func NewTenantLimiter(rps float64, burst int) *TenantLimiter {
	l := &TenantLimiter{
		buckets: make(map[string]*bucket),
		rps:     rate.Limit(rps),
		burst:   burst,
		stop:    make(chan struct{}),
	}
	go l.janitor()
	return l
}

func (l *TenantLimiter) Allow(_ context.Context, tenant string) (bool, error) {
	l.mu.Lock()
	b, ok := l.buckets[tenant]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[tenant] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()
	return b.lim.Allow(), nil
}

// Close stops the janitor.
func (l *TenantLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *TenantLimiter) janitor() {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
			l.mu.Lock()
			for k, b := range l.buckets {
				if time.Since(b.lastSeen) > 3*time.Minute {
					delete(l.buckets, k)
				}
			}
			l.mu.Unlock()
		}
	}
}

// tenantKey picks the rate-limit key: the authenticated tenant, else the
// X-Aurora-Tenant header, else the client address.
func tenantKey(r *http.Request) string {
	if t := TenantFrom(r.Context()); t != "" {
		return t
	}
	if t := r.Header.Get("X-Aurora-Tenant"); t != "" {
		return t
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimit enforces the per-tenant limiter. A limiter error admits the
// request; only an explicit deny turns callers away.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		ok, err := s.limiter.Allow(r.Context(), tenantKey(r))
		if err != nil {
			s.log.Warn("rate limiter unavailable", "error", err)
			ok = true
		}
		if !ok {
			w.Header().Set("Retry-After", "1")
			writeProblem(w, r, http.StatusTooManyRequests, "Too Many Requests",
				"tenant rate limit exceeded", "rate_limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}
