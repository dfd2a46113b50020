package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
	"github.com/Mindburn-Labs/aurora/pkg/router"
)

// Engine is the slice of the router the ingress calls.
type Engine interface {
	Decide(ctx context.Context, req router.DecideRequest) (router.DecideResponse, error)
	Feedback(ctx context.Context, req router.FeedbackRequest) (router.FeedbackResponse, error)
	Status(ctx context.Context) (router.StatusReport, error)
}

// Server is the ingress API over one engine.
type Server struct {
	engine  Engine
	log     *slog.Logger
	limiter Limiter
	auth    *Authenticator
	metrics http.Handler
}

// Option customizes a Server.
type Option func(*Server)

// WithLimiter installs a per-tenant rate limiter.
func WithLimiter(l Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithAuthenticator installs bearer-token auth.
func WithAuthenticator(a *Authenticator) Option {
	return func(s *Server) { s.auth = a }
}

// WithMetricsHandler serves h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger routes request logging.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// NewServer builds the ingress over engine.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{engine: engine, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the route set wrapped in the middleware chain:
// request id, then auth, then the tenant rate limit.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /decisions", s.handleDecide)
	mux.HandleFunc("POST /feedback", s.handleFeedback)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	var h http.Handler = mux
	h = s.rateLimit(h)
	if s.auth != nil {
		h = s.auth.middleware(h)
	}
	return RequestID(h)
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req router.DecideRequest
	if err := decodeValidated(w, r, decideSchema, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if bound := TenantFrom(r.Context()); bound != "" && req.Tenant != bound {
		writeProblem(w, r, http.StatusForbidden, "Forbidden",
			"request tenant is not the token tenant", string(contracts.KindPolicyReject))
		return
	}
	resp, err := s.engine.Decide(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req router.FeedbackRequest
	if err := decodeValidated(w, r, feedbackSchema, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.engine.Feedback(r.Context(), req)
	if err != nil {
		// A replay carries the stored result; return it with the
		// conflict status so callers see what was finalized.
		if errors.Is(err, contracts.ErrAlreadyFinalized) && resp.DecisionID != "" {
			writeJSON(w, http.StatusConflict, resp)
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Status(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

var _ Engine = (*router.Engine)(nil)
