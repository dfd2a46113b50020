package federation

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Mindburn-Labs/aurora/pkg/memory"
)

// Server exposes the peer-facing federation API: the paged id list, record
// fetch, the merkle projection, and liveness. It never mutates the store;
// peers pull, they do not push. The only write surface is the operator sync
// trigger, which starts an outbound pull round.
type Server struct {
	cfg       Config
	store     memory.Store
	projector *Projector
	syncer    *Syncer
	log       *slog.Logger
}

// ServerOption customizes a Server.
type ServerOption func(*Server)

// WithServerLogger routes request logging.
func WithServerLogger(log *slog.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// WithServerSyncer enables POST /federation/sync, running one pull round on
// demand. Without it the route answers 503.
func WithServerSyncer(sy *Syncer) ServerOption {
	return func(s *Server) { s.syncer = sy }
}

// NewServer builds the federation API server.
func NewServer(cfg Config, store memory.Store, projector *Projector, opts ...ServerOption) *Server {
	s := &Server{cfg: cfg, store: store, projector: projector, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the route set.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /federation/memories", s.handleListMemories)
	mux.HandleFunc("GET /federation/memories/{id}", s.handleGetMemory)
	mux.HandleFunc("GET /federation/projection", s.handleProjection)
	mux.HandleFunc("GET /federation/peers", s.handlePeers)
	mux.HandleFunc("GET /federation/health", s.handleHealth)
	mux.HandleFunc("POST /federation/sync", s.handleSync)
	return mux
}

// idPage is one page of the stable (timestamp, id) ordered id list.
type idPage struct {
	IDs   []string `json:"ids"`
	Total int64    `json:"total"`
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", s.cfg.Sync.PageSize)
	if limit <= 0 || limit > s.cfg.Sync.PageSize {
		limit = s.cfg.Sync.PageSize
	}
	offset := queryInt(r, "offset", 0)

	ids, err := s.store.ListIDs(r.Context(), limit, offset)
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	total, err := s.store.Count(r.Context())
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, idPage{IDs: ids, Total: total})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			s.fail(w, r, http.StatusNotFound, err)
			return
		}
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleProjection(w http.ResponseWriter, r *http.Request) {
	proj, err := s.projector.Projection(r.Context())
	if err != nil {
		s.fail(w, r, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

func (s *Server) handlePeers(w http.ResponseWriter, _ *http.Request) {
	peers := s.cfg.Peers
	if peers == nil {
		peers = []Peer{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id": s.cfg.NodeID,
		"peers":   peers,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "node_id": s.cfg.NodeID})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "sync not configured on this node"})
		return
	}
	report := s.syncer.SyncOnce(r.Context())
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.log.Error("federation request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
