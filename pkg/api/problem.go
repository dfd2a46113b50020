// Package api is the ingress: schema-validated decide/feedback/status
// endpoints over the router engine, with RFC 7807 problem documents,
// request ids, per-tenant rate limits, and optional bearer auth.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

// problemTypeBase prefixes the type URI of every classified problem.
const problemTypeBase = "https://aurora.mindburn.dev/problems/"

// Problem is an RFC 7807 problem document. Reason carries the boundary
// error kind as an extension member; TraceID links back to the request.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Reason   string `json:"reason,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

func statusFor(kind contracts.ErrorKind) int {
	switch kind {
	case contracts.KindInvalidInput:
		return http.StatusBadRequest
	case contracts.KindNoViableProviders, contracts.KindAlreadyFinalized, contracts.KindConflict:
		return http.StatusConflict
	case contracts.KindPolicyReject:
		return http.StatusForbidden
	case contracts.KindUnknownDecision:
		return http.StatusNotFound
	case contracts.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func titleFor(kind contracts.ErrorKind) string {
	switch kind {
	case contracts.KindInvalidInput:
		return "Invalid Input"
	case contracts.KindNoViableProviders:
		return "No Viable Providers"
	case contracts.KindPolicyReject:
		return "Policy Reject"
	case contracts.KindAlreadyFinalized:
		return "Already Finalized"
	case contracts.KindUnknownDecision:
		return "Unknown Decision"
	case contracts.KindUpstreamTimeout:
		return "Upstream Timeout"
	case contracts.KindConflict:
		return "Conflict"
	case contracts.KindCorruption:
		return "Corruption"
	default:
		return "Internal Error"
	}
}

// writeProblem renders one problem document. An empty reason falls back
// to the RFC 7807 blank type.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, title, detail, reason string) {
	p := Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		Reason:   reason,
		TraceID:  w.Header().Get("X-Request-ID"),
	}
	if reason != "" {
		p.Type = problemTypeBase + reason
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(p)
}

// writeError classifies err exactly once and renders it. Internal
// failures are logged and never leak detail to the caller.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := contracts.KindOf(err)
	status := statusFor(kind)
	detail := err.Error()
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "error", err)
		detail = "unexpected failure"
	}
	writeProblem(w, r, status, titleFor(kind), detail, string(kind))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
