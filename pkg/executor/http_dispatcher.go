package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultDispatchPath    = "/v1/dispatch"
	defaultDispatchTimeout = 10 * time.Second
)

// HTTPConfig configures an HTTP dispatcher for one provider endpoint.
type HTTPConfig struct {
	// URL is the provider's base URL (e.g. "https://bridge.akash.example").
	URL string `json:"url" yaml:"url"`
	// Path overrides the dispatch path. Default: "/v1/dispatch".
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// Timeout caps the HTTP call. The executor's per-provider deadline still
	// applies through the request context. Default: 10s.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// Token is an optional bearer token for the provider bridge.
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
}

// HTTPDispatcher POSTs normalized dispatch requests to a provider bridge.
type HTTPDispatcher struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPDispatcher builds a dispatcher for one provider endpoint.
func NewHTTPDispatcher(cfg HTTPConfig) *HTTPDispatcher {
	if cfg.Path == "" {
		cfg.Path = defaultDispatchPath
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultDispatchTimeout
	}
	return &HTTPDispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Dispatch implements Dispatcher.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("marshal dispatch request: %w", err)
	}

	url := d.cfg.URL + d.cfg.Path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return DispatchResult{}, fmt.Errorf("build dispatch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Decision-ID", req.DecisionID)
	if d.cfg.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.cfg.Token)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("dispatch call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("read dispatch response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return DispatchResult{}, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, truncate(body, 256))
	}

	var res DispatchResult
	if err := json.Unmarshal(body, &res); err != nil {
		return DispatchResult{}, fmt.Errorf("parse dispatch response: %w", err)
	}
	return res, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
