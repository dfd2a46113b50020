package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
	"github.com/Mindburn-Labs/aurora/pkg/memory"
)

const defaultClientTimeout = 10 * time.Second

// PeerClient talks to one remote node's federation API.
type PeerClient struct {
	peer     Peer
	client   *http.Client
	pageSize int
}

// PeerClientOption customizes a PeerClient.
type PeerClientOption func(*PeerClient)

// WithPeerHTTPClient substitutes the transport.
func WithPeerHTTPClient(c *http.Client) PeerClientOption {
	return func(p *PeerClient) { p.client = c }
}

// WithPeerPageSize sets the id-list page size requested from the peer.
func WithPeerPageSize(n int) PeerClientOption {
	return func(p *PeerClient) {
		if n > 0 {
			p.pageSize = n
		}
	}
}

// NewPeerClient builds a client for the peer.
func NewPeerClient(peer Peer, opts ...PeerClientOption) *PeerClient {
	c := &PeerClient{
		peer:     peer,
		client:   &http.Client{Timeout: defaultClientTimeout},
		pageSize: defaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListIDs pulls the peer's full id list, paging until a short page. The
// order is the peer's stable (timestamp, id) order.
func (c *PeerClient) ListIDs(ctx context.Context) ([]string, error) {
	var all []string
	for offset := 0; ; {
		var page idPage
		path := fmt.Sprintf("/federation/memories?limit=%d&offset=%d", c.pageSize, offset)
		if err := c.getJSON(ctx, path, &page); err != nil {
			return nil, err
		}
		all = append(all, page.IDs...)
		offset += len(page.IDs)
		if len(page.IDs) < c.pageSize || (page.Total > 0 && int64(len(all)) >= page.Total) {
			return all, nil
		}
	}
}

// GetRecord fetches one record by id. A missing id maps to
// memory.ErrNotFound.
func (c *PeerClient) GetRecord(ctx context.Context, id string) (*contracts.MemoryRecord, error) {
	var rec contracts.MemoryRecord
	err := c.getJSON(ctx, "/federation/memories/"+url.PathEscape(id), &rec)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Projection fetches the peer's current merkle projection.
func (c *PeerClient) Projection(ctx context.Context) (contracts.MemoryProjection, error) {
	var proj contracts.MemoryProjection
	if err := c.getJSON(ctx, "/federation/projection", &proj); err != nil {
		return contracts.MemoryProjection{}, err
	}
	return proj, nil
}

// Healthy probes the peer's liveness endpoint.
func (c *PeerClient) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.peer.URL+"/federation/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func (c *PeerClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.peer.URL+path, nil)
	if err != nil {
		return fmt.Errorf("peer %s: %w", c.peer.NodeID, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("peer %s: %w", c.peer.NodeID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("peer %s: %s: %w", c.peer.NodeID, path, memory.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("peer %s: %s returned %d: %s", c.peer.NodeID, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("peer %s: decode %s: %w", c.peer.NodeID, path, err)
	}
	return nil
}
