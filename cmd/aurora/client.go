package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Mindburn-Labs/aurora/pkg/api"
	"github.com/Mindburn-Labs/aurora/pkg/contracts"
)

const defaultAddr = "http://localhost:8080"

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// clientFlags registers the flags every remote subcommand shares.
func clientFlags(fs *flag.FlagSet) (addr, token *string) {
	addr = fs.String("addr", envOr("AURORA_ADDR", defaultAddr), "node address")
	token = fs.String("token", os.Getenv("AURORA_TOKEN"), "bearer token")
	return addr, token
}

type client struct {
	addr  string
	token string
	hc    *http.Client
}

func newClient(addr, token string) *client {
	return &client{
		addr:  strings.TrimRight(addr, "/"),
		token: token,
		hc:    &http.Client{Timeout: 30 * time.Second},
	}
}

// do sends one request and decodes the answer. A problem+json body comes
// back as the *api.Problem; anything else is decoded into out when the
// node sent a body and out is non-nil.
func (c *client) do(method, path string, payload, out any) (int, *api.Problem, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, c.addr+path, body)
	if err != nil {
		return 0, nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("reach node at %s: %w", c.addr, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/problem+json") {
		var p api.Problem
		if err := json.Unmarshal(raw, &p); err != nil {
			return resp.StatusCode, nil, fmt.Errorf("decode problem: %w", err)
		}
		return resp.StatusCode, &p, nil
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil, nil
}

// exitFor maps a rejection to the exit-code contract.
func exitFor(p *api.Problem) int {
	switch p.Reason {
	case string(contracts.KindInvalidInput):
		return exitUsage
	case string(contracts.KindPolicyReject):
		return exitPolicy
	default:
		return exitFail
	}
}

func fail(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "%sError:%s %v\n", ColorRed, ColorReset, err)
	return exitFail
}

func failProblem(stderr io.Writer, p *api.Problem) int {
	fmt.Fprintf(stderr, "%sError:%s %s", ColorRed, ColorReset, p.Title)
	if p.Detail != "" {
		fmt.Fprintf(stderr, ": %s", p.Detail)
	}
	fmt.Fprintln(stderr, "")
	if p.TraceID != "" {
		fmt.Fprintf(stderr, "%strace %s%s\n", ColorGray, p.TraceID, ColorReset)
	}
	return exitFor(p)
}

func printJSON(w io.Writer, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(raw))
	return nil
}

// splitList turns "a,b, c" into {"a","b","c"}.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
