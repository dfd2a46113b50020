package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/aurora/pkg/config"
	"github.com/Mindburn-Labs/aurora/pkg/router"
)

const testFleetYAML = `providers:
  - id: cheap
    regions: [us-west]
    prices: {a100: 1.0}
    base_latency_ms: 120
    capacity: 50
    reputation: 85
    active: true
scenario:
  - provider: cheap
    event: latency_spike
    after: 1h
    duration: 1m
    delta_ms: 500
`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.StorePath = filepath.Join(dir, "decisions.log")
	cfg.SnapshotDir = filepath.Join(dir, "snapshots")
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBuildNodeServesBothSurfaces(t *testing.T) {
	ctx := context.Background()
	n, err := buildNode(ctx, testConfig(t), nodePaths{}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { n.Close(ctx) })

	ts := httptest.NewServer(n.handler())
	t.Cleanup(ts.Close)

	for _, path := range []string{"/healthz", "/federation/health", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err, path)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestBuildNodeRoutesDecisionsFromFleetFile(t *testing.T) {
	ctx := context.Background()
	n, err := buildNode(ctx, testConfig(t), nodePaths{fleet: writeTemp(t, "fleet.yaml", testFleetYAML)}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { n.Close(ctx) })
	require.NotNil(t, n.controller, "a scenario in the fleet file must arm the controller")

	ts := httptest.NewServer(n.handler())
	t.Cleanup(ts.Close)

	body := `{"tenant":"acme","context":{"workload":"llm_inference","accelerator":"a100","region":"us-west","resource_hours":2}}`
	resp, err := http.Post(ts.URL+"/decisions", "application/json", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decision router.DecideResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decision))
	assert.Equal(t, "cheap", decision.Provider)
	assert.True(t, decision.Dispatch.Accepted)
}

func TestBuildNodeRejectsPolicyModuleWithoutTreaty(t *testing.T) {
	cfg := testConfig(t)
	cfg.PolicyModule = filepath.Join(t.TempDir(), "policy.wasm")

	_, err := buildNode(context.Background(), cfg, nodePaths{}, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AURORA_TREATY_FILE")
}

func TestBuildNodeNativePolicyGateFromTreatyFile(t *testing.T) {
	treaty := writeTemp(t, "treaty.json",
		`{"treaty_id":"t-1","regions":["us-west"],"quota_gpu_hours_total":100,"quota_gpu_hours_daily_per_tenant":10,"min_reputation":0}`)
	t.Setenv("AURORA_TREATY_FILE", treaty)

	ctx := context.Background()
	n, err := buildNode(ctx, testConfig(t), nodePaths{fleet: writeTemp(t, "fleet.yaml", testFleetYAML)}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { n.Close(ctx) })

	ts := httptest.NewServer(n.handler())
	t.Cleanup(ts.Close)

	// Inside the daily quota the treaty allows the order.
	ok := `{"tenant":"acme","context":{"workload":"llm_inference","accelerator":"a100","region":"us-west","resource_hours":2}}`
	resp, err := http.Post(ts.URL+"/decisions", "application/json", bytes.NewReader([]byte(ok)))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Past it the gate rejects with the policy kind.
	over := `{"tenant":"acme","context":{"workload":"llm_inference","accelerator":"a100","region":"us-west","resource_hours":20}}`
	resp, err = http.Post(ts.URL+"/decisions", "application/json", bytes.NewReader([]byte(over)))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestBuildNodeRejectsMalformedAnomalyRules(t *testing.T) {
	rules := writeTemp(t, "rules.yaml", "- name: broken\n  expr: \"decision.epsilon >\"\n")
	_, err := buildNode(context.Background(), testConfig(t), nodePaths{rules: rules}, quietLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("anything"))
}
