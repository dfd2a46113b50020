package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/aurora/pkg/api"
	"github.com/Mindburn-Labs/aurora/pkg/archive"
	"github.com/Mindburn-Labs/aurora/pkg/audit"
	"github.com/Mindburn-Labs/aurora/pkg/auditor"
	"github.com/Mindburn-Labs/aurora/pkg/config"
	"github.com/Mindburn-Labs/aurora/pkg/executor"
	"github.com/Mindburn-Labs/aurora/pkg/federation"
	"github.com/Mindburn-Labs/aurora/pkg/fleet"
	"github.com/Mindburn-Labs/aurora/pkg/memory"
	"github.com/Mindburn-Labs/aurora/pkg/observability"
	"github.com/Mindburn-Labs/aurora/pkg/policyhost"
	"github.com/Mindburn-Labs/aurora/pkg/router"
	"github.com/Mindburn-Labs/aurora/pkg/signal"
	"github.com/Mindburn-Labs/aurora/pkg/store"
	"github.com/Mindburn-Labs/aurora/pkg/strategist"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Background cadences.
const (
	scenarioTick    = time.Second
	sloTick         = time.Minute
	shutdownTimeout = 10 * time.Second
)

// Ingress rate limits. The Redis window is per second to match the
// in-memory bucket's refill rate.
const (
	tenantRPS      = 10
	tenantBurst    = 20
	redisPerSecond = 20
)

// nodePaths are the side-config files a node may load next to its profile.
type nodePaths struct {
	fleet    string
	dispatch string
	rules    string
}

// node is one fully wired routing node.
type node struct {
	cfg    config.Config
	fedCfg federation.Config
	log    *slog.Logger

	engine *router.Engine
	apiSrv *api.Server
	fedSrv *federation.Server

	decisions  store.DecisionStore
	memories   memory.Store
	db         *sql.DB
	keyring    *federation.Keyring
	syncer     *federation.Syncer
	controller *fleet.Controller
	policyMod  policyhost.Module
	limiter    *api.TenantLimiter
	redis      *redis.Client

	tracer  *observability.Provider
	metrics *observability.Metrics
	slo     *observability.SLOTracker
}

// buildNode wires every subsystem from the resolved config. On failure the
// partially built node is torn down before the error returns.
func buildNode(ctx context.Context, cfg config.Config, paths nodePaths, logger *slog.Logger) (*node, error) {
	n := &node{cfg: cfg, log: logger}
	if err := n.init(ctx, paths); err != nil {
		n.Close(ctx)
		return nil, err
	}
	return n, nil
}

func (n *node) init(ctx context.Context, paths nodePaths) error {
	cfg := n.cfg

	if err := n.openStores(ctx); err != nil {
		return err
	}

	aud, err := n.buildAuditor(paths.rules)
	if err != nil {
		return err
	}

	sc := strategist.DefaultConfig()
	sc.Alpha = cfg.Alpha
	sc.Gamma = cfg.Gamma
	sc.Epsilon = cfg.Epsilon
	strat, err := strategist.New(sc, strategist.WithLogger(n.log.With("component", "strategist")))
	if err != nil {
		return err
	}

	reg, err := n.buildFleet(paths.fleet)
	if err != nil {
		return err
	}

	exec, err := n.buildExecutor(reg, paths.dispatch)
	if err != nil {
		return err
	}

	opts, err := n.routerOptions(ctx)
	if err != nil {
		return err
	}
	n.engine, err = router.New(n.decisions, strat, aud, exec, reg, opts...)
	if err != nil {
		return err
	}

	core, err := n.instrument(ctx)
	if err != nil {
		return err
	}

	n.apiSrv = api.NewServer(core, n.apiOptions()...)
	fedOpts := []federation.ServerOption{federation.WithServerLogger(n.log.With("component", "federation"))}
	if n.syncer != nil {
		fedOpts = append(fedOpts, federation.WithServerSyncer(n.syncer))
	}
	n.fedSrv = federation.NewServer(n.fedCfg, n.memories, n.projector(), fedOpts...)
	return nil
}

// openStores opens the decision store and the federation memory store. The
// sqlite and postgres drivers share one database handle; the file driver
// keeps two append-only logs side by side under the store directory.
func (n *node) openStores(ctx context.Context) error {
	cfg := n.cfg
	switch cfg.StoreDriver {
	case config.DriverFile:
		if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
		ds, err := store.OpenFileLog(cfg.StorePath, store.WithFileLogLogger(n.log.With("component", "store")))
		if err != nil {
			return fmt.Errorf("open decision log: %w", err)
		}
		n.decisions = ds
		ms, err := memory.OpenFileStore(filepath.Join(filepath.Dir(cfg.StorePath), "memories.log"),
			memory.WithFileStoreLogger(n.log.With("component", "memory")))
		if err != nil {
			return fmt.Errorf("open memory journal: %w", err)
		}
		n.memories = ms
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
		db, err := sql.Open("sqlite", cfg.StorePath)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		n.db = db
		ds, err := store.NewSQLiteStore(db)
		if err != nil {
			return fmt.Errorf("init decision store: %w", err)
		}
		n.decisions = ds
		ms, err := memory.NewSQLiteStore(db)
		if err != nil {
			return fmt.Errorf("init memory store: %w", err)
		}
		n.memories = ms
	case config.DriverPostgres:
		db, err := sql.Open("postgres", cfg.StorePath)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("ping postgres: %w", err)
		}
		n.db = db
		ds, err := store.NewPostgresStore(db)
		if err != nil {
			return fmt.Errorf("init decision store: %w", err)
		}
		n.decisions = ds
		ms, err := memory.NewPostgresStore(db)
		if err != nil {
			return fmt.Errorf("init memory store: %w", err)
		}
		n.memories = ms
	default:
		return fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	return nil
}

func (n *node) buildAuditor(rulesPath string) (*auditor.Auditor, error) {
	opts := []auditor.Option{auditor.WithLogger(n.log.With("component", "auditor"))}
	if rulesPath != "" {
		raw, err := os.ReadFile(rulesPath)
		if err != nil {
			return nil, fmt.Errorf("read anomaly rules: %w", err)
		}
		var rules []auditor.Rule
		if err := yaml.Unmarshal(raw, &rules); err != nil {
			return nil, fmt.Errorf("parse anomaly rules %s: %w", rulesPath, err)
		}
		engine, err := auditor.NewAnomalyEngine(rules)
		if err != nil {
			return nil, err
		}
		opts = append(opts, auditor.WithAnomalyEngine(engine))
		n.log.Info("anomaly rules loaded", "path", rulesPath, "rules", len(rules))
	}
	return auditor.New(auditor.Mode(n.cfg.AuditMode), audit.NewLineSink(os.Stdout), opts...)
}

func (n *node) buildFleet(fleetPath string) (*fleet.Registry, error) {
	reg := fleet.NewRegistry(fleet.WithLogger(n.log.With("component", "fleet")))
	if fleetPath == "" {
		n.log.Warn("no fleet file configured; every decision will answer no_viable_providers until providers are registered")
		return reg, nil
	}
	f, err := fleet.LoadFile(fleetPath)
	if err != nil {
		return nil, err
	}
	if err := f.Populate(reg); err != nil {
		return nil, err
	}
	n.log.Info("fleet loaded", "path", fleetPath, "providers", len(f.Providers), "scenario_events", len(f.Scenario))
	if len(f.Scenario) > 0 {
		n.controller = fleet.NewController(reg, f.Scenario, fleet.WithControllerLogger(n.log.With("component", "scenario")))
	}
	return reg, nil
}

// bridgeFile is the on-disk provider bridge map: provider id to the HTTP
// endpoint its dispatches POST to. Providers absent from the map stay on the
// fleet simulator.
type bridgeFile struct {
	Providers map[string]executor.HTTPConfig `yaml:"providers"`
}

func (n *node) buildExecutor(reg *fleet.Registry, dispatchPath string) (*executor.Executor, error) {
	opts := []executor.Option{executor.WithLogger(n.log.With("component", "executor"))}
	if dispatchPath != "" {
		raw, err := os.ReadFile(dispatchPath)
		if err != nil {
			return nil, fmt.Errorf("read dispatch config: %w", err)
		}
		var bridges bridgeFile
		if err := yaml.Unmarshal(raw, &bridges); err != nil {
			return nil, fmt.Errorf("parse dispatch config %s: %w", dispatchPath, err)
		}
		for id, hc := range bridges.Providers {
			if hc.URL == "" {
				return nil, fmt.Errorf("dispatch config: provider %q has no url", id)
			}
			opts = append(opts, executor.WithDispatcher(id, executor.NewHTTPDispatcher(hc)))
		}
		n.log.Info("provider bridges loaded", "path", dispatchPath, "bridges", len(bridges.Providers))
	}
	return executor.New(executor.NewFleetDispatcher(reg), opts...), nil
}

func (n *node) routerOptions(ctx context.Context) ([]router.Option, error) {
	cfg := n.cfg
	opts := []router.Option{router.WithEngineLogger(n.log.With("component", "router"))}

	if cfg.SignalURL != "" {
		src := signal.NewSource(signal.Config{
			URL:     cfg.SignalURL,
			Timeout: cfg.SignalTimeout,
			TTL:     cfg.CacheTTL,
		}, signal.WithSourceLogger(n.log.With("component", "signal")))
		opts = append(opts, router.WithSignals(src))
	}

	gate, err := n.buildPolicyGate(ctx)
	if err != nil {
		return nil, err
	}
	if gate != nil {
		opts = append(opts, router.WithPolicyGate(gate))
	}

	fedOpts, err := n.buildFederation()
	if err != nil {
		return nil, err
	}
	opts = append(opts, fedOpts...)

	arch, err := n.buildArchive(ctx)
	if err != nil {
		return nil, err
	}
	opts = append(opts, router.WithArchiver(arch))
	return opts, nil
}

// buildPolicyGate wires the treaty gate when AURORA_TREATY_FILE is set. A
// configured module binary runs sandboxed under wazero; without one the
// built-in native module evaluates the same checks in process.
func (n *node) buildPolicyGate(ctx context.Context) (*policyhost.Host, error) {
	treatyPath := os.Getenv("AURORA_TREATY_FILE")
	if treatyPath == "" {
		if n.cfg.PolicyModule != "" {
			return nil, fmt.Errorf("AURORA_POLICY_MODULE set without AURORA_TREATY_FILE")
		}
		return nil, nil
	}

	raw, err := os.ReadFile(treatyPath)
	if err != nil {
		return nil, fmt.Errorf("read treaty: %w", err)
	}
	var treaty policyhost.Treaty
	if err := json.Unmarshal(raw, &treaty); err != nil {
		return nil, fmt.Errorf("parse treaty %s: %w", treatyPath, err)
	}

	var mod policyhost.Module = policyhost.NativeModule{}
	if n.cfg.PolicyModule != "" {
		wasmBytes, err := os.ReadFile(n.cfg.PolicyModule)
		if err != nil {
			return nil, fmt.Errorf("read policy module: %w", err)
		}
		wm, err := policyhost.NewWASMModule(ctx, wasmBytes, policyhost.SandboxConfig{})
		if err != nil {
			return nil, err
		}
		mod = wm
		n.log.Info("policy module loaded", "path", n.cfg.PolicyModule, "treaty", treaty.TreatyID)
	} else {
		n.log.Info("native policy module active", "treaty", treaty.TreatyID)
	}
	n.policyMod = mod
	return policyhost.NewHost(mod, treaty, policyhost.WithHostLogger(n.log.With("component", "policyhost"))), nil
}

// buildFederation loads the peer config, derives this node's signing key,
// and returns the router options that feed finalized decisions into the
// shared memory log.
func (n *node) buildFederation() ([]router.Option, error) {
	fedCfg, err := federation.LoadConfig(n.cfg.FederationConfig)
	if err != nil {
		return nil, err
	}
	if fedCfg.NodeID == "" {
		if hn, err := os.Hostname(); err == nil {
			fedCfg.NodeID = hn
		} else {
			fedCfg.NodeID = "aurora-node"
		}
	}
	n.fedCfg = fedCfg

	kr, err := n.buildKeyring(fedCfg.NodeID)
	if err != nil {
		return nil, err
	}
	n.keyring = kr

	verifier, err := federation.NewKeyVerifier(fedCfg.Peers...)
	if err != nil {
		return nil, err
	}
	if len(fedCfg.Peers) > 0 {
		n.syncer = federation.NewSyncer(fedCfg, n.memories, federation.NewValidator(fedCfg.Trust, verifier),
			federation.WithSyncLogger(n.log.With("component", "sync")))
	}

	return []router.Option{
		router.WithLedger(n.memories),
		router.WithRecordSigner(kr.SignRecord),
	}, nil
}

// buildKeyring derives the node key from AURORA_MASTER_SEED (hex). Without a
// seed the node signs with an ephemeral key that peers cannot verify.
func (n *node) buildKeyring(nodeID string) (*federation.Keyring, error) {
	seedHex := os.Getenv("AURORA_MASTER_SEED")
	if seedHex == "" {
		if len(n.fedCfg.Peers) > 0 && n.fedCfg.Trust.RequireSignatures {
			n.log.Warn("AURORA_MASTER_SEED unset; records are signed with an ephemeral key peers will reject")
		}
		return federation.GenerateKeyring(nodeID)
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("AURORA_MASTER_SEED is not hex: %w", err)
	}
	return federation.NewKeyring(seed, nodeID)
}

func (n *node) buildArchive(ctx context.Context) (archive.Store, error) {
	if os.Getenv("AURORA_ARCHIVE_BACKEND") != "" {
		return archive.FromEnv(ctx)
	}
	return archive.NewFileStore(n.cfg.SnapshotDir)
}

// instrument stands up telemetry around the engine: the OTel provider
// (export gated on OTEL_EXPORTER_OTLP_ENDPOINT), the Prometheus registry
// behind GET /metrics, and the SLO tracker the watchdog loop reads.
func (n *node) instrument(ctx context.Context) (api.Engine, error) {
	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceName = "aurora-node"
	obsCfg.ServiceVersion = version
	obsCfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if env := os.Getenv("AURORA_ENVIRONMENT"); env != "" {
		obsCfg.Environment = env
	}
	tracer, err := observability.New(ctx, obsCfg)
	if err != nil {
		return nil, err
	}
	n.tracer = tracer

	n.metrics = observability.NewMetrics()
	n.metrics.WatchEngine(n.engine)
	n.slo = observability.NewSLOTracker(observability.DefaultTargets()...)
	return observability.Instrument(n.engine, tracer, n.metrics, n.slo), nil
}

func (n *node) apiOptions() []api.Option {
	cfg := n.cfg
	opts := []api.Option{
		api.WithLogger(n.log.With("component", "api")),
		api.WithMetricsHandler(n.metrics.Handler()),
	}
	if cfg.RedisAddr != "" {
		n.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		opts = append(opts, api.WithLimiter(api.NewRedisLimiter(n.redis, redisPerSecond)))
	} else {
		n.limiter = api.NewTenantLimiter(tenantRPS, tenantBurst)
		opts = append(opts, api.WithLimiter(n.limiter))
	}
	if cfg.JWTSecret != "" {
		opts = append(opts, api.WithAuthenticator(api.NewAuthenticator([]byte(cfg.JWTSecret), cfg.JWTRequired)))
	}
	return opts
}

func (n *node) projector() *federation.Projector {
	return federation.NewProjector(n.fedCfg.NodeID, n.memories, federation.WithProjectorKeyring(n.keyring))
}

// handler is the single listener's route set: the federation surface beside
// the tenant ingress.
func (n *node) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/federation/", n.fedSrv.Handler())
	mux.Handle("/", n.apiSrv.Handler())
	return mux
}

// serve runs the HTTP listener and the background loops until the context is
// canceled, then drains in-flight requests.
func (n *node) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              n.cfg.ListenAddr,
		Handler:           n.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if n.controller != nil {
		go n.controller.Run(ctx, scenarioTick)
	}
	if n.syncer != nil {
		go n.runSyncLoop(ctx)
	}
	go n.watchSLOs(ctx)

	errCh := make(chan error, 1)
	go func() {
		n.log.Info("aurora node listening",
			"addr", n.cfg.ListenAddr,
			"store", n.cfg.StoreDriver,
			"node_id", n.fedCfg.NodeID,
			"peers", len(n.fedCfg.Peers),
			"version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	n.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runSyncLoop drives periodic federation rounds. The daemon owns the loop
// rather than using the syncer's so each round's report reaches the metrics
// and the log.
func (n *node) runSyncLoop(ctx context.Context) {
	ticker := time.NewTicker(n.fedCfg.Interval())
	defer ticker.Stop()

	n.syncRound(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.syncRound(ctx)
		}
	}
}

func (n *node) syncRound(ctx context.Context) {
	report := n.syncer.SyncOnce(ctx)
	for _, pr := range report.Peers {
		n.metrics.ObserveSync(pr.Peer, pr.Inserted, pr.Failed)
		if pr.Err != "" {
			n.log.Warn("peer sync failed", "peer", pr.Peer, "error", pr.Err)
		} else if pr.Inserted > 0 {
			n.log.Info("peer sync complete", "peer", pr.Peer, "inserted", pr.Inserted, "resolved", pr.Resolved)
		}
	}
}

// watchSLOs logs burn-rate breaches so operators see budget exhaustion
// before the dashboard does.
func (n *node) watchSLOs(ctx context.Context) {
	ticker := time.NewTicker(sloTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, st := range n.slo.Statuses() {
				if !st.InCompliance && st.Observations > 0 {
					n.log.Warn("slo out of compliance",
						"operation", st.Operation,
						"p99_ms", st.CurrentP99MS,
						"success_rate", st.CurrentSuccess,
						"burn_rate", st.BurnRate)
				}
			}
		}
	}
}

// Close tears down in reverse dependency order. Safe on a partially built
// node: every field is checked before use.
func (n *node) Close(ctx context.Context) {
	if n.policyMod != nil {
		_ = n.policyMod.Close(ctx)
	}
	if n.limiter != nil {
		n.limiter.Close()
	}
	if n.redis != nil {
		_ = n.redis.Close()
	}
	if n.tracer != nil {
		_ = n.tracer.Shutdown(ctx)
	}
	if n.memories != nil {
		_ = n.memories.Close()
	}
	if n.decisions != nil {
		_ = n.decisions.Close()
	}
	if n.db != nil {
		_ = n.db.Close()
	}
}
