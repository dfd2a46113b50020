package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Mindburn-Labs/aurora/pkg/contracts"
	"github.com/Mindburn-Labs/aurora/pkg/router"
)

const namespace = "aurora"

// statusTimeout bounds the engine status call made during a scrape.
const statusTimeout = 5 * time.Second

// StatusSource is the slice of the engine the scrape-time collector reads.
type StatusSource interface {
	Status(ctx context.Context) (router.StatusReport, error)
}

// Metrics owns the Prometheus registry behind GET /metrics. Latency and
// reward distributions are pushed by the instrumented engine; cumulative
// engine counters are pulled from StatusReport at scrape time, so the engine
// itself never links against a metrics client.
type Metrics struct {
	registry *prometheus.Registry

	decideDuration   *prometheus.HistogramVec
	feedbackDuration prometheus.Histogram
	dispatchDuration *prometheus.HistogramVec
	rewards          prometheus.Histogram
	errors           *prometheus.CounterVec
	syncInserted     *prometheus.CounterVec
	syncFailed       *prometheus.CounterVec
}

// NewMetrics builds a registry with process, Go runtime and routing
// collectors registered.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		decideDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decide_duration_seconds",
			Help:      "Routing decision latency, labeled by selection mode.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"mode"}),

		feedbackDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feedback_duration_seconds",
			Help:      "Feedback processing latency.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),

		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Provider dispatch latency as reported by the executor.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"provider"}),

		rewards: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reward",
			Help:      "Computed reward distribution.",
			Buckets:   []float64{-25, -20, -10, -5, -1, 0, 1, 2.5, 5, 7.5, 10, 12.5},
		}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Failed operations by operation and error kind.",
		}, []string{"operation", "kind"}),

		syncInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_inserted_total",
			Help:      "Federation records pulled and inserted, by peer.",
		}, []string{"peer"}),

		syncFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_failed_total",
			Help:      "Federation record pulls that failed, by peer.",
		}, []string{"peer"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.decideDuration,
		m.feedbackDuration,
		m.dispatchDuration,
		m.rewards,
		m.errors,
		m.syncInserted,
		m.syncFailed,
	)
	return m
}

// Registry exposes the underlying registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WatchEngine registers a scrape-time collector over the engine's status
// counters. Call it once per engine.
func (m *Metrics) WatchEngine(src StatusSource) {
	m.registry.MustRegister(newEngineCollector(src))
}

// ObserveDecide records one completed decision.
func (m *Metrics) ObserveDecide(mode contracts.SelectionMode, seconds float64) {
	m.decideDuration.WithLabelValues(string(mode)).Observe(seconds)
}

// ObserveFeedback records one processed feedback and its reward.
func (m *Metrics) ObserveFeedback(seconds, reward float64) {
	m.feedbackDuration.Observe(seconds)
	m.rewards.Observe(reward)
}

// ObserveDispatch records the executor-reported dispatch latency.
func (m *Metrics) ObserveDispatch(provider string, seconds float64) {
	m.dispatchDuration.WithLabelValues(provider).Observe(seconds)
}

// ObserveError counts one failed operation by error kind.
func (m *Metrics) ObserveError(operation string, kind contracts.ErrorKind) {
	m.errors.WithLabelValues(operation, string(kind)).Inc()
}

// ObserveSync records the outcome of one federation pull from a peer.
func (m *Metrics) ObserveSync(peer string, inserted, failed int) {
	m.syncInserted.WithLabelValues(peer).Add(float64(inserted))
	m.syncFailed.WithLabelValues(peer).Add(float64(failed))
}

// engineCollector converts a StatusReport into const metrics at scrape time.
type engineCollector struct {
	src StatusSource

	up            *prometheus.Desc
	uptime        *prometheus.Desc
	decisions     *prometheus.Desc
	feedbacks     *prometheus.Desc
	policyRejects *prometheus.Desc
	noViable      *prometheus.Desc
	storedTraces  *prometheus.Desc
	epsilon       *prometheus.Desc
	tableStates   *prometheus.Desc
	tableEntries  *prometheus.Desc
	avgReward     *prometheus.Desc
	auditEntries  *prometheus.Desc
	fleetSize     *prometheus.Desc
	fleetHours    *prometheus.Desc
	signalCache   *prometheus.Desc
}

func newEngineCollector(src StatusSource) *engineCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &engineCollector{
		src:           src,
		up:            desc("engine_up", "1 when the engine answered the status probe."),
		uptime:        desc("uptime_seconds", "Engine uptime."),
		decisions:     desc("decisions_total", "Decisions made since start."),
		feedbacks:     desc("feedback_total", "Feedback reports processed since start."),
		policyRejects: desc("policy_rejects_total", "Orders rejected by the policy gate."),
		noViable:      desc("no_viable_total", "Decisions that found no viable provider."),
		storedTraces:  desc("stored_traces", "Decision traces currently in the store."),
		epsilon:       desc("epsilon", "Current exploration rate."),
		tableStates:   desc("value_table_states", "Materialized states in the value table."),
		tableEntries:  desc("value_table_entries", "Materialized state-action slots in the value table."),
		avgReward:     desc("avg_reward_100", "Mean reward over the last hundred feedbacks."),
		auditEntries:  desc("audit_entries_total", "Audit entries by disposition.", "disposition"),
		fleetSize:     desc("fleet_providers", "Registered providers by state.", "state"),
		fleetHours:    desc("fleet_remaining_gpu_hours", "GPU hours remaining across active providers."),
		signalCache:   desc("signal_cache_total", "Signal cache lookups by result.", "result"),
	}
}

func (c *engineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.up
	ch <- c.uptime
	ch <- c.decisions
	ch <- c.feedbacks
	ch <- c.policyRejects
	ch <- c.noViable
	ch <- c.storedTraces
	ch <- c.epsilon
	ch <- c.tableStates
	ch <- c.tableEntries
	ch <- c.avgReward
	ch <- c.auditEntries
	ch <- c.fleetSize
	ch <- c.fleetHours
	ch <- c.signalCache
}

func (c *engineCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), statusTimeout)
	defer cancel()

	report, err := c.src.Status(ctx)
	if err != nil {
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)

	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	gauge(c.uptime, report.UptimeSeconds)
	counter(c.decisions, float64(report.Decisions))
	counter(c.feedbacks, float64(report.Feedbacks))
	counter(c.policyRejects, float64(report.PolicyRejects))
	counter(c.noViable, float64(report.NoViable))
	gauge(c.storedTraces, float64(report.StoredTraces))

	gauge(c.epsilon, report.Strategist.Epsilon)
	gauge(c.tableStates, float64(report.Strategist.States))
	gauge(c.tableEntries, float64(report.Strategist.Entries))
	gauge(c.avgReward, report.Strategist.AvgReward100)

	counter(c.auditEntries, float64(report.Auditor.Approved), "approved")
	counter(c.auditEntries, float64(report.Auditor.Flagged), "flagged")
	counter(c.auditEntries, float64(report.Auditor.Rejected), "rejected")

	gauge(c.fleetSize, float64(report.Fleet.Active), "active")
	gauge(c.fleetSize, float64(report.Fleet.Providers-report.Fleet.Active), "inactive")
	gauge(c.fleetHours, report.Fleet.RemainingHours)

	if report.Signal != nil {
		counter(c.signalCache, float64(report.Signal.Hits), "hit")
		counter(c.signalCache, float64(report.Signal.Misses), "miss")
		counter(c.signalCache, float64(report.Signal.Errors), "error")
	}
}
