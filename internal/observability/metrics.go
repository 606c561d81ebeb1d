package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "weather_ingest"

// Metrics holds the Prometheus collectors for the ingest service. Every
// per-provider series is labelled by source.
type Metrics struct {
	IngestRunning prometheus.Gauge

	// Cycle metrics.
	Cycles              *prometheus.CounterVec   // labels: source, outcome={success,failure,cancelled}
	CycleDuration       *prometheus.HistogramVec // labels: source
	SleepSeconds        *prometheus.GaugeVec     // labels: source
	ControllerState     *prometheus.GaugeVec     // labels: source, state
	ConsecutiveFailures *prometheus.GaugeVec     // labels: source

	// Fetch metrics.
	StationsFetched *prometheus.CounterVec   // labels: source
	FetchFailures   *prometheus.CounterVec   // labels: source, kind={transient,not_found,permanent}
	UpstreamLatency *prometheus.HistogramVec // labels: source

	// Parse metrics.
	RecordsParsed    *prometheus.CounterVec // labels: source, record_type
	RowErrors        *prometheus.CounterVec // labels: source
	ValidationErrors *prometheus.CounterVec // labels: source

	// Publish metrics.
	RecordsPublished  *prometheus.CounterVec // labels: source, record_type
	RecordsSuppressed *prometheus.CounterVec // labels: source, record_type
	PublishErrors     *prometheus.CounterVec // labels: source
	DedupEntries      *prometheus.GaugeVec   // labels: source

	// Freshness.
	LastObservationAge *prometheus.GaugeVec   // labels: source
	AlertsSent         *prometheus.CounterVec // labels: outcome={sent,failed,suppressed}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid "already
// registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		IngestRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running",
			Help:      "1 while the ingest supervisor is active, 0 after shutdown.",
		}),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed polling cycles by source and outcome.",
		}, []string{"source", "outcome"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one fetch-then-publish cycle.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"source"}),
		SleepSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sleep_seconds",
			Help:      "Current sleep between cycles, including backoff.",
		}, []string{"source"}),
		ControllerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "controller_state",
			Help:      "1 for the state each controller is currently in, 0 otherwise.",
		}, []string{"source", "state"}),
		ConsecutiveFailures: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "consecutive_failures",
			Help:      "Consecutive failed cycles per source.",
		}, []string{"source"}),
		StationsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stations_fetched_total",
			Help:      "Stations whose payload was fetched successfully.",
		}, []string{"source"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Station fetches that failed, by failure kind.",
		}, []string{"source", "kind"}),
		UpstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source"}),
		RecordsParsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_parsed_total",
			Help:      "Canonical records produced by the parsers.",
		}, []string{"source", "record_type"}),
		RowErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "row_errors_total",
			Help:      "Rows skipped because they could not be parsed or validated.",
		}, []string{"source"}),
		ValidationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_errors_total",
			Help:      "Records dropped for violating canonical-model invariants.",
		}, []string{"source"}),
		RecordsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_published_total",
			Help:      "Records acknowledged by the message bus.",
		}, []string{"source", "record_type"}),
		RecordsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_suppressed_total",
			Help:      "Records skipped because identical content was already published.",
		}, []string{"source", "record_type"}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Batches rejected by the message bus.",
		}, []string{"source"}),
		DedupEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dedup_entries",
			Help:      "Identity keys held in the recency set.",
		}, []string{"source"}),
		LastObservationAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_observation_age_seconds",
			Help:      "Age of the newest published observation per source.",
		}, []string{"source"}),
		AlertsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Staleness alerts by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.IngestRunning,
		m.Cycles,
		m.CycleDuration,
		m.SleepSeconds,
		m.ControllerState,
		m.ConsecutiveFailures,
		m.StationsFetched,
		m.FetchFailures,
		m.UpstreamLatency,
		m.RecordsParsed,
		m.RowErrors,
		m.ValidationErrors,
		m.RecordsPublished,
		m.RecordsSuppressed,
		m.PublishErrors,
		m.DedupEntries,
		m.LastObservationAge,
		m.AlertsSent,
	}
}
