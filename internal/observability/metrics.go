package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "terraclimate"

// Metrics holds the Prometheus collectors for the extraction pipeline.
type Metrics struct {
	RunsTotal   *prometheus.CounterVec // labels: outcome={success,degraded,failed}
	RunRunning  prometheus.Gauge
	RunDuration prometheus.Histogram

	// Spatial index metrics.
	IndexCache         *prometheus.CounterVec // labels: result={hit,miss,rebuild}
	LocationsIndexed   prometheus.Gauge
	LocationsUnmatched prometheus.Gauge

	// Extraction metrics.
	SliceRequests      *prometheus.CounterVec   // labels: variable, outcome={success,failure}
	SliceRetries       *prometheus.CounterVec   // labels: variable
	VariablesTotal     *prometheus.CounterVec   // labels: outcome={success,failed,aborted}
	ExtractionDuration *prometheus.HistogramVec // labels: variable
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RunsTotal,
		m.RunRunning,
		m.RunDuration,
		m.IndexCache,
		m.LocationsIndexed,
		m.LocationsUnmatched,
		m.SliceRequests,
		m.SliceRetries,
		m.VariablesTotal,
		m.ExtractionDuration,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		RunRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_running",
			Help:      "1 while a pipeline run is active.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete pipeline run.",
			Buckets:   []float64{1, 10, 30, 60, 300, 900, 1800, 3600, 7200},
		}),
		IndexCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_cache_total",
			Help:      "Spatial index cache lookups by result.",
		}, []string{"result"}),
		LocationsIndexed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "locations_indexed",
			Help:      "Locations assigned to a grid cell in the current index.",
		}),
		LocationsUnmatched: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "locations_unmatched",
			Help:      "Locations with no grid cell within tolerance.",
		}),
		SliceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slice_requests_total",
			Help:      "Per-location column reads by variable and outcome.",
		}, []string{"variable", "outcome"}),
		SliceRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slice_retries_total",
			Help:      "Retried column reads by variable.",
		}, []string{"variable"}),
		VariablesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "variables_total",
			Help:      "Variable extractions by outcome.",
		}, []string{"outcome"}),
		ExtractionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Duration of one variable extraction.",
			Buckets:   []float64{0.1, 1, 5, 15, 60, 300, 900, 1800},
		}, []string{"variable"}),
	}
}
