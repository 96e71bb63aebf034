package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "locations"

// Metrics holds the Prometheus counters, histograms, and gauges for the locations service.
type Metrics struct {
	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: provider, method={search,reverse}, outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec   // labels: method={search,reverse}, result={hit,miss}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: provider, method
	GeocodeRetries     *prometheus.CounterVec   // labels: provider
	ProviderFallbacks  *prometheus.CounterVec   // labels: requested
	ActiveProvider     *prometheus.GaugeVec     // labels: provider; 1 for the active one

	// Map list metrics.
	MapListBuilds       prometheus.Counter
	MapListFilterErrors *prometheus.CounterVec // labels: filter

	// Location lifecycle metrics.
	LocationRevisions  *prometheus.CounterVec // labels: entity, type
	EventPublishErrors prometheus.Counter

	// Host change ingest metrics.
	IngestConsumed      prometheus.Counter
	IngestApplied       prometheus.Counter
	IngestErrors        prometheus.Counter
	IngestRunning       prometheus.Gauge
	IngestBatchSize     prometheus.Histogram
	IngestBatchDuration prometheus.Histogram
}

func newMetrics() *Metrics {
	return &Metrics{
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding provider requests by provider, method and outcome.",
		}, []string{"provider", "method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by method and result.",
		}, []string{"method", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Provider API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"provider", "method"}),
		GeocodeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_retries_total",
			Help:      "Immediate retries after a transient provider failure.",
		}, []string{"provider"}),
		ProviderFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_provider_fallbacks_total",
			Help:      "Provider switches that fell back to the default provider.",
		}, []string{"requested"}),
		ActiveProvider: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_active_provider",
			Help:      "1 for the currently active geocoding provider, 0 otherwise.",
		}, []string{"provider"}),
		MapListBuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "map_list_builds_total",
			Help:      "Total map list queries built.",
		}),
		MapListFilterErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "map_list_filter_errors_total",
			Help:      "Map list filter failures that degraded the listing to empty.",
		}, []string{"filter"}),
		LocationRevisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_revisions_total",
			Help:      "Location records set or cleared, by owning entity.",
		}, []string{"entity", "type"}),
		EventPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_errors_total",
			Help:      "Location events that could not be published.",
		}),
		IngestConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_messages_consumed_total",
			Help:      "Host change messages consumed from Kafka.",
		}),
		IngestApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_changes_applied_total",
			Help:      "Host changes written to the topic store.",
		}),
		IngestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_transform_errors_total",
			Help:      "Host change messages skipped because they failed to parse or validate.",
		}),
		IngestRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingest_running",
			Help:      "1 while the host change ingest loop is running.",
		}),
		IngestBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_batch_size",
			Help:      "Number of messages per ingest batch.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		IngestBatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_batch_duration_seconds",
			Help:      "Time to process one ingest batch.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeRetries,
		m.ProviderFallbacks,
		m.ActiveProvider,
		m.MapListBuilds,
		m.MapListFilterErrors,
		m.LocationRevisions,
		m.EventPublishErrors,
		m.IngestConsumed,
		m.IngestApplied,
		m.IngestErrors,
		m.IngestRunning,
		m.IngestBatchSize,
		m.IngestBatchDuration,
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics registered nowhere to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
