package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the attribution engine.
type Metrics struct {
	// Ingestion metrics
	EventsAccepted *prometheus.CounterVec
	EventsRejected *prometheus.CounterVec
	BatchSize      prometheus.Histogram
	IngestLatency  *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec

	// Attribution metrics
	AttributionRuns    *prometheus.CounterVec
	AttributionLatency *prometheus.HistogramVec
	PathsReconstructed *prometheus.HistogramVec

	// KPI metrics
	KPISnapshots   *prometheus.CounterVec
	KPILatency     *prometheus.HistogramVec

	// Storage metrics
	StoreErrors   *prometheus.CounterVec
	DBConnections *prometheus.GaugeVec

	// Geo metrics
	GeoLookupLatency *prometheus.HistogramVec
}

var (
	// DefaultMetrics is the global metrics instance
	DefaultMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		// Ingestion metrics
		EventsAccepted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_accepted_total",
				Help:      "Total number of events accepted by the ingestion gateway",
			},
			[]string{"brand_id", "event_type"},
		),
		EventsRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_rejected_total",
				Help:      "Total number of events rejected by the ingestion gateway",
			},
			[]string{"brand_id", "reason"},
		),
		BatchSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_size_events",
				Help:      "Number of events per tracking batch",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
			},
		),
		IngestLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingest_latency_seconds",
				Help:      "Tracking request processing latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
			},
			[]string{"status"},
		),

		// Rate limiting metrics
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Events rejected due to per-brand rate limits",
			},
			[]string{"brand_id"},
		),

		// Attribution metrics
		AttributionRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attribution_runs_total",
				Help:      "Attribution computations by model",
			},
			[]string{"model", "status"},
		),
		AttributionLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attribution_latency_seconds",
				Help:      "Attribution computation latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15},
			},
			[]string{"model"},
		),
		PathsReconstructed: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "paths_reconstructed",
				Help:      "Conversion paths reconstructed per attribution run",
				Buckets:   []float64{0, 10, 100, 1000, 10000, 100000},
			},
			[]string{"brand_id"},
		),

		// KPI metrics
		KPISnapshots: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kpi_snapshots_total",
				Help:      "KPI snapshot computations by period",
			},
			[]string{"period", "status"},
		),
		KPILatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "kpi_latency_seconds",
				Help:      "KPI snapshot computation latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15},
			},
			[]string{"period"},
		),

		// Storage metrics
		StoreErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Storage operation failures",
			},
			[]string{"store", "operation"},
		),
		DBConnections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool stats",
			},
			[]string{"state"}, // idle, in_use, total
		),

		// Geo metrics
		GeoLookupLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "geo_lookup_latency_seconds",
				Help:      "GeoIP lookup latency",
				Buckets:   []float64{0.00001, 0.0001, 0.001, 0.01},
			},
			[]string{"cache_hit"},
		),
	}

	DefaultMetrics = m
	return m
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordEventAccepted records an accepted event.
func (m *Metrics) RecordEventAccepted(brandID, eventType string) {
	m.EventsAccepted.WithLabelValues(brandID, eventType).Inc()
}

// RecordEventRejected records a rejected event.
func (m *Metrics) RecordEventRejected(brandID, reason string) {
	m.EventsRejected.WithLabelValues(brandID, reason).Inc()
}

// RecordBatch records a completed tracking request.
func (m *Metrics) RecordBatch(size int, status string, latency time.Duration) {
	m.BatchSize.Observe(float64(size))
	m.IngestLatency.WithLabelValues(status).Observe(latency.Seconds())
}

// RecordRateLimitHit records a per-brand rate limit rejection.
func (m *Metrics) RecordRateLimitHit(brandID string) {
	m.RateLimitHits.WithLabelValues(brandID).Inc()
}

// RecordAttributionRun records an attribution computation.
func (m *Metrics) RecordAttributionRun(model, status string, latency time.Duration) {
	m.AttributionRuns.WithLabelValues(model, status).Inc()
	m.AttributionLatency.WithLabelValues(model).Observe(latency.Seconds())
}

// RecordPathsReconstructed records the path count of an attribution run.
func (m *Metrics) RecordPathsReconstructed(brandID string, count int) {
	m.PathsReconstructed.WithLabelValues(brandID).Observe(float64(count))
}

// RecordKPISnapshot records a KPI snapshot computation.
func (m *Metrics) RecordKPISnapshot(period, status string, latency time.Duration) {
	m.KPISnapshots.WithLabelValues(period, status).Inc()
	m.KPILatency.WithLabelValues(period).Observe(latency.Seconds())
}

// RecordStoreError records a storage operation failure.
func (m *Metrics) RecordStoreError(store, operation string) {
	m.StoreErrors.WithLabelValues(store, operation).Inc()
}

// UpdateDBStats updates database connection metrics.
func (m *Metrics) UpdateDBStats(idle, inUse, total int) {
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("total").Set(float64(total))
}

// RecordGeoLookup records a geo lookup.
func (m *Metrics) RecordGeoLookup(cacheHit bool, latency time.Duration) {
	hit := "false"
	if cacheHit {
		hit = "true"
	}
	m.GeoLookupLatency.WithLabelValues(hit).Observe(latency.Seconds())
}
