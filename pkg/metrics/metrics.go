package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SourcesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fides_sources_total",
			Help: "Total number of configured sources by status",
		},
		[]string{"status"},
	)

	DocumentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fides_documents_total",
			Help: "Total number of documents held in the settings map, by source",
		},
		[]string{"source_id"},
	)

	BlobStoreBytesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fides_blobstore_bytes_total",
			Help: "Approximate total bytes resident in the blob store",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fides_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fides_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Ingestion pipeline metrics
	InsertBlobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fides_insert_blob_duration_seconds",
			Help:    "Time taken to parse, validate and insert a blob",
			Buckets: prometheus.DefBuckets,
		},
	)

	InsertionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fides_insertions_total",
			Help: "Total number of blob insertions by source and resulting status",
		},
		[]string{"source_id", "status"},
	)

	RevalidationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fides_revalidation_duration_seconds",
			Help:    "Time taken to revalidate a source's documents during a trust configuration update",
			Buckets: prometheus.DefBuckets,
		},
	)

	TrustConfigurationUpdatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fides_trust_configuration_updates_total",
			Help: "Total number of source trust configuration passes run",
		},
	)

	DocumentsPurgedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fides_documents_purged_total",
			Help: "Total number of documents purged (removed from the map and blob store)",
		},
		[]string{"source_id", "reason"},
	)

	ObserverNotificationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fides_observer_notifications_total",
			Help: "Total number of OnSettingsChanged notifications dispatched",
		},
	)

	ChangedKeysPerNotification = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fides_changed_keys_per_notification",
			Help:    "Number of distinct keys carried in a single change notification",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		},
	)
)

func init() {
	prometheus.MustRegister(SourcesTotal)
	prometheus.MustRegister(DocumentsTotal)
	prometheus.MustRegister(BlobStoreBytesTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(InsertBlobDuration)
	prometheus.MustRegister(InsertionsTotal)
	prometheus.MustRegister(RevalidationDuration)
	prometheus.MustRegister(TrustConfigurationUpdatesTotal)
	prometheus.MustRegister(DocumentsPurgedTotal)
	prometheus.MustRegister(ObserverNotificationsTotal)
	prometheus.MustRegister(ChangedKeysPerNotification)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
