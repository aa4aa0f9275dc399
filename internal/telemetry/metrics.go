// Package metrics exposes Prometheus counters/histograms for the core's
// encrypt/decrypt, blob-store, index, search, and trapdoor rotation
// operations, with OTel trace exemplars on the encryption and blob-store
// metrics, plus HTTP request metrics and health/readiness/liveness
// handlers for an embedding service's own HTTP surface (the Service Shell
// mounts none), adapted from the teacher's gateway metrics surface.
package metrics

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

var defaultRegistry = prometheus.DefaultRegisterer

// Config holds metrics configuration.
type Config struct {
	// EnableObjectIDLabel attaches the object id as a metric label on
	// blob-store operations. Object ids are per-file and therefore high
	// cardinality; leave this off outside of small deployments/tests.
	EnableObjectIDLabel bool
}

// Metrics holds all application metrics for the Crypto Kernel, File
// Envelope Engine, and Search Index Core.
type Metrics struct {
	config Config

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	blobOperationsTotal   *prometheus.CounterVec
	blobOperationDuration *prometheus.HistogramVec
	blobOperationErrors   *prometheus.CounterVec

	encryptionOperations *prometheus.CounterVec
	encryptionDuration   *prometheus.HistogramVec
	encryptionErrors     *prometheus.CounterVec
	encryptionBytes      *prometheus.CounterVec

	keyRotationsTotal *prometheus.CounterVec

	indexOperationsTotal   *prometheus.CounterVec
	indexOperationDuration *prometheus.HistogramVec

	searchOperationsTotal   *prometheus.CounterVec
	searchOperationDuration *prometheus.HistogramVec
	searchResultsTotal      *prometheus.CounterVec
	rateLimitRejectionsTotal prometheus.Counter
	trapdoorRotationsTotal   *prometheus.CounterVec

	bufferPoolHits   *prometheus.CounterVec
	bufferPoolMisses *prometheus.CounterVec

	goroutines       prometheus.Gauge
	memoryAllocBytes prometheus.Gauge
	memorySysBytes   prometheus.Gauge

	hardwareAccelerationEnabled *prometheus.GaugeVec
}

// NewMetrics creates a new metrics instance with default configuration.
func NewMetrics() *Metrics {
	return NewMetricsWithConfig(Config{})
}

// NewMetricsWithConfig creates a new metrics instance with the provided configuration.
func NewMetricsWithConfig(cfg Config) *Metrics {
	return newMetricsWithRegistry(defaultRegistry, cfg)
}

// NewMetricsWithRegistry creates a new metrics instance with a custom registry.
// This is useful for testing to avoid metric registration conflicts.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetricsWithRegistry(reg, Config{})
}

func newMetricsWithRegistry(reg prometheus.Registerer, cfg Config) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		config: cfg,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zkim_http_requests_total",
				Help: "Total number of HTTP requests served by the service shell's API.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zkim_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		blobOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zkim_blobstore_operations_total",
				Help: "Total number of blob store operations (put/get/delete).",
			},
			[]string{"operation", "object_id"},
		),
		blobOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zkim_blobstore_operation_duration_seconds",
				Help:    "Blob store operation duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "object_id"},
		),
		blobOperationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zkim_blobstore_operation_errors_total",
				Help: "Total number of blob store operation errors.",
			},
			[]string{"operation", "object_id", "error_type"},
		),
		encryptionOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zkim_encryption_operations_total",
				Help: "Total number of three-layer encrypt/decrypt operations.",
			},
			[]string{"operation"}, // "encrypt" or "decrypt"
		),
		encryptionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zkim_encryption_duration_seconds",
				Help:    "Encryption/decryption operation duration in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
			[]string{"operation"},
		),
		encryptionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zkim_encryption_errors_total",
				Help: "Total number of encryption/decryption errors.",
			},
			[]string{"operation", "error_type"},
		),
		encryptionBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zkim_encryption_bytes_total",
				Help: "Total plaintext bytes encrypted/decrypted.",
			},
			[]string{"operation"},
		),
		keyRotationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zkim_content_key_rotations_total",
				Help: "Total number of content-key rotations.",
			},
			[]string{"result"}, // "rotated", "disabled" or "failed"
		),
		indexOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zkim_index_operations_total",
				Help: "Total number of indexFile/updateFileIndex/removeFileFromIndex calls.",
			},
			[]string{"operation"},
		),
		indexOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zkim_index_operation_duration_seconds",
				Help:    "Index operation duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		searchOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zkim_search_operations_total",
				Help: "Total number of search operations, by outcome.",
			},
			[]string{"outcome"}, // "ok", "rate_limited", "failed"
		),
		searchOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "zkim_search_operation_duration_seconds",
				Help:    "Search operation duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"privacy_level"},
		),
		searchResultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zkim_search_results_total",
				Help: "Total results returned by search, split real vs padding.",
			},
			[]string{"kind"}, // "real" or "padding"
		),
		rateLimitRejectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "zkim_search_rate_limit_rejections_total",
				Help: "Total number of searches rejected by the epoch rate limiter.",
			},
		),
		trapdoorRotationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zkim_trapdoor_rotations_total",
				Help: "Total number of trapdoor lifecycle transitions.",
			},
			[]string{"transition"}, // "revoked_expired", "revoked_exhausted", "replaced"
		),
		bufferPoolHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zkim_buffer_pool_hits_total",
				Help: "Total number of kernel buffer pool hits.",
			},
			[]string{"size_class"},
		),
		bufferPoolMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "zkim_buffer_pool_misses_total",
				Help: "Total number of kernel buffer pool misses.",
			},
			[]string{"size_class"},
		),
		goroutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "zkim_goroutines",
				Help: "Number of goroutines.",
			},
		),
		memoryAllocBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "zkim_memory_alloc_bytes",
				Help: "Number of bytes allocated and not yet freed.",
			},
		),
		memorySysBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "zkim_memory_sys_bytes",
				Help: "Total bytes of memory obtained from OS.",
			},
		),
		hardwareAccelerationEnabled: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "zkim_hardware_acceleration_enabled",
				Help: "Hardware acceleration status (1=enabled, 0=disabled).",
			},
			[]string{"type"},
		),
	}
}

// SetHardwareAccelerationStatus sets the hardware acceleration status metric.
func (m *Metrics) SetHardwareAccelerationStatus(accelType string, enabled bool) {
	val := 0.0
	if enabled {
		val = 1.0
	}
	m.hardwareAccelerationEnabled.WithLabelValues(accelType).Set(val)
}

// GetHardwareAccelerationEnabledMetric returns the hardware acceleration enabled metric (for testing).
func (m *Metrics) GetHardwareAccelerationEnabledMetric() *prometheus.GaugeVec {
	return m.hardwareAccelerationEnabled
}

func (m *Metrics) objectLabel(objectID string) string {
	if !m.config.EnableObjectIDLabel {
		return "*"
	}
	return objectID
}

// RecordHTTPRequest records a single HTTP request served by the
// service's optional API, per the teacher's metrics.RecordHTTPRequest.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	labels := prometheus.Labels{"method": method, "path": path, "status": fmt.Sprintf("%d", status)}
	m.httpRequestsTotal.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// RecordBlobOperation records a blob-store put/get/delete.
func (m *Metrics) RecordBlobOperation(ctx context.Context, operation, objectID string, duration time.Duration) {
	label := m.objectLabel(objectID)
	labels := prometheus.Labels{"operation": operation, "object_id": label}

	if exemplar := getExemplar(ctx); exemplar != nil {
		if adder, ok := m.blobOperationsTotal.With(labels).(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(1, exemplar)
		} else {
			m.blobOperationsTotal.With(labels).Inc()
		}
		if observer, ok := m.blobOperationDuration.With(labels).(prometheus.ExemplarObserver); ok {
			observer.ObserveWithExemplar(duration.Seconds(), exemplar)
		} else {
			m.blobOperationDuration.With(labels).Observe(duration.Seconds())
		}
		return
	}
	m.blobOperationsTotal.With(labels).Inc()
	m.blobOperationDuration.With(labels).Observe(duration.Seconds())
}

// RecordBlobError records a blob-store operation error.
func (m *Metrics) RecordBlobError(ctx context.Context, operation, objectID, errorType string) {
	label := m.objectLabel(objectID)
	m.blobOperationErrors.WithLabelValues(operation, label, errorType).Inc()
}

// RecordEncryptionOperation records an encryption/decryption operation metric.
func (m *Metrics) RecordEncryptionOperation(ctx context.Context, operation string, duration time.Duration, bytes int64) {
	if exemplar := getExemplar(ctx); exemplar != nil {
		if adder, ok := m.encryptionOperations.WithLabelValues(operation).(prometheus.ExemplarAdder); ok {
			adder.AddWithExemplar(1, exemplar)
		} else {
			m.encryptionOperations.WithLabelValues(operation).Inc()
		}
		if observer, ok := m.encryptionDuration.WithLabelValues(operation).(prometheus.ExemplarObserver); ok {
			observer.ObserveWithExemplar(duration.Seconds(), exemplar)
		} else {
			m.encryptionDuration.WithLabelValues(operation).Observe(duration.Seconds())
		}
	} else {
		m.encryptionOperations.WithLabelValues(operation).Inc()
		m.encryptionDuration.WithLabelValues(operation).Observe(duration.Seconds())
	}
	m.encryptionBytes.WithLabelValues(operation).Add(float64(bytes))
}

// RecordEncryptionError records an encryption/decryption error.
func (m *Metrics) RecordEncryptionError(ctx context.Context, operation, errorType string) {
	m.encryptionErrors.WithLabelValues(operation, errorType).Inc()
}

// RecordKeyRotation records a content-key rotation attempt's result.
func (m *Metrics) RecordKeyRotation(result string) {
	m.keyRotationsTotal.WithLabelValues(result).Inc()
}

// RecordIndexOperation records an indexFile/updateFileIndex/removeFileFromIndex call.
func (m *Metrics) RecordIndexOperation(operation string, duration time.Duration) {
	m.indexOperationsTotal.WithLabelValues(operation).Inc()
	m.indexOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSearch records a search operation's outcome, duration by privacy
// level, and the real/padding split of its result set.
func (m *Metrics) RecordSearch(outcome, privacyLevel string, duration time.Duration, realResults, paddingResults int) {
	m.searchOperationsTotal.WithLabelValues(outcome).Inc()
	m.searchOperationDuration.WithLabelValues(privacyLevel).Observe(duration.Seconds())
	m.searchResultsTotal.WithLabelValues("real").Add(float64(realResults))
	m.searchResultsTotal.WithLabelValues("padding").Add(float64(paddingResults))
}

// RecordRateLimitRejection records a search rejected by the epoch rate limiter.
func (m *Metrics) RecordRateLimitRejection() {
	m.rateLimitRejectionsTotal.Inc()
}

// RecordTrapdoorTransition records a trapdoor lifecycle transition from rotateTrapdoors.
func (m *Metrics) RecordTrapdoorTransition(transition string) {
	m.trapdoorRotationsTotal.WithLabelValues(transition).Inc()
}

// RecordBufferPoolHit records a buffer pool hit.
func (m *Metrics) RecordBufferPoolHit(sizeClass string) {
	m.bufferPoolHits.WithLabelValues(sizeClass).Inc()
}

// RecordBufferPoolMiss records a buffer pool miss.
func (m *Metrics) RecordBufferPoolMiss(sizeClass string) {
	m.bufferPoolMisses.WithLabelValues(sizeClass).Inc()
}

// UpdateSystemMetrics updates system-level metrics (goroutines, memory).
func (m *Metrics) UpdateSystemMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.goroutines.Set(float64(runtime.NumGoroutine()))
	m.memoryAllocBytes.Set(float64(memStats.Alloc))
	m.memorySysBytes.Set(float64(memStats.Sys))
}

// StartSystemMetricsCollector starts a goroutine that periodically updates system metrics.
func (m *Metrics) StartSystemMetricsCollector() {
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		for range ticker.C {
			m.UpdateSystemMetrics()
		}
	}()
}

// Handler returns the HTTP handler for the metrics scrape endpoint. The
// core has no other HTTP surface; this is exposed purely so an embedding
// service can mount it without reimplementing the Prometheus wiring.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// getExemplar extracts trace ID from context and returns prometheus Labels for exemplar.
func getExemplar(ctx context.Context) prometheus.Labels {
	if ctx == nil {
		return nil
	}
	spanContext := trace.SpanFromContext(ctx).SpanContext()
	if spanContext.IsValid() {
		return prometheus.Labels{"trace_id": spanContext.TraceID().String()}
	}
	return nil
}
