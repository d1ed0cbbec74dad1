// Package metrics defines custom Prometheus metrics for BleepDrive.
package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// registerOnce ensures Register() is idempotent.
var registerOnce sync.Once

// sizeBuckets are exponential buckets for request/response size histograms (bytes).
var sizeBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304, 16777216, 67108864}

// HTTP metrics (RED: Rate, Errors, Duration).
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bleepdrive_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency in seconds by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bleepdrive_http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPResponseSize observes response body size in bytes.
	HTTPResponseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bleepdrive_http_response_size_bytes",
			Help:    "Response body size in bytes",
			Buckets: sizeBuckets,
		},
		[]string{"method", "path"},
	)
)

// Storage operation metrics, recorded by the drive facade for every call
// that crosses the storage contract.
var (
	// StorageOperationsTotal counts operations by disk, operation and status.
	// Status is "success" or the error kind (e.g. "E_FILE_NOT_FOUND").
	StorageOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bleepdrive_storage_operations_total",
			Help: "Storage operations by disk, operation and status",
		},
		[]string{"disk", "operation", "status"},
	)

	// StorageOperationDuration observes operation latency in seconds.
	StorageOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bleepdrive_storage_operation_duration_seconds",
			Help:    "Storage operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"disk", "operation"},
	)

	// DisksConfigured is a gauge of disks built at startup, by driver.
	DisksConfigured = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bleepdrive_disks_configured",
			Help: "Configured disks by driver",
		},
		[]string{"driver"},
	)

	// BytesReceivedTotal counts bytes accepted through gateway uploads.
	BytesReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bleepdrive_bytes_received_total",
			Help: "Total bytes received (request bodies)",
		},
	)

	// BytesSentTotal counts bytes streamed by the gateway.
	BytesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bleepdrive_bytes_sent_total",
			Help: "Total bytes sent (response bodies)",
		},
	)
)

// Register registers all Prometheus collectors with the default registry.
// This must be called explicitly (typically from main) so that metrics
// registration can be made conditional on configuration. It is safe to call
// multiple times; subsequent calls are no-ops.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			HTTPResponseSize,
			StorageOperationsTotal,
			StorageOperationDuration,
			DisksConfigured,
			BytesReceivedTotal,
			BytesSentTotal,
		)
	})
}

// NormalizePath maps actual request paths to normalized path templates
// suitable for use as Prometheus metric labels. File locations are dropped
// to keep label cardinality bounded; disk names are kept since they come
// from configuration.
func NormalizePath(path string) string {
	switch path {
	case "/health", "/metrics", "/disks", "/openapi.json", "/openapi.yaml":
		return path
	case "/docs", "/docs/":
		return "/docs"
	case "/", "":
		return "/"
	}
	if strings.HasPrefix(path, "/docs") {
		return "/docs"
	}

	rest, ok := strings.CutPrefix(path, "/files/")
	if !ok {
		return "/other"
	}
	disk, _, _ := strings.Cut(rest, "/")
	if disk == "" {
		return "/files"
	}
	return "/files/" + disk + "/{path}"
}
