package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Orchestrator / reconciliation metrics
	ServicesRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "monocore_services_running",
			Help: "Number of services with a live sandbox row",
		},
	)

	ServicesFailed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "monocore_services_failed",
			Help: "Number of services whose last known status is Failed",
		},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "monocore_reconciliation_duration_seconds",
			Help:    "Time taken for one up() reconciliation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "monocore_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	ServiceSpawnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "monocore_service_spawn_duration_seconds",
			Help:    "Time from supervisor spawn to sandbox row status=Started",
			Buckets: prometheus.DefBuckets,
		},
	)

	ServiceSpawnFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monocore_service_spawn_failures_total",
			Help: "Total number of services that failed to reach Started",
		},
		[]string{"service"},
	)

	// VMM metrics
	VMStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "monocore_vm_start_duration_seconds",
			Help:    "Wall time of a blocking VM start() call",
			Buckets: []float64{0.1, 0.5, 1, 5, 30, 60, 300, 1800, 3600},
		},
	)

	VMFFICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "monocore_vm_ffi_calls_total",
			Help: "Total number of VMM FFI calls by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	// OCI registry metrics
	OCIPullDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "monocore_oci_pull_duration_seconds",
			Help:    "Time taken to pull an image reference",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"ref"},
	)

	OCIBytesPulledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "monocore_oci_bytes_pulled_total",
			Help: "Total bytes of layer blobs downloaded",
		},
	)

	// Overlay merge metrics
	OverlayMergeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "monocore_overlay_merge_duration_seconds",
			Help:    "Time taken to merge an image's layers into a rootfs",
			Buckets: prometheus.DefBuckets,
		},
	)

	// IPLD block store metrics
	BlockStoreBlockCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "monocore_blockstore_block_count",
			Help: "Number of blocks currently held by the block store",
		},
	)

	BlockStorePutDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "monocore_blockstore_put_duration_seconds",
			Help:    "Time taken for a block store put operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"}, // "raw", "node", "bytes"
	)

	BlockStoreGetDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "monocore_blockstore_get_duration_seconds",
			Help:    "Time taken for a block store get operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		ServicesRunning,
		ServicesFailed,
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		ServiceSpawnDuration,
		ServiceSpawnFailuresTotal,
		VMStartDuration,
		VMFFICallsTotal,
		OCIPullDuration,
		OCIBytesPulledTotal,
		OverlayMergeDuration,
		BlockStoreBlockCount,
		BlockStorePutDuration,
		BlockStoreGetDuration,
	)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations and observing the elapsed
// duration into a histogram once the operation completes.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
