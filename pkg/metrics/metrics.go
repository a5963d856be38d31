package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Live-count gauges, refreshed by pkg/manager.MetricsCollector.
	RecordsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resourced_records_total",
			Help: "Total number of live StorageResourceRecords by resource class",
		},
		[]string{"class"},
	)

	SessionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "resourced_sessions_open",
			Help: "Number of currently open plugin sessions",
		},
	)

	ActiveAlerts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "resourced_active_alerts",
			Help: "Number of currently active alerts",
		},
	)

	VolumesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "resourced_volumes_total",
			Help: "Number of live Volumes",
		},
	)

	VolumeNodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "resourced_volume_nodes_total",
			Help: "Number of live VolumeNodes by role (primary, secondary, unused)",
		},
		[]string{"role"},
	)

	// Fan-out / removal counters.
	CascadingDeleteRecordsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resourced_cascading_delete_records_total",
			Help: "Total number of records removed by cascading delete, across both phases",
		},
	)

	CulledResourcesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resourced_culled_resources_total",
			Help: "Total number of records removed by session cull, by scope kind",
		},
		[]string{"scope"},
	)

	// Latency histograms.
	BatchFlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resourced_batch_flush_duration_seconds",
			Help:    "Time taken to flush a manager entry point's storage.Batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	PersistLunUpdatesDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resourced_persist_lun_updates_duration_seconds",
			Help:    "Time taken by _persist_lun_updates (Volume/VolumeNode derivation and affinity balancing) per session",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Sample ingestion, low cardinality (no per-record label).
	StatSamplesIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resourced_stat_samples_ingested_total",
			Help: "Total number of statistic samples forwarded to the configured StatSink",
		},
	)

	// Idle-session reaper (pkg/reconciler).
	SessionsReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "resourced_sessions_reaped_total",
			Help: "Total number of plugin sessions dropped for exceeding their idle timeout",
		},
	)

	ReapCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resourced_reap_cycle_duration_seconds",
			Help:    "Time taken by one idle-session reap cycle",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(RecordsTotal)
	prometheus.MustRegister(SessionsOpen)
	prometheus.MustRegister(ActiveAlerts)
	prometheus.MustRegister(VolumesTotal)
	prometheus.MustRegister(VolumeNodesTotal)
	prometheus.MustRegister(CascadingDeleteRecordsTotal)
	prometheus.MustRegister(CulledResourcesTotal)
	prometheus.MustRegister(BatchFlushDuration)
	prometheus.MustRegister(PersistLunUpdatesDuration)
	prometheus.MustRegister(StatSamplesIngestedTotal)
	prometheus.MustRegister(SessionsReapedTotal)
	prometheus.MustRegister(ReapCycleDuration)
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
