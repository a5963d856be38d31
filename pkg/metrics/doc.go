/*
Package metrics defines and registers the resource manager's Prometheus
metrics, and the health/readiness HTTP handlers that sit alongside them.

# Metric families

  - Gauges: live counts refreshed periodically by
    pkg/manager.MetricsCollector: records per class, open sessions, active
    alerts, live Volumes, and VolumeNodes by role (primary/secondary/unused).
  - Counters: cascading-delete fan-out, session-cull removals by scope kind,
    and statistic samples forwarded to a StatSink, updated inline by the
    manager code that causes them, not by the poller.
  - Histograms: storage.Batch flush latency (one observation per manager
    entry point) and _persist_lun_updates duration per session.

Handler returns the promhttp handler for scraping; Timer is a small
start/stop helper used to feed histogram Observe calls without repeating
time.Since(start).Seconds() at every call site.

# Health

HealthChecker tracks named components ("storage", "manager") as healthy or
not; GetHealth/GetReadiness roll that up into the JSON body served by
HealthHandler/ReadyHandler/LivenessHandler. Any unhealthy component makes
/health return 503; /ready returns 503 until both "storage" and "manager"
are registered and healthy; /live always returns 200, mirroring the
readiness-vs-liveness split Kubernetes probes expect.
*/
package metrics
