package manager

import (
	"time"

	"github.com/whamworks/resourced/pkg/metrics"
)

// MetricsCollector periodically refreshes the pkg/metrics gauges from the
// manager's current state, the live record/session/alert/volume counts;
// counters and histograms are updated inline by the entry points and
// helpers that cause them, not by this poller.
type MetricsCollector struct {
	manager *Manager
	stopCh  chan struct{}
}

// NewMetricsCollector creates a new metrics collector for mgr.
func NewMetricsCollector(mgr *Manager) *MetricsCollector {
	return &MetricsCollector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds, collecting once
// immediately.
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	c.collectRecordMetrics()
	c.collectSessionMetrics()
	c.collectAlertMetrics()
	c.collectVolumeMetrics()
}

func (c *MetricsCollector) collectRecordMetrics() {
	counts, err := c.manager.RecordCountsByClass()
	if err != nil {
		return
	}
	for class, count := range counts {
		metrics.RecordsTotal.WithLabelValues(class).Set(float64(count))
	}
}

func (c *MetricsCollector) collectSessionMetrics() {
	metrics.SessionsOpen.Set(float64(c.manager.SessionCount()))
}

func (c *MetricsCollector) collectAlertMetrics() {
	metrics.ActiveAlerts.Set(float64(c.manager.ActiveAlertCount()))
}

func (c *MetricsCollector) collectVolumeMetrics() {
	if n, err := c.manager.VolumeCount(); err == nil {
		metrics.VolumesTotal.Set(float64(n))
	}
	roles, err := c.manager.VolumeNodeCountsByRole()
	if err != nil {
		return
	}
	for role, count := range roles {
		metrics.VolumeNodesTotal.WithLabelValues(role).Set(float64(count))
	}
}
