package manager

// This file holds the read-only query methods MetricsCollector uses to
// refresh pkg/metrics gauges. Each acquires m.mu like any other public
// method, but only reads; no batch is opened.

// RecordCountsByClass returns the number of live records per resource class
// id, for the per-class resourced_records_total gauge.
func (m *Manager) RecordCountsByClass() (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.store.ListRecords()
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, rec := range records {
		counts[rec.ResourceClassID]++
	}
	return counts, nil
}

// SessionCount returns the number of currently open plugin sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ActiveAlertCount returns the number of currently active alerts.
func (m *Manager) ActiveAlertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.activeAlerts)
}

// VolumeCount returns the number of live Volumes.
func (m *Manager) VolumeCount() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	volumes, err := m.store.ListVolumes()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, v := range volumes {
		if v.NotDeleted {
			n++
		}
	}
	return n, nil
}

// VolumeNodeCountsByRole returns the number of live VolumeNodes split into
// "primary", "secondary" (use but not primary), and "unused" (neither).
func (m *Manager) VolumeNodeCountsByRole() (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nodes, err := m.store.ListVolumeNodes()
	if err != nil {
		return nil, err
	}
	counts := map[string]int{"primary": 0, "secondary": 0, "unused": 0}
	for _, vn := range nodes {
		if !vn.NotDeleted {
			continue
		}
		switch {
		case vn.Primary:
			counts["primary"]++
		case vn.Use:
			counts["secondary"]++
		default:
			counts["unused"]++
		}
	}
	return counts, nil
}
