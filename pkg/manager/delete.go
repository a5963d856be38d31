package manager

import (
	"github.com/whamworks/resourced/pkg/metrics"
	"github.com/whamworks/resourced/pkg/storage"
	"github.com/whamworks/resourced/pkg/types"
)

// alertClassOffline is cleared unconditionally when a scannable goes away.
const alertClassOffline = "StorageResourceOffline"

// deleteResource runs two-phase dependency collection followed by a
// seven-step teardown, all inside the caller's already-open batch.
func (m *Manager) deleteResource(b *storage.Batch, targetID string) error {
	ordered, err := m.collectForDeletion(b, targetID)
	if err != nil {
		return err
	}
	return m.teardown(b, ordered)
}

// collectForDeletion runs phase 1 (scope + reported_by fallout) and phase 2
// (transitive ResourceReference followers), returning the final deletion
// order with targetID last.
func (m *Manager) collectForDeletion(b *storage.Batch, targetID string) ([]string, error) {
	phase1 := []string{}
	visited := map[string]bool{}
	add := func(id string) {
		if !visited[id] {
			visited[id] = true
			phase1 = append(phase1, id)
		}
	}

	classID, _ := m.classes.Get(targetID)
	desc, _ := m.classDescriptor(classID)

	if desc != nil && (desc.IsScannable || desc.IsHostside) {
		// targetID doubles as the scope key: persistNewResources scopes a
		// scannable's descendants by that scannable's own record id (see
		// scannableScope in persist.go), so deleting the scannable by that
		// same id finds them directly.
		scoped, err := b.ListRecordsByScope(targetID)
		if err != nil {
			return nil, err
		}
		for _, rec := range scoped {
			add(rec.ID)
		}

		all, err := b.ListAllRecords()
		if err != nil {
			return nil, err
		}
		for _, rec := range all {
			if rec.ID == targetID || rec.StorageIDScopeID != "" {
				continue
			}
			if !rec.ReportedBy[targetID] {
				continue
			}
			delete(rec.ReportedBy, targetID)
			if len(rec.ReportedBy) == 0 {
				recDesc, _ := m.classDescriptor(rec.ResourceClassID)
				if recDesc == nil || (!recDesc.IsScannable && !recDesc.IsHostside) {
					add(rec.ID)
					continue
				}
			}
			if err := b.UpsertRecord(rec); err != nil {
				return nil, err
			}
		}
	}

	if desc != nil && desc.IsScannable {
		alert, found, err := b.FindActiveAlert(targetID, alertClassOffline, "")
		if err != nil {
			return nil, err
		}
		if found {
			if err := m.clearAlertRow(b, alert); err != nil {
				return nil, err
			}
		}
	}

	add(targetID)

	// Phase 2: transitively extend with every record holding a
	// ResourceReference attribute pointing at anything collected so far.
	// Tolerant of reference cycles via the visited set.
	allAttrs, err := b.ListAllAttributes()
	if err != nil {
		return nil, err
	}
	referencedBy := map[string][]string{} // target -> referrers
	for _, attr := range allAttrs {
		if attr.Kind != types.AttributeReference {
			continue
		}
		referencedBy[attr.ValueID] = append(referencedBy[attr.ValueID], attr.RecordID)
	}

	queue := append([]string{}, phase1...)
	ordered := append([]string{}, phase1...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, referrer := range referencedBy[id] {
			if visited[referrer] {
				continue
			}
			visited[referrer] = true
			ordered = append(ordered, referrer)
			queue = append(queue, referrer)
		}
	}

	return ordered, nil
}

// teardown performs the seven bulk cleanup steps over the full ordered set
// of records being removed.
func (m *Manager) teardown(b *storage.Batch, ordered []string) error {
	set := make(map[string]bool, len(ordered))
	for _, id := range ordered {
		set[id] = true
	}
	metrics.CascadingDeleteRecordsTotal.Add(float64(len(ordered)))

	// Step 1: drop every persisted parent edge touching a deleted record.
	for _, id := range ordered {
		edges, err := b.ListParentEdgesTouching(id)
		if err != nil {
			return err
		}
		for _, e := range edges {
			if err := m.removeParentEdge(b, e.ChildID, e.ParentID); err != nil {
				return err
			}
		}
		m.edges.RemoveNode(id)
	}

	// Step 2: VolumeNodes backed by a deleted record.
	affectedVolumes := map[string]bool{}
	for _, id := range ordered {
		nodes, err := b.ListVolumeNodesByStorageResource(id)
		if err != nil {
			return err
		}
		for _, vn := range nodes {
			_, pinned, err := b.GetManagedTargetMountByVolumeNode(vn.ID)
			if err != nil {
				return err
			}
			if pinned {
				m.logger.Warn().Str("volume_node_id", vn.ID).Msg("volume node pinned by managed target mount, disconnecting from deleted resource")
				vn.StorageResourceID = ""
			} else {
				vn.NotDeleted = false
			}
			if err := b.UpsertVolumeNode(vn); err != nil {
				return err
			}
			affectedVolumes[vn.VolumeID] = true
		}
	}

	// Step 3: Volumes directly backed by a deleted record, or orphaned by
	// step 2.
	for _, id := range ordered {
		if vol, found, err := b.GetVolumeByStorageResource(id); err != nil {
			return err
		} else if found {
			affectedVolumes[vol.ID] = true
		}
	}
	for volID := range affectedVolumes {
		vol, found, err := b.GetVolume(volID)
		if err != nil || !found {
			continue
		}
		_, pinned, err := b.GetManagedTargetByVolume(volID)
		if err != nil {
			return err
		}
		remaining, err := b.ListVolumeNodesByVolume(volID)
		if err != nil {
			return err
		}
		hasLive := false
		for _, vn := range remaining {
			if vn.NotDeleted {
				hasLive = true
				break
			}
		}
		if !pinned && !hasLive {
			vol.NotDeleted = false
		} else {
			vol.StorageResourceID = ""
		}
		if err := b.UpsertVolume(vol); err != nil {
			return err
		}
	}

	// Step 4: propagated rows, then alert rows, for every deleted record.
	alerts, err := b.ListAlertsForRecords(set)
	if err != nil {
		return err
	}
	for _, a := range alerts {
		propagated, err := b.ListPropagated(a.ID)
		if err != nil {
			return err
		}
		for _, p := range propagated {
			if err := b.DeletePropagated(p.ID); err != nil {
				return err
			}
		}
		if err := b.DeleteAlert(a.ID); err != nil {
			return err
		}
		delete(m.activeAlerts, alertKey{a.RecordID, a.AlertClass, a.Attribute})
	}

	// Step 5: statistics. Each statistic's samples are cleared from the
	// sink, then its declaration row is removed.
	for _, id := range ordered {
		stats, err := b.ListStatistics(id)
		if err != nil {
			return err
		}
		for _, s := range stats {
			m.stats.Clear(id, s.Name)
			if err := b.DeleteStatistic(id, s.Name); err != nil {
				return err
			}
		}
	}

	// Step 6: clear in-memory indices and session maps.
	for _, id := range ordered {
		m.subscribers.RemoveResource(id)
		m.classes.RemoveRecord(id)
		m.labelCache.Remove(id)
		for _, sess := range m.sessions {
			sess.Forget(id)
		}
	}

	// Step 7: learn events, attributes, then the records themselves.
	for _, id := range ordered {
		if err := b.DeleteLearnEventsForRecord(id); err != nil {
			return err
		}
		attrs, err := b.ListAttributes(id)
		if err != nil {
			return err
		}
		for _, a := range attrs {
			if err := b.DeleteAttribute(id, a.Key); err != nil {
				return err
			}
		}
		if err := b.DeleteRecord(id); err != nil {
			return err
		}
	}

	return nil
}
