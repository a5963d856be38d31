package manager

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/whamworks/resourced/pkg/metrics"
	"github.com/whamworks/resourced/pkg/session"
	"github.com/whamworks/resourced/pkg/storage"
	"github.com/whamworks/resourced/pkg/types"
)

const mapperPrefix = "/dev/mapper/"

// persistLunUpdates runs only for a hostside scannable: it discovers usable
// DeviceNode leaves, derives Volumes from their LogicalDrive ancestry,
// materialises
// VolumeNodes, de-duplicates mapper paths, balances affinity, and sweeps
// stale nodes. A no-op (not an error) when the scannable hasn't yet
// reported its own host_id.
func (m *Manager) persistLunUpdates(b *storage.Batch, sess *session.Session) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PersistLunUpdatesDuration)

	scannableRecordID, ok := sess.Global(sess.ScannableID)
	if !ok {
		return nil
	}
	classID, ok := m.classes.Get(scannableRecordID)
	if !ok {
		return nil
	}
	desc, ok := m.classDescriptor(classID)
	if !ok || !desc.IsHostside {
		return nil
	}
	hostAttr, found, err := b.GetAttribute(scannableRecordID, "host_id")
	if err != nil || !found || hostAttr.Kind != types.AttributeReference {
		return err
	}
	hostID := hostAttr.ValueID

	scoped, err := b.ListRecordsByScope(scannableRecordID)
	if err != nil {
		return err
	}

	var deviceNodes []*types.StorageResourceRecord
	for _, rec := range scoped {
		if d, ok := m.classDescriptor(rec.ResourceClassID); ok && d.IsDeviceNode {
			deviceNodes = append(deviceNodes, rec)
		}
	}

	var unassigned []*types.StorageResourceRecord
	for _, rec := range deviceNodes {
		if m.edges.HasChildren(rec.ID) {
			continue // not a leaf, not usable
		}
		existing, err := b.ListVolumeNodesByStorageResource(rec.ID)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			unassigned = append(unassigned, rec)
		}
	}

	isLogicalDrive := m.isLogicalDrive
	isOccupier := func(id string) bool {
		cid, ok := m.classes.Get(id)
		if !ok {
			return false
		}
		d, ok := m.classDescriptor(cid)
		return ok && d.IsLogicalDriveOccupier
	}

	driveOf := map[string]string{} // device node id -> logical drive id
	drives := map[string]bool{}
	for _, node := range unassigned {
		drive, ok := m.edges.FindAncestorWhere(node.ID, isLogicalDrive)
		if !ok {
			m.logger.Debug().Str("device_node_id", node.ID).AnErr("reason", ErrMissingAncestor).Msg("device node has no logical drive ancestor yet")
			continue
		}
		driveOf[node.ID] = drive
		drives[drive] = true
	}

	occupied := map[string]bool{}
	for driveID := range drives {
		if _, found, err := b.GetVolumeByStorageResource(driveID); err != nil {
			return err
		} else if found {
			continue // already has a live volume
		}
		if m.edges.AnyDescendantWhere(driveID, isOccupier, isLogicalDrive) {
			occupied[driveID] = true
			continue
		}
		label, err := m.volumeLabel(b, driveID, isLogicalDrive)
		if err != nil {
			return err
		}
		size, fsType, err := logicalDriveSizeAndType(b, driveID)
		if err != nil {
			return err
		}
		if err := b.UpsertVolume(&types.Volume{
			ID:                uuid.NewString(),
			StorageResourceID: driveID,
			Size:              size,
			FilesystemType:    fsType,
			Label:             label,
			NotDeleted:        true,
		}); err != nil {
			return err
		}
	}

	touchedVolumes := map[string]bool{}
	for _, node := range unassigned {
		driveID, ok := driveOf[node.ID]
		if !ok || occupied[driveID] {
			continue
		}
		vol, found, err := b.GetVolumeByStorageResource(driveID)
		if err != nil || !found {
			continue
		}
		pathAttr, found, err := b.GetAttribute(node.ID, "path")
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		var path string
		if err := json.Unmarshal(pathAttr.Value, &path); err != nil {
			continue
		}
		if _, exists, err := b.GetVolumeNodeByHostPath(hostID, path); err != nil {
			return err
		} else if exists {
			continue
		}
		if err := b.UpsertVolumeNode(&types.VolumeNode{
			ID:                uuid.NewString(),
			VolumeID:          vol.ID,
			HostID:            hostID,
			Path:              path,
			StorageResourceID: node.ID,
			NotDeleted:        true,
		}); err != nil {
			return err
		}
		touchedVolumes[vol.ID] = true
	}

	for volID := range touchedVolumes {
		if err := m.dedupMapperPaths(b, volID, hostID); err != nil {
			return err
		}
	}

	if err := m.balanceAffinity(b, touchedVolumes); err != nil {
		return err
	}

	return m.sweepStaleVolumeNodes(b, deviceNodes)
}

// dedupMapperPaths: when a LogicalDrive has more than one live VolumeNode
// on the same host, prefer the one whose path is under /dev/mapper/ and
// remove or disconnect the rest.
func (m *Manager) dedupMapperPaths(b *storage.Batch, volumeID, hostID string) error {
	nodes, err := b.ListVolumeNodesByVolume(volumeID)
	if err != nil {
		return err
	}
	var onHost []*types.VolumeNode
	var mapperNode *types.VolumeNode
	mapperCount := 0
	for _, vn := range nodes {
		if !vn.NotDeleted || vn.HostID != hostID {
			continue
		}
		onHost = append(onHost, vn)
		if strings.HasPrefix(vn.Path, mapperPrefix) {
			mapperCount++
			mapperNode = vn
		}
	}
	if len(onHost) < 2 || mapperCount != 1 {
		return nil
	}
	for _, vn := range onHost {
		if vn.ID == mapperNode.ID {
			continue
		}
		_, pinned, err := b.GetManagedTargetMountByVolumeNode(vn.ID)
		if err != nil {
			return err
		}
		if pinned {
			vn.StorageResourceID = ""
		} else {
			vn.NotDeleted = false
		}
		if err := b.UpsertVolumeNode(vn); err != nil {
			return err
		}
	}
	return nil
}

// sweepStaleVolumeNodes removes any VolumeNode whose backing resource is in
// this scope but is no longer a usable leaf, or disconnects it if a
// ManagedTargetMount pins it.
func (m *Manager) sweepStaleVolumeNodes(b *storage.Batch, deviceNodes []*types.StorageResourceRecord) error {
	for _, rec := range deviceNodes {
		if !m.edges.HasChildren(rec.ID) {
			continue // still a usable leaf
		}
		nodes, err := b.ListVolumeNodesByStorageResource(rec.ID)
		if err != nil {
			return err
		}
		for _, vn := range nodes {
			if !vn.NotDeleted {
				continue
			}
			_, pinned, err := b.GetManagedTargetMountByVolumeNode(vn.ID)
			if err != nil {
				return err
			}
			if pinned {
				vn.StorageResourceID = ""
			} else {
				vn.NotDeleted = false
			}
			if err := b.UpsertVolumeNode(vn); err != nil {
				return err
			}
		}
	}
	return nil
}

// isLogicalDrive reports whether recordID's class carries the LogicalDrive
// role.
func (m *Manager) isLogicalDrive(recordID string) bool {
	cid, ok := m.classes.Get(recordID)
	if !ok {
		return false
	}
	d, ok := m.classDescriptor(cid)
	return ok && d.IsLogicalDrive
}

// relabelDownstreamVolumes re-derives the label of every live Volume backed
// by a LogicalDrive descendant of driveID. Wiring a newly reported drive
// above an existing one changes the downstream drive's ancestor count, and
// with it which label the single-ancestor inheritance rule picks: a
// multipath device that gains its backing SCSI device as a parent inherits
// that device's label from then on.
func (m *Manager) relabelDownstreamVolumes(b *storage.Batch, driveID string) error {
	for _, id := range m.edges.Descendants(driveID) {
		if !m.isLogicalDrive(id) {
			continue
		}
		vol, found, err := b.GetVolumeByStorageResource(id)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		m.labelCache.Remove(id)
		label, err := m.volumeLabel(b, id, m.isLogicalDrive)
		if err != nil {
			return err
		}
		if label == vol.Label {
			continue
		}
		vol.Label = label
		if err := b.UpsertVolume(vol); err != nil {
			return err
		}
	}
	return nil
}

// volumeLabel: a LogicalDrive with exactly one LogicalDrive ancestor
// inherits that ancestor's label, otherwise uses its own.
func (m *Manager) volumeLabel(b *storage.Batch, driveID string, isLogicalDrive func(string) bool) (string, error) {
	ancestors := collectAncestors(m.edges, driveID, isLogicalDrive)
	target := driveID
	if len(ancestors) == 1 {
		target = ancestors[0]
	}
	return m.labelFor(b, target)
}

func collectAncestors(edges interface {
	GetParents(string) []string
}, start string, match func(string) bool) []string {
	visited := map[string]bool{start: true}
	var out []string
	var walk func(string)
	walk = func(n string) {
		for _, p := range edges.GetParents(n) {
			if visited[p] {
				continue
			}
			visited[p] = true
			if match(p) {
				out = append(out, p)
			}
			walk(p)
		}
	}
	walk(start)
	return out
}

// labelFor resolves a record's display label, memoised in
// Manager.labelCache.
func (m *Manager) labelFor(b *storage.Batch, recordID string) (string, error) {
	if cached, ok := m.labelCache.Get(recordID); ok {
		return cached.(string), nil
	}
	classID, ok := m.classes.Get(recordID)
	if !ok {
		return "", nil
	}
	desc, ok := m.classDescriptor(classID)
	if !ok || desc.Label == nil {
		return "", nil
	}
	attrs, err := b.ListAttributes(recordID)
	if err != nil {
		return "", err
	}
	values := make(map[string]json.RawMessage, len(attrs))
	for _, a := range attrs {
		if a.Kind == types.AttributeSerialized {
			values[a.Key] = a.Value
		}
	}
	label := desc.Label(values)
	m.labelCache.Add(recordID, label)
	return label, nil
}

func logicalDriveSizeAndType(b *storage.Batch, driveID string) (int64, string, error) {
	var size int64
	var fsType string
	if attr, found, err := b.GetAttribute(driveID, "size"); err != nil {
		return 0, "", err
	} else if found && attr.Kind == types.AttributeSerialized {
		_ = json.Unmarshal(attr.Value, &size)
	}
	if attr, found, err := b.GetAttribute(driveID, "filesystem_type"); err != nil {
		return 0, "", err
	} else if found && attr.Kind == types.AttributeSerialized {
		_ = json.Unmarshal(attr.Value, &fsType)
	}
	return size, fsType, nil
}
