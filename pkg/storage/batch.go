package storage

import (
	"encoding/json"
	"fmt"

	"github.com/whamworks/resourced/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// Batch is the batched-writer facade: every write a manager entry point
// makes goes through one Batch, backed by a single bbolt write
// transaction, flushed once at the end of the entry point. This makes
// one-transaction-per-entry-point mechanical rather than a calling
// convention each entry point has to uphold by hand.
type Batch struct {
	tx *bolt.Tx
}

// Flush commits the underlying transaction.
func (b *Batch) Flush() error {
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("persistence error: %w", err)
	}
	return nil
}

// Discard rolls back the underlying transaction; safe to call after Flush
// has already failed, a no-op if the transaction is already closed.
func (b *Batch) Discard() {
	_ = b.tx.Rollback()
}

func put(tx *bolt.Tx, bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("persistence error: %w", err)
	}
	if err := tx.Bucket(bucket).Put(key, data); err != nil {
		return fmt.Errorf("persistence error: %w", err)
	}
	return nil
}

// --- Records ---

func (b *Batch) UpsertRecord(rec *types.StorageResourceRecord) error {
	return put(b.tx, bucketRecords, []byte(rec.ID), rec)
}

func (b *Batch) GetRecord(id string) (*types.StorageResourceRecord, bool, error) {
	data := b.tx.Bucket(bucketRecords).Get([]byte(id))
	if data == nil {
		return nil, false, nil
	}
	var rec types.StorageResourceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

func (b *Batch) FindRecord(classID, idStr, scopeID string) (*types.StorageResourceRecord, bool, error) {
	var found *types.StorageResourceRecord
	err := b.tx.Bucket(bucketRecords).ForEach(func(_, v []byte) error {
		var rec types.StorageResourceRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		if rec.ResourceClassID == classID && rec.StorageIDStr == idStr && rec.StorageIDScopeID == scopeID {
			found = &rec
		}
		return nil
	})
	return found, found != nil, err
}

func (b *Batch) DeleteRecord(id string) error {
	if err := b.tx.Bucket(bucketRecords).Delete([]byte(id)); err != nil {
		return fmt.Errorf("persistence error: %w", err)
	}
	return nil
}

func (b *Batch) ListRecordsByScope(scopeID string) ([]*types.StorageResourceRecord, error) {
	var out []*types.StorageResourceRecord
	err := b.tx.Bucket(bucketRecords).ForEach(func(_, v []byte) error {
		var rec types.StorageResourceRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		if rec.StorageIDScopeID == scopeID {
			out = append(out, &rec)
		}
		return nil
	})
	return out, err
}

func (b *Batch) ListAllRecords() ([]*types.StorageResourceRecord, error) {
	var out []*types.StorageResourceRecord
	err := b.tx.Bucket(bucketRecords).ForEach(func(_, v []byte) error {
		var rec types.StorageResourceRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		out = append(out, &rec)
		return nil
	})
	return out, err
}

// --- Parent edges ---

func (b *Batch) UpsertParentEdge(e *types.ParentEdge) error {
	return put(b.tx, bucketParentEdges, edgeKey(e.ChildID, e.ParentID), e)
}

func (b *Batch) DeleteParentEdge(childID, parentID string) error {
	if err := b.tx.Bucket(bucketParentEdges).Delete(edgeKey(childID, parentID)); err != nil {
		return fmt.Errorf("persistence error: %w", err)
	}
	return nil
}

// ListParentEdgesTouching returns every persisted edge where recordID is
// either the child or the parent, used by cascading delete step 1 ("remove
// every persisted parent edge whose reverse side is in ordered_for_deletion").
func (b *Batch) ListParentEdgesTouching(recordID string) ([]*types.ParentEdge, error) {
	var out []*types.ParentEdge
	err := b.tx.Bucket(bucketParentEdges).ForEach(func(_, v []byte) error {
		var e types.ParentEdge
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		if e.ChildID == recordID || e.ParentID == recordID {
			out = append(out, &e)
		}
		return nil
	})
	return out, err
}

// --- Attributes ---

func (b *Batch) UpsertAttribute(attr *types.ResourceAttribute) error {
	return put(b.tx, bucketAttributes, attrKey(attr.RecordID, attr.Key), attr)
}

func (b *Batch) GetAttribute(recordID, key string) (*types.ResourceAttribute, bool, error) {
	data := b.tx.Bucket(bucketAttributes).Get(attrKey(recordID, key))
	if data == nil {
		return nil, false, nil
	}
	var attr types.ResourceAttribute
	if err := json.Unmarshal(data, &attr); err != nil {
		return nil, false, err
	}
	return &attr, true, nil
}

func (b *Batch) ListAttributes(recordID string) ([]*types.ResourceAttribute, error) {
	var out []*types.ResourceAttribute
	prefix := []byte(recordID + "\x00")
	c := b.tx.Bucket(bucketAttributes).Cursor()
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		var attr types.ResourceAttribute
		if err := json.Unmarshal(v, &attr); err != nil {
			return nil, err
		}
		out = append(out, &attr)
	}
	return out, nil
}

// ListAllAttributes scans every attribute row across every record, used by
// cascading delete's phase 2 reference-following ("every record that has a
// ResourceReference attribute pointing at any phase-1 record").
func (b *Batch) ListAllAttributes() ([]*types.ResourceAttribute, error) {
	var out []*types.ResourceAttribute
	err := b.tx.Bucket(bucketAttributes).ForEach(func(_, v []byte) error {
		var attr types.ResourceAttribute
		if err := json.Unmarshal(v, &attr); err != nil {
			return err
		}
		out = append(out, &attr)
		return nil
	})
	return out, err
}

func (b *Batch) DeleteAttribute(recordID, key string) error {
	if err := b.tx.Bucket(bucketAttributes).Delete(attrKey(recordID, key)); err != nil {
		return fmt.Errorf("persistence error: %w", err)
	}
	return nil
}

// --- Statistics ---

func (b *Batch) UpsertStatistic(stat *types.StorageResourceStatistic) error {
	return put(b.tx, bucketStatistics, statKey(stat.RecordID, stat.Name), stat)
}

func (b *Batch) GetStatistic(recordID, name string) (*types.StorageResourceStatistic, bool, error) {
	data := b.tx.Bucket(bucketStatistics).Get(statKey(recordID, name))
	if data == nil {
		return nil, false, nil
	}
	var stat types.StorageResourceStatistic
	if err := json.Unmarshal(data, &stat); err != nil {
		return nil, false, err
	}
	return &stat, true, nil
}

// ListStatistics returns every statistic row owned by recordID, used by
// cascading delete to clear each one's metrics sink before removing the row.
func (b *Batch) ListStatistics(recordID string) ([]*types.StorageResourceStatistic, error) {
	var out []*types.StorageResourceStatistic
	prefix := []byte(recordID + "\x00")
	c := b.tx.Bucket(bucketStatistics).Cursor()
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		var stat types.StorageResourceStatistic
		if err := json.Unmarshal(v, &stat); err != nil {
			return nil, err
		}
		out = append(out, &stat)
	}
	return out, nil
}

func (b *Batch) DeleteStatistic(recordID, name string) error {
	if err := b.tx.Bucket(bucketStatistics).Delete(statKey(recordID, name)); err != nil {
		return fmt.Errorf("persistence error: %w", err)
	}
	return nil
}

// --- Alerts ---

func (b *Batch) UpsertAlert(a *types.StorageResourceAlert) error {
	return put(b.tx, bucketAlerts, []byte(a.ID), a)
}

func (b *Batch) FindActiveAlert(recordID, alertClass, attribute string) (*types.StorageResourceAlert, bool, error) {
	var found *types.StorageResourceAlert
	err := b.tx.Bucket(bucketAlerts).ForEach(func(_, v []byte) error {
		var a types.StorageResourceAlert
		if err := json.Unmarshal(v, &a); err != nil {
			return err
		}
		if a.Active && a.RecordID == recordID && a.AlertClass == alertClass && a.Attribute == attribute {
			found = &a
		}
		return nil
	})
	return found, found != nil, err
}

func (b *Batch) ListAlertsForRecords(recordIDs map[string]bool) ([]*types.StorageResourceAlert, error) {
	var out []*types.StorageResourceAlert
	err := b.tx.Bucket(bucketAlerts).ForEach(func(_, v []byte) error {
		var a types.StorageResourceAlert
		if err := json.Unmarshal(v, &a); err != nil {
			return err
		}
		if recordIDs[a.RecordID] {
			out = append(out, &a)
		}
		return nil
	})
	return out, err
}

func (b *Batch) DeleteAlert(id string) error {
	if err := b.tx.Bucket(bucketAlerts).Delete([]byte(id)); err != nil {
		return fmt.Errorf("persistence error: %w", err)
	}
	return nil
}

func (b *Batch) UpsertPropagated(p *types.StorageAlertPropagated) error {
	return put(b.tx, bucketPropagated, []byte(p.ID), p)
}

func (b *Batch) ListPropagated(alertID string) ([]*types.StorageAlertPropagated, error) {
	var out []*types.StorageAlertPropagated
	err := b.tx.Bucket(bucketPropagated).ForEach(func(_, v []byte) error {
		var p types.StorageAlertPropagated
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		if p.AlertID == alertID {
			out = append(out, &p)
		}
		return nil
	})
	return out, err
}

func (b *Batch) DeletePropagated(id string) error {
	if err := b.tx.Bucket(bucketPropagated).Delete([]byte(id)); err != nil {
		return fmt.Errorf("persistence error: %w", err)
	}
	return nil
}

// --- LearnEvents ---

func (b *Batch) InsertLearnEvent(ev *types.LearnEvent) error {
	return put(b.tx, bucketLearnEvents, []byte(ev.ID), ev)
}

func (b *Batch) DeleteLearnEventsForRecord(recordID string) error {
	bucket := b.tx.Bucket(bucketLearnEvents)
	var toDelete [][]byte
	err := bucket.ForEach(func(k, v []byte) error {
		var ev types.LearnEvent
		if err := json.Unmarshal(v, &ev); err != nil {
			return err
		}
		if ev.RecordID == recordID {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range toDelete {
		if err := bucket.Delete(k); err != nil {
			return fmt.Errorf("persistence error: %w", err)
		}
	}
	return nil
}

// --- Volumes / VolumeNodes ---

func (b *Batch) UpsertVolume(v *types.Volume) error {
	return put(b.tx, bucketVolumes, []byte(v.ID), v)
}

func (b *Batch) GetVolume(id string) (*types.Volume, bool, error) {
	data := b.tx.Bucket(bucketVolumes).Get([]byte(id))
	if data == nil {
		return nil, false, nil
	}
	var vol types.Volume
	if err := json.Unmarshal(data, &vol); err != nil {
		return nil, false, err
	}
	return &vol, true, nil
}

func (b *Batch) GetVolumeByStorageResource(recordID string) (*types.Volume, bool, error) {
	var found *types.Volume
	err := b.tx.Bucket(bucketVolumes).ForEach(func(_, v []byte) error {
		var vol types.Volume
		if err := json.Unmarshal(v, &vol); err != nil {
			return err
		}
		if vol.NotDeleted && vol.StorageResourceID == recordID {
			found = &vol
		}
		return nil
	})
	return found, found != nil, err
}

func (b *Batch) DeleteVolume(id string) error {
	if err := b.tx.Bucket(bucketVolumes).Delete([]byte(id)); err != nil {
		return fmt.Errorf("persistence error: %w", err)
	}
	return nil
}

func (b *Batch) UpsertVolumeNode(vn *types.VolumeNode) error {
	return put(b.tx, bucketVolumeNodes, []byte(vn.ID), vn)
}

func (b *Batch) GetVolumeNodeByHostPath(hostID, path string) (*types.VolumeNode, bool, error) {
	var found *types.VolumeNode
	err := b.tx.Bucket(bucketVolumeNodes).ForEach(func(_, v []byte) error {
		var vn types.VolumeNode
		if err := json.Unmarshal(v, &vn); err != nil {
			return err
		}
		if vn.NotDeleted && vn.HostID == hostID && vn.Path == path {
			found = &vn
		}
		return nil
	})
	return found, found != nil, err
}

func (b *Batch) ListVolumeNodesByStorageResource(recordID string) ([]*types.VolumeNode, error) {
	var out []*types.VolumeNode
	err := b.tx.Bucket(bucketVolumeNodes).ForEach(func(_, v []byte) error {
		var vn types.VolumeNode
		if err := json.Unmarshal(v, &vn); err != nil {
			return err
		}
		if vn.StorageResourceID == recordID {
			out = append(out, &vn)
		}
		return nil
	})
	return out, err
}

func (b *Batch) ListVolumeNodesByVolume(volumeID string) ([]*types.VolumeNode, error) {
	var out []*types.VolumeNode
	err := b.tx.Bucket(bucketVolumeNodes).ForEach(func(_, v []byte) error {
		var vn types.VolumeNode
		if err := json.Unmarshal(v, &vn); err != nil {
			return err
		}
		if vn.VolumeID == volumeID {
			out = append(out, &vn)
		}
		return nil
	})
	return out, err
}

// ListAllVolumeNodes returns every VolumeNode row, used by affinity
// balancing to seed per-host primary/used running counters from fleet-wide
// state before placing the volumes under consideration.
func (b *Batch) ListAllVolumeNodes() ([]*types.VolumeNode, error) {
	var out []*types.VolumeNode
	err := b.tx.Bucket(bucketVolumeNodes).ForEach(func(_, v []byte) error {
		var vn types.VolumeNode
		if err := json.Unmarshal(v, &vn); err != nil {
			return err
		}
		out = append(out, &vn)
		return nil
	})
	return out, err
}

func (b *Batch) DeleteVolumeNode(id string) error {
	if err := b.tx.Bucket(bucketVolumeNodes).Delete([]byte(id)); err != nil {
		return fmt.Errorf("persistence error: %w", err)
	}
	return nil
}

// --- External, read-only tables ---

func (b *Batch) GetManagedTargetByVolume(volumeID string) (*types.ManagedTarget, bool, error) {
	var found *types.ManagedTarget
	err := b.tx.Bucket(bucketManagedTargets).ForEach(func(_, v []byte) error {
		var mt types.ManagedTarget
		if err := json.Unmarshal(v, &mt); err != nil {
			return err
		}
		if mt.VolumeID == volumeID {
			found = &mt
		}
		return nil
	})
	return found, found != nil, err
}

func (b *Batch) GetManagedTargetMountByVolumeNode(volumeNodeID string) (*types.ManagedTargetMount, bool, error) {
	var found *types.ManagedTargetMount
	err := b.tx.Bucket(bucketManagedTargetMounts).ForEach(func(_, v []byte) error {
		var mtm types.ManagedTargetMount
		if err := json.Unmarshal(v, &mtm); err != nil {
			return err
		}
		if mtm.VolumeNodeID == volumeNodeID {
			found = &mtm
		}
		return nil
	})
	return found, found != nil, err
}

func (b *Batch) GetManagedHost(id string) (*types.ManagedHost, bool, error) {
	data := b.tx.Bucket(bucketManagedHosts).Get([]byte(id))
	if data == nil {
		return nil, false, nil
	}
	var h types.ManagedHost
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, false, err
	}
	return &h, true, nil
}

func (b *Batch) ListManagedHosts() ([]*types.ManagedHost, error) {
	var out []*types.ManagedHost
	err := b.tx.Bucket(bucketManagedHosts).ForEach(func(_, v []byte) error {
		var h types.ManagedHost
		if err := json.Unmarshal(v, &h); err != nil {
			return err
		}
		out = append(out, &h)
		return nil
	})
	return out, err
}

func (b *Batch) GetHaCluster(id string) (*types.HaCluster, bool, error) {
	data := b.tx.Bucket(bucketHaClusters).Get([]byte(id))
	if data == nil {
		return nil, false, nil
	}
	var c types.HaCluster
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, false, err
	}
	return &c, true, nil
}
