package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/whamworks/resourced/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketRecords             = []byte("records")
	bucketParentEdges         = []byte("parent_edges")
	bucketAttributes          = []byte("attributes")
	bucketStatistics          = []byte("statistics")
	bucketAlerts              = []byte("alerts")
	bucketPropagated          = []byte("propagated_alerts")
	bucketLearnEvents         = []byte("learn_events")
	bucketVolumes             = []byte("volumes")
	bucketVolumeNodes         = []byte("volume_nodes")
	bucketManagedTargets      = []byte("managed_targets")
	bucketManagedTargetMounts = []byte("managed_target_mounts")
	bucketManagedHosts        = []byte("managed_hosts")
	bucketHaClusters          = []byte("ha_clusters")

	allBuckets = [][]byte{
		bucketRecords, bucketParentEdges, bucketAttributes, bucketStatistics, bucketAlerts,
		bucketPropagated, bucketLearnEvents, bucketVolumes, bucketVolumeNodes,
		bucketManagedTargets, bucketManagedTargetMounts, bucketManagedHosts,
		bucketHaClusters,
	}
)

// BoltStore implements Store on top of an embedded bbolt database: one
// bucket per table, JSON-encoded values.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "resourced.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func attrKey(recordID, key string) []byte {
	return []byte(recordID + "\x00" + key)
}

func edgeKey(childID, parentID string) []byte {
	return []byte(childID + "\x00" + parentID)
}

// ListParentEdges returns every persisted parent edge, used once at startup
// to populate pkg/graph.EdgeIndex.
func (s *BoltStore) ListParentEdges() ([]*types.ParentEdge, error) {
	var out []*types.ParentEdge
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketParentEdges).ForEach(func(_, v []byte) error {
			var e types.ParentEdge
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, &e)
			return nil
		})
	})
	return out, err
}

func statKey(recordID, name string) []byte {
	return []byte(recordID + "\x00" + name)
}

// --- Records ---

func (s *BoltStore) FindRecord(classID, idStr, scopeID string) (*types.StorageResourceRecord, error) {
	var found *types.StorageResourceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		return b.ForEach(func(_, v []byte) error {
			var rec types.StorageResourceRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.ResourceClassID == classID && rec.StorageIDStr == idStr && rec.StorageIDScopeID == scopeID {
				found = &rec
			}
			return nil
		})
	})
	return found, err
}

func (s *BoltStore) GetRecord(id string) (*types.StorageResourceRecord, error) {
	var rec *types.StorageResourceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRecords).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("record not found: %s", id)
		}
		rec = &types.StorageResourceRecord{}
		return json.Unmarshal(data, rec)
	})
	return rec, err
}

func (s *BoltStore) ListRecords() ([]*types.StorageResourceRecord, error) {
	var out []*types.StorageResourceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(_, v []byte) error {
			var rec types.StorageResourceRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, &rec)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListRecordsByScope(scopeID string) ([]*types.StorageResourceRecord, error) {
	all, err := s.ListRecords()
	if err != nil {
		return nil, err
	}
	var out []*types.StorageResourceRecord
	for _, rec := range all {
		if rec.StorageIDScopeID == scopeID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *BoltStore) ClassOfRecord(id string) (string, bool, error) {
	rec, err := s.GetRecord(id)
	if err != nil {
		return "", false, nil
	}
	return rec.ResourceClassID, true, nil
}

// --- Attributes ---

func (s *BoltStore) GetAttribute(recordID, key string) (*types.ResourceAttribute, error) {
	var attr *types.ResourceAttribute
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAttributes).Get(attrKey(recordID, key))
		if data == nil {
			return fmt.Errorf("attribute not found: %s/%s", recordID, key)
		}
		attr = &types.ResourceAttribute{}
		return json.Unmarshal(data, attr)
	})
	return attr, err
}

func (s *BoltStore) ListAttributes(recordID string) ([]*types.ResourceAttribute, error) {
	var out []*types.ResourceAttribute
	prefix := []byte(recordID + "\x00")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAttributes).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var attr types.ResourceAttribute
			if err := json.Unmarshal(v, &attr); err != nil {
				return err
			}
			out = append(out, &attr)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) AttributesOf(recordID string) (map[string]*types.ResourceAttribute, error) {
	list, err := s.ListAttributes(recordID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*types.ResourceAttribute, len(list))
	for _, a := range list {
		out[a.Key] = a
	}
	return out, nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// --- Statistics ---

func (s *BoltStore) GetStatistic(recordID, name string) (*types.StorageResourceStatistic, error) {
	var stat *types.StorageResourceStatistic
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketStatistics).Get(statKey(recordID, name))
		if data == nil {
			return fmt.Errorf("statistic not found: %s/%s", recordID, name)
		}
		stat = &types.StorageResourceStatistic{}
		return json.Unmarshal(data, stat)
	})
	return stat, err
}

// --- Alerts ---

func (s *BoltStore) GetAlert(id string) (*types.StorageResourceAlert, error) {
	var alert *types.StorageResourceAlert
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAlerts).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("alert not found: %s", id)
		}
		alert = &types.StorageResourceAlert{}
		return json.Unmarshal(data, alert)
	})
	return alert, err
}

func (s *BoltStore) FindActiveAlert(recordID, alertClass, attribute string) (*types.StorageResourceAlert, error) {
	var found *types.StorageResourceAlert
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAlerts).ForEach(func(_, v []byte) error {
			var a types.StorageResourceAlert
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.Active && a.RecordID == recordID && a.AlertClass == alertClass && a.Attribute == attribute {
				found = &a
			}
			return nil
		})
	})
	return found, err
}

func (s *BoltStore) ListActiveAlerts() ([]*types.StorageResourceAlert, error) {
	var out []*types.StorageResourceAlert
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAlerts).ForEach(func(_, v []byte) error {
			var a types.StorageResourceAlert
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.Active {
				out = append(out, &a)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListPropagated(alertID string) ([]*types.StorageAlertPropagated, error) {
	var out []*types.StorageAlertPropagated
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPropagated).ForEach(func(_, v []byte) error {
			var p types.StorageAlertPropagated
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.AlertID == alertID {
				out = append(out, &p)
			}
			return nil
		})
	})
	return out, err
}

// --- Volumes / VolumeNodes ---

func (s *BoltStore) GetVolume(id string) (*types.Volume, error) {
	var vol *types.Volume
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketVolumes).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("volume not found: %s", id)
		}
		vol = &types.Volume{}
		return json.Unmarshal(data, vol)
	})
	return vol, err
}

func (s *BoltStore) GetVolumeByStorageResource(recordID string) (*types.Volume, error) {
	var found *types.Volume
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVolumes).ForEach(func(_, v []byte) error {
			var vol types.Volume
			if err := json.Unmarshal(v, &vol); err != nil {
				return err
			}
			if vol.NotDeleted && vol.StorageResourceID == recordID {
				found = &vol
			}
			return nil
		})
	})
	return found, err
}

func (s *BoltStore) ListVolumes() ([]*types.Volume, error) {
	var out []*types.Volume
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVolumes).ForEach(func(_, v []byte) error {
			var vol types.Volume
			if err := json.Unmarshal(v, &vol); err != nil {
				return err
			}
			out = append(out, &vol)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) GetVolumeNode(id string) (*types.VolumeNode, error) {
	var vn *types.VolumeNode
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketVolumeNodes).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("volume node not found: %s", id)
		}
		vn = &types.VolumeNode{}
		return json.Unmarshal(data, vn)
	})
	return vn, err
}

func (s *BoltStore) GetVolumeNodeByHostPath(hostID, path string) (*types.VolumeNode, error) {
	var found *types.VolumeNode
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVolumeNodes).ForEach(func(_, v []byte) error {
			var vn types.VolumeNode
			if err := json.Unmarshal(v, &vn); err != nil {
				return err
			}
			if vn.NotDeleted && vn.HostID == hostID && vn.Path == path {
				found = &vn
			}
			return nil
		})
	})
	return found, err
}

func (s *BoltStore) ListVolumeNodesByVolume(volumeID string) ([]*types.VolumeNode, error) {
	all, err := s.ListVolumeNodes()
	if err != nil {
		return nil, err
	}
	var out []*types.VolumeNode
	for _, vn := range all {
		if vn.VolumeID == volumeID {
			out = append(out, vn)
		}
	}
	return out, nil
}

func (s *BoltStore) ListVolumeNodesByStorageResource(recordID string) ([]*types.VolumeNode, error) {
	all, err := s.ListVolumeNodes()
	if err != nil {
		return nil, err
	}
	var out []*types.VolumeNode
	for _, vn := range all {
		if vn.StorageResourceID == recordID {
			out = append(out, vn)
		}
	}
	return out, nil
}

func (s *BoltStore) ListVolumeNodes() ([]*types.VolumeNode, error) {
	var out []*types.VolumeNode
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVolumeNodes).ForEach(func(_, v []byte) error {
			var vn types.VolumeNode
			if err := json.Unmarshal(v, &vn); err != nil {
				return err
			}
			out = append(out, &vn)
			return nil
		})
	})
	return out, err
}

// --- External tables ---

func (s *BoltStore) GetManagedTargetByVolume(volumeID string) (*types.ManagedTarget, error) {
	var found *types.ManagedTarget
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketManagedTargets).ForEach(func(_, v []byte) error {
			var mt types.ManagedTarget
			if err := json.Unmarshal(v, &mt); err != nil {
				return err
			}
			if mt.VolumeID == volumeID {
				found = &mt
			}
			return nil
		})
	})
	return found, err
}

func (s *BoltStore) GetManagedTargetMountByVolumeNode(volumeNodeID string) (*types.ManagedTargetMount, error) {
	var found *types.ManagedTargetMount
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketManagedTargetMounts).ForEach(func(_, v []byte) error {
			var mtm types.ManagedTargetMount
			if err := json.Unmarshal(v, &mtm); err != nil {
				return err
			}
			if mtm.VolumeNodeID == volumeNodeID {
				found = &mtm
			}
			return nil
		})
	})
	return found, err
}

func (s *BoltStore) GetManagedHost(id string) (*types.ManagedHost, error) {
	var host *types.ManagedHost
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketManagedHosts).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("host not found: %s", id)
		}
		host = &types.ManagedHost{}
		return json.Unmarshal(data, host)
	})
	return host, err
}

func (s *BoltStore) ListManagedHosts() ([]*types.ManagedHost, error) {
	var out []*types.ManagedHost
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketManagedHosts).ForEach(func(_, v []byte) error {
			var h types.ManagedHost
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			out = append(out, &h)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) GetHaCluster(id string) (*types.HaCluster, error) {
	var c *types.HaCluster
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketHaClusters).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("ha cluster not found: %s", id)
		}
		c = &types.HaCluster{}
		return json.Unmarshal(data, c)
	})
	return c, err
}

func (s *BoltStore) ListHaClusters() ([]*types.HaCluster, error) {
	var out []*types.HaCluster
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHaClusters).ForEach(func(_, v []byte) error {
			var c types.HaCluster
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, &c)
			return nil
		})
	})
	return out, err
}

// ImportManagedHost, ImportHaCluster, ImportManagedTarget, and
// ImportManagedTargetMount write the external tables owned by the
// job-scheduler/API tier, not the core. The core itself never calls these;
// they exist for whatever
// out-of-process importer keeps this store's copy of fleet/HA-membership
// data in sync, and for tests that need to seed affinity fixtures.
func (s *BoltStore) ImportManagedHost(h *types.ManagedHost) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketManagedHosts, []byte(h.ID), h) })
}

func (s *BoltStore) ImportHaCluster(c *types.HaCluster) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketHaClusters, []byte(c.ID), c) })
}

func (s *BoltStore) ImportManagedTarget(mt *types.ManagedTarget) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketManagedTargets, []byte(mt.ID), mt) })
}

func (s *BoltStore) ImportManagedTargetMount(mtm *types.ManagedTargetMount) error {
	return s.db.Update(func(tx *bolt.Tx) error { return put(tx, bucketManagedTargetMounts, []byte(mtm.ID), mtm) })
}

// OpenBatch starts the one write transaction a manager entry point uses for
// every mutation it makes.
func (s *BoltStore) OpenBatch() (*Batch, error) {
	tx, err := s.db.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("failed to begin batch: %w", err)
	}
	return &Batch{tx: tx}, nil
}
