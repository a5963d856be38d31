package storage

import "github.com/whamworks/resourced/pkg/types"

// Store is the durable persistence layer: every table in the data model
// plus the batched-write transaction facade every manager entry point uses
// to keep its work in a single transaction.
//
// Outside of a Batch, Store methods each run their own single-operation
// transaction, one db.View/db.Update per call. Batch methods instead share
// one transaction across an entire entry point.
type Store interface {
	// Records
	FindRecord(classID, idStr, scopeID string) (*types.StorageResourceRecord, error)
	GetRecord(id string) (*types.StorageResourceRecord, error)
	ListRecords() ([]*types.StorageResourceRecord, error)
	ListRecordsByScope(scopeID string) ([]*types.StorageResourceRecord, error)
	ClassOfRecord(id string) (string, bool, error)

	// Parent edges, the durable counterpart of pkg/graph.EdgeIndex.
	ListParentEdges() ([]*types.ParentEdge, error)

	// Attributes
	GetAttribute(recordID, key string) (*types.ResourceAttribute, error)
	ListAttributes(recordID string) ([]*types.ResourceAttribute, error)
	AttributesOf(recordID string) (map[string]*types.ResourceAttribute, error)

	// Statistics
	GetStatistic(recordID, name string) (*types.StorageResourceStatistic, error)

	// Alerts
	GetAlert(id string) (*types.StorageResourceAlert, error)
	FindActiveAlert(recordID, alertClass, attribute string) (*types.StorageResourceAlert, error)
	ListActiveAlerts() ([]*types.StorageResourceAlert, error)
	ListPropagated(alertID string) ([]*types.StorageAlertPropagated, error)

	// Volumes / VolumeNodes
	GetVolume(id string) (*types.Volume, error)
	GetVolumeByStorageResource(recordID string) (*types.Volume, error)
	ListVolumes() ([]*types.Volume, error)
	GetVolumeNode(id string) (*types.VolumeNode, error)
	GetVolumeNodeByHostPath(hostID, path string) (*types.VolumeNode, error)
	ListVolumeNodesByVolume(volumeID string) ([]*types.VolumeNode, error)
	ListVolumeNodesByStorageResource(recordID string) ([]*types.VolumeNode, error)
	ListVolumeNodes() ([]*types.VolumeNode, error)

	// External tables, read-only from the core's perspective
	GetManagedTargetByVolume(volumeID string) (*types.ManagedTarget, error)
	GetManagedTargetMountByVolumeNode(volumeNodeID string) (*types.ManagedTargetMount, error)
	GetManagedHost(id string) (*types.ManagedHost, error)
	ListManagedHosts() ([]*types.ManagedHost, error)
	GetHaCluster(id string) (*types.HaCluster, error)
	ListHaClusters() ([]*types.HaCluster, error)

	// OpenBatch starts the single write transaction an entry point uses
	// for every mutation it makes; callers must Flush or Discard it.
	OpenBatch() (*Batch, error)

	Close() error
}
