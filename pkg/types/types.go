package types

import (
	"encoding/json"
	"time"
)

// StorageResourceRecord is a single persisted node in the topology graph.
//
// Uniqueness is on (ResourceClassID, StorageIDStr, StorageIDScopeID); scoped
// records (StorageIDScopeID != "") are unique only within their scannable,
// global records (StorageIDScopeID == "") are unique fleet-wide and may be
// reported by more than one scannable (see ReportedBy).
type StorageResourceRecord struct {
	ID               string
	ResourceClassID  string
	StorageIDStr     string
	StorageIDScopeID string // empty for global identifiers
	ReportedBy       map[string]bool
	CreatedAt        time.Time
}

// Scoped reports whether this record's identity is scannable-local.
func (r *StorageResourceRecord) Scoped() bool {
	return r.StorageIDScopeID != ""
}

// AttributeKind distinguishes the two ResourceAttribute storage variants.
type AttributeKind int

const (
	AttributeSerialized AttributeKind = iota
	AttributeReference
)

// ResourceAttribute holds one declared attribute of a record. Exactly one
// of Value / ValueID is meaningful, selected by Kind.
type ResourceAttribute struct {
	RecordID string
	Key      string
	Kind     AttributeKind
	Value    json.RawMessage // AttributeSerialized
	ValueID  string          // AttributeReference: points at another record
}

// StorageResourceStatistic identifies one named time-series sink owned by
// a record. The sink itself (sample storage) is outside the core's scope;
// SamplePeriod is the declared collection period used to detect drift.
type StorageResourceStatistic struct {
	RecordID     string
	Name         string
	SamplePeriod time.Duration
}

// StorageResourceAlert is a durable alert row. Identity is
// (RecordID, AlertClass, Attribute); Active mirrors the manager's in-memory
// bookkeeping and is redundant-but-durable so a restart can reconcile it.
type StorageResourceAlert struct {
	ID         string
	RecordID   string
	AlertClass string
	Attribute  string
	Active     bool
	RaisedAt   time.Time
}

// StorageAlertPropagated links an alert to one of the alerted record's
// descendants at the moment the alert was raised.
type StorageAlertPropagated struct {
	ID           string
	AlertID      string
	DescendantID string
}

// ParentEdge is a persisted directed parent/child edge, the durable
// counterpart of pkg/graph.EdgeIndex kept in lockstep with it: every
// EdgeIndex.AddParent/RemoveParent a manager entry point performs is
// mirrored into this table in the same batch.
type ParentEdge struct {
	ChildID  string
	ParentID string
}

// LearnEvent is an audit row emitted the first time a record is created.
type LearnEvent struct {
	ID        string
	RecordID  string
	CreatedAt time.Time
}

// Volume is a derived, globally unique block-device abstraction backed by
// at most one live LogicalDrive record.
type Volume struct {
	ID                string
	StorageResourceID string // backing LogicalDrive record; empty if orphaned but pinned
	Size              int64
	FilesystemType    string
	Label             string
	NotDeleted        bool
}

// VolumeNode is a derived per-host access path linked to a Volume.
type VolumeNode struct {
	ID                string
	VolumeID          string
	HostID            string
	Path              string
	StorageResourceID string // backing DeviceNode record; empty if disconnected but pinned
	Primary           bool
	Use               bool
	NotDeleted        bool
}

// ManagedTarget and ManagedTargetMount are external ownership signals read
// only to decide whether a Volume/VolumeNode may be deleted outright or
// must be left pinned with its StorageResourceID cleared.
type ManagedTarget struct {
	ID       string
	VolumeID string
}

type ManagedTargetMount struct {
	ID           string
	TargetID     string
	VolumeNodeID string
}

// ManagedHost is an external host record read by the affinity algorithm.
type ManagedHost struct {
	ID          string
	FQDN        string
	HaClusterID string // empty if the host belongs to no HA cluster
}

// HaCluster groups hosts among which a VolumeNode may be marked secondary
// for a primary assigned to any other member of the same cluster.
type HaCluster struct {
	ID      string
	Members []string // ManagedHost IDs
}
