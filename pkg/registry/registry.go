package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// ValueFunc extracts the subscription value from a resource's attribute
// set. The bool return reports whether the attribute was present.
type ValueFunc func(attrs map[string]json.RawMessage) (string, bool)

// Subscription declares a cross-plugin identity link: a class that
// subscribes on Key/ValueFn gains, as a parent, any record of SubscribeTo
// whose own ValueFn yields the same value (see pkg/graph.SubscriberIndex).
type Subscription struct {
	Key         string
	SubscribeTo string // target ClassDescriptor.ID
	ValueFn     ValueFunc
}

// ClassDescriptor describes one plugin resource class. The marker booleans
// stand in for a subclass hierarchy (scannable, hostside, device node,
// logical drive, occupier, path weight, virtual machine): a class can
// carry more than one marker (a hostside resource is also scannable), so
// these are independent flags rather than a single enum.
type ClassDescriptor struct {
	ID            string
	Scoped        bool // true: ScannableId identity; false: GlobalId identity
	IDFields      []string
	Subscriptions []Subscription // subscriptions this class declares
	Label         func(attrs map[string]json.RawMessage) string

	// ReferenceAttributes names declared attributes, besides any appearing
	// in IDFields, whose value is a ResourceReference (another record's
	// local handle within the same session, or an already-global id for a
	// handle_global resource) rather than an opaque serialised value.
	ReferenceAttributes []string

	IsScannable            bool // BaseScannableResource: owns scoped descendants, culled on session_open
	IsHostside             bool // HostsideResource: carries host_id, triggers Volume derivation
	IsDeviceNode           bool // DeviceNode: host-visible path to a block device
	IsLogicalDrive         bool // LogicalDrive: presentable to Lustre as a block device
	IsLogicalDriveOccupier bool // LogicalDriveOccupier: drive already in local use
	IsPathWeight           bool // PathWeight: carries a numeric weight for affinity balancing
	IsVirtualMachine       bool // VirtualMachine: host_id resolved via HostProvisioner
}

// Registry is the compiled table of every known resource class.
type Registry struct {
	classes map[string]*ClassDescriptor
}

// New builds a Registry from a fixed set of descriptors, erroring on
// duplicate IDs so a build-time code generator would fail loudly on a
// manifest collision.
func New(descriptors ...*ClassDescriptor) (*Registry, error) {
	r := &Registry{classes: make(map[string]*ClassDescriptor, len(descriptors))}
	for _, d := range descriptors {
		if _, exists := r.classes[d.ID]; exists {
			return nil, fmt.Errorf("registry: duplicate class id %q", d.ID)
		}
		r.classes[d.ID] = d
	}
	return r, nil
}

// Get looks up a class descriptor by id.
func (r *Registry) Get(classID string) (*ClassDescriptor, bool) {
	d, ok := r.classes[classID]
	return d, ok
}

// All returns every registered descriptor, sorted by ID for deterministic
// iteration (startup population order should not matter, but tests benefit
// from a stable order).
func (r *Registry) All() []*ClassDescriptor {
	out := make([]*ClassDescriptor, 0, len(r.classes))
	for _, d := range r.classes {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDString computes the canonical id_str for a resource: the class's
// declared id-tuple fields, JSON-encoded in declaration order, with any
// ResourceReference field already resolved to a global record id by the
// caller (see resolveIDFields in pkg/manager/persist.go).
func IDString(d *ClassDescriptor, idValues map[string]json.RawMessage) (string, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, field := range d.IDFields {
		if i > 0 {
			buf.WriteByte(',')
		}
		v, ok := idValues[field]
		if !ok {
			return "", fmt.Errorf("registry: class %q missing id field %q", d.ID, field)
		}
		buf.Write(v)
	}
	buf.WriteByte(']')
	return buf.String(), nil
}

// PluginResource is the plain-value shape a plugin session reports; no wire
// encoding is involved, plugins hand these over in-process.
type PluginResource struct {
	ClassID      string
	LocalID      string
	Attributes   map[string]json.RawMessage
	Parents      []string // local ids of declared parents within the same batch
	HandleGlobal bool     // true: skip session-local identity mapping (already a global resource)
}
