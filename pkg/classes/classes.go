// Package classes compiles the fixed set of resource class descriptors a
// deployment ships with, standing in for the classes a real storage plugin
// would otherwise declare at load time.
package classes

import (
	"encoding/json"
	"path"

	"github.com/whamworks/resourced/pkg/registry"
)

func stringAttr(key string) registry.ValueFunc {
	return func(attrs map[string]json.RawMessage) (string, bool) {
		raw, ok := attrs[key]
		if !ok {
			return "", false
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	}
}

// firstStringAttr returns the first present attribute among keys. A
// subscription's ValueFn is evaluated against both sides of a match, and
// the subscriber and the subscribed-to class store the value under
// different keys (scsi_serial on a node, serial on the device itself).
func firstStringAttr(keys ...string) registry.ValueFunc {
	fns := make([]registry.ValueFunc, len(keys))
	for i, k := range keys {
		fns[i] = stringAttr(k)
	}
	return func(attrs map[string]json.RawMessage) (string, bool) {
		for _, fn := range fns {
			if v, ok := fn(attrs); ok {
				return v, true
			}
		}
		return "", false
	}
}

func labelFrom(key string) func(map[string]json.RawMessage) string {
	fn := stringAttr(key)
	return func(attrs map[string]json.RawMessage) string {
		v, _ := fn(attrs)
		return v
	}
}

// pathBasenameLabel derives a display label from a posix-path attribute by
// taking its basename, so a drive identified by "/dev/sda" labels as "sda".
func pathBasenameLabel(key string) func(map[string]json.RawMessage) string {
	fn := stringAttr(key)
	return func(attrs map[string]json.RawMessage) string {
		v, ok := fn(attrs)
		if !ok {
			return ""
		}
		return path.Base(v)
	}
}

// Builtin returns the registry this deployment ships with: a scannable
// hostside Host class, the device/drive classes Volume derivation works
// over, and the marker classes (LogicalDriveOccupier, PathWeight,
// VirtualMachine).
func Builtin() (*registry.Registry, error) {
	return registry.New(
		&registry.ClassDescriptor{
			ID:       "host",
			Scoped:   false,
			IDFields: []string{"host_id"},
			// host_id is both this class's identity and a ResourceReference
			// to the ManagedHost record the scannable runs on; no display
			// label is derived from it (labelFor is only exercised for
			// LogicalDrive/DeviceNode records).
			ReferenceAttributes: []string{"host_id"},
			IsScannable:         true,
			IsHostside:          true,
		},
		&registry.ClassDescriptor{
			ID:             "unshared_device",
			Scoped:         true,
			IDFields:       []string{"path"},
			Label:          pathBasenameLabel("path"),
			IsLogicalDrive: true,
		},
		&registry.ClassDescriptor{
			ID:           "unshared_device_node",
			Scoped:       true,
			IDFields:     []string{"path"},
			Label:        pathBasenameLabel("path"),
			IsDeviceNode: true,
		},
		&registry.ClassDescriptor{
			ID:             "scsi_device",
			Scoped:         false,
			IDFields:       []string{"serial"},
			Label:          labelFrom("serial"),
			IsLogicalDrive: true,
		},
		&registry.ClassDescriptor{
			ID:       "scsi_device_node",
			Scoped:   true,
			IDFields: []string{"path"},
			Label:    pathBasenameLabel("path"),
			Subscriptions: []registry.Subscription{
				{Key: "scsi_serial", SubscribeTo: "scsi_device", ValueFn: firstStringAttr("scsi_serial", "serial")},
			},
			IsDeviceNode: true,
		},
		&registry.ClassDescriptor{
			// A dm-multipath device sitting on top of a SCSI LUN: itself a
			// logical drive, parented to its backing scsi_device by serial
			// whenever the controller plugin reports that device.
			ID:       "multipath_device",
			Scoped:   true,
			IDFields: []string{"path"},
			Label:    pathBasenameLabel("path"),
			Subscriptions: []registry.Subscription{
				{Key: "scsi_serial", SubscribeTo: "scsi_device", ValueFn: firstStringAttr("scsi_serial", "serial")},
			},
			IsLogicalDrive: true,
		},
		&registry.ClassDescriptor{
			ID:                     "logical_drive_occupier",
			Scoped:                 true,
			IDFields:               []string{"path"},
			Label:                  labelFrom("path"),
			IsLogicalDriveOccupier: true,
		},
		&registry.ClassDescriptor{
			ID:           "path_weight",
			Scoped:       true,
			IDFields:     []string{"path"},
			Label:        labelFrom("path"),
			IsPathWeight: true,
		},
		&registry.ClassDescriptor{
			ID:                  "virtual_machine",
			Scoped:              true,
			IDFields:            []string{"name"},
			Label:               labelFrom("name"),
			ReferenceAttributes: []string{"host_id"},
			IsVirtualMachine:    true,
		},
	)
}
