package classes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinRegistersExpectedClasses(t *testing.T) {
	reg, err := Builtin()
	require.NoError(t, err)

	for _, id := range []string{
		"host", "unshared_device", "unshared_device_node",
		"scsi_device", "scsi_device_node", "multipath_device",
		"logical_drive_occupier", "path_weight", "virtual_machine",
	} {
		_, ok := reg.Get(id)
		assert.True(t, ok, "expected class %q to be registered", id)
	}
}

func TestBuiltinScsiDeviceNodeSubscribesOnSerial(t *testing.T) {
	reg, err := Builtin()
	require.NoError(t, err)

	node, ok := reg.Get("scsi_device_node")
	require.True(t, ok)
	require.Len(t, node.Subscriptions, 1)
	assert.Equal(t, "scsi_serial", node.Subscriptions[0].Key)
	assert.Equal(t, "scsi_device", node.Subscriptions[0].SubscribeTo)

	serial, _ := json.Marshal("ABC123")
	v, ok := node.Subscriptions[0].ValueFn(map[string]json.RawMessage{"scsi_serial": serial})
	assert.True(t, ok)
	assert.Equal(t, "ABC123", v)

	// The same ValueFn must resolve the provider side, where the device
	// stores the value under its own serial attribute.
	v, ok = node.Subscriptions[0].ValueFn(map[string]json.RawMessage{"serial": serial})
	assert.True(t, ok)
	assert.Equal(t, "ABC123", v)
}

func TestBuiltinMarkers(t *testing.T) {
	reg, err := Builtin()
	require.NoError(t, err)

	host, _ := reg.Get("host")
	assert.True(t, host.IsScannable)
	assert.True(t, host.IsHostside)

	drive, _ := reg.Get("unshared_device")
	assert.True(t, drive.IsLogicalDrive)

	node, _ := reg.Get("unshared_device_node")
	assert.True(t, node.IsDeviceNode)

	occupier, _ := reg.Get("logical_drive_occupier")
	assert.True(t, occupier.IsLogicalDriveOccupier)

	weight, _ := reg.Get("path_weight")
	assert.True(t, weight.IsPathWeight)

	vm, _ := reg.Get("virtual_machine")
	assert.True(t, vm.IsVirtualMachine)
	assert.Contains(t, vm.ReferenceAttributes, "host_id")
}

func TestBuiltinLabelDerivation(t *testing.T) {
	reg, err := Builtin()
	require.NoError(t, err)

	drive, ok := reg.Get("unshared_device")
	require.True(t, ok)
	require.NotNil(t, drive.Label)

	pathJSON, _ := json.Marshal("/dev/sda")
	label := drive.Label(map[string]json.RawMessage{"path": pathJSON})
	assert.Equal(t, "sda", label)
}

func TestBuiltinLabelMissingAttributeReturnsEmpty(t *testing.T) {
	reg, err := Builtin()
	require.NoError(t, err)

	drive, ok := reg.Get("unshared_device")
	require.True(t, ok)
	assert.Equal(t, "", drive.Label(map[string]json.RawMessage{}))
}
