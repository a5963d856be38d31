package manager

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whamworks/resourced/pkg/registry"
	"github.com/whamworks/resourced/pkg/types"
)

func diskResources(t *testing.T, scannableID, hostID string) []registry.PluginResource {
	return []registry.PluginResource{
		hostResource(t, scannableID, hostID),
		{
			ClassID: "unshared_device",
			LocalID: "dev1",
			Attributes: map[string]json.RawMessage{
				"path":            attr(t, "/dev/sda"),
				"size":            attr(t, int64(100)),
				"filesystem_type": attr(t, "ext4"),
			},
		},
		{
			ClassID:    "unshared_device_node",
			LocalID:    "node1",
			Attributes: map[string]json.RawMessage{"path": attr(t, "/dev/sda")},
			Parents:    []string{"dev1"},
		},
	}
}

func TestSessionOpenReopenYieldsSameRecordSet(t *testing.T) {
	m, store := newTestManager(t)
	require.NoError(t, store.ImportManagedHost(&types.ManagedHost{ID: "mh-h1", FQDN: "h1.example.com"}))
	ctx := context.Background()

	require.NoError(t, m.SessionOpen(ctx, "h1", diskResources(t, "h1", "mh-h1"), time.Minute))
	first, err := store.FindRecord("unshared_device", `["/dev/sda"]`, hostRecordScope(t, store, "mh-h1"))
	require.NoError(t, err)
	require.NotNil(t, first)

	require.NoError(t, m.SessionClose("h1"))
	require.NoError(t, m.SessionOpen(ctx, "h1", diskResources(t, "h1", "mh-h1"), time.Minute))

	second, err := store.FindRecord("unshared_device", `["/dev/sda"]`, hostRecordScope(t, store, "mh-h1"))
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID, "reopening with the same report must reuse the existing record")

	all, err := store.ListRecords()
	require.NoError(t, err)
	count := 0
	for _, r := range all {
		if r.ResourceClassID == "unshared_device" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestSessionOpenCullsResourcesNotReported(t *testing.T) {
	m, store := newTestManager(t)
	require.NoError(t, store.ImportManagedHost(&types.ManagedHost{ID: "mh-h1", FQDN: "h1.example.com"}))
	ctx := context.Background()

	require.NoError(t, m.SessionOpen(ctx, "h1", diskResources(t, "h1", "mh-h1"), time.Minute))
	drive, err := store.FindRecord("unshared_device", `["/dev/sda"]`, hostRecordScope(t, store, "mh-h1"))
	require.NoError(t, err)
	require.NotNil(t, drive)

	require.NoError(t, m.SessionClose("h1"))
	require.NoError(t, m.SessionOpen(ctx, "h1", []registry.PluginResource{hostResource(t, "h1", "mh-h1")}, time.Minute))

	_, err = store.GetRecord(drive.ID)
	assert.Error(t, err, "a scoped record dropped from the report must be culled on reopen")
}

func TestSessionAddThenRemoveResource(t *testing.T) {
	m, store := newTestManager(t)
	require.NoError(t, store.ImportManagedHost(&types.ManagedHost{ID: "mh-h1", FQDN: "h1.example.com"}))
	ctx := context.Background()

	require.NoError(t, m.SessionOpen(ctx, "h1", []registry.PluginResource{hostResource(t, "h1", "mh-h1")}, time.Minute))
	require.NoError(t, m.SessionAddResources(ctx, "h1", []registry.PluginResource{
		{
			ClassID: "unshared_device",
			LocalID: "dev1",
			Attributes: map[string]json.RawMessage{
				"path":            attr(t, "/dev/sda"),
				"size":            attr(t, int64(100)),
				"filesystem_type": attr(t, "ext4"),
			},
		},
		{
			ClassID:    "unshared_device_node",
			LocalID:    "node1",
			Attributes: map[string]json.RawMessage{"path": attr(t, "/dev/sda")},
			Parents:    []string{"dev1"},
		},
	}))

	drive, err := store.FindRecord("unshared_device", `["/dev/sda"]`, hostRecordScope(t, store, "mh-h1"))
	require.NoError(t, err)
	require.NotNil(t, drive)
	vol, err := store.GetVolumeByStorageResource(drive.ID)
	require.NoError(t, err)
	require.NotNil(t, vol)

	require.NoError(t, m.SessionRemoveResources("h1", []string{"node1", "dev1"}))

	_, err = store.GetRecord(drive.ID)
	assert.Error(t, err, "removed resource's record must be gone")
	vol, err = store.GetVolumeByStorageResource(drive.ID)
	require.NoError(t, err)
	assert.Nil(t, vol)
}

func TestSessionUpdateResourceAppliesUpsert(t *testing.T) {
	m, store := newTestManager(t)
	require.NoError(t, store.ImportManagedHost(&types.ManagedHost{ID: "mh-h1", FQDN: "h1.example.com"}))
	ctx := context.Background()

	require.NoError(t, m.SessionOpen(ctx, "h1", diskResources(t, "h1", "mh-h1"), time.Minute))
	require.NoError(t, m.SessionUpdateResource("h1", "dev1", map[string]json.RawMessage{
		"size": attr(t, int64(500)),
	}))

	drive, err := store.FindRecord("unshared_device", `["/dev/sda"]`, hostRecordScope(t, store, "mh-h1"))
	require.NoError(t, err)
	require.NotNil(t, drive)

	sizeAttr, err := store.GetAttribute(drive.ID, "size")
	require.NoError(t, err)
	require.NotNil(t, sizeAttr)
	assert.JSONEq(t, "500", string(sizeAttr.Value))
}

func TestSessionAddResourcesWithoutOpenSessionErrors(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.SessionAddResources(context.Background(), "ghost", nil)
	assert.ErrorIs(t, err, ErrDeletedSession)
}

func TestSessionResourceAddRemoveParent(t *testing.T) {
	m, store := newTestManager(t)
	require.NoError(t, store.ImportManagedHost(&types.ManagedHost{ID: "mh-h1", FQDN: "h1.example.com"}))
	ctx := context.Background()

	// Report the drive and node without a declared parent edge, then wire
	// and unwire it through the explicit entry points.
	require.NoError(t, m.SessionOpen(ctx, "h1", []registry.PluginResource{
		hostResource(t, "h1", "mh-h1"),
		{
			ClassID: "unshared_device",
			LocalID: "dev1",
			Attributes: map[string]json.RawMessage{
				"path":            attr(t, "/dev/sda"),
				"size":            attr(t, int64(100)),
				"filesystem_type": attr(t, "ext4"),
			},
		},
		{
			ClassID:    "unshared_device_node",
			LocalID:    "node1",
			Attributes: map[string]json.RawMessage{"path": attr(t, "/dev/sda")},
		},
	}, time.Minute))

	drive, err := store.FindRecord("unshared_device", `["/dev/sda"]`, hostRecordScope(t, store, "mh-h1"))
	require.NoError(t, err)
	require.NotNil(t, drive)
	node, err := store.FindRecord("unshared_device_node", `["/dev/sda"]`, hostRecordScope(t, store, "mh-h1"))
	require.NoError(t, err)
	require.NotNil(t, node)

	hasEdge := func() bool {
		edges, err := store.ListParentEdges()
		require.NoError(t, err)
		for _, e := range edges {
			if e.ChildID == node.ID && e.ParentID == drive.ID {
				return true
			}
		}
		return false
	}
	require.False(t, hasEdge())

	require.NoError(t, m.SessionResourceAddParent("h1", "node1", "dev1"))
	assert.True(t, hasEdge())

	require.NoError(t, m.SessionResourceRemoveParent("h1", "node1", "dev1"))
	assert.False(t, hasEdge())
}

// TestIDFieldLiteralEvenWhenCollidingWithLocalHandle: an id field not
// declared a reference keeps its literal value even when it happens to
// equal another resource's local handle in the same batch.
func TestIDFieldLiteralEvenWhenCollidingWithLocalHandle(t *testing.T) {
	m, store := newTestManager(t)
	require.NoError(t, store.ImportManagedHost(&types.ManagedHost{ID: "mh-h1", FQDN: "h1.example.com"}))

	require.NoError(t, m.SessionOpen(context.Background(), "h1", []registry.PluginResource{
		hostResource(t, "h1", "mh-h1"),
		{
			ClassID:    "unshared_device_node",
			LocalID:    "node1",
			Attributes: map[string]json.RawMessage{"path": attr(t, "/dev/sda")},
		},
		{
			ClassID: "virtual_machine",
			LocalID: "vm1",
			Attributes: map[string]json.RawMessage{
				"name":    attr(t, "node1"), // collides with the device node's local handle
				"address": attr(t, "vm.example.com"),
				"host_id": attr(t, "mh-h1"),
			},
		},
	}, time.Minute))

	vm, err := store.FindRecord("virtual_machine", `["node1"]`, hostRecordScope(t, store, "mh-h1"))
	require.NoError(t, err)
	require.NotNil(t, vm, "the VM's id tuple keeps the literal name, not the colliding handle's record id")
}

func TestSessionResourceAddParentUnknownHandleErrors(t *testing.T) {
	m, store := newTestManager(t)
	require.NoError(t, store.ImportManagedHost(&types.ManagedHost{ID: "mh-h1", FQDN: "h1.example.com"}))
	require.NoError(t, m.SessionOpen(context.Background(), "h1", diskResources(t, "h1", "mh-h1"), time.Minute))

	err := m.SessionResourceAddParent("h1", "node1", "ghost")
	assert.ErrorIs(t, err, ErrUnknownLocalHandle)
}
