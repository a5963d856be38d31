package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whamworks/resourced/pkg/types"
)

// TestGlobalRemoveResourceCascadesThroughScannable: removing a scannable's
// host record cascades to every resource it scoped, tombstoning (not
// deleting) the Volume they backed.
func TestGlobalRemoveResourceCascadesThroughScannable(t *testing.T) {
	m, store := newTestManager(t)
	require.NoError(t, store.ImportManagedHost(&types.ManagedHost{ID: "mh-h1", FQDN: "h1.example.com"}))
	ctx := context.Background()

	require.NoError(t, m.SessionOpen(ctx, "h1", diskResources(t, "h1", "mh-h1"), time.Minute))

	drive, err := store.FindRecord("unshared_device", `["/dev/sda"]`, hostRecordScope(t, store, "mh-h1"))
	require.NoError(t, err)
	require.NotNil(t, drive)
	node, err := store.FindRecord("unshared_device_node", `["/dev/sda"]`, hostRecordScope(t, store, "mh-h1"))
	require.NoError(t, err)
	require.NotNil(t, node)
	host, err := store.FindRecord("host", `["mh-h1"]`, "")
	require.NoError(t, err)
	require.NotNil(t, host)

	vol, err := store.GetVolumeByStorageResource(drive.ID)
	require.NoError(t, err)
	require.NotNil(t, vol)
	require.True(t, vol.NotDeleted)

	require.NoError(t, m.GlobalRemoveResource(host.ID))

	_, err = store.GetRecord(host.ID)
	assert.Error(t, err)
	_, err = store.GetRecord(drive.ID)
	assert.Error(t, err)
	_, err = store.GetRecord(node.ID)
	assert.Error(t, err)

	vol, err = store.GetVolume(vol.ID)
	require.NoError(t, err)
	require.NotNil(t, vol)
	assert.False(t, vol.NotDeleted, "orphaned volume is tombstoned, not deleted outright")
}

// TestGlobalRemoveResourceUnknownIDIsNoop: an unknown resource id is logged
// and ignored, not an error.
func TestGlobalRemoveResourceUnknownIDIsNoop(t *testing.T) {
	m, _ := newTestManager(t)
	assert.NoError(t, m.GlobalRemoveResource("ghost"))
}

// TestGlobalRemoveResourceLeavesPinnedRowsDisconnected: a VolumeNode pinned
// by a ManagedTargetMount and a Volume pinned by a ManagedTarget survive
// the cascading delete of their backing records, disconnected
// (storage_resource cleared) rather than tombstoned.
func TestGlobalRemoveResourceLeavesPinnedRowsDisconnected(t *testing.T) {
	m, store := newTestManager(t)
	require.NoError(t, store.ImportManagedHost(&types.ManagedHost{ID: "mh-h1", FQDN: "h1.example.com"}))
	ctx := context.Background()

	require.NoError(t, m.SessionOpen(ctx, "h1", diskResources(t, "h1", "mh-h1"), time.Minute))

	drive, err := store.FindRecord("unshared_device", `["/dev/sda"]`, hostRecordScope(t, store, "mh-h1"))
	require.NoError(t, err)
	require.NotNil(t, drive)
	host, err := store.FindRecord("host", `["mh-h1"]`, "")
	require.NoError(t, err)
	require.NotNil(t, host)

	vol, err := store.GetVolumeByStorageResource(drive.ID)
	require.NoError(t, err)
	require.NotNil(t, vol)
	vn, err := store.GetVolumeNodeByHostPath("mh-h1", "/dev/sda")
	require.NoError(t, err)
	require.NotNil(t, vn)

	require.NoError(t, store.ImportManagedTarget(&types.ManagedTarget{ID: "mt1", VolumeID: vol.ID}))
	require.NoError(t, store.ImportManagedTargetMount(&types.ManagedTargetMount{ID: "mtm1", TargetID: "mt1", VolumeNodeID: vn.ID}))

	require.NoError(t, m.GlobalRemoveResource(host.ID))

	vn, err = store.GetVolumeNode(vn.ID)
	require.NoError(t, err)
	assert.True(t, vn.NotDeleted, "pinned volume node must survive")
	assert.Empty(t, vn.StorageResourceID, "pinned volume node is disconnected from its deleted resource")

	vol, err = store.GetVolume(vol.ID)
	require.NoError(t, err)
	assert.True(t, vol.NotDeleted, "pinned volume must survive")
	assert.Empty(t, vol.StorageResourceID)
}
