package manager

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/whamworks/resourced/pkg/classes"
	"github.com/whamworks/resourced/pkg/registry"
	"github.com/whamworks/resourced/pkg/storage"
)

// newTestManager builds a Manager against a fresh on-disk bbolt store, using
// the builtin class registry every scenario test below reports resources
// against.
func newTestManager(t *testing.T) (*Manager, *storage.BoltStore) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg, err := classes.Builtin()
	require.NoError(t, err)

	m, err := New(Options{Store: store, Registry: reg})
	require.NoError(t, err)
	return m, store
}

// attr JSON-encodes v for use as a PluginResource attribute value.
func attr(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

// hostResource builds the scannable "host" resource every session_open call
// below reports first, identified by its own scannable id per the
// convention persistLunUpdates relies on (sess.Global(sess.ScannableID)
// resolving the scannable's own record).
func hostResource(t *testing.T, scannableID, hostID string) registry.PluginResource {
	t.Helper()
	return registry.PluginResource{
		ClassID:    "host",
		LocalID:    scannableID,
		Attributes: map[string]json.RawMessage{"host_id": attr(t, hostID)},
	}
}

// hostRecordScope returns the persisted record id of the "host" resource
// identified by hostID: the scope key every resource scoped to that
// scannable is filed under (see scannableScope in pkg/manager/persist.go).
func hostRecordScope(t *testing.T, store *storage.BoltStore, hostID string) string {
	t.Helper()
	rec, err := store.FindRecord("host", fmt.Sprintf("[%q]", hostID), "")
	require.NoError(t, err)
	require.NotNil(t, rec)
	return rec.ID
}
