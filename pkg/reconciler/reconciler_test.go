package reconciler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whamworks/resourced/pkg/classes"
	"github.com/whamworks/resourced/pkg/manager"
	"github.com/whamworks/resourced/pkg/registry"
	"github.com/whamworks/resourced/pkg/storage"
)

func newTestManager(t *testing.T) *manager.Manager {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg, err := classes.Builtin()
	require.NoError(t, err)

	m, err := manager.New(manager.Options{Store: store, Registry: reg})
	require.NoError(t, err)
	return m
}

func TestReconcilerReapsIdleSession(t *testing.T) {
	m := newTestManager(t)

	hostID, err := json.Marshal("mh-h1")
	require.NoError(t, err)
	require.NoError(t, m.SessionOpen(context.Background(), "h1", []registry.PluginResource{
		{ClassID: "host", LocalID: "h1", Attributes: map[string]json.RawMessage{"host_id": hostID}},
	}, time.Minute))
	require.Equal(t, 1, m.SessionCount())

	r := NewReconciler(m).WithInterval(10 * time.Millisecond).WithIdleTimeout(time.Nanosecond)
	r.Start()
	defer r.Stop()

	deadline := time.After(2 * time.Second)
	for m.SessionCount() > 0 {
		select {
		case <-deadline:
			t.Fatal("idle session was never reaped")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestReconcilerStopHaltsLoop(t *testing.T) {
	m := newTestManager(t)
	r := NewReconciler(m).WithInterval(10 * time.Millisecond)
	r.Start()
	assert.NotPanics(t, r.Stop)
}
