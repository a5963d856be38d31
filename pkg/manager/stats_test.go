package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whamworks/resourced/pkg/classes"
	"github.com/whamworks/resourced/pkg/metrics"
	"github.com/whamworks/resourced/pkg/storage"
	"github.com/whamworks/resourced/pkg/types"
)

func newTestManagerWithSink(t *testing.T) (*Manager, *storage.BoltStore, *metrics.StatSink) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg, err := classes.Builtin()
	require.NoError(t, err)

	sink := metrics.NewStatSink()
	m, err := New(Options{Store: store, Registry: reg, StatSink: sink})
	require.NoError(t, err)
	return m, store, sink
}

// TestSessionGetStatsCreatesAndForwardsSamples covers the declaration and
// sample-forwarding half of session_get_stats: first call
// creates the StorageResourceStatistic row with the declared period and
// forwards every sample to the sink.
func TestSessionGetStatsCreatesAndForwardsSamples(t *testing.T) {
	m, store, sink := newTestManagerWithSink(t)
	require.NoError(t, store.ImportManagedHost(&types.ManagedHost{ID: "mh-h1", FQDN: "h1.example.com"}))
	require.NoError(t, m.SessionOpen(context.Background(), "h1", diskResources(t, "h1", "mh-h1"), time.Minute))

	drive, err := store.FindRecord("unshared_device", `["/dev/sda"]`, hostRecordScope(t, store, "mh-h1"))
	require.NoError(t, err)
	require.NotNil(t, drive)

	stats, err := m.SessionGetStats("h1", "dev1", []StatUpdate{
		{Name: "read_bytes", SamplePeriod: 10 * time.Second, Samples: []float64{1, 2}},
	})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 10*time.Second, stats[0].SamplePeriod)

	samples := sink.Samples(drive.ID, "read_bytes")
	require.Len(t, samples, 2)
	assert.Equal(t, float64(1), samples[0].Value)
	assert.Equal(t, float64(2), samples[1].Value)
}

// TestSessionGetStatsPeriodDriftRecreates: redeclaring a statistic with a
// different sample period discards the accumulated samples and recreates
// the declaration row with the new period.
func TestSessionGetStatsPeriodDriftRecreates(t *testing.T) {
	m, store, sink := newTestManagerWithSink(t)
	require.NoError(t, store.ImportManagedHost(&types.ManagedHost{ID: "mh-h1", FQDN: "h1.example.com"}))
	require.NoError(t, m.SessionOpen(context.Background(), "h1", diskResources(t, "h1", "mh-h1"), time.Minute))

	drive, err := store.FindRecord("unshared_device", `["/dev/sda"]`, hostRecordScope(t, store, "mh-h1"))
	require.NoError(t, err)
	require.NotNil(t, drive)

	_, err = m.SessionGetStats("h1", "dev1", []StatUpdate{
		{Name: "read_bytes", SamplePeriod: 10 * time.Second, Samples: []float64{1, 2}},
	})
	require.NoError(t, err)

	stats, err := m.SessionGetStats("h1", "dev1", []StatUpdate{
		{Name: "read_bytes", SamplePeriod: 5 * time.Second, Samples: []float64{3}},
	})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 5*time.Second, stats[0].SamplePeriod)

	samples := sink.Samples(drive.ID, "read_bytes")
	require.Len(t, samples, 1, "samples accumulated under the old period are discarded")
	assert.Equal(t, float64(3), samples[0].Value)

	stat, err := store.GetStatistic(drive.ID, "read_bytes")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, stat.SamplePeriod)
}

// TestSessionGetStatsUnknownHandleErrors: a local handle that never mapped
// to a record is the PluginProtocolError case.
func TestSessionGetStatsUnknownHandleErrors(t *testing.T) {
	m, store, _ := newTestManagerWithSink(t)
	require.NoError(t, store.ImportManagedHost(&types.ManagedHost{ID: "mh-h1", FQDN: "h1.example.com"}))
	require.NoError(t, m.SessionOpen(context.Background(), "h1", diskResources(t, "h1", "mh-h1"), time.Minute))

	_, err := m.SessionGetStats("h1", "ghost", nil)
	assert.ErrorIs(t, err, ErrUnknownLocalHandle)
}
