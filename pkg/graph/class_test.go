package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeRecordStore struct {
	classes map[string]string
	calls   int
	err     error
}

func (f *fakeRecordStore) ClassOfRecord(recordID string) (string, bool, error) {
	f.calls++
	if f.err != nil {
		return "", false, f.err
	}
	c, ok := f.classes[recordID]
	return c, ok, nil
}

func TestClassIndexAddRecordAndGet(t *testing.T) {
	c := NewClassIndex(nil)
	c.AddRecord("r1", "host")

	classID, ok := c.Get("r1")
	assert.True(t, ok)
	assert.Equal(t, "host", classID)
}

func TestClassIndexMissFallsBackToStoreAndMemoises(t *testing.T) {
	store := &fakeRecordStore{classes: map[string]string{"r1": "scsi_device"}}
	c := NewClassIndex(store)

	classID, ok := c.Get("r1")
	assert.True(t, ok)
	assert.Equal(t, "scsi_device", classID)
	assert.Equal(t, 1, store.calls)

	// Second call should hit the cache, not the store.
	classID, ok = c.Get("r1")
	assert.True(t, ok)
	assert.Equal(t, "scsi_device", classID)
	assert.Equal(t, 1, store.calls)
}

func TestClassIndexMissWithNilStore(t *testing.T) {
	c := NewClassIndex(nil)
	_, ok := c.Get("unknown")
	assert.False(t, ok)
}

func TestClassIndexStoreErrorIsTreatedAsMiss(t *testing.T) {
	store := &fakeRecordStore{err: errors.New("boom")}
	c := NewClassIndex(store)
	_, ok := c.Get("r1")
	assert.False(t, ok)
}

func TestClassIndexRemoveRecord(t *testing.T) {
	c := NewClassIndex(nil)
	c.AddRecord("r1", "host")
	c.RemoveRecord("r1")

	_, ok := c.Get("r1")
	assert.False(t, ok)
}

func TestClassIndexPopulateFromRecords(t *testing.T) {
	c := NewClassIndex(nil)
	c.Populate(map[string]string{"r1": "host", "r2": "scsi_device"})

	classID, ok := c.Get("r2")
	assert.True(t, ok)
	assert.Equal(t, "scsi_device", classID)
}
