package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewSessionEmpty(t *testing.T) {
	s := New("scannable1", time.Minute)
	assert.Equal(t, "scannable1", s.ScannableID)
	assert.Equal(t, time.Minute, s.UpdatePeriod)
	assert.False(t, s.OpenedAt.IsZero())
	assert.Equal(t, s.OpenedAt, s.LastSeen)

	_, ok := s.Global("anything")
	assert.False(t, ok)
}

func TestBindAndResolveBothDirections(t *testing.T) {
	s := New("scannable1", 0)
	s.Bind("local1", "global1")

	global, ok := s.Global("local1")
	assert.True(t, ok)
	assert.Equal(t, "global1", global)

	local, ok := s.Local("global1")
	assert.True(t, ok)
	assert.Equal(t, "local1", local)
}

func TestForgetRemovesBothDirections(t *testing.T) {
	s := New("scannable1", 0)
	s.Bind("local1", "global1")
	s.Forget("global1")

	_, ok := s.Global("local1")
	assert.False(t, ok)
	_, ok = s.Local("global1")
	assert.False(t, ok)
}

func TestForgetUnknownIsNoop(t *testing.T) {
	s := New("scannable1", 0)
	assert.NotPanics(t, func() { s.Forget("ghost") })
}

func TestGlobalIDs(t *testing.T) {
	s := New("scannable1", 0)
	s.Bind("l1", "g1")
	s.Bind("l2", "g2")

	ids := s.GlobalIDs()
	assert.ElementsMatch(t, []string{"g1", "g2"}, ids)
}

func TestTouchUpdatesLastSeen(t *testing.T) {
	s := New("scannable1", 0)
	before := s.LastSeen
	time.Sleep(2 * time.Millisecond)
	s.Touch()
	assert.True(t, s.LastSeen.After(before))
}

func TestRebindOverwritesPreviousMapping(t *testing.T) {
	s := New("scannable1", 0)
	s.Bind("local1", "global1")
	s.Bind("local1", "global2")

	global, ok := s.Global("local1")
	assert.True(t, ok)
	assert.Equal(t, "global2", global)
}
