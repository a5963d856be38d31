package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestReapIdleSessionsDropsOnlyStale: a session whose LastSeen exceeds the
// idle timeout is dropped the same way session_close would drop it; fresh
// sessions are untouched.
func TestReapIdleSessionsDropsOnlyStale(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.SessionOpen(ctx, "h1", diskResources(t, "h1", "mh-h1"), time.Minute))
	require.NoError(t, m.SessionOpen(ctx, "h2", diskResources(t, "h2", "mh-h2"), time.Minute))

	m.sessions["h1"].LastSeen = time.Now().Add(-time.Hour)

	reaped := m.ReapIdleSessions(30 * time.Minute)
	assert.Equal(t, 1, reaped)
	assert.Equal(t, 1, m.SessionCount())

	err := m.SessionAddResources(ctx, "h1", nil)
	assert.ErrorIs(t, err, ErrDeletedSession)
	assert.NoError(t, m.SessionAddResources(ctx, "h2", nil))
}

// TestReapIdleSessionsNoopWhenAllFresh: nothing to reap returns zero and
// leaves every session open.
func TestReapIdleSessionsNoopWhenAllFresh(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.SessionOpen(context.Background(), "h1", diskResources(t, "h1", "mh-h1"), time.Minute))

	assert.Equal(t, 0, m.ReapIdleSessions(30*time.Minute))
	assert.Equal(t, 1, m.SessionCount())
}
