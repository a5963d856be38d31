package manager

import (
	"time"

	"github.com/whamworks/resourced/pkg/events"
)

// ReapIdleSessions drops every open session whose LastSeen is older than
// maxAge and returns how many were dropped. A plugin that crashes or loses
// its connection never calls session_close, so without this an idle
// session (and its local/global id bimap) would live in memory forever.
// Closing one here has the same effect as SessionClose:
// no DB work, the scannable's resources simply age out through the next
// session_open's cull once the plugin reconnects.
func (m *Manager) ReapIdleSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	reaped := 0
	for scannableID, sess := range m.sessions {
		if now.Sub(sess.LastSeen) <= maxAge {
			continue
		}
		delete(m.sessions, scannableID)
		reaped++
		m.logger.Info().
			Str("scannable_id", scannableID).
			Dur("idle_for", now.Sub(sess.LastSeen)).
			Msg("reaped idle plugin session")
		m.publish(events.EventSessionClosed, scannableID, "idle timeout")
	}
	return reaped
}
