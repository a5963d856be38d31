// Package session implements the per-scannable local-id/global-id bimap a
// plugin session uses while its reports are being merged into the durable
// graph.
package session

import "time"

// Session is the in-memory state the manager keeps for one open plugin
// session. It is owned exclusively by pkg/manager.Manager, which holds the
// single global mutex around every access.
type Session struct {
	ScannableID  string
	UpdatePeriod time.Duration
	OpenedAt     time.Time
	LastSeen     time.Time

	localToGlobal map[string]string
	globalToLocal map[string]string
}

// New creates an empty session for scannableID.
func New(scannableID string, updatePeriod time.Duration) *Session {
	now := time.Now()
	return &Session{
		ScannableID:   scannableID,
		UpdatePeriod:  updatePeriod,
		OpenedAt:      now,
		LastSeen:      now,
		localToGlobal: make(map[string]string),
		globalToLocal: make(map[string]string),
	}
}

// Touch records that the session just performed an operation, used by
// Manager.ReapIdleSessions to find scannables that have stopped reporting
// (the plugin runner normally calls session_close, but a crashed or
// partitioned plugin never gets the chance to).
func (s *Session) Touch() {
	s.LastSeen = time.Now()
}

// Bind records that localID now maps to globalID, in both directions.
func (s *Session) Bind(localID, globalID string) {
	s.localToGlobal[localID] = globalID
	s.globalToLocal[globalID] = localID
}

// Global resolves a plugin-local handle to its persisted global id.
func (s *Session) Global(localID string) (string, bool) {
	id, ok := s.localToGlobal[localID]
	return id, ok
}

// Local resolves a persisted global id back to this session's local handle.
func (s *Session) Local(globalID string) (string, bool) {
	id, ok := s.globalToLocal[globalID]
	return id, ok
}

// Forget removes both directions of a mapping for a deleted record.
func (s *Session) Forget(globalID string) {
	if local, ok := s.globalToLocal[globalID]; ok {
		delete(s.localToGlobal, local)
		delete(s.globalToLocal, globalID)
	}
}

// GlobalIDs returns every global id currently mapped by this session.
func (s *Session) GlobalIDs() []string {
	out := make([]string, 0, len(s.globalToLocal))
	for id := range s.globalToLocal {
		out = append(out, id)
	}
	return out
}
