/*
Package reconciler runs the background idle-session reaper.

A plugin opens a session with session_open and is expected to close it with
session_close once it stops reporting. A plugin that crashes or loses its
connection never gets that chance, so the manager would otherwise keep that
session's local/global id bimap in memory forever. Reconciler polls on a
fixed interval (DefaultInterval, overridable with WithInterval) and calls
manager.Manager.ReapIdleSessions for any session whose LastSeen exceeds
DefaultIdleTimeout (overridable with WithIdleTimeout), dropping it the same
way session_close would.

	rec := reconciler.NewReconciler(mgr)
	rec.Start()
	defer rec.Stop()

Each cycle is timed into resourced_reap_cycle_duration_seconds and reaped
sessions are counted into resourced_sessions_reaped_total (pkg/metrics).
*/
package reconciler
