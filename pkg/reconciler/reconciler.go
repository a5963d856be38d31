package reconciler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/whamworks/resourced/pkg/log"
	"github.com/whamworks/resourced/pkg/manager"
	"github.com/whamworks/resourced/pkg/metrics"
)

// DefaultIdleTimeout is how long a plugin session may go without an
// operation before the reaper drops it. A well-behaved plugin calls
// session_close itself; this only catches the ones that don't.
const DefaultIdleTimeout = 5 * time.Minute

// DefaultInterval is how often the reaper scans for idle sessions.
const DefaultInterval = 30 * time.Second

// Reconciler periodically reaps plugin sessions that have stopped
// reporting. A crashed or partitioned plugin never gets the chance to call
// session_close, and without this its session (and the local/global id
// bimap it holds) would sit in memory indefinitely.
type Reconciler struct {
	manager *manager.Manager
	logger  zerolog.Logger
	mu      sync.RWMutex
	stopCh  chan struct{}

	interval    time.Duration
	idleTimeout time.Duration
}

// NewReconciler creates a reconciler using the default interval and idle
// timeout.
func NewReconciler(mgr *manager.Manager) *Reconciler {
	return &Reconciler{
		manager:     mgr,
		logger:      log.WithComponent("reconciler"),
		stopCh:      make(chan struct{}),
		interval:    DefaultInterval,
		idleTimeout: DefaultIdleTimeout,
	}
}

// WithInterval overrides the scan interval, for tests that don't want to
// wait out the default.
func (r *Reconciler) WithInterval(interval time.Duration) *Reconciler {
	r.interval = interval
	return r
}

// WithIdleTimeout overrides the idle timeout a session must exceed before
// being reaped.
func (r *Reconciler) WithIdleTimeout(timeout time.Duration) *Reconciler {
	r.idleTimeout = timeout
	return r
}

// Start begins the reap loop in a background goroutine.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reap loop.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().
		Dur("interval", r.interval).
		Dur("idle_timeout", r.idleTimeout).
		Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

func (r *Reconciler) reconcile() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer := metrics.NewTimer()
	reaped := r.manager.ReapIdleSessions(r.idleTimeout)
	timer.ObserveDuration(metrics.ReapCycleDuration)

	if reaped > 0 {
		metrics.SessionsReapedTotal.Add(float64(reaped))
		r.logger.Info().Int("reaped", reaped).Msg("reaped idle sessions")
	}
}
