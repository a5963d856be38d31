/*
Package manager implements the resource manager's entry points: the
plugin-session lifecycle, identity and creation, Volume/VolumeNode
derivation and affinity balancing, cascading delete, and alert propagation.

# Architecture

	┌──────────────────────────── Manager ─────────────────────────────┐
	│                                                                    │
	│   mu sync.Mutex   : held for the entire body of every entry point │
	│                                                                    │
	│   ┌───────────┐  ┌───────────┐  ┌────────────────┐               │
	│   │ EdgeIndex │  │ ClassIndex│  │ SubscriberIndex │   (pkg/graph) │
	│   └───────────┘  └───────────┘  └────────────────┘               │
	│                                                                    │
	│   sessions   map[scannableID]*session.Session                     │
	│   activeAlerts map[(record,class,attr)]alertID                    │
	│   labelCache *lru.Cache                                           │
	│                                                                    │
	└──────────────────────────────┬────────────────────────────────────┘
	                                │ one storage.Batch per entry point
	                                ▼
	                          pkg/storage.BoltStore

There is no Raft, no gRPC, and no cluster membership here: the resource
manager is a single-process, single-mutex service.
Every public method acquires mu once, does
all of its index and persistence work, and releases it before returning:
operations from one session observe a total order, and operations across
sessions are serialised in arrival order.

# Entry points

session_open, session_close, session_add_resources,
session_remove_resources, session_resource_add_parent/remove_parent,
session_update_resource, session_get_stats, session_notify_alert, and
global_remove_resource live in entrypoints.go. Each opens exactly one
storage.Batch and either flushes it once at the end or discards it on the
first error, never mixing durable writes from two transactions within one
call.

# Supporting algorithms

  - persist.go: identity & creation (_persist_new_resources), host
    provisioning, and session cull.
  - volumes.go / affinity.go: Volume/VolumeNode derivation and
    primary/secondary balancing.
  - delete.go: two-phase cascading delete.
  - alerts.go: alert raise/clear and descendant propagation.

# Logging and metrics

Logging follows pkg/log: Warn for best-effort conditions that are logged
and skipped (deleted session in session_add_resources and
session_remove_resources, statistic period changed), Debug for a device
node with no logical drive ancestor. A failed storage call is not logged;
its error is returned after the batch is discarded. Metrics
follow pkg/metrics: gauges for live record/session/alert counts, counters
for cull removals and cascading-delete fan-out, histograms for batch-flush
and LUN-update latency.
*/
package manager
