/*
Package storage is the durable persistence layer: one bbolt bucket per
table in the data model, JSON-encoded values, and an explicit batched-write
transaction facade (Batch) that every manager entry point uses to satisfy
"one transaction per entry point."

# Architecture

	┌─────────────────── PERSISTENCE LAYER ────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              BoltStore                      │          │
	│  │  - single *bbolt.DB, one file on disk       │          │
	│  │  - one bucket per table                     │          │
	│  │  - read methods: one db.View per call       │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │ OpenBatch()                          │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │                Batch                        │          │
	│  │  - wraps one bbolt write transaction        │          │
	│  │  - Upsert/Get/Delete per table               │          │
	│  │  - Flush() commits, Discard() rolls back    │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Buckets

records, parent_edges, attributes, statistics, alerts, propagated_alerts,
learn_events, volumes, volume_nodes, managed_targets,
managed_target_mounts, managed_hosts, ha_clusters: one per entity in the
data model. Attribute, statistic, and parent_edges keys are composite
(record id + NUL + attribute/stat name, or child id + NUL + parent id),
letting ListAttributes prefix-scan a single record's attributes without a
secondary index.

# Transactions

Every manager entry point (session_open, session_add_resources, ...)
opens exactly one Batch, performs every read and write it needs against
it, and Flushes once at the end, or Discards on any error, leaving durable
state exactly as it was before the call started. A manager method never opens a
second Batch or falls back to a BoltStore read method for data it is
actively mutating, since that read would not see its own batch's pending
writes.

Outside of a Batch, BoltStore's plain Get/List methods are used for
read-only access: startup index population (pkg/graph populate calls) and
test assertions. These each run their own single-operation transaction,
matching bbolt's usual one-db.View/db.Update-per-call idiom.
*/
package storage
