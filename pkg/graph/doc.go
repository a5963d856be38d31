/*
Package graph holds the three in-memory indices the resource manager keeps
over the persisted topology: EdgeIndex (parent/child edges), ClassIndex
(record to resource class), and SubscriberIndex (cross-plugin identity
matching). None of the three types is safe for concurrent use on its own;
pkg/manager.Manager serialises all access behind its single mutex.

Each index is populated once at startup from durable storage
(see the Populate methods) and kept in sync incrementally thereafter by
pkg/manager as records are created, updated, and deleted.
*/
package graph
