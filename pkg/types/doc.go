/*
Package types defines the data model merged from plugin topology reports:
resource records and their attributes, the derived Volume/VolumeNode pair,
alerts, statistics, and the external host/cluster tables the affinity
algorithm reads.

These types are plain structs; behaviour (identity derivation, subscription
matching, affinity scoring) lives in pkg/registry and pkg/manager, not on
the types themselves, so a resource's class never needs to be known at
compile time.
*/
package types
