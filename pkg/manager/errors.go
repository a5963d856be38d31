package manager

import "errors"

// Sentinel errors checked with errors.Is. Persistence failures are not
// represented by a sentinel here; they propagate unmodified (wrapped with
// %w) from pkg/storage.
var (
	// ErrUnknownLocalHandle is the PluginProtocolError case: a session
	// referenced a local handle that never resolved to a global id, or a
	// declared parent's local handle never appeared anywhere in the batch.
	ErrUnknownLocalHandle = errors.New("manager: unknown local resource handle")

	// ErrUnknownResource reports a global id with no known class: a record
	// a session map still references but that disappeared through another
	// path. GlobalRemoveResource treats the same not-found condition as a
	// logged no-op rather than this error.
	ErrUnknownResource = errors.New("manager: unknown resource id")

	// ErrDeletedSession marks an operation against a scannable id whose
	// session was evicted, e.g. by a later session_open.
	ErrDeletedSession = errors.New("manager: session no longer open")

	// ErrMissingAncestor reports a DeviceNode with no LogicalDrive ancestor
	// yet; informational, plugins may report out of order. Logged via
	// AnErr at the volumes.go call site rather than returned.
	ErrMissingAncestor = errors.New("manager: no logical drive ancestor")

	// ErrStatisticPeriodChanged reports a statistic redeclared with a
	// different sample period; existing samples are discarded.
	ErrStatisticPeriodChanged = errors.New("manager: statistic sample period changed")
)
