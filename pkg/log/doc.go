/*
Package log provides structured logging for the resource manager using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and helper
functions for the common logging patterns used while merging plugin
reports into the resource graph.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("resourcemgr")              │          │
	│  │  - WithScannable("host-1")                   │          │
	│  │  - WithRecord("rec-abc123")                  │          │
	│  │  - WithSession("host-1")                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │  {"level":"info","component":"resourcemgr", │          │
	│  │   "scannable_id":"host-1",                   │          │
	│  │   "message":"session opened"}                │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Log Levels

  - Debug: graph-traversal detail (a device node with no logical drive
    ancestor yet); verbose, development only.
  - Info: session lifecycle, volume/volume-node creation.
  - Warn: best-effort conditions that are logged and skipped (deleted session,
    statistic period changed); logged and skipped, never abort the entry point.
  - Error: persistence failures that aborted a transaction.
  - Fatal: unrecoverable startup failure (cannot open the store).

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	mgrLog := log.WithComponent("resourcemgr")
	mgrLog.Info().Str("scannable_id", scannableID).Msg("session opened")

	log.WithScannable(scannableID).Warn().Msg("missing ancestor, skipping")

# Design Patterns

Global logger, initialized once and read from every package; child loggers
via With* helpers carry context fields without threading them through every
call; errors always attached with .Err(err), never string-concatenated.

# Security

Never log attribute payloads verbatim: plugin-supplied attribute values
may carry sensitive topology data (serials, paths); log record and
attribute keys, not values, except at Debug level.
*/
package log
