// Package events is the observability boundary of the dispatch core.
//
// Core components never write log lines. They emit structured Events
// (connected, disconnected, message_dropped:<reason>, rate_limited, ...) to a
// Sink supplied by the caller:
//   - LogSink turns events into slog records
//   - Counters aggregates them for Stats
//   - Multi combines several sinks
package events
