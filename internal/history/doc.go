// Package history persists device state transitions to SQLite.
//
// Every diff published by the state store becomes one row per changed
// field: the field key, the JSON-encoded old and new values, the
// change source, and a UTC timestamp. The log answers "when did output
// 3 last change, and to what" without needing the time-series stack,
// and survives restarts because it lives in the same SQLite file as
// the rest of Matrix Core's durable state.
//
// Writes are asynchronous and lossy under sustained backpressure; the
// authoritative state is always the in-memory store, never this log.
package history
