// Package matrix implements the session and state-synchronization
// engine for an 8x8 HDMI matrix switch controlled over a persistent
// TCP connection with a line-based ASCII protocol.
//
// # Architecture
//
//	Session ──▶ Queue ──▶ LineConn (TCP :8000)
//	   │           │
//	   │           ▼
//	   └──────▶ Store ◀── Poller
//
// The Session supervises the connection lifecycle: dial, optional
// login, full state refresh, and reconnection with exponential
// backoff. The Queue serializes all device I/O through one goroutine,
// so exactly one command is ever on the wire. The Poller periodically
// reconciles the Store against device truth. The Store merges
// confirmed device state with optimistic overlays and publishes diffs
// to subscribers.
//
// # Optimistic updates
//
// Set commands predict their effect. The predicted value becomes
// visible in snapshots immediately on dispatch, tracked as a
// PendingChange with an expiry. The device's echo confirms it; a
// terminal command failure reverts it; an expired prediction that a
// poll contradicts is corrected and logged. Subscribers only ever see
// net-visible changes.
//
// # Wire grammar
//
// Commands are short ASCII strings terminated by '!', responses are
// single lines ("output1->input2") or multi-line dumps. The grammar
// lives in a data-driven CommandSet table, not in code, because it is
// firmware-defined and varies across revisions. Unparseable lines are
// logged and ignored; they never fail a session.
package matrix
