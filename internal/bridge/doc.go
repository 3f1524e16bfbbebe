// Package bridge mirrors matrix state onto MQTT and accepts commands
// from it.
//
// Outbound, every store diff becomes retained per-field messages
// (matrixcore/state/<field>), a refreshed retained snapshot document
// (matrixcore/state), and a retained availability marker
// (matrixcore/system/status). Retention means a consumer that connects
// hours later still sees current state without waiting for a change.
//
// Inbound, JSON envelopes on matrixcore/command are decoded, dispatched
// through the session's command surface, and acknowledged on
// matrixcore/ack/<id> once the command confirms or fails:
//
//	{"id": "d2f1...", "op": "route", "params": {"output": 3, "input": 7}}
//	{"id": "d2f1...", "op": "route", "success": true}
//
// Malformed envelopes are logged and dropped; the broker must never
// redeliver garbage in a loop.
package bridge
