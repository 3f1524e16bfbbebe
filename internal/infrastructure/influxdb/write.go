package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteCommandMetric records the outcome of a single device command.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - op: Command operation name (e.g., "route", "set_output_hdcp")
//   - success: Whether the command was confirmed by the device
//   - latency: Time from dispatch to confirmation (or final failure)
//   - attempts: Number of send attempts including retries
//
// Example:
//
//	client.WriteCommandMetric("route", true, 230*time.Millisecond, 1)
func (c *Client) WriteCommandMetric(op string, success bool, latency time.Duration, attempts int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"command",
		map[string]string{
			"op": op,
		},
		map[string]interface{}{
			"success":    success,
			"latency_ms": float64(latency.Milliseconds()),
			"attempts":   attempts,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePollMetric records the duration and result of a poll cycle.
//
// Parameters:
//   - duration: Wall time for the full poll cycle
//   - fieldsChanged: Number of state fields that changed as a result
//   - failed: Whether the poll cycle ended in error
func (c *Client) WritePollMetric(duration time.Duration, fieldsChanged int, failed bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"poll",
		nil,
		map[string]interface{}{
			"duration_ms":    float64(duration.Milliseconds()),
			"fields_changed": fieldsChanged,
			"failed":         failed,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSessionEvent records a session lifecycle transition.
//
// Used for tracking device availability and reconnect churn over time.
//
// Parameters:
//   - event: Lifecycle event ("connected", "disconnected", "reconnecting")
//   - reconnects: Cumulative reconnect count for the process lifetime
func (c *Client) WriteSessionEvent(event string, reconnects uint64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"session",
		map[string]string{
			"event": event,
		},
		map[string]interface{}{
			"reconnects": int64(reconnects), //nolint:gosec // counter, wraps at int64 max in theory only
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteAvailability records the device availability flag.
//
// Written on every transition and periodically alongside poll cycles so
// dashboards can compute uptime without gap interpolation.
func (c *Client) WriteAvailability(available bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"availability",
		nil,
		map[string]interface{}{
			"available": available,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
