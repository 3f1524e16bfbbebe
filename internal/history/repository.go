package history

import (
	"context"
	"time"
)

// Change source values.
const (
	SourceDevice  = "device"
	SourceCommand = "command"
	SourceRevert  = "revert"
)

// Entry is a single recorded field change.
//
// Values are stored JSON-encoded so the history survives type changes
// across firmware revisions: `5`, `"HDCP 2.2"`, `true`.
type Entry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// Field is the logical field key ("routing.3", "power").
	Field string `json:"field"`

	// OldValue is the JSON-encoded previous value, empty for the first
	// observation of a field.
	OldValue string `json:"old_value,omitempty"`

	// NewValue is the JSON-encoded value after the change.
	NewValue string `json:"new_value"`

	// Source identifies how the change was observed (device, command, revert).
	Source string `json:"source"`

	// CreatedAt is the timestamp of the change (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Repository stores and retrieves field change history.
//
// Implementations must be thread-safe and use UTC timestamps.
type Repository interface {
	// RecordChange records one field transition.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - field: Logical field key
	//   - oldValue: JSON-encoded previous value (may be empty)
	//   - newValue: JSON-encoded new value
	//   - source: Origin of the change (device, command, revert)
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	RecordChange(ctx context.Context, field, oldValue, newValue, source string) error

	// GetHistory returns recent changes, newest first. An empty field
	// returns changes across all fields.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - field: Logical field key filter, or "" for all fields
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	//
	// Returns:
	//   - []Entry: Ordered newest-first entries (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	GetHistory(ctx context.Context, field string, limit int) ([]Entry, error)

	// Prune deletes entries older than the given retention window.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - olderThan: Retention window; entries older than now-olderThan are deleted
	//
	// Returns:
	//   - int64: Number of rows deleted
	//   - error: nil on success, otherwise the underlying database error
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}
