package matrix

import "errors"

// Domain errors for the matrix session engine.
var (
	// ErrConnectionFailed is returned when a TCP session to the device
	// cannot be established (refused, unreachable, connect timeout).
	ErrConnectionFailed = errors.New("matrix: connection failed")

	// ErrConnectionLost is returned when an established session drops
	// mid-use (EOF, reset, broken pipe).
	ErrConnectionLost = errors.New("matrix: connection lost")

	// ErrNotConnected is returned when an operation requires an active
	// session but the transport is disconnected.
	ErrNotConnected = errors.New("matrix: not connected")

	// ErrReadTimeout is returned when no response line arrives within
	// the read deadline. Recoverable; the queue's retry policy absorbs it.
	ErrReadTimeout = errors.New("matrix: read timed out")

	// ErrCommandTimeout is returned when a dispatched command receives
	// no matching response within its response window.
	ErrCommandTimeout = errors.New("matrix: command timed out")

	// ErrCommandError is returned when the device answers a command
	// with an explicit error line (E0x prefix).
	ErrCommandError = errors.New("matrix: device rejected command")

	// ErrCommandFailed is returned to callers when a command's retries
	// are exhausted or the session became unavailable before completion.
	ErrCommandFailed = errors.New("matrix: command failed")

	// ErrCommandCancelled is returned when a still-queued command is
	// cancelled before dispatch.
	ErrCommandCancelled = errors.New("matrix: command cancelled")

	// ErrQueueFull is returned when the command queue cannot accept
	// more submissions.
	ErrQueueFull = errors.New("matrix: command queue full")

	// ErrUnknownOp is returned when an operation is missing from the
	// active command set.
	ErrUnknownOp = errors.New("matrix: unknown operation")

	// ErrInvalidArgument is returned when a command argument is outside
	// its valid range (port number, preset slot, mode code).
	ErrInvalidArgument = errors.New("matrix: invalid argument")
)
