package matrix

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"
)

// Transport defaults.
const (
	// defaultWriteTimeout bounds a single command write.
	defaultWriteTimeout = 5 * time.Second

	// lineReaderSize is the buffered reader size for response framing.
	// Status dumps are a few hundred bytes; 4KB leaves headroom.
	lineReaderSize = 4096
)

// LineConn is one framed connection to the device: newline-delimited
// ASCII lines in both directions. It carries no retry or correlation
// policy; that all lives in the Queue above it.
//
// Implementations are used by a single goroutine (the dispatch loop is
// the sole reader and writer), so they need not be safe for concurrent
// Send/Receive. Close may be called from any goroutine.
type LineConn interface {
	// SendLine writes one command frame. The line terminator is
	// appended by the transport.
	SendLine(ctx context.Context, line string) error

	// ReceiveLine blocks until one full line is available, the timeout
	// elapses (ErrReadTimeout), or the connection drops
	// (ErrConnectionLost). The returned line has terminators stripped.
	ReceiveLine(ctx context.Context, timeout time.Duration) (string, error)

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// DialFunc produces a connected LineConn. The session supervisor takes
// a DialFunc so tests can substitute a scripted fake for the TCP dial.
type DialFunc func(ctx context.Context, addr string) (LineConn, error)

// DialTCP connects to the device's ASCII command port.
func DialTCP(ctx context.Context, addr string) (LineConn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, addr, err)
	}
	return newTCPLineConn(conn), nil
}

// tcpLineConn frames a net.Conn into lines. No policy beyond framing.
//
// partial holds bytes of an unterminated line consumed before a read
// deadline fired. bufio has already pulled them off the socket, so
// they must be carried into the next ReceiveLine or the line is lost.
type tcpLineConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	partial strings.Builder
	closed  atomic.Bool
}

func newTCPLineConn(conn net.Conn) *tcpLineConn {
	return &tcpLineConn{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, lineReaderSize),
	}
}

// SendLine writes one newline-terminated command frame.
func (t *tcpLineConn) SendLine(ctx context.Context, line string) error {
	if t.closed.Load() {
		return ErrNotConnected
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set write deadline: %w", ErrConnectionLost, err)
	}

	if _, err := t.conn.Write([]byte(line + "\r\n")); err != nil {
		t.closed.Store(true)
		return fmt.Errorf("%w: write: %w", ErrConnectionLost, err)
	}
	return nil
}

// ReceiveLine reads one line, stripping CR/LF terminators.
func (t *tcpLineConn) ReceiveLine(ctx context.Context, timeout time.Duration) (string, error) {
	if t.closed.Load() {
		return "", ErrNotConnected
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetReadDeadline(deadline); err != nil {
		return "", fmt.Errorf("%w: set read deadline: %w", ErrConnectionLost, err)
	}

	line, err := t.reader.ReadString('\n')
	if err != nil {
		var netErr net.Error
		switch {
		case errors.As(err, &netErr) && netErr.Timeout():
			// The device can pause mid-line. Keep what was read so the
			// eventual terminator completes the same line.
			t.partial.WriteString(line)
			return "", ErrReadTimeout
		case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			t.closed.Store(true)
			return "", ErrConnectionLost
		default:
			t.closed.Store(true)
			return "", fmt.Errorf("%w: read: %w", ErrConnectionLost, err)
		}
	}

	if t.partial.Len() > 0 {
		line = t.partial.String() + line
		t.partial.Reset()
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Close shuts the socket down. Idempotent.
func (t *tcpLineConn) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	return t.conn.Close()
}
