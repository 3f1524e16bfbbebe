package matrix

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Queue defaults.
const (
	// defaultMinInterval is the minimum spacing between dispatches.
	// The device silently drops commands sent faster than it polls
	// its UART, so never go below this without bench evidence.
	defaultMinInterval = 100 * time.Millisecond

	// defaultResponseTimeout bounds one dispatch's response window.
	defaultResponseTimeout = 5 * time.Second

	// defaultMaxRetries is the retry budget after the first attempt.
	defaultMaxRetries = 2

	// defaultCollectIdle ends a multi-line dump: once lines stop for
	// this long the dump is considered complete.
	defaultCollectIdle = 300 * time.Millisecond

	// defaultAckGrace is how long a fire-and-forget command listens
	// for an explicit error line before resolving success.
	defaultAckGrace = 400 * time.Millisecond

	// defaultQueueDepth is the submission buffer size.
	defaultQueueDepth = 64
)

// QueueConfig tunes the dispatch loop. Zero values select defaults.
type QueueConfig struct {
	MinInterval     time.Duration
	ResponseTimeout time.Duration
	MaxRetries      int
	CollectIdle     time.Duration
	AckGrace        time.Duration
	QueueDepth      int
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.MinInterval <= 0 {
		c.MinInterval = defaultMinInterval
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = defaultResponseTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.CollectIdle <= 0 {
		c.CollectIdle = defaultCollectIdle
	}
	if c.AckGrace <= 0 {
		c.AckGrace = defaultAckGrace
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = defaultQueueDepth
	}
	return c
}

// QueueStats holds dispatch counters.
type QueueStats struct {
	Submitted uint64
	Confirmed uint64
	Failed    uint64
	Retries   uint64
	InFlight  bool
	Depth     int
}

// Future resolves when its command confirms or terminally fails.
type Future struct {
	cmd       *Command
	done      chan struct{}
	err       error
	resolved  sync.Once
	cancelled atomic.Bool
}

// Command returns the command this future tracks.
func (f *Future) Command() *Command { return f.cmd }

// Await blocks until the command resolves or ctx ends.
func (f *Future) Await(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done exposes the completion channel for select loops.
func (f *Future) Done() <-chan struct{} { return f.done }

// Err returns the resolution error. Only valid after Done is closed.
func (f *Future) Err() error { return f.err }

// Cancel marks a still-queued command as cancelled. A command already
// dispatched completes or times out normally. Returns true if the
// cancellation mark was set before resolution.
func (f *Future) Cancel() bool {
	select {
	case <-f.done:
		return false
	default:
		f.cancelled.Store(true)
		return true
	}
}

func (f *Future) resolve(err error) {
	f.resolved.Do(func() {
		f.err = err
		close(f.done)
	})
}

// NewCompletedFuture returns a future already resolved with err.
// Used by layers that satisfy the command surface without a live queue.
func NewCompletedFuture(cmd *Command, err error) *Future {
	f := &Future{cmd: cmd, done: make(chan struct{})}
	f.resolve(err)
	return f
}

// Queue serializes commands into a strictly one-at-a-time
// request/response cycle on a single connection.
//
// The dispatch goroutine is the only writer of wire bytes and the only
// reader of response lines: interleaving is impossible by construction.
// User commands and poll reads funnel through the same queue, so device-
// visible effects are globally ordered.
type Queue struct {
	conn   LineConn
	store  *Store
	cfg    QueueConfig
	logger Logger

	queue chan *Future
	done  *closeOnce
	wg    sync.WaitGroup

	inFlight atomic.Bool
	closed   atomic.Bool

	// onDisconnect fires once on a fatal transport failure.
	onDisconnect   func(error)
	disconnectOnce sync.Once

	// onResult reports command telemetry (op, success, latency, attempts).
	onResult func(Op, bool, time.Duration, int)

	submitted atomic.Uint64
	confirmed atomic.Uint64
	failed    atomic.Uint64
	retries   atomic.Uint64
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// NewQueue creates a queue bound to one live connection. The queue is
// per-session: the supervisor builds a fresh one on every connect.
func NewQueue(conn LineConn, store *Store, cfg QueueConfig, logger Logger) *Queue {
	return &Queue{
		conn:   conn,
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: logger,
		queue:  make(chan *Future, cfg.withDefaults().QueueDepth),
		done:   newCloseOnce(),
	}
}

// SetOnDisconnect registers the fatal-failure callback. Must be set
// before Start.
func (q *Queue) SetOnDisconnect(fn func(error)) { q.onDisconnect = fn }

// SetOnResult registers the per-command telemetry callback. Must be
// set before Start.
func (q *Queue) SetOnResult(fn func(Op, bool, time.Duration, int)) { q.onResult = fn }

// Start launches the dispatch loop.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.dispatchLoop()
}

// Close stops the loop and fails all still-queued commands with cause.
// Idempotent. In-flight work resolves via the transport erroring out.
func (q *Queue) Close(cause error) {
	if q.closed.Swap(true) {
		return
	}
	q.done.Close()
	q.conn.Close()
	q.wg.Wait()
	q.drain(cause)
}

// Submit enqueues a command and returns its future.
func (q *Queue) Submit(cmd *Command) (*Future, error) {
	if q.closed.Load() {
		return nil, ErrNotConnected
	}
	f := &Future{cmd: cmd, done: make(chan struct{})}
	select {
	case q.queue <- f:
		q.submitted.Add(1)
		return f, nil
	default:
		return nil, ErrQueueFull
	}
}

// InFlight reports whether a command is currently on the wire. The
// poll coordinator uses this to skip ticks rather than starve
// interactive commands.
func (q *Queue) InFlight() bool { return q.inFlight.Load() }

// Stats returns dispatch counters.
func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Submitted: q.submitted.Load(),
		Confirmed: q.confirmed.Load(),
		Failed:    q.failed.Load(),
		Retries:   q.retries.Load(),
		InFlight:  q.inFlight.Load(),
		Depth:     len(q.queue),
	}
}

func (q *Queue) dispatchLoop() {
	defer q.wg.Done()

	var lastDispatch time.Time
	for {
		select {
		case <-q.done.Done():
			return
		case f := <-q.queue:
			if f.cancelled.Load() {
				f.resolve(ErrCommandCancelled)
				continue
			}
			// Rate limit: enforce MinInterval between dispatches.
			if wait := q.cfg.MinInterval - time.Since(lastDispatch); wait > 0 {
				if !q.sleep(wait) {
					f.resolve(fmt.Errorf("%w: %w", ErrCommandFailed, ErrNotConnected))
					return
				}
			}
			lastDispatch = time.Now()
			q.dispatch(f)
		}
	}
}

// dispatch runs one command through send/await/retry to resolution.
func (q *Queue) dispatch(f *Future) {
	q.inFlight.Store(true)
	defer q.inFlight.Store(false)

	cmd := f.cmd
	start := time.Now()

	// Optimistic predictions become visible before the response, by
	// contract. Kept across retries; reverted only on terminal failure.
	pendingIDs := make([]string, len(cmd.Predictions))
	for i, p := range cmd.Predictions {
		pendingIDs[i] = q.store.ApplyOptimistic(p.Field, p.Value)
	}

	// Retrying a command with no echo would blindly re-execute it;
	// reboot or clear-preset must go out at most once.
	maxRetries := q.cfg.MaxRetries
	if cmd.FireAndForget {
		maxRetries = 0
	}

	attempts := 0
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		attempts++

		if err := q.conn.SendLine(context.Background(), cmd.Wire); err != nil {
			q.fail(f, pendingIDs, attempts, start, err)
			q.fatal(err)
			return
		}

		err := q.awaitResponse(cmd, pendingIDs)
		if err == nil {
			q.confirmed.Add(1)
			f.resolve(nil)
			q.report(cmd.Op, true, time.Since(start), attempts)
			return
		}
		lastErr = err

		if isFatal(err) {
			q.fail(f, pendingIDs, attempts, start, err)
			q.fatal(err)
			return
		}

		if attempt < maxRetries {
			q.retries.Add(1)
			q.logDebug("retrying command", "op", string(cmd.Op), "attempt", attempt+1, "error", err)
			// Linear backoff keeps total worst-case latency bounded.
			if !q.sleep(time.Duration(attempt+1) * q.cfg.MinInterval) {
				q.fail(f, pendingIDs, attempts, start, ErrNotConnected)
				return
			}
		}
	}

	q.fail(f, pendingIDs, attempts, start, lastErr)
}

// awaitResponse consumes response lines for one dispatched command.
//
// Returns nil on confirmation, ErrCommandTimeout / ErrCommandError on
// retryable outcomes, or a fatal transport error.
func (q *Queue) awaitResponse(cmd *Command, pendingIDs []string) error {
	deadline := time.Now().Add(q.cfg.ResponseTimeout)
	collected := make(map[FieldKey]any)

	for {
		timeout := time.Until(deadline)
		switch {
		case cmd.Collect && len(collected) > 0:
			// Dump in progress: a quiet gap ends it.
			timeout = q.cfg.CollectIdle
		case cmd.FireAndForget:
			timeout = q.cfg.AckGrace
		}
		if timeout <= 0 {
			return ErrCommandTimeout
		}

		line, err := q.conn.ReceiveLine(context.Background(), timeout)
		if err != nil {
			switch {
			case errors.Is(err, ErrReadTimeout):
				if cmd.Collect && len(collected) > 0 {
					q.store.Apply(collected)
					return nil
				}
				if cmd.FireAndForget {
					// No echo expected; silence is acceptance.
					return nil
				}
				if time.Now().After(deadline) {
					return ErrCommandTimeout
				}
				continue
			default:
				return err
			}
		}

		switch ev := ParseLine(line).(type) {
		case CommandError:
			return fmt.Errorf("%w: %s", ErrCommandError, ev.Code)

		case FieldUpdate:
			if cmd.Collect {
				collected[ev.Field] = ev.Value
				continue
			}
			if done := q.handleFieldUpdate(cmd, pendingIDs, ev); done {
				return nil
			}

		case Unrecognized:
			if ev.Raw == "" {
				continue
			}
			if cmd.CaptureRaw && cmd.Expect != "" {
				q.store.Apply(map[FieldKey]any{cmd.Expect: ev.Raw})
				return nil
			}
			if cmd.FireAndForget {
				// Device answered with something non-fatal; good enough.
				return nil
			}
			q.logDebug("ignoring unrecognized line", "line", ev.Raw)
		}
	}
}

// handleFieldUpdate routes one echoed field. Returns true when the
// update resolves the command.
func (q *Queue) handleFieldUpdate(cmd *Command, pendingIDs []string, ev FieldUpdate) bool {
	for i, p := range cmd.Predictions {
		if p.Field != ev.Field {
			continue
		}
		// The echo is the acknowledgement. Confirm the echoed field
		// with the device's value, and the remaining predictions with
		// theirs: the device accepted the whole command.
		q.store.ConfirmPending(pendingIDs[i], ev.Field, ev.Value)
		for j, other := range cmd.Predictions {
			if j != i {
				q.store.ConfirmPending(pendingIDs[j], other.Field, other.Value)
			}
		}
		return true
	}

	if cmd.Expect != "" && cmd.Expect == ev.Field {
		q.store.Apply(map[FieldKey]any{ev.Field: ev.Value})
		return true
	}

	// Unsolicited but parseable: device-reported truth, merge it.
	q.store.Apply(map[FieldKey]any{ev.Field: ev.Value})
	return false
}

// fail resolves a future as terminally failed and reverts its overlays.
func (q *Queue) fail(f *Future, pendingIDs []string, attempts int, start time.Time, cause error) {
	for _, id := range pendingIDs {
		if id != "" {
			q.store.Revert(id)
		}
	}
	q.failed.Add(1)
	f.resolve(fmt.Errorf("%w: %w", ErrCommandFailed, cause))
	q.report(f.cmd.Op, false, time.Since(start), attempts)
}

// fatal reports an unrecoverable transport failure to the supervisor.
func (q *Queue) fatal(err error) {
	q.disconnectOnce.Do(func() {
		if q.onDisconnect != nil {
			q.onDisconnect(err)
		}
	})
}

// drain fails everything still queued.
func (q *Queue) drain(cause error) {
	if cause == nil {
		cause = ErrNotConnected
	}
	for {
		select {
		case f := <-q.queue:
			q.failed.Add(1)
			f.resolve(fmt.Errorf("%w: %w", ErrCommandFailed, cause))
		default:
			return
		}
	}
}

// sleep waits unless the queue shuts down first.
func (q *Queue) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-q.done.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (q *Queue) report(op Op, success bool, latency time.Duration, attempts int) {
	if q.onResult != nil {
		q.onResult(op, success, latency, attempts)
	}
}

func (q *Queue) logDebug(msg string, args ...any) {
	if q.logger != nil {
		q.logger.Debug(msg, args...)
	}
}

func isFatal(err error) bool {
	return errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrNotConnected)
}
