package matrix

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeConn is a scripted LineConn. respond maps each sent wire string
// to the lines the device answers with.
type fakeConn struct {
	mu      sync.Mutex
	sent    []string
	sentAt  []time.Time
	respond func(wire string) []string

	lines    chan string
	closed   chan struct{}
	closeOne sync.Once
}

func newFakeConn(respond func(string) []string) *fakeConn {
	return &fakeConn{
		respond: respond,
		lines:   make(chan string, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) SendLine(_ context.Context, line string) error {
	select {
	case <-c.closed:
		return ErrConnectionLost
	default:
	}

	c.mu.Lock()
	c.sent = append(c.sent, line)
	c.sentAt = append(c.sentAt, time.Now())
	c.mu.Unlock()

	if c.respond != nil {
		for _, l := range c.respond(line) {
			c.lines <- l
		}
	}
	return nil
}

func (c *fakeConn) ReceiveLine(_ context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case l := <-c.lines:
		return l, nil
	case <-c.closed:
		return "", ErrConnectionLost
	case <-timer.C:
		return "", ErrReadTimeout
	}
}

func (c *fakeConn) Close() error {
	c.closeOne.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentLines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	copy(out, c.sent)
	return out
}

// fastQueueConfig keeps the retry/idle machinery but shrinks every
// window so tests run in milliseconds.
func fastQueueConfig() QueueConfig {
	return QueueConfig{
		MinInterval:     time.Millisecond,
		ResponseTimeout: 50 * time.Millisecond,
		MaxRetries:      2,
		CollectIdle:     15 * time.Millisecond,
		AckGrace:        15 * time.Millisecond,
	}
}

func startQueue(t *testing.T, conn *fakeConn, cfg QueueConfig) (*Queue, *Store) {
	t.Helper()
	store := NewStore(time.Minute, nil)
	q := NewQueue(conn, store, cfg, nil)
	q.Start()
	t.Cleanup(func() { q.Close(nil) })
	return q, store
}

func mustSubmit(t *testing.T, q *Queue, cmd *Command, err error) *Future {
	t.Helper()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	f, err := q.Submit(cmd)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	return f
}

func awaitOK(t *testing.T, f *Future) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.Await(ctx); err != nil {
		t.Fatalf("command failed: %v", err)
	}
}

// TestQueue_ConfirmOnEcho verifies the happy path: echo confirms the
// prediction and the overlay is cleared.
func TestQueue_ConfirmOnEcho(t *testing.T) {
	conn := newFakeConn(func(wire string) []string {
		if wire == "s output 1 in source 2!" {
			return []string{"output1->input2"}
		}
		return nil
	})
	q, store := startQueue(t, conn, fastQueueConfig())

	cs := DefaultCommandSet()
	cmd, err := cs.Route(1, 2)
	awaitOK(t, mustSubmit(t, q, cmd, err))

	if got := store.Snapshot().Routing[1]; got != 2 {
		t.Errorf("routing = %d, want 2", got)
	}
	if store.PendingCount() != 0 {
		t.Errorf("pending count = %d, want 0", store.PendingCount())
	}
	if stats := q.Stats(); stats.Confirmed != 1 || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

// TestQueue_OptimisticBeforeResponse verifies the predicted value is
// visible while the device is still silent, then reverts when retries
// exhaust.
func TestQueue_OptimisticBeforeResponse(t *testing.T) {
	conn := newFakeConn(nil) // device never answers
	cfg := fastQueueConfig()
	cfg.MaxRetries = 1
	q, store := startQueue(t, conn, cfg)

	cs := DefaultCommandSet()
	cmd, err := cs.Route(1, 5)
	f := mustSubmit(t, q, cmd, err)

	// Prediction must become visible before any response could arrive.
	deadline := time.Now().Add(time.Second)
	for store.Snapshot().Routing[1] != 5 {
		if time.Now().After(deadline) {
			t.Fatal("optimistic routing never became visible")
		}
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ferr := f.Await(ctx)
	if !errors.Is(ferr, ErrCommandFailed) || !errors.Is(ferr, ErrCommandTimeout) {
		t.Fatalf("err = %v, want CommandFailed wrapping CommandTimeout", ferr)
	}

	if got := store.Snapshot().Routing[1]; got != 1 {
		t.Errorf("routing after revert = %d, want confirmed 1", got)
	}
	if len(conn.sentLines()) != 2 {
		t.Errorf("sends = %d, want 2 (one retry)", len(conn.sentLines()))
	}
}

// TestQueue_RetryThenSucceed verifies a silent first attempt is retried
// and the retry's echo confirms normally.
func TestQueue_RetryThenSucceed(t *testing.T) {
	calls := 0
	conn := newFakeConn(func(wire string) []string {
		calls++
		if calls < 2 {
			return nil
		}
		return []string{"output2->input4"}
	})
	q, store := startQueue(t, conn, fastQueueConfig())

	cs := DefaultCommandSet()
	cmd, err := cs.Route(2, 4)
	awaitOK(t, mustSubmit(t, q, cmd, err))

	if got := store.Snapshot().Routing[2]; got != 4 {
		t.Errorf("routing = %d, want 4", got)
	}
	if stats := q.Stats(); stats.Retries != 1 {
		t.Errorf("retries = %d, want 1", stats.Retries)
	}
}

// TestQueue_DeviceErrorExhaustsRetries verifies explicit device error
// lines are retried, then surfaced wrapped in ErrCommandFailed.
func TestQueue_DeviceErrorExhaustsRetries(t *testing.T) {
	conn := newFakeConn(func(string) []string { return []string{"E00"} })
	cfg := fastQueueConfig()
	q, store := startQueue(t, conn, cfg)

	cs := DefaultCommandSet()
	cmd, err := cs.Route(1, 3)
	f := mustSubmit(t, q, cmd, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ferr := f.Await(ctx)
	if !errors.Is(ferr, ErrCommandFailed) || !errors.Is(ferr, ErrCommandError) {
		t.Fatalf("err = %v, want CommandFailed wrapping CommandError", ferr)
	}

	if got := len(conn.sentLines()); got != cfg.MaxRetries+1 {
		t.Errorf("sends = %d, want %d", got, cfg.MaxRetries+1)
	}
	if got := store.Snapshot().Routing[1]; got != 1 {
		t.Errorf("routing after revert = %d, want 1", got)
	}
}

// TestQueue_CollectDumpAppliedAtomically verifies a multi-line dump
// lands in the store as a single merge with one subscriber diff.
func TestQueue_CollectDumpAppliedAtomically(t *testing.T) {
	conn := newFakeConn(func(wire string) []string {
		if wire != "status!" {
			return nil
		}
		return []string{
			"power on",
			"output1->input3",
			"output2->input3",
			"output3->input7",
		}
	})
	q, store := startQueue(t, conn, fastQueueConfig())

	var (
		mu    sync.Mutex
		diffs []Diff
	)
	store.Subscribe(func(d Diff) {
		mu.Lock()
		diffs = append(diffs, d)
		mu.Unlock()
	})

	cs := DefaultCommandSet()
	cmd, err := cs.Status()
	awaitOK(t, mustSubmit(t, q, cmd, err))

	snap := store.Snapshot()
	if !snap.Power || snap.Routing[1] != 3 || snap.Routing[2] != 3 || snap.Routing[3] != 7 {
		t.Errorf("snapshot not fully merged: %+v", snap.Routing)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(diffs) != 1 {
		t.Fatalf("diffs = %d, want 1 atomic merge", len(diffs))
	}
	if len(diffs[0]) != 4 {
		t.Errorf("diff size = %d, want 4", len(diffs[0]))
	}
}

// TestQueue_FireAndForgetResolvesOnSilence verifies commands with no
// echo resolve after the grace window and are never retried.
func TestQueue_FireAndForgetResolvesOnSilence(t *testing.T) {
	conn := newFakeConn(nil)
	q, _ := startQueue(t, conn, fastQueueConfig())

	cs := DefaultCommandSet()
	cmd, err := cs.Reboot()
	awaitOK(t, mustSubmit(t, q, cmd, err))

	if got := len(conn.sentLines()); got != 1 {
		t.Errorf("sends = %d, want exactly 1 (never retried)", got)
	}
}

// TestQueue_FireAndForgetDeviceErrorNotRetried verifies a rejected
// one-shot command fails once without re-execution.
func TestQueue_FireAndForgetDeviceErrorNotRetried(t *testing.T) {
	conn := newFakeConn(func(string) []string { return []string{"E00"} })
	q, _ := startQueue(t, conn, fastQueueConfig())

	cs := DefaultCommandSet()
	cmd, err := cs.SavePreset(3)
	f := mustSubmit(t, q, cmd, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if ferr := f.Await(ctx); !errors.Is(ferr, ErrCommandError) {
		t.Fatalf("err = %v, want CommandError", ferr)
	}
	if got := len(conn.sentLines()); got != 1 {
		t.Errorf("sends = %d, want exactly 1", got)
	}
}

// TestQueue_CaptureRawModelString verifies a freeform response line
// resolves the expected field.
func TestQueue_CaptureRawModelString(t *testing.T) {
	conn := newFakeConn(func(wire string) []string {
		if wire == "r type!" {
			return []string{"HDMI Matrix 8x8"}
		}
		return nil
	})
	q, store := startQueue(t, conn, fastQueueConfig())

	cs := DefaultCommandSet()
	info, err := cs.ReadDeviceInfo()
	if err != nil {
		t.Fatal(err)
	}
	awaitOK(t, mustSubmit(t, q, info[0], nil))

	if got := store.Snapshot().Device.Model; got != "HDMI Matrix 8x8" {
		t.Errorf("model = %q", got)
	}
}

// TestQueue_UnsolicitedUpdatesMerged verifies parseable lines that do
// not belong to the in-flight command still land in the store.
func TestQueue_UnsolicitedUpdatesMerged(t *testing.T) {
	conn := newFakeConn(func(wire string) []string {
		if wire == "s output 1 in source 2!" {
			return []string{"input 1: connect", "output1->input2"}
		}
		return nil
	})
	q, store := startQueue(t, conn, fastQueueConfig())

	cs := DefaultCommandSet()
	cmd, err := cs.Route(1, 2)
	awaitOK(t, mustSubmit(t, q, cmd, err))

	if got := store.Snapshot().Inputs[1].Link; got != LinkConnected {
		t.Errorf("input link = %q, want Connected", got)
	}
}

// TestQueue_SendFailureIsTerminal verifies a dead transport fails the
// command immediately, reverts the prediction, and signals disconnect.
func TestQueue_SendFailureIsTerminal(t *testing.T) {
	conn := newFakeConn(nil)
	conn.Close()

	store := NewStore(time.Minute, nil)
	q := NewQueue(conn, store, fastQueueConfig(), nil)

	lost := make(chan error, 1)
	q.SetOnDisconnect(func(err error) { lost <- err })
	q.Start()
	defer q.Close(nil)

	cs := DefaultCommandSet()
	cmd, err := cs.Route(1, 4)
	f := mustSubmit(t, q, cmd, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ferr := f.Await(ctx)
	if !errors.Is(ferr, ErrCommandFailed) || !errors.Is(ferr, ErrConnectionLost) {
		t.Fatalf("err = %v, want CommandFailed wrapping ConnectionLost", ferr)
	}

	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatal("disconnect callback never fired")
	}

	if got := store.Snapshot().Routing[1]; got != 1 {
		t.Errorf("routing after revert = %d, want 1", got)
	}
}

// TestQueue_SingleInFlight verifies dispatches are serialized and
// spaced by at least the minimum interval.
func TestQueue_SingleInFlight(t *testing.T) {
	conn := newFakeConn(func(wire string) []string {
		return []string{"output1->input1"}
	})
	cfg := fastQueueConfig()
	cfg.MinInterval = 20 * time.Millisecond
	q, _ := startQueue(t, conn, cfg)

	cs := DefaultCommandSet()
	var futures []*Future
	for i := 0; i < 3; i++ {
		cmd, err := cs.Route(1, 1)
		futures = append(futures, mustSubmit(t, q, cmd, err))
	}
	for _, f := range futures {
		awaitOK(t, f)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.sentAt) != 3 {
		t.Fatalf("sends = %d, want 3", len(conn.sentAt))
	}
	for i := 1; i < len(conn.sentAt); i++ {
		if gap := conn.sentAt[i].Sub(conn.sentAt[i-1]); gap < cfg.MinInterval-5*time.Millisecond {
			t.Errorf("dispatch gap %d = %v, want >= %v", i, gap, cfg.MinInterval)
		}
	}
}

// TestQueue_CancelBeforeDispatch verifies a queued command can be
// cancelled and never reaches the wire.
func TestQueue_CancelBeforeDispatch(t *testing.T) {
	conn := newFakeConn(nil)
	store := NewStore(time.Minute, nil)
	q := NewQueue(conn, store, fastQueueConfig(), nil)
	// Not started yet, so the command stays queued.

	cs := DefaultCommandSet()
	cmd, err := cs.Route(1, 2)
	f := mustSubmit(t, q, cmd, err)

	if !f.Cancel() {
		t.Fatal("Cancel returned false for a queued command")
	}

	q.Start()
	defer q.Close(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if ferr := f.Await(ctx); !errors.Is(ferr, ErrCommandCancelled) {
		t.Fatalf("err = %v, want CommandCancelled", ferr)
	}
	if len(conn.sentLines()) != 0 {
		t.Error("cancelled command reached the wire")
	}
}

// TestQueue_CloseFailsQueued verifies shutdown drains queued commands
// with a wrapped cause.
func TestQueue_CloseFailsQueued(t *testing.T) {
	conn := newFakeConn(nil)
	store := NewStore(time.Minute, nil)
	q := NewQueue(conn, store, fastQueueConfig(), nil)

	cs := DefaultCommandSet()
	cmd, err := cs.Route(1, 2)
	f := mustSubmit(t, q, cmd, err)

	q.Close(ErrConnectionLost)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if ferr := f.Await(ctx); !errors.Is(ferr, ErrCommandFailed) || !errors.Is(ferr, ErrConnectionLost) {
		t.Fatalf("err = %v, want CommandFailed wrapping ConnectionLost", ferr)
	}

	if _, serr := q.Submit(cmd); !errors.Is(serr, ErrNotConnected) {
		t.Errorf("submit after close = %v, want ErrNotConnected", serr)
	}
}
