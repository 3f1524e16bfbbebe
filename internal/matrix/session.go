package matrix

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Reconnect behaviour.
const (
	defaultReconnectMin = 2 * time.Second
	defaultReconnectMax = 60 * time.Second

	// defaultStableAfter is how long a session must survive before the
	// next disconnect resets backoff to the minimum.
	defaultStableAfter = 60 * time.Second

	// defaultDialTimeout bounds one connection attempt.
	defaultDialTimeout = 10 * time.Second
)

// SessionState is the supervisor's connection state.
type SessionState int32

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// SessionConfig configures the supervisor. Zero values select defaults
// where noted; Address is required.
type SessionConfig struct {
	// Address is the device endpoint, host:port.
	Address string

	// Password, when set, is sent as a login command on connect.
	Password string

	// SyncNames enables reading port names from the device on connect
	// and on RefreshNames.
	SyncNames bool

	// Queue tunes dispatch behaviour.
	Queue QueueConfig

	// Poll tunes the reconciliation loop.
	Poll PollerConfig

	// ReconnectMin/ReconnectMax bound the exponential backoff.
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	// StableAfter is the connected duration after which backoff resets.
	StableAfter time.Duration

	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = defaultReconnectMin
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = defaultReconnectMax
	}
	if c.StableAfter <= 0 {
		c.StableAfter = defaultStableAfter
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	return c
}

// SessionStats is a point-in-time view of supervisor health.
type SessionStats struct {
	State       string
	Reconnects  uint64
	ConnectedAt time.Time
	Queue       QueueStats
}

// Session supervises the connection lifecycle: dial, authenticate,
// full state refresh, queue + poller startup, and reconnection with
// exponential backoff after any failure.
//
// Callers never see connection churn as errors from the session
// itself; a drop surfaces as failed in-flight commands, an
// availability flip in the store, and a transparent reconnect.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Session struct {
	cfg      SessionConfig
	commands CommandSet
	store    *Store
	dial     DialFunc
	logger   Logger

	state      atomic.Int32
	reconnects atomic.Uint64

	mu          sync.Mutex
	queue       *Queue
	poller      *Poller
	connectedAt time.Time

	// lost carries the first fatal error of the current session to the
	// supervise loop. Buffered so queue/poller callbacks never block.
	lost chan error

	done *closeOnce
	wg   sync.WaitGroup

	// Telemetry hooks, all optional.
	onCommandResult func(Op, bool, time.Duration, int)
	onPollCycle     func(time.Duration, bool)
	onSessionEvent  func(event string, reconnects uint64)
}

// NewSession creates a supervisor over the given store. The session is
// inert until Start.
func NewSession(cfg SessionConfig, store *Store, logger Logger) *Session {
	return &Session{
		cfg:      cfg.withDefaults(),
		commands: DefaultCommandSet(),
		store:    store,
		dial:     DialTCP,
		logger:   logger,
		lost:     make(chan error, 1),
		done:     newCloseOnce(),
	}
}

// SetDialFunc replaces the transport dialer. Must be called before
// Start. Used by tests to inject scripted connections.
func (s *Session) SetDialFunc(dial DialFunc) { s.dial = dial }

// SetCommandSet replaces the wire command table. Must be called before
// Start. The grammar is firmware-defined, so deployments facing a
// different firmware revision can swap templates without code changes.
func (s *Session) SetCommandSet(cs CommandSet) { s.commands = cs }

// SetOnCommandResult registers per-command telemetry. Before Start.
func (s *Session) SetOnCommandResult(fn func(Op, bool, time.Duration, int)) {
	s.onCommandResult = fn
}

// SetOnPollCycle registers per-poll telemetry. Before Start.
func (s *Session) SetOnPollCycle(fn func(time.Duration, bool)) { s.onPollCycle = fn }

// SetOnSessionEvent registers lifecycle telemetry ("connected",
// "disconnected"). Before Start.
func (s *Session) SetOnSessionEvent(fn func(string, uint64)) { s.onSessionEvent = fn }

// Start launches the supervise loop. It returns immediately; the first
// connection attempt happens asynchronously.
func (s *Session) Start() {
	s.wg.Add(1)
	go s.supervise()
}

// Close tears the session down and stops reconnecting. Idempotent.
func (s *Session) Close() {
	s.done.Close()
	s.wg.Wait()
}

// State returns the supervisor's current connection state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Available reports whether device-derived state is current.
func (s *Session) Available() bool { return s.store.Available() }

// Snapshot returns the store's current point-in-time view.
func (s *Session) Snapshot() Snapshot { return s.store.Snapshot() }

// Subscribe registers a state diff callback. Returns an unsubscribe
// function.
func (s *Session) Subscribe(fn func(Diff)) func() { return s.store.Subscribe(fn) }

// Stats returns supervisor and queue counters.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	q := s.queue
	connectedAt := s.connectedAt
	s.mu.Unlock()

	st := SessionStats{
		State:       s.State().String(),
		Reconnects:  s.reconnects.Load(),
		ConnectedAt: connectedAt,
	}
	if q != nil {
		st.Queue = q.Stats()
	}
	return st
}

// supervise owns the connect/teardown/backoff cycle. It is the only
// goroutine that builds or destroys queue and poller.
func (s *Session) supervise() {
	defer s.wg.Done()
	defer s.teardown(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.done.Done()
		cancel()
	}()

	backoff := s.cfg.ReconnectMin
	for {
		select {
		case <-s.done.Done():
			return
		default:
		}

		s.state.Store(int32(StateConnecting))
		err := s.connect(ctx)
		if err != nil {
			s.state.Store(int32(StateDisconnected))
			s.logWarn("connection attempt failed", "address", s.cfg.Address,
				"error", err, "retry_in", backoff.String())
			if !s.wait(backoff) {
				return
			}
			backoff = nextBackoff(backoff, s.cfg.ReconnectMax)
			continue
		}

		s.state.Store(int32(StateConnected))
		connectedAt := time.Now()
		s.logInfo("connected", "address", s.cfg.Address)
		s.emitSessionEvent("connected")

		select {
		case <-s.done.Done():
			return
		case cause := <-s.lost:
			s.teardown(cause)
			s.state.Store(int32(StateDisconnected))
			s.reconnects.Add(1)
			s.logWarn("connection lost", "error", cause)
			s.emitSessionEvent("disconnected")

			if time.Since(connectedAt) >= s.cfg.StableAfter {
				backoff = s.cfg.ReconnectMin
			}
			if !s.wait(backoff) {
				return
			}
			backoff = nextBackoff(backoff, s.cfg.ReconnectMax)
		}
	}
}

// connect dials the device and brings a full session up: login (when
// configured), complete state refresh, then the poll loop. Any failure
// tears everything back down and reports the attempt as failed.
func (s *Session) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()

	conn, err := s.dial(dialCtx, s.cfg.Address)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	queue := NewQueue(conn, s.store, s.cfg.Queue, s.logger)
	queue.SetOnDisconnect(s.signalLost)
	queue.SetOnResult(s.onCommandResult)

	// Drain stale loss signals from the previous session.
	select {
	case <-s.lost:
	default:
	}

	queue.Start()

	if s.cfg.Password != "" {
		login, buildErr := s.commands.Login(s.cfg.Password)
		if err := s.submitAndAwait(ctx, queue, login, buildErr); err != nil {
			queue.Close(err)
			return fmt.Errorf("login: %w", err)
		}
	}

	if err := s.refreshAll(ctx, queue); err != nil {
		queue.Close(err)
		return fmt.Errorf("initial refresh: %w", err)
	}

	poller := NewPoller(queue, s.store, s.cfg.Poll, s.pollCycle, s.logger)
	poller.SetOnUnhealthy(func() { s.signalLost(ErrReadTimeout) })
	poller.SetOnCycle(s.onPollCycle)
	poller.Start()

	s.mu.Lock()
	s.queue = queue
	s.poller = poller
	s.connectedAt = time.Now()
	s.mu.Unlock()

	s.store.SetAvailable()
	return nil
}

// teardown stops the poller and queue for the current session and
// flips the store to unavailable. Safe to call with nothing running.
func (s *Session) teardown(cause error) {
	s.mu.Lock()
	queue := s.queue
	poller := s.poller
	s.queue = nil
	s.poller = nil
	s.mu.Unlock()

	if poller != nil {
		poller.Close()
	}
	if queue != nil {
		queue.Close(cause)
	}
	if queue != nil || poller != nil {
		s.store.MarkUnavailable()
	}
}

// signalLost delivers a fatal session error to the supervise loop.
// Callable from queue and poller goroutines; never blocks.
func (s *Session) signalLost(err error) {
	select {
	case s.lost <- err:
	default:
	}
}

// refreshAll reads the complete device state so the store starts from
// ground truth rather than defaults: identity and globals first, then
// routing, link status, per-output settings, EDID assignments, and
// (when enabled) port names.
func (s *Session) refreshAll(ctx context.Context, queue *Queue) error {
	var batches [][]*Command

	info, err := s.commands.ReadDeviceInfo()
	if err != nil {
		return err
	}
	batches = append(batches, info)

	globals, err := s.commands.ReadGlobals()
	if err != nil {
		return err
	}
	batches = append(batches, globals)

	for _, build := range []func() (*Command, error){
		s.commands.ReadRouting,
		s.commands.ReadLinkInputs,
		s.commands.ReadLinkOutputs,
		s.commands.ReadEDIDs,
	} {
		cmd, err := build()
		if err != nil {
			return err
		}
		batches = append(batches, []*Command{cmd})
	}

	outputs, err := s.commands.ReadOutputSettings()
	if err != nil {
		return err
	}
	batches = append(batches, outputs)

	if s.cfg.SyncNames {
		names, err := s.commands.ReadNames()
		if err != nil {
			return err
		}
		batches = append(batches, names)
	}

	for _, batch := range batches {
		for _, cmd := range batch {
			f, err := queue.Submit(cmd)
			if err != nil {
				return err
			}
			if err := f.Await(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// pollCycle builds the recurring reconciliation reads: routing plus
// input/output link status. Settings and names change only through
// commands (which self-confirm), so they are refreshed on connect, not
// per tick.
func (s *Session) pollCycle() []*Command {
	var cmds []*Command
	for _, build := range []func() (*Command, error){
		s.commands.Status,
		s.commands.ReadLinkInputs,
		s.commands.ReadLinkOutputs,
	} {
		cmd, err := build()
		if err != nil {
			s.logWarn("poll command build failed", "error", err)
			continue
		}
		cmds = append(cmds, cmd)
	}
	return cmds
}

// submit pushes a built command onto the live queue.
func (s *Session) submit(cmd *Command, buildErr error) (*Future, error) {
	if buildErr != nil {
		return nil, buildErr
	}
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()
	if queue == nil || s.State() != StateConnected {
		return nil, ErrNotConnected
	}
	return queue.Submit(cmd)
}

func (s *Session) submitAndAwait(ctx context.Context, queue *Queue, cmd *Command, buildErr error) error {
	if buildErr != nil {
		return buildErr
	}
	f, err := queue.Submit(cmd)
	if err != nil {
		return err
	}
	return f.Await(ctx)
}

// --- Public command surface ---

// SetRouting switches one output to an input. output 0 routes all
// outputs at once.
func (s *Session) SetRouting(output, input PortID) (*Future, error) {
	cmd, err := s.commands.Route(output, input)
	return s.submit(cmd, err)
}

// SetAllRouting switches every output to the same input.
func (s *Session) SetAllRouting(input PortID) (*Future, error) {
	return s.SetRouting(0, input)
}

// SavePreset stores the current routing into slot 1-8.
func (s *Session) SavePreset(slot int) (*Future, error) {
	cmd, err := s.commands.SavePreset(slot)
	return s.submit(cmd, err)
}

// RecallPreset applies a stored routing preset. The device answers
// with the resulting routing table, which is merged atomically.
func (s *Session) RecallPreset(slot int) (*Future, error) {
	cmd, err := s.commands.RecallPreset(slot)
	return s.submit(cmd, err)
}

// ClearPreset erases a stored preset slot.
func (s *Session) ClearPreset(slot int) (*Future, error) {
	cmd, err := s.commands.ClearPreset(slot)
	return s.submit(cmd, err)
}

// SetOutputHDCP sets an output's HDCP mode.
func (s *Session) SetOutputHDCP(output PortID, mode HDCPMode) (*Future, error) {
	cmd, err := s.commands.SetHDCP(output, mode)
	return s.submit(cmd, err)
}

// SetOutputScaler sets an output's scaler mode.
func (s *Session) SetOutputScaler(output PortID, mode ScalerMode) (*Future, error) {
	cmd, err := s.commands.SetScaler(output, mode)
	return s.submit(cmd, err)
}

// SetOutputHDR sets an output's HDR handling.
func (s *Session) SetOutputHDR(output PortID, mode HDRMode) (*Future, error) {
	cmd, err := s.commands.SetHDR(output, mode)
	return s.submit(cmd, err)
}

// SetOutputStream enables or disables an output's video stream.
func (s *Session) SetOutputStream(output PortID, enable bool) (*Future, error) {
	cmd, err := s.commands.SetStream(output, enable)
	return s.submit(cmd, err)
}

// SetOutputARC enables or disables audio return on an output.
func (s *Session) SetOutputARC(output PortID, enable bool) (*Future, error) {
	cmd, err := s.commands.SetARC(output, enable)
	return s.submit(cmd, err)
}

// SetOutputExtAudio enables or disables an output's external audio port.
func (s *Session) SetOutputExtAudio(output PortID, enable bool) (*Future, error) {
	cmd, err := s.commands.SetExtAudio(output, enable)
	return s.submit(cmd, err)
}

// SetAudioMode sets the device-wide external audio binding mode.
func (s *Session) SetAudioMode(mode AudioMode) (*Future, error) {
	cmd, err := s.commands.SetExtAudioMode(mode)
	return s.submit(cmd, err)
}

// SetOutputAudioSource selects the external audio source for an output
// in independent audio mode. Sources 1-8 are inputs; 9-16 are output
// ARC channels.
func (s *Session) SetOutputAudioSource(output PortID, source AudioSource) (*Future, error) {
	cmd, err := s.commands.SetExtAudioSource(output, source)
	return s.submit(cmd, err)
}

// SetInputEDID assigns an EDID preset to an input. input 0 assigns all.
func (s *Session) SetInputEDID(input PortID, preset EDIDPreset) (*Future, error) {
	cmd, err := s.commands.SetEDID(input, preset)
	return s.submit(cmd, err)
}

// CopyEDID copies an output's sink EDID onto an input (0 = all inputs).
// The device does not echo the result, so after the copy resolves a
// full EDID read is issued; its dump lands in the store as one atomic
// merge.
func (s *Session) CopyEDID(input, output PortID) (*Future, error) {
	cmd, err := s.commands.CopyEDID(input, output)
	f, err := s.submit(cmd, err)
	if err != nil {
		return nil, err
	}
	go func() {
		<-f.Done()
		if f.Err() != nil {
			return
		}
		read, err := s.commands.ReadEDIDs()
		if err != nil {
			return
		}
		if _, err := s.submit(read, nil); err != nil {
			s.logWarn("edid read-back failed", "error", err)
		}
	}()
	return f, nil
}

// SendCEC sends a CEC command token to an input or output port.
func (s *Session) SendCEC(targetOutput bool, port PortID, token string) (*Future, error) {
	cmd, err := s.commands.CEC(targetOutput, port, token)
	return s.submit(cmd, err)
}

// SetInputName renames an input port on the device.
func (s *Session) SetInputName(input PortID, name string) (*Future, error) {
	cmd, err := s.commands.SetName(false, input, name)
	return s.submit(cmd, err)
}

// SetOutputName renames an output port on the device.
func (s *Session) SetOutputName(output PortID, name string) (*Future, error) {
	cmd, err := s.commands.SetName(true, output, name)
	return s.submit(cmd, err)
}

// RefreshNames re-reads all port names from the device.
func (s *Session) RefreshNames() error {
	cmds, err := s.commands.ReadNames()
	if err != nil {
		return err
	}
	for _, cmd := range cmds {
		if _, err := s.submit(cmd, nil); err != nil {
			return err
		}
	}
	return nil
}

// SetPower turns the device on or off (standby).
func (s *Session) SetPower(on bool) (*Future, error) {
	cmd, err := s.commands.SetPower(on)
	return s.submit(cmd, err)
}

// SetBeep enables or disables the confirmation beep.
func (s *Session) SetBeep(on bool) (*Future, error) {
	cmd, err := s.commands.SetBeep(on)
	return s.submit(cmd, err)
}

// SetPanelLock locks or unlocks the front panel.
func (s *Session) SetPanelLock(on bool) (*Future, error) {
	cmd, err := s.commands.SetLock(on)
	return s.submit(cmd, err)
}

// SetLogo sets the LCD boot logo text, 16 characters maximum.
func (s *Session) SetLogo(text string) (*Future, error) {
	cmd, err := s.commands.SetLogo(text)
	return s.submit(cmd, err)
}

// SetLCDTimeout sets the front-panel LCD backlight timeout.
func (s *Session) SetLCDTimeout(t LCDTimeout) (*Future, error) {
	cmd, err := s.commands.SetLCDTimeout(t)
	return s.submit(cmd, err)
}

// Reboot restarts the device. The session will drop and reconnect.
func (s *Session) Reboot() (*Future, error) {
	cmd, err := s.commands.Reboot()
	return s.submit(cmd, err)
}

// FactoryReset restores factory defaults. The session will drop and
// reconnect.
func (s *Session) FactoryReset() (*Future, error) {
	cmd, err := s.commands.FactoryReset()
	return s.submit(cmd, err)
}

// SendRaw sends an arbitrary command string, terminator appended if
// missing. Response lines are parsed and merged like any other dump.
func (s *Session) SendRaw(wire string) (*Future, error) {
	cmd, err := s.commands.Raw(wire)
	return s.submit(cmd, err)
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		next = max
	}
	return next
}

// wait sleeps unless the session is closed first.
func (s *Session) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-s.done.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Session) emitSessionEvent(event string) {
	if s.onSessionEvent != nil {
		s.onSessionEvent(event, s.reconnects.Load())
	}
}

func (s *Session) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Session) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
