package matrix

import (
	"context"
	"sync"
	"time"
)

// Poll interval bounds. The device answers a full status dump in well
// under a second, but hammering it competes with interactive commands
// on the same serialized queue.
const (
	minPollInterval     = 3 * time.Second
	maxPollInterval     = 300 * time.Second
	defaultPollInterval = 10 * time.Second

	// defaultFailureThreshold is how many consecutive failed cycles
	// mark the connection unhealthy.
	defaultFailureThreshold = 3
)

// PollerConfig tunes the poll coordinator. Zero values select defaults.
type PollerConfig struct {
	// Interval between poll cycles, clamped to [3s, 300s].
	Interval time.Duration

	// FailureThreshold is the consecutive-failure count that triggers
	// the unhealthy callback.
	FailureThreshold int
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Interval <= 0 {
		c.Interval = defaultPollInterval
	}
	if c.Interval < minPollInterval {
		c.Interval = minPollInterval
	}
	if c.Interval > maxPollInterval {
		c.Interval = maxPollInterval
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaultFailureThreshold
	}
	return c
}

// Poller periodically reconciles the store against the device.
//
// Each cycle submits a batch of read commands through the shared queue,
// so polls obey the same rate limiting and global ordering as user
// commands. A tick that lands while a command is in flight (or while
// commands are queued) is skipped entirely rather than delaying
// interactive work.
//
// The poller detects silent connection death: a socket can stay
// technically open while the device stops answering. After
// FailureThreshold consecutive failed cycles the unhealthy callback
// fires once, and the supervisor tears the session down.
type Poller struct {
	queue  *Queue
	store  *Store
	cfg    PollerConfig
	logger Logger

	// cycle returns the read commands for one reconciliation pass.
	cycle func() []*Command

	// onUnhealthy fires once when consecutive failures cross the
	// threshold.
	onUnhealthy   func()
	unhealthyOnce sync.Once

	// onCycle reports poll telemetry (duration, failed).
	onCycle func(time.Duration, bool)

	done *closeOnce
	wg   sync.WaitGroup
}

// NewPoller creates a poll coordinator. cycle supplies the commands for
// each pass; it is called per tick so builders see current config.
func NewPoller(queue *Queue, store *Store, cfg PollerConfig, cycle func() []*Command, logger Logger) *Poller {
	return &Poller{
		queue:  queue,
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: logger,
		cycle:  cycle,
		done:   newCloseOnce(),
	}
}

// SetOnUnhealthy registers the unhealthy-connection callback. Must be
// set before Start.
func (p *Poller) SetOnUnhealthy(fn func()) { p.onUnhealthy = fn }

// SetOnCycle registers the per-cycle telemetry callback. Must be set
// before Start.
func (p *Poller) SetOnCycle(fn func(time.Duration, bool)) { p.onCycle = fn }

// Start launches the poll loop.
func (p *Poller) Start() {
	p.wg.Add(1)
	go p.run()
}

// Close stops the poll loop and waits for it to exit. Idempotent.
func (p *Poller) Close() {
	p.done.Close()
	p.wg.Wait()
}

func (p *Poller) run() {
	defer p.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-p.done.Done()
		cancel()
	}()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-p.done.Done():
			return
		case <-ticker.C:
		}

		// Expired optimistic overlays are cleaned up on the poll
		// cadence even when the cycle itself is skipped.
		p.store.SweepExpired()

		if p.queue.InFlight() || p.queue.Stats().Depth > 0 {
			p.logDebug("skipping poll tick, queue busy")
			continue
		}

		start := time.Now()
		err := p.runCycle(ctx)
		elapsed := time.Since(start)

		if err != nil {
			failures++
			p.logWarn("poll cycle failed", "error", err, "consecutive", failures)
			if failures >= p.cfg.FailureThreshold {
				p.unhealthyOnce.Do(func() {
					p.logWarn("connection unhealthy, signalling supervisor",
						"failures", failures)
					if p.onUnhealthy != nil {
						p.onUnhealthy()
					}
				})
			}
		} else {
			failures = 0
		}

		if p.onCycle != nil {
			p.onCycle(elapsed, err != nil)
		}
	}
}

// runCycle submits one reconciliation pass and waits for every command
// to resolve. A failed or timed-out read leaves existing state alone;
// the store is only ever updated with lines the device actually sent.
func (p *Poller) runCycle(ctx context.Context) error {
	var firstErr error
	for _, cmd := range p.cycle() {
		f, err := p.queue.Submit(cmd)
		if err != nil {
			return err
		}
		if err := f.Await(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Poller) logDebug(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}

func (p *Poller) logWarn(msg string, args ...any) {
	if p.logger != nil {
		p.logger.Warn(msg, args...)
	}
}
