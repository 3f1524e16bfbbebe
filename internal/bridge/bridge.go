package bridge

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nerrad567/matrix-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/matrix-core/internal/matrix"
)

// publishQueueDepth bounds the async publish buffer. Diffs beyond this
// while the broker is stalled are dropped with a warning; the next
// retained snapshot resynchronises consumers.
const publishQueueDepth = 64

// Broker is the MQTT surface the bridge publishes and subscribes
// through. *mqtt.Client satisfies it; tests substitute a fake.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Availability payloads published to the system status topic.
const (
	payloadOnline  = "online"
	payloadOffline = "offline"
)

// Bridge mirrors device state onto MQTT and executes commands arriving
// from the command topic.
//
// State flows out as retained per-field messages plus a retained full
// snapshot, so late subscribers converge instantly. Commands flow in as
// JSON envelopes; each is acknowledged on its own ack topic once the
// command future resolves.
//
// Publishing runs on a dedicated worker: the diff callback is invoked
// from the session's dispatch goroutine, and a slow broker must never
// stall command dispatch behind a blocking publish.
type Bridge struct {
	broker  Broker
	session Controller
	topics  mqtt.Topics
	qos     byte
	logger  matrix.Logger

	queue chan matrix.Diff
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

// New creates a bridge between a session and an MQTT broker.
func New(broker Broker, session Controller, qos byte, logger matrix.Logger) *Bridge {
	return &Bridge{
		broker:  broker,
		session: session,
		qos:     qos,
		logger:  logger,
		queue:   make(chan matrix.Diff, publishQueueDepth),
		done:    make(chan struct{}),
	}
}

// Start subscribes to the command topic, launches the publish worker,
// and returns the diff callback to register with the state store.
func (b *Bridge) Start() (func(matrix.Diff), error) {
	if err := b.broker.Subscribe(b.topics.Command(), b.qos, b.handleCommand); err != nil {
		return nil, fmt.Errorf("subscribing to command topic: %w", err)
	}
	b.wg.Add(1)
	go b.run()
	return b.enqueueDiff, nil
}

// Close stops the publish worker after draining queued diffs.
func (b *Bridge) Close() {
	b.once.Do(func() { close(b.done) })
	b.wg.Wait()
}

// enqueueDiff hands one diff to the publish worker. Never blocks.
func (b *Bridge) enqueueDiff(diff matrix.Diff) {
	select {
	case b.queue <- diff:
	default:
		b.logWarn("publish queue full, dropping diff", "fields", len(diff))
	}
}

func (b *Bridge) run() {
	defer b.wg.Done()
	for {
		select {
		case diff := <-b.queue:
			b.publishDiff(diff)
		case <-b.done:
			// Drain what is already queued, then exit.
			for {
				select {
				case diff := <-b.queue:
					b.publishDiff(diff)
				default:
					return
				}
			}
		}
	}
}

// PublishSnapshot publishes the full retained snapshot document.
// Called on startup and after every diff so consumers can choose
// between per-field granularity and the whole document.
func (b *Bridge) PublishSnapshot() {
	snap := b.session.Snapshot()
	payload, err := json.Marshal(snap.View())
	if err != nil {
		b.logWarn("marshalling snapshot failed", "error", err)
		return
	}
	if err := b.broker.Publish(b.topics.StateSnapshot(), payload, b.qos, true); err != nil {
		b.logWarn("publishing snapshot failed", "error", err)
	}
}

// publishDiff mirrors one state diff: per-field retained values, the
// availability flag, and a refreshed snapshot document.
func (b *Bridge) publishDiff(diff matrix.Diff) {
	if !b.broker.IsConnected() {
		return
	}

	for field, value := range diff {
		if field == matrix.FieldAvailability {
			b.publishAvailability(value == true)
			continue
		}
		payload, err := json.Marshal(value)
		if err != nil {
			b.logWarn("marshalling field failed", "field", string(field))
			continue
		}
		topic := b.topics.StateField(string(field))
		if err := b.broker.Publish(topic, payload, b.qos, true); err != nil {
			b.logWarn("publishing state field failed", "topic", topic, "error", err)
		}
	}

	b.PublishSnapshot()
}

// publishAvailability publishes the retained online/offline marker.
func (b *Bridge) publishAvailability(online bool) {
	payload := payloadOffline
	if online {
		payload = payloadOnline
	}
	if err := b.broker.Publish(b.topics.SystemStatus(), []byte(payload), b.qos, true); err != nil {
		b.logWarn("publishing availability failed", "error", err)
	}
}

func (b *Bridge) logWarn(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, args...)
	}
}

func (b *Bridge) logDebug(msg string, args ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, args...)
	}
}
