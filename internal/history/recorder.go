package history

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/matrix-core/internal/matrix"
)

// recordQueueDepth bounds the async write buffer. Diffs beyond this
// while SQLite is stalled are dropped with a warning; the history log
// is an audit trail, not a source of truth.
const recordQueueDepth = 256

// writeTimeout bounds a single history insert.
const writeTimeout = 5 * time.Second

// Recorder persists every published state diff as field transition rows.
//
// It subscribes to the store and writes asynchronously so a slow disk
// never blocks diff delivery to other subscribers.
type Recorder struct {
	repo   Repository
	logger matrix.Logger

	mu   sync.Mutex
	last map[matrix.FieldKey]string // last seen JSON value per field

	queue chan change
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

type change struct {
	field    string
	oldValue string
	newValue string
}

// NewRecorder creates a recorder writing to repo.
func NewRecorder(repo Repository, logger matrix.Logger) *Recorder {
	return &Recorder{
		repo:   repo,
		logger: logger,
		last:   make(map[matrix.FieldKey]string),
		queue:  make(chan change, recordQueueDepth),
		done:   make(chan struct{}),
	}
}

// Start launches the write worker and returns the diff callback to
// register with the store.
func (r *Recorder) Start() func(matrix.Diff) {
	r.wg.Add(1)
	go r.run()
	return r.Record
}

// Record enqueues one diff for persistence. Never blocks.
func (r *Recorder) Record(diff matrix.Diff) {
	r.mu.Lock()
	changes := make([]change, 0, len(diff))
	for field, value := range diff {
		if field == matrix.FieldAvailability {
			// Availability is session telemetry, not device state.
			continue
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			r.logWarn("skipping unencodable history value", "field", string(field))
			continue
		}
		newValue := string(encoded)
		oldValue := r.last[field]
		if oldValue == newValue {
			continue
		}
		r.last[field] = newValue
		changes = append(changes, change{field: string(field), oldValue: oldValue, newValue: newValue})
	}
	r.mu.Unlock()

	for _, c := range changes {
		select {
		case r.queue <- c:
		default:
			r.logWarn("history queue full, dropping change", "field", c.field)
		}
	}
}

// Close stops the worker after draining queued writes.
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.done) })
	r.wg.Wait()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case c := <-r.queue:
			r.write(c)
		case <-r.done:
			// Drain what is already queued, then exit.
			for {
				select {
				case c := <-r.queue:
					r.write(c)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(c change) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.repo.RecordChange(ctx, c.field, c.oldValue, c.newValue, SourceDevice); err != nil {
		r.logWarn("recording state change failed", "field", c.field, "error", err)
	}
}

func (r *Recorder) logWarn(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}
