package matrix

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Logger is the minimal logging surface the matrix package needs.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// FieldAvailability is a synthetic diff key reporting the session
// availability flag. It is not part of the snapshot field set; it
// appears in diffs only when availability flips.
const FieldAvailability FieldKey = "availability"

// defaultPendingTTL is how long an optimistic overlay stays visible
// while waiting for device confirmation.
const defaultPendingTTL = 10 * time.Second

// PendingChange is one optimistic overlay: a command's predicted effect
// on a single field, visible until confirmed, reverted, or expired.
type PendingChange struct {
	ID        string
	Field     FieldKey
	Predicted any
	ExpiresAt time.Time
}

// Store is the single source of truth for device state.
//
// It merges confirmed data (polls, acknowledgement echoes) with
// optimistic overlays, and notifies subscribers of net-visible diffs.
// All methods are safe for concurrent use; mutation happens only
// through Apply/ApplyOptimistic/ConfirmPending/Revert, so read
// snapshots never block on network I/O.
type Store struct {
	mu        sync.RWMutex
	confirmed Snapshot
	visible   Snapshot
	pending   map[FieldKey]*PendingChange
	available bool

	subs    map[int]func(Diff)
	nextSub int

	pendingTTL time.Duration
	logger     Logger
	now        func() time.Time
}

// NewStore creates a store primed with the pre-poll baseline snapshot.
// A pendingTTL of zero selects the default expiry window.
func NewStore(pendingTTL time.Duration, logger Logger) *Store {
	if pendingTTL <= 0 {
		pendingTTL = defaultPendingTTL
	}
	return &Store{
		confirmed:  defaultSnapshot(),
		visible:    defaultSnapshot(),
		pending:    make(map[FieldKey]*PendingChange),
		subs:       make(map[int]func(Diff)),
		pendingTTL: pendingTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// Snapshot returns an immutable point-in-time view: confirmed state
// plus live optimistic overlays.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visible
}

// Available reports the session availability flag.
func (s *Store) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.available
}

// PendingCount returns the number of live optimistic overlays.
func (s *Store) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pending)
}

// Subscribe registers a callback invoked with every net-visible diff.
// Callbacks run synchronously after each mutation, outside the store
// lock. The returned function unsubscribes.
func (s *Store) Subscribe(fn func(Diff)) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Apply merges confirmed fields from a poll or acknowledgement dump.
//
// Reconciliation per field: if a live overlay predicted the same value,
// the overlay is confirmed and cleared; if it predicted differently and
// is still within its expiry window, the optimistic value stays visible
// (the device may not have caught up yet); once expired, the confirmed
// value wins and the inconsistency is logged. Fields without overlays
// update directly. The whole merge is one atomic snapshot transition:
// subscribers see a single diff.
func (s *Store) Apply(fields map[FieldKey]any) {
	s.mu.Lock()
	prev := s.visible
	now := s.now()

	for key, value := range fields {
		if !s.confirmed.setField(key, value) {
			s.logWarn("dropping unusable field update", "field", string(key))
			continue
		}

		pc, ok := s.pending[key]
		switch {
		case !ok:
			s.visible.setField(key, value)
		case valuesEqual(pc.Predicted, value):
			// Prediction confirmed by ground truth.
			delete(s.pending, key)
			s.visible.setField(key, value)
		case now.After(pc.ExpiresAt):
			s.logWarn("optimistic change expired unconfirmed",
				"field", string(key), "predicted", pc.Predicted, "confirmed", value)
			delete(s.pending, key)
			s.visible.setField(key, value)
		default:
			// Overlay still fresh; keep the optimistic value visible.
		}
	}

	s.expireLocked(now)
	diff := diffSnapshots(&prev, &s.visible)
	subs := s.subscribers()
	s.mu.Unlock()

	notify(subs, diff)
}

// ApplyOptimistic registers a PendingChange for the field and makes the
// predicted value immediately visible. A live overlay on the same field
// is superseded. Returns the overlay ID used for ConfirmPending/Revert.
func (s *Store) ApplyOptimistic(field FieldKey, predicted any) string {
	s.mu.Lock()
	prev := s.visible

	if !s.visible.setField(field, predicted) {
		s.mu.Unlock()
		s.logWarn("rejecting optimistic change for unknown field", "field", string(field))
		return ""
	}

	id := uuid.NewString()
	s.pending[field] = &PendingChange{
		ID:        id,
		Field:     field,
		Predicted: predicted,
		ExpiresAt: s.now().Add(s.pendingTTL),
	}

	diff := diffSnapshots(&prev, &s.visible)
	subs := s.subscribers()
	s.mu.Unlock()

	notify(subs, diff)
	return id
}

// ConfirmPending resolves an overlay with the device's echoed value.
// The echo is authoritative: it becomes the confirmed value even when
// it differs from the prediction.
func (s *Store) ConfirmPending(id string, field FieldKey, value any) {
	s.mu.Lock()
	prev := s.visible

	if pc, ok := s.pending[field]; ok && pc.ID == id {
		delete(s.pending, field)
	}
	if s.confirmed.setField(field, value) {
		s.visible.setField(field, value)
	}

	diff := diffSnapshots(&prev, &s.visible)
	subs := s.subscribers()
	s.mu.Unlock()

	notify(subs, diff)
}

// Revert removes an overlay and restores the last confirmed value.
// No-op if the overlay was already confirmed or superseded.
func (s *Store) Revert(id string) {
	s.mu.Lock()
	prev := s.visible

	for field, pc := range s.pending {
		if pc.ID != id {
			continue
		}
		delete(s.pending, field)
		if confirmed, ok := s.confirmed.field(field); ok {
			s.visible.setField(field, confirmed)
		}
		break
	}

	diff := diffSnapshots(&prev, &s.visible)
	subs := s.subscribers()
	s.mu.Unlock()

	notify(subs, diff)
}

// SweepExpired clears overlays past their expiry window, restoring
// confirmed values. Called periodically by the poll coordinator.
func (s *Store) SweepExpired() {
	s.mu.Lock()
	prev := s.visible
	s.expireLocked(s.now())
	diff := diffSnapshots(&prev, &s.visible)
	subs := s.subscribers()
	s.mu.Unlock()

	notify(subs, diff)
}

// SetAvailable flips the availability flag. MarkUnavailable should be
// used for the false transition so link states degrade too.
func (s *Store) SetAvailable() {
	s.mu.Lock()
	changed := !s.available
	s.available = true
	subs := s.subscribers()
	s.mu.Unlock()

	if changed {
		notify(subs, Diff{FieldAvailability: true})
	}
}

// MarkUnavailable records session loss: the availability flag drops and
// every port's link status degrades to Unknown. The last known snapshot
// is otherwise retained.
func (s *Store) MarkUnavailable() {
	s.mu.Lock()
	prev := s.visible
	changed := s.available
	s.available = false

	for p := PortID(1); p <= NumPorts; p++ {
		s.confirmed.Inputs[p].Link = LinkUnknown
		s.confirmed.Outputs[p].Link = LinkUnknown
		s.visible.Inputs[p].Link = LinkUnknown
		s.visible.Outputs[p].Link = LinkUnknown
	}

	diff := diffSnapshots(&prev, &s.visible)
	if changed {
		if diff == nil {
			diff = make(Diff)
		}
		diff[FieldAvailability] = false
	}
	subs := s.subscribers()
	s.mu.Unlock()

	notify(subs, diff)
}

// expireLocked drops stale overlays. Caller holds the write lock.
func (s *Store) expireLocked(now time.Time) {
	for field, pc := range s.pending {
		if !now.After(pc.ExpiresAt) {
			continue
		}
		s.logWarn("optimistic change expired unconfirmed", "field", string(field),
			"predicted", pc.Predicted)
		delete(s.pending, field)
		if confirmed, ok := s.confirmed.field(field); ok {
			s.visible.setField(field, confirmed)
		}
	}
}

// subscribers copies the callback list. Caller holds the lock.
func (s *Store) subscribers() []func(Diff) {
	if len(s.subs) == 0 {
		return nil
	}
	out := make([]func(Diff), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

// notify delivers a diff to subscribers. Nothing is delivered for a
// no-op merge.
func notify(subs []func(Diff), diff Diff) {
	if len(diff) == 0 {
		return
	}
	for _, fn := range subs {
		fn(diff)
	}
}

// valuesEqual compares field values. All field types are comparable.
func valuesEqual(a, b any) bool {
	return a == b
}

func (s *Store) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
