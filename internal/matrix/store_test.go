package matrix

import (
	"testing"
	"time"
)

// testStore returns a store with a controllable clock.
func testStore(t *testing.T, ttl time.Duration) (*Store, *time.Time) {
	t.Helper()
	s := NewStore(ttl, nil)
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

// TestStore_OptimisticVisibleImmediately verifies a predicted value is
// visible in snapshots before any device response.
func TestStore_OptimisticVisibleImmediately(t *testing.T) {
	s, _ := testStore(t, time.Second)

	id := s.ApplyOptimistic(RoutingField(1), PortID(5))
	if id == "" {
		t.Fatal("ApplyOptimistic returned empty id")
	}

	if got := s.Snapshot().Routing[1]; got != 5 {
		t.Errorf("visible routing = %d, want 5", got)
	}
	if s.PendingCount() != 1 {
		t.Errorf("pending count = %d, want 1", s.PendingCount())
	}
}

// TestStore_ApplyConfirmsMatchingPrediction verifies a poll that agrees
// with a live overlay clears it.
func TestStore_ApplyConfirmsMatchingPrediction(t *testing.T) {
	s, _ := testStore(t, time.Second)

	s.ApplyOptimistic(RoutingField(2), PortID(3))
	s.Apply(map[FieldKey]any{RoutingField(2): PortID(3)})

	if s.PendingCount() != 0 {
		t.Errorf("pending count = %d, want 0", s.PendingCount())
	}
	if got := s.Snapshot().Routing[2]; got != 3 {
		t.Errorf("routing = %d, want 3", got)
	}
}

// TestStore_ApplyKeepsFreshOverlay verifies a disagreeing poll does not
// clobber an overlay still inside its expiry window.
func TestStore_ApplyKeepsFreshOverlay(t *testing.T) {
	s, _ := testStore(t, time.Minute)

	s.ApplyOptimistic(RoutingField(1), PortID(7))
	s.Apply(map[FieldKey]any{RoutingField(1): PortID(1)}) // device not caught up yet

	if got := s.Snapshot().Routing[1]; got != 7 {
		t.Errorf("visible routing = %d, want optimistic 7", got)
	}
	if s.PendingCount() != 1 {
		t.Errorf("pending count = %d, want 1", s.PendingCount())
	}
}

// TestStore_ApplyExpiredOverlayConfirmedWins verifies the confirmed
// value takes over once a prediction's window has lapsed.
func TestStore_ApplyExpiredOverlayConfirmedWins(t *testing.T) {
	s, now := testStore(t, time.Second)

	s.ApplyOptimistic(RoutingField(1), PortID(7))
	*now = now.Add(2 * time.Second)
	s.Apply(map[FieldKey]any{RoutingField(1): PortID(2)})

	if got := s.Snapshot().Routing[1]; got != 2 {
		t.Errorf("visible routing = %d, want confirmed 2", got)
	}
	if s.PendingCount() != 0 {
		t.Errorf("pending count = %d, want 0", s.PendingCount())
	}
}

// TestStore_SupersedingOverlay verifies a second optimistic change for
// the same field replaces the first, and the stale id cannot revert.
func TestStore_SupersedingOverlay(t *testing.T) {
	s, _ := testStore(t, time.Minute)

	first := s.ApplyOptimistic(RoutingField(4), PortID(2))
	second := s.ApplyOptimistic(RoutingField(4), PortID(6))

	if s.PendingCount() != 1 {
		t.Fatalf("pending count = %d, want 1", s.PendingCount())
	}

	s.Revert(first) // superseded, must be a no-op
	if got := s.Snapshot().Routing[4]; got != 6 {
		t.Errorf("routing after stale revert = %d, want 6", got)
	}

	s.Revert(second)
	if got := s.Snapshot().Routing[4]; got != 4 {
		t.Errorf("routing after revert = %d, want confirmed 4", got)
	}
}

// TestStore_ConfirmPendingEchoAuthoritative verifies the device echo
// becomes the confirmed value even when it differs from the prediction.
func TestStore_ConfirmPendingEchoAuthoritative(t *testing.T) {
	s, _ := testStore(t, time.Minute)

	id := s.ApplyOptimistic(RoutingField(3), PortID(5))
	s.ConfirmPending(id, RoutingField(3), PortID(6))

	if got := s.Snapshot().Routing[3]; got != 6 {
		t.Errorf("routing = %d, want echoed 6", got)
	}
	if s.PendingCount() != 0 {
		t.Errorf("pending count = %d, want 0", s.PendingCount())
	}
}

// TestStore_SweepExpired verifies expired overlays revert to confirmed
// values on sweep.
func TestStore_SweepExpired(t *testing.T) {
	s, now := testStore(t, time.Second)

	s.ApplyOptimistic(FieldPower, true)
	*now = now.Add(2 * time.Second)
	s.SweepExpired()

	if s.Snapshot().Power {
		t.Error("power still true after expired overlay swept")
	}
	if s.PendingCount() != 0 {
		t.Errorf("pending count = %d, want 0", s.PendingCount())
	}
}

// TestStore_SubscriberDiffs verifies subscribers see only net-visible
// changes and nothing for no-op merges.
func TestStore_SubscriberDiffs(t *testing.T) {
	s, _ := testStore(t, time.Minute)

	var diffs []Diff
	unsubscribe := s.Subscribe(func(d Diff) { diffs = append(diffs, d) })

	s.Apply(map[FieldKey]any{RoutingField(1): PortID(4), FieldBeep: true})
	if len(diffs) != 1 {
		t.Fatalf("diff count = %d, want 1", len(diffs))
	}
	if len(diffs[0]) != 2 {
		t.Errorf("diff size = %d, want 2", len(diffs[0]))
	}
	if diffs[0][RoutingField(1)] != PortID(4) {
		t.Errorf("diff routing = %#v, want PortID(4)", diffs[0][RoutingField(1)])
	}

	// Same values again: no-op merge, no callback.
	s.Apply(map[FieldKey]any{RoutingField(1): PortID(4), FieldBeep: true})
	if len(diffs) != 1 {
		t.Errorf("diff count after no-op = %d, want 1", len(diffs))
	}

	unsubscribe()
	s.Apply(map[FieldKey]any{FieldBeep: false})
	if len(diffs) != 1 {
		t.Errorf("diff count after unsubscribe = %d, want 1", len(diffs))
	}
}

// TestStore_MarkUnavailable verifies session loss degrades link states
// to Unknown, flips availability, and retains the rest of the snapshot.
func TestStore_MarkUnavailable(t *testing.T) {
	s, _ := testStore(t, time.Minute)

	s.SetAvailable()
	s.Apply(map[FieldKey]any{
		RoutingField(1):               PortID(5),
		InputField(1, settingLink):    LinkConnected,
		OutputField(2, settingLink):   LinkSyncing,
		OutputField(2, settingStream): true,
	})

	var last Diff
	s.Subscribe(func(d Diff) { last = d })

	s.MarkUnavailable()

	if s.Available() {
		t.Error("store still available")
	}
	snap := s.Snapshot()
	if snap.Inputs[1].Link != LinkUnknown || snap.Outputs[2].Link != LinkUnknown {
		t.Error("link states not degraded to Unknown")
	}
	if snap.Routing[1] != 5 || !snap.Outputs[2].Stream {
		t.Error("last known snapshot was discarded")
	}
	if last[FieldAvailability] != false {
		t.Errorf("availability diff = %#v, want false", last[FieldAvailability])
	}
}

// TestStore_ApplyRejectsWrongType verifies a value of the wrong dynamic
// type is dropped without corrupting the snapshot.
func TestStore_ApplyRejectsWrongType(t *testing.T) {
	s, _ := testStore(t, time.Minute)

	s.Apply(map[FieldKey]any{FieldPower: "definitely not a bool"})
	if s.Snapshot().Power {
		t.Error("power changed by mistyped value")
	}
}
