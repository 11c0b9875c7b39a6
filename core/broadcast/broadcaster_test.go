package broadcast

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"patrol-hub/config"
	"patrol-hub/core/incident"
	"patrol-hub/core/store"
	"patrol-hub/core/tracker"
	"patrol-hub/core/utils"
)

func newSharedSyncStore(t *testing.T) store.SyncStore {
	t.Helper()
	cfg := &config.AppConfig{DBPath: filepath.Join(t.TempDir(), "shared.db")}
	logger := utils.NewLogger()
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.NewSyncStore(db)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPeerSessionsConverge(t *testing.T) {
	st := newSharedSyncStore(t)
	logger := utils.NewLogger()

	tokenA := NewSessionToken()
	tokenB := NewSessionToken()
	trackerA := tracker.NewTracker(st, tokenA, logger)
	trackerB := tracker.NewTracker(st, tokenB, logger)

	casterB := NewBroadcaster(st, tokenB, 10*time.Millisecond, logger)
	casterB.OnPeerChange(func(ctx context.Context) { trackerB.Reload(ctx) })
	casterB.StartWithContext(context.Background())
	t.Cleanup(casterB.Stop)

	added := incident.Record{RemoteKey: "-Kx", OccurredAt: 1700000000000, Status: "open"}
	added.Fingerprint = incident.ComputeFingerprint(added)
	trackerA.AddIncident(context.Background(), added)

	waitFor(t, func() bool { return trackerB.Count() == 1 }, "session B never observed session A's write")
	if trackerB.Unviewed()[0].RemoteKey != "-Kx" {
		t.Fatalf("converged state wrong: %+v", trackerB.Unviewed())
	}

	// And the other direction: B clears, A reloads through its own caster.
	casterA := NewBroadcaster(st, tokenA, 10*time.Millisecond, logger)
	casterA.OnPeerChange(func(ctx context.Context) { trackerA.Reload(ctx) })
	casterA.StartWithContext(context.Background())
	t.Cleanup(casterA.Stop)

	trackerB.ClearAll(context.Background())
	waitFor(t, func() bool { return trackerA.Count() == 0 }, "session A never observed session B's clear")
	waitFor(t, func() bool { return trackerA.IsPreCleared("-Kx") }, "pre-cleared set did not propagate")
}

func TestOwnWritesDoNotSelfNotify(t *testing.T) {
	st := newSharedSyncStore(t)
	logger := utils.NewLogger()

	token := NewSessionToken()
	trk := tracker.NewTracker(st, token, logger)

	var fired atomic.Int64
	caster := NewBroadcaster(st, token, 10*time.Millisecond, logger)
	caster.OnPeerChange(func(context.Context) { fired.Add(1) })
	caster.StartWithContext(context.Background())
	t.Cleanup(caster.Stop)

	rec := incident.Record{RemoteKey: "-Kself", OccurredAt: 1700000000000}
	rec.Fingerprint = incident.ComputeFingerprint(rec)
	trk.AddIncident(context.Background(), rec)

	time.Sleep(100 * time.Millisecond)
	if n := fired.Load(); n != 0 {
		t.Fatalf("own write echoed back %d times", n)
	}
}

func TestBroadcasterStopIsIdempotent(t *testing.T) {
	caster := NewBroadcaster(newSharedSyncStore(t), NewSessionToken(), 10*time.Millisecond, utils.NewLogger())
	caster.StartWithContext(context.Background())
	caster.Stop()
	caster.Stop()
	if err := caster.StopWithContext(context.Background()); err != nil {
		t.Fatalf("repeat stop: %v", err)
	}
}

func TestSessionStateFlags(t *testing.T) {
	s := NewSessionState()
	if s.Get("panel_open") {
		t.Fatal("fresh state should default to false")
	}

	var notified int
	s.Subscribe(func(key string, value bool) { notified++ })

	s.Set("panel_open", true)
	if !s.Get("panel_open") {
		t.Fatal("flag not set")
	}
	if notified != 1 {
		t.Fatalf("subscriber fired %d times, want 1", notified)
	}

	// Setting the same value again must not re-notify.
	s.Set("panel_open", true)
	if notified != 1 {
		t.Fatalf("no-op set re-notified (count %d)", notified)
	}

	s.Set("panel_open", false)
	if s.Get("panel_open") || notified != 2 {
		t.Fatalf("toggle off failed: value=%v notified=%d", s.Get("panel_open"), notified)
	}
}
