package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"patrol-hub/config"
	"patrol-hub/core/incident"
	"patrol-hub/core/utils"
)

func setupStoreDB(t *testing.T) *syncStore {
	t.Helper()
	cfg := &config.AppConfig{DBPath: filepath.Join(t.TempDir(), "store.db")}
	logger := utils.NewLogger()
	db, err := NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return &syncStore{db: db}
}

func sampleState(keys ...string) *TrackerState {
	st := &TrackerState{}
	for i, key := range keys {
		rec := incident.Record{
			RemoteKey:  key,
			DisplayID:  fmt.Sprintf("INC-20231114-%03d", i+1),
			OccurredAt: 1700000000000 + int64(i)*1000,
			Status:     "open",
		}
		rec.Fingerprint = incident.ComputeFingerprint(rec)
		st.Unviewed = append(st.Unviewed, rec)
	}
	return st
}

func TestSaveStateBumpsRevision(t *testing.T) {
	s := setupStoreDB(t)
	ctx := context.Background()

	rev1, err := s.SaveState(ctx, sampleState("-K1"), "writer-a")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	rev2, err := s.SaveState(ctx, sampleState("-K1", "-K2"), "writer-b")
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if rev2 != rev1+1 {
		t.Fatalf("revisions not monotonic: %d then %d", rev1, rev2)
	}

	rev, writer, err := s.CurrentRevision(ctx)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if rev != rev2 || writer != "writer-b" {
		t.Fatalf("current = (%d, %q), want (%d, writer-b)", rev, writer, rev2)
	}
}

func TestLoadStateRoundTrip(t *testing.T) {
	s := setupStoreDB(t)
	ctx := context.Background()

	in := sampleState("-Ka", "-Kb")
	in.PreCleared = []string{"-Kold"}
	in.LastClearAt = 1699999000000
	if _, err := s.SaveState(ctx, in, "writer-a"); err != nil {
		t.Fatalf("save: %v", err)
	}

	out, err := s.LoadState(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out.Unviewed) != 2 {
		t.Fatalf("unviewed len = %d, want 2", len(out.Unviewed))
	}
	// Stored newest first.
	if out.Unviewed[0].RemoteKey != "-Kb" || out.Unviewed[1].RemoteKey != "-Ka" {
		t.Fatalf("order: %q, %q", out.Unviewed[0].RemoteKey, out.Unviewed[1].RemoteKey)
	}
	if out.Unviewed[0].Fingerprint == "" || out.Unviewed[0].DisplayID == "" {
		t.Fatal("snapshot fields lost in round trip")
	}
	if len(out.PreCleared) != 1 || out.PreCleared[0] != "-Kold" {
		t.Fatalf("precleared = %v", out.PreCleared)
	}
	if out.LastClearAt != in.LastClearAt {
		t.Fatalf("lastClearAt = %d, want %d", out.LastClearAt, in.LastClearAt)
	}
	if out.Revision == 0 {
		t.Fatal("revision not loaded")
	}
}

func TestSaveStateReplacesNotMerges(t *testing.T) {
	s := setupStoreDB(t)
	ctx := context.Background()
	if _, err := s.SaveState(ctx, sampleState("-K1", "-K2", "-K3"), "w"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.SaveState(ctx, sampleState("-K2"), "w"); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := s.LoadState(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out.Unviewed) != 1 || out.Unviewed[0].RemoteKey != "-K2" {
		t.Fatalf("state not replaced: %v", out.Unviewed)
	}
}

func TestEmptyStoreLoadsZeroState(t *testing.T) {
	s := setupStoreDB(t)
	out, err := s.LoadState(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.Revision != 0 || len(out.Unviewed) != 0 || out.LastClearAt != 0 {
		t.Fatalf("fresh store not zero: %+v", out)
	}
	rev, writer, err := s.CurrentRevision(context.Background())
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if rev != 0 || writer != "" {
		t.Fatalf("fresh revision = (%d, %q)", rev, writer)
	}
}

func TestListAndPruneEnvelopes(t *testing.T) {
	s := setupStoreDB(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := s.SaveState(ctx, sampleState(fmt.Sprintf("-K%d", i)), "w"); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	envs, err := s.ListEnvelopes(ctx, 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(envs) != 3 {
		t.Fatalf("list len = %d, want 3", len(envs))
	}
	if envs[0].Revision != 10 || envs[2].Revision != 8 {
		t.Fatalf("list not newest first: %d..%d", envs[0].Revision, envs[2].Revision)
	}
	if len(envs[0].Keys) != 1 {
		t.Fatalf("payload keys = %v", envs[0].Keys)
	}

	pruned, err := s.PruneEnvelopes(ctx, 4)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 6 {
		t.Fatalf("pruned %d, want 6", pruned)
	}
	rest, err := s.ListEnvelopes(ctx, 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rest) != 4 || rest[len(rest)-1].Revision != 7 {
		t.Fatalf("after prune: %d envelopes, oldest %d", len(rest), rest[len(rest)-1].Revision)
	}
}

func TestAssignDisplayIDTransactional(t *testing.T) {
	s := setupStoreDB(t)
	ids := NewIdentityStore(s.db)
	ctx := context.Background()

	build := func(seq int64) string { return fmt.Sprintf("INC-%03d", seq) }
	first, seq, err := ids.AssignDisplayID(ctx, "-K1", build)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if first != "INC-001" || seq != 1 {
		t.Fatalf("first assign = (%q, %d)", first, seq)
	}

	// Second call for the same key returns the stored id without a bump.
	again, seq2, err := ids.AssignDisplayID(ctx, "-K1", build)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if again != first || seq2 != 0 {
		t.Fatalf("reassign = (%q, %d), want (%q, 0)", again, seq2, first)
	}

	second, seq3, err := ids.AssignDisplayID(ctx, "-K2", build)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if second != "INC-002" || seq3 != 2 {
		t.Fatalf("second assign = (%q, %d)", second, seq3)
	}

	mapping, counter, err := ids.LoadAll(ctx)
	if err != nil {
		t.Fatalf("loadall: %v", err)
	}
	if len(mapping) != 2 || mapping["-K2"] != "INC-002" || counter != 2 {
		t.Fatalf("loadall = (%v, %d)", mapping, counter)
	}

	if got, err := ids.GetDisplayID(ctx, "-Kmissing"); err != nil || got != "" {
		t.Fatalf("missing key = (%q, %v), want empty", got, err)
	}
}
