package stores

import (
	"context"
	"errors"
	"testing"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	content := []byte("<algo name=\"Alltoall\" nchannels=\"1\"/>")
	put, err := store.PutArtifact(ctx, "one_host_ib_dgx1", 2, "Alltoall", content)
	if err != nil {
		t.Fatalf("PutArtifact failed: %v", err)
	}
	if put.ContentHash == "" {
		t.Error("content hash not set")
	}

	got, err := store.GetArtifact(ctx, "one_host_ib_dgx1", 2, "Alltoall")
	if err != nil {
		t.Fatalf("GetArtifact failed: %v", err)
	}
	if string(got.Content) != string(content) {
		t.Errorf("content = %q, want %q", got.Content, content)
	}
	if got.ContentHash != put.ContentHash {
		t.Errorf("hash = %q, want %q", got.ContentHash, put.ContentHash)
	}
}

func TestArtifactMissReturnsNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetArtifact(context.Background(), "unknown", 4, "Alltoall")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestArtifactUpsertReplacesContent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if _, err := store.PutArtifact(ctx, "one_host_ib_dgx1", 2, "Alltoall", []byte("v1")); err != nil {
		t.Fatalf("first PutArtifact failed: %v", err)
	}
	if _, err := store.PutArtifact(ctx, "one_host_ib_dgx1", 2, "Alltoall", []byte("v2")); err != nil {
		t.Fatalf("second PutArtifact failed: %v", err)
	}

	got, err := store.GetArtifact(ctx, "one_host_ib_dgx1", 2, "Alltoall")
	if err != nil {
		t.Fatalf("GetArtifact failed: %v", err)
	}
	if string(got.Content) != "v2" {
		t.Errorf("content = %q, want v2", got.Content)
	}

	all, err := store.ListArtifacts(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListArtifacts failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("artifact count = %d, want 1", len(all))
	}
}

func TestPurgeArtifacts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, collective := range []string{"Alltoall", "Allgather"} {
		if _, err := store.PutArtifact(ctx, "one_host_ib_dgx1", 2, collective, []byte("x")); err != nil {
			t.Fatalf("PutArtifact failed: %v", err)
		}
	}

	n, err := store.PurgeArtifacts(ctx)
	if err != nil {
		t.Fatalf("PurgeArtifacts failed: %v", err)
	}
	if n != 2 {
		t.Errorf("purged = %d, want 2", n)
	}
}

func TestDeleteArtifact(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	art, err := store.PutArtifact(ctx, "one_host_ib_dgx1", 2, "Alltoall", []byte("x"))
	if err != nil {
		t.Fatalf("PutArtifact failed: %v", err)
	}

	if err := store.DeleteArtifact(ctx, art.ID); err != nil {
		t.Fatalf("DeleteArtifact failed: %v", err)
	}
	if err := store.DeleteArtifact(ctx, art.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := &Run{
		Tier:      "elastic",
		Rank:      0,
		WorldSize: 2,
		Archetype: "one_host_ib_dgx1",
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if run.ID == "" {
		t.Fatal("run ID not generated")
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != RunStatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}

	if err := store.CompleteRun(ctx, run.ID, RunStatusCompleted, true, nil); err != nil {
		t.Fatalf("CompleteRun failed: %v", err)
	}

	got, err = store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun after complete failed: %v", err)
	}
	if got.Status != RunStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if !got.CacheHit {
		t.Error("cache hit not recorded")
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestCompleteRunUnknownID(t *testing.T) {
	store := setupTestStore(t)

	err := store.CompleteRun(context.Background(), "missing", RunStatusFailed, false, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestListRunsOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		run := &Run{Tier: "bare", Rank: i, WorldSize: 3, Archetype: "unknown"}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}

	runs, err := store.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("run count = %d, want 2", len(runs))
	}
}
