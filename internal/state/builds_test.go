package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *BuildStore {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	db, err := Open(ctx, Config{Path: filepath.Join(t.TempDir(), "state.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewBuildStore(ctx, db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestBuildStoreRecordAndHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &BuildRecord{
		Project:   "docproc",
		Pipeline:  "api",
		ImageRef:  "stagemill/docproc:aaaa",
		ImageID:   "sha256:aaa",
		CacheHit:  false,
		Duration:  90 * time.Second,
		CreatedAt: time.Now().Add(-time.Hour),
	}
	if err := store.Record(ctx, first); err != nil {
		t.Fatalf("record: %v", err)
	}
	if first.ID == 0 {
		t.Fatal("record did not set ID")
	}

	second := &BuildRecord{
		Project:  "docproc",
		Pipeline: "api",
		ImageRef: "stagemill/docproc:aaaa",
		ImageID:  "sha256:aaa",
		CacheHit: true,
		Duration: 2 * time.Second,
	}
	if err := store.Record(ctx, second); err != nil {
		t.Fatalf("record: %v", err)
	}

	history, err := store.History(ctx, "docproc", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d records, want 2", len(history))
	}
	if !history[0].CacheHit || history[1].CacheHit {
		t.Fatal("history not ordered newest first")
	}
	if history[1].Duration != 90*time.Second {
		t.Fatalf("got duration %v, want 90s", history[1].Duration)
	}
}

func TestBuildStoreHistoryFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, project := range []string{"alpha", "beta", "alpha"} {
		err := store.Record(ctx, &BuildRecord{
			Project:  project,
			Pipeline: "api",
			ImageRef: "stagemill/" + project + ":x",
			ImageID:  "sha256:x",
		})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	alpha, err := store.History(ctx, "alpha", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(alpha) != 2 {
		t.Fatalf("got %d alpha records, want 2", len(alpha))
	}

	all, err := store.History(ctx, "", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d records, want 3", len(all))
	}

	limited, err := store.History(ctx, "", 1)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("got %d records, want 1", len(limited))
	}
}
