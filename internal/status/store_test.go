package status

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"cocowallet-sync/internal/models"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, time.Hour), mr
}

func TestSetGetRoundtrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	in := models.SyncSnapshot{Status: models.SyncRunning, Progress: 42, Message: "processed 42/100 tokens"}
	if err := store.Set(ctx, "token-metadata", in); err != nil {
		t.Fatalf("set: %v", err)
	}

	out, err := store.Get(ctx, "token-metadata")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Status != in.Status || out.Progress != in.Progress || out.Message != in.Message {
		t.Fatalf("roundtrip mismatch: got %+v", out)
	}
	if out.Timestamp == "" {
		t.Fatal("expected timestamp to be stamped on write")
	}
}

func TestGetMissingReadsAsIdle(t *testing.T) {
	store, _ := newTestStore(t)

	snap, err := store.Get(context.Background(), "never-started")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Status != models.SyncIdle || snap.Progress != 0 {
		t.Fatalf("expected idle snapshot, got %+v", snap)
	}
}

func TestSnapshotExpires(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	if err := store.Set(ctx, "token-index", models.SyncSnapshot{Status: models.SyncRunning}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if ttl := mr.TTL(keyPrefix + "token-index"); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("expected ttl in (0, 1h], got %s", ttl)
	}

	mr.FastForward(2 * time.Hour)
	snap, err := store.Get(ctx, "token-index")
	if err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if snap.Status != models.SyncIdle {
		t.Fatalf("expected expired snapshot to read as idle, got %q", snap.Status)
	}
}
