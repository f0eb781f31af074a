//go:build integration

package storage

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/HatiCode/chondrosurv/pkg/session"
)

// setupRedisContainer starts a Redis container for testing
func setupRedisContainer(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	redisContainer, err := redis.Run(ctx,
		"redis:7-alpine",
		redis.WithLogLevel(redis.LogLevelVerbose),
	)
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(redisContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := redisContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}

	return strings.TrimPrefix(endpoint, "redis://")
}

func newRedisStore(t *testing.T, ttl time.Duration) *RedisStore {
	t.Helper()
	store, err := NewRedisStore(setupRedisContainer(t), "", 0, ttl)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStore_NewRedisStore_Success(t *testing.T) {
	store := newRedisStore(t, time.Minute)

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestRedisStore_NewRedisStore_InvalidArgs(t *testing.T) {
	if _, err := NewRedisStore("", "", 0, time.Minute); err == nil || err.Error() != "redis address cannot be empty" {
		t.Errorf("empty address: unexpected error %v", err)
	}
	if _, err := NewRedisStore("localhost:6379", "", -1, time.Minute); err == nil || err.Error() != "redis database number must be >= 0" {
		t.Errorf("negative db: unexpected error %v", err)
	}
	if _, err := NewRedisStore("invalid:99999", "", 0, time.Minute); err == nil {
		t.Error("expected error for invalid address, got nil")
	}
}

func TestRedisStore_PutGet(t *testing.T) {
	store := newRedisStore(t, time.Minute)
	ctx := context.Background()

	original := newTestSession(t, "abc-123", 3)
	original.SetDisplay(session.DisplaySingle)

	if err := store.Put(ctx, original); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	exists, err := store.client.Exists(ctx, "chondrosurv:session:abc-123").Result()
	if err != nil {
		t.Fatalf("failed to check key existence: %v", err)
	}
	if exists != 1 {
		t.Error("expected key to exist in Redis")
	}

	got, found, err := store.Get(ctx, "abc-123")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("expected session to be found")
	}
	if got.Len() != 3 || got.NextNo != 4 {
		t.Errorf("got %d records, NextNo %d; want 3, 4", got.Len(), got.NextNo)
	}
	if got.Display != session.DisplaySingle {
		t.Errorf("Display = %q, want single", got.Display)
	}
	if got.Records[2].FiveYear != original.Records[2].FiveYear {
		t.Errorf("FiveYear = %v, want %v", got.Records[2].FiveYear, original.Records[2].FiveYear)
	}
	if got.Records[0].Inputs["Age"] != "40" {
		t.Errorf("Inputs[Age] = %q, want 40", got.Records[0].Inputs["Age"])
	}
}

func TestRedisStore_Get_NotFound(t *testing.T) {
	store := newRedisStore(t, time.Minute)

	_, found, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Error("expected session not to be found")
	}
}

func TestRedisStore_InvalidID(t *testing.T) {
	store := newRedisStore(t, time.Minute)
	ctx := context.Background()

	if err := store.Put(ctx, session.New("invalid/id")); err == nil {
		t.Error("expected error for invalid id on Put")
	}
	if _, _, err := store.Get(ctx, ""); err == nil {
		t.Error("expected error for empty id on Get")
	}
	if err := store.Delete(ctx, "a b"); err == nil {
		t.Error("expected error for invalid id on Delete")
	}
}

func TestRedisStore_Delete(t *testing.T) {
	store := newRedisStore(t, time.Minute)
	ctx := context.Background()

	if err := store.Put(ctx, session.New("to-delete")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Delete(ctx, "to-delete"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, found, _ := store.Get(ctx, "to-delete"); found {
		t.Error("session still present after Delete")
	}
}

func TestRedisStore_TTL(t *testing.T) {
	store := newRedisStore(t, 2*time.Second)
	ctx := context.Background()

	if err := store.Put(ctx, session.New("ttl-test")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	ttl, err := store.client.TTL(ctx, "chondrosurv:session:ttl-test").Result()
	if err != nil {
		t.Fatalf("failed to read TTL: %v", err)
	}
	if ttl <= 0 || ttl > 2*time.Second {
		t.Errorf("TTL = %v, want (0, 2s]", ttl)
	}

	time.Sleep(3 * time.Second)

	if _, found, _ := store.Get(ctx, "ttl-test"); found {
		t.Error("session should have expired")
	}
}

func TestRedisStore_Concurrent(t *testing.T) {
	store := newRedisStore(t, time.Minute)
	ctx := context.Background()

	sessions := make([]*session.Session, 10)
	for i := range sessions {
		sessions[i] = newTestSession(t, "concurrent-"+string(rune('a'+i)), i+1)
	}

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *session.Session) {
			defer wg.Done()
			if err := store.Put(ctx, s); err != nil {
				t.Errorf("Put failed: %v", err)
			}
		}(s)
	}
	wg.Wait()

	for i := range 10 {
		got, found, err := store.Get(ctx, "concurrent-"+string(rune('a'+i)))
		if err != nil || !found {
			t.Fatalf("Get(%d) found=%v err=%v", i, found, err)
		}
		if got.Len() != i+1 {
			t.Errorf("session %d has %d records, want %d", i, got.Len(), i+1)
		}
	}
}

func TestRedisStore_CloseIdempotent(t *testing.T) {
	store, err := NewRedisStore(setupRedisContainer(t), "", 0, time.Minute)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
