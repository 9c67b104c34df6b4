package cache

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis and skips the test when none is
// running. The integration suite runs against a container instead.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewRedisStore_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisStore should panic with nil redis client")
		}
	}()
	NewRedisStore(nil)
}

func TestRedisStore(t *testing.T) {
	testStore(t, func(t *testing.T) Store {
		return NewRedisStore(setupTestRedis(t))
	})
}

func TestRedisStore_ExpiryIsApplied(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()

	key := CacheKey{URL: "https://origin.example/ttl"}
	entry := &CacheEntry{Data: []byte("x"), Expires: time.Now().Add(time.Minute)}
	if err := store.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	ttl, err := client.TTL(ctx, key.String()).Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("redis TTL = %v, want (0, 1m]", ttl)
	}
}

func TestRedisStore_InvalidEntry(t *testing.T) {
	client := setupTestRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()

	key := CacheKey{URL: "https://origin.example/garbage"}
	if err := client.Set(ctx, key.String(), "not json", time.Minute).Err(); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if _, err := store.Get(ctx, key); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("Get() error = %v, want ErrInvalidEntry", err)
	}
}

// testStore runs the behaviour every Store implementation shares.
func testStore(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("set and get", func(t *testing.T) {
		store := newStore(t)
		key := CacheKey{URL: "https://origin.example/header"}
		entry := &CacheEntry{
			Data:         []byte("<p>header</p>"),
			ETag:         `"abc123"`,
			Expires:      time.Now().Add(5 * time.Minute),
			LastModified: time.Now().Add(-1 * time.Hour),
			StatusCode:   200,
			Headers:      http.Header{"Content-Type": []string{"text/html"}},
			CachedAt:     time.Now(),
		}

		if err := store.Set(ctx, key, entry); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		got, err := store.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got.Data) != string(entry.Data) {
			t.Errorf("Data = %s, want %s", got.Data, entry.Data)
		}
		if got.ETag != entry.ETag {
			t.Errorf("ETag = %s, want %s", got.ETag, entry.ETag)
		}
		if got.StatusCode != entry.StatusCode {
			t.Errorf("StatusCode = %d, want %d", got.StatusCode, entry.StatusCode)
		}
	})

	t.Run("miss", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(ctx, CacheKey{URL: "https://origin.example/nonexistent"})
		if !errors.Is(err, ErrCacheMiss) {
			t.Errorf("Get() error = %v, want ErrCacheMiss", err)
		}
	})

	t.Run("vary separates viewers", func(t *testing.T) {
		store := newStore(t)
		url := "https://origin.example/cart"
		alice := CacheKey{URL: url, Vary: http.Header{"Cookie": {"u=alice"}}}
		bob := CacheKey{URL: url, Vary: http.Header{"Cookie": {"u=bob"}}}

		entry := &CacheEntry{Data: []byte("alice's cart"), Expires: time.Now().Add(time.Minute)}
		if err := store.Set(ctx, alice, entry); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if _, err := store.Get(ctx, bob); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("Get(bob) error = %v, want ErrCacheMiss", err)
		}
	})

	t.Run("expired entry without validators is not stored", func(t *testing.T) {
		store := newStore(t)
		key := CacheKey{URL: "https://origin.example/expired"}
		entry := &CacheEntry{Data: []byte("x"), Expires: time.Now().Add(-1 * time.Hour)}

		if err := store.Set(ctx, key, entry); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if _, err := store.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("Get() error = %v, want ErrCacheMiss", err)
		}
	})

	t.Run("stale entry with validators is kept", func(t *testing.T) {
		store := newStore(t)
		key := CacheKey{URL: "https://origin.example/stale"}
		entry := &CacheEntry{Data: []byte("x"), ETag: `"v1"`, Expires: time.Now().Add(-1 * time.Second)}

		if err := store.Set(ctx, key, entry); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		got, err := store.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !got.IsExpired() {
			t.Error("stale entry reported as fresh")
		}
	})

	t.Run("delete", func(t *testing.T) {
		store := newStore(t)
		key := CacheKey{URL: "https://origin.example/delete"}
		entry := &CacheEntry{Data: []byte("x"), Expires: time.Now().Add(5 * time.Minute)}

		if err := store.Set(ctx, key, entry); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		if err := store.Delete(ctx, key); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := store.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("Get() after Delete error = %v, want ErrCacheMiss", err)
		}
	})

	t.Run("nil entry", func(t *testing.T) {
		store := newStore(t)
		if err := store.Set(ctx, CacheKey{URL: "https://origin.example/nil"}, nil); err == nil {
			t.Error("Set with nil entry should return error")
		}
	})
}
