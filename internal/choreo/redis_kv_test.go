package choreo_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokeshrajendiran/event-tide/internal/choreo"
)

func newTestRedisStore(t *testing.T) (*choreo.RedisKVStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})

	return choreo.NewRedisKVStore(client), mr
}

func TestRedisKVStore_SetIfAbsent(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	created, err := store.SetIfAbsent(ctx, "eventide:dedup:e1", "1", time.Hour)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.SetIfAbsent(ctx, "eventide:dedup:e1", "1", time.Hour)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestRedisKVStore_TTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	created, err := store.SetIfAbsent(ctx, "eventide:dedup:e1", "1", time.Minute)
	require.NoError(t, err)
	require.True(t, created)

	// Past the TTL the key is gone and the id counts as first sight again.
	mr.FastForward(2 * time.Minute)

	created, err = store.SetIfAbsent(ctx, "eventide:dedup:e1", "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestRedisKVStore_Delete(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore(t)

	created, err := store.SetIfAbsent(ctx, "eventide:dedup:e1", "1", time.Hour)
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, store.Delete(ctx, "eventide:dedup:e1"))

	created, err = store.SetIfAbsent(ctx, "eventide:dedup:e1", "1", time.Hour)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestDedupGate_OverRedis(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	gate := choreo.NewDedupGate(store)

	assert.False(t, gate.IsDuplicate(ctx, "e1"))
	assert.True(t, gate.IsDuplicate(ctx, "e1"))

	// The key carries the documented prefix.
	assert.True(t, mr.Exists("eventide:dedup:e1"))

	require.NoError(t, gate.Clear(ctx, "e1"))
	assert.False(t, mr.Exists("eventide:dedup:e1"))
	assert.False(t, gate.IsDuplicate(ctx, "e1"))
}
