package choreo_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lokeshrajendiran/event-tide/internal/choreo"
)

// failingKVStore always errors, to exercise the gate's failure policy.
type failingKVStore struct{}

func (failingKVStore) SetIfAbsent(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("kv unavailable")
}

func (failingKVStore) Delete(context.Context, string) error {
	return errors.New("kv unavailable")
}

func TestDedupGate_FirstSightAndDuplicate(t *testing.T) {
	ctx := context.Background()
	gate := choreo.NewDedupGate(choreo.NewMemoryKVStore())

	assert.False(t, gate.IsDuplicate(ctx, "evt-1"), "first sight must pass")
	assert.True(t, gate.IsDuplicate(ctx, "evt-1"), "second sight must be blocked")
	assert.False(t, gate.IsDuplicate(ctx, "evt-2"), "other ids are independent")
}

func TestDedupGate_BlankIDBypasses(t *testing.T) {
	ctx := context.Background()
	gate := choreo.NewDedupGate(failingKVStore{})

	// A blank id must not even touch the store; the failing store would
	// otherwise surface.
	assert.False(t, gate.IsDuplicate(ctx, ""))
	require.NoError(t, gate.Clear(ctx, ""))
}

func TestDedupGate_Clear(t *testing.T) {
	ctx := context.Background()
	gate := choreo.NewDedupGate(choreo.NewMemoryKVStore())

	assert.False(t, gate.IsDuplicate(ctx, "evt-1"))
	assert.True(t, gate.IsDuplicate(ctx, "evt-1"))

	require.NoError(t, gate.Clear(ctx, "evt-1"))

	assert.False(t, gate.IsDuplicate(ctx, "evt-1"), "cleared id passes the gate again")
}

func TestDedupGate_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	gate := choreo.NewDedupGate(
		choreo.NewMemoryKVStore(),
		choreo.WithDedupTTL(10*time.Millisecond),
	)

	assert.False(t, gate.IsDuplicate(ctx, "evt-1"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, gate.IsDuplicate(ctx, "evt-1"), "expired key counts as first sight")
}

func TestDedupGate_ConcurrentFirstSight(t *testing.T) {
	ctx := context.Background()
	gate := choreo.NewDedupGate(choreo.NewMemoryKVStore())

	const workers = 32
	var passed atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if !gate.IsDuplicate(ctx, "contended") {
				passed.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), passed.Load(), "exactly one concurrent caller passes the gate")
}

func TestDedupGate_FailurePolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("fail-open by default", func(t *testing.T) {
		gate := choreo.NewDedupGate(failingKVStore{})
		assert.False(t, gate.IsDuplicate(ctx, "evt-1"), "KV errors must not drop events")
	})

	t.Run("fail-closed when configured", func(t *testing.T) {
		gate := choreo.NewDedupGate(failingKVStore{}, choreo.WithDedupFailClosed(true))
		assert.True(t, gate.IsDuplicate(ctx, "evt-1"))
	})
}

func TestMemoryKVStore_SetIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := choreo.NewMemoryKVStore()

	created, err := store.SetIfAbsent(ctx, "k", "1", time.Hour)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.SetIfAbsent(ctx, "k", "2", time.Hour)
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, store.Delete(ctx, "k"))

	created, err = store.SetIfAbsent(ctx, "k", "3", time.Hour)
	require.NoError(t, err)
	assert.True(t, created)
}
