package membership

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisProgressStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisProgressStore(client)
	ctx := context.Background()

	p := Progress{
		RunID:     "run-1",
		Total:     3,
		Completed: 2,
		Success:   1,
		Failed:    1,
		Errors:    []BulkError{{MembershipID: "m2", Message: "storage unavailable"}},
	}
	require.NoError(t, store.Publish(ctx, p))

	got, err := store.Fetch(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, p, got)

	// Later snapshots overwrite earlier ones.
	p.Completed = 3
	p.Done = true
	require.NoError(t, store.Publish(ctx, p))
	got, err = store.Fetch(ctx, "run-1")
	require.NoError(t, err)
	require.True(t, got.Done)
	require.Equal(t, 3, got.Completed)
}

func TestRedisProgressStoreUnknownRun(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisProgressStore(client)
	_, err := store.Fetch(context.Background(), "nope")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestRedisProgressStoreExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisProgressStore(client)
	ctx := context.Background()
	require.NoError(t, store.Publish(ctx, Progress{RunID: "run-1", Total: 1}))

	mr.FastForward(progressTTL + 1)
	_, err := store.Fetch(ctx, "run-1")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestMemoryProgressStore(t *testing.T) {
	store := NewMemoryProgressStore()
	ctx := context.Background()

	_, err := store.Fetch(ctx, "run-1")
	require.ErrorIs(t, err, ErrRunNotFound)

	require.NoError(t, store.Publish(ctx, Progress{RunID: "run-1", Total: 2, Completed: 1}))
	got, err := store.Fetch(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, 1, got.Completed)
}
