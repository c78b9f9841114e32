//go:build !integration

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/marcelsud/webhook-dispatch/webhook/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T) (*redis.Coordinator, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	opts, err := goredis.ParseURL("redis://" + mr.Addr())
	require.NoError(t, err)
	client := goredis.NewClient(opts)

	cleanup := func() {
		_ = client.Close()
		mr.Close()
	}
	return redis.NewCoordinatorFromClient(client), mr, cleanup
}

func TestAcquire(t *testing.T) {
	ctx := context.Background()

	t.Run("second acquire is refused until release", func(t *testing.T) {
		coord, mr, cleanup := setupMiniredis(t)
		defer cleanup()

		release, ok, err := coord.Acquire(ctx, "event:evt-1", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, mr.Exists("webhook-dispatch:lock:event:evt-1"))

		_, ok, err = coord.Acquire(ctx, "event:evt-1", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, release())
		assert.False(t, mr.Exists("webhook-dispatch:lock:event:evt-1"))

		_, ok, err = coord.Acquire(ctx, "event:evt-1", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("lock expires after ttl", func(t *testing.T) {
		coord, mr, cleanup := setupMiniredis(t)
		defer cleanup()

		_, ok, err := coord.Acquire(ctx, "event:evt-2", 30*time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		mr.FastForward(31 * time.Second)

		_, ok, err = coord.Acquire(ctx, "event:evt-2", 30*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("stale release does not free a newer holder", func(t *testing.T) {
		coord, mr, cleanup := setupMiniredis(t)
		defer cleanup()

		staleRelease, ok, err := coord.Acquire(ctx, "event:evt-3", 10*time.Second)
		require.NoError(t, err)
		require.True(t, ok)

		mr.FastForward(11 * time.Second)

		_, ok, err = coord.Acquire(ctx, "event:evt-3", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, staleRelease())
		assert.True(t, mr.Exists("webhook-dispatch:lock:event:evt-3"))
	})

	t.Run("connection failure", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
		defer client.Close()
		coord := redis.NewCoordinatorFromClient(client)
		mr.Close()

		release, ok, err := coord.Acquire(ctx, "event:evt-4", time.Minute)
		require.Error(t, err)
		assert.False(t, ok)
		require.NotNil(t, release)
		assert.NoError(t, release())
	})

	t.Run("release reports a lost connection", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
		defer client.Close()
		coord := redis.NewCoordinatorFromClient(client)

		release, ok, err := coord.Acquire(ctx, "event:evt-5", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		mr.Close()

		err = release()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "releasing lock event:evt-5")
	})
}

func TestSchedulerHeartbeats(t *testing.T) {
	ctx := context.Background()
	coord, mr, cleanup := setupMiniredis(t)
	defer cleanup()

	require.NoError(t, coord.SetSchedulerHeartbeat(ctx, redis.SchedulerHeartbeat{
		SchedulerID:   "sched-b",
		Hostname:      "host-b",
		Status:        "sweeping",
		LastAttempted: 4,
	}))
	require.NoError(t, coord.SetSchedulerHeartbeat(ctx, redis.SchedulerHeartbeat{
		SchedulerID: "sched-a",
		Hostname:    "host-a",
		Status:      "idle",
	}))

	active, err := coord.ActiveSchedulers(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "sched-a", active[0].SchedulerID)
	assert.Equal(t, 4, active[1].LastAttempted)
	assert.False(t, active[1].LastHeartbeat.IsZero())

	t.Run("missing id", func(t *testing.T) {
		assert.Error(t, coord.SetSchedulerHeartbeat(ctx, redis.SchedulerHeartbeat{}))
	})

	t.Run("removed on shutdown", func(t *testing.T) {
		require.NoError(t, coord.RemoveSchedulerHeartbeat(ctx, "sched-b"))
		active, err := coord.ActiveSchedulers(ctx)
		require.NoError(t, err)
		require.Len(t, active, 1)
	})

	t.Run("expired after ttl", func(t *testing.T) {
		mr.FastForward(redis.HeartbeatTTL + time.Second)
		active, err := coord.ActiveSchedulers(ctx)
		require.NoError(t, err)
		assert.Empty(t, active)
	})
}
