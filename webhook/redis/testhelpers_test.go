//go:build integration

package redis_test

import (
	"context"
	"strings"
	"testing"

	"github.com/marcelsud/webhook-dispatch/webhook/redis"
	"github.com/stretchr/testify/require"
	testcontainersredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// SetupRedisContainer starts a Redis testcontainer and connects a Coordinator to it
func SetupRedisContainer(t *testing.T, ctx context.Context) (*redis.Coordinator, func()) {
	t.Helper()

	container, err := testcontainersredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err, "failed to start Redis container")

	addr, err := container.ConnectionString(ctx)
	require.NoError(t, err, "failed to get Redis connection string")
	addr = strings.TrimPrefix(addr, "redis://")

	coord, err := redis.NewCoordinator(addr, "", 0)
	require.NoError(t, err, "failed to connect coordinator")

	cleanup := func() {
		_ = coord.Close(ctx)
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
	}

	return coord, cleanup
}
