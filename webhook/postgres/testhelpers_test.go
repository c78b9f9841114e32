//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

/* Test helpers for PostgreSQL integration tests
 * Following the pattern from: https://eltonminetto.dev/post/2024-02-15-using-test-helpers/
 */

// SetupPostgresContainer starts postgres, applies the embedded migrations and
// returns a connected repository
func SetupPostgresContainer(t *testing.T, ctx context.Context) (*Repository, func()) {
	t.Helper()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("webhooks"),
		tcpostgres.WithUsername("webhook"),
		tcpostgres.WithPassword("webhook"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	version, err := MigrateUp(dsn)
	require.NoError(t, err, "failed to migrate")
	require.Equal(t, uint(1), version)

	repo, err := NewRepository(dsn)
	require.NoError(t, err)

	cleanup := func() {
		_ = repo.Close(ctx)
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}
	return repo, cleanup
}
