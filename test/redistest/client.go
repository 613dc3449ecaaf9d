// Package redistest provides a disposable Redis client for integration
// tests, the same testcontainers shape as test/database/client.go but for
// pkg/jobs's Redis-backed primitive.
package redistest

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// NewTestClient spins up (or reuses, via CI_REDIS_ADDR) a Redis instance
// and returns a ready client. Cleaned up automatically at test end.
func NewTestClient(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	if addr := os.Getenv("CI_REDIS_ADDR"); addr != "" {
		return redis.NewClient(&redis.Options{Addr: addr})
	}

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	opts, err := redis.ParseURL(connStr)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}
