// Package database provides a disposable Postgres-backed ent client for
// integration tests, grounded in the teacher's test/database/client.go.
package database

import (
	"context"
	"os"
	"testing"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tbenself/clawops/ent"
	clawopsdb "github.com/tbenself/clawops/pkg/database"
)

// NewTestClient spins up (or reuses, via CI_DATABASE_URL) a Postgres
// instance, auto-migrates the ent schema directly (skipping the embedded
// golang-migrate SQL, which production uses instead), and returns a ready
// client. Cleaned up automatically at test end.
func NewTestClient(t *testing.T) *clawopsdb.Client {
	t.Helper()
	ctx := context.Background()

	var connStr string
	if ci := os.Getenv("CI_DATABASE_URL"); ci != "" {
		connStr = ci
	} else {
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)
		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		connStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err)
	}

	drv, err := sql.Open(dialect.Postgres, connStr)
	require.NoError(t, err)

	db := drv.DB()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	entClient := ent.NewClient(ent.Driver(drv))
	require.NoError(t, entClient.Schema.Create(ctx))

	client := clawopsdb.NewClientFromEnt(entClient, db)
	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}
