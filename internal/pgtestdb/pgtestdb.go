// Package pgtestdb starts a shared PostgreSQL container for integration tests.
//
// Integration tests are skipped unless PGSUPPORTER_INTEGRATION is set, so
// `go test ./...` stays hermetic on machines without Docker.
package pgtestdb

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// EnvVar enables integration tests when set to any non-empty value.
const EnvVar = "PGSUPPORTER_INTEGRATION"

var (
	singletonOnce sync.Once
	singletonDSN  string
	singletonErr  error
)

// ensureSingleton lazily starts the container. Safe for concurrent use.
func ensureSingleton() (string, error) {
	singletonOnce.Do(func() {
		ctx := context.Background()

		container, err := postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("postgres"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			singletonErr = fmt.Errorf("failed to start PostgreSQL container: %w", err)
			return
		}

		dsn, err := container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			_ = container.Terminate(ctx)
			singletonErr = fmt.Errorf("failed to get PostgreSQL connection string: %w", err)
			return
		}

		// Container is not stored; ryuk handles cleanup.
		singletonDSN = dsn
	})

	return singletonDSN, singletonErr
}

// DSN returns the connection string of a fresh, empty database on the
// shared container. The database is dropped when the test finishes.
// The test is skipped unless EnvVar is set.
func DSN(t testing.TB) string {
	t.Helper()
	if os.Getenv(EnvVar) == "" {
		t.Skipf("set %s to run integration tests", EnvVar)
	}

	base, err := ensureSingleton()
	require.NoError(t, err)

	name := "pgs_" + randomSuffix(t)
	ctx := context.Background()

	admin, err := pgx.Connect(ctx, base)
	require.NoError(t, err)
	defer func() { _ = admin.Close(ctx) }()

	_, err = admin.Exec(ctx, "CREATE DATABASE "+name)
	require.NoError(t, err)

	t.Cleanup(func() {
		c, err := pgx.Connect(context.Background(), base)
		if err != nil {
			return
		}
		defer func() { _ = c.Close(context.Background()) }()
		_, _ = c.Exec(context.Background(), "DROP DATABASE IF EXISTS "+name+" WITH (FORCE)")
	})

	dsn, err := replaceDatabase(base, name)
	require.NoError(t, err)
	return dsn
}

func randomSuffix(t testing.TB) string {
	b := make([]byte, 6)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return hex.EncodeToString(b)
}

// replaceDatabase swaps the database name of a postgres:// URL.
func replaceDatabase(dsn, name string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", err
	}
	u.Path = "/" + name
	return u.String(), nil
}
