//go:build integration

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("testgen"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate postgres container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://test:test@%s:%s/testgen?sslmode=disable", host, port.Port())
}

func TestResultStore_Postgres(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	store, err := Open(ctx, Options{Driver: DriverPostgres, DSN: dsn, MaxOpenConns: 4})
	require.NoError(t, err)
	defer store.Close()

	key, err := store.Save(ctx, json.RawMessage(`{"cases":[]}`))
	require.NoError(t, err)

	got, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cases":[]}`, string(got.Payload))

	store.newKey = sequence(key, "FRESHKEY")
	second, err := store.Save(ctx, json.RawMessage(`{"n":2}`))
	require.NoError(t, err)
	assert.Equal(t, "FRESHKEY", second)

	_, err = store.Load(ctx, "missing0")
	assert.ErrorIs(t, err, ErrNotFound)

	// migrating twice is harmless
	require.NoError(t, store.Migrate(ctx))
}
