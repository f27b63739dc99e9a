package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pingpay/backend/internal/config"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, &config.DatabaseConfig{Driver: "memory"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)
	assert.NoError(t, store.Close())

	_, err = Open(ctx, &config.DatabaseConfig{Driver: "sqlite"}, zap.NewNop())
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestDSN(t *testing.T) {
	dsn := DSN(&config.DatabaseConfig{
		Host:     "db",
		Port:     5433,
		User:     "pingpay",
		Password: "secret",
		DBName:   "relay",
		SSLMode:  "disable",
	})
	assert.Equal(t, "host=db port=5433 user=pingpay password=secret dbname=relay sslmode=disable", dsn)
}
