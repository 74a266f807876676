package postgres

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/metadata"
	"github.com/Adithya-Monish-Kumar-K/fsearch/internal/metadata/metadatatest"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/fsearch/pkg/postgres"
)

// newTestStore connects to the database named by TEST_POSTGRES_* variables
// and truncates the items table. It skips when TEST_POSTGRES_HOST is unset.
func newTestStore(t *testing.T) metadata.Store {
	t.Helper()
	host := os.Getenv("TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("skipping postgres test: TEST_POSTGRES_HOST not set")
	}
	cfg := config.PostgresConfig{
		Host:            host,
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "fsearch_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "fsearch"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	}
	client, err := postgres.New(cfg)
	if err != nil {
		t.Skipf("skipping postgres test: %v", err)
	}
	ctx := context.Background()
	s, err := New(ctx, client)
	require.NoError(t, err)
	require.NoError(t, client.Exec(ctx, `TRUNCATE items`))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	metadatatest.Run(t, newTestStore)
}

func TestEscapeLike(t *testing.T) {
	require.Equal(t, `text/x\_y\%`, escapeLike("text/x_y%"))
	require.Equal(t, `a\\b`, escapeLike(`a\b`))
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
