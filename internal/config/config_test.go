package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libralend/internal/store"
)

func TestParseDefaults(t *testing.T) {
	for _, key := range []string{"STORE_DRIVER", "DATABASE_URL", "PORT", "DB_CONN_MAX_LIFETIME", "OTEL_EXPORTER_OTLP_ENDPOINT"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, store.DriverPQ, cfg.StoreDriver)
	assert.NotEmpty(t, cfg.DatabaseURL)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 30*time.Minute, cfg.ConnMaxLifetime)
	assert.Empty(t, cfg.OTLPEndpoint)
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "pgx")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/lib")
	t.Setenv("DB_MAX_OPEN_CONNS", "25")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("RATE_LIMIT_PER_SEC", "2.5")

	cfg, err := Parse()
	require.NoError(t, err)

	pg := cfg.Postgres()
	assert.Equal(t, store.DriverPGX, pg.Driver)
	assert.Equal(t, "postgres://u:p@db:5432/lib", pg.DSN)
	assert.Equal(t, 25, pg.MaxOpenConns)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.InDelta(t, 2.5, cfg.RateLimitPerSec, 1e-9)
}

func TestParseRejectsBadValues(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	_, err := Parse()
	assert.ErrorIs(t, err, ErrInvalidDriver)

	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("DB_MAX_OPEN_CONNS", "lots")
	_, err = Parse()
	assert.ErrorIs(t, err, ErrParsingConfig)
}

func TestValidateRequiresDSNForPostgres(t *testing.T) {
	assert.ErrorIs(t, Config{StoreDriver: store.DriverPQ}.Validate(), ErrMissingDSN)
	assert.NoError(t, Config{StoreDriver: store.DriverMemory}.Validate())
}
