package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to the PostgreSQL instance described by the usual PG*
// variables and applies migrations. The test is skipped when no database is
// reachable.
func setupTestDB(t *testing.T, driver string) *sqlx.DB {
	t.Helper()

	pgUser := getenv("PGUSER", "user")
	pgPassword := getenv("PGPASSWORD", "password")
	pgHost := getenv("PGHOST", "localhost")
	pgPort := getenv("PGPORT", "5432")
	pgDB := getenv("PGDATABASE", "testdb")

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		pgHost, pgPort, pgUser, pgPassword, pgDB)

	db, err := sqlx.Open(driver, connStr)
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("skipping postgres tests: could not connect to postgres: %v", err)
	}

	require.NoError(t, Migrate(context.Background(), db.DB, slog.New(slog.DiscardHandler)))
	_, err = db.Exec("TRUNCATE TABLE events, borrow_records, books, users")
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })
	return db
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestPostgresStoreContract(t *testing.T) {
	for _, driver := range []string{DriverPQ, DriverPGX} {
		t.Run(driver, func(t *testing.T) {
			runStoreContract(t, func(t *testing.T) Store {
				return NewPostgresStore(setupTestDB(t, driver), nil)
			})
		})
	}
}

func TestPostgresRejectsNegativeCopiesInSchema(t *testing.T) {
	db := setupTestDB(t, DriverPQ)
	_, err := db.Exec("INSERT INTO books (id, title, author, copies) VALUES (1, 'A', 'B', -1)")
	assert.Error(t, err, "check constraint must reject negative copies")
}

func TestMapErrorUniqueViolation(t *testing.T) {
	assert.ErrorIs(t, mapError(&pq.Error{Code: "23505"}), ErrDuplicate)
	assert.ErrorIs(t, mapError(&pgconn.PgError{Code: "23505"}), ErrDuplicate)

	other := &pq.Error{Code: "23503"}
	assert.NotErrorIs(t, mapError(other), ErrDuplicate)
	assert.ErrorIs(t, mapError(other), other)
}
