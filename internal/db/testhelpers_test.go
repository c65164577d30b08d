package db

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// testDB is the shared handle for every test in the package.
var testDB *DB

// TestMain boots one PostgreSQL container for the whole package, migrates it
// and hands the pool to the tests.
func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		log.Fatalf("starting postgres container: %v", err)
	}
	defer func() {
		_ = container.Terminate(ctx)
	}()

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("getting connection string: %v", err)
	}

	if err := RunMigrations(ctx, dsn); err != nil {
		log.Fatalf("running migrations: %v", err)
	}

	testDB, err = New(ctx, dsn, 10*time.Second)
	if err != nil {
		log.Fatalf("connecting to test db: %v", err)
	}
	defer testDB.Close()

	os.Exit(m.Run())
}

// setupStore truncates everything and returns a fresh store, so tests stay
// isolated on the shared database.
func setupStore(tb testing.TB) *Store {
	tb.Helper()

	ctx := context.Background()
	queries := []string{
		"TRUNCATE session_archives CASCADE",
		"TRUNCATE session_events CASCADE",
		"TRUNCATE session_players CASCADE",
		"TRUNCATE sessions CASCADE",
		"TRUNCATE characters CASCADE",
		"TRUNCATE users CASCADE",
	}
	for _, q := range queries {
		if _, err := testDB.pool.Exec(ctx, q); err != nil {
			tb.Fatalf("cleanup: %v", err)
		}
	}
	return NewStore(testDB)
}
