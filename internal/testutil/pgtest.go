// Package testutil provides shared test infrastructure for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// PGTest returns a connection to an empty PostgreSQL database plus a cleanup
// function. Schema setup is left to the store under test.
//
//	db, cleanup := testutil.PGTest(t)
//	defer cleanup()
//
// POSTGRES_URL wins when set. Otherwise a postgres:16-alpine container is
// started; if Docker is unavailable the test is skipped.
func PGTest(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	ctx := context.Background()
	dbURL := os.Getenv("POSTGRES_URL")
	terminate := func() {}

	if dbURL == "" {
		if testing.Short() {
			t.Skip("short mode, skipping postgres integration test")
		}
		container, err := startContainer(ctx)
		if err != nil {
			t.Skipf("postgres container unavailable, skipping integration test: %v", err)
		}
		terminate = func() { _ = testcontainers.TerminateContainer(container) }

		dbURL, err = container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			terminate()
			t.Fatalf("pgtest: connection string: %v", err)
		}
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		terminate()
		t.Fatalf("pgtest: open database: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		terminate()
		t.Fatalf("pgtest: connect to database: %v", err)
	}

	cleanup := func() {
		truncateAll(ctx, db)
		_ = db.Close()
		terminate()
	}
	return db, cleanup
}

func startContainer(ctx context.Context) (container *postgres.PostgresContainer, err error) {
	// testcontainers panics when no Docker host can be found.
	defer func() {
		if r := recover(); r != nil {
			err = &dockerUnavailable{r}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	return postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("fraudscope_test"),
		postgres.WithUsername("fraudscope"),
		postgres.WithPassword("fraudscope"),
		postgres.BasicWaitStrategies(),
	)
}

type dockerUnavailable struct{ reason any }

func (d *dockerUnavailable) Error() string {
	if s, ok := d.reason.(string); ok {
		return s
	}
	return "docker unavailable"
}

// truncateAll empties application tables between tests. goose bookkeeping
// is kept so migrations are not replayed against existing tables.
func truncateAll(ctx context.Context, db *sql.DB) {
	rows, err := db.QueryContext(ctx, `
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public'
		  AND tablename NOT LIKE 'pg_%'
		  AND tablename NOT LIKE 'sql_%'
		  AND tablename <> 'goose_db_version'
	`)
	if err != nil {
		return
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err == nil {
			tables = append(tables, name)
		}
	}

	if len(tables) > 0 {
		// Table names come from pg_tables, not user input.
		stmt := "TRUNCATE " + strings.Join(tables, ", ") + " CASCADE" // #nosec G202
		_, _ = db.ExecContext(ctx, stmt)
	}
}
