// Command migrate runs the scored-transaction migrations via goose.
//
// The backend follows STORAGE_BACKEND: "postgres" uses DATABASE_URL,
// "sqlite" uses SQLITE_PATH.
//
// Usage:
//
//	go run ./cmd/migrate up          # Apply all pending migrations
//	go run ./cmd/migrate down        # Roll back the last migration
//	go run ./cmd/migrate status      # Show migration status
//	go run ./cmd/migrate version     # Show current schema version
//	go run ./cmd/migrate redo        # Roll back and re-apply last migration
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	_ "github.com/lib/pq"
	"github.com/mbd888/fraudscope/internal/config"
	"github.com/mbd888/fraudscope/internal/transactions"
	"github.com/pressly/goose/v3"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <command>")
		fmt.Println("Commands: up, down, status, version, redo, up-to <version>, down-to <version>")
		os.Exit(1)
	}

	backend := strings.ToLower(os.Getenv("STORAGE_BACKEND"))
	if backend == "" {
		backend = config.BackendPostgres
	}

	db, dialect, err := open(backend)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	goose.SetBaseFS(transactions.Migrations)
	if err := goose.SetDialect(string(dialect)); err != nil {
		log.Fatalf("Failed to set dialect: %v", err)
	}

	command := os.Args[1]
	args := os.Args[2:]

	if err := goose.RunContext(context.Background(), command, db, transactions.MigrationsDir(dialect), args...); err != nil {
		log.Fatalf("Migration %s failed: %v", command, err)
	}
}

func open(backend string) (*sql.DB, goose.Dialect, error) {
	switch backend {
	case config.BackendPostgres:
		dbURL := os.Getenv("DATABASE_URL")
		if dbURL == "" {
			return nil, "", fmt.Errorf("DATABASE_URL environment variable is required")
		}
		db, err := sql.Open("postgres", dbURL)
		if err != nil {
			return nil, "", fmt.Errorf("failed to open database: %w", err)
		}
		return db, goose.DialectPostgres, nil
	case config.BackendSQLite:
		path := os.Getenv("SQLITE_PATH")
		if path == "" {
			path = config.DefaultSQLitePath
		}
		db, err := transactions.OpenSQLite(path)
		if err != nil {
			return nil, "", err
		}
		return db, goose.DialectSQLite3, nil
	default:
		return nil, "", fmt.Errorf("STORAGE_BACKEND %q has no migrations (want postgres or sqlite)", backend)
	}
}
