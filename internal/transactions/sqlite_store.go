package transactions

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on an embedded SQLite file.
type SQLiteStore struct {
	sqlStore
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; WAL lets readers proceed.
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewSQLiteStore creates a SQLite-backed transaction store
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{sqlStore{
		db:         db,
		dialect:    goose.DialectSQLite3,
		bind:       func(int) string { return "?" },
		encodeTime: func(t time.Time) any { return t.UTC().Format(time.RFC3339Nano) },
		decodeTime: func(v any) (time.Time, error) {
			var s string
			switch x := v.(type) {
			case string:
				s = x
			case []byte:
				s = string(x)
			case time.Time:
				return x, nil
			default:
				return time.Time{}, fmt.Errorf("scored_at: unexpected type %T", v)
			}
			return time.Parse(time.RFC3339Nano, s)
		},
	}}
}
