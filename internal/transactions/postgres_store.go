package transactions

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	sqlStore
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed transaction store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{sqlStore{
		db:         db,
		dialect:    goose.DialectPostgres,
		bind:       func(n int) string { return fmt.Sprintf("$%d", n) },
		encodeTime: func(t time.Time) any { return t },
		decodeTime: func(v any) (time.Time, error) {
			t, ok := v.(time.Time)
			if !ok {
				return time.Time{}, fmt.Errorf("scored_at: unexpected type %T", v)
			}
			return t, nil
		},
	}}
}
