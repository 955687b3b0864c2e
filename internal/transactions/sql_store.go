package transactions

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/mbd888/fraudscope/internal/traces"
	"github.com/pressly/goose/v3"
)

// Migrations holds the goose migrations for both SQL backends, under
// migrations/postgres and migrations/sqlite.
//
//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var Migrations embed.FS

// MigrationsDir returns the directory inside Migrations for a goose dialect.
func MigrationsDir(dialect goose.Dialect) string {
	if dialect == goose.DialectSQLite3 {
		return "migrations/sqlite"
	}
	return "migrations/postgres"
}

var sqlColumns = []string{
	"transaction_id", "transaction_type", "transaction_status", "merchant_category", "amount",
	"sender_age", "receiver_age", "sender_age_group", "receiver_age_group",
	"sender_state", "sender_bank", "receiver_bank", "device_type", "network_type",
	"hour_of_day", "day_of_week", "is_weekend",
	"fraud_probability", "fraud_flag", "decision", "scored_at",
}

// sqlStore is the shared implementation behind PostgresStore and SQLiteStore.
type sqlStore struct {
	db      *sql.DB
	dialect goose.Dialect
	bind    func(n int) string

	// encodeTime and decodeTime convert scored_at to and from the driver.
	encodeTime func(time.Time) any
	decodeTime func(any) (time.Time, error)
}

// Migrate applies all pending migrations for the store's dialect.
func (s *sqlStore) Migrate(ctx context.Context) error {
	fsys, err := fs.Sub(Migrations, MigrationsDir(s.dialect))
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(s.dialect, s.db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// DB exposes the connection for health checks and metrics.
func (s *sqlStore) DB() *sql.DB { return s.db }

// Ping checks the connection.
func (s *sqlStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqlStore) Append(ctx context.Context, rec *Record) error {
	if rec == nil {
		return ErrNilRecord
	}
	ctx, span := traces.StartSpan(ctx, "transactions.Append", traces.TransactionID(rec.TransactionID))
	defer span.End()

	at := rec.Time
	if at.IsZero() {
		at = time.Now().UTC()
	}

	placeholders := make([]string, len(sqlColumns))
	for i := range placeholders {
		placeholders[i] = s.bind(i + 1)
	}
	query := "INSERT INTO transactions (" + strings.Join(sqlColumns, ", ") +
		") VALUES (" + strings.Join(placeholders, ", ") + ")" // #nosec G202 -- fixed column list

	tx := &rec.Transaction
	_, err := s.db.ExecContext(ctx, query,
		rec.TransactionID, tx.TransactionType, tx.TransactionStatus, tx.MerchantCategory, tx.Amount,
		nullInt(tx.SenderAge), nullInt(tx.ReceiverAge), nullString(tx.SenderAgeGroup), nullString(tx.ReceiverAgeGroup),
		tx.SenderState, tx.SenderBank, tx.ReceiverBank, tx.DeviceType, tx.NetworkType,
		tx.HourOfDay, tx.DayOfWeek, tx.IsWeekend,
		nullFloat(finiteProbability(rec.FraudProbability)), rec.FraudFlag, rec.Decision, s.encodeTime(at),
	)
	if err != nil {
		traces.Fail(span, err)
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *sqlStore) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+strings.Join(sqlColumns, ", ")+" FROM transactions ORDER BY id") // #nosec G202 -- fixed column list
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Record
	for rows.Next() {
		rec := &Record{Source: SourcePredicted}
		tx := &rec.Transaction
		var (
			senderAge, receiverAge     sql.NullInt64
			senderGroup, receiverGroup sql.NullString
			prob                       sql.NullFloat64
			scoredAt                   any
		)
		if err := rows.Scan(
			&rec.TransactionID, &tx.TransactionType, &tx.TransactionStatus, &tx.MerchantCategory, &tx.Amount,
			&senderAge, &receiverAge, &senderGroup, &receiverGroup,
			&tx.SenderState, &tx.SenderBank, &tx.ReceiverBank, &tx.DeviceType, &tx.NetworkType,
			&tx.HourOfDay, &tx.DayOfWeek, &tx.IsWeekend,
			&prob, &rec.FraudFlag, &rec.Decision, &scoredAt,
		); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.SenderAge = intPtr(senderAge)
		tx.ReceiverAge = intPtr(receiverAge)
		tx.SenderAgeGroup = senderGroup.String
		tx.ReceiverAgeGroup = receiverGroup.String
		if prob.Valid {
			rec.FraudProbability = finiteProbability(&prob.Float64)
		}
		at, err := s.decodeTime(scoredAt)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", rec.TransactionID, err)
		}
		rec.Time = at.UTC()
		rec.Timestamp = rec.Time.Format(TimestampLayout)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
