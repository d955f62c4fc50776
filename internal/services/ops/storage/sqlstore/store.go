// Package sqlstore implements storage on database/sql for sqlite and postgres.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/louisbranch/freightdesk/internal/platform/sqlmigrate"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage/sqlstore/migrations"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis reverses toMillis for persisted millisecond timestamps.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func toNullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

var sqlOpen = sql.Open

// Store provides a SQL-backed store implementing storage.Store.
type Store struct {
	db        *sql.DB
	dialect   sqlmigrate.Dialect
	validator storage.EventValidator
	now       func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// OpenSQLite opens (creating if needed) a sqlite database at path and applies
// migrations.
func OpenSQLite(ctx context.Context, path string, validator storage.EventValidator, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sqlOpen("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; immediate transactions take the write lock up front.
	sqlDB.SetMaxOpenConns(1)
	return openStore(ctx, sqlDB, sqlmigrate.DialectSQLite, migrations.SQLiteFS, "sqlite", validator, opts)
}

// OpenPostgres connects through the pgx stdlib driver and applies migrations.
func OpenPostgres(ctx context.Context, dsn string, validator storage.EventValidator, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	sqlDB, err := sqlOpen("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	return openStore(ctx, sqlDB, sqlmigrate.DialectPostgres, migrations.PostgresFS, "postgres", validator, opts)
}

func openStore(ctx context.Context, sqlDB *sql.DB, dialect sqlmigrate.Dialect, migrationFS fs.FS, root string, validator storage.EventValidator, opts []Option) (*Store, error) {
	if validator == nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("event validator is required")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s db: %w", dialect, err)
	}
	if err := sqlmigrate.ApplyMigrations(ctx, sqlDB, dialect, migrationFS, root); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run %s migrations: %w", dialect, err)
	}

	s := &Store{db: sqlDB, dialect: dialect, validator: validator, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Close closes the underlying database. It is nil-safe.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Dialect reports the SQL flavour in use.
func (s *Store) Dialect() sqlmigrate.Dialect {
	return s.dialect
}

func (s *Store) q(query string) string {
	return s.dialect.Rebind(query)
}

// domainError carries an error raised by caller code inside a transaction so
// it is returned as-is instead of being classified as a backend failure.
type domainError struct{ err error }

func (e domainError) Error() string { return e.err.Error() }

func (e domainError) Unwrap() error { return e.err }

func keep(err error) error {
	if err == nil {
		return nil
	}
	return domainError{err: err}
}

// inTx runs fn inside a transaction and maps backend failures.
func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.mapError(op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		var de domainError
		if errors.As(err, &de) {
			return de.err
		}
		return s.mapError(op, err)
	}
	if err := tx.Commit(); err != nil {
		return s.mapError(op, err)
	}
	return nil
}
