package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	apperrors "github.com/louisbranch/freightdesk/internal/platform/errors"
	"github.com/louisbranch/freightdesk/internal/services/ops/storage"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// mapError turns driver errors into storage errors. Errors that already carry
// a domain code, and context errors, pass through untouched.
func (s *Store) mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, sql.ErrNoRows):
		return storage.ErrNotFound
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	if column, ok := uniqueViolation(err); ok {
		if column == "guest_quote_id" {
			return storage.ErrGuestQuoteAttached
		}
		return storage.ErrConflict
	}
	if isSerializationFailure(err) {
		return storage.ErrConflict
	}
	if isBusyError(err) {
		return storage.PersistenceError(op+" (database busy)", err)
	}
	return storage.PersistenceError(op, err)
}

// uniqueViolation reports whether err is a unique or primary key violation and
// names the offending column when the driver exposes it.
func uniqueViolation(err error) (string, bool) {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		if code != sqlite3.SQLITE_CONSTRAINT && code != sqlite3.SQLITE_CONSTRAINT_UNIQUE && code != sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return "", false
		}
		return columnFromMessage(sqliteErr.Error()), true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return columnFromConstraint(pgErr.ConstraintName), true
	}
	return "", false
}

// columnFromMessage extracts "guest_quote_id" from sqlite's
// "UNIQUE constraint failed: entities.guest_quote_id".
func columnFromMessage(message string) string {
	idx := strings.LastIndex(message, "constraint failed:")
	if idx == -1 {
		return ""
	}
	first, _, _ := strings.Cut(strings.TrimSpace(message[idx+len("constraint failed:"):]), ",")
	_, column, ok := strings.Cut(first, ".")
	if !ok {
		return ""
	}
	column, _, _ = strings.Cut(column, " ")
	return strings.TrimSpace(column)
}

// columnFromConstraint maps postgres' default "<table>_<column>_key" names.
func columnFromConstraint(name string) string {
	switch name {
	case "entities_guest_quote_id_key":
		return "guest_quote_id"
	case "entities_number_key":
		return "number"
	default:
		return name
	}
}

func isBusyError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
}
