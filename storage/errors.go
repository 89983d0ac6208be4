// ABOUTME: Translates raw database/sql and SQLite driver errors into readererr types
// ABOUTME: Keeps SQLite-specific error string matching in one place

package storage

import (
	"database/sql"
	"errors"
	"strings"
)

// isUniqueViolation reports whether err is a SQLite UNIQUE or PRIMARY KEY
// constraint failure. modernc.org/sqlite doesn't expose a typed
// constraint-violation error the way some cgo drivers do, so this matches
// on the driver's error text.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

// isForeignKeyViolation reports whether err is a SQLite FOREIGN KEY
// constraint failure, which for this schema means a referenced feed row
// doesn't exist.
func isForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// isNoRows reports whether err is database/sql's sentinel for a query
// that matched zero rows.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
