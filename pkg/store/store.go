// Package store provides typed read/write access to persisted state.
// All mutations run against a Querier — either the pool or a transaction
// opened by WithTx — so multi-entity updates commit or roll back as a unit.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Sentinel errors surfaced to the service layer.
var (
	// ErrNotFound is returned when an entity id does not resolve.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned on a unique-constraint collision.
	ErrDuplicate = errors.New("duplicate entity")
)

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx. Rebind support lets
// queries be written with ? placeholders and run on either driver.
type Querier = sqlx.ExtContext

// Store is the gateway to persisted state.
type Store struct {
	db *sqlx.DB
}

// New creates a Store over an open connection pool.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB returns the pool for reads outside a transactional unit.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// WithTx runs fn inside a transaction. On error the transaction is rolled
// back and the error propagates to the caller.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// exec runs a write query after rebinding placeholders for the driver.
func exec(ctx context.Context, q Querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, q.Rebind(query), args...)
}

// get fetches a single row after rebinding placeholders for the driver.
func get(ctx context.Context, q Querier, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, q, dest, q.Rebind(query), args...)
}

// selectAll fetches all rows after rebinding placeholders for the driver.
func selectAll(ctx context.Context, q Querier, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q, dest, q.Rebind(query), args...)
}

// nowUTC truncates to the microsecond so round-trips through the database
// compare equal.
func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// marshalJSON encodes v for a TEXT column, mapping nil to the given default.
func marshalJSON(v any, def string) string {
	if v == nil {
		return def
	}
	data, err := json.Marshal(v)
	if err != nil {
		return def
	}
	return string(data)
}

// unmarshalJSON decodes a TEXT column into dest, tolerating empty values.
func unmarshalJSON(raw string, dest any) {
	if raw == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw), dest)
}

// isUniqueViolation detects unique-constraint errors across sqlite and
// postgres without importing driver-specific error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}

// mapRowErr converts sql.ErrNoRows into ErrNotFound.
func mapRowErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
