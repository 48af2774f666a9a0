// Package store provides sqlite persistence for the town simulation.
// All multi-entity mutations go through WithTx; readers may use the plain
// DB handle. Entity accessors are package functions over Queryer so the
// same code path serves both transactional and standalone calls.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound = errors.New("entity not found")
	ErrConflict = errors.New("unique constraint violated")
	ErrAborted  = errors.New("transaction aborted, caller may retry once")
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type Queryer interface {
	sqlx.Ext
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
}

// Store owns the database connection.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at path and initializes the schema.
// Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store.Open: %w", err)
	}
	// modernc sqlite serializes writers; a single connection avoids
	// SQLITE_BUSY between the tick driver and the schedulers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store.Open schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for read paths outside a transaction.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// WithTx runs fn inside a transaction. The transaction commits only if fn
// returns nil; any error rolls everything back. Driver errors are mapped
// onto the store sentinel errors.
func (s *Store) WithTx(fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return translate(err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return translate(err)
	}
	return translate(tx.Commit())
}

// WithTxRetry runs WithTx and retries exactly once when the failure is
// retryable (ErrAborted).
func (s *Store) WithTxRetry(fn func(tx *sqlx.Tx) error) error {
	err := s.WithTx(fn)
	if errors.Is(err, ErrAborted) {
		err = s.WithTx(fn)
	}
	return err
}

// translate maps driver-level failures onto the sentinel errors callers
// compare with errors.Is.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrAborted) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint"):
		return fmt.Errorf("%w (%s)", ErrConflict, msg)
	case strings.Contains(msg, "SQLITE_BUSY"), strings.Contains(msg, "database is locked"):
		return fmt.Errorf("%w (%s)", ErrAborted, msg)
	}
	return err
}

// GetState reads a value from the sim_state key/value table, returning def
// when the key is absent.
func GetState(q Queryer, key, def string) (string, error) {
	var v string
	err := q.Get(&v, `SELECT value FROM sim_state WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("store.GetState: %w", err)
	}
	return v, nil
}

// SetState upserts a sim_state key.
func SetState(q Queryer, key, value string) error {
	_, err := q.Exec(`
		INSERT INTO sim_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("store.SetState: %w", err)
	}
	return nil
}
