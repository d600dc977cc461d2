// Package store implements the relational persistence layer as plain SQL
// repositories over database/sql (pgx driver). A Store can be bound to the
// pool or to one transaction; request handlers and the triage runner open a
// transaction per unit of work so audit rows commit with their action.
package store

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (stdsql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*stdsql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *stdsql.Row
}

// Store exposes every repository over one DBTX binding.
type Store struct {
	q  DBTX
	db *stdsql.DB
}

// New creates a Store bound to the connection pool.
func New(db *stdsql.DB) *Store {
	return &Store{q: db, db: db}
}

// WithTx runs fn with a Store bound to a single transaction, committing on
// nil and rolling back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&Store{q: tx, db: s.db}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// mustJSON marshals a JSONB parameter; the inputs are always
// encodable maps and slices built by this process.
func mustJSON(v any) []byte {
	if v == nil {
		return []byte("null")
	}
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal jsonb param: %v", err))
	}
	return b
}

func unmarshalJSON[T any](raw []byte) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode jsonb column: %w", err)
	}
	return out, nil
}

func nullStr(ns stdsql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// strOrNil maps "" to SQL NULL so empty optionals stay NULL in the schema.
func strOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
