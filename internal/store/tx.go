package store

import (
	"context"
	"database/sql"
	"time"
)

func nowUnix() int64 { return time.Now().Unix() }

// withReadTx runs fn in a short read-only transaction. Grounded on
// beads' internal/storage/sqlite withTx helper, simplified: SQLite's
// driver.IsolationLevel default is sufficient for single-statement reads.
func (s *Store) withReadTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// withTx runs fn inside a single writer transaction, serialized against
// every other writer in this process by Store.mu (spec.md §5: "every
// mutating operation executes inside a single SQLite transaction").
// Multi-process exclusion is left to SQLite's own file locking.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
