package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// WithTx runs fn inside a database transaction. If fn returns an error, the
// transaction is rolled back. Otherwise, the transaction is committed. The
// deferred rollback after a successful commit is a safe no-op.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
