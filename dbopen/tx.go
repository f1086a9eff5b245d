package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// busyRetries bounds RunTx attempts. WAL keeps readers out of writers' way,
// but two writers can still collide on commit; a short linear backoff clears
// the realistic cases.
const busyRetries = 3

// IsBusy reports whether err looks like an SQLite BUSY condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// RunTx executes fn inside a transaction, committing on nil and rolling back
// on error. BUSY failures are retried with 100/200/300 ms backoff; any other
// error returns immediately.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= busyRetries; attempt++ {
		if err = runTxOnce(ctx, db, fn); err == nil || !IsBusy(err) {
			return err
		}
		wait := time.Duration(attempt) * 100 * time.Millisecond
		select {
		case <-ctx.Done():
			return fmt.Errorf("dbopen: tx retry cancelled: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("dbopen: tx busy after %d attempts: %w", busyRetries, err)
}

func runTxOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}
