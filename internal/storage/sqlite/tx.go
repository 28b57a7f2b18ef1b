package sqlite

import (
	"context"
	"database/sql"
)

// execer is the subset of *sql.DB / *sql.Conn that the per-table helper
// functions need. Both SQLiteStorage (outside a transaction) and txScope
// (inside RunInTransaction) satisfy it, so every Transaction method is
// implemented once as a free function and exposed through two thin receivers.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// txScope is the Transaction handed to RunInTransaction callbacks. It runs
// every statement against the single *sql.Conn pinned for the transaction's
// lifetime, so BEGIN IMMEDIATE/COMMIT bracket every operation performed
// through it.
type txScope struct {
	conn  *sql.Conn
	store *SQLiteStorage
}

var _ execer = (*sql.DB)(nil)
var _ execer = (*sql.Conn)(nil)
