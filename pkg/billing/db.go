package billing

import (
	"context"
	"database/sql"
)

// querier is satisfied by both *sql.DB and *sql.Tx so lifecycle steps can
// run standalone or inside a surrounding transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ querier = (*sql.DB)(nil)
	_ querier = (*sql.Tx)(nil)
)
