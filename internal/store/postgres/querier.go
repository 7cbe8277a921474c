package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is the common subset of *pgxpool.Pool and pgx.Tx that the
// query-building functions in this package need. Parameterizing over it
// instead of a concrete pool or transaction lets the same SQL logic run
// either standalone (Store methods, which begin and commit their own
// transaction) or nested inside a larger unit-of-work transaction (Tx
// methods, see tx.go).
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
