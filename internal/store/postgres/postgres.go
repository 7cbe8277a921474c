/*
Package postgres is the production storage substrate: one Store backed by
a pgxpool.Pool implementing every storage-facing interface the ledger core
depends on (eventstore.Store, idempotency.Store, audit.Store,
projection.Store, command.Directory), plus txn.UnitOfWork via WithTx (see
tx.go). Command handlers call WithTx once per write: it opens exactly one
pgx.Tx spanning event append, projection update, audit insert, and
idempotency finalize, the same one-transaction-per-command shape as the
teacher's sqlite.Store and the community-bank-platform core-ledger store.
The standalone Store methods (AppendAtomic, ApplyTransfer, Append, ...)
each still open and commit their own transaction, for callers outside the
command pipeline (Bootstrap, tests, direct Store usage).

Hand-written SQL throughout: no ORM, matching every Postgres-backed
example repo retrieved for this project.
*/
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements every storage interface the ledger core needs against
// a single Postgres database.
type Store struct {
	pool *pgxpool.Pool
}

// Config configures the pool. DSN and MaxConnections are read by
// internal/config from the environment.
type Config struct {
	DSN            string
	MaxConnections int32
}

// New opens a pgxpool against DSN and verifies connectivity with a ping.
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	poolCfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() { s.pool.Close() }

// Pool exposes the underlying pgx pool for callers that need raw access
// alongside the Store's own methods.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }
