package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/atp-ledger/core/internal/ledger/audit"
	"github.com/atp-ledger/core/internal/ledger/eventstore"
	"github.com/atp-ledger/core/internal/ledger/projection"
	"github.com/atp-ledger/core/internal/ledger/txn"
)

// WithTx implements txn.UnitOfWork: it runs fn against a Tx bound to one
// pgx.Tx, committing only if fn returns nil. Any error—including
// ConcurrencyConflict or InsufficientBalance raised deep inside fn—rolls
// back every write fn made, so the event append, the projection update,
// the audit row, and the idempotency finalize either all land together
// or none do.
func (s *Store) WithTx(ctx context.Context, fn func(txn.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin unit-of-work tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit unit-of-work tx: %w", err)
	}
	return nil
}

// Tx is the transaction-bound txn.Store backing one WithTx call.
type Tx struct {
	tx pgx.Tx
}

func (t *Tx) AppendAtomic(ctx context.Context, ops []eventstore.AggregateOperation, idempotencyKey string) ([]string, error) {
	return appendAtomic(ctx, t.tx, ops, idempotencyKey)
}

func (t *Tx) ApplyTransfer(ctx context.Context, p projection.TransferParams) error {
	return applyTransfer(ctx, t.tx, p)
}

func (t *Tx) ApplyCreateUser(ctx context.Context, p projection.CreateUserParams) error {
	return applyCreateUser(ctx, t.tx, p)
}

func (t *Tx) Append(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	return appendAudit(ctx, t.tx, e)
}

func (t *Tx) Complete(ctx context.Context, key, eventID string, responseStatus int, responseBody []byte) error {
	return completeIdempotency(ctx, t.tx, key, eventID, responseStatus, responseBody)
}
