/*
Package txn defines the transaction-scoped unit of work that binds event
append, projection update, audit insert, and idempotency finalize into a
single storage transaction: append with version check, projection
update, ledger double-entry rows, audit row, idempotency finalize, all
committed or rolled back together.

Command handlers depend only on UnitOfWork. Production wiring backs it
with one pgx.Tx (internal/store/postgres.Store.WithTx); tests back it
with an in-memory equivalent that snapshots and restores on rollback
(internal/ledger/command.MemoryUnitOfWork).
*/
package txn

import (
	"context"

	"github.com/atp-ledger/core/internal/ledger/audit"
	"github.com/atp-ledger/core/internal/ledger/eventstore"
	"github.com/atp-ledger/core/internal/ledger/projection"
)

// Store is the set of operations a command may perform inside one
// UnitOfWork call: append events, update the balance/ledger projection,
// write one audit row, and finalize the idempotency key.
type Store interface {
	AppendAtomic(ctx context.Context, ops []eventstore.AggregateOperation, idempotencyKey string) ([]string, error)
	ApplyTransfer(ctx context.Context, p projection.TransferParams) error
	ApplyCreateUser(ctx context.Context, p projection.CreateUserParams) error
	Append(ctx context.Context, e audit.Entry) (audit.Entry, error)
	Complete(ctx context.Context, key, eventID string, responseStatus int, responseBody []byte) error
}

// UnitOfWork runs fn inside one storage transaction, committing only if
// fn returns nil. Any error rolls back every write fn made through its
// Store argument, including the event append: a rejected projection
// precondition (InsufficientBalance) leaves no trace in the event log.
type UnitOfWork interface {
	WithTx(ctx context.Context, fn func(Store) error) error
}
