package command

import (
	"context"
	"sync"

	"github.com/atp-ledger/core/internal/ledger/audit"
	"github.com/atp-ledger/core/internal/ledger/eventstore"
	"github.com/atp-ledger/core/internal/ledger/idempotency"
	"github.com/atp-ledger/core/internal/ledger/projection"
	"github.com/atp-ledger/core/internal/ledger/txn"
)

// MemoryUnitOfWork is the in-memory txn.UnitOfWork used by tests: it
// snapshots all four stores before running fn and restores them on
// error, giving the same all-or-nothing semantics as postgres.Store.WithTx
// without a real database transaction underneath.
type MemoryUnitOfWork struct {
	mu     sync.Mutex
	events *eventstore.Memory
	proj   *projection.Memory
	aud    *audit.Memory
	idem   *idempotency.Memory
}

// NewMemoryUnitOfWork wraps the same Memory stores already wired onto a
// Handler's Events/Projection/Audit/Idempotency fields, so WithTx mutates
// (and can roll back) exactly the state those fields expose.
func NewMemoryUnitOfWork(events *eventstore.Memory, proj *projection.Memory, aud *audit.Memory, idem *idempotency.Memory) *MemoryUnitOfWork {
	return &MemoryUnitOfWork{events: events, proj: proj, aud: aud, idem: idem}
}

func (u *MemoryUnitOfWork) WithTx(ctx context.Context, fn func(txn.Store) error) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	eventsSnap := u.events.Snapshot()
	projSnap := u.proj.Snapshot()
	audSnap := u.aud.Snapshot()
	idemSnap := u.idem.Snapshot()

	if err := fn(u); err != nil {
		u.events.Restore(eventsSnap)
		u.proj.Restore(projSnap)
		u.aud.Restore(audSnap)
		u.idem.Restore(idemSnap)
		return err
	}
	return nil
}

func (u *MemoryUnitOfWork) AppendAtomic(ctx context.Context, ops []eventstore.AggregateOperation, idempotencyKey string) ([]string, error) {
	return u.events.AppendAtomic(ctx, ops, idempotencyKey)
}

func (u *MemoryUnitOfWork) ApplyTransfer(ctx context.Context, p projection.TransferParams) error {
	return u.proj.ApplyTransfer(ctx, p)
}

func (u *MemoryUnitOfWork) ApplyCreateUser(ctx context.Context, p projection.CreateUserParams) error {
	return u.proj.ApplyCreateUser(ctx, p)
}

func (u *MemoryUnitOfWork) Append(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	return u.aud.Append(ctx, e)
}

func (u *MemoryUnitOfWork) Complete(ctx context.Context, key, eventID string, responseStatus int, responseBody []byte) error {
	return u.idem.Complete(ctx, key, eventID, responseStatus, responseBody)
}
