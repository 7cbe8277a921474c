/*
Package projection implements the derived read model: account_balances
and ledger_entries, updated in the same storage transaction as the event
append that causes them. Projections are caches: rebuilding them from the
event log alone must reproduce byte-identical balances (testable
property 4).
*/
package projection

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atp-ledger/core/internal/ledger/ledgererr"
	"github.com/atp-ledger/core/internal/money"
)

// EntryType is the ledger_entries.entry_type domain.
type EntryType string

const (
	Debit  EntryType = "debit"
	Credit EntryType = "credit"
)

// LedgerEntry is one leg of a balanced journal.
type LedgerEntry struct {
	ID             string
	JournalID      string
	TransferEventID string
	AccountID      string
	Amount         money.Amount
	EntryType      EntryType
	CreatedAt      time.Time
}

// Balance is the current account_balances row.
type Balance struct {
	AccountID        string
	Balance          money.Amount
	LastEventID      string
	LastEventVersion int
	UpdatedAt        time.Time
}

// TransferParams describes a two-account movement settled under one
// journal: Transfer (user to user), Mint (system mint_source to
// recipient), and Burn (recipient to system mint_source, by symmetry)
// are all expressed with this same shape.
type TransferParams struct {
	JournalID     string
	FromAccountID string
	ToAccountID   string
	Amount        money.Amount
	FromEventID   string
	ToEventID     string
	// FromIsUserWallet gates the non-negativity precondition: only
	// user_wallet accounts may never go negative.
	FromIsUserWallet bool
}

// CreateUserParams seeds a brand-new wallet's balance row at zero.
type CreateUserParams struct {
	AccountID string
	EventID   string
}

// Store is the projection's storage-facing contract. All methods run
// within the caller's transaction, alongside the event append they
// derive from.
type Store interface {
	// ApplyTransfer enforces the InsufficientBalance precondition (for
	// user wallets only), updates both balances, and inserts the two
	// ledger_entries (credit on the source, debit on the destination)
	// under the shared journal id.
	ApplyTransfer(ctx context.Context, p TransferParams) error

	// ApplyCreateUser inserts the zero-balance row for a freshly created
	// wallet.
	ApplyCreateUser(ctx context.Context, p CreateUserParams) error

	// GetBalance returns the current projected balance for an account.
	GetBalance(ctx context.Context, accountID string) (Balance, error)
}

// Memory is an in-memory Store used by unit tests and by the in-process
// command-handler test doubles.
type Memory struct {
	balances map[string]Balance
	entries  []LedgerEntry
}

func NewMemory() *Memory {
	return &Memory{balances: make(map[string]Balance)}
}

func (m *Memory) ApplyCreateUser(_ context.Context, p CreateUserParams) error {
	m.balances[p.AccountID] = Balance{
		AccountID:   p.AccountID,
		Balance:     money.Zero,
		LastEventID: p.EventID,
		UpdatedAt:   time.Now().UTC(),
	}
	return nil
}

func (m *Memory) ApplyTransfer(_ context.Context, p TransferParams) error {
	from, ok := m.balances[p.FromAccountID]
	if !ok {
		return fmt.Errorf("projection: unknown account %s", p.FromAccountID)
	}
	to, ok := m.balances[p.ToAccountID]
	if !ok {
		return fmt.Errorf("projection: unknown account %s", p.ToAccountID)
	}

	if p.FromIsUserWallet && from.Balance.LessThan(p.Amount) {
		return &ledgererr.InsufficientBalanceError{
			AccountID: p.FromAccountID,
			Available: from.Balance.String(),
			Requested: p.Amount.String(),
		}
	}

	now := time.Now().UTC()
	from.Balance = from.Balance.Sub(p.Amount)
	from.LastEventID = p.FromEventID
	from.UpdatedAt = now
	to.Balance = to.Balance.Add(p.Amount)
	to.LastEventID = p.ToEventID
	to.UpdatedAt = now
	m.balances[p.FromAccountID] = from
	m.balances[p.ToAccountID] = to

	m.entries = append(m.entries,
		LedgerEntry{ID: uuid.NewString(), JournalID: p.JournalID, TransferEventID: p.FromEventID, AccountID: p.FromAccountID, Amount: p.Amount, EntryType: Credit, CreatedAt: now},
		LedgerEntry{ID: uuid.NewString(), JournalID: p.JournalID, TransferEventID: p.ToEventID, AccountID: p.ToAccountID, Amount: p.Amount, EntryType: Debit, CreatedAt: now},
	)
	return nil
}

func (m *Memory) GetBalance(_ context.Context, accountID string) (Balance, error) {
	b, ok := m.balances[accountID]
	if !ok {
		return Balance{}, ledgererr.ErrNotFound
	}
	return b, nil
}

// SeedAccount gives an account a starting projected balance, used by
// tests.
func (m *Memory) SeedAccount(accountID string, balance money.Amount) {
	m.balances[accountID] = Balance{AccountID: accountID, Balance: balance, UpdatedAt: time.Now().UTC()}
}

// LedgerEntries returns a defensive copy, for invariant-2 (Σdebit=Σcredit
// per journal) assertions in tests.
func (m *Memory) LedgerEntries() []LedgerEntry {
	out := make([]LedgerEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// memorySnapshot is an opaque deep copy of Memory's state, used by
// command.MemoryUnitOfWork to emulate transactional rollback in tests.
type memorySnapshot struct {
	balances map[string]Balance
	entries  []LedgerEntry
}

// Snapshot returns a deep copy of m's current state.
func (m *Memory) Snapshot() any {
	balances := make(map[string]Balance, len(m.balances))
	for k, v := range m.balances {
		balances[k] = v
	}
	return memorySnapshot{balances: balances, entries: append([]LedgerEntry(nil), m.entries...)}
}

// Restore replaces m's state with a snapshot previously returned by Snapshot.
func (m *Memory) Restore(snap any) {
	s := snap.(memorySnapshot)
	m.balances = s.balances
	m.entries = s.entries
}
