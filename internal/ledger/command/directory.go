package command

import (
	"context"
	"sync"

	"github.com/atp-ledger/core/internal/ledger/ledgererr"
)

// MemoryDirectory is an in-memory Directory used by unit tests and by the
// system-account bootstrap. Production wiring resolves the same lookup
// with a query against the accounts table instead.
type MemoryDirectory struct {
	mu      sync.RWMutex
	wallets map[string]string // userID -> accountID
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{wallets: make(map[string]string)}
}

func (d *MemoryDirectory) WalletAccountID(_ context.Context, userID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	accountID, ok := d.wallets[userID]
	if !ok {
		return "", ledgererr.ErrUnknownUser
	}
	return accountID, nil
}

func (d *MemoryDirectory) RegisterWallet(_ context.Context, userID, accountID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wallets[userID] = accountID
	return nil
}
