package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/atp-ledger/core/internal/ledger/ledgererr"
)

// WalletAccountID resolves a user's unique user_wallet account, per
// spec.md 4.5's "missing wallet is a fatal invariant violation for known
// users" rule: a present user_id with no wallet row is an infrastructure
// bug, not a client error, so it is not wrapped as ErrUnknownUser.
func (s *Store) WalletAccountID(ctx context.Context, userID string) (string, error) {
	var accountID string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM accounts WHERE user_id = $1 AND account_type = 'user_wallet'`,
		userID,
	).Scan(&accountID)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if checkErr := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); checkErr != nil {
			return "", fmt.Errorf("postgres: check user existence: %w", checkErr)
		}
		if !exists {
			return "", ledgererr.ErrUnknownUser
		}
		return "", fmt.Errorf("postgres: invariant violation: user %s has no user_wallet account", userID)
	}
	if err != nil {
		return "", fmt.Errorf("postgres: resolve wallet account: %w", err)
	}
	return accountID, nil
}

// RegisterWallet is a no-op for the Postgres directory: the account row
// inserted alongside the user during CreateUser already carries the
// user_id/account_type pair WalletAccountID queries.
func (s *Store) RegisterWallet(_ context.Context, _, _ string) error {
	return nil
}
