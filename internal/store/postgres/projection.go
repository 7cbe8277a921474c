package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/atp-ledger/core/internal/ledger/ledgererr"
	"github.com/atp-ledger/core/internal/ledger/projection"
	"github.com/atp-ledger/core/internal/money"
)

// ApplyTransfer opens its own transaction and delegates to applyTransfer.
// It backs the projection.Store interface for standalone callers;
// command handlers go through Tx.ApplyTransfer instead, so the
// InsufficientBalance precondition below is checked under the same lock
// and the same transaction as the event append that produced
// FromEventID/ToEventID, and a rejection rolls that append back too.
func (s *Store) ApplyTransfer(ctx context.Context, p projection.TransferParams) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := applyTransfer(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// applyTransfer enforces the InsufficientBalance precondition under a
// FOR UPDATE row lock on the source balance, updates both balances, and
// inserts the two ledger_entries rows. The deferred constraint trigger
// (see migrations) re-verifies Σdebit=Σcredit per journal_id at commit,
// independent of this method's own bookkeeping.
func applyTransfer(ctx context.Context, db querier, p projection.TransferParams) error {
	var fromBalance money.Amount
	err := db.QueryRow(ctx, `SELECT balance FROM account_balances WHERE account_id = $1 FOR UPDATE`, p.FromAccountID).Scan(&fromBalance)
	if err != nil {
		return fmt.Errorf("postgres: lock from-account balance: %w", err)
	}

	if p.FromIsUserWallet && fromBalance.LessThan(p.Amount) {
		return &ledgererr.InsufficientBalanceError{
			AccountID: p.FromAccountID, Available: fromBalance.String(), Requested: p.Amount.String(),
		}
	}

	if _, err := db.Exec(ctx, `SELECT balance FROM account_balances WHERE account_id = $1 FOR UPDATE`, p.ToAccountID); err != nil {
		return fmt.Errorf("postgres: lock to-account balance: %w", err)
	}

	_, err = db.Exec(ctx,
		`UPDATE account_balances SET balance = balance - $2, last_event_id = $3, last_event_version = (SELECT version FROM events WHERE id = $3), updated_at = now() WHERE account_id = $1`,
		p.FromAccountID, p.Amount, p.FromEventID,
	)
	if err != nil {
		return fmt.Errorf("postgres: debit balance: %w", err)
	}
	_, err = db.Exec(ctx,
		`UPDATE account_balances SET balance = balance + $2, last_event_id = $3, last_event_version = (SELECT version FROM events WHERE id = $3), updated_at = now() WHERE account_id = $1`,
		p.ToAccountID, p.Amount, p.ToEventID,
	)
	if err != nil {
		return fmt.Errorf("postgres: credit balance: %w", err)
	}

	if _, err := db.Exec(ctx,
		`INSERT INTO ledger_entries (id, journal_id, transfer_event_id, account_id, amount, entry_type, created_at) VALUES ($1, $2, $3, $4, $5, 'credit', now())`,
		uuid.NewString(), p.JournalID, p.FromEventID, p.FromAccountID, p.Amount,
	); err != nil {
		return fmt.Errorf("postgres: insert credit entry: %w", err)
	}
	if _, err := db.Exec(ctx,
		`INSERT INTO ledger_entries (id, journal_id, transfer_event_id, account_id, amount, entry_type, created_at) VALUES ($1, $2, $3, $4, $5, 'debit', now())`,
		uuid.NewString(), p.JournalID, p.ToEventID, p.ToAccountID, p.Amount,
	); err != nil {
		return fmt.Errorf("postgres: insert debit entry: %w", err)
	}

	return nil
}

func (s *Store) ApplyCreateUser(ctx context.Context, p projection.CreateUserParams) error {
	return applyCreateUser(ctx, s.pool, p)
}

func applyCreateUser(ctx context.Context, db querier, p projection.CreateUserParams) error {
	_, err := db.Exec(ctx,
		`INSERT INTO account_balances (account_id, balance, last_event_id, last_event_version, updated_at) VALUES ($1, 0, $2, 0, now())`,
		p.AccountID, p.EventID,
	)
	if err != nil {
		return fmt.Errorf("postgres: seed account balance: %w", err)
	}
	return nil
}

func (s *Store) GetBalance(ctx context.Context, accountID string) (projection.Balance, error) {
	var b projection.Balance
	b.AccountID = accountID
	err := s.pool.QueryRow(ctx,
		`SELECT balance, last_event_id, last_event_version, updated_at FROM account_balances WHERE account_id = $1`,
		accountID,
	).Scan(&b.Balance, &b.LastEventID, &b.LastEventVersion, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return projection.Balance{}, ledgererr.ErrNotFound
	}
	if err != nil {
		return projection.Balance{}, fmt.Errorf("postgres: get balance: %w", err)
	}
	return b, nil
}
