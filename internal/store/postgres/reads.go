package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/atp-ledger/core/internal/ledger/eventstore"
	"github.com/atp-ledger/core/internal/ledger/ledgererr"
	"github.com/atp-ledger/core/internal/ledger/projection"
)

// UserRecord is the read-side shape of one users row.
type UserRecord struct {
	ID          string
	Username    string
	Email       string
	DisplayName string
	IsSystem    bool
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// GetUser reads the current projection of one user.
func (s *Store) GetUser(ctx context.Context, userID string) (*UserRecord, error) {
	var u UserRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, email, display_name, is_system, is_active, created_at, updated_at, deleted_at
		 FROM users WHERE id = $1`,
		userID,
	).Scan(&u.ID, &u.Username, &u.Email, &u.DisplayName, &u.IsSystem, &u.IsActive, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledgererr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get user: %w", err)
	}
	return &u, nil
}

// UserHistory returns the most recent ledger entries for a user's
// wallet, newest first, bounded by limit.
func (s *Store) UserHistory(ctx context.Context, accountID string, limit int) ([]projection.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, journal_id, transfer_event_id, account_id, amount, entry_type, created_at
		 FROM ledger_entries WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2`,
		accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: user history: %w", err)
	}
	defer rows.Close()

	var out []projection.LedgerEntry
	for rows.Next() {
		var e projection.LedgerEntry
		if err := rows.Scan(&e.ID, &e.JournalID, &e.TransferEventID, &e.AccountID, &e.Amount, &e.EntryType, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// TransferByJournal returns the two ledger_entries rows that make up one
// journal, the read side of GET /transfers/{id}.
func (s *Store) TransferByJournal(ctx context.Context, journalID string) ([]projection.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, journal_id, transfer_event_id, account_id, amount, entry_type, created_at
		 FROM ledger_entries WHERE journal_id = $1 ORDER BY entry_type ASC`,
		journalID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: transfer by journal: %w", err)
	}
	defer rows.Close()

	var out []projection.LedgerEntry
	for rows.Next() {
		var e projection.LedgerEntry
		if err := rows.Scan(&e.ID, &e.JournalID, &e.TransferEventID, &e.AccountID, &e.Amount, &e.EntryType, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ledgererr.ErrNotFound
	}
	return out, nil
}

// RecentEvents lists the most recently appended events across all
// aggregates, for GET /admin/events.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]eventstore.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, aggregate_type, aggregate_id, version, event_type, payload, created_at
		 FROM events ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent events: %w", err)
	}
	defer rows.Close()

	var out []eventstore.Event
	for rows.Next() {
		var e eventstore.Event
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.Version, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ping is used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
