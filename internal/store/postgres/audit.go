package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/atp-ledger/core/internal/ledger/audit"
)

// Append opens its own transaction and delegates to appendAudit. It
// backs the audit.Store interface for standalone callers; command
// handlers go through Tx.Append instead, so the audit row lands in the
// same transaction as the event append and projection update it
// describes.
func (s *Store) Append(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return audit.Entry{}, err
	}
	defer tx.Rollback(ctx)

	e, err = appendAudit(ctx, tx, e)
	if err != nil {
		return audit.Entry{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return audit.Entry{}, err
	}
	return e, nil
}

// appendAudit takes the named advisory transaction lock before reading
// the chain's tail, so two concurrent inserts can never observe the same
// "latest" hash and compute conflicting links.
func appendAudit(ctx context.Context, db querier, e audit.Entry) (audit.Entry, error) {
	if _, err := db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, audit.AdvisoryLockChannel); err != nil {
		return audit.Entry{}, fmt.Errorf("postgres: lock audit chain: %w", err)
	}

	prevHash := audit.ZeroHash
	err := db.QueryRow(ctx, `SELECT current_hash FROM audit_log ORDER BY sequence_number DESC LIMIT 1`).Scan(&prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return audit.Entry{}, fmt.Errorf("postgres: read audit tail: %w", err)
	}
	e.PreviousHash = prevHash
	e.CurrentHash = "" // computed after sequence_number is assigned by the insert below

	err = db.QueryRow(ctx,
		`INSERT INTO audit_log (id, api_key_id, request_user_id, correlation_id, action, resource_type, resource_id,
			before_state, after_state, changed_fields, client_ip, previous_hash, current_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, '', now())
		 RETURNING sequence_number, created_at`,
		e.ID, nullable(e.APIKeyID), nullable(e.RequestUserID), nullable(e.CorrelationID), e.Action,
		nullable(e.ResourceType), nullable(e.ResourceID), e.BeforeState, e.AfterState, e.ChangedFields,
		nullable(e.ClientIP), e.PreviousHash,
	).Scan(&e.SequenceNumber, &e.CreatedAt)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("postgres: insert audit row: %w", err)
	}

	e.CurrentHash = audit.ComputeHash(e)
	if _, err := db.Exec(ctx, `UPDATE audit_log SET current_hash = $2 WHERE id = $1`, e.ID, e.CurrentHash); err != nil {
		return audit.Entry{}, fmt.Errorf("postgres: finalize audit hash: %w", err)
	}

	return e, nil
}

// Verify walks the chain recomputing each row's hash from the exact
// bytes Postgres stores: before_state/after_state are BYTEA, not JSONB,
// so what Append hashed at insert time is byte-identical to what Verify
// reads back here.
func (s *Store) Verify(ctx context.Context) (bool, *audit.BreakInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, sequence_number, action, request_user_id, resource_type, resource_id, before_state, after_state, previous_hash, current_hash
		 FROM audit_log ORDER BY sequence_number ASC`,
	)
	if err != nil {
		return false, nil, fmt.Errorf("postgres: scan audit chain: %w", err)
	}
	defer rows.Close()

	prevHash := audit.ZeroHash
	for rows.Next() {
		var e audit.Entry
		var requestUserID, resourceType, resourceID *string
		if err := rows.Scan(&e.ID, &e.SequenceNumber, &e.Action, &requestUserID, &resourceType, &resourceID,
			&e.BeforeState, &e.AfterState, &e.PreviousHash, &e.CurrentHash); err != nil {
			return false, nil, err
		}
		if requestUserID != nil {
			e.RequestUserID = *requestUserID
		}
		if resourceType != nil {
			e.ResourceType = *resourceType
		}
		if resourceID != nil {
			e.ResourceID = *resourceID
		}

		if e.PreviousHash != prevHash {
			return false, &audit.BreakInfo{SequenceNumber: e.SequenceNumber, Reason: "previous_hash does not match prior row's current_hash"}, nil
		}
		if audit.ComputeHash(e) != e.CurrentHash {
			return false, &audit.BreakInfo{SequenceNumber: e.SequenceNumber, Reason: "current_hash does not match recomputed hash"}, nil
		}
		prevHash = e.CurrentHash
	}
	if err := rows.Err(); err != nil {
		return false, nil, err
	}
	return true, nil, nil
}

// nullable converts an empty string to a nil parameter so optional
// columns store SQL NULL rather than "".
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
