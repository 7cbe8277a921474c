package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/atp-ledger/core/internal/ledger/idempotency"
	"github.com/atp-ledger/core/internal/ledger/ledgererr"
)

// Start reserves key for processing or reports its current disposition,
// serialized per-key with an advisory transaction lock so two concurrent
// callers racing to reserve the same key can't both believe they won.
func (s *Store) Start(ctx context.Context, key, requestHash string) (idempotency.Outcome, *idempotency.Record, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('idempotency:' || $1))`, key); err != nil {
		return 0, nil, fmt.Errorf("postgres: lock idempotency key: %w", err)
	}

	rec, err := scanIdempotencyRecord(ctx, tx, key)
	if errors.Is(err, pgx.ErrNoRows) {
		rec = &idempotency.Record{Key: key, RequestHash: requestHash, ProcessingStatus: idempotency.StatusProcessing}
		_, err := tx.Exec(ctx,
			`INSERT INTO idempotency_keys (key, request_hash, processing_status, processing_started_at, created_at, expires_at)
			 VALUES ($1, $2, 'processing', now(), now(), now() + interval '24 hours')`,
			key, requestHash,
		)
		if err != nil {
			return 0, nil, fmt.Errorf("postgres: insert idempotency key: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, nil, err
		}
		return idempotency.Fresh, rec, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("postgres: load idempotency key: %w", err)
	}

	if rec.RequestHash != requestHash {
		return idempotency.HashMismatch, nil, &ledgererr.IdempotencyConflictError{Key: key}
	}

	switch rec.ProcessingStatus {
	case idempotency.StatusCompleted, idempotency.StatusFailed:
		if err := tx.Commit(ctx); err != nil {
			return 0, nil, err
		}
		return idempotency.Completed, rec, nil
	default: // processing
		const staleSeconds = int(idempotency.StaleProcessingTimeout / 1e9)
		tag, err := tx.Exec(ctx,
			`UPDATE idempotency_keys SET processing_started_at = now()
			 WHERE key = $1 AND processing_started_at < now() - ($2 || ' seconds')::interval`,
			key, staleSeconds,
		)
		if err != nil {
			return 0, nil, fmt.Errorf("postgres: reclaim stale idempotency key: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return idempotency.InFlight, nil, ledgererr.ErrIdempotencyInFlight
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, nil, err
		}
		return idempotency.Fresh, rec, nil
	}
}

func scanIdempotencyRecord(ctx context.Context, tx pgx.Tx, key string) (*idempotency.Record, error) {
	var rec idempotency.Record
	var eventID *string
	var responseStatus *int
	err := tx.QueryRow(ctx,
		`SELECT key, request_hash, event_id, response_status, response_body, processing_status, processing_started_at, created_at, expires_at
		 FROM idempotency_keys WHERE key = $1 FOR UPDATE`,
		key,
	).Scan(&rec.Key, &rec.RequestHash, &eventID, &responseStatus, &rec.ResponseBody, &rec.ProcessingStatus, &rec.ProcessingStartedAt, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if eventID != nil {
		rec.EventID = *eventID
	}
	if responseStatus != nil {
		rec.ResponseStatus = *responseStatus
	}
	return &rec, nil
}

// Complete opens no transaction of its own: it backs the idempotency.Store
// interface for standalone callers. Command handlers go through
// Tx.Complete instead, so the key is only marked completed inside the
// same transaction that appended and projected the event it answers for.
func (s *Store) Complete(ctx context.Context, key, eventID string, responseStatus int, responseBody []byte) error {
	return completeIdempotency(ctx, s.pool, key, eventID, responseStatus, responseBody)
}

func completeIdempotency(ctx context.Context, db querier, key, eventID string, responseStatus int, responseBody []byte) error {
	tag, err := db.Exec(ctx,
		`UPDATE idempotency_keys SET processing_status = 'completed', event_id = $2, response_status = $3, response_body = $4
		 WHERE key = $1`,
		key, eventID, responseStatus, responseBody,
	)
	if err != nil {
		return fmt.Errorf("postgres: complete idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return idempotency.ErrKeyNotFound
	}
	return nil
}

func (s *Store) Fail(ctx context.Context, key string, responseStatus int, responseBody []byte) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE idempotency_keys SET processing_status = 'failed', response_status = $2, response_body = $3
		 WHERE key = $1`,
		key, responseStatus, responseBody,
	)
	if err != nil {
		return fmt.Errorf("postgres: fail idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return idempotency.ErrKeyNotFound
	}
	return nil
}

// SweepStaleProcessing resets keys stuck in "processing" past the stale
// timeout back to "failed", for crash recovery.
func (s *Store) SweepStaleProcessing(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE idempotency_keys SET processing_status = 'failed'
		 WHERE processing_status = 'processing' AND processing_started_at < now() - interval '5 minutes'`,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: sweep stale processing: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// SweepExpired deletes keys past their 24h TTL.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at < now()`)
	if err != nil {
		return 0, fmt.Errorf("postgres: sweep expired: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
