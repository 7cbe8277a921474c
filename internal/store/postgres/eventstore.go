package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/atp-ledger/core/internal/ledger/eventstore"
	"github.com/atp-ledger/core/internal/ledger/ledgererr"
)

// AppendAtomic opens its own transaction and delegates to appendAtomic.
// It backs the eventstore.Store interface for standalone callers
// (Bootstrap, direct tests); command handlers go through Tx.AppendAtomic
// instead, so the append lands in the same transaction as the
// projection update, audit insert, and idempotency finalize it belongs
// with.
func (s *Store) AppendAtomic(ctx context.Context, ops []eventstore.AggregateOperation, idempotencyKey string) ([]string, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("postgres: begin append tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ids, err := appendAtomic(ctx, tx, ops, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit append tx: %w", err)
	}
	return ids, nil
}

// appendAtomic implements the algorithm of spec.md 4.1: for each
// operation, lock the aggregate's current max version with SELECT ...
// FOR UPDATE, compare to ExpectedVersion, then insert events at
// expected+1+i. idempotencyKey is attached only to the first inserted
// event across the whole call. db must be a transaction: the FOR UPDATE
// lock only holds for the lifetime of the caller's transaction, so
// calling this against the bare pool would let the lock release before
// the insert that depends on it.
func appendAtomic(ctx context.Context, db querier, ops []eventstore.AggregateOperation, idempotencyKey string) ([]string, error) {
	var ids []string
	first := true
	for _, op := range ops {
		var current int
		err := db.QueryRow(ctx,
			`SELECT COALESCE(MAX(version), -1) FROM events WHERE aggregate_type = $1 AND aggregate_id = $2 FOR UPDATE`,
			op.AggregateType, op.AggregateID,
		).Scan(&current)
		if err != nil {
			return nil, fmt.Errorf("postgres: lock aggregate version: %w", err)
		}
		if current != op.ExpectedVersion {
			return nil, &ledgererr.ConcurrencyConflict{
				AggregateID:     op.AggregateID,
				ExpectedVersion: op.ExpectedVersion,
				ActualVersion:   current,
			}
		}

		for i, ev := range op.Events {
			id := uuid.NewString()
			version := op.ExpectedVersion + 1 + i
			contextJSON, err := json.Marshal(ev.Context)
			if err != nil {
				return nil, err
			}

			var key *string
			if first && idempotencyKey != "" {
				k := idempotencyKey
				key = &k
				first = false
			}

			_, err = db.Exec(ctx,
				`INSERT INTO events (id, aggregate_type, aggregate_id, version, event_type, payload, context, idempotency_key, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
				id, op.AggregateType, op.AggregateID, version, ev.EventType, ev.Payload, contextJSON, key,
			)
			if err != nil {
				if isUniqueViolation(err, "events_idempotency_key_created_at_key") {
					return nil, &ledgererr.IdempotencyConflictError{Key: idempotencyKey}
				}
				return nil, fmt.Errorf("postgres: insert event: %w", err)
			}
			ids = append(ids, id)

			ev.ID, ev.AggregateID, ev.AggregateType, ev.Version = id, op.AggregateID, op.AggregateType, version
			if err := projectIdentityEvent(ctx, db, ev); err != nil {
				return nil, fmt.Errorf("postgres: project identity event: %w", err)
			}
		}
	}

	return ids, nil
}

func (s *Store) Load(ctx context.Context, aggregateType eventstore.AggregateType, aggregateID string) (*eventstore.Rehydration, error) {
	var snap *eventstore.Snapshot
	var snapVersion int = -1

	row := s.pool.QueryRow(ctx,
		`SELECT version, state FROM snapshots WHERE aggregate_type = $1 AND aggregate_id = $2`,
		aggregateType, aggregateID,
	)
	var state []byte
	var version int
	err := row.Scan(&version, &state)
	switch {
	case err == nil:
		snap = &eventstore.Snapshot{AggregateType: aggregateType, AggregateID: aggregateID, Version: version, State: state}
		snapVersion = version
	case errors.Is(err, pgx.ErrNoRows):
		// no snapshot
	default:
		return nil, fmt.Errorf("postgres: load snapshot: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, version, event_type, payload, context, idempotency_key, created_at
		 FROM events WHERE aggregate_type = $1 AND aggregate_id = $2 AND version > $3 ORDER BY version ASC`,
		aggregateType, aggregateID, snapVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: load events: %w", err)
	}
	defer rows.Close()

	var events []eventstore.Event
	for rows.Next() {
		var ev eventstore.Event
		var contextJSON []byte
		var idemKey *string
		if err := rows.Scan(&ev.ID, &ev.Version, &ev.EventType, &ev.Payload, &contextJSON, &idemKey, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		if err := json.Unmarshal(contextJSON, &ev.Context); err != nil {
			return nil, err
		}
		if idemKey != nil {
			ev.IdempotencyKey = *idemKey
		}
		ev.AggregateType = aggregateType
		ev.AggregateID = aggregateID
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if snap == nil && len(events) == 0 {
		return nil, nil
	}
	return &eventstore.Rehydration{Snapshot: snap, Events: events}, nil
}

func (s *Store) CurrentVersion(ctx context.Context, aggregateType eventstore.AggregateType, aggregateID string) (int, error) {
	var version int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), -1) FROM events WHERE aggregate_type = $1 AND aggregate_id = $2`,
		aggregateType, aggregateID,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("postgres: current version: %w", err)
	}
	return version, nil
}

func (s *Store) PutSnapshot(ctx context.Context, snap eventstore.Snapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO snapshots (aggregate_type, aggregate_id, version, state)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (aggregate_type, aggregate_id) DO UPDATE SET version = EXCLUDED.version, state = EXCLUDED.state`,
		snap.AggregateType, snap.AggregateID, snap.Version, snap.State,
	)
	if err != nil {
		return fmt.Errorf("postgres: put snapshot: %w", err)
	}
	return nil
}
