/*
Package eventstore implements the append-only event log: atomic
multi-aggregate append with optimistic concurrency, idempotency-key
dedup, aggregate rehydration from snapshot + events, and the
positive-multiple-of-100 snapshot policy.

IMPLEMENTATIONS:
  - internal/store/postgres (eventstore.go): production store backed by pgx/pgxpool
  - memory.go:   in-memory store for unit tests

APPEND-ONLY CONTRACT:
  Events are never updated or deleted. Corrections are made by appending
  new events (e.g. a reversal), never by mutating history. Snapshots are
  the exception: PutSnapshot overwrites an aggregate's previous snapshot.
*/
package eventstore

import (
	"context"
	"time"
)

// AggregateType names the kind of aggregate an event belongs to.
type AggregateType string

const (
	AggregateAccount AggregateType = "account"
	AggregateUser    AggregateType = "user"
)

// EventType names the kind of domain event stored in the log.
type EventType string

const (
	EventAccountCreated   EventType = "AccountCreated"
	EventMoneyCredited    EventType = "MoneyCredited"
	EventMoneyDebited     EventType = "MoneyDebited"
	EventAccountFrozen    EventType = "AccountFrozen"
	EventAccountUnfrozen  EventType = "AccountUnfrozen"
	EventUserCreated      EventType = "UserCreated"
	EventUserUpdated      EventType = "UserUpdated"
	EventUserDeactivated  EventType = "UserDeactivated"
)

// OperationContext carries the request-scoped provenance attached to every
// appended event and, from it, to the audit trail.
type OperationContext struct {
	APIKeyID      string
	RequestUserID string
	CorrelationID string
	ClientIP      string
}

// Event is a single immutable fact recorded against one aggregate at one
// version. Payload is the event-type-specific JSON body.
type Event struct {
	ID             string
	AggregateType  AggregateType
	AggregateID    string
	Version        int
	EventType      EventType
	Payload        []byte
	Context        OperationContext
	IdempotencyKey string // only ever set on the first event of an append call
	CreatedAt      time.Time
}

// NewEvent builds an Event with EventType/Payload set and every other
// field left for the store to fill in at append time (ID, AggregateID,
// Version, CreatedAt).
func NewEvent(eventType EventType, payload []byte) Event {
	return Event{EventType: eventType, Payload: payload}
}

// AggregateOperation is one aggregate's contribution to an atomic
// multi-aggregate append: the events it produced, and the version it
// expects to find in storage before they're applied.
type AggregateOperation struct {
	AggregateType   AggregateType
	AggregateID     string
	ExpectedVersion int // -1 means "aggregate must not exist yet"
	Events          []Event
}

// Snapshot is a materialized aggregate state captured at a specific
// version, used to bound rehydration cost.
type Snapshot struct {
	AggregateType AggregateType
	AggregateID   string
	Version       int
	State         []byte // JSON-encoded aggregate state
}

// SnapshotInterval is the version multiple at which a snapshot is taken
// after a successful append, per the spec's snapshot policy.
const SnapshotInterval = 100

// Rehydration is what Load returns: the events to fold over an aggregate's
// default state, starting from an optional snapshot.
type Rehydration struct {
	Snapshot *Snapshot // nil if no snapshot exists
	Events   []Event   // events strictly after Snapshot.Version, ascending
}

// MaxAppendRetries bounds the command handlers' retry loop
// (command.withRetry) for ConcurrencyConflict errors; the stores
// themselves do not retry.
const MaxAppendRetries = 3

// RetryBackoff returns the backoff duration before retry attempt n
// (0-indexed), per the spec's 50ms*2^attempt policy.
func RetryBackoff(attempt int) time.Duration {
	return 50 * time.Millisecond * (1 << uint(attempt))
}

// MaybeSnapshot applies the spec's snapshot policy: after a successful
// append, if version is a positive multiple of SnapshotInterval, the
// caller's folded aggregate state (produced lazily by stateFn, to avoid
// the marshal cost on the common path) is upserted as a snapshot.
func MaybeSnapshot(ctx context.Context, store Store, aggType AggregateType, id string, version int, stateFn func() ([]byte, error)) error {
	if version <= 0 || version%SnapshotInterval != 0 {
		return nil
	}
	state, err := stateFn()
	if err != nil {
		return err
	}
	return store.PutSnapshot(ctx, Snapshot{AggregateType: aggType, AggregateID: id, Version: version, State: state})
}

// Store is the event store's storage-facing contract.
type Store interface {
	// AppendAtomic appends events for one or more aggregates in a single
	// transaction, enforcing optimistic concurrency for every operation
	// and idempotency-key uniqueness for the call as a whole. On success
	// it returns the IDs of every inserted event, in call order. It does
	// not write snapshots; that is MaybeSnapshot's job.
	//
	// idempotencyKey, if non-empty, is attached only to the first
	// inserted event. AppendAtomic does not retry: a ConcurrencyConflict
	// is returned to the caller like any other error, and command
	// handlers retry it (with freshly reloaded aggregates) up to
	// MaxAppendRetries times.
	AppendAtomic(ctx context.Context, ops []AggregateOperation, idempotencyKey string) ([]string, error)

	// Load returns the snapshot (if any) and the events needed to
	// rehydrate an aggregate. A nil Rehydration with a nil error means
	// the aggregate has never been written.
	Load(ctx context.Context, aggregateType AggregateType, aggregateID string) (*Rehydration, error)

	// CurrentVersion returns the highest version recorded for an
	// aggregate, or -1 if it has none.
	CurrentVersion(ctx context.Context, aggregateType AggregateType, aggregateID string) (int, error)

	// PutSnapshot upserts the snapshot for an aggregate: at most one row
	// per aggregate, ON CONFLICT DO UPDATE semantics.
	PutSnapshot(ctx context.Context, snap Snapshot) error
}
