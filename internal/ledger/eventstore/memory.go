package eventstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atp-ledger/core/internal/ledger/ledgererr"
)

// aggKey identifies one aggregate's event stream.
type aggKey struct {
	aggType AggregateType
	id      string
}

// Memory is an in-memory Store, used by unit tests and by the in-process
// test doubles for the command handlers. It is safe for concurrent use.
type Memory struct {
	mu          sync.Mutex
	events      map[aggKey][]Event
	snapshots   map[aggKey]Snapshot
	idempotency map[string]bool
}

// NewMemory constructs an empty in-memory event store.
func NewMemory() *Memory {
	return &Memory{
		events:      make(map[aggKey][]Event),
		snapshots:   make(map[aggKey]Snapshot),
		idempotency: make(map[string]bool),
	}
}

func (m *Memory) AppendAtomic(_ context.Context, ops []AggregateOperation, idempotencyKey string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if idempotencyKey != "" && m.idempotency[idempotencyKey] {
		return nil, &ledgererr.IdempotencyConflictError{Key: idempotencyKey}
	}

	// Validate every operation's expected version before mutating anything,
	// so the call is all-or-nothing.
	for _, op := range ops {
		k := aggKey{aggType: op.AggregateType, id: op.AggregateID}
		current := len(m.events[k]) - 1 // -1 when absent
		if current != op.ExpectedVersion {
			return nil, &ledgererr.ConcurrencyConflict{
				AggregateID:     op.AggregateID,
				ExpectedVersion: op.ExpectedVersion,
				ActualVersion:   current,
			}
		}
	}

	var ids []string
	first := true
	for _, op := range ops {
		k := aggKey{aggType: op.AggregateType, id: op.AggregateID}
		for i, ev := range op.Events {
			ev.ID = uuid.NewString()
			ev.AggregateType = op.AggregateType
			ev.AggregateID = op.AggregateID
			ev.Version = op.ExpectedVersion + 1 + i
			ev.CreatedAt = time.Now().UTC()
			if first && idempotencyKey != "" {
				ev.IdempotencyKey = idempotencyKey
				first = false
			}
			m.events[k] = append(m.events[k], ev)
			ids = append(ids, ev.ID)
		}
		m.maybeSnapshotLocked(k)
	}
	if idempotencyKey != "" {
		m.idempotency[idempotencyKey] = true
	}
	return ids, nil
}

// maybeSnapshotLocked records an empty placeholder snapshot when the
// aggregate's version reaches a positive multiple of SnapshotInterval and
// no snapshot exists yet. The placeholder carries no state, so Load
// ignores it; only a PutSnapshot call with real state (MaybeSnapshot)
// replaces it with a usable snapshot.
func (m *Memory) maybeSnapshotLocked(k aggKey) {
	version := len(m.events[k]) - 1
	if version > 0 && version%SnapshotInterval == 0 {
		if _, ok := m.snapshots[k]; !ok {
			m.snapshots[k] = Snapshot{AggregateType: k.aggType, AggregateID: k.id, Version: version}
		}
	}
}

// PutSnapshot upserts a snapshot, matching the ON CONFLICT...DO UPDATE
// behavior of the Postgres store: at most one snapshot per aggregate.
func (m *Memory) PutSnapshot(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := aggKey{aggType: snap.AggregateType, id: snap.AggregateID}
	m.snapshots[k] = snap
	return nil
}

func (m *Memory) Load(_ context.Context, aggregateType AggregateType, aggregateID string) (*Rehydration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := aggKey{aggType: aggregateType, id: aggregateID}
	events := m.events[k]
	snap, hasSnap := m.snapshots[k]

	if len(events) == 0 && !hasSnap {
		return nil, nil
	}

	r := &Rehydration{}
	from := -1
	if hasSnap && len(snap.State) > 0 {
		s := snap
		r.Snapshot = &s
		from = snap.Version
	}

	var tail []Event
	for _, ev := range events {
		if ev.Version > from {
			tail = append(tail, ev)
		}
	}
	sort.Slice(tail, func(i, j int) bool { return tail[i].Version < tail[j].Version })
	r.Events = tail
	return r, nil
}

func (m *Memory) CurrentVersion(_ context.Context, aggregateType AggregateType, aggregateID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := aggKey{aggType: aggregateType, id: aggregateID}
	return len(m.events[k]) - 1, nil
}

// Events returns a defensive copy of every event ever appended for an
// aggregate, in version order. Exposed for tests asserting version
// contiguity (testable property 1).
func (m *Memory) Events(aggregateType AggregateType, aggregateID string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := aggKey{aggType: aggregateType, id: aggregateID}
	out := make([]Event, len(m.events[k]))
	copy(out, m.events[k])
	return out
}

// memorySnapshot is an opaque deep copy of Memory's state, used by
// command.MemoryUnitOfWork to emulate transactional rollback in tests.
type memorySnapshot struct {
	events      map[aggKey][]Event
	snapshots   map[aggKey]Snapshot
	idempotency map[string]bool
}

// Snapshot returns a deep copy of m's current state.
func (m *Memory) Snapshot() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	events := make(map[aggKey][]Event, len(m.events))
	for k, v := range m.events {
		events[k] = append([]Event(nil), v...)
	}
	snaps := make(map[aggKey]Snapshot, len(m.snapshots))
	for k, v := range m.snapshots {
		snaps[k] = v
	}
	idem := make(map[string]bool, len(m.idempotency))
	for k, v := range m.idempotency {
		idem[k] = v
	}
	return memorySnapshot{events: events, snapshots: snaps, idempotency: idem}
}

// Restore replaces m's state with a snapshot previously returned by Snapshot.
func (m *Memory) Restore(snap any) {
	s := snap.(memorySnapshot)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = s.events
	m.snapshots = s.snapshots
	m.idempotency = s.idempotency
}
