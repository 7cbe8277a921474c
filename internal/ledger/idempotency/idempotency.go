/*
Package idempotency implements the idempotency-key state machine guarding
every command handler's entry point: absent -> processing -> completed or
failed, with a stale-processing sweeper for crash recovery and an
expiry sweeper for the 24h TTL.

This is the first of the two exact-once defenses described by the core
spec; the second is the unique constraint on events.idempotency_key
enforced by the event store itself, which holds even if this layer is
bypassed.
*/
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/atp-ledger/core/internal/ledger/ledgererr"
)

// Status is the processing_status column's domain.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// StaleProcessingTimeout is how long a key may sit in "processing" before
// the sweeper reclaims it as failed, per the spec's crash-recovery rule.
const StaleProcessingTimeout = 5 * time.Minute

// TTL is how long after creation a key expires and becomes eligible for
// deletion by the expiry sweeper.
const TTL = 24 * time.Hour

// Outcome is what lookup/start report about a key's current disposition.
type Outcome int

const (
	Fresh Outcome = iota
	InFlight
	Completed
	HashMismatch
)

// Record is the full row behind one idempotency key.
type Record struct {
	Key                string
	RequestHash        string
	EventID            string
	ResponseStatus      int
	ResponseBody        []byte
	ProcessingStatus    Status
	ProcessingStartedAt time.Time
	CreatedAt           time.Time
	ExpiresAt           time.Time
}

// HashRequest computes the canonical request-hash for a key: SHA-256 over
// the JSON-marshaled request body, used to detect same-key-different-body
// reuse.
func HashRequest(body any) (string, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Store is the idempotency layer's storage-facing contract.
type Store interface {
	// Start reserves key for processing, or reports its current
	// disposition if it already exists. On Fresh, the caller owns the
	// key and must eventually call Complete or Fail. On Completed, rec
	// carries the cached outcome to replay byte-identically.
	Start(ctx context.Context, key, requestHash string) (outcome Outcome, rec *Record, err error)

	// Complete records a successful outcome.
	Complete(ctx context.Context, key, eventID string, responseStatus int, responseBody []byte) error

	// Fail records a failed outcome, releasing the key for a future
	// identical retry is NOT implied: a failed key still replays its
	// cached failure response on exact-hash retry.
	Fail(ctx context.Context, key string, responseStatus int, responseBody []byte) error

	// SweepStaleProcessing resets keys stuck in "processing" for longer
	// than StaleProcessingTimeout back to "failed", reclaiming them for
	// crash recovery. Returns the number of rows affected.
	SweepStaleProcessing(ctx context.Context) (int, error)

	// SweepExpired deletes keys whose TTL has passed. Returns the number
	// of rows deleted.
	SweepExpired(ctx context.Context) (int, error)
}

// ErrKeyNotFound is returned by Store implementations when a key looked
// up directly (outside of Start) does not exist.
var ErrKeyNotFound = errors.New("idempotency key not found")

// Memory is an in-memory Store used by unit tests.
type Memory struct {
	mu      sync.Mutex
	records map[string]*Record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]*Record)}
}

func (m *Memory) Start(_ context.Context, key, requestHash string) (Outcome, *Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	rec, ok := m.records[key]
	if !ok {
		rec = &Record{
			Key:                 key,
			RequestHash:         requestHash,
			ProcessingStatus:    StatusProcessing,
			ProcessingStartedAt: now,
			CreatedAt:           now,
			ExpiresAt:           now.Add(TTL),
		}
		m.records[key] = rec
		return Fresh, rec, nil
	}

	if rec.RequestHash != requestHash {
		return HashMismatch, nil, &ledgererr.IdempotencyConflictError{Key: key}
	}

	switch rec.ProcessingStatus {
	case StatusCompleted, StatusFailed:
		return Completed, rec, nil
	default: // StatusProcessing
		if now.Sub(rec.ProcessingStartedAt) > StaleProcessingTimeout {
			rec.ProcessingStartedAt = now
			return Fresh, rec, nil
		}
		return InFlight, nil, ledgererr.ErrIdempotencyInFlight
	}
}

func (m *Memory) Complete(_ context.Context, key, eventID string, status int, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return ErrKeyNotFound
	}
	rec.ProcessingStatus = StatusCompleted
	rec.EventID = eventID
	rec.ResponseStatus = status
	rec.ResponseBody = body
	return nil
}

func (m *Memory) Fail(_ context.Context, key string, status int, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return ErrKeyNotFound
	}
	rec.ProcessingStatus = StatusFailed
	rec.ResponseStatus = status
	rec.ResponseBody = body
	return nil
}

func (m *Memory) SweepStaleProcessing(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for _, rec := range m.records {
		if rec.ProcessingStatus == StatusProcessing && now.Sub(rec.ProcessingStartedAt) > StaleProcessingTimeout {
			rec.ProcessingStatus = StatusFailed
			n++
		}
	}
	return n, nil
}

func (m *Memory) SweepExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for k, rec := range m.records {
		if rec.ExpiresAt.Before(now) {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

// memorySnapshot is an opaque deep copy of Memory's state, used by
// command.MemoryUnitOfWork to emulate transactional rollback in tests.
type memorySnapshot struct {
	records map[string]*Record
}

// Snapshot returns a deep copy of m's current state.
func (m *Memory) Snapshot() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make(map[string]*Record, len(m.records))
	for k, v := range m.records {
		cp := *v
		records[k] = &cp
	}
	return memorySnapshot{records: records}
}

// Restore replaces m's state with a snapshot previously returned by Snapshot.
func (m *Memory) Restore(snap any) {
	s := snap.(memorySnapshot)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = s.records
}
