package idempotency_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atp-ledger/core/internal/ledger/idempotency"
)

func TestStart_FreshKey(t *testing.T) {
	m := idempotency.NewMemory()
	outcome, rec, err := m.Start(context.Background(), "key-1", "hash-1")
	require.NoError(t, err)
	require.Equal(t, idempotency.Fresh, outcome)
	require.NotNil(t, rec)
}

func TestStart_CompletedKey_ReplaysCachedOutcome(t *testing.T) {
	m := idempotency.NewMemory()
	ctx := context.Background()
	_, _, err := m.Start(ctx, "key-1", "hash-1")
	require.NoError(t, err)
	require.NoError(t, m.Complete(ctx, "key-1", "event-1", 201, []byte(`{"ok":true}`)))

	outcome, rec, err := m.Start(ctx, "key-1", "hash-1")
	require.NoError(t, err)
	require.Equal(t, idempotency.Completed, outcome)
	require.Equal(t, `{"ok":true}`, string(rec.ResponseBody))
}

func TestStart_DifferentHash_ReturnsHashMismatch(t *testing.T) {
	m := idempotency.NewMemory()
	ctx := context.Background()
	_, _, err := m.Start(ctx, "key-1", "hash-1")
	require.NoError(t, err)

	outcome, rec, err := m.Start(ctx, "key-1", "hash-2")
	require.Equal(t, idempotency.HashMismatch, outcome)
	require.Nil(t, rec)
	require.Error(t, err)
}

func TestStart_ProcessingKey_ReturnsInFlight(t *testing.T) {
	m := idempotency.NewMemory()
	ctx := context.Background()
	_, _, err := m.Start(ctx, "key-1", "hash-1")
	require.NoError(t, err)

	outcome, rec, err := m.Start(ctx, "key-1", "hash-1")
	require.Equal(t, idempotency.InFlight, outcome)
	require.Nil(t, rec)
	require.Error(t, err)
}

func TestSweepExpired_KeepsUnexpiredKeys(t *testing.T) {
	m := idempotency.NewMemory()
	ctx := context.Background()
	_, _, err := m.Start(ctx, "key-1", "hash-1")
	require.NoError(t, err)

	n, err := m.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n, "fresh keys should not be swept before their TTL elapses")
}

func TestHashRequest_IsDeterministic(t *testing.T) {
	type req struct {
		A string
		B int
	}
	h1, err := idempotency.HashRequest(req{A: "x", B: 1})
	require.NoError(t, err)
	h2, err := idempotency.HashRequest(req{A: "x", B: 1})
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	h3, err := idempotency.HashRequest(req{A: "x", B: 2})
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}
