package audit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atp-ledger/core/internal/ledger/audit"
)

func TestAppend_ChainsFromZeroHash(t *testing.T) {
	m := audit.NewMemory()
	e, err := m.Append(context.Background(), audit.Entry{ID: "a1", Action: "user.create", ResourceType: "user", ResourceID: "u1"})
	require.NoError(t, err)
	require.Equal(t, audit.ZeroHash, e.PreviousHash)
	require.Equal(t, int64(1), e.SequenceNumber)
	require.NotEmpty(t, e.CurrentHash)
}

func TestAppend_SecondEntryChainsToFirst(t *testing.T) {
	m := audit.NewMemory()
	ctx := context.Background()
	first, err := m.Append(ctx, audit.Entry{ID: "a1", Action: "user.create", ResourceType: "user", ResourceID: "u1"})
	require.NoError(t, err)
	second, err := m.Append(ctx, audit.Entry{ID: "a2", Action: "transfer.create", ResourceType: "transfer", ResourceID: "t1"})
	require.NoError(t, err)
	require.Equal(t, first.CurrentHash, second.PreviousHash)
}

func TestVerify_AcceptsUntamperedChain(t *testing.T) {
	m := audit.NewMemory()
	ctx := context.Background()
	_, err := m.Append(ctx, audit.Entry{ID: "a1", Action: "user.create", ResourceType: "user", ResourceID: "u1"})
	require.NoError(t, err)
	_, err = m.Append(ctx, audit.Entry{ID: "a2", Action: "transfer.create", ResourceType: "transfer", ResourceID: "t1"})
	require.NoError(t, err)

	entries := m.Entries()
	require.Len(t, entries, 2)

	ok, breakAt, err := m.Verify(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, breakAt)
}

func TestComputeHash_IsDeterministicOverFields(t *testing.T) {
	e := audit.Entry{
		ID: "a1", SequenceNumber: 1, Action: "user.create", RequestUserID: "u1",
		ResourceType: "user", ResourceID: "u1", BeforeState: nil, AfterState: []byte(`{"x":1}`),
		PreviousHash: audit.ZeroHash,
	}
	h1 := audit.ComputeHash(e)
	h2 := audit.ComputeHash(e)
	require.Equal(t, h1, h2)

	e.AfterState = []byte(`{"x":2}`)
	h3 := audit.ComputeHash(e)
	require.NotEqual(t, h1, h3)
}
