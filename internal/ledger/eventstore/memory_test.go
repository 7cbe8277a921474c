package eventstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atp-ledger/core/internal/ledger/eventstore"
	"github.com/atp-ledger/core/internal/ledger/ledgererr"
)

func TestAppendAtomic_AssignsContiguousVersions(t *testing.T) {
	m := eventstore.NewMemory()
	ctx := context.Background()

	ids, err := m.AppendAtomic(ctx, []eventstore.AggregateOperation{
		{AggregateType: eventstore.AggregateAccount, AggregateID: "acc-1", ExpectedVersion: -1,
			Events: []eventstore.Event{eventstore.NewEvent(eventstore.EventAccountCreated, nil)}},
	}, "")
	require.NoError(t, err)
	require.Len(t, ids, 1)

	version, err := m.CurrentVersion(ctx, eventstore.AggregateAccount, "acc-1")
	require.NoError(t, err)
	require.Equal(t, 0, version)

	_, err = m.AppendAtomic(ctx, []eventstore.AggregateOperation{
		{AggregateType: eventstore.AggregateAccount, AggregateID: "acc-1", ExpectedVersion: 0,
			Events: []eventstore.Event{eventstore.NewEvent(eventstore.EventMoneyCredited, nil)}},
	}, "")
	require.NoError(t, err)

	version, err = m.CurrentVersion(ctx, eventstore.AggregateAccount, "acc-1")
	require.NoError(t, err)
	require.Equal(t, 1, version)
}

func TestAppendAtomic_WrongExpectedVersion_ReturnsConcurrencyConflict(t *testing.T) {
	m := eventstore.NewMemory()
	ctx := context.Background()

	_, err := m.AppendAtomic(ctx, []eventstore.AggregateOperation{
		{AggregateType: eventstore.AggregateAccount, AggregateID: "acc-1", ExpectedVersion: -1,
			Events: []eventstore.Event{eventstore.NewEvent(eventstore.EventAccountCreated, nil)}},
	}, "")
	require.NoError(t, err)

	_, err = m.AppendAtomic(ctx, []eventstore.AggregateOperation{
		{AggregateType: eventstore.AggregateAccount, AggregateID: "acc-1", ExpectedVersion: 5,
			Events: []eventstore.Event{eventstore.NewEvent(eventstore.EventMoneyCredited, nil)}},
	}, "")
	var conflict *ledgererr.ConcurrencyConflict
	require.True(t, errors.As(err, &conflict))
	require.Equal(t, 5, conflict.ExpectedVersion)
	require.Equal(t, 0, conflict.ActualVersion)
}

func TestAppendAtomic_MultiAggregate_AllOrNothing(t *testing.T) {
	m := eventstore.NewMemory()
	ctx := context.Background()

	_, err := m.AppendAtomic(ctx, []eventstore.AggregateOperation{
		{AggregateType: eventstore.AggregateAccount, AggregateID: "acc-1", ExpectedVersion: -1,
			Events: []eventstore.Event{eventstore.NewEvent(eventstore.EventAccountCreated, nil)}},
		{AggregateType: eventstore.AggregateAccount, AggregateID: "acc-2", ExpectedVersion: 99, // wrong on purpose
			Events: []eventstore.Event{eventstore.NewEvent(eventstore.EventAccountCreated, nil)}},
	}, "")
	require.Error(t, err)

	version, err := m.CurrentVersion(ctx, eventstore.AggregateAccount, "acc-1")
	require.NoError(t, err)
	require.Equal(t, -1, version, "acc-1's event must not have been committed when acc-2's operation failed")
}

func TestAppendAtomic_DuplicateIdempotencyKey_Rejected(t *testing.T) {
	m := eventstore.NewMemory()
	ctx := context.Background()

	_, err := m.AppendAtomic(ctx, []eventstore.AggregateOperation{
		{AggregateType: eventstore.AggregateAccount, AggregateID: "acc-1", ExpectedVersion: -1,
			Events: []eventstore.Event{eventstore.NewEvent(eventstore.EventAccountCreated, nil)}},
	}, "idem-1")
	require.NoError(t, err)

	_, err = m.AppendAtomic(ctx, []eventstore.AggregateOperation{
		{AggregateType: eventstore.AggregateAccount, AggregateID: "acc-2", ExpectedVersion: -1,
			Events: []eventstore.Event{eventstore.NewEvent(eventstore.EventAccountCreated, nil)}},
	}, "idem-1")
	require.ErrorIs(t, err, ledgererr.ErrIdempotencyHashMismatch)
}

func TestLoad_ReturnsNilForNeverWrittenAggregate(t *testing.T) {
	m := eventstore.NewMemory()
	r, err := m.Load(context.Background(), eventstore.AggregateAccount, "nope")
	require.NoError(t, err)
	require.Nil(t, r)
}

func TestLoad_OnlyReturnsEventsAfterSnapshot(t *testing.T) {
	m := eventstore.NewMemory()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		expected := i - 1
		_, err := m.AppendAtomic(ctx, []eventstore.AggregateOperation{
			{AggregateType: eventstore.AggregateAccount, AggregateID: "acc-1", ExpectedVersion: expected,
				Events: []eventstore.Event{eventstore.NewEvent(eventstore.EventMoneyCredited, nil)}},
		}, "")
		require.NoError(t, err)
	}

	require.NoError(t, m.PutSnapshot(ctx, eventstore.Snapshot{
		AggregateType: eventstore.AggregateAccount, AggregateID: "acc-1", Version: 1, State: []byte(`{"version":1}`),
	}))

	r, err := m.Load(ctx, eventstore.AggregateAccount, "acc-1")
	require.NoError(t, err)
	require.NotNil(t, r.Snapshot)
	require.Len(t, r.Events, 1)
	require.Equal(t, 2, r.Events[0].Version)
}

func TestMaybeSnapshot_SkipsNonMultipleVersions(t *testing.T) {
	m := eventstore.NewMemory()
	called := false
	err := eventstore.MaybeSnapshot(context.Background(), m, eventstore.AggregateAccount, "acc-1", 1, func() ([]byte, error) {
		called = true
		return nil, nil
	})
	require.NoError(t, err)
	require.False(t, called)
}

func TestMaybeSnapshot_TriggersAtInterval(t *testing.T) {
	m := eventstore.NewMemory()
	called := false
	err := eventstore.MaybeSnapshot(context.Background(), m, eventstore.AggregateAccount, "acc-1", eventstore.SnapshotInterval, func() ([]byte, error) {
		called = true
		return []byte(`{}`), nil
	})
	require.NoError(t, err)
	require.True(t, called)
}
