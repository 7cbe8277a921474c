package aggregate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atp-ledger/core/internal/ledger/aggregate"
	"github.com/atp-ledger/core/internal/ledger/eventstore"
	"github.com/atp-ledger/core/internal/ledger/ledgererr"
	"github.com/atp-ledger/core/internal/money"
)

func TestAccount_Create_ThenDebit_ThenCredit(t *testing.T) {
	a := aggregate.NewAccount("acc-1")
	createEvt, err := a.Create("user-1", aggregate.AccountUserWallet)
	require.NoError(t, err)
	createEvt.Version = 0
	require.NoError(t, a.Apply(createEvt))
	require.True(t, a.IsActive)
	require.Equal(t, "user-1", a.UserID)

	debitEvt, err := a.Debit(money.MustNew("5"), "transfer-1", "test")
	require.NoError(t, err)
	debitEvt.Version = 1
	require.NoError(t, a.Apply(debitEvt))
	require.Equal(t, 1, a.Version)
}

func TestAccount_Debit_FailsWhenFrozen(t *testing.T) {
	a := aggregate.NewAccount("acc-1")
	createEvt, _ := a.Create("user-1", aggregate.AccountUserWallet)
	createEvt.Version = 0
	require.NoError(t, a.Apply(createEvt))

	freezeEvt, err := a.Freeze()
	require.NoError(t, err)
	freezeEvt.Version = 1
	require.NoError(t, a.Apply(freezeEvt))

	_, err = a.Debit(money.MustNew("1"), "t", "")
	require.ErrorIs(t, err, ledgererr.ErrAccountFrozen)
}

func TestAccount_Create_FailsIfAlreadyExists(t *testing.T) {
	a := aggregate.NewAccount("acc-1")
	evt, _ := a.Create("user-1", aggregate.AccountUserWallet)
	evt.Version = 0
	require.NoError(t, a.Apply(evt))

	_, err := a.Create("user-1", aggregate.AccountUserWallet)
	require.Error(t, err)
}

func TestAccount_MustExist_BeforeDebitOrCredit(t *testing.T) {
	a := aggregate.NewAccount("acc-1")
	_, err := a.Debit(money.MustNew("1"), "t", "")
	require.ErrorIs(t, err, ledgererr.ErrNotFound)

	_, err = a.Credit(money.MustNew("1"), "t", "")
	require.ErrorIs(t, err, ledgererr.ErrNotFound)
}

func TestLoadAccount_ReturnsFreshAggregateWhenNothingWritten(t *testing.T) {
	store := eventstore.NewMemory()
	acc, err := aggregate.LoadAccount(context.Background(), store, "acc-missing")
	require.NoError(t, err)
	require.Equal(t, -1, acc.Version)
}

func TestLoadAccount_FoldsPersistedEvents(t *testing.T) {
	store := eventstore.NewMemory()
	ctx := context.Background()

	acc := aggregate.NewAccount("acc-1")
	createEvt, err := acc.Create("user-1", aggregate.AccountUserWallet)
	require.NoError(t, err)
	_, err = store.AppendAtomic(ctx, []eventstore.AggregateOperation{
		{AggregateType: eventstore.AggregateAccount, AggregateID: "acc-1", ExpectedVersion: -1, Events: []eventstore.Event{createEvt}},
	}, "")
	require.NoError(t, err)

	loaded, err := aggregate.LoadAccount(ctx, store, "acc-1")
	require.NoError(t, err)
	require.Equal(t, 0, loaded.Version)
	require.Equal(t, "user-1", loaded.UserID)
	require.True(t, loaded.IsActive)
}
