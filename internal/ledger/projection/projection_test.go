package projection_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atp-ledger/core/internal/ledger/ledgererr"
	"github.com/atp-ledger/core/internal/ledger/projection"
	"github.com/atp-ledger/core/internal/money"
)

func TestApplyCreateUser_SeedsZeroBalance(t *testing.T) {
	m := projection.NewMemory()
	require.NoError(t, m.ApplyCreateUser(context.Background(), projection.CreateUserParams{AccountID: "acc-1", EventID: "ev-1"}))

	bal, err := m.GetBalance(context.Background(), "acc-1")
	require.NoError(t, err)
	require.True(t, bal.Balance.IsZero())
}

func TestApplyTransfer_MovesBalanceAndRecordsBalancedEntries(t *testing.T) {
	m := projection.NewMemory()
	ctx := context.Background()
	m.SeedAccount("from", money.MustNew("100"))
	m.SeedAccount("to", money.MustNew("0"))

	err := m.ApplyTransfer(ctx, projection.TransferParams{
		JournalID: "j1", FromAccountID: "from", ToAccountID: "to", Amount: money.MustNew("30"),
		FromEventID: "e1", ToEventID: "e2", FromIsUserWallet: true,
	})
	require.NoError(t, err)

	fromBal, err := m.GetBalance(ctx, "from")
	require.NoError(t, err)
	require.True(t, fromBal.Balance.Equal(money.MustNew("70")))

	toBal, err := m.GetBalance(ctx, "to")
	require.NoError(t, err)
	require.True(t, toBal.Balance.Equal(money.MustNew("30")))

	entries := m.LedgerEntries()
	require.Len(t, entries, 2)
	var debit, credit money.Amount
	for _, e := range entries {
		require.Equal(t, "j1", e.JournalID)
		if e.EntryType == projection.Debit {
			debit = e.Amount
		} else {
			credit = e.Amount
		}
	}
	require.True(t, debit.Equal(credit), "debits and credits under one journal must balance")
}

func TestApplyTransfer_RejectsInsufficientBalanceForUserWallet(t *testing.T) {
	m := projection.NewMemory()
	ctx := context.Background()
	m.SeedAccount("from", money.MustNew("10"))
	m.SeedAccount("to", money.MustNew("0"))

	err := m.ApplyTransfer(ctx, projection.TransferParams{
		JournalID: "j1", FromAccountID: "from", ToAccountID: "to", Amount: money.MustNew("50"),
		FromEventID: "e1", ToEventID: "e2", FromIsUserWallet: true,
	})
	require.ErrorIs(t, err, ledgererr.ErrInsufficientBalance)

	fromBal, err := m.GetBalance(ctx, "from")
	require.NoError(t, err)
	require.True(t, fromBal.Balance.Equal(money.MustNew("10")), "balance must be unchanged on rejection")
}

func TestApplyTransfer_AllowsSystemAccountToGoNegative(t *testing.T) {
	m := projection.NewMemory()
	ctx := context.Background()
	m.SeedAccount("mint_source", money.MustNew("0"))
	m.SeedAccount("wallet", money.MustNew("0"))

	err := m.ApplyTransfer(ctx, projection.TransferParams{
		JournalID: "j1", FromAccountID: "mint_source", ToAccountID: "wallet", Amount: money.MustNew("100"),
		FromEventID: "e1", ToEventID: "e2", FromIsUserWallet: false,
	})
	require.NoError(t, err)

	mintBal, err := m.GetBalance(ctx, "mint_source")
	require.NoError(t, err)
	require.True(t, mintBal.Balance.Equal(money.MustNew("-100")))
}

func TestGetBalance_UnknownAccount(t *testing.T) {
	m := projection.NewMemory()
	_, err := m.GetBalance(context.Background(), "nope")
	require.ErrorIs(t, err, ledgererr.ErrNotFound)
}
