package command_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atp-ledger/core/internal/ledger/command"
	"github.com/atp-ledger/core/internal/money"
)

func TestUpdateUser_AppliesChangedFields(t *testing.T) {
	h, _ := newHandler(t)
	alice := createUser(t, h, "alice", "idem-1")

	updated, err := h.UpdateUser(context.Background(), command.UpdateUserRequest{
		UserID: alice.UserID, ChangedFields: map[string]string{"display_name": "Alice Smith"},
	}, opctx(alice.UserID))
	require.NoError(t, err)
	require.Equal(t, "Alice Smith", updated.DisplayName)
}

func TestDeactivateUser_SoftDeletesWithoutTouchingBalance(t *testing.T) {
	h, _ := newHandler(t)
	alice := createUser(t, h, "alice", "idem-1")

	_, err := h.Mint(context.Background(), command.MintRequest{
		ToUserID: alice.UserID, Amount: money.MustNew("10"), IdempotencyKey: "idem-mint",
	}, opctx(command.SystemMintUserID))
	require.NoError(t, err)

	require.NoError(t, h.DeactivateUser(context.Background(), alice.UserID, opctx(alice.UserID)))

	bal, err := h.Projection.GetBalance(context.Background(), alice.AccountID)
	require.NoError(t, err)
	require.True(t, bal.Balance.Equal(money.MustNew("10")), "deactivation must not change the wallet balance")

	_, err = h.UpdateUser(context.Background(), command.UpdateUserRequest{
		UserID: alice.UserID, ChangedFields: map[string]string{"display_name": "x"},
	}, opctx(alice.UserID))
	require.Error(t, err, "deactivated user must reject further mutating commands")
}
