package command_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atp-ledger/core/internal/ledger/audit"
	"github.com/atp-ledger/core/internal/ledger/command"
	"github.com/atp-ledger/core/internal/ledger/eventstore"
	"github.com/atp-ledger/core/internal/ledger/idempotency"
	"github.com/atp-ledger/core/internal/ledger/ledgererr"
	"github.com/atp-ledger/core/internal/ledger/projection"
	"github.com/atp-ledger/core/internal/money"
)

func newHandler(t *testing.T) (*command.Handler, *command.MemoryDirectory) {
	t.Helper()
	events := eventstore.NewMemory()
	proj := projection.NewMemory()
	aud := audit.NewMemory()
	idem := idempotency.NewMemory()
	dir := command.NewMemoryDirectory()
	h := &command.Handler{
		Events:      events,
		Idempotency: idem,
		Projection:  proj,
		Audit:       aud,
		Tx:          command.NewMemoryUnitOfWork(events, proj, aud, idem),
		Directory:   dir,
		System:      command.DefaultSystemAccounts(),
	}
	require.NoError(t, command.Bootstrap(context.Background(), events, proj, dir))
	return h, dir
}

func opctx(userID string) eventstore.OperationContext {
	return eventstore.OperationContext{APIKeyID: "key-1", RequestUserID: userID, CorrelationID: "corr-1", ClientIP: "127.0.0.1"}
}

func createUser(t *testing.T, h *command.Handler, username, idemKey string) *command.CreateUserResult {
	t.Helper()
	res, err := h.CreateUser(context.Background(), command.CreateUserRequest{
		Username: username, Email: username + "@example.com", DisplayName: username, IdempotencyKey: idemKey,
	}, opctx(""))
	require.NoError(t, err)
	return res
}

func TestCreateUser_CreatesWalletWithZeroBalance(t *testing.T) {
	h, _ := newHandler(t)
	res := createUser(t, h, "alice", "idem-create-alice")
	require.NotEmpty(t, res.UserID)
	require.NotEmpty(t, res.AccountID)

	bal, err := h.Projection.GetBalance(context.Background(), res.AccountID)
	require.NoError(t, err)
	require.True(t, bal.Balance.IsZero())
}

func TestCreateUser_IdempotentReplay(t *testing.T) {
	h, _ := newHandler(t)
	first := createUser(t, h, "bob", "idem-create-bob")
	again, err := h.CreateUser(context.Background(), command.CreateUserRequest{
		Username: "bob", Email: "bob@example.com", DisplayName: "bob", IdempotencyKey: "idem-create-bob",
	}, opctx(""))
	require.NoError(t, err)
	require.Equal(t, first.UserID, again.UserID)
	require.Equal(t, first.AccountID, again.AccountID)
}

func TestCreateUser_SameKeyDifferentBody_HashMismatch(t *testing.T) {
	h, _ := newHandler(t)
	createUser(t, h, "carol", "idem-reused")
	_, err := h.CreateUser(context.Background(), command.CreateUserRequest{
		Username: "carol2", Email: "carol2@example.com", DisplayName: "carol2", IdempotencyKey: "idem-reused",
	}, opctx(""))
	require.ErrorIs(t, err, ledgererr.ErrIdempotencyHashMismatch)
}

func TestMintThenTransfer_BalancesMoveCorrectly(t *testing.T) {
	h, _ := newHandler(t)
	alice := createUser(t, h, "alice", "idem-1")
	bob := createUser(t, h, "bob", "idem-2")

	_, err := h.Mint(context.Background(), command.MintRequest{
		ToUserID: alice.UserID, Amount: money.MustNew("100"), Description: "grant", IdempotencyKey: "idem-mint-1",
	}, opctx(command.SystemMintUserID))
	require.NoError(t, err)

	aliceBal, err := h.Projection.GetBalance(context.Background(), alice.AccountID)
	require.NoError(t, err)
	require.True(t, aliceBal.Balance.Equal(money.MustNew("100")))

	_, err = h.Transfer(context.Background(), command.TransferRequest{
		FromUserID: alice.UserID, ToUserID: bob.UserID, Amount: money.MustNew("40"), Description: "payment", IdempotencyKey: "idem-xfer-1",
	}, opctx(alice.UserID))
	require.NoError(t, err)

	aliceBal, err = h.Projection.GetBalance(context.Background(), alice.AccountID)
	require.NoError(t, err)
	require.True(t, aliceBal.Balance.Equal(money.MustNew("60")))

	bobBal, err := h.Projection.GetBalance(context.Background(), bob.AccountID)
	require.NoError(t, err)
	require.True(t, bobBal.Balance.Equal(money.MustNew("40")))
}

func TestTransfer_InsufficientBalance_RejectedWithNoEventsAppended(t *testing.T) {
	h, _ := newHandler(t)
	alice := createUser(t, h, "alice", "idem-1")
	bob := createUser(t, h, "bob", "idem-2")

	_, err := h.Transfer(context.Background(), command.TransferRequest{
		FromUserID: alice.UserID, ToUserID: bob.UserID, Amount: money.MustNew("10"), Description: "overdraw", IdempotencyKey: "idem-xfer-fail",
	}, opctx(alice.UserID))
	require.ErrorIs(t, err, ledgererr.ErrInsufficientBalance)

	version, err := h.Events.CurrentVersion(context.Background(), eventstore.AggregateAccount, alice.AccountID)
	require.NoError(t, err)
	require.Equal(t, 0, version) // only the AccountCreated event from CreateUser
}

func TestTransfer_UnauthorizedWhenCallerIsNotSource(t *testing.T) {
	h, _ := newHandler(t)
	alice := createUser(t, h, "alice", "idem-1")
	bob := createUser(t, h, "bob", "idem-2")

	_, err := h.Transfer(context.Background(), command.TransferRequest{
		FromUserID: alice.UserID, ToUserID: bob.UserID, Amount: money.MustNew("1"), Description: "x", IdempotencyKey: "idem-unauth",
	}, opctx(bob.UserID))
	require.ErrorIs(t, err, ledgererr.ErrUnauthorizedTransfer)
}

func TestBurn_ContractsSupplyBySymmetryWithMint(t *testing.T) {
	h, _ := newHandler(t)
	alice := createUser(t, h, "alice", "idem-1")

	_, err := h.Mint(context.Background(), command.MintRequest{
		ToUserID: alice.UserID, Amount: money.MustNew("50"), IdempotencyKey: "idem-mint",
	}, opctx(command.SystemMintUserID))
	require.NoError(t, err)

	_, err = h.Burn(context.Background(), command.BurnRequest{
		FromUserID: alice.UserID, Amount: money.MustNew("20"), IdempotencyKey: "idem-burn",
	}, opctx(command.SystemBurnUserID))
	require.NoError(t, err)

	aliceBal, err := h.Projection.GetBalance(context.Background(), alice.AccountID)
	require.NoError(t, err)
	require.True(t, aliceBal.Balance.Equal(money.MustNew("30")))

	mintBal, err := h.Projection.GetBalance(context.Background(), command.SystemMintAccountID)
	require.NoError(t, err)
	require.True(t, mintBal.Balance.Equal(money.MustNew("-30")))
}

func TestTransfer_AppendsBalancedLedgerEntriesUnderSharedJournal(t *testing.T) {
	h, _ := newHandler(t)
	alice := createUser(t, h, "alice", "idem-1")
	bob := createUser(t, h, "bob", "idem-2")
	_, err := h.Mint(context.Background(), command.MintRequest{
		ToUserID: alice.UserID, Amount: money.MustNew("100"), IdempotencyKey: "idem-mint",
	}, opctx(command.SystemMintUserID))
	require.NoError(t, err)

	res, err := h.Transfer(context.Background(), command.TransferRequest{
		FromUserID: alice.UserID, ToUserID: bob.UserID, Amount: money.MustNew("25"), IdempotencyKey: "idem-xfer",
	}, opctx(alice.UserID))
	require.NoError(t, err)

	mem, ok := h.Projection.(*projection.Memory)
	require.True(t, ok)
	var debit, credit money.Amount
	for _, e := range mem.LedgerEntries() {
		if e.JournalID != res.JournalID {
			continue
		}
		if e.EntryType == projection.Debit {
			debit = e.Amount
		} else {
			credit = e.Amount
		}
	}
	require.True(t, debit.Equal(credit))
}

func TestWriteAudit_AppendsVerifiableChainEntry(t *testing.T) {
	h, _ := newHandler(t)
	createUser(t, h, "alice", "idem-1")

	am, ok := h.Audit.(*audit.Memory)
	require.True(t, ok)
	ok2, breakAt, err := am.Verify(context.Background())
	require.NoError(t, err)
	require.True(t, ok2)
	require.Nil(t, breakAt)
	require.NotEmpty(t, am.Entries())
}
