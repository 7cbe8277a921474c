package command

import (
	"context"

	"github.com/atp-ledger/core/internal/ledger/aggregate"
	"github.com/atp-ledger/core/internal/ledger/eventstore"
	"github.com/atp-ledger/core/internal/ledger/projection"
)

// Fixed identifiers for the four seeded system users, resolving the data
// model's system-account open question: Mint posts against mint_source,
// Burn reuses mint_source by symmetry with Mint, Fee posts against
// fee_income, Reserve posts against system_reserve. These IDs are stable
// across environments so migrations and fixtures can reference them
// directly instead of discovering them at runtime.
const (
	SystemMintUserID     = "00000000-0000-0000-0000-000000000001"
	SystemMintAccountID  = "00000000-0000-0000-0000-000000000002"
	SystemBurnUserID     = "00000000-0000-0000-0000-000000000003"
	SystemFeeUserID      = "00000000-0000-0000-0000-000000000004"
	SystemFeeAccountID   = "00000000-0000-0000-0000-000000000005"
	SystemReserveUserID  = "00000000-0000-0000-0000-000000000006"
	SystemReserveAccountID = "00000000-0000-0000-0000-000000000007"
)

// DefaultSystemAccounts returns the fixed identifiers above as a
// SystemAccounts value.
func DefaultSystemAccounts() SystemAccounts {
	return SystemAccounts{
		MintUserID:       SystemMintUserID,
		MintAccountID:    SystemMintAccountID,
		BurnUserID:       SystemBurnUserID,
		FeeUserID:        SystemFeeUserID,
		FeeAccountID:     SystemFeeAccountID,
		ReserveUserID:    SystemReserveUserID,
		ReserveAccountID: SystemReserveAccountID,
	}
}

// Bootstrap seeds the four system users and their accounts into a fresh
// event store, projection, and directory. It is idempotent: if
// SYSTEM_MINT's user aggregate already exists, it does nothing.
func Bootstrap(ctx context.Context, events eventstore.Store, proj projection.Store, dir Directory) error {
	existing, err := aggregate.LoadUser(ctx, events, SystemMintUserID)
	if err != nil {
		return err
	}
	if existing.Version != -1 {
		return nil
	}

	type seed struct {
		userID, username, accountID string
		accountType                 aggregate.AccountType
	}
	seeds := []seed{
		{SystemMintUserID, "SYSTEM_MINT", SystemMintAccountID, aggregate.AccountMintSource},
		{SystemBurnUserID, "SYSTEM_BURN", SystemMintAccountID, aggregate.AccountMintSource},
		{SystemFeeUserID, "SYSTEM_FEE", SystemFeeAccountID, aggregate.AccountFeeIncome},
		{SystemReserveUserID, "SYSTEM_RESERVE", SystemReserveAccountID, aggregate.AccountSystemReserve},
	}

	seededAccounts := make(map[string]bool)
	for _, s := range seeds {
		user := aggregate.NewUser(s.userID)
		userEvt, err := user.Create(s.username, s.username+"@system.internal", s.username, true)
		if err != nil {
			return err
		}
		ops := []eventstore.AggregateOperation{
			{AggregateType: eventstore.AggregateUser, AggregateID: s.userID, ExpectedVersion: -1, Events: []eventstore.Event{userEvt}},
		}

		var acctEvt eventstore.Event
		newAccount := !seededAccounts[s.accountID]
		if newAccount {
			account := aggregate.NewAccount(s.accountID)
			acctEvt, err = account.Create(s.userID, s.accountType)
			if err != nil {
				return err
			}
			ops = append(ops, eventstore.AggregateOperation{
				AggregateType: eventstore.AggregateAccount, AggregateID: s.accountID, ExpectedVersion: -1, Events: []eventstore.Event{acctEvt},
			})
		}

		ids, err := events.AppendAtomic(ctx, ops, "")
		if err != nil {
			return err
		}

		if newAccount {
			accountEventID := ids[len(ids)-1]
			if err := proj.ApplyCreateUser(ctx, projection.CreateUserParams{AccountID: s.accountID, EventID: accountEventID}); err != nil {
				return err
			}
			seededAccounts[s.accountID] = true
		}
		if err := dir.RegisterWallet(ctx, s.userID, s.accountID); err != nil {
			return err
		}
	}
	return nil
}
