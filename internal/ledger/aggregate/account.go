/*
Package aggregate implements the pure state machines the ledger core
folds events over: Account and User. Neither aggregate touches storage;
command handlers load events via the event store, fold them with Apply,
and persist the events the command produces the same way.

Balance is deliberately NOT part of Account state: it is a projection
concern (internal/ledger/projection), guarded by an app-level precondition
check before a debit is accepted, not by the aggregate itself.
*/
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/atp-ledger/core/internal/ledger/eventstore"
	"github.com/atp-ledger/core/internal/ledger/ledgererr"
	"github.com/atp-ledger/core/internal/money"
)

// AccountType names the kind of account, per the data model.
type AccountType string

const (
	AccountUserWallet   AccountType = "user_wallet"
	AccountMintSource   AccountType = "mint_source"
	AccountFeeIncome    AccountType = "fee_income"
	AccountSystemReserve AccountType = "system_reserve"
)

// Account is the pure state machine behind the account aggregate.
type Account struct {
	ID          string
	UserID      string
	AccountType AccountType
	IsActive    bool
	Version     int // -1 means the account does not exist yet
}

// NewAccount returns the zero-value, not-yet-created state an aggregate
// starts from before any events are folded over it.
func NewAccount(id string) *Account {
	return &Account{ID: id, Version: -1}
}

// --- event payloads -------------------------------------------------------

type AccountCreatedPayload struct {
	UserID      string      `json:"user_id"`
	AccountType AccountType `json:"account_type"`
}

type MoneyCreditedPayload struct {
	Amount      money.Amount `json:"amount"`
	TransferID  string       `json:"transfer_id"`
	Description string       `json:"description"`
}

type MoneyDebitedPayload struct {
	Amount      money.Amount `json:"amount"`
	TransferID  string       `json:"transfer_id"`
	Description string       `json:"description"`
}

// --- commands --------------------------------------------------------------

// Create produces an AccountCreated event. The account must not already
// exist.
func (a *Account) Create(userID string, accountType AccountType) (eventstore.Event, error) {
	if a.Version != -1 {
		return eventstore.Event{}, fmt.Errorf("account %s already exists", a.ID)
	}
	payload, err := json.Marshal(AccountCreatedPayload{UserID: userID, AccountType: accountType})
	if err != nil {
		return eventstore.Event{}, err
	}
	return eventstore.NewEvent(eventstore.EventAccountCreated, payload), nil
}

// Credit produces a MoneyCredited event. Credits are always accepted by
// the aggregate; the projection layer is where balance bounds are
// enforced for user wallets.
func (a *Account) Credit(amount money.Amount, transferID, description string) (eventstore.Event, error) {
	if err := a.mustExist(); err != nil {
		return eventstore.Event{}, err
	}
	payload, err := json.Marshal(MoneyCreditedPayload{Amount: amount, TransferID: transferID, Description: description})
	if err != nil {
		return eventstore.Event{}, err
	}
	return eventstore.NewEvent(eventstore.EventMoneyCredited, payload), nil
}

// Debit produces a MoneyDebited event. Fails when the account is frozen.
// Insufficient-balance is NOT checked here: the aggregate has no balance
// state, so that check belongs to the projection precondition.
func (a *Account) Debit(amount money.Amount, transferID, description string) (eventstore.Event, error) {
	if err := a.mustExist(); err != nil {
		return eventstore.Event{}, err
	}
	if !a.IsActive {
		return eventstore.Event{}, ledgererr.ErrAccountFrozen
	}
	payload, err := json.Marshal(MoneyDebitedPayload{Amount: amount, TransferID: transferID, Description: description})
	if err != nil {
		return eventstore.Event{}, err
	}
	return eventstore.NewEvent(eventstore.EventMoneyDebited, payload), nil
}

// Freeze produces an AccountFrozen event.
func (a *Account) Freeze() (eventstore.Event, error) {
	if err := a.mustExist(); err != nil {
		return eventstore.Event{}, err
	}
	return eventstore.NewEvent(eventstore.EventAccountFrozen, nil), nil
}

// Unfreeze produces an AccountUnfrozen event.
func (a *Account) Unfreeze() (eventstore.Event, error) {
	if err := a.mustExist(); err != nil {
		return eventstore.Event{}, err
	}
	return eventstore.NewEvent(eventstore.EventAccountUnfrozen, nil), nil
}

func (a *Account) mustExist() error {
	if a.Version == -1 {
		return ledgererr.ErrNotFound
	}
	return nil
}

// --- apply -------------------------------------------------------------

// Apply folds a single event onto the account state. Money events carry
// no balance effect on the aggregate itself (see package doc); only
// identity/state-machine fields change here.
func (a *Account) Apply(ev eventstore.Event) error {
	switch ev.EventType {
	case eventstore.EventAccountCreated:
		var p AccountCreatedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		a.UserID = p.UserID
		a.AccountType = p.AccountType
		a.IsActive = true
	case eventstore.EventMoneyCredited, eventstore.EventMoneyDebited:
		// no aggregate-state change; balance is a projection concern
	case eventstore.EventAccountFrozen:
		a.IsActive = false
	case eventstore.EventAccountUnfrozen:
		a.IsActive = true
	default:
		return fmt.Errorf("account aggregate: unknown event type %q", ev.EventType)
	}
	a.Version = ev.Version
	return nil
}

// Fold rebuilds an Account from an optional snapshot state plus the
// events recorded after it.
func Fold(id string, snapshotState []byte, events []eventstore.Event) (*Account, error) {
	a := NewAccount(id)
	if len(snapshotState) > 0 {
		if err := json.Unmarshal(snapshotState, a); err != nil {
			return nil, err
		}
	}
	for _, ev := range events {
		if err := a.Apply(ev); err != nil {
			return nil, err
		}
	}
	if a.Version == -1 {
		return nil, nil
	}
	return a, nil
}

// SnapshotState returns the JSON-encoded state eligible to be persisted
// via the event store's snapshot policy.
func (a *Account) SnapshotState() ([]byte, error) {
	return json.Marshal(a)
}

// LoadAccount rehydrates an account from the event store: snapshot (if
// any) plus every event after it, folded in order. Returns a -1 version
// account, not an error, when nothing has ever been written for id.
func LoadAccount(ctx context.Context, store eventstore.Store, id string) (*Account, error) {
	r, err := store.Load(ctx, eventstore.AggregateAccount, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return NewAccount(id), nil
	}
	var snapState []byte
	if r.Snapshot != nil {
		snapState = r.Snapshot.State
	}
	acc, err := Fold(id, snapState, r.Events)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return NewAccount(id), nil
	}
	return acc, nil
}
