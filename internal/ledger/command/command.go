/*
Package command implements the four write operations the core exposes:
CreateUser, Transfer, Mint, Burn. Each follows the same pipeline:

  authorize -> idempotency.Start -> load aggregates -> validate & produce
  events -> transaction{ append (retried on ConcurrencyConflict) ->
  apply projection -> write audit entry -> idempotency.Complete }

No command writes snapshots: CreateUser calls eventstore.MaybeSnapshot
at version 0, where the policy never fires, and Transfer, Mint and Burn
do not call it at all, so aggregates are always rehydrated from their
full event stream.

The bracketed stage runs as one txn.UnitOfWork call: append, projection
update, audit insert, and idempotency finalize commit or roll back
together, so a rejected InsufficientBalance precondition (checked under
the projection's own row lock, inside that same transaction) leaves no
trace in the event log.

Mint and Burn are symmetric: Mint credits a user's wallet by debiting
SYSTEM_MINT's mint_source account; Burn debits a user's wallet by
crediting that same account back, contracting supply.
*/
package command

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/atp-ledger/core/internal/ledger/aggregate"
	"github.com/atp-ledger/core/internal/ledger/audit"
	"github.com/atp-ledger/core/internal/ledger/eventstore"
	"github.com/atp-ledger/core/internal/ledger/idempotency"
	"github.com/atp-ledger/core/internal/ledger/ledgererr"
	"github.com/atp-ledger/core/internal/ledger/projection"
	"github.com/atp-ledger/core/internal/ledger/txn"
	"github.com/atp-ledger/core/internal/money"
)

// Directory resolves a user's wallet account id, the one piece of read
// state command handlers need beyond the event store itself.
type Directory interface {
	WalletAccountID(ctx context.Context, userID string) (string, error)
	RegisterWallet(ctx context.Context, userID, accountID string) error
}

// SystemAccounts names the four seeded system users and the accounts
// Mint/Burn post against, per the data model's four-user resolution of
// the system-account open question.
type SystemAccounts struct {
	MintUserID     string
	MintAccountID  string // mint_source
	BurnUserID     string
	FeeUserID      string
	FeeAccountID   string // fee_income
	ReserveUserID  string
	ReserveAccountID string // system_reserve
}

// Handler wires the components a command needs: the event store, the
// idempotency layer, the projection, and the audit trail for reads and
// for the pre-transaction aggregate load; Tx is the unit of work that
// binds the write side of a command (append, project, audit, finalize)
// into one storage transaction.
type Handler struct {
	Events      eventstore.Store
	Idempotency idempotency.Store
	Projection  projection.Store
	Audit       audit.Store
	Tx          txn.UnitOfWork
	Directory   Directory
	System      SystemAccounts
	Now         func() time.Time
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

// withRetry runs attempt against the event store, retrying only on
// ConcurrencyConflict up to eventstore.MaxAppendRetries times with the
// spec's 50ms*2^attempt backoff. attempt must reload aggregates and
// rebuild events fresh on every call: retrying the same expected-version
// append would simply fail again.
func withRetry(ctx context.Context, attempt func() ([]string, error)) ([]string, error) {
	var lastErr error
	for i := 0; i <= eventstore.MaxAppendRetries; i++ {
		ids, err := attempt()
		if err == nil {
			return ids, nil
		}
		var conflict *ledgererr.ConcurrencyConflict
		if !errors.As(err, &conflict) {
			return nil, err
		}
		lastErr = err
		if i == eventstore.MaxAppendRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(eventstore.RetryBackoff(i)):
		}
	}
	return nil, lastErr
}

// CreateUserRequest is the command input for creating a user and their
// wallet account together.
type CreateUserRequest struct {
	Username       string
	Email          string
	DisplayName    string
	IdempotencyKey string
}

// CreateUserResult is both the handler's return value and the byte-exact
// payload cached by the idempotency layer for replay.
type CreateUserResult struct {
	UserID    string `json:"user_id"`
	AccountID string `json:"account_id"`
}

// CreateUser creates a User aggregate and its user_wallet Account
// aggregate in one atomic append.
func (h *Handler) CreateUser(ctx context.Context, req CreateUserRequest, opctx eventstore.OperationContext) (*CreateUserResult, error) {
	requestHash, err := idempotency.HashRequest(req)
	if err != nil {
		return nil, err
	}
	outcome, rec, err := h.Idempotency.Start(ctx, req.IdempotencyKey, requestHash)
	if err != nil {
		return nil, err
	}
	switch outcome {
	case idempotency.Completed:
		var result CreateUserResult
		if err := json.Unmarshal(rec.ResponseBody, &result); err != nil {
			return nil, err
		}
		return &result, nil
	case idempotency.InFlight, idempotency.HashMismatch:
		return nil, err
	}

	userID := uuid.NewString()
	accountID := uuid.NewString()
	result := &CreateUserResult{UserID: userID, AccountID: accountID}
	body, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	_, err = withRetry(ctx, func() ([]string, error) {
		user := aggregate.NewUser(userID)
		createEvt, err := user.Create(req.Username, req.Email, req.DisplayName, false)
		if err != nil {
			return nil, err
		}
		account := aggregate.NewAccount(accountID)
		acctEvt, err := account.Create(userID, aggregate.AccountUserWallet)
		if err != nil {
			return nil, err
		}
		acctEvt.Context, createEvt.Context = opctx, opctx

		var ids []string
		err = h.Tx.WithTx(ctx, func(tx txn.Store) error {
			txIDs, err := tx.AppendAtomic(ctx, []eventstore.AggregateOperation{
				{AggregateType: eventstore.AggregateUser, AggregateID: userID, ExpectedVersion: -1, Events: []eventstore.Event{createEvt}},
				{AggregateType: eventstore.AggregateAccount, AggregateID: accountID, ExpectedVersion: -1, Events: []eventstore.Event{acctEvt}},
			}, req.IdempotencyKey)
			if err != nil {
				return err
			}
			ids = txIDs
			accountEventID := ids[1]

			if err := tx.ApplyCreateUser(ctx, projection.CreateUserParams{AccountID: accountID, EventID: accountEventID}); err != nil {
				return err
			}
			if err := h.writeAudit(ctx, tx, opctx, "user.create", "user", userID, nil, result); err != nil {
				return err
			}
			return tx.Complete(ctx, req.IdempotencyKey, accountEventID, 201, body)
		})
		return ids, err
	})
	if err != nil {
		h.failIdempotency(ctx, req.IdempotencyKey, err)
		return nil, err
	}

	if err := h.Directory.RegisterWallet(ctx, userID, accountID); err != nil {
		return nil, err
	}
	if err := eventstore.MaybeSnapshot(ctx, h.Events, eventstore.AggregateUser, userID, 0, nil); err != nil {
		return nil, err
	}

	return result, nil
}

// TransferRequest is the command input for a user-to-user transfer.
type TransferRequest struct {
	FromUserID     string
	ToUserID       string
	Amount         money.Amount
	Description    string
	IdempotencyKey string
}

// TransferResult is the handler's return value and idempotency payload.
type TransferResult struct {
	JournalID string `json:"journal_id"`
}

// Transfer moves Amount from FromUserID's wallet to ToUserID's wallet.
// Authorization requires the caller to be FromUserID; InsufficientBalance
// is checked inside the same transaction as the event append, so a
// rejected transfer leaves no trace in the event log.
func (h *Handler) Transfer(ctx context.Context, req TransferRequest, opctx eventstore.OperationContext) (*TransferResult, error) {
	if opctx.RequestUserID != req.FromUserID {
		return nil, ledgererr.ErrUnauthorizedTransfer
	}
	if !req.Amount.IsPositive() {
		return nil, &ledgererr.ValidationError{Field: "amount", Message: "must be positive"}
	}

	requestHash, err := idempotency.HashRequest(req)
	if err != nil {
		return nil, err
	}
	outcome, rec, err := h.Idempotency.Start(ctx, req.IdempotencyKey, requestHash)
	if err != nil {
		return nil, err
	}
	switch outcome {
	case idempotency.Completed:
		var result TransferResult
		if err := json.Unmarshal(rec.ResponseBody, &result); err != nil {
			return nil, err
		}
		return &result, nil
	case idempotency.InFlight, idempotency.HashMismatch:
		return nil, err
	}

	fromAccountID, err := h.Directory.WalletAccountID(ctx, req.FromUserID)
	if err != nil {
		h.failIdempotency(ctx, req.IdempotencyKey, err)
		return nil, err
	}
	toAccountID, err := h.Directory.WalletAccountID(ctx, req.ToUserID)
	if err != nil {
		h.failIdempotency(ctx, req.IdempotencyKey, err)
		return nil, err
	}

	journalID := uuid.NewString()
	result := &TransferResult{JournalID: journalID}
	body, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	_, err = withRetry(ctx, func() ([]string, error) {
		fromAcc, err := aggregate.LoadAccount(ctx, h.Events, fromAccountID)
		if err != nil {
			return nil, err
		}
		toAcc, err := aggregate.LoadAccount(ctx, h.Events, toAccountID)
		if err != nil {
			return nil, err
		}
		debitEvt, err := fromAcc.Debit(req.Amount, journalID, req.Description)
		if err != nil {
			return nil, err
		}
		creditEvt, err := toAcc.Credit(req.Amount, journalID, req.Description)
		if err != nil {
			return nil, err
		}
		debitEvt.Context, creditEvt.Context = opctx, opctx
		ops := []eventstore.AggregateOperation{
			{AggregateType: eventstore.AggregateAccount, AggregateID: fromAccountID, ExpectedVersion: fromAcc.Version, Events: []eventstore.Event{debitEvt}},
			{AggregateType: eventstore.AggregateAccount, AggregateID: toAccountID, ExpectedVersion: toAcc.Version, Events: []eventstore.Event{creditEvt}},
		}

		var ids []string
		err = h.Tx.WithTx(ctx, func(tx txn.Store) error {
			txIDs, err := tx.AppendAtomic(ctx, ops, req.IdempotencyKey)
			if err != nil {
				return err
			}
			ids = txIDs
			fromEventID, toEventID := ids[0], ids[1]

			// InsufficientBalance is enforced here, under ApplyTransfer's own
			// FOR UPDATE row lock, inside the same transaction as the append
			// above: a rejection rolls back the events too.
			if err := tx.ApplyTransfer(ctx, projection.TransferParams{
				JournalID: journalID, FromAccountID: fromAccountID, ToAccountID: toAccountID,
				Amount: req.Amount, FromEventID: fromEventID, ToEventID: toEventID, FromIsUserWallet: true,
			}); err != nil {
				return err
			}
			if err := h.writeAudit(ctx, tx, opctx, "transfer.create", "transfer", journalID, nil, result); err != nil {
				return err
			}
			return tx.Complete(ctx, req.IdempotencyKey, fromEventID, 201, body)
		})
		return ids, err
	})
	if err != nil {
		h.failIdempotency(ctx, req.IdempotencyKey, err)
		return nil, err
	}
	return result, nil
}

// MintRequest credits ToUserID's wallet by amount, expanding supply from
// SYSTEM_MINT's mint_source account.
type MintRequest struct {
	ToUserID       string
	Amount         money.Amount
	Description    string
	IdempotencyKey string
}

// MintResult mirrors TransferResult.
type MintResult struct {
	JournalID string `json:"journal_id"`
}

// Mint performs no permission check of its own: the admin:mint
// permission is checked by the HTTP handler (httpapi.Handler.Mint)
// before this is called.
func (h *Handler) Mint(ctx context.Context, req MintRequest, opctx eventstore.OperationContext) (*MintResult, error) {
	return h.postSystemTransfer(ctx, req.ToUserID, req.Amount, req.Description, req.IdempotencyKey, opctx, false)
}

// BurnRequest debits FromUserID's wallet by amount, contracting supply
// back into SYSTEM_MINT's mint_source account, by symmetry with Mint.
type BurnRequest struct {
	FromUserID     string
	Amount         money.Amount
	Description    string
	IdempotencyKey string
}

// BurnResult mirrors TransferResult.
type BurnResult struct {
	JournalID string `json:"journal_id"`
}

func (h *Handler) Burn(ctx context.Context, req BurnRequest, opctx eventstore.OperationContext) (*BurnResult, error) {
	res, err := h.postSystemTransfer(ctx, req.FromUserID, req.Amount, req.Description, req.IdempotencyKey, opctx, true)
	if err != nil {
		return nil, err
	}
	return (*BurnResult)(res), nil
}

// postSystemTransfer implements both Mint and Burn: they are the same
// two-leg movement against SYSTEM_MINT's mint_source account, with the
// direction flipped by burn.
func (h *Handler) postSystemTransfer(ctx context.Context, userID string, amount money.Amount, description, idemKey string, opctx eventstore.OperationContext, burn bool) (*MintResult, error) {
	if !amount.IsPositive() {
		return nil, &ledgererr.ValidationError{Field: "amount", Message: "must be positive"}
	}

	type req struct {
		UserID string
		Amount money.Amount
		Burn   bool
	}
	requestHash, err := idempotency.HashRequest(req{UserID: userID, Amount: amount, Burn: burn})
	if err != nil {
		return nil, err
	}
	outcome, rec, err := h.Idempotency.Start(ctx, idemKey, requestHash)
	if err != nil {
		return nil, err
	}
	switch outcome {
	case idempotency.Completed:
		var result MintResult
		if err := json.Unmarshal(rec.ResponseBody, &result); err != nil {
			return nil, err
		}
		return &result, nil
	case idempotency.InFlight, idempotency.HashMismatch:
		return nil, err
	}

	walletAccountID, err := h.Directory.WalletAccountID(ctx, userID)
	if err != nil {
		h.failIdempotency(ctx, idemKey, err)
		return nil, err
	}

	fromAccountID, toAccountID := h.System.MintAccountID, walletAccountID
	fromIsUserWallet := false
	if burn {
		fromAccountID, toAccountID = walletAccountID, h.System.MintAccountID
		fromIsUserWallet = true
	}

	journalID := uuid.NewString()
	action := "mint.create"
	if burn {
		action = "burn.create"
	}
	result := &MintResult{JournalID: journalID}
	body, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	_, err = withRetry(ctx, func() ([]string, error) {
		fromAcc, err := aggregate.LoadAccount(ctx, h.Events, fromAccountID)
		if err != nil {
			return nil, err
		}
		toAcc, err := aggregate.LoadAccount(ctx, h.Events, toAccountID)
		if err != nil {
			return nil, err
		}
		debitEvt, err := fromAcc.Debit(amount, journalID, description)
		if err != nil {
			return nil, err
		}
		creditEvt, err := toAcc.Credit(amount, journalID, description)
		if err != nil {
			return nil, err
		}
		debitEvt.Context, creditEvt.Context = opctx, opctx
		ops := []eventstore.AggregateOperation{
			{AggregateType: eventstore.AggregateAccount, AggregateID: fromAccountID, ExpectedVersion: fromAcc.Version, Events: []eventstore.Event{debitEvt}},
			{AggregateType: eventstore.AggregateAccount, AggregateID: toAccountID, ExpectedVersion: toAcc.Version, Events: []eventstore.Event{creditEvt}},
		}

		var ids []string
		err = h.Tx.WithTx(ctx, func(tx txn.Store) error {
			txIDs, err := tx.AppendAtomic(ctx, ops, idemKey)
			if err != nil {
				return err
			}
			ids = txIDs
			fromEventID, toEventID := ids[0], ids[1]

			// On burn, fromAccountID is the user's wallet, and
			// InsufficientBalance is enforced here under ApplyTransfer's own
			// row lock, inside the same transaction as the append above.
			if err := tx.ApplyTransfer(ctx, projection.TransferParams{
				JournalID: journalID, FromAccountID: fromAccountID, ToAccountID: toAccountID,
				Amount: amount, FromEventID: fromEventID, ToEventID: toEventID, FromIsUserWallet: fromIsUserWallet,
			}); err != nil {
				return err
			}
			if err := h.writeAudit(ctx, tx, opctx, action, "transfer", journalID, nil, result); err != nil {
				return err
			}
			return tx.Complete(ctx, idemKey, fromEventID, 201, body)
		})
		return ids, err
	})
	if err != nil {
		h.failIdempotency(ctx, idemKey, err)
		return nil, err
	}
	return result, nil
}

func (h *Handler) writeAudit(ctx context.Context, tx txn.Store, opctx eventstore.OperationContext, action, resourceType, resourceID string, before, after any) error {
	var beforeJSON, afterJSON []byte
	var err error
	if before != nil {
		if beforeJSON, err = json.Marshal(before); err != nil {
			return err
		}
	}
	if after != nil {
		if afterJSON, err = json.Marshal(after); err != nil {
			return err
		}
	}
	_, err = tx.Append(ctx, audit.Entry{
		ID:            uuid.NewString(),
		APIKeyID:      opctx.APIKeyID,
		RequestUserID: opctx.RequestUserID,
		CorrelationID: opctx.CorrelationID,
		Action:        action,
		ResourceType:  resourceType,
		ResourceID:    resourceID,
		BeforeState:   beforeJSON,
		AfterState:    afterJSON,
		ClientIP:      opctx.ClientIP,
	})
	return err
}

// failIdempotency marks a reserved key failed so a differently-shaped
// retry (or a future identical retry, once understood as a genuine
// failure) does not wait out the in-flight timeout.
func (h *Handler) failIdempotency(ctx context.Context, key string, cause error) {
	body, _ := json.Marshal(map[string]string{"error": cause.Error()})
	_ = h.Idempotency.Fail(ctx, key, 400, body)
}
