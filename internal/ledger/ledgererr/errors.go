/*
Package ledgererr centralizes the error taxonomy used across the ledger
core: client, authorization, idempotency, domain, concurrency, and
infrastructure failures.

Handlers translate these at the HTTP boundary. The only error retried
internally is ConcurrencyConflict (ErrVersionConflict), which the command
handlers' append loop retries; the event store itself retries nothing.
*/
package ledgererr

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRequest covers malformed JSON and failed field validation.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnknownUser is returned when a referenced user does not exist.
	ErrUnknownUser = errors.New("unknown user")

	// ErrInvalidAPIKey is returned when the API key is missing or unrecognized.
	ErrInvalidAPIKey = errors.New("invalid api key")

	// ErrPermissionDenied is returned when the caller lacks the permission
	// required for the operation (e.g. admin:mint).
	ErrPermissionDenied = errors.New("permission denied")

	// ErrUnauthorizedTransfer is returned when request_user_id does not
	// match the transfer's source account owner.
	ErrUnauthorizedTransfer = errors.New("unauthorized transfer")

	// ErrIdempotencyHashMismatch is returned when an idempotency key is
	// reused with a different request body.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")

	// ErrIdempotencyInFlight is returned when a request with the same key
	// is still being processed by another caller.
	ErrIdempotencyInFlight = errors.New("request with this idempotency key is already processing")

	// ErrInsufficientBalance is returned when a user wallet debit would
	// take the balance negative.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAccountFrozen is returned when a debit is attempted against a
	// frozen account.
	ErrAccountFrozen = errors.New("account frozen")

	// ErrUnbalancedJournal indicates the double-entry invariant was
	// violated; if this escapes to a caller it is a bug in the projection
	// layer, not a client error.
	ErrUnbalancedJournal = errors.New("unbalanced journal: debits and credits do not match")

	// ErrVersionConflict is returned when an aggregate append loses the
	// optimistic-concurrency race after exhausting retries.
	ErrVersionConflict = errors.New("version conflict")

	// ErrNotFound covers missing users, accounts, transfers, or events.
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable covers connection and pool exhaustion failures.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConcurrencyConflict reports the aggregate whose expected version did not
// match the stored version during an atomic append.
type ConcurrencyConflict struct {
	AggregateID     string
	ExpectedVersion int
	ActualVersion   int
}

func (e *ConcurrencyConflict) Error() string {
	return fmt.Sprintf("concurrency conflict on aggregate %s: expected version %d, actual %d",
		e.AggregateID, e.ExpectedVersion, e.ActualVersion)
}

func (e *ConcurrencyConflict) Unwrap() error { return ErrVersionConflict }

// InsufficientBalanceError carries the shortfall for a rejected debit.
type InsufficientBalanceError struct {
	AccountID string
	Available string
	Requested string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on account %s: available %s, requested %s",
		e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// IdempotencyConflictError reports a key reused with a different request
// hash than the one it was first recorded with.
type IdempotencyConflictError struct {
	Key string
}

func (e *IdempotencyConflictError) Error() string {
	return fmt.Sprintf("idempotency key %s: %s", e.Key, ErrIdempotencyHashMismatch)
}

func (e *IdempotencyConflictError) Unwrap() error { return ErrIdempotencyHashMismatch }

// ValidationError names the offending field alongside a human message.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

// =============================================================================
// HELPERS
// =============================================================================

// IsRetryable reports whether the append that produced err is one the
// command handlers' append loop retries.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsClientError reports whether err stems from invalid caller input
// rather than server-side failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrUnknownUser) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrAccountFrozen)
}

// IsNotFound reports whether err indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
