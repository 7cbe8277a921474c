package httpapi

import (
	"errors"
	"net/http"

	"github.com/atp-ledger/core/internal/ledger/ledgererr"
)

// errorCode is the machine-readable string returned in every error body's
// "error" field, per spec.md §6's status/code mapping table.
type errorCode string

const (
	codeInvalidRequest      errorCode = "invalid_request"
	codeInsufficientBalance errorCode = "insufficient_balance"
	codeAccountFrozen       errorCode = "account_frozen"
	codeInvalidAPIKey       errorCode = "invalid_api_key"
	codePermissionDenied    errorCode = "permission_denied"
	codeUnauthorizedTransfer errorCode = "unauthorized_transfer"
	codeUserNotFound        errorCode = "user_not_found"
	codeIdempotencyConflict errorCode = "idempotency_conflict"
	codeVersionConflict     errorCode = "version_conflict"
	codeRateLimitExceeded   errorCode = "rate_limit_exceeded"
	codeInternal            errorCode = "internal_error"
)

// statusAndCode translates an internal error kind to the HTTP status and
// machine code spec.md §6 specifies. Unrecognized errors map to 500
// internal_error, never leaking storage-layer detail to the client.
func statusAndCode(err error) (int, errorCode) {
	switch {
	case errors.Is(err, ledgererr.ErrUnauthorizedTransfer):
		return http.StatusForbidden, codeUnauthorizedTransfer
	case errors.Is(err, ledgererr.ErrPermissionDenied):
		return http.StatusForbidden, codePermissionDenied
	case errors.Is(err, ledgererr.ErrInvalidAPIKey):
		return http.StatusUnauthorized, codeInvalidAPIKey
	case errors.Is(err, ledgererr.ErrIdempotencyHashMismatch):
		return http.StatusConflict, codeIdempotencyConflict
	case errors.Is(err, ledgererr.ErrIdempotencyInFlight):
		return http.StatusConflict, codeIdempotencyConflict
	case errors.Is(err, ledgererr.ErrVersionConflict):
		return http.StatusConflict, codeVersionConflict
	case errors.Is(err, ledgererr.ErrInsufficientBalance):
		return http.StatusBadRequest, codeInsufficientBalance
	case errors.Is(err, ledgererr.ErrAccountFrozen):
		return http.StatusBadRequest, codeAccountFrozen
	case errors.Is(err, ledgererr.ErrUnknownUser), errors.Is(err, ledgererr.ErrNotFound):
		return http.StatusNotFound, codeUserNotFound
	case errors.Is(err, ledgererr.ErrInvalidRequest):
		return http.StatusBadRequest, codeInvalidRequest
	default:
		return http.StatusInternalServerError, codeInternal
	}
}
