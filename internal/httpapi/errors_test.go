package httpapi

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/atp-ledger/core/internal/ledger/ledgererr"
)

func TestStatusAndCode(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   errorCode
	}{
		{"unauthorized transfer", ledgererr.ErrUnauthorizedTransfer, http.StatusForbidden, codeUnauthorizedTransfer},
		{"permission denied", ledgererr.ErrPermissionDenied, http.StatusForbidden, codePermissionDenied},
		{"invalid api key", ledgererr.ErrInvalidAPIKey, http.StatusUnauthorized, codeInvalidAPIKey},
		{"idempotency hash mismatch", ledgererr.ErrIdempotencyHashMismatch, http.StatusConflict, codeIdempotencyConflict},
		{"version conflict", ledgererr.ErrVersionConflict, http.StatusConflict, codeVersionConflict},
		{"insufficient balance", ledgererr.ErrInsufficientBalance, http.StatusBadRequest, codeInsufficientBalance},
		{"account frozen", ledgererr.ErrAccountFrozen, http.StatusBadRequest, codeAccountFrozen},
		{"unknown user", ledgererr.ErrUnknownUser, http.StatusNotFound, codeUserNotFound},
		{"invalid request", ledgererr.ErrInvalidRequest, http.StatusBadRequest, codeInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, code := statusAndCode(tc.err)
			require.Equal(t, tc.status, status)
			require.Equal(t, tc.code, code)
		})
	}
}

func TestStatusAndCodeStructuredErrors(t *testing.T) {
	status, code := statusAndCode(&ledgererr.InsufficientBalanceError{AccountID: "a1", Available: "0.00000000", Requested: "1.00000000"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInsufficientBalance, code)

	status, code = statusAndCode(&ledgererr.ConcurrencyConflict{AggregateID: "a1", ExpectedVersion: 1, ActualVersion: 2})
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeVersionConflict, code)
}
