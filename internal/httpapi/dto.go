package httpapi

import (
	"encoding/json"

	"github.com/atp-ledger/core/internal/ledger/projection"
	"github.com/atp-ledger/core/internal/money"
	"github.com/atp-ledger/core/internal/store/postgres"
)

// ErrorResponse is the body of every non-2xx response, per spec.md §6.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CreateUserRequestDTO is the POST /users body.
type CreateUserRequestDTO struct {
	Username    string `json:"username" validate:"required,min=3,max=50,alphanum_underscore"`
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"display_name" validate:"required"`
}

// PatchUserRequestDTO is the PATCH /users/{id} body: only non-nil fields
// are changed, mirroring the handler's UpdateUserRequest.ChangedFields.
type PatchUserRequestDTO struct {
	Email       *string `json:"email" validate:"omitempty,email"`
	DisplayName *string `json:"display_name"`
}

// UserDTO is the shape returned by GET/PATCH /users/{id}.
type UserDTO struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	Email       string  `json:"email"`
	DisplayName string  `json:"display_name"`
	IsActive    bool    `json:"is_active"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
	DeletedAt   *string `json:"deleted_at,omitempty"`
}

func userToDTO(u *postgres.UserRecord) UserDTO {
	dto := UserDTO{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		IsActive:    u.IsActive,
		CreatedAt:   u.CreatedAt.Format(timeFormat),
		UpdatedAt:   u.UpdatedAt.Format(timeFormat),
	}
	if u.DeletedAt != nil {
		s := u.DeletedAt.Format(timeFormat)
		dto.DeletedAt = &s
	}
	return dto
}

const timeFormat = "2006-01-02T15:04:05.999999999Z07:00"

// BalanceDTO is the GET /users/{id}/balance response.
type BalanceDTO struct {
	UserID    string       `json:"user_id"`
	AccountID string       `json:"account_id"`
	Balance   money.Amount `json:"balance"`
	UpdatedAt string       `json:"updated_at"`
}

// LedgerEntryDTO is one row of GET /users/{id}/history.
type LedgerEntryDTO struct {
	ID        string       `json:"id"`
	JournalID string       `json:"journal_id"`
	AccountID string       `json:"account_id"`
	Amount    money.Amount `json:"amount"`
	EntryType string       `json:"entry_type"`
	CreatedAt string       `json:"created_at"`
}

func ledgerEntryToDTO(e projection.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:        e.ID,
		JournalID: e.JournalID,
		AccountID: e.AccountID,
		Amount:    e.Amount,
		EntryType: string(e.EntryType),
		CreatedAt: e.CreatedAt.Format(timeFormat),
	}
}

// TransferRequestDTO is the POST /transfers body.
type TransferRequestDTO struct {
	FromUserID  string       `json:"from_user_id" validate:"required,uuid"`
	ToUserID    string       `json:"to_user_id" validate:"required,uuid"`
	Amount      money.Amount `json:"amount" validate:"required"`
	Description string       `json:"description"`
}

// TransferResponseDTO is the POST/GET /transfers{,/{id}} response.
type TransferResponseDTO struct {
	JournalID string `json:"journal_id"`
}

// MintRequestDTO is the POST /admin/mint body.
type MintRequestDTO struct {
	ToUserID    string       `json:"to_user_id" validate:"required,uuid"`
	Amount      money.Amount `json:"amount" validate:"required"`
	Description string       `json:"description"`
}

// BurnRequestDTO is the POST /admin/burn body.
type BurnRequestDTO struct {
	FromUserID  string       `json:"from_user_id" validate:"required,uuid"`
	Amount      money.Amount `json:"amount" validate:"required"`
	Description string       `json:"description"`
}

// AdminTransferResponseDTO is the POST /admin/mint and /admin/burn response.
type AdminTransferResponseDTO struct {
	JournalID string `json:"journal_id"`
}

// HealthDTO is the GET /health response.
type HealthDTO struct {
	Status string `json:"status"`
}

// EventDTO is one row of GET /admin/events.
type EventDTO struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Version       int             `json:"version"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     string          `json:"created_at"`
}
