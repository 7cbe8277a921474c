/*
Package httpapi is the thin HTTP adapter spec.md §1 treats as an external
collaborator's concern: routing, JSON shaping, and the status-code
mapping of spec.md §6. It exists so the core is runnable end-to-end; it
adds no pagination, filtering, or OpenAPI generation beyond what spec.md
§6 names.
*/
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atp-ledger/core/internal/ledger/command"
	"github.com/atp-ledger/core/internal/ledger/ledgererr"
	"github.com/atp-ledger/core/internal/store/postgres"
)

// Handler holds every dependency the HTTP adapter needs: the command
// pipeline for writes, the Postgres store for reads, and the API-key
// authorizer for the admin:mint/admin:burn re-check spec.md §4.5
// requires of handlers in addition to the middleware collaborator.
type Handler struct {
	Commands *command.Handler
	Reads    *postgres.Store
	Auth     *APIKeyAuthorizer
	validate *validator.Validate
}

// NewHandler wires a Handler, registering the username pattern
// validator.v10 tag spec.md §3 requires beyond its built-in tag set.
func NewHandler(commands *command.Handler, reads *postgres.Store, auth *APIKeyAuthorizer) *Handler {
	v := validator.New()
	_ = v.RegisterValidation("alphanum_underscore", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		for _, c := range s {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_') {
				return false
			}
		}
		return true
	})
	return &Handler{Commands: commands, Reads: reads, Auth: auth, validate: v}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code errorCode, message string) {
	writeJSON(w, status, ErrorResponse{Error: string(code), Message: message})
}

// writeDomainError translates a command-pipeline error to the spec.md §6
// status/code mapping and writes the response body.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := statusAndCode(err)
	writeError(w, status, code, err.Error())
}

func idempotencyKey(r *http.Request) (string, bool) {
	key := r.Header.Get("Idempotency-Key")
	return key, key != ""
}

// CreateUser handles POST /users.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	key, ok := idempotencyKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Idempotency-Key header is required")
		return
	}

	var req CreateUserRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	result, err := h.Commands.CreateUser(r.Context(), command.CreateUserRequest{
		Username:       req.Username,
		Email:          req.Email,
		DisplayName:    req.DisplayName,
		IdempotencyKey: key,
	}, operationContext(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// GetUser handles GET /users/{id}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	u, err := h.Reads.GetUser(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userToDTO(u))
}

// PatchUser handles PATCH /users/{id}.
func (h *Handler) PatchUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req PatchUserRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	changed := map[string]string{}
	if req.Email != nil {
		changed["email"] = *req.Email
	}
	if req.DisplayName != nil {
		changed["display_name"] = *req.DisplayName
	}
	if len(changed) == 0 {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "no fields to update")
		return
	}

	if _, err := h.Commands.UpdateUser(r.Context(), command.UpdateUserRequest{UserID: id, ChangedFields: changed}, operationContext(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	u, err := h.Reads.GetUser(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userToDTO(u))
}

// DeleteUser handles DELETE /users/{id}: soft-delete per spec.md §3's
// resolution of the open question (deleted_at set, balance untouched).
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Commands.DeactivateUser(r.Context(), id, operationContext(r)); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetBalance handles GET /users/{id}/balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	accountID, err := h.Reads.WalletAccountID(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	bal, err := h.Commands.Projection.GetBalance(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		UserID:    userID,
		AccountID: accountID,
		Balance:   bal.Balance,
		UpdatedAt: bal.UpdatedAt.Format(timeFormat),
	})
}

// GetHistory handles GET /users/{id}/history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	accountID, err := h.Reads.WalletAccountID(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	entries, err := h.Reads.UserHistory(r.Context(), accountID, 100)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = ledgerEntryToDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Transfer handles POST /transfers.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	key, ok := idempotencyKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Idempotency-Key header is required")
		return
	}
	requestUserID := r.Header.Get("X-Request-User-Id")
	if requestUserID == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "X-Request-User-Id header is required")
		return
	}

	var req TransferRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	result, err := h.Commands.Transfer(r.Context(), command.TransferRequest{
		FromUserID:     req.FromUserID,
		ToUserID:       req.ToUserID,
		Amount:         req.Amount,
		Description:    req.Description,
		IdempotencyKey: key,
	}, operationContext(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, TransferResponseDTO{JournalID: result.JournalID})
}

// GetTransfer handles GET /transfers/{id}, where {id} is a journal_id.
func (h *Handler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	journalID := chi.URLParam(r, "id")
	entries, err := h.Reads.TransferByJournal(r.Context(), journalID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]LedgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = ledgerEntryToDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// requirePermission implements the handler-side re-check spec.md §4.5
// requires in addition to the middleware collaborator's enforcement.
func (h *Handler) requirePermission(r *http.Request, permission string) bool {
	return h.Auth.HasPermission(apiKeyFromContext(r.Context()), permission)
}

// Mint handles POST /admin/mint.
func (h *Handler) Mint(w http.ResponseWriter, r *http.Request) {
	if !h.requirePermission(r, "admin:mint") {
		writeDomainError(w, ledgererr.ErrPermissionDenied)
		return
	}
	key, ok := idempotencyKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Idempotency-Key header is required")
		return
	}
	var req MintRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	result, err := h.Commands.Mint(r.Context(), command.MintRequest{
		ToUserID: req.ToUserID, Amount: req.Amount, Description: req.Description, IdempotencyKey: key,
	}, operationContext(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, AdminTransferResponseDTO{JournalID: result.JournalID})
}

// Burn handles POST /admin/burn.
func (h *Handler) Burn(w http.ResponseWriter, r *http.Request) {
	if !h.requirePermission(r, "admin:burn") {
		writeDomainError(w, ledgererr.ErrPermissionDenied)
		return
	}
	key, ok := idempotencyKey(r)
	if !ok {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Idempotency-Key header is required")
		return
	}
	var req BurnRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	result, err := h.Commands.Burn(r.Context(), command.BurnRequest{
		FromUserID: req.FromUserID, Amount: req.Amount, Description: req.Description, IdempotencyKey: key,
	}, operationContext(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, AdminTransferResponseDTO{JournalID: result.JournalID})
}

// ListEvents handles GET /admin/events.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.Reads.RecentEvents(r.Context(), 100)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]EventDTO, len(events))
	for i, e := range events {
		dtos[i] = EventDTO{
			ID:            e.ID,
			AggregateType: string(e.AggregateType),
			AggregateID:   e.AggregateID,
			Version:       e.Version,
			EventType:     string(e.EventType),
			Payload:       json.RawMessage(e.Payload),
			CreatedAt:     e.CreatedAt.Format(timeFormat),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Reads.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, HealthDTO{Status: "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, HealthDTO{Status: "ok"})
}
