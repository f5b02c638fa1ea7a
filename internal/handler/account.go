package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"securebank/internal/account"
	"securebank/internal/domain"
	"securebank/pkg/logger"
	"securebank/pkg/validator"
)

// AccountHandler exposes the account ledger over HTTP. The adjust endpoint is
// internal: it is only ever called by the movement service.
type AccountHandler struct {
	service   *account.Service
	validator *validator.Validator
	logger    logger.Logger
}

func NewAccountHandler(service *account.Service, val *validator.Validator, log logger.Logger) *AccountHandler {
	return &AccountHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

// CreateAccount opens a new account with an allocator-issued number.
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req account.CreateAccountRequest

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if err == io.EOF {
			respondError(w, http.StatusBadRequest, "Request body is required", CodeValidation)
			return
		}
		respondError(w, http.StatusBadRequest, "Invalid request body", CodeValidation)
		return
	}

	if errs := h.validator.ValidateStructured(&req); errs != nil {
		respondValidationError(w, errs)
		return
	}

	acct, err := h.service.CreateAccount(r.Context(), &req)
	if err != nil {
		h.logger.Error("Failed to create account", map[string]interface{}{
			"error":     err.Error(),
			"client_id": req.ClientID,
		})
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, acct)
}

// GetAccount returns an account by number.
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	number, ok := h.accountNumber(w, r)
	if !ok {
		return
	}

	acct, err := h.service.GetAccount(r.Context(), number)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, acct)
}

// GetClientAccounts lists all accounts owned by a client.
func (h *AccountHandler) GetClientAccounts(w http.ResponseWriter, r *http.Request) {
	clientID, err := uuidVar(r, "clientID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid client ID", CodeValidation)
		return
	}

	accounts, err := h.service.GetAccountsByClient(r.Context(), clientID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// CloseAccount deactivates an account. The number is never reissued.
func (h *AccountHandler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	number, ok := h.accountNumber(w, r)
	if !ok {
		return
	}

	acct, err := h.service.CloseAccount(r.Context(), number)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, acct)
}

// Exists reports whether the account number is known. Informational only.
func (h *AccountHandler) Exists(w http.ResponseWriter, r *http.Request) {
	number, ok := h.accountNumber(w, r)
	if !ok {
		return
	}

	exists, err := h.service.Exists(r.Context(), number)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

// SufficientBalance reports whether the account could currently cover the
// amount. Not a reservation.
func (h *AccountHandler) SufficientBalance(w http.ResponseWriter, r *http.Request) {
	number, ok := h.accountNumber(w, r)
	if !ok {
		return
	}

	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil || !amount.IsPositive() {
		respondError(w, http.StatusBadRequest, "Invalid amount", CodeValidation)
		return
	}

	sufficient, err := h.service.HasSufficientBalance(r.Context(), number, domain.NormalizeAmount(amount))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"sufficient": sufficient})
}

// Owner resolves the owning client of an account.
func (h *AccountHandler) Owner(w http.ResponseWriter, r *http.Request) {
	number, ok := h.accountNumber(w, r)
	if !ok {
		return
	}

	clientID, err := h.service.OwnerOf(r.Context(), number)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"client_id": clientID})
}

type adjustRequest struct {
	Delta          decimal.Decimal `json:"delta"`
	IdempotencyKey string          `json:"idempotency_key" validate:"required"`
}

// Adjust atomically applies a signed delta to an account balance. Replaying
// the same idempotency key returns the original result without moving money.
func (h *AccountHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	number, ok := h.accountNumber(w, r)
	if !ok {
		return
	}

	var req adjustRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", CodeValidation)
		return
	}
	if req.IdempotencyKey == "" {
		respondError(w, http.StatusBadRequest, "Idempotency key is required", CodeValidation)
		return
	}
	if req.Delta.IsZero() {
		respondError(w, http.StatusBadRequest, "Delta must be non-zero", CodeValidation)
		return
	}

	result, err := h.service.AdjustBalance(r.Context(), number, req.Delta, req.IdempotencyKey)
	if err != nil {
		h.logger.Warn("Balance adjustment rejected", map[string]interface{}{
			"error": err.Error(),
		})
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (h *AccountHandler) accountNumber(w http.ResponseWriter, r *http.Request) (string, bool) {
	number := mux.Vars(r)["accountNumber"]
	if !h.validator.ValidAccountNumber(number) {
		respondError(w, http.StatusBadRequest, "Invalid account number", CodeValidation)
		return "", false
	}
	return number, true
}
