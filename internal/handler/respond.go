// Package handler provides HTTP handlers for the account and movement
// services.
package handler

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"securebank/pkg/errors"
)

// Error codes carried alongside the HTTP status so clients can branch on the
// cause without parsing messages.
const (
	CodeNotFound          = "NOT_FOUND"
	CodeAccountClosed     = "ACCOUNT_CLOSED"
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeValidation        = "VALIDATION"
	CodeInFlight          = "MOVEMENT_IN_FLIGHT"
	CodeNotPending        = "MOVEMENT_NOT_PENDING"
	CodeUnavailable       = "UNAVAILABLE"
	CodeInternal          = "INTERNAL"
)

type errorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message, code string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondValidationError reports per-field failures so clients can surface
// them without parsing a message string.
func respondValidationError(w http.ResponseWriter, fields map[string]string) {
	respondJSON(w, http.StatusBadRequest, errorResponse{
		Error:  "Validation failed",
		Code:   CodeValidation,
		Fields: fields,
	})
}

// respondServiceError maps a sentinel error from the service layer to an HTTP
// status and structured code.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case stderrors.Is(err, errors.ErrAccountNotFound),
		stderrors.Is(err, errors.ErrMovementNotFound),
		stderrors.Is(err, errors.ErrClientNotFound):
		respondError(w, http.StatusNotFound, err.Error(), CodeNotFound)
	case stderrors.Is(err, errors.ErrAccountClosed),
		stderrors.Is(err, errors.ErrAccountAlreadyClosed):
		respondError(w, http.StatusConflict, err.Error(), CodeAccountClosed)
	case stderrors.Is(err, errors.ErrInsufficientBalance):
		respondError(w, http.StatusUnprocessableEntity, err.Error(), CodeInsufficientFunds)
	case stderrors.Is(err, errors.ErrInvalidAmount),
		stderrors.Is(err, errors.ErrInvalidAccountType),
		stderrors.Is(err, errors.ErrSameAccount),
		stderrors.Is(err, errors.ErrMissingKey),
		stderrors.Is(err, errors.ErrDuplicateRequest):
		respondError(w, http.StatusBadRequest, err.Error(), CodeValidation)
	case stderrors.Is(err, errors.ErrMovementInFlight):
		respondError(w, http.StatusConflict, err.Error(), CodeInFlight)
	case stderrors.Is(err, errors.ErrMovementNotPending):
		respondError(w, http.StatusConflict, err.Error(), CodeNotPending)
	case stderrors.Is(err, errors.ErrLedgerUnavailable):
		respondError(w, http.StatusServiceUnavailable, err.Error(), CodeUnavailable)
	case stderrors.Is(err, errors.ErrAllocationExhausted):
		respondError(w, http.StatusServiceUnavailable, err.Error(), CodeUnavailable)
	default:
		respondError(w, http.StatusInternalServerError, "Internal server error", CodeInternal)
	}
}

func uuidVar(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)[name])
}

func queryInt(r *http.Request, name string, def, max int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}
