package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"securebank/internal/domain"
	"securebank/internal/movement"
	"securebank/pkg/logger"
	"securebank/pkg/validator"
)

// MovementHandler exposes deposits, withdrawals, and transfers. A request
// without an idempotency key gets one generated at this boundary; the key is
// always echoed back so the caller can retry safely.
type MovementHandler struct {
	service   *movement.Service
	validator *validator.Validator
	logger    logger.Logger
}

func NewMovementHandler(service *movement.Service, val *validator.Validator, log logger.Logger) *MovementHandler {
	return &MovementHandler{
		service:   service,
		validator: val,
		logger:    log,
	}
}

type movementResponse struct {
	*movement.Result
	IdempotencyKey string `json:"idempotency_key"`
}

// Deposit credits an account.
func (h *MovementHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req movement.DepositRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.IdempotencyKey = h.resolveKey(r, req.IdempotencyKey)

	result, err := h.service.Deposit(r.Context(), &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	h.respondResult(w, result, req.IdempotencyKey)
}

// Withdraw debits an account.
func (h *MovementHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req movement.WithdrawRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.IdempotencyKey = h.resolveKey(r, req.IdempotencyKey)

	result, err := h.service.Withdraw(r.Context(), &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	h.respondResult(w, result, req.IdempotencyKey)
}

// Transfer moves money between two accounts.
func (h *MovementHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req movement.TransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.IdempotencyKey = h.resolveKey(r, req.IdempotencyKey)

	result, err := h.service.Transfer(r.Context(), &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	h.respondResult(w, result, req.IdempotencyKey)
}

// GetMovement returns a movement by ID.
func (h *MovementHandler) GetMovement(w http.ResponseWriter, r *http.Request) {
	id, err := uuidVar(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid movement ID", CodeValidation)
		return
	}

	m, err := h.service.GetMovement(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, m)
}

// GetAccountMovements lists movements touching an account, newest first.
func (h *MovementHandler) GetAccountMovements(w http.ResponseWriter, r *http.Request) {
	number := mux.Vars(r)["accountNumber"]
	if !h.validator.ValidAccountNumber(number) {
		respondError(w, http.StatusBadRequest, "Invalid account number", CodeValidation)
		return
	}

	limit := queryInt(r, "limit", 50, 500)
	offset := queryInt(r, "offset", 0, 0)

	movements, err := h.service.GetMovementsByAccount(r.Context(), number, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"movements": movements,
		"count":     len(movements),
		"limit":     limit,
		"offset":    offset,
	})
}

// GetMovementsByTimeRange lists movements in a [from, to) window. Operator
// endpoint.
func (h *MovementHandler) GetMovementsByTimeRange(w http.ResponseWriter, r *http.Request) {
	from, err := time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid or missing from timestamp", CodeValidation)
		return
	}
	to, err := time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid or missing to timestamp", CodeValidation)
		return
	}
	if !to.After(from) {
		respondError(w, http.StatusBadRequest, "Time range is empty", CodeValidation)
		return
	}

	limit := queryInt(r, "limit", 50, 500)
	offset := queryInt(r, "offset", 0, 0)

	movements, err := h.service.GetMovementsByTimeRange(r.Context(), from, to, limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"movements": movements,
		"count":     len(movements),
		"limit":     limit,
		"offset":    offset,
	})
}

// GetInconsistentMovements is the operator reconciliation queue.
func (h *MovementHandler) GetInconsistentMovements(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 500)
	offset := queryInt(r, "offset", 0, 0)

	movements, err := h.service.GetInconsistentMovements(r.Context(), limit, offset)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"movements": movements,
		"count":     len(movements),
		"limit":     limit,
		"offset":    offset,
	})
}

// Cancel aborts a movement that is still PENDING.
func (h *MovementHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuidVar(r, "id")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid movement ID", CodeValidation)
		return
	}

	m, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, m)
}

func (h *MovementHandler) decode(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		if err == io.EOF {
			respondError(w, http.StatusBadRequest, "Request body is required", CodeValidation)
			return false
		}
		respondError(w, http.StatusBadRequest, "Invalid request body", CodeValidation)
		return false
	}
	if errs := h.validator.ValidateStructured(req); errs != nil {
		respondValidationError(w, errs)
		return false
	}
	return true
}

// resolveKey prefers the body field, then the Idempotency-Key header, and
// finally generates a fresh key that is returned to the caller.
func (h *MovementHandler) resolveKey(r *http.Request, bodyKey string) string {
	if bodyKey != "" {
		return bodyKey
	}
	if header := r.Header.Get("Idempotency-Key"); header != "" {
		return header
	}
	return uuid.NewString()
}

// respondResult translates the movement outcome to an HTTP status. A replayed
// terminal result returns 200 regardless of outcome; the body carries the
// original status and error kind.
func (h *MovementHandler) respondResult(w http.ResponseWriter, result *movement.Result, key string) {
	body := movementResponse{Result: result, IdempotencyKey: key}

	if result.Replayed || result.Status == domain.MovementStatusApplied {
		respondJSON(w, http.StatusOK, body)
		return
	}

	respondJSON(w, statusForKind(result.ErrorKind), body)
}

func statusForKind(kind movement.ErrorKind) int {
	switch kind {
	case movement.KindValidation:
		return http.StatusBadRequest
	case movement.KindNotFound:
		return http.StatusNotFound
	case movement.KindAccountClosed:
		return http.StatusConflict
	case movement.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case movement.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
