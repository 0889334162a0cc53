package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/baharkarakas/wallet-ledger/internal/apperrors"
)

type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, code, msg string, details any) {
	WriteJSON(w, status, APIError{
		Error:   msg,
		Code:    code,
		Details: details,
	})
}

// DecodeJSON reads a single JSON object from the body, rejecting unknown fields.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.Validation("malformed request body: %v", err)
	}
	return nil
}

type errorMapping struct {
	target error
	status int
	code   string
}

var errorTable = []errorMapping{
	{apperrors.ErrValidation, http.StatusBadRequest, "validation_error"},
	{apperrors.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
	{apperrors.ErrWalletFrozen, http.StatusLocked, "wallet_frozen"},
	{apperrors.ErrWalletNotFound, http.StatusNotFound, "wallet_not_found"},
	{apperrors.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{apperrors.ErrTransactionNotFound, http.StatusNotFound, "transaction_not_found"},
	{apperrors.ErrRateUnavailable, http.StatusServiceUnavailable, "rate_unavailable"},
	{apperrors.ErrLockTimeout, http.StatusServiceUnavailable, "lock_timeout"},
	{apperrors.ErrDuplicateReference, http.StatusConflict, "duplicate_reference"},
	{apperrors.ErrDuplicateIdempotencyKey, http.StatusConflict, "duplicate_idempotency_key"},
	{apperrors.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{apperrors.ErrInvalidPIN, http.StatusForbidden, "invalid_pin"},
	{apperrors.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{apperrors.ErrEmailTaken, http.StatusConflict, "email_taken"},
}

// StatusFor maps a service error onto an HTTP status and error code.
func StatusFor(err error) (int, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// WriteServiceError writes err using the ledger error taxonomy. Failed
// transactions carry their reference in details.
func WriteServiceError(w http.ResponseWriter, log *slog.Logger, err error) {
	status, code := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed", "err", err)
		WriteError(w, status, code, "internal error", nil)
		return
	}
	var details any
	if ref, ok := apperrors.ReferenceOf(err); ok {
		details = map[string]string{"reference": ref}
	}
	WriteError(w, status, code, err.Error(), details)
}
