package handlers

import (
	"errors"
	"net/http"

	"github.com/baharkarakas/wallet-ledger/internal/api/httpx"
	"github.com/baharkarakas/wallet-ledger/internal/api/validate"
	"github.com/baharkarakas/wallet-ledger/internal/middleware"
)

// fail writes err, listing field errors when validation produced them.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	var fields validate.Errs
	if errors.As(err, &fields) {
		httpx.WriteError(w, http.StatusBadRequest, "validation_error", "invalid request", fields)
		return
	}
	httpx.WriteServiceError(w, middleware.Logger(r.Context()), err)
}

// caller returns the authenticated user id. Auth guarantees it is set.
func caller(r *http.Request) string {
	id, _ := middleware.UserID(r.Context())
	return id
}
