package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/baharkarakas/wallet-ledger/internal/api/httpx"
)

// Recover turns a handler panic into a 500 with the usual JSON error body,
// carrying the request id so the logged stack can be found.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			id := RequestIDFrom(r.Context())
			Logger(r.Context()).Error("panic", "err", rec, "path", r.URL.Path, "stack", string(debug.Stack()))
			var details any
			if id != "" {
				details = map[string]string{"request_id": id}
			}
			httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", details)
		}()
		next.ServeHTTP(w, r)
	})
}
