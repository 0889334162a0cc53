package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/baharkarakas/wallet-ledger/internal/api/httpx"
	"github.com/baharkarakas/wallet-ledger/internal/api/validate"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/services"
)

type AdminHandler struct {
	Wallets *services.WalletService
	Txns    *services.TransactionService
}

func NewAdminHandler(ws *services.WalletService, ts *services.TransactionService) *AdminHandler {
	return &AdminHandler{Wallets: ws, Txns: ts}
}

func (h *AdminHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.Wallets.Freeze)
}

func (h *AdminHandler) Unfreeze(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, h.Wallets.Unfreeze)
}

func (h *AdminHandler) setStatus(w http.ResponseWriter, r *http.Request, apply func(context.Context, uuid.UUID) (*models.Wallet, error)) {
	id, err := uuid.Parse(chi.URLParam(r, "walletID"))
	if err != nil {
		fail(w, r, validate.Errs{{Field: "walletID", Msg: "not a uuid"}})
		return
	}
	wallet, err := apply(r.Context(), id)
	if err != nil {
		fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wallet)
}

func (h *AdminHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := h.Txns.Lookup(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, t)
}

func (h *AdminHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	t, err := h.Txns.Cancel(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, t)
}

func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "reference")
	if _, err := h.Txns.Lookup(r.Context(), ref); err != nil {
		fail(w, r, err)
		return
	}
	logs, err := h.Txns.AuditTrail(r.Context(), ref)
	if err != nil {
		fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, logs)
}
