package handlers

import (
	"net/http"

	"github.com/baharkarakas/wallet-ledger/internal/api/httpx"
	"github.com/baharkarakas/wallet-ledger/internal/api/validate"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/services"
)

type WalletHandler struct {
	Wallets *services.WalletService
}

func NewWalletHandler(ws *services.WalletService) *WalletHandler {
	return &WalletHandler{Wallets: ws}
}

func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.Wallets.GetWallet(r.Context(), caller(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, wallet)
}

type balanceResp struct {
	WalletID string              `json:"wallet_id"`
	Status   models.WalletStatus `json:"status"`
	Balances map[string]string   `json:"balances"`
}

// Balance reports every supported currency as a fixed-precision string.
func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.Wallets.GetBalance(r.Context(), caller(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	out := balanceResp{
		WalletID: wallet.ID.String(),
		Status:   wallet.Status,
		Balances: make(map[string]string, len(models.SupportedCurrencies())),
	}
	for _, c := range models.SupportedCurrencies() {
		out.Balances[string(c)] = wallet.Balance(c).StringFixed(c.Scale())
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

type pinReq struct {
	PIN string `json:"pin"`
}

func (h *WalletHandler) SetPIN(w http.ResponseWriter, r *http.Request) {
	var req pinReq
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if err := validate.Collect(validate.Required("pin", req.PIN)); err != nil {
		fail(w, r, err)
		return
	}
	if err := h.Wallets.SetPIN(r.Context(), caller(r), req.PIN); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
