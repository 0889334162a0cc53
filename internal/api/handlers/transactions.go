package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/baharkarakas/wallet-ledger/internal/api/httpx"
	"github.com/baharkarakas/wallet-ledger/internal/api/validate"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	repo "github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/baharkarakas/wallet-ledger/internal/services"
)

const IdempotencyHeader = "Idempotency-Key"

type TransactionHandler struct {
	Txns *services.TransactionService
}

func NewTransactionHandler(ts *services.TransactionService) *TransactionHandler {
	return &TransactionHandler{Txns: ts}
}

// writeResult answers a ledger operation. A failed record comes back with
// the error status and its reference in details.
func writeResult(w http.ResponseWriter, r *http.Request, t *models.Transaction, err error) {
	if err != nil {
		fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, t)
}

type depositReq struct {
	Currency      string `json:"currency"`
	Amount        string `json:"amount"`
	PaymentMethod string `json:"payment_method"`
	ExternalRef   string `json:"external_ref"`
	Note          string `json:"note"`
}

func (h *TransactionHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositReq
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	in := services.DepositRequest{
		UserID:         caller(r),
		PaymentMethod:  req.PaymentMethod,
		ExternalRef:    req.ExternalRef,
		Note:           req.Note,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	}
	if err := validate.Collect(
		validate.Currency("currency", req.Currency, &in.Currency),
		validate.Amount("amount", req.Amount, &in.Amount),
		validate.Required("payment_method", req.PaymentMethod),
	); err != nil {
		fail(w, r, err)
		return
	}
	t, err := h.Txns.Deposit(r.Context(), in)
	writeResult(w, r, t, err)
}

type withdrawReq struct {
	depositReq
	PIN string `json:"pin"`
}

func (h *TransactionHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawReq
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	in := services.WithdrawRequest{
		UserID:         caller(r),
		PaymentMethod:  req.PaymentMethod,
		ExternalRef:    req.ExternalRef,
		Note:           req.Note,
		PIN:            req.PIN,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	}
	if err := validate.Collect(
		validate.Currency("currency", req.Currency, &in.Currency),
		validate.Amount("amount", req.Amount, &in.Amount),
		validate.Required("payment_method", req.PaymentMethod),
	); err != nil {
		fail(w, r, err)
		return
	}
	t, err := h.Txns.Withdraw(r.Context(), in)
	writeResult(w, r, t, err)
}

type transferReq struct {
	RecipientWalletID string `json:"recipient_wallet_id"`
	RecipientEmail    string `json:"recipient_email"`
	Currency          string `json:"currency"`
	Amount            string `json:"amount"`
	Note              string `json:"note"`
	PIN               string `json:"pin"`
}

func (h *TransactionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferReq
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	in := services.TransferRequest{
		SenderUserID:   caller(r),
		RecipientEmail: req.RecipientEmail,
		Note:           req.Note,
		PIN:            req.PIN,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	}
	var walletErr *validate.ErrField
	if req.RecipientWalletID != "" {
		id, err := uuid.Parse(req.RecipientWalletID)
		if err != nil {
			walletErr = &validate.ErrField{Field: "recipient_wallet_id", Msg: "not a uuid"}
		} else {
			in.RecipientWalletID = &id
		}
	}
	if err := validate.Collect(
		walletErr,
		validate.Currency("currency", req.Currency, &in.Currency),
		validate.Amount("amount", req.Amount, &in.Amount),
	); err != nil {
		fail(w, r, err)
		return
	}
	t, err := h.Txns.Transfer(r.Context(), in)
	writeResult(w, r, t, err)
}

type exchangeReq struct {
	From   string `json:"from_currency"`
	To     string `json:"to_currency"`
	Amount string `json:"amount"`
}

func (h *TransactionHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeReq
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		fail(w, r, err)
		return
	}
	in := services.ExchangeRequest{
		UserID:         caller(r),
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	}
	if err := validate.Collect(
		validate.Currency("from_currency", req.From, &in.From),
		validate.Currency("to_currency", req.To, &in.To),
		validate.Amount("amount", req.Amount, &in.Amount),
	); err != nil {
		fail(w, r, err)
		return
	}
	t, err := h.Txns.Exchange(r.Context(), in)
	writeResult(w, r, t, err)
}

func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.Txns.GetTransaction(r.Context(), caller(r), chi.URLParam(r, "reference"))
	if err != nil {
		fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, t)
}

type listResp struct {
	Items  []models.Transaction `json:"items"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// List accepts status, kind, from, to (RFC 3339, to exclusive), limit and offset.
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	f = f.Normalize()
	items, err := h.Txns.ListTransactions(r.Context(), caller(r), f)
	if err != nil {
		fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, listResp{Items: items, Limit: f.Limit, Offset: f.Offset})
}

func parseFilter(r *http.Request) (repo.TransactionFilter, error) {
	q := r.URL.Query()
	var f repo.TransactionFilter
	var fields []*validate.ErrField

	if v := q.Get("status"); v != "" {
		f.Status = models.TransactionStatus(v)
		if !f.Status.Valid() {
			fields = append(fields, &validate.ErrField{Field: "status", Msg: "unknown status"})
		}
	}
	if v := q.Get("kind"); v != "" {
		f.Kind = models.TransactionKind(v)
		if !f.Kind.Valid() {
			fields = append(fields, &validate.ErrField{Field: "kind", Msg: "unknown kind"})
		}
	}
	fields = append(fields,
		parseTime("from", q.Get("from"), &f.From),
		parseTime("to", q.Get("to"), &f.To),
		validate.Int("limit", q.Get("limit"), &f.Limit),
		validate.Int("offset", q.Get("offset"), &f.Offset),
	)
	return f, validate.Collect(fields...)
}

func parseTime(field, value string, dst *time.Time) *validate.ErrField {
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return &validate.ErrField{Field: field, Msg: "must be RFC 3339"}
	}
	*dst = t
	return nil
}
