package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type WalletStatus string

const (
	WalletActive WalletStatus = "active"
	WalletFrozen WalletStatus = "frozen"
)

type Wallet struct {
	ID        uuid.UUID                    `json:"wallet_id"`
	UserID    string                       `json:"user_id"`
	Balances  map[Currency]decimal.Decimal `json:"balances"`
	Status    WalletStatus                 `json:"status"`
	PINHash   string                       `json:"-"`
	CreatedAt time.Time                    `json:"created_at"`
	UpdatedAt time.Time                    `json:"updated_at"`
}

// NewWallet returns an active wallet holding a zero entry for every supported currency.
func NewWallet(userID string, now time.Time) *Wallet {
	w := &Wallet{
		ID:        uuid.New(),
		UserID:    userID,
		Balances:  make(map[Currency]decimal.Decimal, len(supportedCurrencies)),
		Status:    WalletActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	w.Backfill()
	return w
}

// Backfill adds zero entries for currencies the wallet does not hold yet and
// reports whether anything was added.
func (w *Wallet) Backfill() bool {
	if w.Balances == nil {
		w.Balances = make(map[Currency]decimal.Decimal, len(supportedCurrencies))
	}
	added := false
	for _, c := range supportedCurrencies {
		if _, ok := w.Balances[c]; !ok {
			w.Balances[c] = decimal.Zero
			added = true
		}
	}
	return added
}

func (w *Wallet) Balance(c Currency) decimal.Decimal { return w.Balances[c] }
func (w *Wallet) Active() bool                        { return w.Status == WalletActive }
func (w *Wallet) HasPIN() bool                        { return w.PINHash != "" }

func (w *Wallet) Clone() *Wallet {
	cp := *w
	cp.Balances = make(map[Currency]decimal.Decimal, len(w.Balances))
	for c, amt := range w.Balances {
		cp.Balances[c] = amt
	}
	return &cp
}
