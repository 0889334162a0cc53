package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionKind string

const (
	TxnDeposit    TransactionKind = "deposit"
	TxnWithdrawal TransactionKind = "withdrawal"
	TxnTransfer   TransactionKind = "transfer"
	TxnExchange   TransactionKind = "exchange"
)

// Prefix is the leading part of every reference generated for the kind.
func (k TransactionKind) Prefix() string {
	switch k {
	case TxnDeposit:
		return "DEP"
	case TxnWithdrawal:
		return "WDR"
	case TxnTransfer:
		return "TRF"
	case TxnExchange:
		return "EXC"
	}
	return "TXN"
}

func (k TransactionKind) Valid() bool {
	switch k {
	case TxnDeposit, TxnWithdrawal, TxnTransfer, TxnExchange:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TxnPending   TransactionStatus = "pending"
	TxnCompleted TransactionStatus = "completed"
	TxnFailed    TransactionStatus = "failed"
	TxnCancelled TransactionStatus = "cancelled"
)

func (s TransactionStatus) Terminal() bool {
	return s == TxnCompleted || s == TxnFailed || s == TxnCancelled
}

func (s TransactionStatus) Valid() bool { return s == TxnPending || s.Terminal() }

// CanTransition allows only pending -> terminal.
func CanTransition(from, to TransactionStatus) bool {
	return from == TxnPending && to.Terminal()
}

type Transaction struct {
	Reference         string            `json:"reference"`
	UserID            string            `json:"user_id"`
	WalletID          uuid.UUID         `json:"wallet_id"`
	Kind              TransactionKind   `json:"type"`
	Amount            decimal.Decimal   `json:"amount"`
	Fee               decimal.Decimal   `json:"fee"`
	Currency          Currency          `json:"currency"`
	TargetCurrency    *Currency         `json:"target_currency,omitempty"`
	Rate              *decimal.Decimal  `json:"rate,omitempty"`
	TargetAmount      *decimal.Decimal  `json:"target_amount,omitempty"`
	Status            TransactionStatus `json:"status"`
	SenderWalletID    *uuid.UUID        `json:"sender_wallet_id,omitempty"`
	RecipientWalletID *uuid.UUID        `json:"recipient_wallet_id,omitempty"`
	PaymentMethod     string            `json:"payment_method,omitempty"`
	Note              string            `json:"note,omitempty"`
	ExternalRef       string            `json:"external_ref,omitempty"`
	FailureReason     string            `json:"failure_reason,omitempty"`
	IdempotencyKey    string            `json:"idempotency_key,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Touches reports whether the transaction moved funds in or out of walletID.
func (t *Transaction) Touches(walletID uuid.UUID) bool {
	if t.WalletID == walletID {
		return true
	}
	if t.SenderWalletID != nil && *t.SenderWalletID == walletID {
		return true
	}
	return t.RecipientWalletID != nil && *t.RecipientWalletID == walletID
}
