package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/wallet-ledger/internal/models"
)

type Users interface {
	Create(ctx context.Context, u models.User) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
	GetByEmail(ctx context.Context, email string) (models.User, error)
}

type WalletReader interface {
	GetByUserID(ctx context.Context, userID string) (*models.Wallet, error)
	GetByWalletID(ctx context.Context, id uuid.UUID) (*models.Wallet, error)
}

// Wallets is the wallet store. ApplyDelta never lets a balance go below zero;
// on ErrInsufficientFunds the stored balance is unchanged.
type Wallets interface {
	WalletReader
	Create(ctx context.Context, userID string) (*models.Wallet, error)
	ApplyDelta(ctx context.Context, id uuid.UUID, c models.Currency, delta decimal.Decimal) (decimal.Decimal, error)
	SetStatus(ctx context.Context, id uuid.UUID, status models.WalletStatus) error
	SetPIN(ctx context.Context, id uuid.UUID, pinHash string) error
}

// TxWallets is the wallet view inside an atomic unit. Reads through it hold the
// row until the unit ends on stores that lock rows.
type TxWallets interface {
	WalletReader
	ApplyDelta(ctx context.Context, id uuid.UUID, c models.Currency, delta decimal.Decimal) (decimal.Decimal, error)
}

type TransactionFilter struct {
	UserID   string
	WalletID *uuid.UUID // owner, sender or recipient
	Status   models.TransactionStatus
	Kind     models.TransactionKind
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Normalize clamps paging to sane bounds.
func (f TransactionFilter) Normalize() TransactionFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Match reports whether t passes the filter, ignoring paging.
func (f TransactionFilter) Match(t *models.Transaction) bool {
	if f.UserID != "" && t.UserID != f.UserID {
		return false
	}
	if f.WalletID != nil && !t.Touches(*f.WalletID) {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Kind != "" && t.Kind != f.Kind {
		return false
	}
	if !f.From.IsZero() && t.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !t.CreatedAt.Before(f.To) {
		return false
	}
	return true
}

// TransactionLog is append-only: after Append only status, failure reason and
// updatedAt change, and only from pending to a terminal status.
type TransactionLog interface {
	Append(ctx context.Context, t *models.Transaction) error
	Get(ctx context.Context, reference string) (*models.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, userID, key string) (*models.Transaction, error)
	UpdateStatus(ctx context.Context, reference string, from, to models.TransactionStatus, reason string) (*models.Transaction, error)
	Query(ctx context.Context, f TransactionFilter) ([]models.Transaction, error)
}

type AuditLogs interface {
	Create(ctx context.Context, l models.AuditLog) error
	ListByEntity(ctx context.Context, entityType, entityID string) ([]models.AuditLog, error)
}

// Tx is one atomic unit of work.
type Tx interface {
	Wallets() TxWallets
	Transactions() TransactionLog
	AuditLogs() AuditLogs
	// Savepoint runs fn in a nested unit; its writes are discarded if fn fails
	// while the enclosing unit carries on.
	Savepoint(ctx context.Context, fn func(Tx) error) error
}

type Store interface {
	Users() Users
	Wallets() Wallets
	Transactions() TransactionLog
	AuditLogs() AuditLogs
	// Atomic commits everything fn wrote if it returns nil and nothing otherwise.
	Atomic(ctx context.Context, fn func(Tx) error) error
	Close()
}
