package memory

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/wallet-ledger/internal/apperrors"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
)

type walletsRepo struct{ s *Store }

func (r walletsRepo) Create(_ context.Context, userID string) (*models.Wallet, error) {
	if userID == "" {
		return nil, apperrors.Validation("user id required")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if id, ok := r.s.byUser[userID]; ok {
		cp := r.s.wallets[id].Clone()
		cp.Backfill()
		return cp, nil
	}
	w := models.NewWallet(userID, r.s.now())
	r.s.wallets[w.ID] = w
	r.s.byUser[userID] = w.ID
	return w.Clone(), nil
}

func (r walletsRepo) GetByUserID(ctx context.Context, userID string) (*models.Wallet, error) {
	return (&unit{s: r.s}).GetByUserID(ctx, userID)
}

func (r walletsRepo) GetByWalletID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	return (&unit{s: r.s}).GetByWalletID(ctx, id)
}

func (r walletsRepo) ApplyDelta(ctx context.Context, id uuid.UUID, c models.Currency, amount decimal.Decimal) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := r.s.Atomic(ctx, func(tx repository.Tx) error {
		var err error
		bal, err = tx.Wallets().ApplyDelta(ctx, id, c, amount)
		return err
	})
	return bal, err
}

func (r walletsRepo) SetStatus(_ context.Context, id uuid.UUID, status models.WalletStatus) error {
	return r.update(id, func(w *models.Wallet) { w.Status = status })
}

func (r walletsRepo) SetPIN(_ context.Context, id uuid.UUID, pinHash string) error {
	return r.update(id, func(w *models.Wallet) { w.PINHash = pinHash })
}

func (r walletsRepo) update(id uuid.UUID, fn func(*models.Wallet)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.wallets[id]
	if !ok {
		return apperrors.ErrWalletNotFound
	}
	fn(w)
	w.UpdatedAt = r.s.now()
	return nil
}

// autoLog runs each call in its own unit.
type autoLog struct{ s *Store }

func (l autoLog) Append(ctx context.Context, t *models.Transaction) error {
	return l.s.Atomic(ctx, func(tx repository.Tx) error { return tx.Transactions().Append(ctx, t) })
}

func (l autoLog) Get(ctx context.Context, reference string) (*models.Transaction, error) {
	return unitLog{&unit{s: l.s}}.Get(ctx, reference)
}

func (l autoLog) GetByIdempotencyKey(ctx context.Context, userID, key string) (*models.Transaction, error) {
	return unitLog{&unit{s: l.s}}.GetByIdempotencyKey(ctx, userID, key)
}

func (l autoLog) UpdateStatus(ctx context.Context, reference string, from, to models.TransactionStatus, reason string) (*models.Transaction, error) {
	var out *models.Transaction
	err := l.s.Atomic(ctx, func(tx repository.Tx) error {
		var err error
		out, err = tx.Transactions().UpdateStatus(ctx, reference, from, to, reason)
		return err
	})
	return out, err
}

func (l autoLog) Query(ctx context.Context, f repository.TransactionFilter) ([]models.Transaction, error) {
	return unitLog{&unit{s: l.s}}.Query(ctx, f)
}

type autoAudit struct{ s *Store }

func (a autoAudit) Create(ctx context.Context, l models.AuditLog) error {
	return a.s.Atomic(ctx, func(tx repository.Tx) error { return tx.AuditLogs().Create(ctx, l) })
}

func (a autoAudit) ListByEntity(ctx context.Context, entityType, entityID string) ([]models.AuditLog, error) {
	return unitAudit{&unit{s: a.s}}.ListByEntity(ctx, entityType, entityID)
}
