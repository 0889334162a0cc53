package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/baharkarakas/wallet-ledger/internal/apperrors"
	"github.com/baharkarakas/wallet-ledger/internal/auth"
	"github.com/baharkarakas/wallet-ledger/internal/cache"
	"github.com/baharkarakas/wallet-ledger/internal/lock"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	repo "github.com/baharkarakas/wallet-ledger/internal/repository"
)

type WalletService struct {
	store       repo.Store
	locks       *lock.Manager
	lockTimeout time.Duration
	balances    cache.Balances
	log         *slog.Logger
}

func NewWalletService(store repo.Store, locks *lock.Manager, lockTimeout time.Duration, balances cache.Balances) *WalletService {
	if balances == nil {
		balances = cache.Nop{}
	}
	return &WalletService{store: store, locks: locks, lockTimeout: lockTimeout, balances: balances, log: slog.Default()}
}

// GetWallet returns the user's wallet, creating it on first access.
func (s *WalletService) GetWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	if userID == "" {
		return nil, apperrors.Validation("user id required")
	}
	w, err := s.store.Wallets().GetByUserID(ctx, userID)
	if errors.Is(err, apperrors.ErrWalletNotFound) {
		w, err = s.store.Wallets().Create(ctx, userID)
	}
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	return w, nil
}

// GetBalance serves from the balance cache when possible. Entries are dropped
// after every commit touching the wallet and expire on their own otherwise.
func (s *WalletService) GetBalance(ctx context.Context, userID string) (*models.Wallet, error) {
	if w, err := s.balances.Get(ctx, userID); err == nil {
		return w, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		s.log.Warn("balance cache read failed", "user", userID, "err", err)
	}
	w, err := s.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.balances.Set(ctx, w); err != nil {
		s.log.Warn("balance cache write failed", "user", userID, "err", err)
	}
	return w, nil
}

func (s *WalletService) SetPIN(ctx context.Context, userID, pin string) error {
	hash, err := auth.HashPIN(pin)
	if err != nil {
		return err
	}
	w, err := s.GetWallet(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.store.Wallets().SetPIN(ctx, w.ID, hash); err != nil {
		return apperrors.Storage(err)
	}
	return s.record(ctx, w.ID, "pin_set", nil)
}

func (s *WalletService) Freeze(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error) {
	return s.setStatus(ctx, walletID, models.WalletFrozen)
}

func (s *WalletService) Unfreeze(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error) {
	return s.setStatus(ctx, walletID, models.WalletActive)
}

// setStatus waits for in-flight operations on the wallet before flipping it.
func (s *WalletService) setStatus(ctx context.Context, walletID uuid.UUID, status models.WalletStatus) (*models.Wallet, error) {
	release, err := s.locks.Acquire(ctx, s.lockTimeout, walletID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.store.Wallets().SetStatus(ctx, walletID, status); err != nil {
		return nil, apperrors.Storage(err)
	}
	w, err := s.store.Wallets().GetByWalletID(ctx, walletID)
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	if err := s.balances.Invalidate(ctx, w.UserID); err != nil {
		s.log.Warn("balance cache invalidation failed", "wallet", walletID, "err", err)
	}
	s.log.Info("wallet status changed", "wallet", walletID, "status", status)
	return w, s.record(ctx, walletID, string(status), nil)
}

func (s *WalletService) record(ctx context.Context, walletID uuid.UUID, action string, details map[string]any) error {
	err := s.store.AuditLogs().Create(ctx, models.AuditLog{
		EntityType: models.AuditEntityWallet,
		EntityID:   walletID.String(),
		Action:     action,
		Details:    details,
	})
	return apperrors.Storage(err)
}
