package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/baharkarakas/wallet-ledger/internal/apperrors"
	"github.com/baharkarakas/wallet-ledger/internal/auth"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	repo "github.com/baharkarakas/wallet-ledger/internal/repository"
)

const minPasswordLen = 8

type UserService struct {
	store repo.Store
	tm    *auth.TokenManager
}

func NewUserService(store repo.Store, tm *auth.TokenManager) *UserService {
	return &UserService{store: store, tm: tm}
}

// Register creates the user together with their wallet.
func (s *UserService) Register(ctx context.Context, username, email, password string) (models.User, *models.Wallet, error) {
	u := models.User{Username: username, Email: email, Role: models.RoleUser}
	if err := u.Validate(); err != nil {
		return models.User{}, nil, err
	}
	if len(password) < minPasswordLen {
		return models.User{}, nil, apperrors.Validation("password must be at least %d characters", minPasswordLen)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return models.User{}, nil, err
	}
	u.PasswordHash = hash

	u, err = s.store.Users().Create(ctx, u)
	if err != nil {
		return models.User{}, nil, apperrors.Storage(err)
	}
	w, err := s.store.Wallets().Create(ctx, u.ID)
	if err != nil {
		return models.User{}, nil, apperrors.Storage(err)
	}
	slog.Info("user registered", "user", u.ID, "wallet", w.ID)
	return u, w, nil
}

func (s *UserService) Login(ctx context.Context, email, password string) (auth.TokenPair, models.User, error) {
	u, err := s.store.Users().GetByEmail(ctx, email)
	if errors.Is(err, apperrors.ErrUserNotFound) {
		return auth.TokenPair{}, models.User{}, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return auth.TokenPair{}, models.User{}, apperrors.Storage(err)
	}
	if auth.VerifyPassword(password, u.PasswordHash) != nil {
		return auth.TokenPair{}, models.User{}, apperrors.ErrInvalidCredentials
	}
	pair, err := s.tm.GeneratePair(u.ID, u.Role)
	return pair, u, err
}

// Refresh rotates a token pair. The user is re-read so a changed role takes
// effect on the next refresh.
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
	claims, err := s.tm.ParseRefresh(refreshToken)
	if err != nil {
		return auth.TokenPair{}, apperrors.ErrInvalidCredentials
	}
	u, err := s.store.Users().GetByID(ctx, claims.UserID)
	if errors.Is(err, apperrors.ErrUserNotFound) {
		return auth.TokenPair{}, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return auth.TokenPair{}, apperrors.Storage(err)
	}
	return s.tm.GeneratePair(u.ID, u.Role)
}

// EnsureAdmin creates the bootstrap admin account unless the email is
// already registered.
func (s *UserService) EnsureAdmin(ctx context.Context, email, password string) (models.User, error) {
	if u, err := s.store.Users().GetByEmail(ctx, email); err == nil {
		return u, nil
	} else if !errors.Is(err, apperrors.ErrUserNotFound) {
		return models.User{}, apperrors.Storage(err)
	}
	u := models.User{Username: "admin", Email: email, Role: models.RoleAdmin}
	if err := u.Validate(); err != nil {
		return models.User{}, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return models.User{}, err
	}
	u.PasswordHash = hash
	u, err = s.store.Users().Create(ctx, u)
	if err != nil {
		return models.User{}, apperrors.Storage(err)
	}
	slog.Info("admin account created", "user", u.ID)
	return u, nil
}

func (s *UserService) Get(ctx context.Context, id string) (models.User, error) {
	u, err := s.store.Users().GetByID(ctx, id)
	return u, apperrors.Storage(err)
}
