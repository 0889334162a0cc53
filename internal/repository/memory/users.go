package memory

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/baharkarakas/wallet-ledger/internal/apperrors"
	"github.com/baharkarakas/wallet-ledger/internal/models"
)

type usersRepo struct{ s *Store }

func (r usersRepo) Create(_ context.Context, u models.User) (models.User, error) {
	email := strings.ToLower(u.Email)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, taken := r.s.emails[email]; taken {
		return models.User{}, apperrors.ErrEmailTaken
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	u.Email = email
	u.CreatedAt = r.s.now()
	u.UpdatedAt = u.CreatedAt
	r.s.users[u.ID] = u
	r.s.emails[email] = u.ID
	return u, nil
}

func (r usersRepo) GetByID(_ context.Context, id string) (models.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return models.User{}, apperrors.ErrUserNotFound
	}
	return u, nil
}

func (r usersRepo) GetByEmail(ctx context.Context, email string) (models.User, error) {
	r.s.mu.RLock()
	id, ok := r.s.emails[strings.ToLower(strings.TrimSpace(email))]
	r.s.mu.RUnlock()
	if !ok {
		return models.User{}, apperrors.ErrUserNotFound
	}
	return r.GetByID(ctx, id)
}
