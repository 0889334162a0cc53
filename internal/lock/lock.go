// Package lock provides per-wallet mutual exclusion for ledger operations.
package lock

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/baharkarakas/wallet-ledger/internal/apperrors"
)

// Manager hands out one weight-1 semaphore per wallet. Entries are never
// evicted; the set is bounded by the number of wallets.
type Manager struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*semaphore.Weighted
}

func NewManager() *Manager {
	return &Manager{locks: map[uuid.UUID]*semaphore.Weighted{}}
}

func (m *Manager) sem(id uuid.UUID) *semaphore.Weighted {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.locks[id]
	if !ok {
		s = semaphore.NewWeighted(1)
		m.locks[id] = s
	}
	return s
}

// Acquire locks every id in ascending order, so two callers that share wallets
// can never wait on each other in a cycle. If timeout elapses first, locks
// already taken are released and ErrLockTimeout is returned.
func (m *Manager) Acquire(ctx context.Context, timeout time.Duration, ids ...uuid.UUID) (release func(), err error) {
	keys := Sorted(ids...)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	held := make([]*semaphore.Weighted, 0, len(keys))
	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Release(1)
		}
	}
	for _, id := range keys {
		s := m.sem(id)
		if err := s.Acquire(ctx, 1); err != nil {
			unlock()
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, apperrors.ErrLockTimeout
			}
			return nil, err
		}
		held = append(held, s)
	}

	var once sync.Once
	return func() { once.Do(unlock) }, nil
}

// Sorted returns the distinct ids in ascending byte order.
func Sorted(ids ...uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
