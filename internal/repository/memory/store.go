// Package memory is an in-process implementation of the repository contracts.
// Writes made inside a unit are buffered and applied under a single lock on
// commit, so readers never see half of an operation.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/wallet-ledger/internal/apperrors"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
)

type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	users   map[string]models.User
	emails  map[string]string
	wallets map[uuid.UUID]*models.Wallet
	byUser  map[string]uuid.UUID
	txns    map[string]*models.Transaction
	order   []string
	idem    map[string]string
	audit   []models.AuditLog

	// claimed by units still in flight
	reservedRefs map[string]struct{}
	reservedKeys map[string]struct{}
}

type Option func(*Store)

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

func New(opts ...Option) *Store {
	s := &Store{
		now:          time.Now,
		users:        map[string]models.User{},
		emails:       map[string]string{},
		wallets:      map[uuid.UUID]*models.Wallet{},
		byUser:       map[string]uuid.UUID{},
		txns:         map[string]*models.Transaction{},
		idem:         map[string]string{},
		reservedRefs: map[string]struct{}{},
		reservedKeys: map[string]struct{}{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ repository.Store = (*Store)(nil)

func (s *Store) Users() repository.Users                { return usersRepo{s} }
func (s *Store) Wallets() repository.Wallets            { return walletsRepo{s} }
func (s *Store) Transactions() repository.TransactionLog { return autoLog{s} }
func (s *Store) AuditLogs() repository.AuditLogs         { return autoAudit{s} }
func (s *Store) Close()                                  {}

func (s *Store) Atomic(ctx context.Context, fn func(repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u := &unit{s: s}
	if err := fn(u); err != nil {
		s.release(u)
		return err
	}
	return s.commit(u)
}

func idemKey(userID, key string) string { return userID + "\x00" + key }

func (s *Store) release(u *unit) {
	if len(u.refs) == 0 && len(u.keys) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range u.refs {
		delete(s.reservedRefs, r)
	}
	for _, k := range u.keys {
		delete(s.reservedKeys, k)
	}
}

// commit validates the whole unit against committed state and applies it, or
// applies nothing.
func (s *Store) commit(u *unit) error {
	if len(u.deltas) == 0 && len(u.appends) == 0 && len(u.changes) == 0 && len(u.audits) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		for _, r := range u.refs {
			delete(s.reservedRefs, r)
		}
		for _, k := range u.keys {
			delete(s.reservedKeys, k)
		}
	}()

	type slot struct {
		wallet   uuid.UUID
		currency models.Currency
	}
	balances := map[slot]decimal.Decimal{}
	for _, d := range u.deltas {
		w, ok := s.wallets[d.wallet]
		if !ok {
			return apperrors.ErrWalletNotFound
		}
		k := slot{d.wallet, d.currency}
		cur, seen := balances[k]
		if !seen {
			cur = w.Balances[d.currency]
		}
		cur = cur.Add(d.amount)
		if cur.IsNegative() {
			return apperrors.ErrInsufficientFunds
		}
		balances[k] = cur
	}

	statuses := map[string]models.TransactionStatus{}
	for _, t := range u.appends {
		statuses[t.Reference] = t.Status
	}
	for _, c := range u.changes {
		cur, ok := statuses[c.ref]
		if !ok {
			t, found := s.txns[c.ref]
			if !found {
				return apperrors.ErrTransactionNotFound
			}
			cur = t.Status
		}
		if cur != c.from || !models.CanTransition(c.from, c.to) {
			return apperrors.ErrInvalidTransition
		}
		statuses[c.ref] = c.to
	}

	for _, t := range u.appends {
		cp := *t
		s.txns[cp.Reference] = &cp
		s.order = append(s.order, cp.Reference)
		if cp.IdempotencyKey != "" {
			s.idem[idemKey(cp.UserID, cp.IdempotencyKey)] = cp.Reference
		}
	}
	for _, c := range u.changes {
		c.apply(s.txns[c.ref])
	}
	now := s.now()
	for k, bal := range balances {
		w := s.wallets[k.wallet]
		w.Balances[k.currency] = bal
		w.UpdatedAt = now
	}
	s.audit = append(s.audit, u.audits...)
	return nil
}

type delta struct {
	wallet   uuid.UUID
	currency models.Currency
	amount   decimal.Decimal
}

type statusChange struct {
	ref    string
	from   models.TransactionStatus
	to     models.TransactionStatus
	reason string
	at     time.Time
}

func (c statusChange) apply(t *models.Transaction) {
	t.Status = c.to
	t.UpdatedAt = c.at
	if c.reason != "" {
		t.FailureReason = c.reason
	}
}

// unit buffers one atomic unit. A child unit is a savepoint of its parent.
type unit struct {
	s      *Store
	parent *unit

	deltas  []delta
	appends []*models.Transaction
	changes []statusChange
	audits  []models.AuditLog
	refs    []string
	keys    []string
}

func (u *unit) Wallets() repository.TxWallets         { return u }
func (u *unit) Transactions() repository.TransactionLog { return unitLog{u} }
func (u *unit) AuditLogs() repository.AuditLogs        { return unitAudit{u} }

func (u *unit) Savepoint(ctx context.Context, fn func(repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	child := &unit{s: u.s, parent: u}
	if err := fn(child); err != nil {
		u.s.release(child)
		return err
	}
	u.deltas = append(u.deltas, child.deltas...)
	u.appends = append(u.appends, child.appends...)
	u.changes = append(u.changes, child.changes...)
	u.audits = append(u.audits, child.audits...)
	u.refs = append(u.refs, child.refs...)
	u.keys = append(u.keys, child.keys...)
	return nil
}

// chain lists the unit and its ancestors, outermost first.
func (u *unit) chain() []*unit {
	var out []*unit
	for c := u; c != nil; c = c.parent {
		out = append([]*unit{c}, out...)
	}
	return out
}

func (u *unit) GetByUserID(ctx context.Context, userID string) (*models.Wallet, error) {
	u.s.mu.RLock()
	id, ok := u.s.byUser[userID]
	u.s.mu.RUnlock()
	if !ok {
		return nil, apperrors.ErrWalletNotFound
	}
	return u.GetByWalletID(ctx, id)
}

func (u *unit) GetByWalletID(_ context.Context, id uuid.UUID) (*models.Wallet, error) {
	u.s.mu.RLock()
	w, ok := u.s.wallets[id]
	var cp *models.Wallet
	if ok {
		cp = w.Clone()
	}
	u.s.mu.RUnlock()
	if !ok {
		return nil, apperrors.ErrWalletNotFound
	}
	cp.Backfill()
	for _, c := range u.chain() {
		for _, d := range c.deltas {
			if d.wallet == id {
				cp.Balances[d.currency] = cp.Balances[d.currency].Add(d.amount)
			}
		}
	}
	return cp, nil
}

func (u *unit) ApplyDelta(ctx context.Context, id uuid.UUID, c models.Currency, amount decimal.Decimal) (decimal.Decimal, error) {
	w, err := u.GetByWalletID(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	next := w.Balances[c].Add(amount)
	if next.IsNegative() {
		return w.Balances[c], apperrors.ErrInsufficientFunds
	}
	u.deltas = append(u.deltas, delta{wallet: id, currency: c, amount: amount})
	return next, nil
}

// lookup returns the transaction as this unit sees it.
func (u *unit) lookup(ref string) (*models.Transaction, bool) {
	var t *models.Transaction
	u.s.mu.RLock()
	if committed, ok := u.s.txns[ref]; ok {
		cp := *committed
		t = &cp
	}
	u.s.mu.RUnlock()
	chain := u.chain()
	if t == nil {
		for _, c := range chain {
			for _, a := range c.appends {
				if a.Reference == ref {
					cp := *a
					t = &cp
				}
			}
		}
	}
	if t == nil {
		return nil, false
	}
	for _, c := range chain {
		for _, ch := range c.changes {
			if ch.ref == ref {
				ch.apply(t)
			}
		}
	}
	return t, true
}

type unitLog struct{ u *unit }

func (l unitLog) Append(_ context.Context, t *models.Transaction) error {
	if t.Reference == "" || !t.Kind.Valid() || !t.Status.Valid() {
		return apperrors.Validation("incomplete transaction record")
	}
	s := l.u.s
	s.mu.Lock()
	if _, taken := s.txns[t.Reference]; taken {
		s.mu.Unlock()
		return apperrors.ErrDuplicateReference
	}
	if _, taken := s.reservedRefs[t.Reference]; taken {
		s.mu.Unlock()
		return apperrors.ErrDuplicateReference
	}
	var key string
	if t.IdempotencyKey != "" {
		key = idemKey(t.UserID, t.IdempotencyKey)
		_, committed := s.idem[key]
		_, reserved := s.reservedKeys[key]
		if committed || reserved {
			s.mu.Unlock()
			return apperrors.ErrDuplicateIdempotencyKey
		}
		s.reservedKeys[key] = struct{}{}
		l.u.keys = append(l.u.keys, key)
	}
	s.reservedRefs[t.Reference] = struct{}{}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	s.mu.Unlock()

	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	cp := *t
	l.u.refs = append(l.u.refs, t.Reference)
	l.u.appends = append(l.u.appends, &cp)
	return nil
}

func (l unitLog) Get(_ context.Context, reference string) (*models.Transaction, error) {
	t, ok := l.u.lookup(reference)
	if !ok {
		return nil, apperrors.ErrTransactionNotFound
	}
	return t, nil
}

func (l unitLog) GetByIdempotencyKey(ctx context.Context, userID, key string) (*models.Transaction, error) {
	l.u.s.mu.RLock()
	ref, ok := l.u.s.idem[idemKey(userID, key)]
	l.u.s.mu.RUnlock()
	if !ok {
		for _, c := range l.u.chain() {
			for _, a := range c.appends {
				if a.UserID == userID && a.IdempotencyKey == key {
					ref, ok = a.Reference, true
				}
			}
		}
	}
	if !ok {
		return nil, apperrors.ErrTransactionNotFound
	}
	return l.Get(ctx, ref)
}

func (l unitLog) UpdateStatus(_ context.Context, reference string, from, to models.TransactionStatus, reason string) (*models.Transaction, error) {
	t, ok := l.u.lookup(reference)
	if !ok {
		return nil, apperrors.ErrTransactionNotFound
	}
	if t.Status != from || !models.CanTransition(from, to) {
		return nil, apperrors.ErrInvalidTransition
	}
	ch := statusChange{ref: reference, from: from, to: to, reason: reason, at: l.u.s.now()}
	l.u.changes = append(l.u.changes, ch)
	ch.apply(t)
	return t, nil
}

func (l unitLog) Query(_ context.Context, f repository.TransactionFilter) ([]models.Transaction, error) {
	f = f.Normalize()
	s := l.u.s
	s.mu.RLock()
	refs := make([]string, len(s.order))
	copy(refs, s.order)
	s.mu.RUnlock()
	for _, c := range l.u.chain() {
		for _, a := range c.appends {
			refs = append(refs, a.Reference)
		}
	}

	// newest first; ties keep reverse insertion order
	matched := make([]models.Transaction, 0, f.Limit)
	for i := len(refs) - 1; i >= 0; i-- {
		t, ok := l.u.lookup(refs[i])
		if ok && f.Match(t) {
			matched = append(matched, *t)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if f.Offset >= len(matched) {
		return []models.Transaction{}, nil
	}
	matched = matched[f.Offset:]
	if len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

type unitAudit struct{ u *unit }

func (a unitAudit) Create(_ context.Context, l models.AuditLog) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = a.u.s.now()
	}
	a.u.audits = append(a.u.audits, l)
	return nil
}

func (a unitAudit) ListByEntity(_ context.Context, entityType, entityID string) ([]models.AuditLog, error) {
	var out []models.AuditLog
	a.u.s.mu.RLock()
	for _, l := range a.u.s.audit {
		if l.EntityType == entityType && l.EntityID == entityID {
			out = append(out, l)
		}
	}
	a.u.s.mu.RUnlock()
	for _, c := range a.u.chain() {
		for _, l := range c.audits {
			if l.EntityType == entityType && l.EntityID == entityID {
				out = append(out, l)
			}
		}
	}
	return out, nil
}
