package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/wallet-ledger/internal/apperrors"
	"github.com/baharkarakas/wallet-ledger/internal/auth"
	"github.com/baharkarakas/wallet-ledger/internal/cache"
	"github.com/baharkarakas/wallet-ledger/internal/lock"
	"github.com/baharkarakas/wallet-ledger/internal/metrics"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/rates"
	"github.com/baharkarakas/wallet-ledger/internal/reference"
	repo "github.com/baharkarakas/wallet-ledger/internal/repository"
)

// Notifier receives every transaction that reached a terminal status.
type Notifier interface {
	Dispatch(t models.Transaction)
}

type LedgerConfig struct {
	LockTimeout       time.Duration
	ReferenceAttempts int
	WithdrawalFeePct  decimal.Decimal
	TransferFeePct    decimal.Decimal
}

// TransactionService is the ledger engine. Every balance change goes through
// execute: lock the wallets in id order, then in one atomic unit append a
// pending record, apply the deltas and settle the record.
type TransactionService struct {
	store    repo.Store
	locks    *lock.Manager
	refs     reference.Generator
	rates    rates.Provider
	balances cache.Balances
	notify   Notifier
	cfg      LedgerConfig
	log      *slog.Logger
	now      func() time.Time
}

type Option func(*TransactionService)

func WithBalanceCache(c cache.Balances) Option { return func(s *TransactionService) { s.balances = c } }
func WithNotifier(n Notifier) Option           { return func(s *TransactionService) { s.notify = n } }
func WithLogger(l *slog.Logger) Option         { return func(s *TransactionService) { s.log = l } }
func WithClock(now func() time.Time) Option    { return func(s *TransactionService) { s.now = now } }

func NewTransactionService(store repo.Store, locks *lock.Manager, refs reference.Generator, rp rates.Provider, cfg LedgerConfig, opts ...Option) *TransactionService {
	if cfg.ReferenceAttempts < 1 {
		cfg.ReferenceAttempts = 3
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	s := &TransactionService{
		store:    store,
		locks:    locks,
		refs:     refs,
		rates:    rp,
		balances: cache.Nop{},
		cfg:      cfg,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type DepositRequest struct {
	UserID         string
	Currency       models.Currency
	Amount         decimal.Decimal
	PaymentMethod  string
	ExternalRef    string
	Note           string
	IdempotencyKey string
}

type WithdrawRequest struct {
	UserID         string
	Currency       models.Currency
	Amount         decimal.Decimal
	PaymentMethod  string
	ExternalRef    string
	Note           string
	PIN            string
	IdempotencyKey string
}

// TransferRequest names the recipient by wallet id or by the owner's email;
// exactly one must be set.
type TransferRequest struct {
	SenderUserID      string
	RecipientWalletID *uuid.UUID
	RecipientEmail    string
	Currency          models.Currency
	Amount            decimal.Decimal
	Note              string
	PIN               string
	IdempotencyKey    string
}

type ExchangeRequest struct {
	UserID         string
	From           models.Currency
	To             models.Currency
	Amount         decimal.Decimal
	IdempotencyKey string
}

// ----------------- Helpers -----------------

// operation is one planned ledger mutation.
type operation struct {
	record  models.Transaction
	wallets []*models.Wallet // every wallet touched; all are locked
	// preFail settles the record as failed without touching balances.
	preFail error
	apply   func(ctx context.Context, tx repo.Tx) error
}

// fee returns pct percent of amount rounded to the currency's precision.
func fee(amount, pct decimal.Decimal, c models.Currency) decimal.Decimal {
	if pct.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(pct).Div(decimal.NewFromInt(100)).Round(c.Scale())
}

// settles reports whether err is a business failure that leaves a failed record
// behind, as opposed to one that aborts the whole unit.
func settles(err error) bool {
	return errors.Is(err, apperrors.ErrInsufficientFunds) || errors.Is(err, apperrors.ErrRateUnavailable)
}

// ownWallet returns the caller's wallet, creating it on first use.
func (s *TransactionService) ownWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	if strings.TrimSpace(userID) == "" {
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

// replay returns the transaction already recorded under the idempotency key.
func (s *TransactionService) replay(ctx context.Context, userID, key string) (*models.Transaction, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	t, err := s.store.Transactions().GetByIdempotencyKey(ctx, userID, key)
	if errors.Is(err, apperrors.ErrTransactionNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Storage(err)
	}
	return t, true, nil
}

func (s *TransactionService) audit(ctx context.Context, tx repo.Tx, t *models.Transaction, action string) error {
	details := map[string]any{"status": string(t.Status), "kind": string(t.Kind)}
	if t.FailureReason != "" {
		details["reason"] = t.FailureReason
	}
	return tx.AuditLogs().Create(ctx, models.AuditLog{
		EntityType: models.AuditEntityTransaction,
		EntityID:   t.Reference,
		Action:     action,
		Details:    details,
		CreatedAt:  s.now(),
	})
}

// appendPending writes the record under a fresh reference, regenerating it on
// a collision up to the configured number of attempts.
func (s *TransactionService) appendPending(ctx context.Context, tx repo.Tx, t *models.Transaction) error {
	for attempt := 1; ; attempt++ {
		t.Reference = s.refs.Generate(t.Kind)
		err := tx.Transactions().Append(ctx, t)
		if err == nil {
			return s.audit(ctx, tx, t, "created")
		}
		if !errors.Is(err, apperrors.ErrDuplicateReference) || attempt >= s.cfg.ReferenceAttempts {
			return err
		}
		metrics.ReferenceRetries.Inc()
		s.log.Warn("reference collision, regenerating", "ref", t.Reference, "attempt", attempt)
	}
}

func (s *TransactionService) settle(ctx context.Context, tx repo.Tx, ref string, to models.TransactionStatus, reason string) (*models.Transaction, error) {
	t, err := tx.Transactions().UpdateStatus(ctx, ref, models.TxnPending, to, reason)
	if err != nil {
		return nil, err
	}
	return t, s.audit(ctx, tx, t, string(to))
}

func checkActive(w *models.Wallet) error {
	if !w.Active() {
		return fmt.Errorf("%w: %s", apperrors.ErrWalletFrozen, w.ID)
	}
	return nil
}

// execute runs op end to end. It returns the settled record; when the record
// settled as failed or cancelled the error is a *apperrors.TxError carrying its
// reference.
//
// Wallet locks are released as soon as the unit commits, before cache and
// event work. Once the pending record is appended the unit always finishes:
// a caller that goes away at that point leaves a cancelled record rather than
// an aborted unit.
func (s *TransactionService) execute(ctx context.Context, op operation) (*models.Transaction, error) {
	kind := string(op.record.Kind)
	ids := make([]uuid.UUID, len(op.wallets))
	for i, w := range op.wallets {
		ids[i] = w.ID
	}
	ordered := lock.Sorted(ids...)

	waitStart := time.Now()
	release, err := s.locks.Acquire(ctx, s.cfg.LockTimeout, ordered...)
	metrics.LockWait.Observe(time.Since(waitStart).Seconds())
	if err != nil {
		metrics.LedgerOperations.WithLabelValues(kind, "rejected").Inc()
		return nil, err
	}
	defer release()

	var (
		result   *models.Transaction
		failure  error
		replayed bool
	)
	uctx := context.WithoutCancel(ctx)
	err = s.store.Atomic(uctx, func(tx repo.Tx) error {
		result, failure, replayed = nil, nil, false
		if err := ctx.Err(); err != nil {
			return err
		}

		if key := op.record.IdempotencyKey; key != "" {
			prev, err := tx.Transactions().GetByIdempotencyKey(uctx, op.record.UserID, key)
			if err == nil {
				result, replayed = prev, true
				return nil
			}
			if !errors.Is(err, apperrors.ErrTransactionNotFound) {
				return err
			}
		}

		// re-read under lock in id order; status may have changed since
		// planning, and row-locking stores lock in this order
		for _, id := range ordered {
			fresh, err := tx.Wallets().GetByWalletID(uctx, id)
			if err != nil {
				return err
			}
			if err := checkActive(fresh); err != nil {
				return err
			}
		}

		rec := op.record
		now := s.now()
		rec.Status = models.TxnPending
		rec.CreatedAt, rec.UpdatedAt = now, now
		if err := s.appendPending(uctx, tx, &rec); err != nil {
			return err
		}

		if cerr := ctx.Err(); cerr != nil {
			failure = cerr
			var err error
			result, err = s.settle(uctx, tx, rec.Reference, models.TxnCancelled, "request cancelled")
			return err
		}

		failure = op.preFail
		if failure == nil {
			failure = tx.Savepoint(uctx, func(sp repo.Tx) error { return op.apply(uctx, sp) })
		}
		if failure != nil {
			if !settles(failure) {
				return failure
			}
			result, err = s.settle(uctx, tx, rec.Reference, models.TxnFailed, failure.Error())
			return err
		}
		result, err = s.settle(uctx, tx, rec.Reference, models.TxnCompleted, "")
		return err
	})
	release()

	if err != nil {
		if errors.Is(err, apperrors.ErrDuplicateIdempotencyKey) {
			if prev, ok, rerr := s.replay(uctx, op.record.UserID, op.record.IdempotencyKey); rerr == nil && ok {
				return prev, nil
			}
		}
		metrics.LedgerOperations.WithLabelValues(kind, "rejected").Inc()
		s.log.Info("ledger operation rejected", "kind", kind, "user", op.record.UserID, "err", err)
		return nil, apperrors.Storage(err)
	}
	if replayed {
		return result, nil
	}

	s.afterCommit(uctx, op.wallets, *result)
	if failure != nil {
		s.log.Info("transaction "+string(result.Status), "ref", result.Reference, "kind", kind, "reason", result.FailureReason)
		return result, &apperrors.TxError{Reference: result.Reference, Err: failure}
	}
	s.log.Info("transaction completed", "ref", result.Reference, "kind", kind,
		"amount", result.Amount.String(), "currency", result.Currency)
	return result, nil
}

func (s *TransactionService) afterCommit(ctx context.Context, wallets []*models.Wallet, t models.Transaction) {
	metrics.LedgerOperations.WithLabelValues(string(t.Kind), string(t.Status)).Inc()
	users := make([]string, 0, len(wallets))
	for _, w := range wallets {
		users = append(users, w.UserID)
	}
	if err := s.balances.Invalidate(ctx, users...); err != nil {
		s.log.Warn("balance cache invalidation failed", "ref", t.Reference, "err", err)
	}
	if s.notify != nil {
		s.notify.Dispatch(t)
	}
}

// ----------------- DEPOSIT -----------------

func (s *TransactionService) Deposit(ctx context.Context, req DepositRequest) (*models.Transaction, error) {
	if !req.Currency.Supported() {
		return nil, apperrors.Validation("unsupported currency %q", req.Currency)
	}
	if err := models.ValidateAmount(req.Currency, req.Amount); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		return nil, apperrors.Validation("payment method required")
	}
	if prev, ok, err := s.replay(ctx, req.UserID, req.IdempotencyKey); err != nil || ok {
		return prev, err
	}
	w, err := s.ownWallet(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	return s.execute(ctx, operation{
		record: models.Transaction{
			UserID:         req.UserID,
			WalletID:       w.ID,
			Kind:           models.TxnDeposit,
			Amount:         req.Amount,
			Fee:            decimal.Zero,
			Currency:       req.Currency,
			PaymentMethod:  req.PaymentMethod,
			ExternalRef:    req.ExternalRef,
			Note:           req.Note,
			IdempotencyKey: req.IdempotencyKey,
		},
		wallets: []*models.Wallet{w},
		apply: func(ctx context.Context, tx repo.Tx) error {
			_, err := tx.Wallets().ApplyDelta(ctx, w.ID, req.Currency, req.Amount)
			return err
		},
	})
}

// ----------------- WITHDRAW -----------------

func (s *TransactionService) Withdraw(ctx context.Context, req WithdrawRequest) (*models.Transaction, error) {
	if !req.Currency.Supported() {
		return nil, apperrors.Validation("unsupported currency %q", req.Currency)
	}
	if err := models.ValidateAmount(req.Currency, req.Amount); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		return nil, apperrors.Validation("payment method required")
	}
	if prev, ok, err := s.replay(ctx, req.UserID, req.IdempotencyKey); err != nil || ok {
		return prev, err
	}
	w, err := s.ownWallet(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if err := auth.CheckPIN(req.PIN, w.PINHash); err != nil {
		return nil, err
	}

	f := fee(req.Amount, s.cfg.WithdrawalFeePct, req.Currency)
	debit := req.Amount.Add(f)
	return s.execute(ctx, operation{
		record: models.Transaction{
			UserID:         req.UserID,
			WalletID:       w.ID,
			Kind:           models.TxnWithdrawal,
			Amount:         req.Amount,
			Fee:            f,
			Currency:       req.Currency,
			PaymentMethod:  req.PaymentMethod,
			ExternalRef:    req.ExternalRef,
			Note:           req.Note,
			IdempotencyKey: req.IdempotencyKey,
		},
		wallets: []*models.Wallet{w},
		apply: func(ctx context.Context, tx repo.Tx) error {
			_, err := tx.Wallets().ApplyDelta(ctx, w.ID, req.Currency, debit.Neg())
			return err
		},
	})
}

// ----------------- TRANSFER -----------------

func (s *TransactionService) resolveRecipient(ctx context.Context, req TransferRequest) (*models.Wallet, error) {
	switch {
	case req.RecipientWalletID != nil && req.RecipientEmail != "":
		return nil, apperrors.Validation("give either recipient wallet id or recipient email")
	case req.RecipientWalletID != nil:
		w, err := s.store.Wallets().GetByWalletID(ctx, *req.RecipientWalletID)
		return w, apperrors.Storage(err)
	case strings.TrimSpace(req.RecipientEmail) != "":
		u, err := s.store.Users().GetByEmail(ctx, req.RecipientEmail)
		if errors.Is(err, apperrors.ErrUserNotFound) {
			return nil, apperrors.ErrWalletNotFound
		}
		if err != nil {
			return nil, apperrors.Storage(err)
		}
		w, err := s.store.Wallets().GetByUserID(ctx, u.ID)
		return w, apperrors.Storage(err)
	}
	return nil, apperrors.Validation("recipient required")
}

func (s *TransactionService) Transfer(ctx context.Context, req TransferRequest) (*models.Transaction, error) {
	if !req.Currency.Supported() {
		return nil, apperrors.Validation("unsupported currency %q", req.Currency)
	}
	if err := models.ValidateAmount(req.Currency, req.Amount); err != nil {
		return nil, err
	}
	if prev, ok, err := s.replay(ctx, req.SenderUserID, req.IdempotencyKey); err != nil || ok {
		return prev, err
	}
	recipient, err := s.resolveRecipient(ctx, req)
	if err != nil {
		return nil, err
	}
	sender, err := s.ownWallet(ctx, req.SenderUserID)
	if err != nil {
		return nil, err
	}
	if sender.ID == recipient.ID {
		return nil, apperrors.Validation("cannot transfer to own wallet")
	}
	if err := auth.CheckPIN(req.PIN, sender.PINHash); err != nil {
		return nil, err
	}

	f := fee(req.Amount, s.cfg.TransferFeePct, req.Currency)
	debit := req.Amount.Add(f)
	return s.execute(ctx, operation{
		record: models.Transaction{
			UserID:            req.SenderUserID,
			WalletID:          sender.ID,
			Kind:              models.TxnTransfer,
			Amount:            req.Amount,
			Fee:               f,
			Currency:          req.Currency,
			SenderWalletID:    &sender.ID,
			RecipientWalletID: &recipient.ID,
			Note:              req.Note,
			IdempotencyKey:    req.IdempotencyKey,
		},
		wallets: []*models.Wallet{sender, recipient},
		apply: func(ctx context.Context, tx repo.Tx) error {
			if _, err := tx.Wallets().ApplyDelta(ctx, sender.ID, req.Currency, debit.Neg()); err != nil {
				return err
			}
			_, err := tx.Wallets().ApplyDelta(ctx, recipient.ID, req.Currency, req.Amount)
			return err
		},
	})
}

// ----------------- EXCHANGE -----------------

// Exchange converts within one wallet at the rate quoted before any lock is
// taken. The rate is rounded to rates.Scale places and the credited amount is
// truncated to the target currency's precision.
func (s *TransactionService) Exchange(ctx context.Context, req ExchangeRequest) (*models.Transaction, error) {
	if !req.From.Supported() || !req.To.Supported() {
		return nil, apperrors.Validation("unsupported currency pair %s->%s", req.From, req.To)
	}
	if req.From == req.To {
		return nil, apperrors.Validation("cannot exchange %s to itself", req.From)
	}
	if err := models.ValidateAmount(req.From, req.Amount); err != nil {
		return nil, err
	}
	if prev, ok, err := s.replay(ctx, req.UserID, req.IdempotencyKey); err != nil || ok {
		return prev, err
	}
	w, err := s.ownWallet(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	to := req.To
	op := operation{
		record: models.Transaction{
			UserID:         req.UserID,
			WalletID:       w.ID,
			Kind:           models.TxnExchange,
			Amount:         req.Amount,
			Fee:            decimal.Zero,
			Currency:       req.From,
			TargetCurrency: &to,
			IdempotencyKey: req.IdempotencyKey,
		},
		wallets: []*models.Wallet{w},
	}

	quote, err := s.rates.GetRate(ctx, req.From, req.To)
	rate := quote.Rate.Round(rates.Scale)
	if err == nil && !rate.IsPositive() {
		err = fmt.Errorf("non-positive rate %s", quote.Rate)
	}
	if err != nil {
		if !errors.Is(err, apperrors.ErrRateUnavailable) {
			err = fmt.Errorf("%w: %v", apperrors.ErrRateUnavailable, err)
		}
		op.preFail = err
		return s.execute(ctx, op)
	}

	credit := req.Amount.Mul(rate).Truncate(req.To.Scale())
	if !credit.IsPositive() {
		return nil, apperrors.Validation("amount too small to exchange into %s", req.To)
	}
	if credit.GreaterThanOrEqual(models.MaxAmount) {
		return nil, apperrors.Validation("converted amount must be < %s %s", models.MaxAmount, req.To)
	}
	op.record.Rate = &rate
	op.record.TargetAmount = &credit
	op.apply = func(ctx context.Context, tx repo.Tx) error {
		if _, err := tx.Wallets().ApplyDelta(ctx, w.ID, req.From, req.Amount.Neg()); err != nil {
			return err
		}
		_, err := tx.Wallets().ApplyDelta(ctx, w.ID, req.To, credit)
		return err
	}
	return s.execute(ctx, op)
}

// ----------------- CANCEL -----------------

// Cancel moves a pending transaction to cancelled. The engine settles its own
// records before committing, so this serves reconciliation of pending rows
// written by other writers of the log. Settled transactions return
// ErrInvalidTransition.
func (s *TransactionService) Cancel(ctx context.Context, reference string) (*models.Transaction, error) {
	var out *models.Transaction
	err := s.store.Atomic(ctx, func(tx repo.Tx) error {
		var err error
		out, err = s.settle(ctx, tx, reference, models.TxnCancelled, "cancelled")
		return err
	})
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	metrics.LedgerOperations.WithLabelValues(string(out.Kind), string(out.Status)).Inc()
	if s.notify != nil {
		s.notify.Dispatch(*out)
	}
	s.log.Info("transaction cancelled", "ref", reference)
	return out, nil
}

// ----------------- Queries -----------------

// GetTransaction returns the record if userID owns it or is a party to it.
func (s *TransactionService) GetTransaction(ctx context.Context, userID, reference string) (*models.Transaction, error) {
	t, err := s.store.Transactions().Get(ctx, reference)
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	if t.UserID == userID {
		return t, nil
	}
	w, err := s.store.Wallets().GetByUserID(ctx, userID)
	if err == nil && t.Touches(w.ID) {
		return t, nil
	}
	return nil, apperrors.ErrTransactionNotFound
}

// Lookup returns any record by reference.
func (s *TransactionService) Lookup(ctx context.Context, reference string) (*models.Transaction, error) {
	t, err := s.store.Transactions().Get(ctx, reference)
	return t, apperrors.Storage(err)
}

// ListTransactions returns the transactions that moved funds in or out of the
// user's wallet, newest first.
func (s *TransactionService) ListTransactions(ctx context.Context, userID string, f repo.TransactionFilter) ([]models.Transaction, error) {
	w, err := s.store.Wallets().GetByUserID(ctx, userID)
	if errors.Is(err, apperrors.ErrWalletNotFound) {
		return []models.Transaction{}, nil
	}
	if err != nil {
		return nil, apperrors.Storage(err)
	}
	f.UserID = ""
	f.WalletID = &w.ID
	out, err := s.store.Transactions().Query(ctx, f)
	return out, apperrors.Storage(err)
}

// AuditTrail returns the audit rows recorded for a transaction.
func (s *TransactionService) AuditTrail(ctx context.Context, reference string) ([]models.AuditLog, error) {
	logs, err := s.store.AuditLogs().ListByEntity(ctx, models.AuditEntityTransaction, reference)
	return logs, apperrors.Storage(err)
}
