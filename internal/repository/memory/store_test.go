package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baharkarakas/wallet-ledger/internal/apperrors"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestWalletCreateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()

	w1, err := s.Wallets().Create(ctx, "u1")
	require.NoError(t, err)
	w2, err := s.Wallets().Create(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, w1.ID, w2.ID)
	assert.Len(t, w1.Balances, len(models.SupportedCurrencies()))
	for _, c := range models.SupportedCurrencies() {
		assert.True(t, w1.Balance(c).IsZero())
	}
}

func TestApplyDeltaNeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	s := New()
	w, _ := s.Wallets().Create(ctx, "u1")

	bal, err := s.Wallets().ApplyDelta(ctx, w.ID, models.USD, dec("10.50"))
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("10.50")))

	_, err = s.Wallets().ApplyDelta(ctx, w.ID, models.USD, dec("-10.51"))
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)

	got, err := s.Wallets().GetByWalletID(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance(models.USD).Equal(dec("10.50")))
}

func TestApplyDeltaUnknownWallet(t *testing.T) {
	s := New()
	w := models.NewWallet("ghost", time.Now())
	_, err := s.Wallets().ApplyDelta(context.Background(), w.ID, models.USD, dec("1"))
	assert.ErrorIs(t, err, apperrors.ErrWalletNotFound)
}

func TestAtomicRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	w, _ := s.Wallets().Create(ctx, "u1")
	boom := errors.New("boom")

	err := s.Atomic(ctx, func(tx repository.Tx) error {
		_, err := tx.Wallets().ApplyDelta(ctx, w.ID, models.EUR, dec("5"))
		require.NoError(t, err)
		require.NoError(t, tx.Transactions().Append(ctx, pending("DEP-1", w)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, _ := s.Wallets().GetByWalletID(ctx, w.ID)
	assert.True(t, got.Balance(models.EUR).IsZero())
	_, err = s.Transactions().Get(ctx, "DEP-1")
	assert.ErrorIs(t, err, apperrors.ErrTransactionNotFound)

	// reference is free again after rollback
	assert.NoError(t, s.Transactions().Append(ctx, pending("DEP-1", w)))
}

func TestSavepointDiscardsOnlyNestedWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	w, _ := s.Wallets().Create(ctx, "u1")

	err := s.Atomic(ctx, func(tx repository.Tx) error {
		if err := tx.Transactions().Append(ctx, pending("WDR-1", w)); err != nil {
			return err
		}
		spErr := tx.Savepoint(ctx, func(sp repository.Tx) error {
			if _, err := sp.Wallets().ApplyDelta(ctx, w.ID, models.USD, dec("3")); err != nil {
				return err
			}
			_, err := sp.Wallets().ApplyDelta(ctx, w.ID, models.EUR, dec("-1"))
			return err
		})
		require.ErrorIs(t, spErr, apperrors.ErrInsufficientFunds)
		_, err := tx.Transactions().UpdateStatus(ctx, "WDR-1", models.TxnPending, models.TxnFailed, "insufficient funds")
		return err
	})
	require.NoError(t, err)

	got, _ := s.Wallets().GetByWalletID(ctx, w.ID)
	assert.True(t, got.Balance(models.USD).IsZero())
	rec, err := s.Transactions().Get(ctx, "WDR-1")
	require.NoError(t, err)
	assert.Equal(t, models.TxnFailed, rec.Status)
	assert.Equal(t, "insufficient funds", rec.FailureReason)
}

func TestUnitSeesOwnWrites(t *testing.T) {
	ctx := context.Background()
	s := New()
	w, _ := s.Wallets().Create(ctx, "u1")

	_ = s.Atomic(ctx, func(tx repository.Tx) error {
		_, err := tx.Wallets().ApplyDelta(ctx, w.ID, models.PKR, dec("7"))
		require.NoError(t, err)
		got, err := tx.Wallets().GetByWalletID(ctx, w.ID)
		require.NoError(t, err)
		assert.True(t, got.Balance(models.PKR).Equal(dec("7")))

		outside, _ := s.Wallets().GetByWalletID(ctx, w.ID)
		assert.True(t, outside.Balance(models.PKR).IsZero())
		return nil
	})
}

func TestAppendRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := New()
	w, _ := s.Wallets().Create(ctx, "u1")

	require.NoError(t, s.Transactions().Append(ctx, pending("DEP-A", w)))
	assert.ErrorIs(t, s.Transactions().Append(ctx, pending("DEP-A", w)), apperrors.ErrDuplicateReference)

	first := pending("DEP-B", w)
	first.IdempotencyKey = "k1"
	require.NoError(t, s.Transactions().Append(ctx, first))
	second := pending("DEP-C", w)
	second.IdempotencyKey = "k1"
	assert.ErrorIs(t, s.Transactions().Append(ctx, second), apperrors.ErrDuplicateIdempotencyKey)

	got, err := s.Transactions().GetByIdempotencyKey(ctx, "u1", "k1")
	require.NoError(t, err)
	assert.Equal(t, "DEP-B", got.Reference)

	// keys are scoped per user
	other := pending("DEP-D", w)
	other.UserID = "u2"
	other.IdempotencyKey = "k1"
	assert.NoError(t, s.Transactions().Append(ctx, other))
}

func TestUpdateStatusIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := New()
	w, _ := s.Wallets().Create(ctx, "u1")
	require.NoError(t, s.Transactions().Append(ctx, pending("EXC-1", w)))

	got, err := s.Transactions().UpdateStatus(ctx, "EXC-1", models.TxnPending, models.TxnCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, models.TxnCompleted, got.Status)

	_, err = s.Transactions().UpdateStatus(ctx, "EXC-1", models.TxnPending, models.TxnCancelled, "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	_, err = s.Transactions().UpdateStatus(ctx, "EXC-1", models.TxnCompleted, models.TxnFailed, "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	_, err = s.Transactions().UpdateStatus(ctx, "nope", models.TxnPending, models.TxnFailed, "")
	assert.ErrorIs(t, err, apperrors.ErrTransactionNotFound)
}

func TestQueryFiltersAndOrdersNewestFirst(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return clock }))
	a, _ := s.Wallets().Create(ctx, "a")
	b, _ := s.Wallets().Create(ctx, "b")

	for i, ref := range []string{"DEP-1", "DEP-2", "WDR-3"} {
		tx := pending(ref, a)
		tx.CreatedAt = clock.Add(time.Duration(i) * time.Minute)
		if ref == "WDR-3" {
			tx.Kind = models.TxnWithdrawal
		}
		require.NoError(t, s.Transactions().Append(ctx, tx))
	}
	trf := pending("TRF-4", a)
	trf.Kind = models.TxnTransfer
	trf.CreatedAt = clock.Add(time.Hour)
	trf.SenderWalletID = &a.ID
	trf.RecipientWalletID = &b.ID
	require.NoError(t, s.Transactions().Append(ctx, trf))

	all, err := s.Transactions().Query(ctx, repository.TransactionFilter{UserID: "a"})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []string{"TRF-4", "WDR-3", "DEP-2", "DEP-1"}, refs(all))

	deposits, _ := s.Transactions().Query(ctx, repository.TransactionFilter{UserID: "a", Kind: models.TxnDeposit})
	assert.Equal(t, []string{"DEP-2", "DEP-1"}, refs(deposits))

	incoming, _ := s.Transactions().Query(ctx, repository.TransactionFilter{WalletID: &b.ID})
	assert.Equal(t, []string{"TRF-4"}, refs(incoming))

	window, _ := s.Transactions().Query(ctx, repository.TransactionFilter{
		UserID: "a", From: clock.Add(time.Minute), To: clock.Add(2 * time.Minute),
	})
	assert.Equal(t, []string{"DEP-2"}, refs(window))

	page, _ := s.Transactions().Query(ctx, repository.TransactionFilter{UserID: "a", Limit: 2, Offset: 1})
	assert.Equal(t, []string{"WDR-3", "DEP-2"}, refs(page))

	empty, _ := s.Transactions().Query(ctx, repository.TransactionFilter{UserID: "a", Offset: 10})
	assert.Empty(t, empty)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	s := New()
	u, err := s.Users().Create(ctx, models.User{Username: "ali", Email: "Ali@Example.com", PasswordHash: "h"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, u.Role)

	_, err = s.Users().Create(ctx, models.User{Username: "ali2", Email: "ali@example.com"})
	assert.ErrorIs(t, err, apperrors.ErrEmailTaken)

	got, err := s.Users().GetByEmail(ctx, " ALI@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.Users().GetByID(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
}

func TestWalletStatusAndPIN(t *testing.T) {
	ctx := context.Background()
	s := New()
	w, _ := s.Wallets().Create(ctx, "u1")

	require.NoError(t, s.Wallets().SetStatus(ctx, w.ID, models.WalletFrozen))
	require.NoError(t, s.Wallets().SetPIN(ctx, w.ID, "hash"))
	got, _ := s.Wallets().GetByUserID(ctx, "u1")
	assert.False(t, got.Active())
	assert.True(t, got.HasPIN())
}

func pending(ref string, w *models.Wallet) *models.Transaction {
	return &models.Transaction{
		Reference: ref,
		UserID:    w.UserID,
		WalletID:  w.ID,
		Kind:      models.TxnDeposit,
		Amount:    dec("1"),
		Currency:  models.USD,
		Status:    models.TxnPending,
	}
}

func refs(txs []models.Transaction) []string {
	out := make([]string, 0, len(txs))
	for _, t := range txs {
		out = append(out, t.Reference)
	}
	return out
}
