package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/wallet-ledger/internal/apperrors"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	repo "github.com/baharkarakas/wallet-ledger/internal/repository"
)

type transactionsRepo struct{ q querier }

const txColumns = `reference, user_id::text, wallet_id, kind, amount::text, fee::text, currency,
  target_currency, rate::text, target_amount::text, status, sender_wallet_id, recipient_wallet_id,
  COALESCE(payment_method, ''), COALESCE(note, ''), COALESCE(external_ref, ''),
  COALESCE(failure_reason, ''), COALESCE(idempotency_key, ''), created_at, updated_at`

// Append inserts inside a savepoint so a uniqueness violation leaves the
// enclosing unit usable for a retry.
func (r *transactionsRepo) Append(ctx context.Context, t *models.Transaction) error {
	if t.Reference == "" || !t.Kind.Valid() || !t.Status.Valid() {
		return apperrors.Validation("incomplete transaction record")
	}
	sp, err := r.q.Begin(ctx)
	if err != nil {
		return mapErr(err)
	}
	err = sp.QueryRow(ctx, `
INSERT INTO transactions (
  reference, user_id, wallet_id, kind, amount, fee, currency, target_currency, rate,
  target_amount, status, sender_wallet_id, recipient_wallet_id, payment_method, note,
  external_ref, failure_reason, idempotency_key, created_at, updated_at
) VALUES (
  $1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9::numeric,
  $10::numeric, $11, $12, $13, NULLIF($14, ''), NULLIF($15, ''),
  NULLIF($16, ''), NULLIF($17, ''), NULLIF($18, ''), COALESCE($19, now()), COALESCE($19, now())
)
RETURNING created_at, updated_at`,
		t.Reference, t.UserID, t.WalletID, string(t.Kind), t.Amount.String(), t.Fee.String(), string(t.Currency),
		currencyArg(t.TargetCurrency), decimalArg(t.Rate), decimalArg(t.TargetAmount), string(t.Status),
		t.SenderWalletID, t.RecipientWalletID, t.PaymentMethod, t.Note,
		t.ExternalRef, t.FailureReason, t.IdempotencyKey, timeArg(t),
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		_ = sp.Rollback(ctx)
		return mapErr(err)
	}
	return mapErr(sp.Commit(ctx))
}

func (r *transactionsRepo) Get(ctx context.Context, reference string) (*models.Transaction, error) {
	t, err := scanTransaction(r.q.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE reference=$1`, reference))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrTransactionNotFound
	}
	return t, mapErr(err)
}

func (r *transactionsRepo) GetByIdempotencyKey(ctx context.Context, userID, key string) (*models.Transaction, error) {
	t, err := scanTransaction(r.q.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE user_id=$1 AND idempotency_key=$2`, userID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrTransactionNotFound
	}
	return t, mapErr(err)
}

// UpdateStatus is a compare-and-set on the current status.
func (r *transactionsRepo) UpdateStatus(ctx context.Context, reference string, from, to models.TransactionStatus, reason string) (*models.Transaction, error) {
	if !models.CanTransition(from, to) {
		return nil, apperrors.ErrInvalidTransition
	}
	t, err := scanTransaction(r.q.QueryRow(ctx, `
UPDATE transactions
   SET status = $3,
       failure_reason = COALESCE(NULLIF($4, ''), failure_reason),
       updated_at = now()
 WHERE reference = $1 AND status = $2
RETURNING `+txColumns,
		reference, string(from), string(to), reason))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := r.Get(ctx, reference); gerr != nil {
			return nil, gerr
		}
		return nil, apperrors.ErrInvalidTransition
	}
	return t, mapErr(err)
}

func (r *transactionsRepo) Query(ctx context.Context, f repo.TransactionFilter) ([]models.Transaction, error) {
	f = f.Normalize()
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.UserID != "" {
		where = append(where, "user_id::text = "+arg(f.UserID))
	}
	if f.WalletID != nil {
		p := arg(*f.WalletID)
		where = append(where, fmt.Sprintf("(wallet_id = %[1]s OR sender_wallet_id = %[1]s OR recipient_wallet_id = %[1]s)", p))
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(string(f.Status)))
	}
	if f.Kind != "" {
		where = append(where, "kind = "+arg(string(f.Kind)))
	}
	if !f.From.IsZero() {
		where = append(where, "created_at >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "created_at < "+arg(f.To))
	}

	q := `SELECT ` + txColumns + ` FROM transactions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, reference DESC LIMIT ` + arg(f.Limit) + ` OFFSET ` + arg(f.Offset)

	rows, err := r.q.Query(ctx, q, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	out := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, *t)
	}
	return out, mapErr(rows.Err())
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var (
		t                          models.Transaction
		kind, status, cur          string
		amount, fee                string
		targetCur, rate, targetAmt *string
		sender, recipient          *uuid.UUID
	)
	err := row.Scan(&t.Reference, &t.UserID, &t.WalletID, &kind, &amount, &fee, &cur,
		&targetCur, &rate, &targetAmt, &status, &sender, &recipient,
		&t.PaymentMethod, &t.Note, &t.ExternalRef, &t.FailureReason, &t.IdempotencyKey,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Kind = models.TransactionKind(kind)
	t.Status = models.TransactionStatus(status)
	t.Currency = models.Currency(cur)
	t.SenderWalletID, t.RecipientWalletID = sender, recipient
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	if t.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, err
	}
	if targetCur != nil {
		c := models.Currency(*targetCur)
		t.TargetCurrency = &c
	}
	if t.Rate, err = optionalDecimal(rate); err != nil {
		return nil, err
	}
	if t.TargetAmount, err = optionalDecimal(targetAmt); err != nil {
		return nil, err
	}
	return &t, nil
}

func optionalDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func decimalArg(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func currencyArg(c *models.Currency) *string {
	if c == nil {
		return nil
	}
	s := string(*c)
	return &s
}

func timeArg(t *models.Transaction) any {
	if t.CreatedAt.IsZero() {
		return nil
	}
	return t.CreatedAt
}
