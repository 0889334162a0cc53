// Package apperrors holds the ledger's error taxonomy. Callers match with errors.Is.
package apperrors

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrValidation              = errors.New("invalid operation")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrWalletFrozen            = errors.New("wallet is frozen")
	ErrWalletNotFound          = errors.New("wallet not found")
	ErrUserNotFound            = errors.New("user not found")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrDuplicateReference      = errors.New("duplicate transaction reference")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrRateUnavailable         = errors.New("exchange rate unavailable")
	ErrLockTimeout             = errors.New("timed out waiting for wallet lock")
	ErrStorage                 = errors.New("storage failure")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrInvalidPIN              = errors.New("invalid transaction pin")
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrEmailTaken              = errors.New("email already registered")
)

// Validation wraps ErrValidation with a field-level message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Storage wraps an unexpected persistence error so callers can tell it apart
// from business failures. Already-classified errors pass through untouched.
func Storage(err error) error {
	if err == nil || IsKnown(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}

// IsKnown reports whether err belongs to the taxonomy above.
func IsKnown(err error) bool {
	for _, target := range []error{
		ErrValidation, ErrInsufficientFunds, ErrWalletFrozen, ErrWalletNotFound,
		ErrUserNotFound, ErrTransactionNotFound, ErrDuplicateReference,
		ErrDuplicateIdempotencyKey, ErrRateUnavailable, ErrLockTimeout, ErrStorage,
		ErrInvalidTransition, ErrInvalidPIN, ErrInvalidCredentials, ErrEmailTaken,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// TxError is returned when an operation failed after its transaction record was
// written; Reference points at the failed record in the log.
type TxError struct {
	Reference string
	Err       error
}

func (e *TxError) Error() string { return fmt.Sprintf("transaction %s: %v", e.Reference, e.Err) }
func (e *TxError) Unwrap() error { return e.Err }

// ReferenceOf extracts the failed transaction reference, if any.
func ReferenceOf(err error) (string, bool) {
	var te *TxError
	if errors.As(err, &te) {
		return te.Reference, true
	}
	return "", false
}
