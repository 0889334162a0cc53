package validate

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/wallet-ledger/internal/apperrors"
	"github.com/baharkarakas/wallet-ledger/internal/models"
)

type ErrField struct {
	Field string `json:"field"`
	Msg   string `json:"msg"`
}

type Errs []ErrField

func (e Errs) Error() string { // error interface
	var b strings.Builder
	for i, ef := range e {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(ef.Field + ": " + ef.Msg)
	}
	return b.String()
}

// Unwrap lets field errors match apperrors.ErrValidation.
func (e Errs) Unwrap() error { return apperrors.ErrValidation }

// Collect gathers non-nil field errors; it returns nil when there are none.
func Collect(fields ...*ErrField) error {
	var out Errs
	for _, f := range fields {
		if f != nil {
			out = append(out, *f)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Helpers
func Required(field, value string) *ErrField {
	if strings.TrimSpace(value) == "" {
		return &ErrField{Field: field, Msg: "required"}
	}
	return nil
}

func MinInt(field string, v, min int64) *ErrField {
	if v < min {
		return &ErrField{Field: field, Msg: "must be >= " + strconv.FormatInt(min, 10)}
	}
	return nil
}

// Currency parses value into *dst when it names a supported currency.
func Currency(field, value string, dst *models.Currency) *ErrField {
	c, err := models.ParseCurrency(value)
	if err != nil {
		return &ErrField{Field: field, Msg: "unsupported currency"}
	}
	*dst = c
	return nil
}

// Amount parses a decimal string into *dst. Sign and precision are checked by
// the ledger against the operation's currency.
func Amount(field, value string, dst *decimal.Decimal) *ErrField {
	if strings.TrimSpace(value) == "" {
		return &ErrField{Field: field, Msg: "required"}
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return &ErrField{Field: field, Msg: "not a decimal number"}
	}
	*dst = d
	return nil
}

// Int parses an optional non-negative integer query parameter.
func Int(field, value string, dst *int) *ErrField {
	if value == "" {
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return &ErrField{Field: field, Msg: "must be a non-negative integer"}
	}
	*dst = n
	return nil
}
