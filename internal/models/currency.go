package models

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/wallet-ledger/internal/apperrors"
)

type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	PKR Currency = "PKR"
)

// supportedCurrencies is the closed set every wallet carries an entry for.
// Adding a code here backfills existing wallets on their next read.
var supportedCurrencies = []Currency{USD, EUR, PKR}

// currencyScale is the number of decimal places a balance may hold.
var currencyScale = map[Currency]int32{
	USD: 2,
	EUR: 2,
	PKR: 2,
}

func SupportedCurrencies() []Currency {
	out := make([]Currency, len(supportedCurrencies))
	copy(out, supportedCurrencies)
	return out
}

func (c Currency) Supported() bool {
	_, ok := currencyScale[c]
	return ok
}

func (c Currency) Scale() int32 { return currencyScale[c] }

// ParseCurrency normalizes and validates a currency code at the boundary.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Supported() {
		return "", apperrors.Validation("unsupported currency %q", s)
	}
	return c, nil
}

// MaxAmount is the exclusive upper bound for a single amount; stored amounts
// and balances hold at most 18 integer digits.
var MaxAmount = decimal.New(1, 15)

// ValidateAmount rejects non-positive amounts, amounts at or above MaxAmount
// and amounts finer than the currency's precision.
func ValidateAmount(c Currency, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperrors.Validation("amount must be > 0")
	}
	if amount.GreaterThanOrEqual(MaxAmount) {
		return apperrors.Validation("amount must be < %s", MaxAmount)
	}
	if !amount.Equal(amount.Truncate(c.Scale())) {
		return apperrors.Validation("amount has more than %d decimal places for %s", c.Scale(), c)
	}
	return nil
}

// ParseAmount parses a decimal string such as "12.50".
func ParseAmount(c Currency, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, apperrors.Validation("amount %q is not a decimal", s)
	}
	return d, ValidateAmount(c, d)
}
