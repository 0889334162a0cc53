// Package rates supplies exchange rates to the ledger engine.
package rates

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/baharkarakas/wallet-ledger/internal/apperrors"
	"github.com/baharkarakas/wallet-ledger/internal/models"
)

// Quote is the units of the target currency bought by one unit of the source.
type Quote struct {
	Rate decimal.Decimal `json:"rate"`
	AsOf time.Time       `json:"as_of"`
}

// Scale is the number of decimal places a rate is stored and applied with.
const Scale = 10

type Provider interface {
	GetRate(ctx context.Context, from, to models.Currency) (Quote, error)
}

type pair struct{ from, to models.Currency }

// StaticProvider serves a fixed table. Inverse pairs are derived when not
// listed explicitly.
type StaticProvider struct {
	mu    sync.RWMutex
	rates map[pair]decimal.Decimal
	asOf  time.Time
}

func NewStaticProvider(now time.Time) *StaticProvider {
	return &StaticProvider{rates: map[pair]decimal.Decimal{}, asOf: now}
}

// ParseTable reads "USD:EUR=0.92,USD:PKR=278.5" into a provider.
func ParseTable(table string, now time.Time) (*StaticProvider, error) {
	p := NewStaticProvider(now)
	for _, entry := range strings.Split(table, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		codes, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("rates: entry %q must look like FROM:TO=RATE", entry)
		}
		fromCode, toCode, ok := strings.Cut(codes, ":")
		if !ok {
			return nil, fmt.Errorf("rates: entry %q must look like FROM:TO=RATE", entry)
		}
		from, err := models.ParseCurrency(fromCode)
		if err != nil {
			return nil, fmt.Errorf("rates: %w", err)
		}
		to, err := models.ParseCurrency(toCode)
		if err != nil {
			return nil, fmt.Errorf("rates: %w", err)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("rates: entry %q: %w", entry, err)
		}
		if err := p.Set(from, to, rate); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *StaticProvider) Set(from, to models.Currency, rate decimal.Decimal) error {
	if from == to || !rate.IsPositive() {
		return fmt.Errorf("rates: invalid rate %s for %s->%s", rate, from, to)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rates[pair{from, to}] = rate
	return nil
}

func (p *StaticProvider) GetRate(ctx context.Context, from, to models.Currency) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if r, ok := p.rates[pair{from, to}]; ok {
		return Quote{Rate: r, AsOf: p.asOf}, nil
	}
	if r, ok := p.rates[pair{to, from}]; ok {
		return Quote{Rate: decimal.NewFromInt(1).DivRound(r, Scale), AsOf: p.asOf}, nil
	}
	return Quote{}, fmt.Errorf("%w: %s->%s", apperrors.ErrRateUnavailable, from, to)
}
