package rates

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baharkarakas/wallet-ledger/internal/apperrors"
	"github.com/baharkarakas/wallet-ledger/internal/models"
)

func TestParseTableDerivesInverse(t *testing.T) {
	p, err := ParseTable("USD:EUR=0.9, EUR:PKR=300", time.Now())
	require.NoError(t, err)
	ctx := context.Background()

	q, err := p.GetRate(ctx, models.USD, models.EUR)
	require.NoError(t, err)
	assert.True(t, q.Rate.Equal(decimal.RequireFromString("0.9")))

	inv, err := p.GetRate(ctx, models.EUR, models.USD)
	require.NoError(t, err)
	assert.Equal(t, "1.1111111111", inv.Rate.String())

	_, err = p.GetRate(ctx, models.USD, models.PKR)
	assert.ErrorIs(t, err, apperrors.ErrRateUnavailable)
}

func TestParseTableRejectsBadEntries(t *testing.T) {
	for _, table := range []string{"USD-EUR=1", "USD:GBP=1", "USD:EUR=abc", "USD:EUR=0", "USD:USD=1", "USD:EUR"} {
		_, err := ParseTable(table, time.Now())
		assert.Error(t, err, table)
	}
}

type fakeCache struct {
	mu   sync.Mutex
	data map[string]string
	fail bool
}

func (c *fakeCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return "", errors.New("redis down")
	}
	v, ok := c.data[key]
	if !ok {
		return "", ErrCacheMiss
	}
	return v, nil
}

func (c *fakeCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("redis down")
	}
	c.data[key] = value
	return nil
}

type countingProvider struct {
	calls atomic.Int64
	inner Provider
}

func (p *countingProvider) GetRate(ctx context.Context, from, to models.Currency) (Quote, error) {
	p.calls.Add(1)
	return p.inner.GetRate(ctx, from, to)
}

func TestCachedProviderServesFromCache(t *testing.T) {
	static, err := ParseTable("USD:EUR=0.9", time.Now())
	require.NoError(t, err)
	upstream := &countingProvider{inner: static}
	cache := &fakeCache{data: map[string]string{}}
	p := NewCachedProvider(upstream, cache, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		q, err := p.GetRate(ctx, models.USD, models.EUR)
		require.NoError(t, err)
		assert.True(t, q.Rate.Equal(decimal.RequireFromString("0.9")))
	}
	assert.Equal(t, int64(1), upstream.calls.Load())
	assert.Contains(t, cache.data, "ledger:rate:USD:EUR")
}

func TestCachedProviderFallsThroughWhenCacheFails(t *testing.T) {
	static, _ := ParseTable("USD:EUR=0.9", time.Now())
	p := NewCachedProvider(static, &fakeCache{data: map[string]string{}, fail: true}, time.Minute)

	q, err := p.GetRate(context.Background(), models.USD, models.EUR)
	require.NoError(t, err)
	assert.True(t, q.Rate.Equal(decimal.RequireFromString("0.9")))

	_, err = p.GetRate(context.Background(), models.USD, models.PKR)
	assert.ErrorIs(t, err, apperrors.ErrRateUnavailable)
}
