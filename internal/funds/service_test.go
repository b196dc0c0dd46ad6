package funds

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"simcex/internal/model"
	"simcex/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePrices struct {
	quotes map[string]decimal.Decimal
}

func (f *fakePrices) QuoteUSD(_ context.Context, currency string) (decimal.Decimal, bool) {
	q, ok := f.quotes[currency]
	return q, ok
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newService(t *testing.T) *Service {
	t.Helper()
	return NewService(store.NewMemory(), &fakePrices{quotes: map[string]decimal.Decimal{
		"BTC": dec("40000"),
	}}, zap.NewNop())
}

func TestBalanceZeroWhenNeverCredited(t *testing.T) {
	svc := newService(t)
	balance, err := svc.Balance(context.Background(), "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestCreditDebitRoundTrip(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Credit(ctx, "u1", "USDT", dec("100")))
	require.NoError(t, svc.Debit(ctx, "u1", "USDT", dec("40")))

	balance, err := svc.Balance(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("60")))

	err = svc.Credit(ctx, "u1", "USDT", dec("-5"))
	var quantity *model.InvalidQuantityError
	require.ErrorAs(t, err, &quantity)
}

func TestDebitCheckedRefusesOverdraw(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.Credit(ctx, "u1", "USDT", dec("100")))

	orderID := "ord-1"
	_, err := svc.Reserve(ctx, "u1", orderID, "USDT", dec("80"))
	require.NoError(t, err)

	// 20 available even though 100 sits in the balance.
	err = svc.DebitChecked(ctx, "u1", "USDT", dec("50"))
	var insufficient *model.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Available.Equal(dec("20")))

	require.NoError(t, svc.DebitChecked(ctx, "u1", "USDT", dec("20")))
}

func TestReserveReleaseAdjust(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.Credit(ctx, "u1", "USDT", dec("100")))

	orderID := "ord-1"
	_, err := svc.Reserve(ctx, "u1", orderID, "USDT", dec("30"))
	require.NoError(t, err)

	available, err := svc.Available(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, available.Equal(dec("70")))

	require.NoError(t, svc.Adjust(ctx, orderID, dec("50")))
	available, err = svc.Available(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, available.Equal(dec("50")))

	require.NoError(t, svc.Release(ctx, orderID))
	require.NoError(t, svc.Release(ctx, orderID)) // idempotent
	available, err = svc.Available(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, available.Equal(dec("100")))
}

func TestUSDValue(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.Credit(ctx, "u1", "BTC", dec("0.5")))
	require.NoError(t, svc.Credit(ctx, "u1", "USDT", dec("10")))
	require.NoError(t, svc.Credit(ctx, "u1", "XYZ", dec("999")))

	btc, err := svc.USDValue(ctx, "u1", "BTC")
	require.NoError(t, err)
	assert.True(t, btc.Equal(dec("20000")))

	// Stables pass through without a price lookup.
	usdt, err := svc.USDValue(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, usdt.Equal(dec("10")))

	// No conversion path degrades to zero.
	xyz, err := svc.USDValue(ctx, "u1", "XYZ")
	require.NoError(t, err)
	assert.True(t, xyz.IsZero())
}

// Random interleavings of reserve and release must keep active allocations
// within the balance whenever reserves are admitted through the user lock.
func TestNoOverdrawUnderConcurrency(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.Credit(ctx, "u1", "USDT", dec("100")))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var reserved []string
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			orderID := "ord-" + string(rune('a'+n%26)) + string(rune('0'+n/26))
			amount := decimal.NewFromInt(int64(rand.Intn(30) + 1))
			err := svc.WithUserLock("u1", func() error {
				available, err := svc.Available(ctx, "u1", "USDT")
				if err != nil {
					return err
				}
				if available.LessThan(amount) {
					return &model.InsufficientFundsError{Required: amount, Available: available, Currency: "USDT"}
				}
				_, err = svc.Reserve(ctx, "u1", orderID, "USDT", amount)
				return err
			})
			if err == nil {
				mu.Lock()
				reserved = append(reserved, orderID)
				mu.Unlock()
				if n%3 == 0 {
					_ = svc.Release(ctx, orderID)
				}
			}
		}(i)
	}
	wg.Wait()

	balance, err := svc.Balance(ctx, "u1", "USDT")
	require.NoError(t, err)
	allocated, err := svc.TotalAllocated(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, allocated.LessThanOrEqual(balance),
		"allocated %s exceeds balance %s", allocated, balance)

	available, err := svc.Available(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.False(t, available.IsNegative())
}
