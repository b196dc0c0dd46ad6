package orders

import (
	"context"
	"sync"
	"testing"

	"simcex/internal/funds"
	"simcex/internal/model"
	"simcex/internal/store"
	"simcex/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMarkets struct {
	markets map[string]model.Market
}

func (f *fakeMarkets) GetBySymbol(symbol string) (model.Market, error) {
	m, ok := f.markets[symbol]
	if !ok {
		return model.Market{}, &model.NotFoundError{Entity: "market", ID: symbol}
	}
	return m, nil
}

func (f *fakeMarkets) GetByID(id int64) (model.Market, error) {
	for _, m := range f.markets {
		if m.ID == id {
			return m, nil
		}
	}
	return model.Market{}, &model.NotFoundError{Entity: "market", ID: "?"}
}

func btcMarket() model.Market {
	return model.Market{
		ID:               1,
		Symbol:           "BTC-USDT",
		BaseCurrency:     "BTC",
		QuoteCurrency:    "USDT",
		CurrentPrice:     decimal.NewFromInt(40000),
		PricePrecision:   2,
		IsActive:         true,
		IsTradingEnabled: true,
	}
}

func newTestService(t *testing.T) (*Service, *funds.Service, store.Store) {
	t.Helper()
	st := store.NewMemory()
	fundsSvc := funds.NewService(st, nil, zap.NewNop())
	markets := &fakeMarkets{markets: map[string]model.Market{"BTC-USDT": btcMarket()}}
	svc := NewService(st, fundsSvc, markets, nil, zap.NewNop())
	return svc, fundsSvc, st
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func limitBuy(t *testing.T, svc *Service, user, qty, price string) model.Order {
	t.Helper()
	p := dec(price)
	order, err := svc.Create(context.Background(), CreateRequest{
		UserID:      user,
		Market:      "BTC-USDT",
		Side:        types.OrderSideBuy,
		Type:        types.OrderTypeLimit,
		Quantity:    dec(qty),
		Price:       &p,
		TimeInForce: types.TimeInForceGTC,
	})
	require.NoError(t, err)
	return order
}

func TestCreateReservesQuoteForBuy(t *testing.T) {
	svc, fundsSvc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("1000")))

	order := limitBuy(t, svc, "u1", "0.01", "40000")
	assert.Equal(t, types.OrderStatusPending, order.Status)
	assert.True(t, order.RemainingQty.Equal(dec("0.01")))

	available, err := fundsSvc.Available(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, available.Equal(dec("600")), "available = %s", available)
}

func TestCreateReservesBaseForSell(t *testing.T) {
	svc, fundsSvc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "BTC", dec("0.5")))

	p := dec("41000")
	_, err := svc.Create(ctx, CreateRequest{
		UserID: "u1", Market: "BTC-USDT",
		Side: types.OrderSideSell, Type: types.OrderTypeLimit,
		Quantity: dec("0.2"), Price: &p, TimeInForce: types.TimeInForceGTC,
	})
	require.NoError(t, err)

	available, err := fundsSvc.Available(ctx, "u1", "BTC")
	require.NoError(t, err)
	assert.True(t, available.Equal(dec("0.3")))
}

func TestCreateInsufficientFunds(t *testing.T) {
	svc, fundsSvc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("100")))

	p := dec("40000")
	_, err := svc.Create(ctx, CreateRequest{
		UserID: "u1", Market: "BTC-USDT",
		Side: types.OrderSideBuy, Type: types.OrderTypeLimit,
		Quantity: dec("0.01"), Price: &p, TimeInForce: types.TimeInForceGTC,
	})
	var insufficient *model.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "USDT", insufficient.Currency)
	assert.True(t, insufficient.Required.Equal(dec("400")))
	assert.True(t, insufficient.Available.Equal(dec("100")))
}

func TestEditGrowthReChecksFunds(t *testing.T) {
	svc, fundsSvc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("1000")))

	order := limitBuy(t, svc, "u1", "0.01", "40000") // reserves 400, available 600

	bigger := dec("0.02") // new reservation 800, delta +400 > available 600? no: 600 >= 400
	edited, err := svc.Edit(ctx, EditRequest{OrderID: order.OrderID, UserID: "u1", Quantity: &bigger})
	require.NoError(t, err)
	assert.True(t, edited.Quantity.Equal(dec("0.02")))

	available, err := fundsSvc.Available(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, available.Equal(dec("200")))

	tooBig := dec("0.05") // reservation 2000, delta +1200 > available 200
	_, err = svc.Edit(ctx, EditRequest{OrderID: order.OrderID, UserID: "u1", Quantity: &tooBig})
	var insufficient *model.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)

	// Failed edit leaves the order untouched.
	after, err := svc.Get(ctx, order.OrderID, "u1")
	require.NoError(t, err)
	assert.True(t, after.Quantity.Equal(dec("0.02")))
}

func TestEditShrinkReleasesReservation(t *testing.T) {
	svc, fundsSvc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("1000")))

	order := limitBuy(t, svc, "u1", "0.02", "40000") // reserves 800
	smaller := dec("0.01")
	_, err := svc.Edit(ctx, EditRequest{OrderID: order.OrderID, UserID: "u1", Quantity: &smaller})
	require.NoError(t, err)

	available, err := fundsSvc.Available(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, available.Equal(dec("600")))
}

func TestFillSettlesAtActualPrice(t *testing.T) {
	svc, fundsSvc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("1000")))

	order := limitBuy(t, svc, "u1", "0.01", "40000")

	filled, err := svc.Fill(ctx, order.OrderID, dec("0.01"), dec("39950"))
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, filled.Status)
	assert.True(t, filled.AveragePrice.Equal(dec("39950")))
	require.NotNil(t, filled.ExecutedAt)

	usdt, err := fundsSvc.Balance(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, usdt.Equal(dec("600.5")), "USDT balance = %s", usdt)

	btc, err := fundsSvc.Balance(ctx, "u1", "BTC")
	require.NoError(t, err)
	assert.True(t, btc.Equal(dec("0.01")))

	// Allocation released: available matches balance exactly.
	available, err := fundsSvc.Available(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, available.Equal(usdt))
}

func TestPartialFillWeightedAverage(t *testing.T) {
	svc, fundsSvc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("1000")))

	order := limitBuy(t, svc, "u1", "0.02", "40000")

	first, err := svc.Fill(ctx, order.OrderID, dec("0.01"), dec("40000"))
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusPartiallyFilled, first.Status)
	assert.True(t, first.FilledQuantity.Add(first.RemainingQty).Equal(first.Quantity))
	firstExec := first.ExecutedAt
	require.NotNil(t, firstExec)

	second, err := svc.Fill(ctx, order.OrderID, dec("0.01"), dec("39000"))
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, second.Status)
	assert.True(t, second.AveragePrice.Equal(dec("39500")), "avg = %s", second.AveragePrice)
	assert.Equal(t, firstExec, second.ExecutedAt, "executed_at set on first fill only")

	usdt, err := fundsSvc.Balance(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, usdt.Equal(dec("210"))) // 1000 - 0.02*39500
}

func TestFillExceedingRemaining(t *testing.T) {
	svc, fundsSvc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("1000")))

	order := limitBuy(t, svc, "u1", "0.01", "40000")
	_, err := svc.Fill(ctx, order.OrderID, dec("0.02"), dec("40000"))
	var quantity *model.InvalidQuantityError
	require.ErrorAs(t, err, &quantity)
}

func TestCancelReleasesAndIsTerminal(t *testing.T) {
	svc, fundsSvc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("1000")))

	order := limitBuy(t, svc, "u1", "0.01", "40000")
	cancelled, err := svc.Cancel(ctx, order.OrderID, "u1", "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	available, err := fundsSvc.Available(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, available.Equal(dec("1000")))

	// Second cancel sees the terminal status.
	_, err = svc.Cancel(ctx, order.OrderID, "u1", "again")
	var state *model.InvalidStateError
	require.ErrorAs(t, err, &state)

	// Fill after cancel also refused.
	_, err = svc.Fill(ctx, order.OrderID, dec("0.01"), dec("40000"))
	require.ErrorAs(t, err, &state)
}

func TestReleaseIdempotent(t *testing.T) {
	svc, fundsSvc, st := newTestService(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("1000")))

	order := limitBuy(t, svc, "u1", "0.01", "40000")
	require.NoError(t, st.ReleaseAllocationsForOrder(ctx, order.OrderID))
	require.NoError(t, st.ReleaseAllocationsForOrder(ctx, order.OrderID))

	allocated, err := fundsSvc.TotalAllocated(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, allocated.IsZero())
}

func TestRejectOnlyFromPending(t *testing.T) {
	svc, fundsSvc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("1000")))

	order := limitBuy(t, svc, "u1", "0.02", "40000")
	_, err := svc.Fill(ctx, order.OrderID, dec("0.01"), dec("40000"))
	require.NoError(t, err)

	_, err = svc.Reject(ctx, order.OrderID, "risk check")
	var state *model.InvalidStateError
	require.ErrorAs(t, err, &state)

	fresh := limitBuy(t, svc, "u1", "0.001", "40000")
	rejected, err := svc.Reject(ctx, fresh.OrderID, "risk check")
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusRejected, rejected.Status)
}

func TestMarketOrderReservesAtCurrentPrice(t *testing.T) {
	svc, fundsSvc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("500")))

	order, err := svc.Create(ctx, CreateRequest{
		UserID: "u1", Market: "BTC-USDT",
		Side: types.OrderSideBuy, Type: types.OrderTypeMarket,
		Quantity: dec("0.01"), TimeInForce: types.TimeInForceIOC,
	})
	require.NoError(t, err)
	assert.Nil(t, order.Price)
	assert.True(t, order.TotalValue.Equal(dec("400"))) // 0.01 * 40000 market price

	available, err := fundsSvc.Available(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, available.Equal(dec("100")))
}

// Random interleavings of create and cancel must never overdraw: allocated
// stays within balance and available never goes negative.
func TestConcurrentCreateNeverOverdraws(t *testing.T) {
	svc, fundsSvc, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("1000")))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var created []string
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := dec("40000")
			order, err := svc.Create(ctx, CreateRequest{
				UserID: "u1", Market: "BTC-USDT",
				Side: types.OrderSideBuy, Type: types.OrderTypeLimit,
				Quantity: dec("0.005"), Price: &p, TimeInForce: types.TimeInForceGTC,
			})
			if err == nil {
				mu.Lock()
				created = append(created, order.OrderID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// 1000 / 200 per order = at most 5 concurrent reservations.
	assert.LessOrEqual(t, len(created), 5)

	balance, err := fundsSvc.Balance(ctx, "u1", "USDT")
	require.NoError(t, err)
	allocated, err := fundsSvc.TotalAllocated(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, allocated.LessThanOrEqual(balance))

	// Cancel everything; reservations come back in full.
	for _, id := range created {
		_, err := svc.Cancel(ctx, id, "u1", "cleanup")
		require.NoError(t, err)
	}
	available, err := fundsSvc.Available(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, available.Equal(dec("1000")))
}
