package positions

import (
	"context"
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

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestService(t *testing.T) (*Service, *funds.Service) {
	t.Helper()
	st := store.NewMemory()
	fundsSvc := funds.NewService(st, nil, zap.NewNop())
	markets := &fakeMarkets{markets: map[string]model.Market{
		"ETH-USDT": {
			ID: 2, Symbol: "ETH-USDT",
			BaseCurrency: "ETH", QuoteCurrency: "USDT",
			CurrentPrice: dec("100"), PricePrecision: 2,
			IsActive: true, IsTradingEnabled: true,
		},
	}}
	return NewService(st, fundsSvc, markets, zap.NewNop()), fundsSvc
}

func openLong(t *testing.T, svc *Service, user string, qty, entry, leverage string) model.Position {
	t.Helper()
	e := dec(entry)
	p, err := svc.Open(context.Background(), OpenRequest{
		UserID: user, Market: "ETH-USDT",
		Side: types.PositionSideLong, Quantity: dec(qty),
		EntryPrice: &e, Leverage: dec(leverage),
	})
	require.NoError(t, err)
	return p
}

func TestOpenTracksMarginAsAllocation(t *testing.T) {
	svc, fundsSvc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("100")))

	p := openLong(t, svc, "u1", "1", "100", "10")
	assert.True(t, p.MarginUsed.Equal(dec("10")))
	assert.Equal(t, types.PositionStatusOpen, p.Status)
	require.NotNil(t, p.LiquidationPrice)
	assert.True(t, p.LiquidationPrice.Equal(dec("90")))

	// Balance untouched; margin shows up as allocation.
	balance, err := fundsSvc.Balance(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("100")))

	available, err := fundsSvc.Available(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, available.Equal(dec("90")))
}

func TestOpenInsufficientMargin(t *testing.T) {
	svc, fundsSvc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("5")))

	e := dec("100")
	_, err := svc.Open(ctx, OpenRequest{
		UserID: "u1", Market: "ETH-USDT",
		Side: types.PositionSideLong, Quantity: dec("1"),
		EntryPrice: &e, Leverage: dec("10"),
	})
	var insufficient *model.InsufficientFundsError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Required.Equal(dec("10")))
}

func TestMarkPriceUnrealizedPnL(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	fundsSvc := svc.funds
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("100")))

	p := openLong(t, svc, "u1", "1", "100", "10")
	require.NoError(t, svc.MarkPrice(ctx, p.PositionID, dec("110")))

	marked, err := svc.Get(ctx, p.PositionID, "u1")
	require.NoError(t, err)
	assert.True(t, marked.UnrealizedPnL.Equal(dec("100")), "unrealized = %s", marked.UnrealizedPnL)
	assert.True(t, marked.CurrentPrice.Equal(dec("110")))

	// P&L sign flips below entry.
	require.NoError(t, svc.MarkPrice(ctx, p.PositionID, dec("95")))
	marked, err = svc.Get(ctx, p.PositionID, "u1")
	require.NoError(t, err)
	assert.True(t, marked.UnrealizedPnL.IsNegative())
}

func TestShortPnLSign(t *testing.T) {
	svc, fundsSvc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("100")))

	e := dec("100")
	p, err := svc.Open(ctx, OpenRequest{
		UserID: "u1", Market: "ETH-USDT",
		Side: types.PositionSideShort, Quantity: dec("1"),
		EntryPrice: &e, Leverage: dec("5"),
	})
	require.NoError(t, err)

	require.NoError(t, svc.MarkPrice(ctx, p.PositionID, dec("95")))
	marked, err := svc.Get(ctx, p.PositionID, "u1")
	require.NoError(t, err)
	assert.True(t, marked.UnrealizedPnL.Equal(dec("25"))) // (100-95)*1*5
}

func TestFullCloseRealizesAndReleases(t *testing.T) {
	svc, fundsSvc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("100")))

	p := openLong(t, svc, "u1", "1", "100", "10")
	require.NoError(t, svc.MarkPrice(ctx, p.PositionID, dec("110")))

	cp := dec("110")
	closed, err := svc.Close(ctx, CloseRequest{PositionID: p.PositionID, UserID: "u1", ClosePrice: &cp})
	require.NoError(t, err)
	assert.Equal(t, types.PositionStatusClosed, closed.Status)
	assert.True(t, closed.RealizedPnL.Equal(dec("100")))
	assert.True(t, closed.UnrealizedPnL.IsZero())
	assert.True(t, closed.RemainingQty.IsZero())
	require.NotNil(t, closed.ClosedAt)

	// Profit settled, margin allocation released.
	balance, err := fundsSvc.Balance(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("200")))
	available, err := fundsSvc.Available(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, available.Equal(balance))

	// Terminal: no second close.
	_, err = svc.Close(ctx, CloseRequest{PositionID: p.PositionID, UserID: "u1", ClosePrice: &cp})
	var state *model.InvalidStateError
	require.ErrorAs(t, err, &state)
}

func TestPartialCloseKeepsOpen(t *testing.T) {
	svc, fundsSvc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("100")))

	p := openLong(t, svc, "u1", "2", "100", "10") // margin 20

	cp := dec("110")
	half := dec("1")
	closed, err := svc.Close(ctx, CloseRequest{
		PositionID: p.PositionID, UserID: "u1",
		ClosePrice: &cp, Quantity: &half,
	})
	require.NoError(t, err)
	assert.Equal(t, types.PositionStatusOpen, closed.Status)
	assert.True(t, closed.RemainingQty.Equal(dec("1")))
	assert.True(t, closed.MarginUsed.Equal(dec("10")))
	assert.True(t, closed.RealizedPnL.Equal(dec("100")))
	assert.True(t, closed.UnrealizedPnL.Equal(dec("100")))

	// Margin allocation adjusted in place.
	allocated, err := fundsSvc.TotalAllocated(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, allocated.Equal(dec("10")))
}

func TestCloseLossClampsAtBalance(t *testing.T) {
	svc, fundsSvc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("30")))

	p := openLong(t, svc, "u1", "1", "100", "10")

	cp := dec("95") // realized = -50, deeper than the 30 balance
	closed, err := svc.Close(ctx, CloseRequest{PositionID: p.PositionID, UserID: "u1", ClosePrice: &cp})
	require.NoError(t, err)
	assert.True(t, closed.RealizedPnL.Equal(dec("-50")))

	balance, err := fundsSvc.Balance(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, balance.IsZero(), "balance clamped at zero, got %s", balance)
}

func TestLiquidationOnAdverseCross(t *testing.T) {
	svc, fundsSvc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("100")))

	p := openLong(t, svc, "u1", "1", "100", "10") // liquidation at 90

	svc.MarkMarket(ctx, 2, dec("89"))

	liquidated, err := svc.Get(ctx, p.PositionID, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.PositionStatusLiquidated, liquidated.Status)
	assert.True(t, liquidated.RealizedPnL.Equal(dec("-10")))
	assert.True(t, liquidated.RemainingQty.IsZero())
	assert.True(t, liquidated.UnrealizedPnL.IsZero())
	require.NotNil(t, liquidated.ClosedAt)

	// Full margin debited, allocation gone.
	balance, err := fundsSvc.Balance(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("90")))
	allocated, err := fundsSvc.TotalAllocated(ctx, "u1", "USDT")
	require.NoError(t, err)
	assert.True(t, allocated.IsZero())
}

func TestStopLossClosesPosition(t *testing.T) {
	svc, fundsSvc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("100")))

	e := dec("100")
	sl := dec("97")
	p, err := svc.Open(ctx, OpenRequest{
		UserID: "u1", Market: "ETH-USDT",
		Side: types.PositionSideLong, Quantity: dec("1"),
		EntryPrice: &e, Leverage: dec("10"), StopLoss: &sl,
	})
	require.NoError(t, err)

	svc.MarkMarket(ctx, 2, dec("96"))

	closed, err := svc.Get(ctx, p.PositionID, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.PositionStatusClosed, closed.Status)
	assert.Equal(t, "stop_loss", closed.CloseReason)
	assert.True(t, closed.RealizedPnL.Equal(dec("-30"))) // (97-100)*1*10
}

func TestTakeProfitClosesPosition(t *testing.T) {
	svc, fundsSvc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("100")))

	e := dec("100")
	tp := dec("105")
	p, err := svc.Open(ctx, OpenRequest{
		UserID: "u1", Market: "ETH-USDT",
		Side: types.PositionSideLong, Quantity: dec("1"),
		EntryPrice: &e, Leverage: dec("10"), TakeProfit: &tp,
	})
	require.NoError(t, err)

	svc.MarkMarket(ctx, 2, dec("106"))

	closed, err := svc.Get(ctx, p.PositionID, "u1")
	require.NoError(t, err)
	assert.Equal(t, types.PositionStatusClosed, closed.Status)
	assert.Equal(t, "take_profit", closed.CloseReason)
	assert.True(t, closed.RealizedPnL.Equal(dec("50")))
}
