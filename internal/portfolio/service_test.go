package portfolio

import (
	"context"
	"testing"
	"time"

	"simcex/internal/funds"
	"simcex/internal/model"
	"simcex/internal/positions"
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

type fakePrices struct {
	quotes map[string]decimal.Decimal
}

func (f *fakePrices) QuoteUSD(_ context.Context, currency string) (decimal.Decimal, bool) {
	switch currency {
	case "USD", "USDT", "USDC":
		return decimal.NewFromInt(1), true
	}
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

func newFixture(t *testing.T) (*Service, *positions.Service, *funds.Service) {
	t.Helper()
	st := store.NewMemory()
	prices := &fakePrices{quotes: map[string]decimal.Decimal{"ETH": dec("100")}}
	fundsSvc := funds.NewService(st, prices, zap.NewNop())
	markets := &fakeMarkets{markets: map[string]model.Market{
		"ETH-USDT": {
			ID: 2, Symbol: "ETH-USDT",
			BaseCurrency: "ETH", QuoteCurrency: "USDT",
			CurrentPrice: dec("100"),
			IsActive:     true, IsTradingEnabled: true,
		},
	}}
	posSvc := positions.NewService(st, fundsSvc, markets, zap.NewNop())
	return NewService(st, fundsSvc, markets, zap.NewNop()), posSvc, fundsSvc
}

func TestSnapshotValuesFundsInUSD(t *testing.T) {
	svc, _, fundsSvc := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("500")))
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "ETH", dec("2")))

	snap, err := svc.Snapshot(ctx, "u1", 0)
	require.NoError(t, err)
	assert.True(t, snap.TotalBalanceUSD.Equal(dec("700"))) // 500 + 2*100
	assert.True(t, snap.AvailableUSD.Equal(snap.TotalBalanceUSD))
	assert.Len(t, snap.Funds, 2)
	assert.Equal(t, defaultRecentDays, snap.RecentDays)
}

func TestSnapshotMarginAndUnrealized(t *testing.T) {
	svc, posSvc, fundsSvc := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("100")))

	e := dec("100")
	p, err := posSvc.Open(ctx, positions.OpenRequest{
		UserID: "u1", Market: "ETH-USDT",
		Side: types.PositionSideLong, Quantity: dec("1"),
		EntryPrice: &e, Leverage: dec("10"),
	})
	require.NoError(t, err)
	require.NoError(t, posSvc.MarkPrice(ctx, p.PositionID, dec("105")))

	snap, err := svc.Snapshot(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.OpenPositions)
	assert.True(t, snap.MarginUsedUSD.Equal(dec("10")))
	assert.True(t, snap.UnrealizedPnLUSD.Equal(dec("50")))
	// Margin is inside the balance; total value adds unrealized only.
	assert.True(t, snap.TotalValueUSD.Equal(dec("150")))
	assert.True(t, snap.TotalAllocatedUSD.Equal(dec("10")))
	assert.True(t, snap.AvailableUSD.Equal(dec("90")))
}

func TestSnapshotWinRateAndRecentPnL(t *testing.T) {
	svc, posSvc, fundsSvc := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("1000")))

	e := dec("100")
	winPrice := dec("110")
	losePrice := dec("99")
	for _, cp := range []decimal.Decimal{winPrice, winPrice, losePrice} {
		p, err := posSvc.Open(ctx, positions.OpenRequest{
			UserID: "u1", Market: "ETH-USDT",
			Side: types.PositionSideLong, Quantity: dec("1"),
			EntryPrice: &e, Leverage: dec("10"),
		})
		require.NoError(t, err)
		price := cp
		_, err = posSvc.Close(ctx, positions.CloseRequest{PositionID: p.PositionID, UserID: "u1", ClosePrice: &price})
		require.NoError(t, err)
	}

	snap, err := svc.Snapshot(ctx, "u1", 7)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.ClosedPositions)
	assert.True(t, snap.WinRate.Equal(dec("66.67")), "win rate = %s", snap.WinRate)
	// 100 + 100 - 10 realized, all closed within the window.
	assert.True(t, snap.RealizedPnLUSD.Equal(dec("190")))
	assert.True(t, snap.RecentPnLUSD.Equal(dec("190")))
	assert.True(t, snap.GeneratedAt.Before(time.Now().Add(time.Second)))
}

func TestSnapshotWinRateSkipsLiquidations(t *testing.T) {
	svc, posSvc, fundsSvc := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fundsSvc.Credit(ctx, "u1", "USDT", dec("1000")))

	e := dec("100")
	winner, err := posSvc.Open(ctx, positions.OpenRequest{
		UserID: "u1", Market: "ETH-USDT",
		Side: types.PositionSideLong, Quantity: dec("1"),
		EntryPrice: &e, Leverage: dec("10"),
	})
	require.NoError(t, err)
	winPrice := dec("110")
	_, err = posSvc.Close(ctx, positions.CloseRequest{PositionID: winner.PositionID, UserID: "u1", ClosePrice: &winPrice})
	require.NoError(t, err)

	wiped, err := posSvc.Open(ctx, positions.OpenRequest{
		UserID: "u1", Market: "ETH-USDT",
		Side: types.PositionSideLong, Quantity: dec("1"),
		EntryPrice: &e, Leverage: dec("10"),
	})
	require.NoError(t, err)
	require.NoError(t, posSvc.Liquidate(ctx, wiped.PositionID))

	snap, err := svc.Snapshot(ctx, "u1", 7)
	require.NoError(t, err)
	// The liquidation counts as activity and realized loss but does not
	// drag the win/loss ratio, which spans closed positions only.
	assert.Equal(t, 2, snap.ClosedPositions)
	assert.True(t, snap.WinRate.Equal(dec("100")), "win rate = %s", snap.WinRate)
	assert.True(t, snap.RealizedPnLUSD.Equal(dec("90"))) // +100 close, -10 margin
	assert.True(t, snap.RecentPnLUSD.Equal(dec("90")))
}
