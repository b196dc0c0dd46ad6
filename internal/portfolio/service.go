// Package portfolio computes read-only account snapshots: USD-valued fund
// distribution, margin and P&L totals, and trading activity counters.
package portfolio

import (
	"context"
	"time"

	"simcex/internal/funds"
	"simcex/internal/model"
	"simcex/internal/orders"
	"simcex/internal/store"
	"simcex/internal/types"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Service struct {
	store   store.Store
	funds   *funds.Service
	markets orders.MarketSource
	log     *zap.Logger
	now     func() time.Time
}

func NewService(st store.Store, fundsSvc *funds.Service, markets orders.MarketSource, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:   st,
		funds:   fundsSvc,
		markets: markets,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type FundEntry struct {
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Allocated decimal.Decimal `json:"allocated"`
	Available decimal.Decimal `json:"available"`
	USDValue  decimal.Decimal `json:"usd_value"`
}

type Snapshot struct {
	UserID            string          `json:"user_id"`
	TotalBalanceUSD   decimal.Decimal `json:"total_balance_usd"`
	TotalAllocatedUSD decimal.Decimal `json:"total_allocated_usd"`
	AvailableUSD      decimal.Decimal `json:"available_usd"`
	MarginUsedUSD     decimal.Decimal `json:"margin_used_usd"`
	UnrealizedPnLUSD  decimal.Decimal `json:"unrealized_pnl_usd"`
	RealizedPnLUSD    decimal.Decimal `json:"realized_pnl_usd"`
	TotalValueUSD     decimal.Decimal `json:"total_value_usd"`
	RecentPnLUSD      decimal.Decimal `json:"recent_pnl_usd"`
	RecentDays        int             `json:"recent_days"`
	WinRate           decimal.Decimal `json:"win_rate"`
	OpenPositions     int             `json:"open_positions"`
	ClosedPositions   int             `json:"closed_positions"`
	OpenOrders        int             `json:"open_orders"`
	TotalOrders       int             `json:"total_orders"`
	Funds             []FundEntry     `json:"funds"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

const defaultRecentDays = 7

// Snapshot aggregates the user's balances, allocations, positions and order
// activity into one view. Margin stays inside the balance in this model, so
// total value is balance plus unrealized P&L; adding margin on top would
// count it twice.
func (s *Service) Snapshot(ctx context.Context, userID string, recentDays int) (Snapshot, error) {
	if recentDays <= 0 {
		recentDays = defaultRecentDays
	}
	now := s.now()
	snap := Snapshot{UserID: userID, RecentDays: recentDays, GeneratedAt: now}

	balances, err := s.funds.Balances(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	for _, b := range balances {
		allocated, err := s.funds.TotalAllocated(ctx, userID, b.Currency)
		if err != nil {
			return Snapshot{}, err
		}
		usd := s.funds.ValueInUSD(ctx, b.Amount, b.Currency)
		snap.Funds = append(snap.Funds, FundEntry{
			Currency:  b.Currency,
			Amount:    b.Amount,
			Allocated: allocated,
			Available: b.Amount.Sub(allocated),
			USDValue:  usd,
		})
		snap.TotalBalanceUSD = snap.TotalBalanceUSD.Add(usd)
		snap.TotalAllocatedUSD = snap.TotalAllocatedUSD.Add(s.funds.ValueInUSD(ctx, allocated, b.Currency))
	}
	snap.AvailableUSD = snap.TotalBalanceUSD.Sub(snap.TotalAllocatedUSD)

	positions, err := s.store.ListPositions(ctx, store.PositionFilter{UserID: userID})
	if err != nil {
		return Snapshot{}, err
	}
	recentCutoff := now.AddDate(0, 0, -recentDays)
	var winning, closed, settled int
	for _, p := range positions {
		quote := s.quoteCurrency(p)
		switch p.Status {
		case types.PositionStatusOpen:
			snap.OpenPositions++
			snap.MarginUsedUSD = snap.MarginUsedUSD.Add(s.funds.ValueInUSD(ctx, p.MarginUsed, quote))
			snap.UnrealizedPnLUSD = snap.UnrealizedPnLUSD.Add(s.funds.ValueInUSD(ctx, p.UnrealizedPnL, quote))
		case types.PositionStatusClosed:
			settled++
			closed++
			if p.RealizedPnL.IsPositive() {
				winning++
			}
			if p.ClosedAt != nil && p.ClosedAt.After(recentCutoff) {
				snap.RecentPnLUSD = snap.RecentPnLUSD.Add(s.funds.ValueInUSD(ctx, p.RealizedPnL, quote))
			}
		case types.PositionStatusLiquidated:
			settled++
			if p.ClosedAt != nil && p.ClosedAt.After(recentCutoff) {
				snap.RecentPnLUSD = snap.RecentPnLUSD.Add(s.funds.ValueInUSD(ctx, p.RealizedPnL, quote))
			}
		}
		snap.RealizedPnLUSD = snap.RealizedPnLUSD.Add(s.funds.ValueInUSD(ctx, p.RealizedPnL, quote))
	}
	snap.ClosedPositions = settled
	// Win rate is a trading skill metric: liquidations count toward
	// activity and realized totals but not toward the win/loss ratio.
	if closed > 0 {
		snap.WinRate = decimal.NewFromInt(int64(winning)).
			Div(decimal.NewFromInt(int64(closed))).
			Mul(decimal.NewFromInt(100)).
			Round(2)
	}
	snap.TotalValueUSD = snap.TotalBalanceUSD.Add(snap.UnrealizedPnLUSD)

	snap.TotalOrders, err = s.store.CountOrders(ctx, store.OrderFilter{UserID: userID})
	if err != nil {
		return Snapshot{}, err
	}
	snap.OpenOrders, err = s.store.CountOrders(ctx, store.OrderFilter{
		UserID: userID,
		Status: []types.OrderStatus{types.OrderStatusPending, types.OrderStatusPartiallyFilled},
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// quoteCurrency resolves the settlement currency for a position's P&L.
// Unknown markets degrade to USDT so an orphaned row cannot sink the whole
// snapshot.
func (s *Service) quoteCurrency(p model.Position) string {
	market, err := s.markets.GetByID(p.MarketID)
	if err != nil {
		s.log.Warn("market missing for position",
			zap.String("position_id", p.PositionID),
			zap.Int64("market_id", p.MarketID))
		return "USDT"
	}
	return market.QuoteCurrency
}
