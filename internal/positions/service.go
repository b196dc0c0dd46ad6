// Package positions runs the leveraged position lifecycle: open, mark to
// market, partial and full close, and liquidation. Margin is held as an
// active allocation against the quote currency, not debited from the spot
// balance; only realized P&L settles into the balance.
package positions

import (
	"context"
	"time"

	"simcex/internal/funds"
	"simcex/internal/model"
	"simcex/internal/orders"
	"simcex/internal/store"
	"simcex/internal/types"

	"github.com/google/uuid"
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

type OpenRequest struct {
	UserID     string
	Market     string
	Side       types.PositionSide
	Quantity   decimal.Decimal
	EntryPrice *decimal.Decimal // nil means current market price
	Leverage   decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
}

type CloseRequest struct {
	PositionID string
	UserID     string
	ClosePrice *decimal.Decimal // nil means current market price
	Quantity   *decimal.Decimal // nil means full remaining
	Reason     string
}

// Open checks margin against available quote funds and persists the position
// with its margin allocation in one step. margin = quantity x entry / leverage.
func (s *Service) Open(ctx context.Context, req OpenRequest) (model.Position, error) {
	if req.Side != types.PositionSideLong && req.Side != types.PositionSideShort {
		return model.Position{}, &model.InvalidQuantityError{Reason: "invalid side"}
	}
	if !req.Quantity.IsPositive() {
		return model.Position{}, &model.InvalidQuantityError{Reason: "quantity must be positive"}
	}
	if req.Leverage.LessThan(decimal.NewFromInt(1)) {
		return model.Position{}, &model.InvalidQuantityError{Reason: "leverage must be at least 1"}
	}
	market, err := s.markets.GetBySymbol(req.Market)
	if err != nil {
		return model.Position{}, err
	}
	if !market.IsTradingEnabled {
		return model.Position{}, &model.InvalidStateError{Status: "trading_disabled", Operation: "open position"}
	}

	entry := market.CurrentPrice
	if req.EntryPrice != nil {
		entry = *req.EntryPrice
	}
	if !entry.IsPositive() {
		return model.Position{}, &model.InvalidQuantityError{Reason: "entry price must be positive"}
	}
	margin := req.Quantity.Mul(entry).Div(req.Leverage)

	position := model.Position{
		PositionID:       uuid.NewString(),
		UserID:           req.UserID,
		MarketID:         market.ID,
		Side:             req.Side,
		EntryPrice:       entry,
		CurrentPrice:     entry,
		Quantity:         req.Quantity,
		RemainingQty:     req.Quantity,
		MarginUsed:       margin,
		Leverage:         req.Leverage,
		UnrealizedPnL:    decimal.Zero,
		RealizedPnL:      decimal.Zero,
		StopLossPrice:    req.StopLoss,
		TakeProfitPrice:  req.TakeProfit,
		LiquidationPrice: liquidationPrice(req.Side, entry, req.Leverage),
		Status:           types.PositionStatusOpen,
	}

	err = s.funds.WithUserLock(req.UserID, func() error {
		available, err := s.funds.Available(ctx, req.UserID, market.QuoteCurrency)
		if err != nil {
			return err
		}
		if available.LessThan(margin) {
			return &model.InsufficientFundsError{Required: margin, Available: available, Currency: market.QuoteCurrency}
		}
		position, err = s.store.CreatePositionWithAllocation(ctx, position, model.Allocation{
			UserID:     req.UserID,
			PositionID: &position.PositionID,
			Currency:   market.QuoteCurrency,
			Amount:     margin,
			Kind:       types.AllocationKindMarginUsed,
			Active:     true,
		})
		return err
	})
	if err != nil {
		return model.Position{}, err
	}

	s.log.Info("position opened",
		zap.String("position_id", position.PositionID),
		zap.String("user_id", position.UserID),
		zap.String("market", market.Symbol),
		zap.String("side", string(position.Side)),
		zap.String("margin", margin.String()+" "+market.QuoteCurrency))
	return position, nil
}

// MarkMarket re-values every open position on the market at the new price.
// Crossing a liquidation, stop-loss or take-profit level while marking
// triggers the corresponding exit.
func (s *Service) MarkMarket(ctx context.Context, marketID int64, price decimal.Decimal) {
	open, err := s.store.ListPositions(ctx, store.PositionFilter{
		MarketID: marketID,
		Status:   []types.PositionStatus{types.PositionStatusOpen},
	})
	if err != nil {
		s.log.Warn("mark sweep failed", zap.Int64("market_id", marketID), zap.Error(err))
		return
	}
	for _, p := range open {
		if err := s.MarkPrice(ctx, p.PositionID, price); err != nil {
			s.log.Warn("mark price failed",
				zap.String("position_id", p.PositionID), zap.Error(err))
		}
	}
}

// MarkPrice updates current price and unrealized P&L for one position.
func (s *Service) MarkPrice(ctx context.Context, positionID string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return &model.InvalidQuantityError{Reason: "price must be positive"}
	}
	p, err := s.store.GetPosition(ctx, positionID)
	if err != nil {
		return err
	}
	if p.Status != types.PositionStatusOpen {
		return nil
	}

	if p.LiquidationPrice != nil && crossedAdverse(p.Side, price, *p.LiquidationPrice) {
		return s.Liquidate(ctx, positionID)
	}
	if p.StopLossPrice != nil && crossedAdverse(p.Side, price, *p.StopLossPrice) {
		_, err := s.Close(ctx, CloseRequest{
			PositionID: positionID, UserID: p.UserID,
			ClosePrice: p.StopLossPrice, Reason: "stop_loss",
		})
		return err
	}
	if p.TakeProfitPrice != nil && crossedFavorable(p.Side, price, *p.TakeProfitPrice) {
		_, err := s.Close(ctx, CloseRequest{
			PositionID: positionID, UserID: p.UserID,
			ClosePrice: p.TakeProfitPrice, Reason: "take_profit",
		})
		return err
	}

	p.CurrentPrice = price
	p.UnrealizedPnL = priceDiff(p.Side, price, p.EntryPrice).Mul(p.RemainingQty).Mul(p.Leverage)
	return s.store.UpdatePositionSettle(ctx, p, nil)
}

// Close realizes P&L on part or all of the remaining quantity. A partial
// close keeps the position open with margin reduced proportionally; closing
// the last unit releases the margin allocation and zeroes unrealized P&L.
func (s *Service) Close(ctx context.Context, req CloseRequest) (model.Position, error) {
	var out model.Position
	err := s.funds.WithUserLock(req.UserID, func() error {
		p, err := s.ownedPosition(ctx, req.PositionID, req.UserID)
		if err != nil {
			return err
		}
		if p.Status != types.PositionStatusOpen {
			return &model.InvalidStateError{Status: string(p.Status), Operation: "close position"}
		}
		market, err := s.markets.GetByID(p.MarketID)
		if err != nil {
			return err
		}

		closePrice := market.CurrentPrice
		if req.ClosePrice != nil {
			closePrice = *req.ClosePrice
		}
		if !closePrice.IsPositive() {
			return &model.InvalidQuantityError{Reason: "close price must be positive"}
		}
		closeQty := p.RemainingQty
		if req.Quantity != nil {
			closeQty = *req.Quantity
		}
		if !closeQty.IsPositive() || closeQty.GreaterThan(p.RemainingQty) {
			return &model.InvalidQuantityError{Reason: "close quantity must be positive and within remaining quantity"}
		}

		realizedDelta := priceDiff(p.Side, closePrice, p.EntryPrice).Mul(closeQty).Mul(p.Leverage)
		p.RealizedPnL = p.RealizedPnL.Add(realizedDelta)
		p.CurrentPrice = closePrice
		newRemaining := p.RemainingQty.Sub(closeQty)

		var alloc store.AllocationUpdate
		if newRemaining.IsZero() {
			now := s.now()
			p.RemainingQty = decimal.Zero
			p.MarginUsed = decimal.Zero
			p.UnrealizedPnL = decimal.Zero
			p.Status = types.PositionStatusClosed
			p.CloseReason = req.Reason
			p.ClosedAt = &now
			alloc = store.AllocationUpdate{Release: true}
		} else {
			// Margin shrinks in proportion to the closed fraction.
			newMargin := p.MarginUsed.Mul(newRemaining).Div(p.RemainingQty)
			p.RemainingQty = newRemaining
			p.MarginUsed = newMargin
			p.UnrealizedPnL = priceDiff(p.Side, closePrice, p.EntryPrice).Mul(newRemaining).Mul(p.Leverage)
			alloc = store.AllocationUpdate{NewAmount: &newMargin}
		}

		legs, err := s.settlementLegs(ctx, p.UserID, market.QuoteCurrency, realizedDelta)
		if err != nil {
			return err
		}
		if err := s.store.UpdatePositionSettle(ctx, p, &alloc, legs...); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return model.Position{}, err
	}
	s.log.Info("position closed",
		zap.String("position_id", out.PositionID),
		zap.String("status", string(out.Status)),
		zap.String("realized_pnl", out.RealizedPnL.String()))
	return out, nil
}

// Liquidate ends the position at total loss: realized P&L becomes the
// negated margin and the margin amount is debited from the quote balance.
func (s *Service) Liquidate(ctx context.Context, positionID string) error {
	p, err := s.store.GetPosition(ctx, positionID)
	if err != nil {
		return err
	}
	return s.funds.WithUserLock(p.UserID, func() error {
		p, err := s.store.GetPosition(ctx, positionID)
		if err != nil {
			return err
		}
		if p.Status != types.PositionStatusOpen {
			return &model.InvalidStateError{Status: string(p.Status), Operation: "liquidate position"}
		}
		market, err := s.markets.GetByID(p.MarketID)
		if err != nil {
			return err
		}

		now := s.now()
		loss := p.MarginUsed
		p.RealizedPnL = loss.Neg()
		p.RemainingQty = decimal.Zero
		p.MarginUsed = decimal.Zero
		p.UnrealizedPnL = decimal.Zero
		p.Status = types.PositionStatusLiquidated
		p.CloseReason = "liquidated"
		p.ClosedAt = &now
		if p.LiquidationPrice != nil {
			p.CurrentPrice = *p.LiquidationPrice
		}

		legs, err := s.settlementLegs(ctx, p.UserID, market.QuoteCurrency, loss.Neg())
		if err != nil {
			return err
		}
		if err := s.store.UpdatePositionSettle(ctx, p, &store.AllocationUpdate{Release: true}, legs...); err != nil {
			return err
		}
		s.log.Info("position liquidated",
			zap.String("position_id", p.PositionID),
			zap.String("user_id", p.UserID),
			zap.String("loss", loss.String()+" "+market.QuoteCurrency))
		return nil
	})
}

func (s *Service) Get(ctx context.Context, positionID, userID string) (model.Position, error) {
	return s.ownedPosition(ctx, positionID, userID)
}

func (s *Service) List(ctx context.Context, f store.PositionFilter) ([]model.Position, error) {
	return s.store.ListPositions(ctx, f)
}

func (s *Service) ownedPosition(ctx context.Context, positionID, userID string) (model.Position, error) {
	p, err := s.store.GetPosition(ctx, positionID)
	if err != nil {
		return model.Position{}, err
	}
	if userID != "" && p.UserID != userID {
		return model.Position{}, &model.NotFoundError{Entity: "position", ID: positionID}
	}
	return p, nil
}

// settlementLegs turns a realized P&L delta into balance legs. Profits
// credit in full; losses debit no deeper than the current balance, and the
// clamp is logged.
func (s *Service) settlementLegs(ctx context.Context, userID, currency string, realized decimal.Decimal) ([]store.BalanceDelta, error) {
	if realized.IsZero() {
		return nil, nil
	}
	if realized.IsPositive() {
		return []store.BalanceDelta{{UserID: userID, Currency: currency, Delta: realized}}, nil
	}
	balance, err := s.funds.Balance(ctx, userID, currency)
	if err != nil {
		return nil, err
	}
	debit := realized.Neg()
	if debit.GreaterThan(balance) {
		s.log.Warn("loss debit clamped at balance",
			zap.String("user_id", userID),
			zap.String("currency", currency),
			zap.String("loss", debit.String()),
			zap.String("balance", balance.String()))
		debit = balance
	}
	if debit.IsZero() {
		return nil, nil
	}
	return []store.BalanceDelta{{UserID: userID, Currency: currency, Delta: debit.Neg()}}, nil
}

func priceDiff(side types.PositionSide, current, entry decimal.Decimal) decimal.Decimal {
	if side == types.PositionSideLong {
		return current.Sub(entry)
	}
	return entry.Sub(current)
}

// crossedAdverse reports whether price moved through level against the
// position: at or below for long, at or above for short.
func crossedAdverse(side types.PositionSide, price, level decimal.Decimal) bool {
	if side == types.PositionSideLong {
		return price.LessThanOrEqual(level)
	}
	return price.GreaterThanOrEqual(level)
}

func crossedFavorable(side types.PositionSide, price, level decimal.Decimal) bool {
	if side == types.PositionSideLong {
		return price.GreaterThanOrEqual(level)
	}
	return price.LessThanOrEqual(level)
}

func liquidationPrice(side types.PositionSide, entry, leverage decimal.Decimal) *decimal.Decimal {
	move := entry.Div(leverage)
	var lp decimal.Decimal
	if side == types.PositionSideLong {
		lp = entry.Sub(move)
	} else {
		lp = entry.Add(move)
	}
	if !lp.IsPositive() {
		return nil
	}
	return &lp
}
