// Package orders runs the order lifecycle: pending through fills to filled,
// or out through cancel/reject. Fund reservations are created with the order
// and settle against actual fill prices.
package orders

import (
	"context"
	"time"

	"simcex/internal/funds"
	"simcex/internal/model"
	"simcex/internal/store"
	"simcex/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MarketSource hands out market definitions. Implemented by the markets
// price cache, so lookups never hit the database on the trading path.
type MarketSource interface {
	GetByID(id int64) (model.Market, error)
	GetBySymbol(symbol string) (model.Market, error)
}

// UserSource is the user-existence check for order admission.
type UserSource interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}

type Service struct {
	store   store.Store
	funds   *funds.Service
	markets MarketSource
	users   UserSource
	log     *zap.Logger
	now     func() time.Time
}

func NewService(st store.Store, fundsSvc *funds.Service, markets MarketSource, users UserSource, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:   st,
		funds:   fundsSvc,
		markets: markets,
		users:   users,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type CreateRequest struct {
	UserID      string
	Market      string
	Side        types.OrderSide
	Type        types.OrderType
	Quantity    decimal.Decimal
	Price       *decimal.Decimal
	StopPrice   *decimal.Decimal
	TimeInForce types.TimeInForce
}

type EditRequest struct {
	OrderID  string
	UserID   string
	Quantity *decimal.Decimal
	Price    *decimal.Decimal
}

// Create validates the request, reserves funds and persists the order as
// pending. Buy orders reserve quote currency at the limit price (or the
// current market price for market orders); sell orders reserve the base
// quantity.
func (s *Service) Create(ctx context.Context, req CreateRequest) (model.Order, error) {
	if err := s.validateCreate(ctx, req); err != nil {
		return model.Order{}, err
	}
	market, err := s.markets.GetBySymbol(req.Market)
	if err != nil {
		return model.Order{}, err
	}
	if !market.IsTradingEnabled {
		return model.Order{}, &model.InvalidStateError{Status: "trading_disabled", Operation: "create order"}
	}

	reservePrice := s.effectivePrice(req.Price, market)
	if !reservePrice.IsPositive() {
		return model.Order{}, &model.InvalidQuantityError{Reason: "no price available for reservation"}
	}
	totalValue := req.Quantity.Mul(reservePrice)
	if market.MinOrderAmount.IsPositive() && totalValue.LessThan(market.MinOrderAmount) {
		return model.Order{}, &model.InvalidQuantityError{Reason: "order value below market minimum"}
	}
	if market.MaxOrderAmount.IsPositive() && totalValue.GreaterThan(market.MaxOrderAmount) {
		return model.Order{}, &model.InvalidQuantityError{Reason: "order value above market maximum"}
	}

	currency, amount := reservation(req.Side, req.Quantity, reservePrice, market)

	order := model.Order{
		OrderID:        uuid.NewString(),
		UserID:         req.UserID,
		MarketID:       market.ID,
		Type:           req.Type,
		Side:           req.Side,
		Quantity:       req.Quantity,
		Price:          req.Price,
		StopPrice:      req.StopPrice,
		FilledQuantity: decimal.Zero,
		RemainingQty:   req.Quantity,
		AveragePrice:   decimal.Zero,
		TotalValue:     totalValue,
		Status:         types.OrderStatusPending,
		TimeInForce:    req.TimeInForce,
	}

	err = s.funds.WithUserLock(req.UserID, func() error {
		available, err := s.funds.Available(ctx, req.UserID, currency)
		if err != nil {
			return err
		}
		if available.LessThan(amount) {
			return &model.InsufficientFundsError{Required: amount, Available: available, Currency: currency}
		}
		order, err = s.store.CreateOrderWithAllocation(ctx, order, model.Allocation{
			UserID:   req.UserID,
			OrderID:  &order.OrderID,
			Currency: currency,
			Amount:   amount,
			Kind:     types.AllocationKindOrderReserve,
			Active:   true,
		})
		return err
	})
	if err != nil {
		return model.Order{}, err
	}

	s.log.Info("order created",
		zap.String("order_id", order.OrderID),
		zap.String("user_id", order.UserID),
		zap.String("market", market.Symbol),
		zap.String("side", string(order.Side)),
		zap.String("reserved", amount.String()+" "+currency))
	return order, nil
}

// Edit changes quantity and/or price on an open order and resizes the
// reservation. Growing the reservation re-checks available funds; the
// order's own allocation is already excluded because available counts it.
func (s *Service) Edit(ctx context.Context, req EditRequest) (model.Order, error) {
	var out model.Order
	err := s.funds.WithUserLock(req.UserID, func() error {
		order, err := s.ownedOrder(ctx, req.OrderID, req.UserID)
		if err != nil {
			return err
		}
		if !order.Status.Open() {
			return &model.InvalidStateError{Status: string(order.Status), Operation: "edit order"}
		}
		market, err := s.markets.GetByID(order.MarketID)
		if err != nil {
			return err
		}

		newQuantity := order.Quantity
		if req.Quantity != nil {
			newQuantity = *req.Quantity
		}
		if !newQuantity.IsPositive() || newQuantity.LessThan(order.FilledQuantity) {
			return &model.InvalidQuantityError{Reason: "quantity must be positive and cover filled quantity"}
		}
		newPrice := order.Price
		if req.Price != nil {
			if !req.Price.IsPositive() {
				return &model.InvalidQuantityError{Reason: "price must be positive"}
			}
			newPrice = req.Price
		}

		reservePrice := s.effectivePrice(newPrice, market)
		currency, newReservation := reservation(order.Side, newQuantity, reservePrice, market)

		current, err := s.store.ActiveAllocationForOrder(ctx, order.OrderID)
		if err != nil {
			return err
		}
		delta := newReservation.Sub(current.Amount)
		if delta.IsPositive() {
			available, err := s.funds.Available(ctx, order.UserID, currency)
			if err != nil {
				return err
			}
			if available.LessThan(delta) {
				return &model.InsufficientFundsError{Required: delta, Available: available, Currency: currency}
			}
		}

		order.Quantity = newQuantity
		order.Price = newPrice
		order.RemainingQty = newQuantity.Sub(order.FilledQuantity)
		order.TotalValue = newQuantity.Mul(reservePrice)

		if err := s.store.UpdateOrderSettle(ctx, order, &store.AllocationUpdate{NewAmount: &newReservation}); err != nil {
			return err
		}
		out = order
		return nil
	})
	return out, err
}

// Fill applies a (partial) execution. On the transition to filled the
// reservation is released and both settlement legs land atomically, at the
// order's actual average fill price.
func (s *Service) Fill(ctx context.Context, orderID string, fillQuantity, fillPrice decimal.Decimal) (model.Order, error) {
	if !fillQuantity.IsPositive() || !fillPrice.IsPositive() {
		return model.Order{}, &model.InvalidQuantityError{Reason: "fill quantity and price must be positive"}
	}
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}

	var out model.Order
	err = s.funds.WithUserLock(order.UserID, func() error {
		order, err := s.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !order.Status.Open() {
			return &model.InvalidStateError{Status: string(order.Status), Operation: "fill order"}
		}
		if fillQuantity.GreaterThan(order.RemainingQty) {
			return &model.InvalidQuantityError{Reason: "fill quantity exceeds remaining quantity"}
		}
		market, err := s.markets.GetByID(order.MarketID)
		if err != nil {
			return err
		}

		newFilled := order.FilledQuantity.Add(fillQuantity)
		order.AveragePrice = order.FilledQuantity.Mul(order.AveragePrice).
			Add(fillQuantity.Mul(fillPrice)).
			Div(newFilled)
		order.FilledQuantity = newFilled
		order.RemainingQty = order.Quantity.Sub(newFilled)
		if order.ExecutedAt == nil {
			now := s.now()
			order.ExecutedAt = &now
		}

		if order.RemainingQty.IsPositive() {
			order.Status = types.OrderStatusPartiallyFilled
			out = order
			return s.store.UpdateOrderSettle(ctx, order, nil)
		}

		order.Status = types.OrderStatusFilled
		filledValue := order.FilledQuantity.Mul(order.AveragePrice)
		order.TotalValue = filledValue

		var legs []store.BalanceDelta
		if order.Side == types.OrderSideBuy {
			legs = []store.BalanceDelta{
				{UserID: order.UserID, Currency: market.QuoteCurrency, Delta: filledValue.Neg()},
				{UserID: order.UserID, Currency: market.BaseCurrency, Delta: order.FilledQuantity},
			}
		} else {
			legs = []store.BalanceDelta{
				{UserID: order.UserID, Currency: market.BaseCurrency, Delta: order.FilledQuantity.Neg()},
				{UserID: order.UserID, Currency: market.QuoteCurrency, Delta: filledValue},
			}
		}

		if alloc, err := s.store.ActiveAllocationForOrder(ctx, order.OrderID); err == nil {
			diff := alloc.Amount.Sub(settledReservation(order.Side, order.FilledQuantity, filledValue))
			if !diff.IsZero() {
				s.log.Info("reservation adjustment on settlement",
					zap.String("order_id", order.OrderID),
					zap.String("currency", alloc.Currency),
					zap.String("reserved", alloc.Amount.String()),
					zap.String("adjustment", diff.String()))
			}
		}

		if err := s.store.UpdateOrderSettle(ctx, order, &store.AllocationUpdate{Release: true}, legs...); err != nil {
			return err
		}
		out = order
		return nil
	})
	if err != nil {
		return model.Order{}, err
	}
	s.log.Info("order filled",
		zap.String("order_id", out.OrderID),
		zap.String("status", string(out.Status)),
		zap.String("average_price", out.AveragePrice.String()))
	return out, nil
}

// Cancel takes an open order to cancelled and releases its reservation.
// Racing against a fill, whichever acquires the user lock first wins; the
// loser sees the terminal status.
func (s *Service) Cancel(ctx context.Context, orderID, userID, reason string) (model.Order, error) {
	var out model.Order
	err := s.funds.WithUserLock(userID, func() error {
		order, err := s.ownedOrder(ctx, orderID, userID)
		if err != nil {
			return err
		}
		if !order.Status.Open() {
			return &model.InvalidStateError{Status: string(order.Status), Operation: "cancel order"}
		}
		now := s.now()
		order.Status = types.OrderStatusCancelled
		order.CancelledAt = &now
		order.CancelReason = reason
		if err := s.store.UpdateOrderSettle(ctx, order, &store.AllocationUpdate{Release: true}); err != nil {
			return err
		}
		out = order
		return nil
	})
	return out, err
}

// Reject is the admin exit from pending: no fills happened, the reservation
// just comes back.
func (s *Service) Reject(ctx context.Context, orderID, reason string) (model.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	var out model.Order
	err = s.funds.WithUserLock(order.UserID, func() error {
		order, err := s.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != types.OrderStatusPending {
			return &model.InvalidStateError{Status: string(order.Status), Operation: "reject order"}
		}
		now := s.now()
		order.Status = types.OrderStatusRejected
		order.CancelledAt = &now
		order.CancelReason = reason
		if err := s.store.UpdateOrderSettle(ctx, order, &store.AllocationUpdate{Release: true}); err != nil {
			return err
		}
		out = order
		return nil
	})
	return out, err
}

func (s *Service) Get(ctx context.Context, orderID, userID string) (model.Order, error) {
	return s.ownedOrder(ctx, orderID, userID)
}

func (s *Service) List(ctx context.Context, f store.OrderFilter) ([]model.Order, error) {
	return s.store.ListOrders(ctx, f)
}

func (s *Service) ownedOrder(ctx context.Context, orderID, userID string) (model.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return model.Order{}, err
	}
	if userID != "" && order.UserID != userID {
		return model.Order{}, &model.NotFoundError{Entity: "order", ID: orderID}
	}
	return order, nil
}

func (s *Service) validateCreate(ctx context.Context, req CreateRequest) error {
	if req.UserID == "" || req.Market == "" {
		return &model.InvalidQuantityError{Reason: "missing user or market"}
	}
	if s.users != nil {
		ok, err := s.users.UserExists(ctx, req.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return &model.NotFoundError{Entity: "user", ID: req.UserID}
		}
	}
	if req.Side != types.OrderSideBuy && req.Side != types.OrderSideSell {
		return &model.InvalidQuantityError{Reason: "invalid side"}
	}
	switch req.Type {
	case types.OrderTypeMarket:
		if req.Price != nil {
			return &model.InvalidQuantityError{Reason: "price not allowed for market order"}
		}
	case types.OrderTypeLimit:
		if req.Price == nil {
			return &model.InvalidQuantityError{Reason: "price required for limit order"}
		}
	case types.OrderTypeStop:
		if req.StopPrice == nil {
			return &model.InvalidQuantityError{Reason: "stop price required for stop order"}
		}
	case types.OrderTypeStopLimit:
		if req.Price == nil || req.StopPrice == nil {
			return &model.InvalidQuantityError{Reason: "price and stop price required for stop limit order"}
		}
	default:
		return &model.InvalidQuantityError{Reason: "invalid order type"}
	}
	if req.Price != nil && !req.Price.IsPositive() {
		return &model.InvalidQuantityError{Reason: "price must be positive"}
	}
	if req.StopPrice != nil && !req.StopPrice.IsPositive() {
		return &model.InvalidQuantityError{Reason: "stop price must be positive"}
	}
	if !req.Quantity.IsPositive() {
		return &model.InvalidQuantityError{Reason: "quantity must be positive"}
	}
	switch req.TimeInForce {
	case types.TimeInForceGTC, types.TimeInForceIOC, types.TimeInForceFOK:
	default:
		return &model.InvalidQuantityError{Reason: "invalid time_in_force"}
	}
	return nil
}

func (s *Service) effectivePrice(price *decimal.Decimal, market model.Market) decimal.Decimal {
	if price != nil {
		return *price
	}
	return market.CurrentPrice
}

// reservation applies the side-dependent rule: buy locks quote value, sell
// locks base quantity.
func reservation(side types.OrderSide, quantity, price decimal.Decimal, market model.Market) (string, decimal.Decimal) {
	if side == types.OrderSideBuy {
		return market.QuoteCurrency, quantity.Mul(price)
	}
	return market.BaseCurrency, quantity
}

func settledReservation(side types.OrderSide, filledQuantity, filledValue decimal.Decimal) decimal.Decimal {
	if side == types.OrderSideBuy {
		return filledValue
	}
	return filledQuantity
}
