// Package funds is the balance and allocation ledger: per-user per-currency
// spot balances, plus the reservations held against open orders and margin
// positions. Available funds for a currency are balance minus active
// allocations, and every fund-consuming operation in the system is admitted
// through that check.
package funds

import (
	"context"
	"sync"

	"simcex/internal/model"
	"simcex/internal/store"
	"simcex/internal/types"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceSource resolves a currency to its USD quote. Implemented by the
// markets price cache. A missing quote reports ok=false, never an error.
type PriceSource interface {
	QuoteUSD(ctx context.Context, currency string) (decimal.Decimal, bool)
}

type Service struct {
	store  store.Store
	prices PriceSource
	log    *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(st store.Store, prices PriceSource, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: st, prices: prices, log: log, locks: make(map[string]*sync.Mutex)}
}

// WithUserLock serializes fund-consuming operations per user. All order and
// position mutations run their whole read-check-write sequence under it, so
// two concurrent order creations cannot both pass the available-funds check
// on the same snapshot.
func (s *Service) WithUserLock(userID string, fn func() error) error {
	s.mu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	s.mu.Unlock()
	l.Lock()
	defer l.Unlock()
	return fn()
}

func (s *Service) Balance(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	return s.store.GetBalance(ctx, userID, currency)
}

func (s *Service) Balances(ctx context.Context, userID string) ([]model.Balance, error) {
	return s.store.ListBalances(ctx, userID)
}

func (s *Service) TotalAllocated(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	return s.store.SumActiveAllocations(ctx, userID, currency)
}

// Available is balance minus active allocations.
func (s *Service) Available(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	balance, err := s.store.GetBalance(ctx, userID, currency)
	if err != nil {
		return decimal.Zero, err
	}
	allocated, err := s.store.SumActiveAllocations(ctx, userID, currency)
	if err != nil {
		return decimal.Zero, err
	}
	return balance.Sub(allocated), nil
}

func (s *Service) Credit(ctx context.Context, userID, currency string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &model.InvalidQuantityError{Reason: "credit amount must be positive"}
	}
	return s.store.ApplyBalanceDeltas(ctx, store.BalanceDelta{UserID: userID, Currency: currency, Delta: amount})
}

// Debit decrements without an availability check. It exists for settlement
// legs whose counterpart credit lands in the same atomic store call; external
// callers want DebitChecked.
func (s *Service) Debit(ctx context.Context, userID, currency string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &model.InvalidQuantityError{Reason: "debit amount must be positive"}
	}
	return s.store.ApplyBalanceDeltas(ctx, store.BalanceDelta{UserID: userID, Currency: currency, Delta: amount.Neg()})
}

// DebitChecked fails with InsufficientFundsError when the debit exceeds
// available funds. Callers must hold the user lock.
func (s *Service) DebitChecked(ctx context.Context, userID, currency string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &model.InvalidQuantityError{Reason: "debit amount must be positive"}
	}
	available, err := s.Available(ctx, userID, currency)
	if err != nil {
		return err
	}
	if available.LessThan(amount) {
		return &model.InsufficientFundsError{Required: amount, Available: available, Currency: currency}
	}
	return s.store.ApplyBalanceDeltas(ctx, store.BalanceDelta{UserID: userID, Currency: currency, Delta: amount.Neg()})
}

// Reserve records an active allocation against an order. The caller verified
// available funds under the user lock before calling.
func (s *Service) Reserve(ctx context.Context, userID, orderID, currency string, amount decimal.Decimal) (model.Allocation, error) {
	if !amount.IsPositive() {
		return model.Allocation{}, &model.InvalidQuantityError{Reason: "reservation amount must be positive"}
	}
	return s.store.InsertAllocation(ctx, model.Allocation{
		UserID:   userID,
		OrderID:  &orderID,
		Currency: currency,
		Amount:   amount,
		Kind:     types.AllocationKindOrderReserve,
		Active:   true,
	})
}

// Release deactivates all active allocations tied to the order. Idempotent.
func (s *Service) Release(ctx context.Context, orderID string) error {
	return s.store.ReleaseAllocationsForOrder(ctx, orderID)
}

// Adjust rewrites the amount of the order's active allocation in place.
func (s *Service) Adjust(ctx context.Context, orderID string, newAmount decimal.Decimal) error {
	if !newAmount.IsPositive() {
		return &model.InvalidQuantityError{Reason: "allocation amount must be positive"}
	}
	a, err := s.store.ActiveAllocationForOrder(ctx, orderID)
	if err != nil {
		return err
	}
	return s.store.UpdateAllocationAmount(ctx, a.ID, newAmount)
}

// USDValue converts the user's holding of a currency into USD via the price
// cache. An unpriceable currency values at zero; that silent degrade is a
// documented property of the valuation path, not an error.
func (s *Service) USDValue(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	amount, err := s.store.GetBalance(ctx, userID, currency)
	if err != nil {
		return decimal.Zero, err
	}
	return s.ValueInUSD(ctx, amount, currency), nil
}

func (s *Service) ValueInUSD(ctx context.Context, amount decimal.Decimal, currency string) decimal.Decimal {
	if isUSDStable(currency) {
		return amount
	}
	if s.prices == nil {
		return decimal.Zero
	}
	price, ok := s.prices.QuoteUSD(ctx, currency)
	if !ok {
		return decimal.Zero
	}
	return amount.Mul(price)
}

func isUSDStable(currency string) bool {
	switch currency {
	case "USD", "USDT", "USDC":
		return true
	}
	return false
}
