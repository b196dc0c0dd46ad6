// Package store is the persistence boundary for the fund and trade core:
// balances, allocations, orders and positions. Services depend on the Store
// interface; Postgres backs production and the in-memory implementation backs
// tests and local runs without a database.
package store

import (
	"context"
	"time"

	"simcex/internal/model"
	"simcex/internal/types"

	"github.com/shopspring/decimal"
)

// BalanceDelta is one leg of a settlement. Every leg passed to a single call
// is applied atomically with the rest of that call.
type BalanceDelta struct {
	UserID   string
	Currency string
	Delta    decimal.Decimal
}

// AllocationUpdate describes what happens to an order's reservation or a
// position's margin allocation during settlement: released outright, or
// adjusted to a new amount.
type AllocationUpdate struct {
	Release   bool
	NewAmount *decimal.Decimal
}

type OrderFilter struct {
	UserID   string
	MarketID int64
	Status   []types.OrderStatus
	Limit    int
}

type PositionFilter struct {
	UserID      string
	MarketID    int64
	Status      []types.PositionStatus
	ClosedAfter *time.Time
}

type Store interface {
	// Balances. GetBalance reports zero for a currency never credited.
	GetBalance(ctx context.Context, userID, currency string) (decimal.Decimal, error)
	ListBalances(ctx context.Context, userID string) ([]model.Balance, error)
	// ApplyBalanceDeltas upserts all legs or none of them.
	ApplyBalanceDeltas(ctx context.Context, deltas ...BalanceDelta) error

	// Allocations.
	SumActiveAllocations(ctx context.Context, userID, currency string) (decimal.Decimal, error)
	InsertAllocation(ctx context.Context, a model.Allocation) (model.Allocation, error)
	ActiveAllocationForOrder(ctx context.Context, orderID string) (model.Allocation, error)
	UpdateAllocationAmount(ctx context.Context, allocationID int64, amount decimal.Decimal) error
	// ReleaseAllocationsForOrder deactivates every active allocation tied to
	// the order. Releasing an already-released order is a no-op.
	ReleaseAllocationsForOrder(ctx context.Context, orderID string) error

	// Orders.
	GetOrder(ctx context.Context, orderID string) (model.Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]model.Order, error)
	CountOrders(ctx context.Context, f OrderFilter) (int, error)
	// CreateOrderWithAllocation persists the order and its fund reservation
	// as one atomic step.
	CreateOrderWithAllocation(ctx context.Context, o model.Order, a model.Allocation) (model.Order, error)
	// UpdateOrderSettle writes the order row and, in the same atomic step,
	// applies the reservation change (release or adjust) and settlement legs.
	UpdateOrderSettle(ctx context.Context, o model.Order, alloc *AllocationUpdate, deltas ...BalanceDelta) error

	// Positions.
	GetPosition(ctx context.Context, positionID string) (model.Position, error)
	ListPositions(ctx context.Context, f PositionFilter) ([]model.Position, error)
	CreatePositionWithAllocation(ctx context.Context, p model.Position, a model.Allocation) (model.Position, error)
	// UpdatePositionSettle writes the position row and, atomically with it,
	// applies the margin-allocation change and settlement legs.
	UpdatePositionSettle(ctx context.Context, p model.Position, alloc *AllocationUpdate, deltas ...BalanceDelta) error
}
