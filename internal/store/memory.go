package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"simcex/internal/model"

	"github.com/shopspring/decimal"
)

// Memory keeps the four core tables in process. Semantics mirror the
// Postgres implementation; composite calls mutate under one lock so they are
// atomic with respect to each other.
type Memory struct {
	mu          sync.Mutex
	balances    map[string]map[string]model.Balance // user -> currency
	allocations []model.Allocation
	orders      map[string]model.Order    // by public order id
	positions   map[string]model.Position // by public position id
	nextAlloc   int64
	nextRow     int64
}

func NewMemory() *Memory {
	return &Memory{
		balances:  make(map[string]map[string]model.Balance),
		orders:    make(map[string]model.Order),
		positions: make(map[string]model.Position),
		nextAlloc: 1,
		nextRow:   1,
	}
}

func (m *Memory) GetBalance(_ context.Context, userID, currency string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[userID][currency]; ok {
		return b.Amount, nil
	}
	return decimal.Zero, nil
}

func (m *Memory) ListBalances(_ context.Context, userID string) ([]model.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Balance
	for _, b := range m.balances[userID] {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func (m *Memory) ApplyBalanceDeltas(_ context.Context, deltas ...BalanceDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyDeltasLocked(deltas)
	return nil
}

func (m *Memory) applyDeltasLocked(deltas []BalanceDelta) {
	now := time.Now().UTC()
	for _, d := range deltas {
		byCurrency, ok := m.balances[d.UserID]
		if !ok {
			byCurrency = make(map[string]model.Balance)
			m.balances[d.UserID] = byCurrency
		}
		b, ok := byCurrency[d.Currency]
		if !ok {
			b = model.Balance{ID: m.nextRow, UserID: d.UserID, Currency: d.Currency, Amount: decimal.Zero}
			m.nextRow++
		}
		b.Amount = b.Amount.Add(d.Delta)
		b.UpdatedAt = now
		byCurrency[d.Currency] = b
	}
}

func (m *Memory) SumActiveAllocations(_ context.Context, userID, currency string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := decimal.Zero
	for _, a := range m.allocations {
		if a.Active && a.UserID == userID && a.Currency == currency {
			sum = sum.Add(a.Amount)
		}
	}
	return sum, nil
}

func (m *Memory) InsertAllocation(_ context.Context, a model.Allocation) (model.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertAllocationLocked(a), nil
}

func (m *Memory) insertAllocationLocked(a model.Allocation) model.Allocation {
	a.ID = m.nextAlloc
	m.nextAlloc++
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	m.allocations = append(m.allocations, a)
	return a
}

func (m *Memory) ActiveAllocationForOrder(_ context.Context, orderID string) (model.Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.allocations {
		if a.Active && a.OrderID != nil && *a.OrderID == orderID {
			return a, nil
		}
	}
	return model.Allocation{}, &model.NotFoundError{Entity: "allocation", ID: orderID}
}

func (m *Memory) UpdateAllocationAmount(_ context.Context, allocationID int64, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.allocations {
		if m.allocations[i].ID == allocationID {
			m.allocations[i].Amount = amount
			m.allocations[i].UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return &model.NotFoundError{Entity: "allocation", ID: ""}
}

func (m *Memory) ReleaseAllocationsForOrder(_ context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseOrderAllocationsLocked(orderID)
	return nil
}

func (m *Memory) releaseOrderAllocationsLocked(orderID string) {
	now := time.Now().UTC()
	for i := range m.allocations {
		a := &m.allocations[i]
		if a.Active && a.OrderID != nil && *a.OrderID == orderID {
			a.Active = false
			a.UpdatedAt = now
		}
	}
}

func (m *Memory) GetOrder(_ context.Context, orderID string) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return model.Order{}, &model.NotFoundError{Entity: "order", ID: orderID}
	}
	return o, nil
}

func (m *Memory) ListOrders(_ context.Context, f OrderFilter) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Order
	for _, o := range m.orders {
		if matchesOrder(o, f) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) CountOrders(_ context.Context, f OrderFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.orders {
		if matchesOrder(o, f) {
			n++
		}
	}
	return n, nil
}

func matchesOrder(o model.Order, f OrderFilter) bool {
	if f.UserID != "" && o.UserID != f.UserID {
		return false
	}
	if f.MarketID != 0 && o.MarketID != f.MarketID {
		return false
	}
	if len(f.Status) > 0 {
		found := false
		for _, s := range f.Status {
			if o.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m *Memory) CreateOrderWithAllocation(_ context.Context, o model.Order, a model.Allocation) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	o.ID = m.nextRow
	m.nextRow++
	o.CreatedAt = now
	o.UpdatedAt = now
	m.orders[o.OrderID] = o
	m.insertAllocationLocked(a)
	return o, nil
}

func (m *Memory) UpdateOrderSettle(_ context.Context, o model.Order, alloc *AllocationUpdate, deltas ...BalanceDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.orders[o.OrderID]
	if !ok {
		return &model.NotFoundError{Entity: "order", ID: o.OrderID}
	}
	o.ID = existing.ID
	o.CreatedAt = existing.CreatedAt
	o.UpdatedAt = time.Now().UTC()
	m.orders[o.OrderID] = o
	if alloc != nil {
		if alloc.Release {
			m.releaseOrderAllocationsLocked(o.OrderID)
		} else if alloc.NewAmount != nil {
			now := time.Now().UTC()
			for i := range m.allocations {
				a := &m.allocations[i]
				if a.Active && a.OrderID != nil && *a.OrderID == o.OrderID {
					a.Amount = *alloc.NewAmount
					a.UpdatedAt = now
				}
			}
		}
	}
	m.applyDeltasLocked(deltas)
	return nil
}

func (m *Memory) GetPosition(_ context.Context, positionID string) (model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[positionID]
	if !ok {
		return model.Position{}, &model.NotFoundError{Entity: "position", ID: positionID}
	}
	return p, nil
}

func (m *Memory) ListPositions(_ context.Context, f PositionFilter) ([]model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Position
	for _, p := range m.positions {
		if matchesPosition(p, f) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	return out, nil
}

func matchesPosition(p model.Position, f PositionFilter) bool {
	if f.UserID != "" && p.UserID != f.UserID {
		return false
	}
	if f.MarketID != 0 && p.MarketID != f.MarketID {
		return false
	}
	if len(f.Status) > 0 {
		found := false
		for _, s := range f.Status {
			if p.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ClosedAfter != nil {
		if p.ClosedAt == nil || p.ClosedAt.Before(*f.ClosedAfter) {
			return false
		}
	}
	return true
}

func (m *Memory) CreatePositionWithAllocation(_ context.Context, p model.Position, a model.Allocation) (model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	p.ID = m.nextRow
	m.nextRow++
	p.OpenedAt = now
	p.UpdatedAt = now
	m.positions[p.PositionID] = p
	m.insertAllocationLocked(a)
	return p, nil
}

func (m *Memory) UpdatePositionSettle(_ context.Context, p model.Position, alloc *AllocationUpdate, deltas ...BalanceDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.positions[p.PositionID]
	if !ok {
		return &model.NotFoundError{Entity: "position", ID: p.PositionID}
	}
	p.ID = existing.ID
	p.OpenedAt = existing.OpenedAt
	p.UpdatedAt = time.Now().UTC()
	m.positions[p.PositionID] = p
	if alloc != nil {
		now := time.Now().UTC()
		for i := range m.allocations {
			a := &m.allocations[i]
			if a.Active && a.PositionID != nil && *a.PositionID == p.PositionID {
				if alloc.Release {
					a.Active = false
				} else if alloc.NewAmount != nil {
					a.Amount = *alloc.NewAmount
				}
				a.UpdatedAt = now
			}
		}
	}
	m.applyDeltasLocked(deltas)
	return nil
}
