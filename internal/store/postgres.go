package store

import (
	"context"
	"errors"
	"time"

	"simcex/internal/model"
	"simcex/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func storageErr(op string, err error) error {
	return &model.StorageError{Op: op, Err: err}
}

func (s *Postgres) GetBalance(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := s.pool.QueryRow(ctx, "select amount from balances where user_id = $1 and currency = $2", userID, currency).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, storageErr("get balance", err)
	}
	return amount, nil
}

func (s *Postgres) ListBalances(ctx context.Context, userID string) ([]model.Balance, error) {
	rows, err := s.pool.Query(ctx, "select id, user_id, currency, amount, updated_at from balances where user_id = $1 order by currency", userID)
	if err != nil {
		return nil, storageErr("list balances", err)
	}
	defer rows.Close()
	var out []model.Balance
	for rows.Next() {
		var b model.Balance
		if err := rows.Scan(&b.ID, &b.UserID, &b.Currency, &b.Amount, &b.UpdatedAt); err != nil {
			return nil, storageErr("list balances", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Postgres) ApplyBalanceDeltas(ctx context.Context, deltas ...BalanceDelta) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return storageErr("begin", err)
	}
	defer tx.Rollback(ctx)
	if err := applyDeltas(ctx, tx, deltas); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit balance deltas", err)
	}
	return nil
}

func applyDeltas(ctx context.Context, tx pgx.Tx, deltas []BalanceDelta) error {
	for _, d := range deltas {
		_, err := tx.Exec(ctx, `
			insert into balances (user_id, currency, amount, updated_at)
			values ($1, $2, $3, $4)
			on conflict (user_id, currency)
			do update set amount = balances.amount + excluded.amount, updated_at = excluded.updated_at
		`, d.UserID, d.Currency, d.Delta, time.Now().UTC())
		if err != nil {
			return storageErr("apply balance delta", err)
		}
	}
	return nil
}

func (s *Postgres) SumActiveAllocations(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.pool.QueryRow(ctx, "select coalesce(sum(amount), 0) from allocations where user_id = $1 and currency = $2 and is_active", userID, currency).Scan(&sum)
	if err != nil {
		return decimal.Zero, storageErr("sum allocations", err)
	}
	return sum, nil
}

func (s *Postgres) InsertAllocation(ctx context.Context, a model.Allocation) (model.Allocation, error) {
	err := s.pool.QueryRow(ctx, `
		insert into allocations (user_id, order_id, position_id, currency, amount, kind, is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		returning id
	`, a.UserID, a.OrderID, a.PositionID, a.Currency, a.Amount, string(a.Kind), a.Active, time.Now().UTC()).Scan(&a.ID)
	if err != nil {
		return a, storageErr("insert allocation", err)
	}
	return a, nil
}

func insertAllocationTx(ctx context.Context, tx pgx.Tx, a model.Allocation) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		insert into allocations (user_id, order_id, position_id, currency, amount, kind, is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		returning id
	`, a.UserID, a.OrderID, a.PositionID, a.Currency, a.Amount, string(a.Kind), a.Active, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, storageErr("insert allocation", err)
	}
	return id, nil
}

func (s *Postgres) ActiveAllocationForOrder(ctx context.Context, orderID string) (model.Allocation, error) {
	var a model.Allocation
	var kind string
	err := s.pool.QueryRow(ctx, `
		select id, user_id, order_id, position_id, currency, amount, kind, is_active, created_at, updated_at
		from allocations
		where order_id = $1 and is_active
	`, orderID).Scan(&a.ID, &a.UserID, &a.OrderID, &a.PositionID, &a.Currency, &a.Amount, &kind, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return a, &model.NotFoundError{Entity: "allocation", ID: orderID}
	}
	if err != nil {
		return a, storageErr("get allocation", err)
	}
	a.Kind = types.AllocationKind(kind)
	return a, nil
}

func (s *Postgres) UpdateAllocationAmount(ctx context.Context, allocationID int64, amount decimal.Decimal) error {
	_, err := s.pool.Exec(ctx, "update allocations set amount = $1, updated_at = $2 where id = $3", amount, time.Now().UTC(), allocationID)
	if err != nil {
		return storageErr("update allocation", err)
	}
	return nil
}

func (s *Postgres) ReleaseAllocationsForOrder(ctx context.Context, orderID string) error {
	_, err := s.pool.Exec(ctx, "update allocations set is_active = false, updated_at = $1 where order_id = $2 and is_active", time.Now().UTC(), orderID)
	if err != nil {
		return storageErr("release allocations", err)
	}
	return nil
}

const orderColumns = "id, order_id, user_id, market_id, type, side, quantity, price, stop_price, filled_quantity, remaining_quantity, average_price, total_value, status, time_in_force, cancel_reason, executed_at, cancelled_at, created_at, updated_at"

func scanOrder(row pgx.Row) (model.Order, error) {
	var o model.Order
	var typ, side, status, tif string
	var reason *string
	err := row.Scan(&o.ID, &o.OrderID, &o.UserID, &o.MarketID, &typ, &side, &o.Quantity, &o.Price, &o.StopPrice,
		&o.FilledQuantity, &o.RemainingQty, &o.AveragePrice, &o.TotalValue, &status, &tif, &reason,
		&o.ExecutedAt, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return o, err
	}
	o.Type = types.OrderType(typ)
	o.Side = types.OrderSide(side)
	o.Status = types.OrderStatus(status)
	o.TimeInForce = types.TimeInForce(tif)
	if reason != nil {
		o.CancelReason = *reason
	}
	return o, nil
}

func (s *Postgres) GetOrder(ctx context.Context, orderID string) (model.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, "select "+orderColumns+" from orders where order_id = $1", orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return o, &model.NotFoundError{Entity: "order", ID: orderID}
	}
	if err != nil {
		return o, storageErr("get order", err)
	}
	return o, nil
}

func (s *Postgres) ListOrders(ctx context.Context, f OrderFilter) ([]model.Order, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx, `
		select `+orderColumns+`
		from orders
		where ($1 = '' or user_id = $1)
		  and ($2 = 0 or market_id = $2)
		  and (cardinality($3::text[]) = 0 or status = any($3))
		order by created_at desc
		limit $4
	`, f.UserID, f.MarketID, statusStrings(f.Status), limit)
	if err != nil {
		return nil, storageErr("list orders", err)
	}
	defer rows.Close()
	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, storageErr("list orders", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Postgres) CountOrders(ctx context.Context, f OrderFilter) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		select count(*) from orders
		where ($1 = '' or user_id = $1)
		  and ($2 = 0 or market_id = $2)
		  and (cardinality($3::text[]) = 0 or status = any($3))
	`, f.UserID, f.MarketID, statusStrings(f.Status)).Scan(&n)
	if err != nil {
		return 0, storageErr("count orders", err)
	}
	return n, nil
}

func statusStrings[T ~string](in []T) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, string(s))
	}
	return out
}

func (s *Postgres) CreateOrderWithAllocation(ctx context.Context, o model.Order, a model.Allocation) (model.Order, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return o, storageErr("begin", err)
	}
	defer tx.Rollback(ctx)
	now := time.Now().UTC()
	err = tx.QueryRow(ctx, `
		insert into orders (order_id, user_id, market_id, type, side, quantity, price, stop_price,
			filled_quantity, remaining_quantity, average_price, total_value, status, time_in_force, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)
		returning id
	`, o.OrderID, o.UserID, o.MarketID, string(o.Type), string(o.Side), o.Quantity, o.Price, o.StopPrice,
		o.FilledQuantity, o.RemainingQty, o.AveragePrice, o.TotalValue, string(o.Status), string(o.TimeInForce), now).Scan(&o.ID)
	if err != nil {
		return o, storageErr("insert order", err)
	}
	if _, err := insertAllocationTx(ctx, tx, a); err != nil {
		return o, err
	}
	if err := tx.Commit(ctx); err != nil {
		return o, storageErr("commit order create", err)
	}
	o.CreatedAt = now
	o.UpdatedAt = now
	return o, nil
}

func (s *Postgres) UpdateOrderSettle(ctx context.Context, o model.Order, alloc *AllocationUpdate, deltas ...BalanceDelta) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return storageErr("begin", err)
	}
	defer tx.Rollback(ctx)
	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		update orders
		set quantity = $1, price = $2, stop_price = $3, filled_quantity = $4, remaining_quantity = $5,
			average_price = $6, total_value = $7, status = $8, time_in_force = $9, cancel_reason = $10,
			executed_at = $11, cancelled_at = $12, updated_at = $13
		where order_id = $14
	`, o.Quantity, o.Price, o.StopPrice, o.FilledQuantity, o.RemainingQty,
		o.AveragePrice, o.TotalValue, string(o.Status), string(o.TimeInForce), nilIfEmpty(o.CancelReason),
		o.ExecutedAt, o.CancelledAt, now, o.OrderID)
	if err != nil {
		return storageErr("update order", err)
	}
	if alloc != nil {
		if alloc.Release {
			_, err = tx.Exec(ctx, "update allocations set is_active = false, updated_at = $1 where order_id = $2 and is_active", now, o.OrderID)
		} else if alloc.NewAmount != nil {
			_, err = tx.Exec(ctx, "update allocations set amount = $1, updated_at = $2 where order_id = $3 and is_active", *alloc.NewAmount, now, o.OrderID)
		}
		if err != nil {
			return storageErr("update order allocation", err)
		}
	}
	if err := applyDeltas(ctx, tx, deltas); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit order settle", err)
	}
	return nil
}

const positionColumns = "id, position_id, user_id, market_id, side, entry_price, current_price, quantity, remaining_quantity, margin_used, leverage, unrealized_pnl, realized_pnl, stop_loss_price, take_profit_price, liquidation_price, status, close_reason, opened_at, closed_at, updated_at"

func scanPosition(row pgx.Row) (model.Position, error) {
	var p model.Position
	var side, status string
	var reason *string
	err := row.Scan(&p.ID, &p.PositionID, &p.UserID, &p.MarketID, &side, &p.EntryPrice, &p.CurrentPrice,
		&p.Quantity, &p.RemainingQty, &p.MarginUsed, &p.Leverage, &p.UnrealizedPnL, &p.RealizedPnL,
		&p.StopLossPrice, &p.TakeProfitPrice, &p.LiquidationPrice, &status, &reason, &p.OpenedAt, &p.ClosedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	p.Side = types.PositionSide(side)
	p.Status = types.PositionStatus(status)
	if reason != nil {
		p.CloseReason = *reason
	}
	return p, nil
}

func (s *Postgres) GetPosition(ctx context.Context, positionID string) (model.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx, "select "+positionColumns+" from positions where position_id = $1", positionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return p, &model.NotFoundError{Entity: "position", ID: positionID}
	}
	if err != nil {
		return p, storageErr("get position", err)
	}
	return p, nil
}

func (s *Postgres) ListPositions(ctx context.Context, f PositionFilter) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, `
		select `+positionColumns+`
		from positions
		where ($1 = '' or user_id = $1)
		  and ($2 = 0 or market_id = $2)
		  and (cardinality($3::text[]) = 0 or status = any($3))
		  and ($4::timestamptz is null or closed_at >= $4)
		order by opened_at desc
	`, f.UserID, f.MarketID, statusStrings(f.Status), f.ClosedAfter)
	if err != nil {
		return nil, storageErr("list positions", err)
	}
	defer rows.Close()
	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, storageErr("list positions", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) CreatePositionWithAllocation(ctx context.Context, p model.Position, a model.Allocation) (model.Position, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return p, storageErr("begin", err)
	}
	defer tx.Rollback(ctx)
	now := time.Now().UTC()
	err = tx.QueryRow(ctx, `
		insert into positions (position_id, user_id, market_id, side, entry_price, current_price, quantity,
			remaining_quantity, margin_used, leverage, unrealized_pnl, realized_pnl, stop_loss_price,
			take_profit_price, liquidation_price, status, opened_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$17)
		returning id
	`, p.PositionID, p.UserID, p.MarketID, string(p.Side), p.EntryPrice, p.CurrentPrice, p.Quantity,
		p.RemainingQty, p.MarginUsed, p.Leverage, p.UnrealizedPnL, p.RealizedPnL, p.StopLossPrice,
		p.TakeProfitPrice, p.LiquidationPrice, string(p.Status), now).Scan(&p.ID)
	if err != nil {
		return p, storageErr("insert position", err)
	}
	if _, err := insertAllocationTx(ctx, tx, a); err != nil {
		return p, err
	}
	if err := tx.Commit(ctx); err != nil {
		return p, storageErr("commit position open", err)
	}
	p.OpenedAt = now
	p.UpdatedAt = now
	return p, nil
}

func (s *Postgres) UpdatePositionSettle(ctx context.Context, p model.Position, alloc *AllocationUpdate, deltas ...BalanceDelta) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return storageErr("begin", err)
	}
	defer tx.Rollback(ctx)
	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		update positions
		set current_price = $1, remaining_quantity = $2, margin_used = $3, unrealized_pnl = $4,
			realized_pnl = $5, stop_loss_price = $6, take_profit_price = $7, liquidation_price = $8,
			status = $9, close_reason = $10, closed_at = $11, updated_at = $12
		where position_id = $13
	`, p.CurrentPrice, p.RemainingQty, p.MarginUsed, p.UnrealizedPnL,
		p.RealizedPnL, p.StopLossPrice, p.TakeProfitPrice, p.LiquidationPrice,
		string(p.Status), nilIfEmpty(p.CloseReason), p.ClosedAt, now, p.PositionID)
	if err != nil {
		return storageErr("update position", err)
	}
	if alloc != nil {
		if alloc.Release {
			_, err = tx.Exec(ctx, "update allocations set is_active = false, updated_at = $1 where position_id = $2 and is_active", now, p.PositionID)
		} else if alloc.NewAmount != nil {
			_, err = tx.Exec(ctx, "update allocations set amount = $1, updated_at = $2 where position_id = $3 and is_active", *alloc.NewAmount, now, p.PositionID)
		}
		if err != nil {
			return storageErr("update margin allocation", err)
		}
	}
	if err := applyDeltas(ctx, tx, deltas); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit position settle", err)
	}
	return nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
