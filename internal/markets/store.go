package markets

import (
	"context"
	"errors"
	"time"

	"simcex/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const marketColumns = "id, symbol, display_name, base_currency, quote_currency, current_price, price_change_24h, price_change_percentage_24h, high_24h, low_24h, volume_24h, min_order_amount, max_order_amount, price_precision, quantity_precision, is_active, is_trading_enabled, updated_at"

func scanMarket(row pgx.Row) (model.Market, error) {
	var m model.Market
	err := row.Scan(&m.ID, &m.Symbol, &m.DisplayName, &m.BaseCurrency, &m.QuoteCurrency, &m.CurrentPrice,
		&m.PriceChange24h, &m.PriceChangePct24h, &m.High24h, &m.Low24h, &m.Volume24h,
		&m.MinOrderAmount, &m.MaxOrderAmount, &m.PricePrecision, &m.QuantityPrecision,
		&m.IsActive, &m.IsTradingEnabled, &m.UpdatedAt)
	return m, err
}

func (s *Store) GetByID(ctx context.Context, id int64) (model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx, "select "+marketColumns+" from markets where id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return m, &model.NotFoundError{Entity: "market", ID: decimal.NewFromInt(id).String()}
	}
	if err != nil {
		return m, &model.StorageError{Op: "get market", Err: err}
	}
	return m, nil
}

func (s *Store) GetBySymbol(ctx context.Context, symbol string) (model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx, "select "+marketColumns+" from markets where symbol = $1", symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return m, &model.NotFoundError{Entity: "market", ID: symbol}
	}
	if err != nil {
		return m, &model.StorageError{Op: "get market", Err: err}
	}
	return m, nil
}

func (s *Store) GetByCurrencies(ctx context.Context, base, quote string) (model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx, "select "+marketColumns+" from markets where base_currency = $1 and quote_currency = $2", base, quote))
	if errors.Is(err, pgx.ErrNoRows) {
		return m, &model.NotFoundError{Entity: "market", ID: base + "/" + quote}
	}
	if err != nil {
		return m, &model.StorageError{Op: "get market", Err: err}
	}
	return m, nil
}

func (s *Store) List(ctx context.Context, activeOnly bool) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx, "select "+marketColumns+" from markets where (not $1 or is_active) order by symbol", activeOnly)
	if err != nil {
		return nil, &model.StorageError{Op: "list markets", Err: err}
	}
	defer rows.Close()
	var out []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, &model.StorageError{Op: "list markets", Err: err}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) Create(ctx context.Context, m model.Market) (model.Market, error) {
	err := s.pool.QueryRow(ctx, `
		insert into markets (symbol, display_name, base_currency, quote_currency, current_price,
			price_change_24h, price_change_percentage_24h, high_24h, low_24h, volume_24h,
			min_order_amount, max_order_amount, price_precision, quantity_precision,
			is_active, is_trading_enabled, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		returning id
	`, m.Symbol, m.DisplayName, m.BaseCurrency, m.QuoteCurrency, m.CurrentPrice,
		m.PriceChange24h, m.PriceChangePct24h, m.High24h, m.Low24h, m.Volume24h,
		m.MinOrderAmount, m.MaxOrderAmount, m.PricePrecision, m.QuantityPrecision,
		m.IsActive, m.IsTradingEnabled, time.Now().UTC()).Scan(&m.ID)
	if err != nil {
		return m, &model.StorageError{Op: "insert market", Err: err}
	}
	return m, nil
}

// UpdatePrice writes a new current price and recomputes the 24h change
// fields from the previous price.
func (s *Store) UpdatePrice(ctx context.Context, id int64, price decimal.Decimal) (model.Market, error) {
	m, err := s.GetByID(ctx, id)
	if err != nil {
		return m, err
	}
	change := price.Sub(m.CurrentPrice)
	pct := decimal.Zero
	if m.CurrentPrice.IsPositive() {
		pct = change.Div(m.CurrentPrice).Mul(decimal.NewFromInt(100))
	}
	high := m.High24h
	if price.GreaterThan(high) {
		high = price
	}
	low := m.Low24h
	if low.IsZero() || price.LessThan(low) {
		low = price
	}
	_, err = s.pool.Exec(ctx, `
		update markets
		set current_price = $1, price_change_24h = $2, price_change_percentage_24h = $3,
			high_24h = $4, low_24h = $5, updated_at = $6
		where id = $7
	`, price, change, pct, high, low, time.Now().UTC(), id)
	if err != nil {
		return m, &model.StorageError{Op: "update market price", Err: err}
	}
	m.CurrentPrice = price
	m.PriceChange24h = change
	m.PriceChangePct24h = pct
	m.High24h = high
	m.Low24h = low
	return m, nil
}
