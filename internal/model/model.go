package model

import (
	"time"

	"simcex/internal/types"

	"github.com/shopspring/decimal"
)

// Balance is a user's spot holding in a single currency. One row per
// (user, currency); created lazily on first credit, zeroed but never deleted.
type Balance struct {
	ID        int64           `json:"-"`
	UserID    string          `json:"user_id"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Allocation earmarks funds against an open order or margin position.
// Released allocations are deactivated, not deleted.
type Allocation struct {
	ID         int64                `json:"id"`
	UserID     string               `json:"user_id"`
	OrderID    *string              `json:"order_id,omitempty"`
	PositionID *string              `json:"position_id,omitempty"`
	Currency   string               `json:"currency"`
	Amount     decimal.Decimal      `json:"amount"`
	Kind       types.AllocationKind `json:"kind"`
	Active     bool                 `json:"is_active"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

type Order struct {
	ID             int64             `json:"-"`
	OrderID        string            `json:"order_id"`
	UserID         string            `json:"user_id"`
	MarketID       int64             `json:"market_id"`
	Type           types.OrderType   `json:"type"`
	Side           types.OrderSide   `json:"side"`
	Quantity       decimal.Decimal   `json:"quantity"`
	Price          *decimal.Decimal  `json:"price,omitempty"`
	StopPrice      *decimal.Decimal  `json:"stop_price,omitempty"`
	FilledQuantity decimal.Decimal   `json:"filled_quantity"`
	RemainingQty   decimal.Decimal   `json:"remaining_quantity"`
	AveragePrice   decimal.Decimal   `json:"average_price"`
	TotalValue     decimal.Decimal   `json:"total_value"`
	Status         types.OrderStatus `json:"status"`
	TimeInForce    types.TimeInForce `json:"time_in_force"`
	CancelReason   string            `json:"cancel_reason,omitempty"`
	ExecutedAt     *time.Time        `json:"executed_at,omitempty"`
	CancelledAt    *time.Time        `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type Position struct {
	ID               int64                `json:"-"`
	PositionID       string               `json:"position_id"`
	UserID           string               `json:"user_id"`
	MarketID         int64                `json:"market_id"`
	Side             types.PositionSide   `json:"side"`
	EntryPrice       decimal.Decimal      `json:"entry_price"`
	CurrentPrice     decimal.Decimal      `json:"current_price"`
	Quantity         decimal.Decimal      `json:"quantity"`
	RemainingQty     decimal.Decimal      `json:"remaining_quantity"`
	MarginUsed       decimal.Decimal      `json:"margin_used"`
	Leverage         decimal.Decimal      `json:"leverage"`
	UnrealizedPnL    decimal.Decimal      `json:"unrealized_pnl"`
	RealizedPnL      decimal.Decimal      `json:"realized_pnl"`
	StopLossPrice    *decimal.Decimal     `json:"stop_loss_price,omitempty"`
	TakeProfitPrice  *decimal.Decimal     `json:"take_profit_price,omitempty"`
	LiquidationPrice *decimal.Decimal     `json:"liquidation_price,omitempty"`
	Status           types.PositionStatus `json:"status"`
	CloseReason      string               `json:"close_reason,omitempty"`
	OpenedAt         time.Time            `json:"opened_at"`
	ClosedAt         *time.Time           `json:"closed_at,omitempty"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

type Market struct {
	ID                int64           `json:"id"`
	Symbol            string          `json:"symbol"`
	DisplayName       string          `json:"display_name"`
	BaseCurrency      string          `json:"base_currency"`
	QuoteCurrency     string          `json:"quote_currency"`
	CurrentPrice      decimal.Decimal `json:"current_price"`
	PriceChange24h    decimal.Decimal `json:"price_change_24h"`
	PriceChangePct24h decimal.Decimal `json:"price_change_percentage_24h"`
	High24h           decimal.Decimal `json:"high_24h"`
	Low24h            decimal.Decimal `json:"low_24h"`
	Volume24h         decimal.Decimal `json:"volume_24h"`
	MinOrderAmount    decimal.Decimal `json:"min_order_amount"`
	MaxOrderAmount    decimal.Decimal `json:"max_order_amount"`
	PricePrecision    int32           `json:"price_precision"`
	QuantityPrecision int32           `json:"quantity_precision"`
	IsActive          bool            `json:"is_active"`
	IsTradingEnabled  bool            `json:"is_trading_enabled"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type WalletTransaction struct {
	ID              int64                `json:"-"`
	TransactionID   string               `json:"transaction_id"`
	UserID          string               `json:"user_id"`
	Type            types.WalletTxType   `json:"type"`
	Currency        string               `json:"currency"`
	Amount          decimal.Decimal      `json:"amount"`
	FeeAmount       decimal.Decimal      `json:"fee_amount"`
	Status          types.WalletTxStatus `json:"status"`
	WalletAddress   string               `json:"wallet_address,omitempty"`
	TransactionHash string               `json:"transaction_hash,omitempty"`
	Network         string               `json:"network,omitempty"`
	CancelReason    string               `json:"cancel_reason,omitempty"`
	RequestedAt     time.Time            `json:"requested_at"`
	ApprovedAt      *time.Time           `json:"approved_at,omitempty"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty"`
	CancelledAt     *time.Time           `json:"cancelled_at,omitempty"`
}

type Announcement struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	Type        string     `json:"type"`
	IsActive    bool       `json:"is_active"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Promo struct {
	ID              int64             `json:"id"`
	UserID          string            `json:"user_id"`
	Currency        string            `json:"currency"`
	Amount          decimal.Decimal   `json:"amount"`
	RedeemedAmount  decimal.Decimal   `json:"redeemed_amount"`
	RemainingAmount decimal.Decimal   `json:"remaining_amount"`
	Status          types.PromoStatus `json:"status"`
	Note            string            `json:"note,omitempty"`
	ActivatedAt     *time.Time        `json:"activated_at,omitempty"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	RedeemedAt      *time.Time        `json:"redeemed_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}
