package types

type OrderSide string

type OrderType string

type OrderStatus string

type TimeInForce string

type PositionSide string

type PositionStatus string

type AllocationKind string

type WalletTxType string

type WalletTxStatus string

type PromoStatus string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

const (
	PositionStatusOpen       PositionStatus = "open"
	PositionStatusClosed     PositionStatus = "closed"
	PositionStatusLiquidated PositionStatus = "liquidated"
)

const (
	AllocationKindOrderReserve AllocationKind = "order_reserve"
	AllocationKindMarginUsed   AllocationKind = "margin_used"
)

const (
	WalletTxTypeDeposit    WalletTxType = "deposit"
	WalletTxTypeWithdrawal WalletTxType = "withdrawal"
)

const (
	WalletTxStatusPending   WalletTxStatus = "pending"
	WalletTxStatusApproved  WalletTxStatus = "approved"
	WalletTxStatusCompleted WalletTxStatus = "completed"
	WalletTxStatusCancelled WalletTxStatus = "cancelled"
)

const (
	PromoStatusPending   PromoStatus = "pending"
	PromoStatusActive    PromoStatus = "active"
	PromoStatusRedeemed  PromoStatus = "redeemed"
	PromoStatusCancelled PromoStatus = "cancelled"
	PromoStatusExpired   PromoStatus = "expired"
)

func (s OrderStatus) Open() bool {
	return s == OrderStatusPending || s == OrderStatusPartiallyFilled
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusRejected
}
