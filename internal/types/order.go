// Package types holds the domain entities shared by every core component:
// orders, trades, balances, and transactions, per spec §3.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the side of an order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType is the kind of order.
type OrderType string

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStop       OrderType = "STOP"
	OrderTypeStopLimit  OrderType = "STOP_LIMIT"
)

// TimeInForce governs how an order's unfilled residual is handled.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusOpen             OrderStatus = "OPEN"
	OrderStatusPartiallyFilled  OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled           OrderStatus = "FILLED"
	OrderStatusCancelled        OrderStatus = "CANCELLED"
	OrderStatusRejected         OrderStatus = "REJECTED"
	OrderStatusExpired          OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the status is one of the immutable terminal
// states named in spec §3.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// IsOpenForMatching reports whether the status belongs in the order book.
func (s OrderStatus) IsOpenForMatching() bool {
	return s == OrderStatusOpen || s == OrderStatusPartiallyFilled
}

// Order is a single order as defined in spec §3.
type Order struct {
	ID              string
	UserID          string
	ClientOrderID   string
	Symbol          string
	Side            Side
	Type            OrderType
	Price           decimal.Decimal // zero for MARKET
	StopPrice       decimal.Decimal // zero when unused
	Quantity        decimal.Decimal
	FilledQuantity  decimal.Decimal
	Status          OrderStatus
	RejectReason    string
	TimeInForce     TimeInForce
	IcebergQty      decimal.Decimal // zero when unused
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ClosedAt        *time.Time
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// DisplayQuantity returns the quantity visible to the book: the iceberg
// display size when one is configured and smaller than the remainder,
// otherwise the full remainder.
func (o *Order) DisplayQuantity() decimal.Decimal {
	remaining := o.Remaining()
	if o.IcebergQty.IsPositive() && o.IcebergQty.LessThan(remaining) {
		return o.IcebergQty
	}
	return remaining
}

// Validate checks the invariants from spec §3 that must hold for any
// order value handed between components.
func (o *Order) Validate() error {
	if o.FilledQuantity.IsNegative() {
		return errInvalid("filled quantity must be >= 0")
	}
	if o.FilledQuantity.GreaterThan(o.Quantity) {
		return errInvalid("filled quantity must be <= quantity")
	}
	if o.Status == OrderStatusFilled && !o.FilledQuantity.Equal(o.Quantity) {
		return errInvalid("status FILLED requires filled == quantity")
	}
	if o.Status == OrderStatusPartiallyFilled {
		if !o.FilledQuantity.IsPositive() || !o.FilledQuantity.LessThan(o.Quantity) {
			return errInvalid("status PARTIALLY_FILLED requires 0 < filled < quantity")
		}
	}
	if o.Status.IsTerminal() && o.ClosedAt == nil {
		return errInvalid("terminal status requires closed_at")
	}
	if !o.Status.IsTerminal() && o.ClosedAt != nil {
		return errInvalid("non-terminal status must not set closed_at")
	}
	return nil
}
