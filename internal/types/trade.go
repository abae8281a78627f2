package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an immutable executed fill, per spec §3.
type Trade struct {
	ID             string
	Symbol         string
	RestingOrderID string
	AggressorOrderID string
	BuyerUserID    string
	SellerUserID   string
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	BuyerCommission  decimal.Decimal // charged on the base asset received
	SellerCommission decimal.Decimal // charged on the quote asset received
	BuyerCommissionAsset  string
	SellerCommissionAsset string
	IsMaker        bool // true on the resting side's record, per spec §9
	CreatedAt      time.Time
}
