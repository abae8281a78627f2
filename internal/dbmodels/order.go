// Package dbmodels holds the GORM persistence models backing the Order
// Store, Trade Store, Balance Store, and transaction ledger, adapted from
// the venue's legacy internal/db/models package.
package dbmodels

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is the persisted row for a single order, per spec §3/§6.
type Order struct {
	ID             string `gorm:"primaryKey;type:varchar(36)"`
	UserID         string `gorm:"type:varchar(36);index:idx_orders_user;uniqueIndex:idx_orders_user_cloid"`
	ClientOrderID  string `gorm:"type:varchar(64);uniqueIndex:idx_orders_user_cloid,where:client_order_id <> ''"`
	Symbol         string `gorm:"type:varchar(20);index:idx_orders_symbol_status"`
	Side           string `gorm:"type:varchar(4)"`
	Type           string `gorm:"type:varchar(12)"`
	Price          decimal.Decimal `gorm:"type:decimal(36,10)"`
	StopPrice      decimal.Decimal `gorm:"type:decimal(36,10)"`
	Quantity       decimal.Decimal `gorm:"type:decimal(36,10)"`
	FilledQuantity decimal.Decimal `gorm:"type:decimal(36,10)"`
	IcebergQty     decimal.Decimal `gorm:"type:decimal(36,10)"`
	Status         string `gorm:"type:varchar(20);index:idx_orders_symbol_status"`
	RejectReason   string `gorm:"type:varchar(255)"`
	TimeInForce    string `gorm:"type:varchar(4)"`
	CreatedAt      time.Time `gorm:"index"`
	UpdatedAt      time.Time
	ClosedAt       *time.Time
}

// TableName pins the table name explicitly rather than relying on GORM's
// pluralization, matching the convention in the legacy models package.
func (Order) TableName() string { return "orders" }
