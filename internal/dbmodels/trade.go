package dbmodels

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is the persisted row for a single executed fill, per spec §3.
// Trades are append-only: nothing in this package updates an existing row.
type Trade struct {
	ID               string `gorm:"primaryKey;type:varchar(36)"`
	RestingOrderID   string `gorm:"type:varchar(36);index:idx_trades_resting_order"`
	AggressorOrderID string `gorm:"type:varchar(36);index:idx_trades_aggressor_order"`
	BuyerUserID      string `gorm:"type:varchar(36);index:idx_trades_buyer"`
	SellerUserID     string `gorm:"type:varchar(36);index:idx_trades_seller"`
	Symbol           string `gorm:"type:varchar(20);index:idx_trades_symbol"`
	Price            decimal.Decimal `gorm:"type:decimal(36,10)"`
	Quantity         decimal.Decimal `gorm:"type:decimal(36,10)"`
	BuyerCommission  decimal.Decimal `gorm:"type:decimal(36,10)"`
	SellerCommission decimal.Decimal `gorm:"type:decimal(36,10)"`
	BuyerCommissionAsset  string `gorm:"type:varchar(20)"`
	SellerCommissionAsset string `gorm:"type:varchar(20)"`
	IsMaker          bool
	CreatedAt        time.Time `gorm:"index"`
}

func (Trade) TableName() string { return "trades" }
