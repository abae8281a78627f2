package dbmodels

import "github.com/shopspring/decimal"

// AccountBalance is the persisted row for a (user, asset) ledger entry,
// per spec §3/§4.1/§6. The unique (user_id, asset) constraint is what the
// Balance Store's row-level locking keys off of.
type AccountBalance struct {
	UserID string `gorm:"primaryKey;type:varchar(36);uniqueIndex:idx_balances_user_asset"`
	Asset  string `gorm:"primaryKey;type:varchar(20);uniqueIndex:idx_balances_user_asset"`
	Free   decimal.Decimal `gorm:"type:decimal(36,10)"`
	Locked decimal.Decimal `gorm:"type:decimal(36,10)"`
}

func (AccountBalance) TableName() string { return "account_balances" }

// AccountTransaction is the persisted row for a deposit/withdrawal, per
// spec §3. Only completed transactions may change a user's free+locked
// total outside of matching.
type AccountTransaction struct {
	ID      string `gorm:"primaryKey;type:varchar(36)"`
	UserID  string `gorm:"type:varchar(36);index:idx_tx_user"`
	Asset   string `gorm:"type:varchar(20)"`
	Kind    string `gorm:"type:varchar(12)"`
	Amount  decimal.Decimal `gorm:"type:decimal(36,10)"`
	Address string `gorm:"type:varchar(128)"`
	Status  string `gorm:"type:varchar(12);index"`
}

func (AccountTransaction) TableName() string { return "account_transactions" }
