package types

import "github.com/shopspring/decimal"

// Balance is the per (user, asset) ledger entry, per spec §3/§4.1.
type Balance struct {
	UserID string
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Total returns free + locked.
func (b Balance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// TransactionStatus is the lifecycle of a deposit/withdrawal.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionCompleted TransactionStatus = "COMPLETED"
	TransactionFailed    TransactionStatus = "FAILED"
	TransactionCancelled TransactionStatus = "CANCELLED"
)

// TransactionKind distinguishes deposits from withdrawals.
type TransactionKind string

const (
	TransactionDeposit    TransactionKind = "DEPOSIT"
	TransactionWithdrawal TransactionKind = "WITHDRAWAL"
)

// Transaction is an external deposit/withdrawal record, per spec §3.
type Transaction struct {
	ID      string
	UserID  string
	Asset   string
	Kind    TransactionKind
	Amount  decimal.Decimal
	Address string
	Status  TransactionStatus
}
