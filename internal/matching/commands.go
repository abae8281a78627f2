package matching

import (
	"github.com/shopspring/decimal"

	"github.com/kairostrade/matchingcore/internal/types"
)

// SubmitRequest is the input to Engine.Submit, mirroring the Submit command
// fields in spec §6.
type SubmitRequest struct {
	UserID        string
	Symbol        string
	Side          types.Side
	Type          types.OrderType
	Quantity      decimal.Decimal
	Price         decimal.Decimal // required for LIMIT/STOP_LIMIT
	StopPrice     decimal.Decimal
	TimeInForce   types.TimeInForce
	ClientOrderID string
	IcebergQty    decimal.Decimal
}

// CancelRequest is the input to Engine.Cancel.
type CancelRequest struct {
	UserID  string
	OrderID string
}

// CancelResult reports the outcome of a cancel command. AlreadyTerminal
// distinguishes the idempotent no-op case from a freshly cancelled order,
// per spec §5/§7.
type CancelResult struct {
	Order           types.Order
	AlreadyTerminal bool
}

// submitEnvelope and cancelEnvelope carry a command plus its reply channel
// through a symbol's single-writer queue.
type submitEnvelope struct {
	req   SubmitRequest
	reply chan submitReply
}

type submitReply struct {
	order types.Order
	err   error
}

type cancelEnvelope struct {
	req   CancelRequest
	reply chan cancelReply
}

type cancelReply struct {
	result CancelResult
	err    error
}
