package matching

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config governs the per-symbol engine's resource limits and commission
// policy, per spec §4.5/§5.
type Config struct {
	// CommissionRate is charged on the asset received by each side of a
	// trade; default 0.1%, per spec §4.5.
	CommissionRate decimal.Decimal
	// CommissionIncrementExponent is the asset's minimum increment,
	// expressed as a negative power of ten, used for half-to-even
	// commission rounding (e.g. -8 rounds to 1e-8).
	CommissionIncrementExponent int32
	// FeeAccount receives every commission leg.
	FeeAccount string
	// MarketBuySlippageCap bounds how far above the best ask a MARKET BUY
	// will pre-lock quote funds and walk the book, per spec §9's open
	// question. 1.05 means 5% above the best ask at acceptance time.
	MarketBuySlippageCap decimal.Decimal
	// QueueCapacity bounds each symbol's command queue; Submit/Cancel
	// return Busy once it is full, per spec §5.
	QueueCapacity int
	// CommandTimeout bounds how long a single command may wait on the
	// Balance Store before aborting with TimedOut, per spec §5.
	CommandTimeout time.Duration
}

// DefaultConfig returns the configuration spec §4.5/§5 names as defaults.
func DefaultConfig() Config {
	return Config{
		CommissionRate:              decimal.NewFromFloat(0.001),
		CommissionIncrementExponent: -8,
		FeeAccount:                  "fee_account",
		MarketBuySlippageCap:        decimal.NewFromFloat(1.05),
		QueueCapacity:                10000,
		CommandTimeout:               2 * time.Second,
	}
}
