package matching

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kairostrade/matchingcore/internal/apperrors"
	"github.com/kairostrade/matchingcore/internal/balance"
	"github.com/kairostrade/matchingcore/internal/events"
	"github.com/kairostrade/matchingcore/internal/money"
	"github.com/kairostrade/matchingcore/internal/orderbook"
	"github.com/kairostrade/matchingcore/internal/types"
)

func validateSubmit(req SubmitRequest) error {
	if !money.Positive(req.Quantity) {
		return apperrors.New(apperrors.ErrValidation, "quantity must be > 0")
	}
	if req.Type == types.OrderTypeLimit || req.Type == types.OrderTypeStopLimit {
		if !money.Positive(req.Price) {
			return apperrors.New(apperrors.ErrValidation, "price must be > 0 for a limit order")
		}
	}
	if req.Side != types.SideBuy && req.Side != types.SideSell {
		return apperrors.Newf(apperrors.ErrValidation, "invalid side %q", req.Side)
	}
	switch req.TimeInForce {
	case types.TIFGTC, types.TIFIOC, types.TIFFOK, "":
	default:
		return apperrors.Newf(apperrors.ErrValidation, "invalid time in force %q", req.TimeInForce)
	}
	return nil
}

// handleSubmit implements the Submit Order command, spec §4.5.
func (se *symbolEngine) handleSubmit(ctx context.Context, req SubmitRequest) (types.Order, error) {
	if err := validateSubmit(req); err != nil {
		return types.Order{}, err
	}
	if req.TimeInForce == "" {
		req.TimeInForce = types.TIFGTC
	}

	now := time.Now()
	order := types.Order{
		ID:            se.newOrderID(),
		UserID:        req.UserID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		Quantity:      req.Quantity,
		IcebergQty:    req.IcebergQty,
		TimeInForce:   req.TimeInForce,
		Status:        types.OrderStatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// FOK must be rejected outright, with no lock taken and no book
	// mutation, when the book cannot fill it in full right now.
	if req.TimeInForce == types.TIFFOK {
		if !se.canFillCompletely(order) {
			return se.reject(ctx, order, "fok order cannot be filled completely")
		}
	}

	lockAsset, lockAmount, err := se.lockRequirement(order)
	if err != nil {
		return se.reject(ctx, order, err.Error())
	}

	lockCtx, cancel := se.withTimeout(ctx)
	err = se.balances.Lock(lockCtx, order.UserID, lockAsset, lockAmount)
	timedOut := lockCtx.Err() == context.DeadlineExceeded
	cancel()
	if timedOut {
		return types.Order{}, apperrors.New(apperrors.ErrTimedOut, "balance lock timed out")
	}
	if apperrors.Is(err, apperrors.ErrInsufficientFunds) {
		return se.reject(ctx, order, err.Error())
	}
	if err != nil {
		return types.Order{}, err
	}

	if err := se.orders.Insert(ctx, &order); err != nil {
		return types.Order{}, err
	}
	se.recordAccepted()
	se.book.Insert(&order)
	se.publishOrder(order)

	lockState := &lockTracker{asset: lockAsset, locked: lockAmount}
	if err := se.runMatchLoop(ctx, &order, lockState); err != nil {
		return order, err
	}

	// MARKET orders never rest, regardless of time-in-force; IOC/FOK cancel
	// any residual the same way. GTC limit orders with remainder simply
	// keep resting in the book.
	residualCancels := order.Type == types.OrderTypeMarket || req.TimeInForce == types.TIFIOC || req.TimeInForce == types.TIFFOK
	if residualCancels && order.Remaining().IsPositive() {
		se.book.Remove(order.ID)
		se.releaseLock(ctx, order.UserID, lockState)
		order.Status = types.OrderStatusCancelled
		closedAt := time.Now()
		order.ClosedAt = &closedAt
		order.UpdatedAt = closedAt
		if _, _, err := se.orders.MarkCancelled(ctx, order.ID, order.UserID); err != nil {
			se.logger.Error("failed to mark residual cancelled", zap.Error(err), zap.String("order_id", order.ID))
		}
		se.publishOrder(order)
	}

	if order.Status != types.OrderStatusCancelled && lockState.asset == se.pair.Quote && lockState.locked.IsPositive() && order.Remaining().IsZero() {
		// A fully filled BUY may still owe a price-improvement refund if
		// the final maker prices were all below the order's own limit
		// (or, for MARKET, below the slippage cap used to size the lock).
		se.releaseLock(ctx, order.UserID, lockState)
	}

	return order, nil
}

func (se *symbolEngine) reject(ctx context.Context, order types.Order, reason string) (types.Order, error) {
	se.recordRejected()
	if err := se.orders.MarkRejected(ctx, &order, reason); err != nil {
		se.logger.Error("failed to persist rejected order", zap.Error(err), zap.String("order_id", order.ID))
		return types.Order{}, err
	}
	se.publishOrder(order)
	return order, nil
}

type lockTracker struct {
	asset  string
	locked decimal.Decimal // remaining locked amount not yet consumed or refunded
}

// releaseLock unlocks whatever remains of a tracker's balance and zeroes
// it, so it is safe to call more than once.
func (se *symbolEngine) releaseLock(ctx context.Context, userID string, lock *lockTracker) {
	if !lock.locked.IsPositive() {
		return
	}
	amount := lock.locked
	lock.locked = decimal.Zero
	if err := se.balances.Unlock(ctx, userID, lock.asset, amount); err != nil {
		se.logger.Error("failed to release lock", zap.Error(err), zap.String("user_id", userID), zap.String("asset", lock.asset))
	}
}

// lockRequirement computes the asset and amount Submit Order must lock
// before resting or matching an order, per spec §4.5/§9.
func (se *symbolEngine) lockRequirement(o types.Order) (asset string, amount decimal.Decimal, err error) {
	if o.Side == types.SideSell {
		return se.pair.Base, o.Quantity, nil
	}
	if o.Type == types.OrderTypeMarket {
		bestAsk := se.book.BestAsk()
		if bestAsk.IsZero() {
			return "", decimal.Zero, apperrors.New(apperrors.ErrValidation, "no resting liquidity to price a market buy")
		}
		slippageCeiling := money.Mul(bestAsk, se.cfg.MarketBuySlippageCap)
		return se.pair.Quote, money.Mul(slippageCeiling, o.Quantity), nil
	}
	return se.pair.Quote, money.Mul(o.Price, o.Quantity), nil
}

// canFillCompletely reports whether the book currently holds enough
// opposite-side liquidity, at acceptable prices, to fill order in full —
// the pre-check required for FOK, per spec §4.5.
func (se *symbolEngine) canFillCompletely(o types.Order) bool {
	opposite := o.Side.Opposite()
	bids, asks := se.book.AggregateDepth(0)
	levels := asks
	if opposite == types.SideBuy {
		levels = bids
	}

	available := decimal.Zero
	for _, lvl := range levels {
		if o.Type != types.OrderTypeMarket {
			if o.Side == types.SideBuy && lvl.Price.GreaterThan(o.Price) {
				break
			}
			if o.Side == types.SideSell && lvl.Price.LessThan(o.Price) {
				break
			}
		}
		available = available.Add(lvl.Quantity)
		if available.GreaterThanOrEqual(o.Quantity) {
			return true
		}
	}
	return false
}

// runMatchLoop repeatedly crosses incoming against the opposite side's top
// of book until incoming is filled, the book no longer crosses it, or (for
// MARKET orders) liquidity is exhausted; a MARKET BUY also stops at the
// first ask above its slippage ceiling. Per spec §4.5.
func (se *symbolEngine) runMatchLoop(ctx context.Context, incoming *types.Order, lock *lockTracker) error {
	opposite := incoming.Side.Opposite()

	// Same ceiling lockRequirement sized the MARKET BUY lock from: the book
	// has not changed on the ask side since then.
	var marketCeiling decimal.Decimal
	if incoming.Type == types.OrderTypeMarket && incoming.Side == types.SideBuy {
		marketCeiling = money.Mul(se.book.BestAsk(), se.cfg.MarketBuySlippageCap)
	}

	for incoming.Remaining().IsPositive() {
		maker := se.book.PeekTop(opposite)
		if maker == nil {
			break
		}
		if !se.crosses(incoming, maker) {
			break
		}
		if marketCeiling.IsPositive() && maker.Price.GreaterThan(marketCeiling) {
			break
		}

		qty := decimal.Min(incoming.Remaining(), maker.Remaining())
		tradePrice := maker.Price

		if err := se.executeFill(ctx, incoming, maker, qty, tradePrice, lock); err != nil {
			return err
		}

		if maker.Remaining().IsZero() {
			se.book.Remove(maker.ID)
		}
		if incoming.Remaining().IsZero() {
			se.book.Remove(incoming.ID)
		}
	}
	return nil
}

// crosses reports whether incoming can trade against maker (the resting
// top of the opposite side) right now.
func (se *symbolEngine) crosses(incoming, maker *types.Order) bool {
	if incoming.Type == types.OrderTypeMarket {
		return true
	}
	if incoming.Side == types.SideBuy {
		return incoming.Price.GreaterThanOrEqual(maker.Price)
	}
	return incoming.Price.LessThanOrEqual(maker.Price)
}

// executeFill runs one iteration of the matching loop: settle funds, persist
// the fill on both orders, record the trade, and emit events. incoming is
// always the taker; maker is always the resting order, per spec §9.
func (se *symbolEngine) executeFill(ctx context.Context, incoming, maker *types.Order, qty, tradePrice decimal.Decimal, lock *lockTracker) error {
	var buyer, seller *types.Order
	if incoming.Side == types.SideBuy {
		buyer, seller = incoming, maker
	} else {
		buyer, seller = maker, incoming
	}

	quoteAmount := money.Mul(tradePrice, qty)
	buyerFee := money.RoundCommission(qty.Mul(se.cfg.CommissionRate), se.cfg.CommissionIncrementExponent)
	sellerFee := money.RoundCommission(quoteAmount.Mul(se.cfg.CommissionRate), se.cfg.CommissionIncrementExponent)

	err := se.balances.Settle(ctx, balance.SettleParams{
		Buyer:      buyer.UserID,
		Seller:     seller.UserID,
		Base:       se.pair.Base,
		Quote:      se.pair.Quote,
		Quantity:   qty,
		Price:      tradePrice,
		BuyerFee:   buyerFee,
		SellerFee:  sellerFee,
		FeeAccount: se.cfg.FeeAccount,
	})
	if apperrors.Is(err, apperrors.ErrInvariantViolation) {
		se.halt(err)
		return err
	}
	if err != nil {
		return err
	}

	// A BUY taker's lock was sized off its own limit price (or, for
	// MARKET, a slippage ceiling); whenever the maker's price is better,
	// the difference must be released immediately so it doesn't sit
	// stranded in locked funds for however long the rest of the order
	// takes to fill or cancel, per spec §9.
	switch {
	case incoming.Side == types.SideBuy && incoming.Type != types.OrderTypeMarket:
		improvement := incoming.Price.Sub(tradePrice).Mul(qty)
		consumed := quoteAmount.Add(improvement)
		lock.locked = lock.locked.Sub(consumed)
		if improvement.IsPositive() {
			if err := se.balances.Unlock(ctx, incoming.UserID, se.pair.Quote, improvement); err != nil {
				se.logger.Error("failed to release price-improvement refund", zap.Error(err), zap.String("order_id", incoming.ID))
			}
		}
	case incoming.Side == types.SideBuy: // MARKET: refunded once, at command end
		lock.locked = lock.locked.Sub(quoteAmount)
	case incoming.Side == types.SideSell:
		lock.locked = lock.locked.Sub(qty)
	}

	incoming.FilledQuantity = incoming.FilledQuantity.Add(qty)
	maker.FilledQuantity = maker.FilledQuantity.Add(qty)

	if _, err := se.orders.UpdateFill(ctx, incoming.ID, incoming.FilledQuantity); err != nil {
		se.logger.Error("failed to persist incoming fill", zap.Error(err), zap.String("order_id", incoming.ID))
	}
	if _, err := se.orders.UpdateFill(ctx, maker.ID, maker.FilledQuantity); err != nil {
		se.logger.Error("failed to persist maker fill", zap.Error(err), zap.String("order_id", maker.ID))
	}

	incoming.Status = statusFor(incoming)
	maker.Status = statusFor(maker)
	now := time.Now()
	incoming.UpdatedAt = now
	maker.UpdatedAt = now
	if incoming.Status == types.OrderStatusFilled {
		closedAt := now
		incoming.ClosedAt = &closedAt
	}
	if maker.Status == types.OrderStatusFilled {
		closedAt := now
		maker.ClosedAt = &closedAt
	}

	trade := types.Trade{
		ID:               se.newTradeID(),
		Symbol:           se.symbol,
		RestingOrderID:   maker.ID,
		AggressorOrderID: incoming.ID,
		BuyerUserID:      buyer.UserID,
		SellerUserID:     seller.UserID,
		Price:            tradePrice,
		Quantity:         qty,
		BuyerCommission:  buyerFee,
		SellerCommission: sellerFee,
		BuyerCommissionAsset:  se.pair.Base,
		SellerCommissionAsset: se.pair.Quote,
		IsMaker:          true,
		CreatedAt:        now,
	}
	if err := se.trades.Insert(ctx, &trade); err != nil {
		se.logger.Error("failed to persist trade", zap.Error(err), zap.String("trade_id", trade.ID))
	}
	se.recordTrade()

	se.publishOrder(*incoming)
	se.publishOrder(*maker)
	se.publisher.Publish(events.ChannelTrade, se.symbol, trade)
	se.publishDepth()
	return nil
}

func statusFor(o *types.Order) types.OrderStatus {
	if o.Remaining().IsZero() {
		return types.OrderStatusFilled
	}
	if o.FilledQuantity.IsPositive() {
		return types.OrderStatusPartiallyFilled
	}
	return o.Status
}

func (se *symbolEngine) publishOrder(o types.Order) {
	se.publisher.Publish(events.ChannelOrder, se.symbol, o)
}

func (se *symbolEngine) publishDepth() {
	bids, asks := se.book.AggregateDepth(50)
	se.publisher.Publish(events.ChannelDepth, se.symbol, depthSnapshot{Bids: toDepthLevels(bids), Asks: toDepthLevels(asks)})
}

type depthSnapshot struct {
	Bids []depthLevel `json:"bids"`
	Asks []depthLevel `json:"asks"`
}

type depthLevel struct {
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	Orders   int    `json:"orders"`
}

func toDepthLevels(levels []orderbook.Level) []depthLevel {
	out := make([]depthLevel, len(levels))
	for i, lvl := range levels {
		out[i] = depthLevel{Price: lvl.Price.String(), Quantity: lvl.Quantity.String(), Orders: lvl.Orders}
	}
	return out
}

// handleCancel implements the Cancel Order command, spec §4.5.
func (se *symbolEngine) handleCancel(ctx context.Context, req CancelRequest) (CancelResult, error) {
	order := se.book.Get(req.OrderID)
	var remaining decimal.Decimal
	var side types.Side
	var userID string
	if order != nil {
		remaining = order.Remaining()
		side = order.Side
		userID = order.UserID
		if userID != req.UserID {
			return CancelResult{}, apperrors.New(apperrors.ErrNotCancellable, "order does not belong to user")
		}
	}

	result, alreadyTerminal, err := se.orders.MarkCancelled(ctx, req.OrderID, req.UserID)
	if err != nil {
		return CancelResult{}, err
	}
	if alreadyTerminal {
		return CancelResult{Order: result, AlreadyTerminal: true}, nil
	}

	se.book.Remove(req.OrderID)

	asset := se.pair.Base
	unlockAmount := remaining
	if side == types.SideBuy {
		asset = se.pair.Quote
		unlockAmount = money.Mul(result.Price, remaining)
	}
	if unlockAmount.IsPositive() {
		if err := se.balances.Unlock(ctx, req.UserID, asset, unlockAmount); err != nil {
			se.logger.Error("failed to unlock on cancel", zap.Error(err), zap.String("order_id", req.OrderID))
		}
	}

	se.publishOrder(result)
	return CancelResult{Order: result}, nil
}
