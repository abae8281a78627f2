// Package matching implements the Matching Engine (spec §4.5): a
// per-symbol single-writer state machine that consumes Submit and Cancel
// commands, mutates the Order Book, Order Store, Trade Store, and Balance
// Store atomically, and emits events through the Event Publisher.
//
// Grounded on the venue's legacy internal/core/matching package for the
// book/loop shape and on manangoyal18-GOLANG-ORDER-MATCHING-SYSTEM's
// internal/engine.Matcher for the crossing-loop control flow, generalized
// to exact decimal arithmetic and persistence-backed state per spec §9.
package matching

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/kairostrade/matchingcore/internal/apperrors"
	"github.com/kairostrade/matchingcore/internal/balance"
	"github.com/kairostrade/matchingcore/internal/events"
	"github.com/kairostrade/matchingcore/internal/orderbook"
	"github.com/kairostrade/matchingcore/internal/orderstore"
	"github.com/kairostrade/matchingcore/internal/symbolreg"
	"github.com/kairostrade/matchingcore/internal/tradestore"
	"github.com/kairostrade/matchingcore/internal/types"
)

// Engine owns one symbolEngine per registered symbol, per spec §5's
// partitioning model.
type Engine struct {
	registry  *symbolreg.Registry
	balances  *balance.Store
	orders    *orderstore.Store
	trades    *tradestore.Store
	publisher *events.Publisher
	cfg       Config
	logger    *zap.Logger

	mu      sync.RWMutex
	symbols map[string]*symbolEngine

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

// New creates an Engine. Call Start to hydrate and launch every registered
// symbol's worker before accepting commands.
func New(registry *symbolreg.Registry, balances *balance.Store, orders *orderstore.Store, trades *tradestore.Store, publisher *events.Publisher, cfg Config, logger *zap.Logger) *Engine {
	return &Engine{
		registry:  registry,
		balances:  balances,
		orders:    orders,
		trades:    trades,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		symbols:   make(map[string]*symbolEngine),
	}
}

// Start hydrates each registered symbol's book from the Order Store under
// a global read barrier, then launches its worker goroutine, per spec §5.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.runCtx, e.runCancel = context.WithCancel(context.Background())

	for _, symbol := range e.registry.Symbols() {
		pair, err := e.registry.Decompose(symbol)
		if err != nil {
			return err
		}
		se := newSymbolEngine(pair, e.balances, e.orders, e.trades, e.publisher, e.cfg, e.logger)
		if err := se.hydrate(ctx); err != nil {
			return err
		}
		e.symbols[symbol] = se

		e.wg.Add(1)
		go func(worker *symbolEngine) {
			defer e.wg.Done()
			worker.run(e.runCtx)
		}(se)
	}
	return nil
}

// Shutdown cancels every worker's run loop. Workers finish their
// in-flight command, drain their queue with Busy replies, and return, per
// spec §5.
func (e *Engine) Shutdown() {
	e.mu.RLock()
	cancel := e.runCancel
	e.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
}

func (e *Engine) symbolEngineFor(symbol string) (*symbolEngine, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	se, ok := e.symbols[symbol]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrValidation, "symbol %q is not registered", symbol)
	}
	return se, nil
}

// Submit enqueues a Submit Order command for its symbol and blocks for the
// result. Returns Busy immediately if that symbol's queue is full.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (types.Order, error) {
	se, err := e.symbolEngineFor(req.Symbol)
	if err != nil {
		return types.Order{}, err
	}

	reply := make(chan submitReply, 1)
	select {
	case se.queue <- submitEnvelope{req: req, reply: reply}:
	default:
		return types.Order{}, apperrors.Newf(apperrors.ErrBusy, "symbol %q command queue is full", req.Symbol)
	}

	select {
	case r := <-reply:
		return r.order, r.err
	case <-ctx.Done():
		return types.Order{}, ctx.Err()
	}
}

// Cancel enqueues a Cancel Order command for its symbol and blocks for the
// result.
func (e *Engine) Cancel(ctx context.Context, symbol string, req CancelRequest) (CancelResult, error) {
	se, err := e.symbolEngineFor(symbol)
	if err != nil {
		return CancelResult{}, err
	}

	reply := make(chan cancelReply, 1)
	select {
	case se.queue <- cancelEnvelope{req: req, reply: reply}:
	default:
		return CancelResult{}, apperrors.Newf(apperrors.ErrBusy, "symbol %q command queue is full", symbol)
	}

	select {
	case r := <-reply:
		return r.result, r.err
	case <-ctx.Done():
		return CancelResult{}, ctx.Err()
	}
}

// ResyncSnapshot is the recovery payload named in spec §9: open orders and
// top-of-book depth for a symbol, for a subscriber that may have missed a
// published event during a publication failure.
type ResyncSnapshot struct {
	Symbol     string
	OpenOrders []types.Order
	Bids       []orderbook.Level
	Asks       []orderbook.Level
}

// Resync builds a ResyncSnapshot for symbol from its current book and the
// Order Store, bypassing the command queue — this is a read-only recovery
// path, not a matching command.
func (e *Engine) Resync(ctx context.Context, symbol string) (ResyncSnapshot, error) {
	se, err := e.symbolEngineFor(symbol)
	if err != nil {
		return ResyncSnapshot{}, err
	}
	open, err := e.orders.OpenBySymbol(ctx, symbol, 0)
	if err != nil {
		return ResyncSnapshot{}, err
	}
	bids, asks := se.book.AggregateDepth(0)
	return ResyncSnapshot{Symbol: symbol, OpenOrders: open, Bids: bids, Asks: asks}, nil
}

// Stats returns a point-in-time snapshot for every registered symbol.
func (e *Engine) Stats() []Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Stats, 0, len(e.symbols))
	for _, se := range e.symbols {
		out = append(out, se.snapshotStats())
	}
	return out
}
