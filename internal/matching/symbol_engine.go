package matching

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kairostrade/matchingcore/internal/apperrors"
	"github.com/kairostrade/matchingcore/internal/balance"
	"github.com/kairostrade/matchingcore/internal/events"
	"github.com/kairostrade/matchingcore/internal/orderbook"
	"github.com/kairostrade/matchingcore/internal/orderstore"
	"github.com/kairostrade/matchingcore/internal/symbolreg"
	"github.com/kairostrade/matchingcore/internal/tradestore"
)

// symbolEngine is the single-writer worker for one symbol, per spec §4.5/§5.
// Every Submit and Cancel command for this symbol is processed sequentially
// by one goroutine; other symbols' engines run independently.
type symbolEngine struct {
	symbol string
	pair   symbolreg.Pair

	book      *orderbook.Book
	balances  *balance.Store
	orders    *orderstore.Store
	trades    *tradestore.Store
	publisher *events.Publisher
	cfg       Config
	logger    *zap.Logger

	queue chan interface{} // submitEnvelope | cancelEnvelope

	halted   atomic.Bool
	haltErr  error
	haltOnce sync.Once

	statsMu        sync.Mutex
	ordersAccepted uint64
	ordersRejected uint64
	tradesExecuted uint64
}

func newSymbolEngine(pair symbolreg.Pair, b *balance.Store, os *orderstore.Store, ts *tradestore.Store, pub *events.Publisher, cfg Config, logger *zap.Logger) *symbolEngine {
	return &symbolEngine{
		symbol:    pair.Symbol,
		pair:      pair,
		book:      orderbook.New(pair.Symbol, logger),
		balances:  b,
		orders:    os,
		trades:    ts,
		publisher: pub,
		cfg:       cfg,
		logger:    logger.With(zap.String("symbol", pair.Symbol)),
		queue:     make(chan interface{}, cfg.QueueCapacity),
	}
}

// hydrate rebuilds the book from persisted open orders, per spec §4.4's
// rebuild rule. Must run before run() starts accepting commands.
func (se *symbolEngine) hydrate(ctx context.Context) error {
	open, err := se.orders.OpenBySymbol(ctx, se.symbol, 0)
	if err != nil {
		return err
	}
	for i := range open {
		o := open[i]
		se.book.Insert(&o)
	}
	se.logger.Info("hydrated order book", zap.Int("resting_orders", len(open)))
	return nil
}

// run drains the command queue until ctx is cancelled. Each command is
// fully processed (including any persistence and balance-store calls)
// before the next is dequeued, per spec §5's suspension-point rule.
func (se *symbolEngine) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			se.drain()
			return
		case cmd := <-se.queue:
			se.process(ctx, cmd)
		}
	}
}

// drain replies Busy to every command still queued at shutdown, per
// spec §5's bounded-grace-period drain.
func (se *symbolEngine) drain() {
	for {
		select {
		case cmd := <-se.queue:
			busy := apperrors.New(apperrors.ErrBusy, "symbol engine is shutting down")
			switch c := cmd.(type) {
			case submitEnvelope:
				c.reply <- submitReply{err: busy}
			case cancelEnvelope:
				c.reply <- cancelReply{err: busy}
			}
		default:
			return
		}
	}
}

func (se *symbolEngine) process(ctx context.Context, cmd interface{}) {
	if se.halted.Load() {
		err := apperrors.Wrap(se.haltErr, apperrors.ErrInvariantViolation, "symbol engine halted, manual intervention required")
		switch c := cmd.(type) {
		case submitEnvelope:
			c.reply <- submitReply{err: err}
		case cancelEnvelope:
			c.reply <- cancelReply{err: err}
		}
		return
	}

	switch c := cmd.(type) {
	case submitEnvelope:
		order, err := se.handleSubmit(ctx, c.req)
		c.reply <- submitReply{order: order, err: err}
	case cancelEnvelope:
		result, err := se.handleCancel(ctx, c.req)
		c.reply <- cancelReply{result: result, err: err}
	}
}

// halt marks the symbol engine fatally stopped. Per spec §4.5/§7, this
// requires manual operator intervention; no further commands are processed.
func (se *symbolEngine) halt(cause error) {
	se.haltOnce.Do(func() {
		se.halted.Store(true)
		se.haltErr = cause
		se.logger.Error("halting symbol engine after invariant violation", zap.Error(cause))
	})
}

func (se *symbolEngine) newOrderID() string { return uuid.NewString() }
func (se *symbolEngine) newTradeID() string { return uuid.NewString() }

func (se *symbolEngine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, se.cfg.CommandTimeout)
}

func (se *symbolEngine) recordAccepted() {
	se.statsMu.Lock()
	se.ordersAccepted++
	se.statsMu.Unlock()
}

func (se *symbolEngine) recordRejected() {
	se.statsMu.Lock()
	se.ordersRejected++
	se.statsMu.Unlock()
}

func (se *symbolEngine) recordTrade() {
	se.statsMu.Lock()
	se.tradesExecuted++
	se.statsMu.Unlock()
}

// Stats is a point-in-time snapshot of a symbol engine's activity, modeled
// on the venue's legacy EngineStats/GetStats pattern.
type Stats struct {
	Symbol         string
	OrdersAccepted uint64
	OrdersRejected uint64
	TradesExecuted uint64
	QueueDepth     int
	BidDepth       int
	AskDepth       int
	Halted         bool
}

func (se *symbolEngine) snapshotStats() Stats {
	se.statsMu.Lock()
	accepted, rejected, executed := se.ordersAccepted, se.ordersRejected, se.tradesExecuted
	se.statsMu.Unlock()
	bidDepth, askDepth := se.book.Depth()
	return Stats{
		Symbol:         se.symbol,
		OrdersAccepted: accepted,
		OrdersRejected: rejected,
		TradesExecuted: executed,
		QueueDepth:     len(se.queue),
		BidDepth:       bidDepth,
		AskDepth:       askDepth,
		Halted:         se.halted.Load(),
	}
}
