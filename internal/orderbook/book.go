// Package orderbook implements the per-symbol in-memory Order Book (spec
// §4.4): two price/time priority queues of resting orders, adapted from
// the venue's legacy internal/core/matching.OrderBook heap implementation
// but keyed on exact decimal prices instead of float64.
package orderbook

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kairostrade/matchingcore/internal/apperrors"
	"github.com/kairostrade/matchingcore/internal/types"
)

// Level is one aggregated price level: the summed remaining quantity of
// every resting order at that price.
type Level struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Orders   int
}

// Book is a single symbol's order book. It holds only OPEN and
// PARTIALLY_FILLED orders; the matching engine removes an order from the
// book the instant it becomes FILLED or CANCELLED.
type Book struct {
	Symbol string

	mu      sync.RWMutex
	bids    *priceHeap
	asks    *priceHeap
	entries map[string]*entry // order ID -> heap entry, for O(log N) removal
	logger  *zap.Logger
}

// New creates an empty book for symbol.
func New(symbol string, logger *zap.Logger) *Book {
	return &Book{
		Symbol:  symbol,
		bids:    &priceHeap{maxFirst: true},
		asks:    &priceHeap{maxFirst: false},
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

func (b *Book) sideHeap(side types.Side) *priceHeap {
	if side == types.SideBuy {
		return b.bids
	}
	return b.asks
}

// Insert adds a resting order to its side. O(log N).
func (b *Book) Insert(o *types.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := &entry{order: o}
	h := b.sideHeap(o.Side)
	heap.Push(h, e)
	b.entries[o.ID] = e
}

// Remove takes an order out of the book by ID. O(log N). Returns false if
// the order was not resting.
func (b *Book) Remove(orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(orderID)
}

func (b *Book) removeLocked(orderID string) bool {
	e, ok := b.entries[orderID]
	if !ok {
		return false
	}
	h := b.sideHeap(e.order.Side)
	heap.Remove(h, e.index)
	delete(b.entries, orderID)
	return true
}

// PeekTop returns the best resting order on a side without removing it,
// or nil if that side is empty. O(1).
func (b *Book) PeekTop(side types.Side) *types.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h := b.sideHeap(side)
	if h.Len() == 0 {
		return nil
	}
	return h.entries[0].order
}

// BestBid returns the best resting bid price, or a zero decimal if the
// bid side is empty.
func (b *Book) BestBid() decimal.Decimal {
	if o := b.PeekTop(types.SideBuy); o != nil {
		return o.Price
	}
	return decimal.Zero
}

// BestAsk returns the best resting ask price, or a zero decimal if the
// ask side is empty.
func (b *Book) BestAsk() decimal.Decimal {
	if o := b.PeekTop(types.SideSell); o != nil {
		return o.Price
	}
	return decimal.Zero
}

// Crossed reports whether the book is currently crossable: a non-empty
// bid at or above the best ask. Per spec §8, this must never be observed
// between commands.
func (b *Book) Crossed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.bids.Len() == 0 || b.asks.Len() == 0 {
		return false
	}
	return b.bids.entries[0].order.Price.GreaterThanOrEqual(b.asks.entries[0].order.Price)
}

// PopTop removes and returns the best resting order on a side, the
// combined Remove+PeekTop the matching loop needs when an order fills
// completely. O(log N).
func (b *Book) PopTop(side types.Side) *types.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := b.sideHeap(side)
	if h.Len() == 0 {
		return nil
	}
	o := h.entries[0].order
	b.removeLocked(o.ID)
	return o
}

// AggregateDepth returns up to limit price levels per side, sorted by
// priority (best first), each the sum of remaining quantity resting at
// that price. O(L log L) for L distinct price levels.
func (b *Book) AggregateDepth(limit int) (bids, asks []Level) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return aggregate(b.bids, limit), aggregate(b.asks, limit)
}

func aggregate(h *priceHeap, limit int) []Level {
	byPrice := make(map[string]*Level)
	order := make([]string, 0)
	for _, e := range h.entries {
		key := e.order.Price.String()
		lvl, ok := byPrice[key]
		if !ok {
			lvl = &Level{Price: e.order.Price}
			byPrice[key] = lvl
			order = append(order, key)
		}
		lvl.Quantity = lvl.Quantity.Add(e.order.Remaining())
		lvl.Orders++
	}

	levels := make([]Level, 0, len(order))
	for _, key := range order {
		levels = append(levels, *byPrice[key])
	}
	sortLevels(levels, h.maxFirst)
	if limit > 0 && len(levels) > limit {
		levels = levels[:limit]
	}
	return levels
}

func sortLevels(levels []Level, maxFirst bool) {
	sort.Slice(levels, func(i, j int) bool {
		if maxFirst {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
}

// Get returns a resting order by ID, or nil if it is not in the book.
func (b *Book) Get(orderID string) *types.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[orderID]
	if !ok {
		return nil
	}
	return e.order
}

// Depth returns the number of resting orders on each side.
func (b *Book) Depth() (bidCount, askCount int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bids.Len(), b.asks.Len()
}

// ErrOrderNotResting is returned by operations that require an order to
// currently be in the book.
var ErrOrderNotResting = apperrors.New(apperrors.ErrNotFound, "order is not resting in the book")
