package orderbook

import (
	"container/heap"

	"github.com/kairostrade/matchingcore/internal/types"
)

// entry is one resting order tracked by a side's heap.
type entry struct {
	order *types.Order
	index int // current position in the heap slice, maintained by Swap
}

// priceHeap is a container/heap.Interface over resting orders on one side
// of the book. maxFirst selects bid ordering (highest price wins) vs ask
// ordering (lowest price wins); ties break on earliest CreatedAt, then on
// lexicographically smaller order ID, per spec §4.5.
type priceHeap struct {
	entries  []*entry
	maxFirst bool
}

func (h *priceHeap) Len() int { return len(h.entries) }

func (h *priceHeap) Less(i, j int) bool {
	a, b := h.entries[i].order, h.entries[j].order
	if !a.Price.Equal(b.Price) {
		if h.maxFirst {
			return a.Price.GreaterThan(b.Price)
		}
		return a.Price.LessThan(b.Price)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (h *priceHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.entries[i].index = i
	h.entries[j].index = j
}

func (h *priceHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(h.entries)
	h.entries = append(h.entries, e)
}

func (h *priceHeap) Pop() interface{} {
	n := len(h.entries)
	e := h.entries[n-1]
	h.entries[n-1] = nil
	h.entries = h.entries[:n-1]
	return e
}

var _ heap.Interface = (*priceHeap)(nil)
