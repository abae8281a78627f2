package orderbook

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kairostrade/matchingcore/internal/types"
)

func newTestOrder(id string, side types.Side, price, qty float64) *types.Order {
	return &types.Order{
		ID:       id,
		Symbol:   "BTCUSDT",
		Side:     side,
		Type:     types.OrderTypeLimit,
		Price:    decimal.NewFromFloat(price),
		Quantity: decimal.NewFromFloat(qty),
		Status:   types.OrderStatusOpen,
	}
}

func TestBook_PriceTimePriority(t *testing.T) {
	b := New("BTCUSDT", zap.NewNop())

	base := time.Now()
	o1 := newTestOrder("b1", types.SideBuy, 100, 1)
	o1.CreatedAt = base
	o2 := newTestOrder("b2", types.SideBuy, 101, 1) // better price, later arrival
	o2.CreatedAt = base.Add(time.Millisecond)
	o3 := newTestOrder("b3", types.SideBuy, 101, 1) // same price as b2, later arrival
	o3.CreatedAt = base.Add(2 * time.Millisecond)

	b.Insert(o1)
	b.Insert(o2)
	b.Insert(o3)

	top := b.PeekTop(types.SideBuy)
	require.NotNil(t, top)
	assert.Equal(t, "b2", top.ID, "best price wins regardless of arrival order, and time priority breaks the tie with b3")

	b.PopTop(types.SideBuy)
	top = b.PeekTop(types.SideBuy)
	require.NotNil(t, top)
	assert.Equal(t, "b3", top.ID, "the next best price follows once the top is popped")
}

func TestBook_RemoveAndRestOrdering(t *testing.T) {
	b := New("BTCUSDT", zap.NewNop())
	b.Insert(newTestOrder("a1", types.SideSell, 50, 2))
	b.Insert(newTestOrder("a2", types.SideSell, 49, 2))

	assert.True(t, b.Remove("a1"))
	assert.False(t, b.Remove("a1"), "removing twice is a no-op")

	top := b.PeekTop(types.SideSell)
	require.NotNil(t, top)
	assert.Equal(t, "a2", top.ID)
}

func TestBook_BestBidAskAndCrossed(t *testing.T) {
	b := New("BTCUSDT", zap.NewNop())
	assert.True(t, b.BestBid().IsZero())
	assert.True(t, b.BestAsk().IsZero())
	assert.False(t, b.Crossed())

	b.Insert(newTestOrder("b1", types.SideBuy, 100, 1))
	b.Insert(newTestOrder("a1", types.SideSell, 105, 1))
	assert.False(t, b.Crossed())

	b.Insert(newTestOrder("b2", types.SideBuy, 110, 1))
	assert.True(t, b.Crossed(), "a resting bid at or above the best ask is crossed")
}

func TestBook_AggregateDepth(t *testing.T) {
	b := New("BTCUSDT", zap.NewNop())
	b.Insert(newTestOrder("b1", types.SideBuy, 100, 1))
	b.Insert(newTestOrder("b2", types.SideBuy, 100, 2))
	b.Insert(newTestOrder("b3", types.SideBuy, 99, 5))

	bids, asks := b.AggregateDepth(0)
	require.Len(t, bids, 2)
	assert.Empty(t, asks)
	assert.True(t, bids[0].Price.Equal(decimal.NewFromInt(100)))
	assert.True(t, bids[0].Quantity.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, 2, bids[0].Orders)
	assert.True(t, bids[1].Price.Equal(decimal.NewFromInt(99)))
}

func TestBook_DepthCounts(t *testing.T) {
	b := New("BTCUSDT", zap.NewNop())
	b.Insert(newTestOrder("b1", types.SideBuy, 100, 1))
	b.Insert(newTestOrder("a1", types.SideSell, 101, 1))
	b.Insert(newTestOrder("a2", types.SideSell, 102, 1))

	bidCount, askCount := b.Depth()
	assert.Equal(t, 1, bidCount)
	assert.Equal(t, 2, askCount)
}

func TestBook_Get(t *testing.T) {
	b := New("BTCUSDT", zap.NewNop())
	o := newTestOrder("b1", types.SideBuy, 100, 1)
	b.Insert(o)

	assert.NotNil(t, b.Get("b1"))
	assert.Nil(t, b.Get("missing"))
}
