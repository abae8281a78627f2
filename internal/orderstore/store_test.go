package orderstore

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kairostrade/matchingcore/internal/apperrors"
	"github.com/kairostrade/matchingcore/internal/dbmodels"
	"github.com/kairostrade/matchingcore/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&dbmodels.Order{}))
	return New(db, zap.NewNop())
}

func newOrder(id, userID, symbol string, side types.Side, qty float64, created time.Time) *types.Order {
	return &types.Order{
		ID:          id,
		UserID:      userID,
		Symbol:      symbol,
		Side:        side,
		Type:        types.OrderTypeLimit,
		Price:       decimal.NewFromInt(100),
		Quantity:    decimal.NewFromFloat(qty),
		Status:      types.OrderStatusOpen,
		TimeInForce: types.TIFGTC,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func TestStore_InsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	o := newOrder("o1", "alice", "BTCUSDT", types.SideBuy, 1, time.Now())
	require.NoError(t, s.Insert(ctx, o))

	got, err := s.Get(ctx, "o1", "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "o1", got.ID)

	none, err := s.Get(ctx, "missing", "alice")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStore_UpdateFillTransitionsStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	o := newOrder("o1", "alice", "BTCUSDT", types.SideBuy, 10, time.Now())
	require.NoError(t, s.Insert(ctx, o))

	updated, err := s.UpdateFill(ctx, "o1", decimal.NewFromInt(4))
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusPartiallyFilled, updated.Status)
	assert.Nil(t, updated.ClosedAt)

	updated, err = s.UpdateFill(ctx, "o1", decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusFilled, updated.Status)
	require.NotNil(t, updated.ClosedAt)
}

func TestStore_UpdateFillNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UpdateFill(context.Background(), "missing", decimal.NewFromInt(1))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrNotFound, apperrors.Code(err))
}

func TestStore_MarkCancelledIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	o := newOrder("o1", "alice", "BTCUSDT", types.SideBuy, 1, time.Now())
	require.NoError(t, s.Insert(ctx, o))

	cancelled, already, err := s.MarkCancelled(ctx, "o1", "alice")
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, types.OrderStatusCancelled, cancelled.Status)

	again, already, err := s.MarkCancelled(ctx, "o1", "alice")
	require.NoError(t, err)
	assert.True(t, already)
	assert.Equal(t, types.OrderStatusCancelled, again.Status)
}

func TestStore_MarkRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	o := newOrder("o1", "alice", "BTCUSDT", types.SideBuy, 1, time.Now())

	require.NoError(t, s.MarkRejected(ctx, o, "insufficient funds"))
	got, err := s.Get(ctx, "o1", "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.OrderStatusRejected, got.Status)
	assert.Equal(t, "insufficient funds", got.RejectReason)
}

func TestStore_OpenBySymbolOrdersByCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()
	require.NoError(t, s.Insert(ctx, newOrder("o1", "alice", "BTCUSDT", types.SideBuy, 1, base.Add(2*time.Millisecond))))
	require.NoError(t, s.Insert(ctx, newOrder("o2", "alice", "BTCUSDT", types.SideBuy, 1, base)))
	require.NoError(t, s.Insert(ctx, newOrder("o3", "bob", "ETHUSDT", types.SideSell, 1, base)))

	open, err := s.OpenBySymbol(ctx, "BTCUSDT", 0)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "o2", open[0].ID)
	assert.Equal(t, "o1", open[1].ID)
}
