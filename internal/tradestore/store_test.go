package tradestore

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

	"github.com/kairostrade/matchingcore/internal/dbmodels"
	"github.com/kairostrade/matchingcore/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&dbmodels.Trade{}))
	return New(db, zap.NewNop())
}

func newTrade(id, restingID, aggressorID, buyer, seller, symbol string, created time.Time) *types.Trade {
	return &types.Trade{
		ID:               id,
		RestingOrderID:   restingID,
		AggressorOrderID: aggressorID,
		BuyerUserID:      buyer,
		SellerUserID:     seller,
		Symbol:           symbol,
		Price:            decimal.NewFromInt(100),
		Quantity:         decimal.NewFromInt(1),
		CreatedAt:        created,
	}
}

func TestStore_ByUserFiltersBothSides(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()
	require.NoError(t, s.Insert(ctx, newTrade("t1", "r1", "a1", "alice", "bob", "BTCUSDT", base)))
	require.NoError(t, s.Insert(ctx, newTrade("t2", "r2", "a2", "carol", "alice", "BTCUSDT", base.Add(time.Millisecond))))
	require.NoError(t, s.Insert(ctx, newTrade("t3", "r3", "a3", "carol", "bob", "ETHUSDT", base.Add(2*time.Millisecond))))

	trades, err := s.ByUser(ctx, "alice", "", 0)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "t2", trades[0].ID, "most recent first")
	assert.Equal(t, "t1", trades[1].ID)
}

func TestStore_ByUserFiltersBySymbol(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()
	require.NoError(t, s.Insert(ctx, newTrade("t1", "r1", "a1", "alice", "bob", "BTCUSDT", base)))
	require.NoError(t, s.Insert(ctx, newTrade("t2", "r2", "a2", "alice", "bob", "ETHUSDT", base.Add(time.Millisecond))))

	trades, err := s.ByUser(ctx, "alice", "ETHUSDT", 0)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "t2", trades[0].ID)
}

func TestStore_BySymbol(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()
	require.NoError(t, s.Insert(ctx, newTrade("t1", "r1", "a1", "alice", "bob", "BTCUSDT", base)))
	require.NoError(t, s.Insert(ctx, newTrade("t2", "r2", "a2", "carol", "dave", "BTCUSDT", base.Add(time.Millisecond))))
	require.NoError(t, s.Insert(ctx, newTrade("t3", "r3", "a3", "carol", "dave", "ETHUSDT", base.Add(2*time.Millisecond))))

	trades, err := s.BySymbol(ctx, "BTCUSDT", 0)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, "t2", trades[0].ID)
}

func TestStore_ByOrderScopesToUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()
	require.NoError(t, s.Insert(ctx, newTrade("t1", "resting1", "agg1", "alice", "bob", "BTCUSDT", base)))
	require.NoError(t, s.Insert(ctx, newTrade("t2", "resting2", "resting1", "carol", "dave", "BTCUSDT", base.Add(time.Millisecond))))

	trades, err := s.ByOrder(ctx, "resting1", "alice")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "t1", trades[0].ID)

	none, err := s.ByOrder(ctx, "resting1", "eve")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_ByUserLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Insert(ctx, newTrade(
			"t"+string(rune('0'+i)), "r", "a", "alice", "bob", "BTCUSDT", base.Add(time.Duration(i)*time.Millisecond))))
	}

	trades, err := s.ByUser(ctx, "alice", "", 2)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}
