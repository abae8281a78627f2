package balance

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kairostrade/matchingcore/internal/apperrors"
	"github.com/kairostrade/matchingcore/internal/dbmodels"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&dbmodels.AccountBalance{}, &dbmodels.AccountTransaction{}))
	return New(db, zap.NewNop())
}

func TestStore_GetDefaultsToZero(t *testing.T) {
	s := newTestStore(t)
	bal, err := s.Get(context.Background(), "alice", "BTC")
	require.NoError(t, err)
	assert.True(t, bal.Free.IsZero())
	assert.True(t, bal.Locked.IsZero())
}

func TestStore_CreditDepositThenLock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreditDeposit(ctx, "alice", "BTC", decimal.NewFromInt(10)))
	bal, err := s.Get(ctx, "alice", "BTC")
	require.NoError(t, err)
	assert.True(t, bal.Free.Equal(decimal.NewFromInt(10)))

	require.NoError(t, s.Lock(ctx, "alice", "BTC", decimal.NewFromInt(4)))
	bal, err = s.Get(ctx, "alice", "BTC")
	require.NoError(t, err)
	assert.True(t, bal.Free.Equal(decimal.NewFromInt(6)))
	assert.True(t, bal.Locked.Equal(decimal.NewFromInt(4)))
}

func TestStore_LockInsufficientFunds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Lock(ctx, "alice", "BTC", decimal.NewFromInt(1))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInsufficientFunds, apperrors.Code(err))
}

func TestStore_UnlockMoreThanLockedIsInvariantViolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreditDeposit(ctx, "alice", "BTC", decimal.NewFromInt(5)))
	require.NoError(t, s.Lock(ctx, "alice", "BTC", decimal.NewFromInt(2)))

	err := s.Unlock(ctx, "alice", "BTC", decimal.NewFromInt(3))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInvariantViolation, apperrors.Code(err))
}

func TestStore_DebitWithdrawalInsufficientFunds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreditDeposit(ctx, "alice", "USDT", decimal.NewFromInt(100)))

	require.NoError(t, s.DebitWithdrawal(ctx, "alice", "USDT", decimal.NewFromInt(40)))
	bal, err := s.Get(ctx, "alice", "USDT")
	require.NoError(t, err)
	assert.True(t, bal.Free.Equal(decimal.NewFromInt(60)))

	err = s.DebitWithdrawal(ctx, "alice", "USDT", decimal.NewFromInt(1000))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInsufficientFunds, apperrors.Code(err))
}

func TestStore_SettleMovesAllFourLegs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreditDeposit(ctx, "seller", "BTC", decimal.NewFromInt(1)))
	require.NoError(t, s.Lock(ctx, "seller", "BTC", decimal.NewFromInt(1)))
	require.NoError(t, s.CreditDeposit(ctx, "buyer", "USDT", decimal.NewFromInt(50000)))
	require.NoError(t, s.Lock(ctx, "buyer", "USDT", decimal.NewFromInt(50000)))

	err := s.Settle(ctx, SettleParams{
		Buyer:      "buyer",
		Seller:     "seller",
		Base:       "BTC",
		Quote:      "USDT",
		Quantity:   decimal.NewFromInt(1),
		Price:      decimal.NewFromInt(50000),
		BuyerFee:   decimal.NewFromFloat(0.001),
		SellerFee:  decimal.NewFromInt(50),
		FeeAccount: "fees",
	})
	require.NoError(t, err)

	buyerBase, err := s.Get(ctx, "buyer", "BTC")
	require.NoError(t, err)
	assert.True(t, buyerBase.Free.Equal(decimal.NewFromFloat(0.999)), "got %s", buyerBase.Free)

	sellerQuote, err := s.Get(ctx, "seller", "USDT")
	require.NoError(t, err)
	assert.True(t, sellerQuote.Free.Equal(decimal.NewFromInt(49950)), "got %s", sellerQuote.Free)

	sellerBase, err := s.Get(ctx, "seller", "BTC")
	require.NoError(t, err)
	assert.True(t, sellerBase.Locked.IsZero())

	buyerQuote, err := s.Get(ctx, "buyer", "USDT")
	require.NoError(t, err)
	assert.True(t, buyerQuote.Locked.IsZero())

	feeBase, err := s.Get(ctx, "fees", "BTC")
	require.NoError(t, err)
	assert.True(t, feeBase.Free.Equal(decimal.NewFromFloat(0.001)))

	feeQuote, err := s.Get(ctx, "fees", "USDT")
	require.NoError(t, err)
	assert.True(t, feeQuote.Free.Equal(decimal.NewFromInt(50)))
}

func TestStore_SettleRejectsWhenSellerLockedTooLittle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreditDeposit(ctx, "buyer", "USDT", decimal.NewFromInt(50000)))
	require.NoError(t, s.Lock(ctx, "buyer", "USDT", decimal.NewFromInt(50000)))

	err := s.Settle(ctx, SettleParams{
		Buyer:      "buyer",
		Seller:     "seller",
		Base:       "BTC",
		Quote:      "USDT",
		Quantity:   decimal.NewFromInt(1),
		Price:      decimal.NewFromInt(50000),
		FeeAccount: "fees",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrInvariantViolation, apperrors.Code(err))
}
