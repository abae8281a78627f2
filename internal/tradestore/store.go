// Package tradestore implements the Trade Store (spec §4.3): append-only
// persistence for executed fills.
package tradestore

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kairostrade/matchingcore/internal/dbmodels"
	"github.com/kairostrade/matchingcore/internal/types"
)

// Store is the Trade Store. Nothing in this package ever updates or
// deletes a row once inserted.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New creates a Store backed by db.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Insert appends a new trade.
func (s *Store) Insert(ctx context.Context, t *types.Trade) error {
	row := dbmodels.Trade{
		ID:               t.ID,
		RestingOrderID:   t.RestingOrderID,
		AggressorOrderID: t.AggressorOrderID,
		BuyerUserID:      t.BuyerUserID,
		SellerUserID:     t.SellerUserID,
		Symbol:           t.Symbol,
		Price:            t.Price,
		Quantity:         t.Quantity,
		BuyerCommission:  t.BuyerCommission,
		SellerCommission: t.SellerCommission,
		BuyerCommissionAsset:  t.BuyerCommissionAsset,
		SellerCommissionAsset: t.SellerCommissionAsset,
		IsMaker:          t.IsMaker,
		CreatedAt:        t.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logger.Error("failed to insert trade", zap.Error(err), zap.String("trade_id", t.ID))
		return err
	}
	return nil
}

// ByUser returns trades for a user, optionally filtered by symbol, most
// recent first.
func (s *Store) ByUser(ctx context.Context, userID, symbol string, limit int) ([]types.Trade, error) {
	q := s.db.WithContext(ctx).
		Where("buyer_user_id = ? OR seller_user_id = ?", userID, userID).
		Order("created_at DESC")
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	return queryTrades(q, limit)
}

// BySymbol returns the most recent trades for a symbol.
func (s *Store) BySymbol(ctx context.Context, symbol string, limit int) ([]types.Trade, error) {
	q := s.db.WithContext(ctx).Where("symbol = ?", symbol).Order("created_at DESC")
	return queryTrades(q, limit)
}

// ByOrder returns every trade an order participated in (as resting or
// aggressor), scoped to the requesting user.
func (s *Store) ByOrder(ctx context.Context, orderID, userID string) ([]types.Trade, error) {
	q := s.db.WithContext(ctx).
		Where("(resting_order_id = ? OR aggressor_order_id = ?) AND (buyer_user_id = ? OR seller_user_id = ?)",
			orderID, orderID, userID, userID).
		Order("created_at ASC")
	return queryTrades(q, 0)
}

func queryTrades(q *gorm.DB, limit int) ([]types.Trade, error) {
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []dbmodels.Trade
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.Trade, 0, len(rows))
	for _, row := range rows {
		out = append(out, types.Trade{
			ID:               row.ID,
			Symbol:           row.Symbol,
			RestingOrderID:   row.RestingOrderID,
			AggressorOrderID: row.AggressorOrderID,
			BuyerUserID:      row.BuyerUserID,
			SellerUserID:     row.SellerUserID,
			Price:            row.Price,
			Quantity:         row.Quantity,
			BuyerCommission:  row.BuyerCommission,
			SellerCommission: row.SellerCommission,
			BuyerCommissionAsset:  row.BuyerCommissionAsset,
			SellerCommissionAsset: row.SellerCommissionAsset,
			IsMaker:          row.IsMaker,
			CreatedAt:        row.CreatedAt,
		})
	}
	return out, nil
}
