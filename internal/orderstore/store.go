// Package orderstore implements the Order Store (spec §4.2): append and
// update-by-id persistence for orders, adapted from the venue's legacy
// internal/db/repositories.OrderRepository.
package orderstore

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kairostrade/matchingcore/internal/apperrors"
	"github.com/kairostrade/matchingcore/internal/dbmodels"
	"github.com/kairostrade/matchingcore/internal/types"
)

// Store is the Order Store.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New creates a Store backed by db.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Insert persists a newly accepted order.
func (s *Store) Insert(ctx context.Context, o *types.Order) error {
	row := toRow(o)
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		s.logger.Error("failed to insert order", zap.Error(err), zap.String("order_id", o.ID))
		return err
	}
	return nil
}

// UpdateFill sets an order's filled quantity, derives its status from
// filled vs. quantity, and stamps closed_at when the new status becomes
// terminal, per spec §4.2.
func (s *Store) UpdateFill(ctx context.Context, orderID string, newFilled decimal.Decimal) (types.Order, error) {
	var result types.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row dbmodels.Order
		if err := tx.Where("id = ?", orderID).First(&row).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperrors.Newf(apperrors.ErrNotFound, "order %s not found", orderID)
			}
			return err
		}

		row.FilledQuantity = newFilled
		now := time.Now()
		row.UpdatedAt = now
		switch {
		case newFilled.Equal(row.Quantity):
			row.Status = string(types.OrderStatusFilled)
			row.ClosedAt = &now
		case newFilled.IsPositive():
			row.Status = string(types.OrderStatusPartiallyFilled)
		}

		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		result = fromRow(&row)
		return nil
	})
	return result, err
}

// MarkCancelled transitions an order to CANCELLED, conditional on its
// current status being OPEN or PARTIALLY_FILLED and owned by user. Per
// spec §5, cancelling an already-terminal order is idempotent: it returns
// the order with AlreadyTerminal rather than an error.
func (s *Store) MarkCancelled(ctx context.Context, orderID, userID string) (types.Order, bool, error) {
	var result types.Order
	alreadyTerminal := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row dbmodels.Order
		if err := tx.Where("id = ? AND user_id = ?", orderID, userID).First(&row).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperrors.Newf(apperrors.ErrNotFound, "order %s not found for user %s", orderID, userID)
			}
			return err
		}

		if types.OrderStatus(row.Status).IsTerminal() {
			alreadyTerminal = true
			result = fromRow(&row)
			return nil
		}

		now := time.Now()
		row.Status = string(types.OrderStatusCancelled)
		row.UpdatedAt = now
		row.ClosedAt = &now
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		result = fromRow(&row)
		return nil
	})
	return result, alreadyTerminal, err
}

// MarkRejected persists an order directly in REJECTED status with a
// reason, so the user can later retrieve why it never rested, per §7.
func (s *Store) MarkRejected(ctx context.Context, o *types.Order, reason string) error {
	now := time.Now()
	o.Status = types.OrderStatusRejected
	o.RejectReason = reason
	o.ClosedAt = &now
	o.UpdatedAt = now
	return s.Insert(ctx, o)
}

// Get retrieves a single order owned by user.
func (s *Store) Get(ctx context.Context, orderID, userID string) (*types.Order, error) {
	var row dbmodels.Order
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", orderID, userID).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	o := fromRow(&row)
	return &o, nil
}

// OpenBySymbol returns resting orders for a symbol in book-hydration order:
// side, then price (direction depends on side), then created_at ascending,
// per spec §4.4's rebuild rule.
func (s *Store) OpenBySymbol(ctx context.Context, symbol string, limit int) ([]types.Order, error) {
	var rows []dbmodels.Order
	q := s.db.WithContext(ctx).
		Where("symbol = ? AND status IN ?", symbol, []string{
			string(types.OrderStatusOpen), string(types.OrderStatusPartiallyFilled),
		}).
		Order("side ASC").
		Order("CASE WHEN side = 'BUY' THEN price END DESC").
		Order("CASE WHEN side = 'SELL' THEN price END ASC").
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.Order, 0, len(rows))
	for i := range rows {
		out = append(out, fromRow(&rows[i]))
	}
	return out, nil
}

func toRow(o *types.Order) *dbmodels.Order {
	return &dbmodels.Order{
		ID:             o.ID,
		UserID:         o.UserID,
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Type:           string(o.Type),
		Price:          o.Price,
		StopPrice:      o.StopPrice,
		Quantity:       o.Quantity,
		FilledQuantity: o.FilledQuantity,
		IcebergQty:     o.IcebergQty,
		Status:         string(o.Status),
		RejectReason:   o.RejectReason,
		TimeInForce:    string(o.TimeInForce),
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
		ClosedAt:       o.ClosedAt,
	}
}

func fromRow(row *dbmodels.Order) types.Order {
	return types.Order{
		ID:             row.ID,
		UserID:         row.UserID,
		ClientOrderID:  row.ClientOrderID,
		Symbol:         row.Symbol,
		Side:           types.Side(row.Side),
		Type:           types.OrderType(row.Type),
		Price:          row.Price,
		StopPrice:      row.StopPrice,
		Quantity:       row.Quantity,
		FilledQuantity: row.FilledQuantity,
		IcebergQty:     row.IcebergQty,
		Status:         types.OrderStatus(row.Status),
		RejectReason:   row.RejectReason,
		TimeInForce:    types.TimeInForce(row.TimeInForce),
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
		ClosedAt:       row.ClosedAt,
	}
}
