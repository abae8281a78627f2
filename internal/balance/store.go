// Package balance implements the Balance Store (spec §4.1): the
// authoritative per-(user, asset) ledger of free and locked amounts,
// mutated only through transactional, row-locked operations.
package balance

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kairostrade/matchingcore/internal/apperrors"
	"github.com/kairostrade/matchingcore/internal/dbmodels"
	"github.com/kairostrade/matchingcore/internal/money"
	"github.com/kairostrade/matchingcore/internal/types"
)

// Store is the Balance Store. All mutating methods run inside a single
// database transaction and acquire row locks in a deterministic
// lexicographic (user, asset) order to preclude deadlock, per spec §4.1/§5.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New creates a Store backed by db.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

type rowKey struct {
	userID string
	asset  string
}

func sortedKeys(keys []rowKey) []rowKey {
	out := make([]rowKey, len(keys))
	copy(out, keys)
	sort.Slice(out, func(i, j int) bool {
		if out[i].userID != out[j].userID {
			return out[i].userID < out[j].userID
		}
		return out[i].asset < out[j].asset
	})
	return out
}

// lockRows selects (and locks FOR UPDATE) every requested row inside tx, in
// deterministic order, creating zero-balance rows for any that don't exist
// yet. Returns a map keyed by (user, asset) for easy lookup.
func lockRows(tx *gorm.DB, keys []rowKey) (map[rowKey]*dbmodels.AccountBalance, error) {
	ordered := sortedKeys(keys)
	result := make(map[rowKey]*dbmodels.AccountBalance, len(ordered))

	for _, k := range ordered {
		var row dbmodels.AccountBalance
		q := tx.Where("user_id = ? AND asset = ?", k.userID, k.asset)
		// SQLite has no row-level locking and rejects FOR UPDATE outright;
		// it's also single-writer per connection, so the ordering alone is
		// enough there. Every other dialect gets the real row lock.
		if tx.Dialector.Name() != "sqlite" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		err := q.First(&row).Error
		switch {
		case err == nil:
			result[k] = &row
		case err == gorm.ErrRecordNotFound:
			row = dbmodels.AccountBalance{UserID: k.userID, Asset: k.asset, Free: decimal.Zero, Locked: decimal.Zero}
			if createErr := tx.Create(&row).Error; createErr != nil {
				return nil, createErr
			}
			result[k] = &row
		default:
			return nil, err
		}
	}
	return result, nil
}

// Get returns the current balance for (userID, asset), or a zero balance
// if the user has never touched that asset.
func (s *Store) Get(ctx context.Context, userID, asset string) (types.Balance, error) {
	var row dbmodels.AccountBalance
	err := s.db.WithContext(ctx).Where("user_id = ? AND asset = ?", userID, asset).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return types.Balance{UserID: userID, Asset: asset, Free: decimal.Zero, Locked: decimal.Zero}, nil
	}
	if err != nil {
		return types.Balance{}, err
	}
	return types.Balance{UserID: userID, Asset: asset, Free: row.Free, Locked: row.Locked}, nil
}

// Lock moves amount from free to locked. Returns apperrors.ErrInsufficientFunds
// if free < amount.
func (s *Store) Lock(ctx context.Context, userID, asset string, amount decimal.Decimal) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := lockRows(tx, []rowKey{{userID, asset}})
		if err != nil {
			return err
		}
		row := rows[rowKey{userID, asset}]
		if row.Free.LessThan(amount) {
			return apperrors.Newf(apperrors.ErrInsufficientFunds,
				"user %s has %s free %s, need %s", userID, row.Free, asset, amount)
		}
		row.Free = row.Free.Sub(amount)
		row.Locked = row.Locked.Add(amount)
		return tx.Save(row).Error
	})
}

// Unlock moves amount from locked back to free. A caller asking to unlock
// more than is locked indicates a logic bug upstream, so this fails hard
// with ErrInvariantViolation rather than clamping to zero, per spec §4.1.
func (s *Store) Unlock(ctx context.Context, userID, asset string, amount decimal.Decimal) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := lockRows(tx, []rowKey{{userID, asset}})
		if err != nil {
			return err
		}
		row := rows[rowKey{userID, asset}]
		if row.Locked.LessThan(amount) {
			return apperrors.Newf(apperrors.ErrInvariantViolation,
				"user %s locked %s %s, cannot unlock %s", userID, row.Locked, asset, amount)
		}
		row.Locked = row.Locked.Sub(amount)
		row.Free = row.Free.Add(amount)
		return tx.Save(row).Error
	})
}

// SettleParams is the input to Settle: one resting trade between a buyer
// and a seller, per spec §4.1.
type SettleParams struct {
	Buyer       string
	Seller      string
	Base        string
	Quote       string
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	BuyerFee    decimal.Decimal // paid in base
	SellerFee   decimal.Decimal // paid in quote
	FeeAccount  string
}

// Settle performs the atomic four-leg balance transition that accompanies
// a trade: the seller's locked base is released to the buyer (minus the
// buyer's fee), and the buyer's locked quote is released to the seller
// (minus the seller's fee); fees are credited to the fee account. All six
// (user, asset) rows, the four trade legs plus the fee account's base and
// quote, are locked together in deterministic order so two concurrent
// settles can never deadlock, per spec §5.
func (s *Store) Settle(ctx context.Context, p SettleParams) error {
	// Rounded the same way the lock (matcher.go's lockRequirement) and the
	// price-improvement refund are, so a settle can never ask to release
	// fractionally more quote than was actually locked.
	quoteAmount := money.Mul(p.Price, p.Quantity)

	keys := []rowKey{
		{p.Seller, p.Base},
		{p.Buyer, p.Base},
		{p.Buyer, p.Quote},
		{p.Seller, p.Quote},
		{p.FeeAccount, p.Base},
		{p.FeeAccount, p.Quote},
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := lockRows(tx, keys)
		if err != nil {
			return err
		}

		sellerBase := rows[rowKey{p.Seller, p.Base}]
		buyerBase := rows[rowKey{p.Buyer, p.Base}]
		buyerQuote := rows[rowKey{p.Buyer, p.Quote}]
		sellerQuote := rows[rowKey{p.Seller, p.Quote}]
		feeBase := rows[rowKey{p.FeeAccount, p.Base}]
		feeQuote := rows[rowKey{p.FeeAccount, p.Quote}]

		if sellerBase.Locked.LessThan(p.Quantity) {
			return apperrors.Newf(apperrors.ErrInvariantViolation,
				"seller %s locked base %s < trade quantity %s", p.Seller, sellerBase.Locked, p.Quantity)
		}
		if buyerQuote.Locked.LessThan(quoteAmount) {
			return apperrors.Newf(apperrors.ErrInvariantViolation,
				"buyer %s locked quote %s < trade notional %s", p.Buyer, buyerQuote.Locked, quoteAmount)
		}

		buyerBaseReceived := p.Quantity.Sub(p.BuyerFee)
		sellerQuoteReceived := quoteAmount.Sub(p.SellerFee)
		if buyerBaseReceived.IsNegative() || sellerQuoteReceived.IsNegative() {
			return apperrors.New(apperrors.ErrInvariantViolation, "commission exceeds trade proceeds")
		}

		sellerBase.Locked = sellerBase.Locked.Sub(p.Quantity)
		buyerBase.Free = buyerBase.Free.Add(buyerBaseReceived)
		buyerQuote.Locked = buyerQuote.Locked.Sub(quoteAmount)
		sellerQuote.Free = sellerQuote.Free.Add(sellerQuoteReceived)
		feeBase.Free = feeBase.Free.Add(p.BuyerFee)
		feeQuote.Free = feeQuote.Free.Add(p.SellerFee)

		for _, row := range []*dbmodels.AccountBalance{sellerBase, buyerBase, buyerQuote, sellerQuote, feeBase, feeQuote} {
			if row.Free.IsNegative() || row.Locked.IsNegative() {
				return apperrors.New(apperrors.ErrInvariantViolation, "settlement would leave a negative balance")
			}
			if err := tx.Save(row).Error; err != nil {
				return err
			}
		}

		s.logger.Debug("settled trade",
			zap.String("buyer", p.Buyer), zap.String("seller", p.Seller),
			zap.String("base", p.Base), zap.String("quote", p.Quote),
			zap.String("quantity", p.Quantity.String()), zap.String("price", p.Price.String()))
		return nil
	})
}

// CreditDeposit applies a completed deposit to a user's free balance and
// appends the matching row to the transaction ledger, both inside one
// database transaction.
func (s *Store) CreditDeposit(ctx context.Context, userID, asset string, amount decimal.Decimal) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := lockRows(tx, []rowKey{{userID, asset}})
		if err != nil {
			return err
		}
		row := rows[rowKey{userID, asset}]
		row.Free = row.Free.Add(amount)
		if err := tx.Save(row).Error; err != nil {
			return err
		}
		return tx.Create(&dbmodels.AccountTransaction{
			ID:     uuid.NewString(),
			UserID: userID,
			Asset:  asset,
			Kind:   string(types.TransactionDeposit),
			Amount: amount,
			Status: string(types.TransactionCompleted),
		}).Error
	})
}

// DebitWithdrawal applies a completed withdrawal, failing with
// ErrInsufficientFunds if the user's free balance cannot cover it, and
// appends the matching row to the transaction ledger.
func (s *Store) DebitWithdrawal(ctx context.Context, userID, asset string, amount decimal.Decimal) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := lockRows(tx, []rowKey{{userID, asset}})
		if err != nil {
			return err
		}
		row := rows[rowKey{userID, asset}]
		if row.Free.LessThan(amount) {
			return apperrors.Newf(apperrors.ErrInsufficientFunds, "user %s has %s free %s, need %s", userID, row.Free, asset, amount)
		}
		row.Free = row.Free.Sub(amount)
		if err := tx.Save(row).Error; err != nil {
			return err
		}
		return tx.Create(&dbmodels.AccountTransaction{
			ID:     uuid.NewString(),
			UserID: userID,
			Asset:  asset,
			Kind:   string(types.TransactionWithdrawal),
			Amount: amount,
			Status: string(types.TransactionCompleted),
		}).Error
	})
}
