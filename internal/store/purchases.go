package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/m3rciful/numbershop/internal/models"
)

// InsufficientBalanceError reports the shortfall of a rejected confirmation.
type InsufficientBalanceError struct {
	Balance decimal.Decimal
	Price   decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %s, need %s", e.Balance.StringFixed(2), e.Price.StringFixed(2))
}

// Shortfall is the amount the buyer still has to deposit.
func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Price.Sub(e.Balance)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// ConfirmRequest names the buyer and what they buy. AccountID pins a specific
// row; zero takes the oldest unsold account of the country.
type ConfirmRequest struct {
	TelegramID int64
	CountryID  int64
	AccountID  int64
}

// Receipt is the outcome of a successful confirmation.
type Receipt struct {
	Purchase models.Purchase
	Account  models.Account
	Balance  decimal.Decimal
}

const accountColumns = `id, country_id, phone_number, session_data, kind, is_sold, twofa_password, created_at`

// ConfirmPurchase charges the buyer, marks an account sold and records the
// purchase in one transaction. Concurrent confirmations for the same account
// produce exactly one winner; the rest see ErrOutOfStock.
func (s *Store) ConfirmPurchase(ctx context.Context, req ConfirmRequest) (Receipt, error) {
	var rc Receipt
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		var buyer struct {
			ID      int64           `db:"id"`
			Balance decimal.Decimal `db:"balance"`
		}
		err := tx.GetContext(ctx, &buyer, `SELECT id, balance FROM users WHERE telegram_id = $1 FOR UPDATE`, req.TelegramID)
		if err != nil {
			return notFound(err, "lock buyer")
		}

		var price decimal.Decimal
		if err := tx.GetContext(ctx, &price, `SELECT price FROM countries WHERE id = $1`, req.CountryID); err != nil {
			return notFound(err, "country price")
		}
		if buyer.Balance.LessThan(price) {
			return &InsufficientBalanceError{Balance: buyer.Balance, Price: price}
		}

		acc, err := claimAccount(ctx, tx, req)
		if err != nil {
			return err
		}

		if err := tx.GetContext(ctx, &rc.Balance,
			`UPDATE users SET balance = balance - $1 WHERE id = $2 RETURNING balance`, price, buyer.ID); err != nil {
			return fmt.Errorf("debit balance: %w", err)
		}

		err = tx.GetContext(ctx, &rc.Purchase, `
			INSERT INTO purchases (user_id, account_id, amount) VALUES ($1, $2, $3)
			RETURNING id, user_id, account_id, amount, created_at`, buyer.ID, acc.ID, price)
		if isUniqueViolation(err) {
			return fmt.Errorf("insert purchase: %w", ErrOutOfStock)
		}
		if err != nil {
			return fmt.Errorf("insert purchase: %w", err)
		}
		rc.Account = acc
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	return rc, nil
}

func claimAccount(ctx context.Context, tx *sqlx.Tx, req ConfirmRequest) (models.Account, error) {
	var acc models.Account
	var err error
	if req.AccountID != 0 {
		err = tx.GetContext(ctx, &acc, `
			UPDATE accounts SET is_sold = TRUE
			WHERE id = $1 AND country_id = $2 AND kind = 'ID' AND NOT is_sold
			RETURNING `+accountColumns, req.AccountID, req.CountryID)
	} else {
		err = tx.GetContext(ctx, &acc, `
			UPDATE accounts SET is_sold = TRUE
			WHERE id = (
				SELECT id FROM accounts
				WHERE country_id = $1 AND kind = 'ID' AND NOT is_sold
				ORDER BY id
				LIMIT 1
				FOR UPDATE SKIP LOCKED
			)
			RETURNING `+accountColumns, req.CountryID)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, ErrOutOfStock
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("claim account: %w", err)
	}
	return acc, nil
}

// PurchaseAccount returns the account sold in purchaseID, provided the purchase
// belongs to telegramID.
func (s *Store) PurchaseAccount(ctx context.Context, purchaseID, telegramID int64) (models.Account, error) {
	var acc models.Account
	err := s.db.GetContext(ctx, &acc, `
		SELECT a.id, a.country_id, a.phone_number, a.session_data, a.kind, a.is_sold, a.twofa_password, a.created_at
		FROM purchases p
		JOIN accounts a ON a.id = p.account_id
		JOIN users u ON u.id = p.user_id
		WHERE p.id = $1 AND u.telegram_id = $2`, purchaseID, telegramID)
	if err != nil {
		return models.Account{}, notFound(err, "purchase account")
	}
	return acc, nil
}

// PurchasesByUser lists the newest purchases of telegramID.
func (s *Store) PurchasesByUser(ctx context.Context, telegramID int64, limit int) ([]models.PurchaseView, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []models.PurchaseView
	err := s.db.SelectContext(ctx, &out, `
		SELECT p.id, p.user_id, p.account_id, p.amount, p.created_at,
		       a.phone_number, c.name AS country_name, c.emoji
		FROM purchases p
		JOIN users u ON u.id = p.user_id
		JOIN accounts a ON a.id = p.account_id
		JOIN countries c ON c.id = a.country_id
		WHERE u.telegram_id = $1
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT $2`, telegramID, limit)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	return out, nil
}
