package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/m3rciful/numbershop/internal/models"
)

const depositViewColumns = `d.id, d.user_id, d.amount, d.upi_ref_id, d.proof_ref, d.status, d.created_at, d.decided_at,
	u.telegram_id, u.username`

// DepositRefExists reports whether a UPI reference was already submitted.
func (s *Store) DepositRefExists(ctx context.Context, ref string) (bool, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM deposits WHERE upi_ref_id = $1)`, ref); err != nil {
		return false, fmt.Errorf("check deposit ref: %w", err)
	}
	return exists, nil
}

// CreateDeposit records a PENDING deposit for telegramID.
func (s *Store) CreateDeposit(ctx context.Context, telegramID int64, amount decimal.Decimal, ref, proof string) (models.DepositView, error) {
	var d models.DepositView
	err := s.db.GetContext(ctx, &d, `
		WITH ins AS (
			INSERT INTO deposits (user_id, amount, upi_ref_id, proof_ref)
			SELECT id, $2, $3, $4 FROM users WHERE telegram_id = $1
			RETURNING *
		)
		SELECT `+depositViewColumns+` FROM ins d JOIN users u ON u.id = d.user_id`,
		telegramID, amount, ref, proof)
	if isUniqueViolation(err) {
		return models.DepositView{}, fmt.Errorf("create deposit: %w", ErrDuplicateReference)
	}
	if err != nil {
		return models.DepositView{}, notFound(err, "create deposit")
	}
	return d, nil
}

// DecideDeposit moves a PENDING deposit to APPROVED or REJECTED. Approval
// credits the depositor in the same transaction. It returns the deposit and
// the depositor's balance after the decision.
func (s *Store) DecideDeposit(ctx context.Context, id int64, approve bool) (models.DepositView, decimal.Decimal, error) {
	status := models.DepositRejected
	if approve {
		status = models.DepositApproved
	}
	var (
		d       models.DepositView
		balance decimal.Decimal
	)
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		var current models.DepositStatus
		if err := tx.GetContext(ctx, &current, `SELECT status FROM deposits WHERE id = $1 FOR UPDATE`, id); err != nil {
			return notFound(err, "lock deposit")
		}
		if current != models.DepositPending {
			return ErrAlreadyDecided
		}
		if err := tx.GetContext(ctx, &d, `
			WITH upd AS (
				UPDATE deposits SET status = $2, decided_at = now() WHERE id = $1 RETURNING *
			)
			SELECT `+depositViewColumns+` FROM upd d JOIN users u ON u.id = d.user_id`, id, status); err != nil {
			return fmt.Errorf("update deposit: %w", err)
		}
		q := `SELECT balance FROM users WHERE id = $1`
		args := []any{d.UserID}
		if approve {
			q = `UPDATE users SET balance = balance + $2 WHERE id = $1 RETURNING balance`
			args = append(args, d.Amount)
		}
		if err := tx.GetContext(ctx, &balance, q, args...); err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.DepositView{}, decimal.Zero, err
	}
	return d, balance, nil
}

// PendingDeposits lists deposits awaiting review, oldest first.
func (s *Store) PendingDeposits(ctx context.Context, limit int) ([]models.DepositView, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []models.DepositView
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+depositViewColumns+`
		FROM deposits d JOIN users u ON u.id = d.user_id
		WHERE d.status = 'PENDING'
		ORDER BY d.created_at, d.id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending deposits: %w", err)
	}
	return out, nil
}

// DepositsByUser lists the newest deposits of telegramID.
func (s *Store) DepositsByUser(ctx context.Context, telegramID int64, limit int) ([]models.DepositView, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []models.DepositView
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+depositViewColumns+`
		FROM deposits d JOIN users u ON u.id = d.user_id
		WHERE u.telegram_id = $1
		ORDER BY d.created_at DESC, d.id DESC
		LIMIT $2`, telegramID, limit)
	if err != nil {
		return nil, fmt.Errorf("list deposits: %w", err)
	}
	return out, nil
}
