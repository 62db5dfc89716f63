// Package store is the Postgres-backed credential, inventory and ledger store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	coredatabase "github.com/m3rciful/numbershop/core/database"
	"github.com/m3rciful/numbershop/internal/models"
)

var (
	ErrNotFound            = errors.New("store: not found")
	ErrOutOfStock          = errors.New("store: out of stock")
	ErrInsufficientBalance = errors.New("store: insufficient balance")
	ErrDuplicateReference  = errors.New("store: duplicate payment reference")
	ErrAlreadyDecided      = errors.New("store: deposit already decided")
)

const uniqueViolation = "23505"

// Store wraps the pool and the transaction runner.
type Store struct {
	db *sqlx.DB
	tx *coredatabase.TxRunner
}

// New returns a Store over runner's pool.
func New(runner *coredatabase.TxRunner) *Store {
	return &Store{db: runner.DB(), tx: runner}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

const userColumns = `id, telegram_id, username, full_name, balance, is_admin, created_at`

// UpsertUser creates the user on first contact and refreshes names afterwards.
func (s *Store) UpsertUser(ctx context.Context, telegramID int64, username, fullName string, isAdmin bool) (models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, `
		INSERT INTO users (telegram_id, username, full_name, is_admin)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (telegram_id) DO UPDATE
		SET username = EXCLUDED.username,
		    full_name = EXCLUDED.full_name,
		    is_admin = users.is_admin OR EXCLUDED.is_admin
		RETURNING `+userColumns,
		telegramID, username, fullName, isAdmin)
	if err != nil {
		return models.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

// UserByTelegramID loads a user by Telegram id.
func (s *Store) UserByTelegramID(ctx context.Context, telegramID int64) (models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE telegram_id = $1`, telegramID)
	if err != nil {
		return models.User{}, notFound(err, "user by telegram id")
	}
	return u, nil
}
