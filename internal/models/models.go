// Package models holds the rows persisted by the store.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountKind distinguishes a bare number sale from a full session sale.
type AccountKind string

const (
	KindID      AccountKind = "ID"
	KindSession AccountKind = "SESSION"
)

// DepositStatus is the review state of a deposit.
type DepositStatus string

const (
	DepositPending  DepositStatus = "PENDING"
	DepositApproved DepositStatus = "APPROVED"
	DepositRejected DepositStatus = "REJECTED"
)

type User struct {
	ID         int64           `db:"id"`
	TelegramID int64           `db:"telegram_id"`
	Username   string          `db:"username"`
	FullName   string          `db:"full_name"`
	Balance    decimal.Decimal `db:"balance"`
	IsAdmin    bool            `db:"is_admin"`
	CreatedAt  time.Time       `db:"created_at"`
}

type Country struct {
	ID        int64           `db:"id"`
	Name      string          `db:"name"`
	Emoji     string          `db:"emoji"`
	Price     decimal.Decimal `db:"price"`
	CreatedAt time.Time       `db:"created_at"`
}

// CountryStock is a country with its count of unsold accounts.
type CountryStock struct {
	Country
	Available int `db:"available"`
}

// Account is one sellable phone number with its stored session.
type Account struct {
	ID            int64       `db:"id"`
	CountryID     int64       `db:"country_id"`
	PhoneNumber   string      `db:"phone_number"`
	SessionData   string      `db:"session_data"`
	Kind          AccountKind `db:"kind"`
	IsSold        bool        `db:"is_sold"`
	TwoFAPassword *string     `db:"twofa_password"`
	CreatedAt     time.Time   `db:"created_at"`
}

// TwoFA returns the second factor password or "".
func (a Account) TwoFA() string {
	if a.TwoFAPassword == nil {
		return ""
	}
	return *a.TwoFAPassword
}

type Purchase struct {
	ID        int64           `db:"id"`
	UserID    int64           `db:"user_id"`
	AccountID int64           `db:"account_id"`
	Amount    decimal.Decimal `db:"amount"`
	CreatedAt time.Time       `db:"created_at"`
}

// PurchaseView joins a purchase with the sold number and its country for history lists.
type PurchaseView struct {
	Purchase
	PhoneNumber string `db:"phone_number"`
	CountryName string `db:"country_name"`
	Emoji       string `db:"emoji"`
}

type Deposit struct {
	ID        int64           `db:"id"`
	UserID    int64           `db:"user_id"`
	Amount    decimal.Decimal `db:"amount"`
	UPIRefID  string          `db:"upi_ref_id"`
	ProofRef  string          `db:"proof_ref"`
	Status    DepositStatus   `db:"status"`
	CreatedAt time.Time       `db:"created_at"`
	DecidedAt *time.Time      `db:"decided_at"`
}

// DepositView adds the depositor's Telegram identity for admin review.
type DepositView struct {
	Deposit
	TelegramID int64  `db:"telegram_id"`
	Username   string `db:"username"`
}
