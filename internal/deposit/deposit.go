// Package deposit handles manual UPI top-ups: the buyer submits an amount,
// a transaction reference and a screenshot, and an admin approves or rejects.
package deposit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/numbershop/core/logger"
	"github.com/m3rciful/numbershop/internal/events"
	"github.com/m3rciful/numbershop/internal/models"
	"github.com/m3rciful/numbershop/internal/store"
)

var (
	ErrInvalidAmount    = errors.New("deposit: invalid amount")
	ErrBelowMinimum     = errors.New("deposit: amount below minimum")
	ErrInvalidReference = errors.New("deposit: invalid transaction reference")
	ErrMissingProof     = errors.New("deposit: payment screenshot required")
	ErrNoPaymentTarget  = errors.New("deposit: no UPI id configured")
)

// MinReferenceLen is the shortest accepted UTR.
const MinReferenceLen = 6

const historyLimit = 10

// ProofPrefix marks proof references that point at a Telegram file id.
const ProofPrefix = "tg-file:"

// Store is the persistence deposits need.
type Store interface {
	DepositRefExists(ctx context.Context, ref string) (bool, error)
	CreateDeposit(ctx context.Context, telegramID int64, amount decimal.Decimal, ref, proof string) (models.DepositView, error)
	DecideDeposit(ctx context.Context, id int64, approve bool) (models.DepositView, decimal.Decimal, error)
	PendingDeposits(ctx context.Context, limit int) ([]models.DepositView, error)
	DepositsByUser(ctx context.Context, telegramID int64, limit int) ([]models.DepositView, error)
	Setting(ctx context.Context, key string) (string, error)
}

// Options configures a Service.
type Options struct {
	Store     Store
	Publisher events.Publisher
	Minimum   decimal.Decimal
	// DefaultUPIID is used when the settings table has no UPI id.
	DefaultUPIID string
}

// Service validates and records deposits.
type Service struct {
	store      Store
	events     events.Publisher
	minimum    decimal.Decimal
	defaultUPI string
}

// New returns a Service.
func New(opts Options) *Service {
	return &Service{
		store:      opts.Store,
		events:     opts.Publisher,
		minimum:    opts.Minimum,
		defaultUPI: strings.TrimSpace(opts.DefaultUPIID),
	}
}

// Minimum is the smallest accepted deposit.
func (s *Service) Minimum() decimal.Decimal { return s.minimum }

// ValidateAmount parses a buyer-typed amount. It accepts at most two decimal places.
func (s *Service) ValidateAmount(text string) (decimal.Decimal, error) {
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "₹"))
	amount, err := decimal.NewFromString(text)
	if err != nil || !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, text)
	}
	if amount.LessThan(s.minimum) {
		return decimal.Zero, fmt.Errorf("%w: minimum is %s", ErrBelowMinimum, s.minimum.StringFixed(2))
	}
	return amount.Round(2), nil
}

// ValidateReference checks length and uniqueness of a UTR.
func (s *Service) ValidateReference(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if len(ref) < MinReferenceLen || strings.ContainsAny(ref, " \t\n") {
		return "", ErrInvalidReference
	}
	exists, err := s.store.DepositRefExists(ctx, ref)
	if err != nil {
		return "", err
	}
	if exists {
		return "", store.ErrDuplicateReference
	}
	return ref, nil
}

// Submission is a completed deposit form.
type Submission struct {
	TelegramID  int64
	Amount      decimal.Decimal
	Reference   string
	ProofFileID string
}

// Submit records a PENDING deposit and announces it.
func (s *Service) Submit(ctx context.Context, sub Submission) (models.DepositView, error) {
	start := time.Now()
	if !sub.Amount.IsPositive() || sub.Amount.LessThan(s.minimum) {
		return models.DepositView{}, ErrBelowMinimum
	}
	if strings.TrimSpace(sub.ProofFileID) == "" {
		return models.DepositView{}, ErrMissingProof
	}
	ref, err := s.ValidateReference(ctx, sub.Reference)
	if err != nil {
		return models.DepositView{}, err
	}

	d, err := s.store.CreateDeposit(ctx, sub.TelegramID, sub.Amount, ref, ProofPrefix+sub.ProofFileID)
	logger.LogEvent(ctx, logger.SVCDeposits, levelFor(err), "deposit.submit",
		slog.String("amount", sub.Amount.StringFixed(2)),
		slog.String("status", logger.Status(err)),
		slog.Duration("duration", logger.Took(start)),
		logger.Err(err),
	)
	if err != nil {
		return models.DepositView{}, err
	}
	events.Emit(ctx, s.events, events.DepositSubmitted, payload(d))
	return d, nil
}

// Decision is the outcome of an admin review.
type Decision struct {
	Deposit models.DepositView
	Balance decimal.Decimal
}

// Approve credits the deposit to its owner.
func (s *Service) Approve(ctx context.Context, id int64) (Decision, error) {
	return s.decide(ctx, id, true)
}

// Reject closes the deposit without crediting.
func (s *Service) Reject(ctx context.Context, id int64) (Decision, error) {
	return s.decide(ctx, id, false)
}

func (s *Service) decide(ctx context.Context, id int64, approve bool) (Decision, error) {
	d, balance, err := s.store.DecideDeposit(ctx, id, approve)
	logger.LogEvent(ctx, logger.SVCDeposits, levelFor(err), "deposit.decide",
		slog.Int64("deposit_id", id),
		slog.Bool("approve", approve),
		slog.String("status", logger.Status(err)),
		logger.Err(err),
	)
	if err != nil {
		return Decision{}, err
	}
	kind := events.DepositRejected
	if approve {
		kind = events.DepositApproved
	}
	events.Emit(ctx, s.events, kind, payload(d))
	return Decision{Deposit: d, Balance: balance}, nil
}

// Pending lists deposits awaiting review.
func (s *Service) Pending(ctx context.Context) ([]models.DepositView, error) {
	return s.store.PendingDeposits(ctx, 0)
}

// History lists the buyer's recent deposits.
func (s *Service) History(ctx context.Context, telegramID int64) ([]models.DepositView, error) {
	return s.store.DepositsByUser(ctx, telegramID, historyLimit)
}

// PaymentTarget returns the UPI id buyers pay to.
func (s *Service) PaymentTarget(ctx context.Context) (string, error) {
	v, err := s.store.Setting(ctx, store.SettingUPIID)
	switch {
	case err == nil && strings.TrimSpace(v) != "":
		return strings.TrimSpace(v), nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return "", err
	case s.defaultUPI != "":
		return s.defaultUPI, nil
	default:
		return "", ErrNoPaymentTarget
	}
}

// PaymentLink builds the upi:// intent for paying amount to upiID.
func PaymentLink(upiID string, amount decimal.Decimal) string {
	q := url.Values{}
	q.Set("pa", upiID)
	q.Set("am", amount.StringFixed(2))
	q.Set("cu", "INR")
	q.Set("tn", "Deposit")
	return "upi://pay?" + q.Encode()
}

// ProofFileID extracts the Telegram file id from a stored proof reference.
func ProofFileID(proof string) (string, bool) {
	id, ok := strings.CutPrefix(proof, ProofPrefix)
	return id, ok && id != ""
}

func payload(d models.DepositView) map[string]any {
	return map[string]any{
		"deposit_id":  d.ID,
		"telegram_id": d.TelegramID,
		"amount":      d.Amount.StringFixed(2),
		"reference":   d.UPIRefID,
		"status":      string(d.Status),
	}
}

func levelFor(err error) slog.Level {
	if err != nil {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}
