// Package purchase drives a sale from browsing the catalogue to the buyer
// logging into the number they bought.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/m3rciful/numbershop/core/logger"
	"github.com/m3rciful/numbershop/internal/codecache"
	"github.com/m3rciful/numbershop/internal/events"
	"github.com/m3rciful/numbershop/internal/models"
	"github.com/m3rciful/numbershop/internal/mtproto"
	"github.com/m3rciful/numbershop/internal/store"
	"github.com/m3rciful/numbershop/internal/watcher"
)

var (
	// ErrWatchUnavailable means the watch could not be opened. The purchase
	// stays paid and retrieval may be retried.
	ErrWatchUnavailable = errors.New("purchase: code retrieval unavailable")
	// ErrUnknownPurchase is returned for purchases that do not exist or belong to someone else.
	ErrUnknownPurchase = errors.New("purchase: unknown purchase")
)

const (
	defaultAttempts = 24
	defaultInterval = 5 * time.Second
	historyLimit    = 10
)

// Store is the persistence the flow needs.
type Store interface {
	Countries(ctx context.Context, inStockOnly bool) ([]models.CountryStock, error)
	CountryStock(ctx context.Context, countryID int64) (models.CountryStock, error)
	UserByTelegramID(ctx context.Context, telegramID int64) (models.User, error)
	ConfirmPurchase(ctx context.Context, req store.ConfirmRequest) (store.Receipt, error)
	PurchaseAccount(ctx context.Context, purchaseID, telegramID int64) (models.Account, error)
	PurchasesByUser(ctx context.Context, telegramID int64, limit int) ([]models.PurchaseView, error)
}

// Watcher is the session watcher as seen by the flow.
type Watcher interface {
	Start(ctx context.Context, cred mtproto.Credential) error
	PollCode(ctx context.Context, phone string) (codecache.Code, bool)
	ClearCode(ctx context.Context, phone string)
	ClaimStatus(ctx context.Context, phone string) watcher.Status
	Stop(ctx context.Context, phone string)
}

// Options configures a Service.
type Options struct {
	Store     Store
	Watcher   Watcher
	Publisher events.Publisher
	// Attempts bounds one Await window; Interval separates its ticks.
	Attempts int
	Interval time.Duration
	// Wait blocks for d or until ctx ends. Tests replace it.
	Wait func(ctx context.Context, d time.Duration) error
}

// Quote is what Select shows before the buyer commits.
type Quote struct {
	Country    models.CountryStock
	Balance    decimal.Decimal
	Affordable bool
	Shortfall  decimal.Decimal
}

// Snapshot is the view of one purchase after a step.
type Snapshot struct {
	PurchaseID  int64
	Phone       string
	TwoFA       string
	State       State
	Code        string
	Attempt     int
	MaxAttempts int
	// Watching is false when the watch disappeared underneath the flow.
	Watching bool
}

type flow struct {
	state   State
	country int64
}

type order struct {
	id    int64
	buyer int64
	cred  mtproto.Credential
	state State
	code  string

	gen    uint64
	cancel context.CancelFunc
}

// Service is the purchase state machine. Pre-purchase state is kept per
// buyer, post-purchase state per purchase; both live in memory and are
// rebuilt from the store on demand.
type Service struct {
	store    Store
	watch    Watcher
	events   events.Publisher
	attempts int
	interval time.Duration
	wait     func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	flows  map[int64]*flow
	orders map[int64]*order
}

// New returns a Service.
func New(opts Options) *Service {
	s := &Service{
		store:    opts.Store,
		watch:    opts.Watcher,
		events:   opts.Publisher,
		attempts: opts.Attempts,
		interval: opts.Interval,
		wait:     opts.Wait,
		flows:    make(map[int64]*flow),
		orders:   make(map[int64]*order),
	}
	if s.attempts <= 0 {
		s.attempts = defaultAttempts
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.wait == nil {
		s.wait = sleep
	}
	return s
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Browse lists countries that have stock and resets the buyer to BROWSING.
func (s *Service) Browse(ctx context.Context, buyer int64) ([]models.CountryStock, error) {
	list, err := s.store.Countries(ctx, true)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.flows[buyer] = &flow{state: StateBrowsing}
	s.mu.Unlock()
	return list, nil
}

// Select moves the buyer to CONFIRMING for country and quotes it. Picking
// another country while confirming re-enters through BROWSING.
func (s *Service) Select(ctx context.Context, buyer, countryID int64) (Quote, error) {
	s.mu.Lock()
	from := StateBrowsing
	if f, ok := s.flows[buyer]; ok {
		from = f.state
	}
	s.mu.Unlock()
	if from == StateConfirming {
		from = StateBrowsing
	}
	if err := transition(from, StateConfirming); err != nil {
		return Quote{}, err
	}

	stock, err := s.store.CountryStock(ctx, countryID)
	if err != nil {
		return Quote{}, err
	}
	if stock.Available <= 0 {
		return Quote{}, store.ErrOutOfStock
	}
	user, err := s.store.UserByTelegramID(ctx, buyer)
	if err != nil {
		return Quote{}, err
	}

	s.mu.Lock()
	s.flows[buyer] = &flow{state: StateConfirming, country: countryID}
	s.mu.Unlock()

	q := Quote{Country: stock, Balance: user.Balance, Affordable: user.Balance.GreaterThanOrEqual(stock.Price)}
	if !q.Affordable {
		q.Shortfall = stock.Price.Sub(user.Balance)
	}
	return q, nil
}

// Confirm charges the buyer for country and moves to PAID. Insufficient
// balance and out of stock come back as store sentinels and return the
// buyer to BROWSING.
func (s *Service) Confirm(ctx context.Context, buyer, countryID int64) (store.Receipt, error) {
	s.mu.Lock()
	f, ok := s.flows[buyer]
	s.mu.Unlock()
	if !ok || f.country != countryID {
		return store.Receipt{}, fmt.Errorf("%w: no pending selection", ErrInvalidTransition)
	}
	if err := transition(f.state, StatePaid); err != nil {
		return store.Receipt{}, err
	}

	start := time.Now()
	rc, err := s.store.ConfirmPurchase(ctx, store.ConfirmRequest{TelegramID: buyer, CountryID: countryID})
	if err != nil {
		s.mu.Lock()
		s.flows[buyer] = &flow{state: StateBrowsing}
		s.mu.Unlock()
		logger.LogEvent(ctx, logger.SVCPurchases, slog.LevelWarn, "purchase.confirm",
			slog.Int64("country_id", countryID),
			slog.String("status", "rejected"),
			slog.Duration("duration", logger.Took(start)),
			logger.Err(err),
		)
		return store.Receipt{}, err
	}

	o := &order{
		id:    rc.Purchase.ID,
		buyer: buyer,
		cred:  credential(rc.Account),
		state: StatePaid,
	}
	s.mu.Lock()
	delete(s.flows, buyer)
	s.orders[o.id] = o
	s.mu.Unlock()

	ctx = logger.WithPurchaseID(logger.WithPhone(ctx, rc.Account.PhoneNumber), o.id)
	logger.LogEvent(ctx, logger.SVCPurchases, slog.LevelInfo, "purchase.confirm",
		slog.Int64("account_id", rc.Account.ID),
		slog.String("amount", rc.Purchase.Amount.StringFixed(2)),
		slog.String("balance", rc.Balance.StringFixed(2)),
		slog.String("status", "ok"),
		slog.Duration("duration", logger.Took(start)),
	)
	events.Emit(ctx, s.events, events.PurchaseConfirmed, map[string]any{
		"purchase_id": o.id,
		"telegram_id": buyer,
		"account_id":  rc.Account.ID,
		"country_id":  countryID,
		"amount":      rc.Purchase.Amount.StringFixed(2),
	})
	return rc, nil
}

func credential(a models.Account) mtproto.Credential {
	return mtproto.Credential{Phone: a.PhoneNumber, Session: a.SessionData, TwoFA: a.TwoFA()}
}

// order returns the in-memory order for purchaseID, loading it from the
// store as PAID when absent. Only the owner may see it.
func (s *Service) order(ctx context.Context, buyer, purchaseID int64) (*order, error) {
	s.mu.Lock()
	o, ok := s.orders[purchaseID]
	s.mu.Unlock()
	if ok {
		if o.buyer != buyer {
			return nil, ErrUnknownPurchase
		}
		return o, nil
	}

	acc, err := s.store.PurchaseAccount(ctx, purchaseID, buyer)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownPurchase
	}
	if err != nil {
		return nil, err
	}
	fresh := &order{id: purchaseID, buyer: buyer, cred: credential(acc), state: StatePaid}

	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[purchaseID]; ok {
		return o, nil
	}
	s.orders[purchaseID] = fresh
	return fresh, nil
}

func (s *Service) snapshot(o *order) Snapshot {
	return Snapshot{
		PurchaseID:  o.id,
		Phone:       o.cred.Phone,
		TwoFA:       o.cred.TwoFA,
		State:       o.state,
		Code:        o.code,
		MaxAttempts: s.attempts,
		Watching:    o.state != StateClaimed,
	}
}

func (s *Service) logCtx(ctx context.Context, o *order) context.Context {
	return logger.WithPurchaseID(logger.WithPhone(ctx, o.cred.Phone), o.id)
}

// BeginCodeRetrieval opens the watch for a paid purchase and moves it to
// AWAITING_CODE. A purchase already awaiting or holding a code restarts
// its wait. A failed watch leaves the purchase PAID.
func (s *Service) BeginCodeRetrieval(ctx context.Context, buyer, purchaseID int64) (Snapshot, error) {
	o, err := s.order(ctx, buyer, purchaseID)
	if err != nil {
		return Snapshot{}, err
	}
	ctx = s.logCtx(ctx, o)

	s.mu.Lock()
	from := o.state
	s.mu.Unlock()
	if from != StateAwaitingCode {
		if err := transition(from, StateAwaitingCode); err != nil {
			return Snapshot{}, err
		}
	}

	if err := s.watch.Start(ctx, o.cred); err != nil {
		logger.LogEvent(ctx, logger.SVCPurchases, slog.LevelError, "purchase.begin",
			slog.String("status", "fail"),
			logger.Err(err),
		)
		return Snapshot{}, fmt.Errorf("%w: %w", ErrWatchUnavailable, err)
	}

	s.mu.Lock()
	o.state = StateAwaitingCode
	o.code = ""
	snap := s.snapshot(o)
	s.mu.Unlock()

	logger.LogEvent(ctx, logger.SVCPurchases, slog.LevelInfo, "purchase.begin", slog.String("status", "ok"))
	return snap, nil
}

// Check runs one tick on behalf of the buyer. A missing watch is reopened.
func (s *Service) Check(ctx context.Context, buyer, purchaseID int64) (Snapshot, error) {
	o, err := s.order(ctx, buyer, purchaseID)
	if err != nil {
		return Snapshot{}, err
	}
	return s.tick(s.logCtx(ctx, o), o, true)
}

// tick checks for a claim first, then for a code. Transient protocol
// trouble is absorbed by the watcher and shows up as no change.
func (s *Service) tick(ctx context.Context, o *order, manual bool) (Snapshot, error) {
	s.mu.Lock()
	state := o.state
	snap := s.snapshot(o)
	s.mu.Unlock()

	switch state {
	case StateClaimed:
		return snap, nil
	case StateAwaitingCode, StateCodeDelivered:
	default:
		return snap, fmt.Errorf("%w: check in %s", ErrInvalidTransition, state)
	}

	switch s.watch.ClaimStatus(ctx, o.cred.Phone) {
	case watcher.StatusLoggedIn:
		return s.claim(ctx, o), nil
	case watcher.StatusNotWatching:
		if !manual {
			snap.Watching = false
			return snap, nil
		}
		if err := s.watch.Start(ctx, o.cred); err != nil {
			return snap, fmt.Errorf("%w: %w", ErrWatchUnavailable, err)
		}
		logger.LogEvent(ctx, logger.SVCPurchases, slog.LevelInfo, "purchase.rewatch", slog.String("status", "ok"))
	}

	code, ok := s.watch.PollCode(ctx, o.cred.Phone)

	s.mu.Lock()
	defer s.mu.Unlock()
	if ok && o.state != StateClaimed {
		if o.code != code.Code {
			logger.LogEvent(ctx, logger.SVCPurchases, slog.LevelInfo, "purchase.code",
				slog.String("code", logger.MaskCode(code.Code)),
				slog.String("status", "delivered"),
			)
		}
		o.state = StateCodeDelivered
		o.code = code.Code
	}
	return s.snapshot(o), nil
}

func (s *Service) claim(ctx context.Context, o *order) Snapshot {
	s.mu.Lock()
	if o.state == StateClaimed {
		snap := s.snapshot(o)
		s.mu.Unlock()
		return snap
	}
	o.state = StateClaimed
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	// a later request from history starts a new retrieval cycle
	if s.orders[o.id] == o {
		delete(s.orders, o.id)
	}
	snap := s.snapshot(o)
	s.mu.Unlock()

	s.watch.Stop(ctx, o.cred.Phone)
	logger.LogEvent(ctx, logger.SVCPurchases, slog.LevelInfo, "purchase.claim", slog.String("status", "ok"))
	events.Emit(ctx, s.events, events.PurchaseClaimed, map[string]any{
		"purchase_id": o.id,
		"telegram_id": o.buyer,
	})
	return snap
}

// Resend drops the delivered code and looks for a newer one.
func (s *Service) Resend(ctx context.Context, buyer, purchaseID int64) (Snapshot, error) {
	o, err := s.order(ctx, buyer, purchaseID)
	if err != nil {
		return Snapshot{}, err
	}
	ctx = s.logCtx(ctx, o)

	s.mu.Lock()
	if err := transition(o.state, StateAwaitingCode); err != nil {
		s.mu.Unlock()
		return Snapshot{}, err
	}
	o.state = StateAwaitingCode
	o.code = ""
	s.mu.Unlock()

	s.watch.ClearCode(ctx, o.cred.Phone)
	return s.tick(ctx, o, true)
}

// Outcome is how an Await loop ended.
type Outcome string

const (
	OutcomeClaimed  Outcome = "claimed"
	OutcomeTimedOut Outcome = "timed_out"
	OutcomeStopped  Outcome = "stopped"
)

// Await ticks every interval until the buyer logs in, the window runs out,
// or the loop is cancelled by ctx, Cancel or a newer Await for the same
// purchase. The window is a fixed number of ticks; a delivered code does
// not extend it. onTick sees every snapshot.
func (s *Service) Await(ctx context.Context, buyer, purchaseID int64, onTick func(Snapshot)) (Outcome, error) {
	o, err := s.order(ctx, buyer, purchaseID)
	if err != nil {
		return OutcomeStopped, err
	}
	ctx = s.logCtx(ctx, o)
	loopCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.gen++
	gen := o.gen
	o.cancel = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		if o.gen == gen {
			o.cancel = nil
		}
		s.mu.Unlock()
	}()

	outcome := s.loop(loopCtx, o, onTick)
	logger.LogEvent(ctx, logger.SVCPurchases, slog.LevelInfo, "purchase.await", slog.String("outcome", string(outcome)))
	return outcome, nil
}

func (s *Service) loop(ctx context.Context, o *order, onTick func(Snapshot)) Outcome {
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if ctx.Err() != nil {
			return OutcomeStopped
		}
		snap, err := s.tick(ctx, o, false)
		if ctx.Err() != nil {
			return OutcomeStopped
		}
		if err != nil {
			logger.LogEvent(ctx, logger.SVCPurchases, slog.LevelWarn, "purchase.tick",
				slog.Int("attempt", attempt),
				logger.Err(err),
			)
			return OutcomeStopped
		}
		snap.Attempt = attempt
		if onTick != nil {
			onTick(snap)
		}
		switch {
		case snap.State == StateClaimed:
			return OutcomeClaimed
		case !snap.Watching:
			return OutcomeStopped
		}
		if attempt == s.attempts {
			break
		}
		if err := s.wait(ctx, s.interval); err != nil {
			return OutcomeStopped
		}
	}
	return OutcomeTimedOut
}

// Cancel ends any Await loop for the purchase and closes its watch.
func (s *Service) Cancel(ctx context.Context, buyer, purchaseID int64) error {
	s.mu.Lock()
	o, ok := s.orders[purchaseID]
	if !ok || o.buyer != buyer {
		s.mu.Unlock()
		return nil
	}
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	s.mu.Unlock()

	ctx = s.logCtx(ctx, o)
	s.watch.Stop(ctx, o.cred.Phone)
	logger.LogEvent(ctx, logger.SVCPurchases, slog.LevelInfo, "purchase.cancel", slog.String("status", "ok"))
	return nil
}

// State reports the in-memory state of a purchase.
func (s *Service) State(purchaseID int64) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[purchaseID]
	if !ok {
		return "", false
	}
	return o.state, true
}

// Purchases lists the buyer's latest purchases.
func (s *Service) Purchases(ctx context.Context, buyer int64) ([]models.PurchaseView, error) {
	return s.store.PurchasesByUser(ctx, buyer, historyLimit)
}

// Credential returns the stored credential of a purchase owned by buyer.
func (s *Service) Credential(ctx context.Context, buyer, purchaseID int64) (mtproto.Credential, error) {
	o, err := s.order(ctx, buyer, purchaseID)
	if err != nil {
		return mtproto.Credential{}, err
	}
	return o.cred, nil
}
