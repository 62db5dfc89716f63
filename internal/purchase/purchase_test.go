package purchase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/numbershop/internal/codecache"
	"github.com/m3rciful/numbershop/internal/events"
	"github.com/m3rciful/numbershop/internal/models"
	"github.com/m3rciful/numbershop/internal/mtproto"
	"github.com/m3rciful/numbershop/internal/store"
	"github.com/m3rciful/numbershop/internal/watcher"
)

const (
	buyer    int64 = 1001
	stranger int64 = 2002
	india    int64 = 1
	phone          = "+919800000001"
)

type fakeStore struct {
	mu        sync.Mutex
	balance   decimal.Decimal
	price     decimal.Decimal
	available int
	nextID    int64
	owners    map[int64]int64
}

func newFakeStore(balance, price int64, available int) *fakeStore {
	return &fakeStore{
		balance:   decimal.NewFromInt(balance),
		price:     decimal.NewFromInt(price),
		available: available,
		owners:    make(map[int64]int64),
	}
}

func (f *fakeStore) stock() models.CountryStock {
	return models.CountryStock{
		Country:   models.Country{ID: india, Name: "India", Emoji: "🇮🇳", Price: f.price},
		Available: f.available,
	}
}

func (f *fakeStore) Countries(context.Context, bool) ([]models.CountryStock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []models.CountryStock{f.stock()}, nil
}

func (f *fakeStore) CountryStock(_ context.Context, id int64) (models.CountryStock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != india {
		return models.CountryStock{}, store.ErrNotFound
	}
	return f.stock(), nil
}

func (f *fakeStore) UserByTelegramID(_ context.Context, tg int64) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return models.User{TelegramID: tg, Balance: f.balance}, nil
}

func (f *fakeStore) ConfirmPurchase(_ context.Context, req store.ConfirmRequest) (store.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balance.LessThan(f.price) {
		return store.Receipt{}, &store.InsufficientBalanceError{Balance: f.balance, Price: f.price}
	}
	if f.available == 0 {
		return store.Receipt{}, store.ErrOutOfStock
	}
	f.available--
	f.balance = f.balance.Sub(f.price)
	f.nextID++
	f.owners[f.nextID] = req.TelegramID
	return store.Receipt{
		Purchase: models.Purchase{ID: f.nextID, Amount: f.price},
		Account:  models.Account{ID: 10, PhoneNumber: phone, SessionData: "session"},
		Balance:  f.balance,
	}, nil
}

func (f *fakeStore) PurchaseAccount(_ context.Context, purchaseID, tg int64) (models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owners[purchaseID] != tg {
		return models.Account{}, store.ErrNotFound
	}
	pw := "hunter2"
	return models.Account{ID: 10, PhoneNumber: phone, SessionData: "session", TwoFAPassword: &pw}, nil
}

func (f *fakeStore) PurchasesByUser(_ context.Context, tg int64, _ int) ([]models.PurchaseView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PurchaseView
	for id, owner := range f.owners {
		if owner == tg {
			out = append(out, models.PurchaseView{Purchase: models.Purchase{ID: id}, PhoneNumber: phone})
		}
	}
	return out, nil
}

type fakeWatcher struct {
	mu       sync.Mutex
	watching bool
	startErr error
	starts   int
	stops    int
	clears   int
	code     string
	// claimAfter makes ClaimStatus report LOGGED_IN from the n-th call on; zero never.
	claimAfter int
	claimCalls int
}

func (w *fakeWatcher) Start(context.Context, mtproto.Credential) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.starts++
	if w.startErr != nil {
		return w.startErr
	}
	w.watching = true
	return nil
}

func (w *fakeWatcher) PollCode(context.Context, string) (codecache.Code, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.watching || w.code == "" {
		return codecache.Code{}, false
	}
	return codecache.Code{Code: w.code, CapturedAt: time.Now()}, true
}

func (w *fakeWatcher) ClearCode(context.Context, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clears++
	w.code = ""
}

func (w *fakeWatcher) ClaimStatus(context.Context, string) watcher.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.watching {
		return watcher.StatusNotWatching
	}
	w.claimCalls++
	if w.claimAfter > 0 && w.claimCalls >= w.claimAfter {
		return watcher.StatusLoggedIn
	}
	return watcher.StatusWaiting
}

func (w *fakeWatcher) Stop(context.Context, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stops++
	w.watching = false
}

func (w *fakeWatcher) setCode(code string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.code = code
}

type recorder struct {
	mu    sync.Mutex
	types []string
}

func (r *recorder) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, ev.Type)
	return nil
}

func noWait(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newService(st *fakeStore, w *fakeWatcher, pub events.Publisher) *Service {
	return New(Options{Store: st, Watcher: w, Publisher: pub, Attempts: 4, Interval: time.Millisecond, Wait: noWait})
}

func buy(t *testing.T, s *Service) int64 {
	t.Helper()
	ctx := context.Background()
	_, err := s.Browse(ctx, buyer)
	require.NoError(t, err)
	_, err = s.Select(ctx, buyer, india)
	require.NoError(t, err)
	rc, err := s.Confirm(ctx, buyer, india)
	require.NoError(t, err)
	return rc.Purchase.ID
}

func TestTransitionTable(t *testing.T) {
	assert.True(t, CanTransition(StateBrowsing, StateConfirming))
	assert.True(t, CanTransition(StateCodeDelivered, StateAwaitingCode))
	assert.False(t, CanTransition(StateBrowsing, StatePaid))
	assert.False(t, CanTransition(StateClaimed, StateAwaitingCode))
	assert.ErrorIs(t, transition(StatePaid, StateClaimed), ErrInvalidTransition)
}

func TestConfirmChargesBuyer(t *testing.T) {
	st := newFakeStore(100, 80, 1)
	pub := &recorder{}
	s := newService(st, &fakeWatcher{}, pub)
	ctx := context.Background()

	_, err := s.Browse(ctx, buyer)
	require.NoError(t, err)
	q, err := s.Select(ctx, buyer, india)
	require.NoError(t, err)
	assert.True(t, q.Affordable)

	rc, err := s.Confirm(ctx, buyer, india)
	require.NoError(t, err)
	assert.True(t, rc.Balance.Equal(decimal.NewFromInt(20)))
	state, ok := s.State(rc.Purchase.ID)
	require.True(t, ok)
	assert.Equal(t, StatePaid, state)
	assert.Equal(t, []string{events.PurchaseConfirmed}, pub.types)

	_, err = s.Select(ctx, stranger, india)
	assert.ErrorIs(t, err, store.ErrOutOfStock)
}

func TestConfirmWithoutSelection(t *testing.T) {
	s := newService(newFakeStore(100, 80, 1), &fakeWatcher{}, nil)
	_, err := s.Confirm(context.Background(), buyer, india)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestConfirmInsufficientBalance(t *testing.T) {
	s := newService(newFakeStore(50, 80, 1), &fakeWatcher{}, nil)
	ctx := context.Background()

	q, err := s.Select(ctx, buyer, india)
	require.NoError(t, err)
	assert.False(t, q.Affordable)
	assert.True(t, q.Shortfall.Equal(decimal.NewFromInt(30)))

	_, err = s.Confirm(ctx, buyer, india)
	require.ErrorIs(t, err, store.ErrInsufficientBalance)
	var ib *store.InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assert.True(t, ib.Shortfall().Equal(decimal.NewFromInt(30)))

	_, err = s.Confirm(ctx, buyer, india)
	assert.ErrorIs(t, err, ErrInvalidTransition, "a rejected confirm returns the buyer to browsing")
}

func TestBeginCodeRetrievalWatchFailureKeepsPurchase(t *testing.T) {
	w := &fakeWatcher{startErr: mtproto.ErrConnectionFailure}
	s := newService(newFakeStore(100, 80, 1), w, nil)
	id := buy(t, s)

	_, err := s.BeginCodeRetrieval(context.Background(), buyer, id)
	require.ErrorIs(t, err, ErrWatchUnavailable)
	assert.ErrorIs(t, err, mtproto.ErrConnectionFailure)
	state, _ := s.State(id)
	assert.Equal(t, StatePaid, state)

	w.mu.Lock()
	w.startErr = nil
	w.mu.Unlock()
	snap, err := s.BeginCodeRetrieval(context.Background(), buyer, id)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingCode, snap.State)
}

func TestOnlyOwnerCanRetrieve(t *testing.T) {
	s := newService(newFakeStore(100, 80, 1), &fakeWatcher{}, nil)
	id := buy(t, s)

	_, err := s.BeginCodeRetrieval(context.Background(), stranger, id)
	assert.ErrorIs(t, err, ErrUnknownPurchase)
	_, err = s.Check(context.Background(), stranger, id)
	assert.ErrorIs(t, err, ErrUnknownPurchase)
}

func TestRetrievalFromHistoryRebuildsOrder(t *testing.T) {
	st := newFakeStore(100, 80, 1)
	id := buy(t, newService(st, &fakeWatcher{}, nil))

	s := newService(st, &fakeWatcher{}, nil)
	snap, err := s.BeginCodeRetrieval(context.Background(), buyer, id)
	require.NoError(t, err)
	assert.Equal(t, phone, snap.Phone)
	assert.Equal(t, "hunter2", snap.TwoFA)
}

func TestCheckDeliversCodeThenClaims(t *testing.T) {
	w := &fakeWatcher{}
	pub := &recorder{}
	s := newService(newFakeStore(100, 80, 1), w, pub)
	ctx := context.Background()
	id := buy(t, s)
	_, err := s.BeginCodeRetrieval(ctx, buyer, id)
	require.NoError(t, err)

	snap, err := s.Check(ctx, buyer, id)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingCode, snap.State)

	w.setCode("48213")
	snap, err = s.Check(ctx, buyer, id)
	require.NoError(t, err)
	assert.Equal(t, StateCodeDelivered, snap.State)
	assert.Equal(t, "48213", snap.Code)

	w.mu.Lock()
	w.claimAfter = 1
	w.mu.Unlock()
	snap, err = s.Check(ctx, buyer, id)
	require.NoError(t, err)
	assert.Equal(t, StateClaimed, snap.State)
	assert.Equal(t, 1, w.stops)
	assert.Contains(t, pub.types, events.PurchaseClaimed)
	_, ok := s.State(id)
	assert.False(t, ok)
}

func TestManualCheckReopensMissingWatch(t *testing.T) {
	w := &fakeWatcher{}
	s := newService(newFakeStore(100, 80, 1), w, nil)
	ctx := context.Background()
	id := buy(t, s)
	_, err := s.BeginCodeRetrieval(ctx, buyer, id)
	require.NoError(t, err)

	w.Stop(ctx, phone)
	snap, err := s.Check(ctx, buyer, id)
	require.NoError(t, err)
	assert.True(t, snap.Watching)
	assert.Equal(t, 2, w.starts)
}

func TestResendClearsCode(t *testing.T) {
	w := &fakeWatcher{}
	s := newService(newFakeStore(100, 80, 1), w, nil)
	ctx := context.Background()
	id := buy(t, s)
	_, err := s.BeginCodeRetrieval(ctx, buyer, id)
	require.NoError(t, err)

	_, err = s.Resend(ctx, buyer, id)
	assert.ErrorIs(t, err, ErrInvalidTransition, "nothing delivered yet")

	w.setCode("11111")
	_, err = s.Check(ctx, buyer, id)
	require.NoError(t, err)

	snap, err := s.Resend(ctx, buyer, id)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingCode, snap.State)
	assert.Empty(t, snap.Code)
	assert.Equal(t, 1, w.clears)
}

func TestAwaitTimesOut(t *testing.T) {
	w := &fakeWatcher{}
	s := newService(newFakeStore(100, 80, 1), w, nil)
	ctx := context.Background()
	id := buy(t, s)
	_, err := s.BeginCodeRetrieval(ctx, buyer, id)
	require.NoError(t, err)

	var attempts []int
	out, err := s.Await(ctx, buyer, id, func(snap Snapshot) { attempts = append(attempts, snap.Attempt) })
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, out)
	assert.Equal(t, []int{1, 2, 3, 4}, attempts)
}

func TestAwaitDeliveredCodeDoesNotExtendWindow(t *testing.T) {
	w := &fakeWatcher{code: "55555"}
	s := newService(newFakeStore(100, 80, 1), w, nil)
	ctx := context.Background()
	id := buy(t, s)
	_, err := s.BeginCodeRetrieval(ctx, buyer, id)
	require.NoError(t, err)

	var snaps []Snapshot
	out, err := s.Await(ctx, buyer, id, func(snap Snapshot) { snaps = append(snaps, snap) })
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, out)
	require.Len(t, snaps, 4)
	for i, snap := range snaps {
		assert.Equal(t, StateCodeDelivered, snap.State)
		assert.Equal(t, i+1, snap.Attempt)
	}
}

func TestAwaitClaimed(t *testing.T) {
	w := &fakeWatcher{claimAfter: 3}
	s := newService(newFakeStore(100, 80, 1), w, nil)
	ctx := context.Background()
	id := buy(t, s)
	_, err := s.BeginCodeRetrieval(ctx, buyer, id)
	require.NoError(t, err)

	var last Snapshot
	out, err := s.Await(ctx, buyer, id, func(snap Snapshot) { last = snap })
	require.NoError(t, err)
	assert.Equal(t, OutcomeClaimed, out)
	assert.Equal(t, StateClaimed, last.State)
	assert.Equal(t, 3, last.Attempt)
}

func TestAwaitStopsWhenWatchDisappears(t *testing.T) {
	w := &fakeWatcher{}
	s := newService(newFakeStore(100, 80, 1), w, nil)
	ctx := context.Background()
	id := buy(t, s)
	_, err := s.BeginCodeRetrieval(ctx, buyer, id)
	require.NoError(t, err)
	w.Stop(ctx, phone)

	out, err := s.Await(ctx, buyer, id, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStopped, out)
}

func TestNewerAwaitCancelsOlder(t *testing.T) {
	w := &fakeWatcher{}
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	s := New(Options{
		Store:    newFakeStore(100, 80, 1),
		Watcher:  w,
		Attempts: 3,
		Wait: func(ctx context.Context, _ time.Duration) error {
			select {
			case entered <- struct{}{}:
			default:
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-release:
				return nil
			}
		},
	})
	ctx := context.Background()
	id := buy(t, s)
	_, err := s.BeginCodeRetrieval(ctx, buyer, id)
	require.NoError(t, err)

	first := make(chan Outcome, 1)
	go func() {
		out, _ := s.Await(ctx, buyer, id, nil)
		first <- out
	}()
	<-entered

	second := make(chan Outcome, 1)
	go func() {
		out, _ := s.Await(ctx, buyer, id, nil)
		second <- out
	}()

	select {
	case out := <-first:
		assert.Equal(t, OutcomeStopped, out)
	case <-time.After(2 * time.Second):
		t.Fatal("older loop was not cancelled")
	}

	require.NoError(t, s.Cancel(ctx, buyer, id))
	select {
	case out := <-second:
		assert.Equal(t, OutcomeStopped, out)
	case <-time.After(2 * time.Second):
		t.Fatal("cancel did not stop the loop")
	}
	close(release)
	assert.Equal(t, 1, w.stops)
}

func TestAwaitHonoursContext(t *testing.T) {
	w := &fakeWatcher{}
	s := New(Options{Store: newFakeStore(100, 80, 1), Watcher: w, Attempts: 24, Interval: time.Hour})
	id := buy(t, s)
	_, err := s.BeginCodeRetrieval(context.Background(), buyer, id)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out, err := s.Await(ctx, buyer, id, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStopped, out)
}

func TestPurchasesLists(t *testing.T) {
	s := newService(newFakeStore(200, 80, 2), &fakeWatcher{}, nil)
	buy(t, s)
	buy(t, s)

	list, err := s.Purchases(context.Background(), buyer)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = s.Credential(context.Background(), stranger, list[0].ID)
	assert.True(t, errors.Is(err, ErrUnknownPurchase))
}
