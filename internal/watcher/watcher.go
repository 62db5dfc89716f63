// Package watcher keeps long-lived connections to sold accounts, relays the
// login codes Telegram sends them and detects when the buyer has logged in.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/m3rciful/numbershop/core/logger"
	"github.com/m3rciful/numbershop/internal/codecache"
	"github.com/m3rciful/numbershop/internal/mtproto"
)

// ErrStopped is returned by Start when Stop ran while the dial was in flight.
var ErrStopped = errors.New("watcher: watch stopped while dialing")

// Status is the claim state of a phone number.
type Status string

const (
	StatusNotWatching Status = "NOT_WATCHING"
	StatusWaiting     Status = "WAITING"
	StatusLoggedIn    Status = "LOGGED_IN"
)

const (
	defaultFreshness   = 5 * time.Minute
	defaultDialTimeout = 20 * time.Second
	claimScanDepth     = 5
	cacheOpTimeout     = 2 * time.Second
)

// Options configures a Watcher.
type Options struct {
	Dialer      mtproto.Dialer
	Cache       codecache.Cache
	Freshness   time.Duration
	DialTimeout time.Duration
	Now         func() time.Time
}

// Info describes one registered watch.
type Info struct {
	Phone     string
	StartedAt time.Time
	Claimed   bool
}

type watch struct {
	phone string
	// started is the watch start in unix nanoseconds.
	started atomic.Int64
	claimed atomic.Bool

	// mu serializes protocol calls on conn.
	mu   sync.Mutex
	conn mtproto.Conn
}

func (e *watch) startedAt() time.Time {
	return time.Unix(0, e.started.Load())
}

// Watcher is the registry of watches keyed by phone number.
type Watcher struct {
	dialer      mtproto.Dialer
	cache       codecache.Cache
	freshness   time.Duration
	dialTimeout time.Duration
	now         func() time.Time

	mu      sync.Mutex
	watches map[string]*watch
	// dialing holds a stop flag per phone with a dial in flight.
	dialing map[string]*bool
	dials   singleflight.Group
}

// New returns an empty Watcher.
func New(opts Options) *Watcher {
	w := &Watcher{
		dialer:      opts.Dialer,
		cache:       opts.Cache,
		freshness:   opts.Freshness,
		dialTimeout: opts.DialTimeout,
		now:         opts.Now,
		watches:     make(map[string]*watch),
		dialing:     make(map[string]*bool),
	}
	if w.cache == nil {
		w.cache = codecache.NewMemory()
	}
	if w.freshness <= 0 {
		w.freshness = defaultFreshness
	}
	if w.dialTimeout <= 0 {
		w.dialTimeout = defaultDialTimeout
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w
}

func (w *Watcher) lookup(phone string) *watch {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watches[phone]
}

// refresh moves the start of a live watch to now and reports whether one existed.
func (w *Watcher) refresh(phone string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.watches[phone]
	if !ok || e.claimed.Load() {
		return false
	}
	e.started.Store(w.now().UnixNano())
	return true
}

// Start opens a watch for cred.Phone. On a live watch it only refreshes the
// start time. Concurrent calls for one phone share a single dial. Dial
// failures return a CONNECTION_FAILURE fault and are not retried.
func (w *Watcher) Start(ctx context.Context, cred mtproto.Credential) error {
	ctx = logger.WithPhone(ctx, cred.Phone)
	if w.refresh(cred.Phone) {
		logger.Info(ctx, logger.CompWatcher, "watch.start", slog.String("status", "refreshed"))
		return nil
	}
	_, err, shared := w.dials.Do(cred.Phone, func() (any, error) {
		return nil, w.open(ctx, cred)
	})
	if shared {
		logger.Debug(ctx, logger.CompWatcher, "watch.start", slog.String("status", "joined"))
	}
	return err
}

func (w *Watcher) open(ctx context.Context, cred mtproto.Credential) error {
	if w.refresh(cred.Phone) {
		return nil
	}
	stopped := new(bool)
	w.mu.Lock()
	// a claimed tombstone is replaced by a fresh watch
	delete(w.watches, cred.Phone)
	w.dialing[cred.Phone] = stopped
	w.mu.Unlock()

	e := &watch{phone: cred.Phone}
	e.started.Store(w.now().UnixNano())

	dialCtx, cancel := context.WithTimeout(ctx, w.dialTimeout)
	defer cancel()
	start := time.Now()
	conn, err := w.dialer.Dial(dialCtx, cred, w.observer(e))

	w.mu.Lock()
	delete(w.dialing, cred.Phone)
	if err == nil && !*stopped {
		e.conn = conn
		w.watches[cred.Phone] = e
	}
	count := len(w.watches)
	w.mu.Unlock()

	if err == nil && *stopped {
		_ = conn.Close()
		w.ClearCode(ctx, cred.Phone)
		logger.Info(ctx, logger.CompWatcher, "watch.start",
			slog.String("status", "stopped"),
			slog.Duration("duration", logger.Took(start)),
		)
		return ErrStopped
	}
	if err != nil {
		if !errors.Is(err, mtproto.ErrConnectionFailure) {
			err = &mtproto.Fault{Kind: mtproto.KindConnectionFailure, Op: "dial", Phone: cred.Phone, Err: err}
		}
		logger.Error(ctx, logger.CompWatcher, "watch.start",
			slog.String("status", "fail"),
			slog.Duration("duration", logger.Took(start)),
			logger.Err(err),
		)
		return err
	}

	logger.Info(ctx, logger.CompWatcher, "watch.start",
		slog.String("status", "ok"),
		slog.Int("watches", count),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// acceptable reports whether a system message dated date may be attributed to
// watch e: not older than the watch and still within the freshness window.
// Message dates have second precision, so the start is truncated to the second.
func (w *Watcher) acceptable(e *watch, date time.Time) bool {
	if date.Before(e.startedAt().Truncate(time.Second)) {
		return false
	}
	return w.now().Sub(date) < w.freshness
}

// observer caches codes pushed to the connection. It never touches the connection.
func (w *Watcher) observer(e *watch) func(mtproto.Message) {
	return func(m mtproto.Message) {
		if m.SenderID != mtproto.SystemPeerID || e.claimed.Load() {
			return
		}
		code, ok := ExtractCode(m.Text)
		if !ok || !w.acceptable(e, m.Date) {
			return
		}
		if cur := w.lookup(e.phone); cur != nil && cur != e {
			return
		}
		ctx, cancel := context.WithTimeout(logger.WithPhone(context.Background(), e.phone), cacheOpTimeout)
		defer cancel()
		if err := w.cache.Put(ctx, e.phone, codecache.Code{Code: code, CapturedAt: m.Date}); err != nil {
			logger.Warn(ctx, logger.CompWatcher, "watch.push", slog.String("status", "fail"), logger.Err(err))
			return
		}
		logger.Info(ctx, logger.CompWatcher, "watch.push",
			slog.String("status", "ok"),
			slog.String("code", logger.MaskCode(code)),
		)
	}
}

// PollCode fetches the newest system message and returns its code when the
// message belongs to this watch and is fresh. Otherwise it falls back to a
// fresh cached code. Protocol errors count as a miss.
func (w *Watcher) PollCode(ctx context.Context, phone string) (codecache.Code, bool) {
	ctx = logger.WithPhone(ctx, phone)
	e := w.lookup(phone)
	if e == nil || e.claimed.Load() {
		return codecache.Code{}, false
	}

	e.mu.Lock()
	var (
		msgs []mtproto.Message
		err  error
	)
	if e.conn != nil {
		msgs, err = e.conn.RecentMessages(ctx, mtproto.SystemPeerID, 1)
	}
	e.mu.Unlock()

	if err != nil {
		logger.Debug(ctx, logger.CompWatcher, "watch.poll", slog.String("status", "fail"), logger.Err(err))
	} else if len(msgs) > 0 {
		m := msgs[0]
		if code, ok := ExtractCode(m.Text); ok && w.acceptable(e, m.Date) {
			c := codecache.Code{Code: code, CapturedAt: m.Date}
			if err := w.cache.Put(ctx, phone, c); err != nil {
				logger.Warn(ctx, logger.CompWatcher, "watch.poll", slog.String("cache", "error"), logger.Err(err))
			}
			logger.Info(ctx, logger.CompWatcher, "watch.poll",
				slog.String("status", "ok"),
				slog.String("cache", "miss"),
				slog.String("code", logger.MaskCode(code)),
			)
			return c, true
		}
	}
	return w.CachedCode(ctx, phone)
}

// CachedCode reads the cache only. A code is served while fresh and, when a
// watch exists, only if it was captured during that watch.
func (w *Watcher) CachedCode(ctx context.Context, phone string) (codecache.Code, bool) {
	c, ok, err := w.cache.Get(ctx, phone)
	if err != nil {
		logger.Warn(ctx, logger.CompWatcher, "watch.cache", slog.String("cache", "error"), logger.Err(err))
		return codecache.Code{}, false
	}
	if !ok || !c.FreshAt(w.now(), w.freshness) {
		return codecache.Code{}, false
	}
	if e := w.lookup(phone); e != nil && c.CapturedAt.Before(e.startedAt().Truncate(time.Second)) {
		return codecache.Code{}, false
	}
	return c, true
}

// ClearCode drops the cached code so a resend cannot re-serve it.
func (w *Watcher) ClearCode(ctx context.Context, phone string) {
	if err := w.cache.Delete(ctx, phone); err != nil {
		logger.Warn(logger.WithPhone(ctx, phone), logger.CompWatcher, "watch.clear", logger.Err(err))
	}
}

// ClaimStatus reports whether the buyer has logged in. A revoked session is
// the primary signal; a login notice newer than the watch start is the
// fallback. A claim closes the connection and leaves a tombstone until Stop.
func (w *Watcher) ClaimStatus(ctx context.Context, phone string) Status {
	ctx = logger.WithPhone(ctx, phone)
	e := w.lookup(phone)
	if e == nil {
		return StatusNotWatching
	}
	if e.claimed.Load() {
		return StatusLoggedIn
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		if e.claimed.Load() {
			return StatusLoggedIn
		}
		return StatusNotWatching
	}

	signal := ""
	_, err := e.conn.Self(ctx)
	switch {
	case errors.Is(err, mtproto.ErrAuthRevoked):
		signal = "auth_revoked"
	case err != nil:
		logger.Debug(ctx, logger.CompWatcher, "watch.claim", slog.String("status", "waiting"), logger.Err(err))
		return StatusWaiting
	default:
		msgs, err := e.conn.RecentMessages(ctx, mtproto.SystemPeerID, claimScanDepth)
		if err != nil {
			logger.Debug(ctx, logger.CompWatcher, "watch.claim", slog.String("status", "waiting"), logger.Err(err))
			return StatusWaiting
		}
		started := e.startedAt()
		for _, m := range msgs {
			if m.SenderID == mtproto.SystemPeerID && m.Date.After(started) && isLoginNotice(m.Text) {
				signal = "login_notice"
				break
			}
		}
	}
	if signal == "" {
		return StatusWaiting
	}

	e.claimed.Store(true)
	_ = e.conn.Close()
	e.conn = nil
	logger.Info(ctx, logger.CompWatcher, "watch.claim",
		slog.String("status", "logged_in"),
		slog.String("signal", signal),
	)
	return StatusLoggedIn
}

// Stop closes the watch and evicts its cached code. A dial in flight is
// abandoned once it returns. Stopping an unknown phone is a no-op.
func (w *Watcher) Stop(ctx context.Context, phone string) {
	ctx = logger.WithPhone(ctx, phone)
	w.mu.Lock()
	e, ok := w.watches[phone]
	delete(w.watches, phone)
	if stopped, dialing := w.dialing[phone]; dialing {
		*stopped = true
	}
	w.mu.Unlock()

	if ok {
		e.mu.Lock()
		if e.conn != nil {
			if err := e.conn.Close(); err != nil {
				logger.Warn(ctx, logger.CompWatcher, "watch.stop", logger.Err(err))
			}
			e.conn = nil
		}
		e.mu.Unlock()
	}
	w.ClearCode(ctx, phone)
	if ok {
		logger.Info(ctx, logger.CompWatcher, "watch.stop", slog.String("status", "ok"))
	}
}

// Watches lists registered watches, claimed tombstones included, by phone.
func (w *Watcher) Watches() []Info {
	w.mu.Lock()
	out := make([]Info, 0, len(w.watches))
	for phone, e := range w.watches {
		out = append(out, Info{Phone: phone, StartedAt: e.startedAt(), Claimed: e.claimed.Load()})
	}
	w.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Phone < out[j].Phone })
	return out
}

// Active lists phones with a live, unclaimed watch.
func (w *Watcher) Active() []string {
	var phones []string
	for _, info := range w.Watches() {
		if !info.Claimed {
			phones = append(phones, info.Phone)
		}
	}
	return phones
}

// Count is len(Active()).
func (w *Watcher) Count() int {
	return len(w.Active())
}

// Close stops every watch concurrently.
func (w *Watcher) Close(ctx context.Context) error {
	w.mu.Lock()
	phones := make([]string, 0, len(w.watches))
	for phone := range w.watches {
		phones = append(phones, phone)
	}
	for _, stopped := range w.dialing {
		*stopped = true
	}
	w.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, phone := range phones {
		g.Go(func() error {
			w.Stop(gctx, phone)
			return nil
		})
	}
	err := g.Wait()
	logger.Info(ctx, logger.CompWatcher, "watch.shutdown",
		slog.String("status", logger.Status(err)),
		slog.Int("watches", len(phones)),
	)
	return err
}
