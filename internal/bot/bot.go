// Package bot is the Telegram storefront: menus, purchases, code delivery,
// device management, deposits and admin review.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/numbershop/core/buildinfo"
	coreconfig "github.com/m3rciful/numbershop/core/config"
	"github.com/m3rciful/numbershop/core/logger"
	tg "github.com/m3rciful/numbershop/core/telegram"
	"github.com/m3rciful/numbershop/core/telegram/format"
	"github.com/m3rciful/numbershop/core/telegram/helpers"
	"github.com/m3rciful/numbershop/core/telegram/middleware"
	"github.com/m3rciful/numbershop/core/telegram/state"
	"github.com/m3rciful/numbershop/internal/deposit"
	"github.com/m3rciful/numbershop/internal/devices"
	"github.com/m3rciful/numbershop/internal/models"
	"github.com/m3rciful/numbershop/internal/mtproto"
	"github.com/m3rciful/numbershop/internal/purchase"
	"github.com/m3rciful/numbershop/internal/store"
	"github.com/m3rciful/numbershop/internal/watcher"
)

// Users is the user and settings storage the bot touches directly.
type Users interface {
	UpsertUser(ctx context.Context, telegramID int64, username, fullName string, isAdmin bool) (models.User, error)
	UserByTelegramID(ctx context.Context, telegramID int64) (models.User, error)
	AddAccount(ctx context.Context, a models.Account) (int64, error)
	Setting(ctx context.Context, key string) (string, error)
	PutSetting(ctx context.Context, key, value string) error
}

// Options wires the bot to its services.
type Options struct {
	Users     Users
	Purchases *purchase.Service
	Deposits  *deposit.Service
	Devices   *devices.Lister
	Watcher   *watcher.Watcher
	FSM       state.Manager

	Telegram       coreconfig.TelegramConfig
	Currency       string
	SupportContact string
}

// Bot holds handler dependencies and the background code loops.
type Bot struct {
	users     Users
	purchases *purchase.Service
	deposits  *deposit.Service
	devices   *devices.Lister
	watcher   *watcher.Watcher
	fsm       state.Manager
	tgcfg     coreconfig.TelegramConfig
	currency  string
	support   string

	api tele.API

	seen sync.Map

	// loops run Await outside any update and end with Shutdown.
	loopCtx  context.Context
	stopAll  context.CancelFunc
	loops    sync.WaitGroup
	loopsMu  sync.Mutex
	stopping bool
}

// New returns a Bot; Register must be called before the bot starts.
func New(opts Options) *Bot {
	fsm := opts.FSM
	if fsm == nil {
		fsm = state.NewMemoryManager()
	}
	currency := opts.Currency
	if currency == "" {
		currency = "₹"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		users:     opts.Users,
		purchases: opts.Purchases,
		deposits:  opts.Deposits,
		devices:   opts.Devices,
		watcher:   opts.Watcher,
		fsm:       fsm,
		tgcfg:     opts.Telegram,
		currency:  currency,
		support:   opts.SupportContact,
		loopCtx:   ctx,
		stopAll:   cancel,
	}
}

// FSM exposes the conversation manager for the text router.
func (b *Bot) FSM() state.Manager { return b.fsm }

// IsAdmin reports whether id may run admin commands.
func (b *Bot) IsAdmin(id int64) bool { return b.tgcfg.IsAdmin(id) }

// Attach gives the bot the API used outside update handlers.
func (b *Bot) Attach(rt tg.Runtime) {
	b.api = rt.Bot
}

// Shutdown cancels running code loops and waits for them.
func (b *Bot) Shutdown(ctx context.Context) error {
	b.loopsMu.Lock()
	b.stopping = true
	b.loopsMu.Unlock()
	b.stopAll()

	done := make(chan struct{})
	go func() {
		b.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bot: waiting for code loops: %w", ctx.Err())
	}
}

// spawn runs fn in the background unless the bot is shutting down.
func (b *Bot) spawn(fn func(ctx context.Context)) bool {
	b.loopsMu.Lock()
	defer b.loopsMu.Unlock()
	if b.stopping {
		return false
	}
	b.loops.Add(1)
	go func() {
		defer b.loops.Done()
		fn(b.loopCtx)
	}()
	return true
}

// Register binds commands, callbacks and conversation steps.
func (b *Bot) Register(reg *tg.Registry) error {
	commands := map[string]tg.Command{
		"/start":     {Handler: b.handleStart, Description: "Open the shop menu", Aliases: []string{"/menu"}},
		"/help":      {Handler: b.handleHelp, Description: "How buying works"},
		"/balance":   {Handler: b.handleProfile, Description: "Show your balance"},
		"/purchases": {Handler: b.handlePurchases, Description: "Numbers you bought"},
		"/cancel":    {Handler: b.handleCancelFlow, Description: "Abort the current step"},
		"/version":   {Handler: b.handleVersion, Description: "Build version", Hidden: true},

		"/pending":    {Handler: b.handlePending, Description: "Deposits awaiting review", AdminOnly: true},
		"/watches":    {Handler: b.handleWatches, Description: "Active code watches", AdminOnly: true},
		"/stopwatch":  {Handler: b.handleStopWatch, Description: "Stop a watch: /stopwatch <phone>", AdminOnly: true},
		"/setupi":     {Handler: b.handleSetUPI, Description: "Set the UPI id: /setupi <id>", AdminOnly: true},
		"/setsupport": {Handler: b.handleSetSupport, Description: "Set the support contact: /setsupport <contact>", AdminOnly: true},
		"/addaccount": {Handler: b.handleAddAccount, Description: "Stock a number: /addaccount <country_id> <phone> <session> [2fa] [kind=ID|SESSION]", AdminOnly: true},
	}
	for name, cmd := range commands {
		if err := reg.RegisterCommand(name, cmd); err != nil {
			return err
		}
	}

	gate := middleware.AdminOnlyMiddleware(middleware.AdminOptions{IsAdmin: b.IsAdmin, OnReject: b.rejectAdmin})
	callbacks := map[string]tele.HandlerFunc{
		cbMenu:      b.handleMenu,
		cbShop:      b.handleShop,
		cbCountry:   b.handleCountry,
		cbBuy:       b.handleBuy,
		cbPurchases: b.handlePurchases,
		cbProfile:   b.handleProfile,
		cbHistory:   b.handleDepositHistory,
		cbHelp:      b.handleHelp,

		cbOTP:       b.handleGetCode,
		cbOTPCheck:  b.handleCheckCode,
		cbOTPResend: b.handleResendCode,
		cbOTPStop:   b.handleStopCode,

		cbDevices:       b.handleDevices,
		cbDeviceKill:    b.handleRevokeDevice,
		cbDeviceKillAll: b.handleRevokeOthers,

		cbDeposit:        b.handleDepositStart,
		cbDepositUTROK:   b.handleUTRConfirmed,
		cbDepositUTREdit: b.handleUTREdit,
		cbDepositShotOK:  b.handleDepositSubmit,
		cbDepositShotRe:  b.handleScreenshotRedo,
		cbDepositCancel:  b.handleCancelFlow,

		cbAdminApprove: gate(b.handleAdminApprove),
		cbAdminReject:  gate(b.handleAdminReject),
	}
	for key, h := range callbacks {
		if err := reg.RegisterCallback(key, h); err != nil {
			return err
		}
	}
	reg.SetTextFallback(b.handleUnknownText)

	b.fsm.Handle(stDepositAmount, b.onDepositAmount)
	b.fsm.Handle(stDepositUTR, b.onDepositUTR)
	b.fsm.Handle(stDepositUTRConfirm, b.onAwaitButtons)
	b.fsm.Handle(stDepositScreenshot, b.onDepositScreenshot)
	b.fsm.Handle(stDepositShotConfirm, b.onAwaitButtons)
	return nil
}

// TrackUsers records every sender once per process so later lookups find them.
func (b *Bot) TrackUsers(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if u := c.Sender(); u != nil && b.users != nil {
			if _, ok := b.seen.Load(u.ID); !ok {
				ctx := helpers.BuildContext(c)
				if _, err := b.users.UpsertUser(ctx, u.ID, u.Username, fullName(u), b.IsAdmin(u.ID)); err != nil {
					logger.Warn(ctx, logger.CompBot, "user.upsert", logger.Err(err))
				} else {
					b.seen.Store(u.ID, struct{}{})
				}
			}
		}
		return next(c)
	}
}

func fullName(u *tele.User) string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

func (b *Bot) handleVersion(c tele.Context) error {
	return helpers.SendMD(c, "numbershop "+format.MD(buildinfo.String()))
}

func (b *Bot) rejectAdmin(c tele.Context) error {
	return helpers.EditOrSendMD(c, "⛔ This action is for admins only.")
}

// fail shows the generic error screen and hands err back for logging.
func (b *Bot) fail(c tele.Context, err error) error {
	_ = helpers.EditOrSendMD(c, renderContactSupport(b.supportContact(helpers.BuildContext(c))), menuKeyboard())
	return err
}

// supportContact prefers the stored setting over the configured contact.
func (b *Bot) supportContact(ctx context.Context) string {
	if b.users == nil {
		return b.support
	}
	v, err := b.users.Setting(ctx, store.SettingSupportContact)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Warn(ctx, logger.CompBot, "settings.support", logger.Err(err))
	}
	if err != nil || v == "" {
		return b.support
	}
	return v
}

// credential resolves a purchase the sender owns.
func (b *Bot) credential(ctx context.Context, c tele.Context, purchaseID int64) (mtproto.Credential, bool, error) {
	cred, err := b.purchases.Credential(ctx, c.Sender().ID, purchaseID)
	if errors.Is(err, purchase.ErrUnknownPurchase) {
		return mtproto.Credential{}, false, helpers.EditOrSendMD(c, "❌ Purchase not found.", menuKeyboard())
	}
	if err != nil {
		return mtproto.Credential{}, false, b.fail(c, err)
	}
	return cred, true, nil
}
