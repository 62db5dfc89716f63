// Package app wires configuration, storage, the MTProto services and the
// Telegram bot into one runnable application.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/m3rciful/numbershop/core/bootstrap"
	corecmd "github.com/m3rciful/numbershop/core/cmd"
	coredatabase "github.com/m3rciful/numbershop/core/database"
	"github.com/m3rciful/numbershop/core/logger"
	tg "github.com/m3rciful/numbershop/core/telegram"
	"github.com/m3rciful/numbershop/core/telegram/helpers"
	"github.com/m3rciful/numbershop/core/telegram/router"
	"github.com/m3rciful/numbershop/internal/bot"
	"github.com/m3rciful/numbershop/internal/codecache"
	"github.com/m3rciful/numbershop/internal/config"
	"github.com/m3rciful/numbershop/internal/deposit"
	"github.com/m3rciful/numbershop/internal/devices"
	"github.com/m3rciful/numbershop/internal/events"
	"github.com/m3rciful/numbershop/internal/mtproto"
	"github.com/m3rciful/numbershop/internal/purchase"
	"github.com/m3rciful/numbershop/internal/store"
	"github.com/m3rciful/numbershop/internal/watcher"

	tele "gopkg.in/telebot.v4"
)

// App owns every long-lived dependency.
type App struct {
	cfg *config.Config
	db  *sqlx.DB

	redis     *redis.Client
	publisher events.Publisher
	closePub  func() error

	watcher *watcher.Watcher
	bot     *bot.Bot
}

// Bootstrap adapts New to the command runner.
func Bootstrap(ctx context.Context, carrier corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
	cfg, ok := carrier.(*config.Config)
	if !ok {
		return nil, fmt.Errorf("app: unexpected config type %T", carrier)
	}
	a, err := New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// New initializes logging, the database with migrations and seeds, the code
// cache, the event publisher and the services behind the bot.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	res, err := bootstrap.Run(ctx, bootstrap.Options{
		Config:   cfg.CoreConfig(),
		Database: cfg.Database,
		Seeders:  seeders(cfg),
	})
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, db: res.DB}

	st := store.New(res.Tx)

	cache, err := a.initCodeCache(ctx)
	if err != nil {
		_ = a.close()
		return nil, err
	}
	if err := a.initEvents(); err != nil {
		_ = a.close()
		return nil, err
	}

	dialer := mtproto.NewGotdDialer(cfg.MTProto.APIID, cfg.MTProto.APIHash)
	a.watcher = watcher.New(watcher.Options{
		Dialer:      dialer,
		Cache:       cache,
		Freshness:   cfg.Watcher.Freshness(),
		DialTimeout: cfg.MTProto.DialTimeout(),
	})
	purchases := purchase.New(purchase.Options{
		Store:     st,
		Watcher:   a.watcher,
		Publisher: a.publisher,
		Attempts:  cfg.Watcher.PollAttempts,
		Interval:  cfg.Watcher.PollInterval(),
	})
	deposits := deposit.New(deposit.Options{
		Store:        st,
		Publisher:    a.publisher,
		Minimum:      cfg.Shop.MinDepositAmount(),
		DefaultUPIID: cfg.Shop.UPIID,
	})

	a.bot = bot.New(bot.Options{
		Users:          st,
		Purchases:      purchases,
		Deposits:       deposits,
		Devices:        devices.New(dialer, cfg.MTProto.DialTimeout()),
		Watcher:        a.watcher,
		Telegram:       cfg.Telegram,
		Currency:       cfg.Shop.Currency,
		SupportContact: cfg.Shop.SupportContact,
	})
	return a, nil
}

// initCodeCache picks Redis when configured so codes survive a restart.
func (a *App) initCodeCache(ctx context.Context) (codecache.Cache, error) {
	rc := a.cfg.Redis
	if rc.Addr == "" {
		logger.Info(ctx, "app", "codecache", slog.String("backend", "memory"))
		return codecache.NewMemory(), nil
	}
	a.redis = redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.redis.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("app: redis ping: %w", err)
	}
	logger.Info(ctx, "app", "codecache", slog.String("backend", "redis"))
	return codecache.NewRedis(a.redis, a.cfg.Watcher.Freshness()), nil
}

func (a *App) initEvents() error {
	ec := a.cfg.Events
	if ec.AMQPURL == "" {
		a.publisher = events.LogPublisher{}
		return nil
	}
	pub, err := events.DialRabbit(ec.AMQPURL, ec.Exchange)
	if err != nil {
		return fmt.Errorf("app: events: %w", err)
	}
	a.publisher = pub
	a.closePub = pub.Close
	return nil
}

func seeders(cfg *config.Config) []bootstrap.Seeder {
	lock := cfg.Database.LockTimeout()
	return []bootstrap.Seeder{
		bootstrap.SeederFunc{Label: "countries", Fn: func(ctx context.Context, db *sqlx.DB) (int, error) {
			seeds := make([]store.CountrySeed, 0, len(cfg.Shop.Countries))
			for _, c := range cfg.Shop.Countries {
				// validated by config.Normalize
				price, _ := decimal.NewFromString(c.Price)
				seeds = append(seeds, store.CountrySeed{Name: c.Name, Emoji: c.Emoji, Price: price})
			}
			return store.New(coredatabase.NewTxRunner(db, lock)).SeedCountries(ctx, seeds)
		}},
		bootstrap.SeederFunc{Label: "settings", Fn: func(ctx context.Context, db *sqlx.DB) (int, error) {
			return store.New(coredatabase.NewTxRunner(db, lock)).SeedSettings(ctx, map[string]string{
				store.SettingUPIID:          cfg.Shop.UPIID,
				store.SettingSupportContact: cfg.Shop.SupportContact,
			})
		}},
	}
}

// TelegramRunOptions registers the bot and assembles the route table.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	reg := tg.NewRegistry()
	if err := a.bot.Register(reg); err != nil {
		return tg.RunOptions{}, err
	}

	core := a.cfg.CoreConfig()
	mws := tg.DefaultMiddlewares(core, func(c tele.Context) error {
		return helpers.SendMD(c, "⏳ Slow down a little.")
	})
	mws = append(mws, tg.Middleware{Name: "users", Use: a.bot.TrackUsers})

	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		IsAdmin: a.bot.IsAdmin,
		OnAdminReject: func(c tele.Context) error {
			return helpers.SendMD(c, "⛔ This command is for admins only.")
		},
	})
	routes = append(routes, router.CallbackRoute(reg))
	routes = append(routes, router.TextRoutes(a.bot.FSM(), reg, router.TextOptions{
		UnknownPhoto: func(c tele.Context) error {
			return helpers.SendMD(c, "Photos are only needed during a deposit. Use the menu to start one.")
		},
	})...)

	return tg.RunOptions{
		Config:      core,
		Registry:    reg,
		Middlewares: mws,
		Routes:      routes,
		OnStart: func(ctx context.Context, rt tg.Runtime) error {
			a.bot.Attach(rt)
			return nil
		},
		OnStop: func(ctx context.Context, _ tg.Runtime) error {
			return a.shutdown(ctx)
		},
	}, nil
}

// shutdown stops code loops before the watches they poll, then closes the
// infrastructure.
func (a *App) shutdown(ctx context.Context) error {
	var errs []error
	if a.bot != nil {
		errs = append(errs, a.bot.Shutdown(ctx))
	}
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close(ctx))
	}
	errs = append(errs, a.close())
	err := errors.Join(errs...)
	logger.Info(ctx, "app", "stopped", slog.String("status", logger.Status(err)), logger.Err(err))
	return err
}

func (a *App) close() error {
	var errs []error
	if a.closePub != nil {
		errs = append(errs, a.closePub())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
