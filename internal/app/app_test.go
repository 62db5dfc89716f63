package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	tg "github.com/m3rciful/numbershop/core/telegram"
	"github.com/m3rciful/numbershop/internal/bot"
	"github.com/m3rciful/numbershop/internal/config"
)

func TestTelegramRunOptions(t *testing.T) {
	cfg := &config.Config{}
	cfg.RateLimit.IntervalMS = 500
	a := &App{cfg: cfg, bot: bot.New(bot.Options{})}

	opts, err := a.TelegramRunOptions()
	require.NoError(t, err)
	assert.Same(t, cfg.CoreConfig(), opts.Config)

	names := make([]string, 0, len(opts.Middlewares))
	for _, mw := range opts.Middlewares {
		names = append(names, mw.Name)
	}
	assert.Equal(t, []string{"recover", "rate_limit", "logger", "metrics", "users"}, names)

	endpoints := map[any]bool{}
	for _, r := range opts.Routes {
		endpoints[r.Endpoint] = true
	}
	for _, want := range []any{"/start", "/menu", "/pending", tele.OnCallback, tele.OnText, tele.OnPhoto} {
		assert.True(t, endpoints[want], "%v", want)
	}

	require.NoError(t, opts.OnStop(context.Background(), tg.Runtime{Registry: opts.Registry}))
}
