package router

import (
	"log/slog"
	"time"

	tg "github.com/m3rciful/numbershop/core/telegram"
	"github.com/m3rciful/numbershop/core/telegram/callbacks"
	"github.com/m3rciful/numbershop/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CallbackRoute routes every inline button press through the registry by unique.
// The spinner is dismissed before the handler runs.
func CallbackRoute(reg *tg.Registry) tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		cb := c.Callback()
		if cb == nil {
			return nil
		}
		key, _ := callbacks.ParseCallbackData(cb)
		name := "callback." + normalizeHandlerName(key)
		extras := []slog.Attr{slog.String("cb_key", key)}

		_ = c.Respond()

		h, ok := reg.GetCallback(key)
		if !ok {
			h = reg.CallbackNotFound()
			extras = append(extras, slog.String("reason", "not_found"))
		}
		return handleWithSummary(c, name, start, func() error {
			if h == nil {
				return nil
			}
			return h(c)
		}, extras...)
	}
	return tg.Route{
		Endpoint: tele.OnCallback,
		Handler:  middleware.LoggerMiddleware(handler),
	}
}
