package router

import (
	"time"

	tg "github.com/m3rciful/numbershop/core/telegram"
	"github.com/m3rciful/numbershop/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// FSM is the part of state.Manager the router needs.
type FSM interface {
	InProgress(userID int64) bool
	ManagerHandler(c tele.Context) error
}

// TextOptions sets fallbacks for updates no flow or command claims.
type TextOptions struct {
	UnknownText  tele.HandlerFunc
	UnknownPhoto tele.HandlerFunc
}

// TextRoutes routes text and photos: an active flow wins, then commands typed
// as text (menu buttons), then the registry fallback.
func TextRoutes(fsm FSM, reg *tg.Registry, opts TextOptions) []tg.Route {
	inFlow := func(c tele.Context) bool {
		return fsm != nil && c.Sender() != nil && fsm.InProgress(c.Sender().ID)
	}

	text := func(c tele.Context) error {
		start := time.Now()
		if inFlow(c) {
			return handleWithSummary(c, "fsm", start, func() error { return fsm.ManagerHandler(c) })
		}
		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(c.Text()); ok && cmd.Handler != nil && !cmd.AdminOnly {
				return handleWithSummary(c, normalizeHandlerName(key), start, func() error { return cmd.Handler(c) })
			}
			if fb := reg.TextFallback(); fb != nil {
				return handleWithSummary(c, "fallback", start, func() error { return fb(c) })
			}
		}
		if opts.UnknownText != nil {
			return handleWithSummary(c, "unknown_text", start, func() error { return opts.UnknownText(c) })
		}
		logSkip(c, "unknown_text", start)
		return nil
	}

	photo := func(c tele.Context) error {
		start := time.Now()
		if inFlow(c) {
			return handleWithSummary(c, "fsm_photo", start, func() error { return fsm.ManagerHandler(c) })
		}
		if opts.UnknownPhoto != nil {
			return handleWithSummary(c, "unexpected_photo", start, func() error { return opts.UnknownPhoto(c) })
		}
		logSkip(c, "unexpected_photo", start)
		return nil
	}

	return []tg.Route{
		{Endpoint: tele.OnText, Handler: middleware.LoggerMiddleware(text)},
		{Endpoint: tele.OnPhoto, Handler: middleware.LoggerMiddleware(photo)},
	}
}
