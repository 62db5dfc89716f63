package middleware

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/m3rciful/numbershop/core/logger"
	tghelpers "github.com/m3rciful/numbershop/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// PanicReply is sent to the user when a handler panics.
var PanicReply = "Something went wrong. Please try again or contact support."

// RecoverMiddleware turns handler panics into an error log and a short apology.
func RecoverMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Error(tghelpers.BuildContext(c), "tg", "panic",
				slog.String("status", "fail"),
				slog.String("err", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())),
			)
			if c != nil && c.Chat() != nil {
				_ = c.Send(PanicReply)
			}
			err = nil
		}()
		return next(c)
	}
}
