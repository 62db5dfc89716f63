package helpers

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/m3rciful/numbershop/core/logger"
	"github.com/m3rciful/numbershop/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

var globalDispatcher atomic.Pointer[sender.Dispatcher]

// SetDispatcher wires the asynchronous sender used by the Send helpers.
// With no dispatcher the helpers call the Bot API inline.
func SetDispatcher(d *sender.Dispatcher) {
	globalDispatcher.Store(d)
}

func enqueue(ctx context.Context, action string, run func() error) error {
	disp := globalDispatcher.Load()
	if disp == nil {
		return run()
	}
	err := disp.Enqueue(ctx, action, run)
	if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
		logger.Warn(ctx, "tg.sender", "queue.fallback",
			slog.String("op", action),
			logger.Err(err),
		)
		return run()
	}
	return err
}

func mdOptions(markup []*tele.ReplyMarkup) *tele.SendOptions {
	opts := &tele.SendOptions{ParseMode: tele.ModeMarkdown, DisableWebPagePreview: true}
	if len(markup) > 0 {
		opts.ReplyMarkup = markup[0]
	}
	return opts
}

// SendMD queues a Markdown message to the current chat.
func SendMD(c tele.Context, text string, markup ...*tele.ReplyMarkup) error {
	opts := mdOptions(markup)
	return enqueue(BuildContext(c), "send.md", func() error {
		return c.Send(text, opts)
	})
}

// EditOrSendMD edits the callback message in place or sends a new one.
// Edits run inline so the user sees the button press take effect at once.
func EditOrSendMD(c tele.Context, text string, markup ...*tele.ReplyMarkup) error {
	return c.EditOrSend(text, mdOptions(markup))
}

// SendTo queues a Markdown message to an arbitrary chat, outside any update.
func SendTo(ctx context.Context, bot tele.API, chatID int64, text string, markup ...*tele.ReplyMarkup) error {
	opts := mdOptions(markup)
	return enqueue(ctx, "send.to", func() error {
		_, err := bot.Send(tele.ChatID(chatID), text, opts)
		return err
	})
}

// EditMessage rewrites a message the bot sent earlier. "message is not modified"
// is treated as success.
func EditMessage(bot tele.API, msg tele.Editable, text string, markup ...*tele.ReplyMarkup) error {
	_, err := bot.Edit(msg, text, mdOptions(markup))
	if errors.Is(err, tele.ErrSameMessageContent) {
		return nil
	}
	return err
}

// SendPhotoTo queues a photo, referenced by Telegram file id, with a Markdown caption.
func SendPhotoTo(ctx context.Context, bot tele.API, chatID int64, fileID, caption string, markup ...*tele.ReplyMarkup) error {
	opts := mdOptions(markup)
	photo := &tele.Photo{File: tele.File{FileID: fileID}, Caption: caption}
	return enqueue(ctx, "send.photo", func() error {
		_, err := bot.Send(tele.ChatID(chatID), photo, opts)
		return err
	})
}
