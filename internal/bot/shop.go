package bot

import (
	"context"
	"errors"
	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/numbershop/core/logger"
	"github.com/m3rciful/numbershop/core/telegram/callbacks"
	"github.com/m3rciful/numbershop/core/telegram/helpers"
	"github.com/m3rciful/numbershop/internal/purchase"
	"github.com/m3rciful/numbershop/internal/store"
)

func (b *Bot) handleStart(c tele.Context) error {
	b.fsm.Clear(c.Sender().ID)
	return helpers.EditOrSendMD(c, renderWelcome(c.Sender().FirstName), menuKeyboard())
}

func (b *Bot) handleMenu(c tele.Context) error {
	b.fsm.Clear(c.Sender().ID)
	return helpers.EditOrSendMD(c, "🏠 *Main Menu*", menuKeyboard())
}

func (b *Bot) handleHelp(c tele.Context) error {
	return helpers.EditOrSendMD(c, renderHelp(b.supportContact(helpers.WithHandler(c, "help"))), menuKeyboard())
}

func (b *Bot) handleUnknownText(c tele.Context) error {
	return helpers.SendMD(c, "I did not get that. Use the menu below.", menuKeyboard())
}

func (b *Bot) handleShop(c tele.Context) error {
	ctx := helpers.WithHandler(c, "shop")
	list, err := b.purchases.Browse(ctx, c.Sender().ID)
	if err != nil {
		return b.fail(c, err)
	}
	text, markup := renderCountries(list, b.currency)
	return helpers.EditOrSendMD(c, text, markup)
}

func (b *Bot) handleCountry(c tele.Context) error {
	ctx := helpers.WithHandler(c, "country")
	countryID, err := callbacks.PayloadInt64(c)
	if err != nil {
		return err
	}
	q, err := b.purchases.Select(ctx, c.Sender().ID, countryID)
	switch {
	case errors.Is(err, store.ErrOutOfStock), errors.Is(err, store.ErrNotFound):
		return b.soldOut(ctx, c)
	case err != nil:
		return b.fail(c, err)
	}
	text, markup := renderQuote(q, b.currency)
	return helpers.EditOrSendMD(c, text, markup)
}

func (b *Bot) soldOut(ctx context.Context, c tele.Context) error {
	list, err := b.purchases.Browse(ctx, c.Sender().ID)
	if err != nil {
		return b.fail(c, err)
	}
	text, markup := renderCountries(list, b.currency)
	return helpers.EditOrSendMD(c, "😔 That country just sold out.\n\n"+text, markup)
}

func (b *Bot) handleBuy(c tele.Context) error {
	ctx := helpers.WithHandler(c, "buy")
	countryID, err := callbacks.PayloadInt64(c)
	if err != nil {
		return err
	}
	rc, err := b.purchases.Confirm(ctx, c.Sender().ID, countryID)
	var short *store.InsufficientBalanceError
	switch {
	case errors.As(err, &short):
		text, markup := renderShortfall(short.Shortfall(), b.currency)
		return helpers.EditOrSendMD(c, text, markup)
	case errors.Is(err, store.ErrOutOfStock):
		return b.soldOut(ctx, c)
	case errors.Is(err, purchase.ErrInvalidTransition):
		// stale button from an earlier menu
		return b.handleShop(c)
	case err != nil:
		return b.fail(c, err)
	}
	text, markup := renderReceipt(rc.Account.PhoneNumber, rc.Account.TwoFA(), rc.Purchase.Amount, rc.Balance, b.currency, rc.Purchase.ID)
	return helpers.EditOrSendMD(c, text, markup)
}

func (b *Bot) handlePurchases(c tele.Context) error {
	ctx := helpers.WithHandler(c, "purchases")
	list, err := b.purchases.Purchases(ctx, c.Sender().ID)
	if err != nil {
		return b.fail(c, err)
	}
	text, markup := renderPurchases(list, b.currency)
	return helpers.EditOrSendMD(c, text, markup)
}

func (b *Bot) handleProfile(c tele.Context) error {
	ctx := helpers.WithHandler(c, "profile")
	u, err := b.users.UserByTelegramID(ctx, c.Sender().ID)
	if err != nil {
		return b.fail(c, err)
	}
	text, markup := renderProfile(u, b.currency)
	return helpers.EditOrSendMD(c, text, markup)
}

// purchaseError renders the screens shared by every code handler.
func (b *Bot) purchaseError(c tele.Context, purchaseID int64, err error) error {
	switch {
	case errors.Is(err, purchase.ErrUnknownPurchase):
		return helpers.EditOrSendMD(c, "❌ Purchase not found.", menuKeyboard())
	case errors.Is(err, purchase.ErrWatchUnavailable):
		text, markup := renderWatchUnavailable(purchaseID)
		_ = helpers.EditOrSendMD(c, text, markup)
		return err
	default:
		return b.fail(c, err)
	}
}

func (b *Bot) handleGetCode(c tele.Context) error {
	ctx := helpers.WithHandler(c, "otp")
	purchaseID, err := callbacks.PayloadInt64(c)
	if err != nil {
		return err
	}
	snap, err := b.purchases.BeginCodeRetrieval(ctx, c.Sender().ID, purchaseID)
	if err != nil {
		return b.purchaseError(c, purchaseID, err)
	}
	text, markup := renderSnapshot(snap)
	if err := helpers.EditOrSendMD(c, text, markup); err != nil {
		return err
	}
	b.await(ctx, c.Sender().ID, purchaseID, c.Message())
	return nil
}

// await keeps msg updated from a background Await loop. A loop replaced by
// a newer one or cancelled by the buyer leaves the message alone.
func (b *Bot) await(parent context.Context, buyer, purchaseID int64, msg *tele.Message) {
	if msg == nil || b.api == nil {
		return
	}
	started := b.spawn(func(stop context.Context) {
		ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
		defer cancel()
		unhook := context.AfterFunc(stop, cancel)
		defer unhook()

		var last purchase.Snapshot
		outcome, err := b.purchases.Await(ctx, buyer, purchaseID, func(s purchase.Snapshot) {
			last = s
			if s.State == purchase.StateClaimed || !s.Watching {
				return
			}
			text, markup := renderSnapshot(s)
			if err := helpers.EditMessage(b.api, msg, text, markup); err != nil {
				logger.Warn(ctx, logger.CompBot, "otp.edit", logger.Err(err))
			}
		})
		if err != nil {
			logger.Warn(ctx, logger.CompBot, "otp.await", logger.Err(err))
			return
		}

		var text string
		var markup *tele.ReplyMarkup
		switch {
		case outcome == purchase.OutcomeClaimed:
			text, markup = renderClaimed(last)
		case outcome == purchase.OutcomeTimedOut:
			text, markup = renderTimedOut(purchaseID)
		case last.PurchaseID != 0 && !last.Watching && ctx.Err() == nil:
			text, markup = renderStopped(purchaseID)
		default:
			return
		}
		if err := helpers.EditMessage(b.api, msg, text, markup); err != nil {
			logger.Warn(ctx, logger.CompBot, "otp.edit", logger.Err(err))
		}
		logger.Info(ctx, logger.CompBot, "otp.finish", slog.String("outcome", string(outcome)))
	})
	if !started {
		logger.Warn(parent, logger.CompBot, "otp.await", slog.String("status", "shutting_down"))
	}
}

func (b *Bot) handleCheckCode(c tele.Context) error {
	ctx := helpers.WithHandler(c, "otp_check")
	purchaseID, err := callbacks.PayloadInt64(c)
	if err != nil {
		return err
	}
	snap, err := b.purchases.Check(ctx, c.Sender().ID, purchaseID)
	if errors.Is(err, purchase.ErrInvalidTransition) {
		// the purchase is back to PAID after a restart or a stop
		return b.handleGetCode(c)
	}
	if err != nil {
		return b.purchaseError(c, purchaseID, err)
	}
	return b.showSnapshot(c, snap)
}

func (b *Bot) handleResendCode(c tele.Context) error {
	ctx := helpers.WithHandler(c, "otp_resend")
	purchaseID, err := callbacks.PayloadInt64(c)
	if err != nil {
		return err
	}
	snap, err := b.purchases.Resend(ctx, c.Sender().ID, purchaseID)
	if errors.Is(err, purchase.ErrInvalidTransition) {
		return b.handleCheckCode(c)
	}
	if err != nil {
		return b.purchaseError(c, purchaseID, err)
	}
	return b.showSnapshot(c, snap)
}

func (b *Bot) showSnapshot(c tele.Context, snap purchase.Snapshot) error {
	var text string
	var markup *tele.ReplyMarkup
	if snap.State == purchase.StateClaimed {
		text, markup = renderClaimed(snap)
	} else {
		text, markup = renderSnapshot(snap)
	}
	return helpers.EditOrSendMD(c, text, markup)
}

func (b *Bot) handleStopCode(c tele.Context) error {
	ctx := helpers.WithHandler(c, "otp_stop")
	purchaseID, err := callbacks.PayloadInt64(c)
	if err != nil {
		return err
	}
	if err := b.purchases.Cancel(ctx, c.Sender().ID, purchaseID); err != nil {
		return b.fail(c, err)
	}
	text, markup := renderStopped(purchaseID)
	return helpers.EditOrSendMD(c, text, markup)
}
