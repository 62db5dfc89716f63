package bot

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/numbershop/core/logger"
	"github.com/m3rciful/numbershop/core/telegram/callbacks"
	"github.com/m3rciful/numbershop/core/telegram/format"
	"github.com/m3rciful/numbershop/core/telegram/helpers"
	"github.com/m3rciful/numbershop/internal/deposit"
	"github.com/m3rciful/numbershop/internal/models"
	"github.com/m3rciful/numbershop/internal/mtproto"
	"github.com/m3rciful/numbershop/internal/store"
)

func (b *Bot) handlePending(c tele.Context) error {
	ctx := helpers.WithHandler(c, "pending")
	list, err := b.deposits.Pending(ctx)
	if err != nil {
		return b.fail(c, err)
	}
	text, markup := renderPending(list, b.currency)
	return helpers.SendMD(c, text, markup)
}

func (b *Bot) handleAdminApprove(c tele.Context) error {
	return b.decideDeposit(c, true)
}

func (b *Bot) handleAdminReject(c tele.Context) error {
	return b.decideDeposit(c, false)
}

func (b *Bot) decideDeposit(c tele.Context, approve bool) error {
	ctx := helpers.WithHandler(c, "deposit_decide")
	id, err := callbacks.PayloadInt64(c)
	if err != nil {
		return err
	}
	var dec deposit.Decision
	if approve {
		dec, err = b.deposits.Approve(ctx, id)
	} else {
		dec, err = b.deposits.Reject(ctx, id)
	}
	switch {
	case errors.Is(err, store.ErrAlreadyDecided):
		return b.replaceReview(c, fmt.Sprintf("Deposit #%d was already reviewed.", id))
	case errors.Is(err, store.ErrNotFound):
		return b.replaceReview(c, fmt.Sprintf("Deposit #%d not found.", id))
	case err != nil:
		return b.fail(c, err)
	}

	text := renderDepositReview(dec.Deposit, b.currency)
	if by := c.Sender(); by != nil {
		text += fmt.Sprintf("\nReviewed by `%d`", by.ID)
	}
	if err := helpers.SendTo(ctx, c.Bot(), dec.Deposit.TelegramID, renderDecisionNotice(dec.Deposit, dec.Balance, b.currency)); err != nil {
		logger.Warn(ctx, logger.CompBot, "deposit.notify", logger.Err(err))
	}
	return b.replaceReview(c, text)
}

// replaceReview rewrites a review message, which is a photo caption when it
// came from a submission and plain text when it came from /pending.
func (b *Bot) replaceReview(c tele.Context, text string) error {
	if msg := c.Message(); msg != nil && msg.Photo != nil {
		return c.EditCaption(text, &tele.SendOptions{ParseMode: tele.ModeMarkdown})
	}
	return helpers.EditOrSendMD(c, text)
}

func (b *Bot) handleWatches(c tele.Context) error {
	return helpers.SendMD(c, renderWatches(b.watcher.Watches(), time.Now()))
}

func (b *Bot) handleStopWatch(c tele.Context) error {
	ctx := helpers.WithHandler(c, "stopwatch")
	phone := strings.TrimSpace(c.Message().Payload)
	if phone == "" {
		return helpers.SendMD(c, "Usage: /stopwatch <phone>")
	}
	b.watcher.Stop(logger.WithPhone(ctx, phone), phone)
	return helpers.SendMD(c, "⏹ Watch for `"+phone+"` stopped.")
}

func (b *Bot) handleSetUPI(c tele.Context) error {
	ctx := helpers.WithHandler(c, "setupi")
	upi := strings.TrimSpace(c.Message().Payload)
	if upi == "" || !strings.Contains(upi, "@") {
		return helpers.SendMD(c, "Usage: /setupi <name@bank>")
	}
	if err := b.users.PutSetting(ctx, store.SettingUPIID, upi); err != nil {
		return b.fail(c, err)
	}
	logger.Info(ctx, logger.CompBot, "settings.upi", slog.String("status", "ok"))
	return helpers.SendMD(c, "✅ UPI id set to `"+upi+"`.")
}

func (b *Bot) handleSetSupport(c tele.Context) error {
	ctx := helpers.WithHandler(c, "setsupport")
	contact := strings.TrimSpace(c.Message().Payload)
	if contact == "" {
		return helpers.SendMD(c, "Usage: /setsupport <contact>")
	}
	if err := b.users.PutSetting(ctx, store.SettingSupportContact, contact); err != nil {
		return b.fail(c, err)
	}
	logger.Info(ctx, logger.CompBot, "settings.support", slog.String("status", "ok"))
	return helpers.SendMD(c, "✅ Support contact set to "+format.MD(contact)+".")
}

// parseAddAccount reads "<country_id> <phone> <session> [2fa] [kind=ID|SESSION]".
// The kind defaults to ID.
func parseAddAccount(args []string) (models.Account, error) {
	acc := models.Account{Kind: models.KindID}
	rest := args[:0:0]
	for _, arg := range args {
		v, ok := strings.CutPrefix(arg, "kind=")
		if !ok {
			rest = append(rest, arg)
			continue
		}
		switch kind := models.AccountKind(strings.ToUpper(v)); kind {
		case models.KindID, models.KindSession:
			acc.Kind = kind
		default:
			return models.Account{}, fmt.Errorf("unknown kind %q", v)
		}
	}
	if len(rest) < 3 || len(rest) > 4 {
		return models.Account{}, errors.New("wrong number of arguments")
	}
	countryID, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return models.Account{}, errors.New("country_id must be a number")
	}
	acc.CountryID = countryID
	acc.PhoneNumber = rest[1]
	acc.SessionData = rest[2]
	if len(rest) == 4 {
		acc.TwoFAPassword = &rest[3]
	}
	return acc, nil
}

// handleAddAccount probes the session before stocking it so dead sessions
// never reach a buyer.
func (b *Bot) handleAddAccount(c tele.Context) error {
	ctx := helpers.WithHandler(c, "addaccount")
	acc, err := parseAddAccount(c.Args())
	if err != nil {
		return helpers.SendMD(c, "❌ "+format.MD(err.Error())+"\nUsage: /addaccount <country\\_id> <phone> <session> [2fa] [kind=ID|SESSION]")
	}

	// the session string is a credential; drop it from the chat
	if err := c.Delete(); err != nil {
		logger.Debug(ctx, logger.CompBot, "addaccount.delete", logger.Err(err))
	}

	ctx = logger.WithPhone(ctx, acc.PhoneNumber)
	id, err := b.devices.Probe(ctx, mtproto.Credential{Phone: acc.PhoneNumber, Session: acc.SessionData, TwoFA: acc.TwoFA()})
	if err != nil {
		return helpers.SendMD(c, "❌ Session check failed: "+string(mtproto.KindOf(err)))
	}
	accountID, err := b.users.AddAccount(ctx, acc)
	if err != nil {
		logger.Error(ctx, logger.CompBot, "account.add", logger.Err(err))
		return helpers.SendMD(c, "❌ Could not stock the number. Check the country id and that the phone is new.")
	}
	logger.Info(ctx, logger.CompBot, "account.add",
		slog.Int64("account_id", accountID),
		slog.Int64("country_id", acc.CountryID),
		slog.String("kind", string(acc.Kind)),
	)
	return helpers.SendMD(c, fmt.Sprintf("✅ Stocked `%s` as %s account #%d (user %d).", acc.PhoneNumber, acc.Kind, accountID, id.UserID))
}
