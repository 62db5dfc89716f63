package bot

import (
	"errors"

	"github.com/shopspring/decimal"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/numbershop/core/logger"
	"github.com/m3rciful/numbershop/core/telegram/helpers"
	"github.com/m3rciful/numbershop/core/telegram/keyboard"
	"github.com/m3rciful/numbershop/core/telegram/state"
	"github.com/m3rciful/numbershop/internal/deposit"
	"github.com/m3rciful/numbershop/internal/store"
)

// Deposit wizard steps.
const (
	stDepositAmount      state.State = "deposit_amount"
	stDepositUTR         state.State = "deposit_utr"
	stDepositUTRConfirm  state.State = "deposit_utr_confirm"
	stDepositScreenshot  state.State = "deposit_screenshot"
	stDepositShotConfirm state.State = "deposit_screenshot_confirm"
)

const (
	tmpAmount = "amount"
	tmpUTR    = "utr"
	tmpPhoto  = "photo"
)

func cancelRow() []keyboard.InlineBtn {
	return []keyboard.InlineBtn{keyboard.Cancel(cbDepositCancel)}
}

func (b *Bot) handleDepositStart(c tele.Context) error {
	ctx := helpers.WithHandler(c, "deposit")
	uid := c.Sender().ID
	b.fsm.Clear(uid)
	if _, err := b.deposits.PaymentTarget(ctx); err != nil {
		if errors.Is(err, deposit.ErrNoPaymentTarget) {
			return helpers.EditOrSendMD(c, "⚠️ Deposits are not available right now.", menuKeyboard())
		}
		return b.fail(c, err)
	}
	b.fsm.SetState(uid, stDepositAmount)
	return helpers.EditOrSendMD(c, renderDepositAmountPrompt(b.deposits.Minimum(), b.currency), keyboard.InlineRows(cancelRow()))
}

func (b *Bot) onDepositAmount(c tele.Context) error {
	ctx := helpers.WithHandler(c, "deposit_amount")
	uid := c.Sender().ID
	amount, err := b.deposits.ValidateAmount(c.Text())
	switch {
	case errors.Is(err, deposit.ErrBelowMinimum):
		return helpers.SendMD(c, "❌ The minimum deposit is "+fmtMoney(b.currency, b.deposits.Minimum())+".", keyboard.InlineRows(cancelRow()))
	case err != nil:
		return helpers.SendMD(c, "❌ Send the amount as a number, for example `500`.", keyboard.InlineRows(cancelRow()))
	}
	upi, err := b.deposits.PaymentTarget(ctx)
	if err != nil {
		b.fsm.Clear(uid)
		return b.fail(c, err)
	}
	b.fsm.SetTemp(uid, tmpAmount, amount.String())
	b.fsm.SetState(uid, stDepositUTR)
	text := renderPaymentInstructions(upi, deposit.PaymentLink(upi, amount), amount, b.currency)
	return helpers.SendMD(c, text, keyboard.InlineRows(cancelRow()))
}

func (b *Bot) onDepositUTR(c tele.Context) error {
	ctx := helpers.WithHandler(c, "deposit_utr")
	uid := c.Sender().ID
	ref, err := b.deposits.ValidateReference(ctx, c.Text())
	switch {
	case errors.Is(err, store.ErrDuplicateReference):
		return helpers.SendMD(c, "❌ This transaction id was already submitted. Check it and send again.", keyboard.InlineRows(cancelRow()))
	case errors.Is(err, deposit.ErrInvalidReference):
		return helpers.SendMD(c, "❌ That does not look like a UPI transaction id. Send the UTR from your payment app.", keyboard.InlineRows(cancelRow()))
	case err != nil:
		return b.fail(c, err)
	}
	b.fsm.SetTemp(uid, tmpUTR, ref)
	b.fsm.SetState(uid, stDepositUTRConfirm)
	return helpers.SendMD(c, "Transaction id: `"+ref+"`\n\nIs this correct?", keyboard.InlineRows(
		[]keyboard.InlineBtn{btn("✅ Yes", cbDepositUTROK), btn("✏️ Edit", cbDepositUTREdit)},
		cancelRow(),
	))
}

func (b *Bot) handleUTRConfirmed(c tele.Context) error {
	uid := c.Sender().ID
	if b.fsm.GetState(uid) != stDepositUTRConfirm {
		return b.staleStep(c)
	}
	b.fsm.SetState(uid, stDepositScreenshot)
	return helpers.EditOrSendMD(c, "📸 Now send a screenshot of the payment.", keyboard.InlineRows(cancelRow()))
}

func (b *Bot) handleUTREdit(c tele.Context) error {
	uid := c.Sender().ID
	if b.fsm.GetState(uid) != stDepositUTRConfirm {
		return b.staleStep(c)
	}
	b.fsm.SetState(uid, stDepositUTR)
	return helpers.EditOrSendMD(c, "Send the UPI transaction id (UTR) again.", keyboard.InlineRows(cancelRow()))
}

func (b *Bot) onDepositScreenshot(c tele.Context) error {
	uid := c.Sender().ID
	photo := c.Message().Photo
	if photo == nil || photo.FileID == "" {
		return helpers.SendMD(c, "📸 Please send the payment screenshot as a photo.", keyboard.InlineRows(cancelRow()))
	}
	b.fsm.SetTemp(uid, tmpPhoto, photo.FileID)
	b.fsm.SetState(uid, stDepositShotConfirm)
	return helpers.SendMD(c, "Screenshot received. Submit the deposit for review?", keyboard.InlineRows(
		[]keyboard.InlineBtn{btn("📤 Submit", cbDepositShotOK), btn("🔁 Send Another", cbDepositShotRe)},
		cancelRow(),
	))
}

func (b *Bot) handleScreenshotRedo(c tele.Context) error {
	uid := c.Sender().ID
	if b.fsm.GetState(uid) != stDepositShotConfirm {
		return b.staleStep(c)
	}
	b.fsm.SetState(uid, stDepositScreenshot)
	return helpers.EditOrSendMD(c, "📸 Send the payment screenshot.", keyboard.InlineRows(cancelRow()))
}

func (b *Bot) handleDepositSubmit(c tele.Context) error {
	ctx := helpers.WithHandler(c, "deposit_submit")
	uid := c.Sender().ID
	if b.fsm.GetState(uid) != stDepositShotConfirm {
		return b.staleStep(c)
	}
	rawAmount, _ := state.TempString(b.fsm, uid, tmpAmount)
	ref, _ := state.TempString(b.fsm, uid, tmpUTR)
	fileID, _ := state.TempString(b.fsm, uid, tmpPhoto)
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		b.fsm.Clear(uid)
		return b.fail(c, err)
	}

	d, err := b.deposits.Submit(ctx, deposit.Submission{
		TelegramID:  uid,
		Amount:      amount,
		Reference:   ref,
		ProofFileID: fileID,
	})
	if errors.Is(err, store.ErrDuplicateReference) {
		b.fsm.SetState(uid, stDepositUTR)
		return helpers.EditOrSendMD(c, "❌ This transaction id was already submitted. Send a different one.", keyboard.InlineRows(cancelRow()))
	}
	b.fsm.Clear(uid)
	if err != nil {
		return b.fail(c, err)
	}

	if b.tgcfg.AdminID != 0 {
		if err := helpers.SendPhotoTo(ctx, c.Bot(), b.tgcfg.AdminID, fileID, renderDepositReview(d, b.currency), reviewKeyboard(d.ID)); err != nil {
			logger.Warn(ctx, logger.CompBot, "deposit.notify", logger.Err(err))
		}
	}
	return helpers.EditOrSendMD(c, "✅ Deposit submitted. You will be notified once it is reviewed.", menuKeyboard())
}

// onAwaitButtons answers free text on steps that expect a button press.
func (b *Bot) onAwaitButtons(c tele.Context) error {
	return helpers.SendMD(c, "Please use the buttons above, or /cancel.")
}

func (b *Bot) staleStep(c tele.Context) error {
	return helpers.EditOrSendMD(c, "This step has expired.", menuKeyboard())
}

func (b *Bot) handleCancelFlow(c tele.Context) error {
	b.fsm.Clear(c.Sender().ID)
	return helpers.EditOrSendMD(c, "❌ Cancelled.", menuKeyboard())
}

func (b *Bot) handleDepositHistory(c tele.Context) error {
	ctx := helpers.WithHandler(c, "deposit_history")
	list, err := b.deposits.History(ctx, c.Sender().ID)
	if err != nil {
		return b.fail(c, err)
	}
	text, markup := renderDepositHistory(list, b.currency)
	return helpers.EditOrSendMD(c, text, markup)
}
