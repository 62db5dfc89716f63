package bot

import (
	"context"
	"errors"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/numbershop/core/logger"
	"github.com/m3rciful/numbershop/core/telegram/callbacks"
	"github.com/m3rciful/numbershop/core/telegram/helpers"
	"github.com/m3rciful/numbershop/core/telegram/keyboard"
	"github.com/m3rciful/numbershop/internal/devices"
	"github.com/m3rciful/numbershop/internal/mtproto"
)

func (b *Bot) handleDevices(c tele.Context) error {
	ctx := helpers.WithHandler(c, "devices")
	purchaseID, err := callbacks.PayloadInt64(c)
	if err != nil {
		return err
	}
	return b.showSessions(ctx, c, purchaseID, "")
}

// showSessions lists the devices of a purchase under an optional notice line.
func (b *Bot) showSessions(ctx context.Context, c tele.Context, purchaseID int64, notice string) error {
	cred, ok, err := b.credential(ctx, c, purchaseID)
	if !ok {
		return err
	}
	list, err := b.devices.List(logger.WithPhone(ctx, cred.Phone), cred)
	if err != nil {
		return b.deviceError(c, purchaseID, err)
	}
	text, markup := renderSessions(purchaseID, cred.Phone, list)
	if notice != "" {
		text = notice + "\n\n" + text
	}
	return helpers.EditOrSendMD(c, text, markup)
}

func (b *Bot) deviceError(c tele.Context, purchaseID int64, err error) error {
	retry := keyboard.InlineRows(
		[]keyboard.InlineBtn{btn("🔄 Refresh", cbDevices, purchaseID)},
		backToMenu(),
	)
	switch {
	case errors.Is(err, devices.ErrCurrentSession):
		return helpers.EditOrSendMD(c, "⭐ That is the shop's own session and stays.", retry)
	case errors.Is(err, devices.ErrBadHandle):
		return helpers.EditOrSendMD(c, "❌ That session no longer exists.", retry)
	case errors.Is(err, mtproto.ErrConnectionFailure), errors.Is(err, mtproto.ErrTransientProtocol):
		_ = helpers.EditOrSendMD(c, "⚠️ Could not reach the account. Try again in a moment.", retry)
		return err
	default:
		return b.fail(c, err)
	}
}

func (b *Bot) handleRevokeDevice(c tele.Context) error {
	ctx := helpers.WithHandler(c, "dev_kill")
	purchaseID, handle, err := callbacks.PayloadInt64String(c)
	if err != nil {
		return err
	}
	cred, ok, err := b.credential(ctx, c, purchaseID)
	if !ok {
		return err
	}
	_, err = b.devices.Revoke(logger.WithPhone(ctx, cred.Phone), cred, handle)
	switch {
	case errors.Is(err, mtproto.ErrRevocationNotConfirmed):
		return b.showSessions(ctx, c, purchaseID, "⚠️ Telegram did not confirm the logout. Try again.")
	case err != nil:
		return b.deviceError(c, purchaseID, err)
	}
	return b.showSessions(ctx, c, purchaseID, "✅ Session terminated.")
}

func (b *Bot) handleRevokeOthers(c tele.Context) error {
	ctx := helpers.WithHandler(c, "dev_kill_all")
	purchaseID, err := callbacks.PayloadInt64(c)
	if err != nil {
		return err
	}
	cred, ok, err := b.credential(ctx, c, purchaseID)
	if !ok {
		return err
	}
	removed, err := b.devices.RevokeOthers(logger.WithPhone(ctx, cred.Phone), cred)
	switch {
	case errors.Is(err, mtproto.ErrRevocationNotConfirmed):
		return b.showSessions(ctx, c, purchaseID, "⚠️ Some sessions are still listed. Try again.")
	case err != nil:
		return b.deviceError(c, purchaseID, err)
	}
	return b.showSessions(ctx, c, purchaseID, sessionsRemoved(removed))
}

func sessionsRemoved(n int) string {
	switch n {
	case 0:
		return "✅ No other sessions were active."
	case 1:
		return "✅ Terminated 1 session."
	default:
		return fmt.Sprintf("✅ Terminated %d sessions.", n)
	}
}
