package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/numbershop/core/telegram/callbacks"
	"github.com/m3rciful/numbershop/core/telegram/format"
	"github.com/m3rciful/numbershop/core/telegram/keyboard"
	"github.com/m3rciful/numbershop/internal/devices"
	"github.com/m3rciful/numbershop/internal/models"
	"github.com/m3rciful/numbershop/internal/purchase"
	"github.com/m3rciful/numbershop/internal/watcher"
)

// Callback uniques.
const (
	cbMenu      = "menu"
	cbShop      = "shop"
	cbCountry   = "country"
	cbBuy       = "buy"
	cbPurchases = "purchases"
	cbProfile   = "profile"
	cbHistory   = "deposits"
	cbHelp      = "help"

	cbOTP       = "otp"
	cbOTPCheck  = "otp_check"
	cbOTPResend = "otp_resend"
	cbOTPStop   = "otp_stop"

	cbDevices       = "devices"
	cbDeviceKill    = "dev_kill"
	cbDeviceKillAll = "dev_kill_all"

	cbDeposit        = "deposit"
	cbDepositUTROK   = "dep_utr_ok"
	cbDepositUTREdit = "dep_utr_edit"
	cbDepositShotOK  = "dep_shot_ok"
	cbDepositShotRe  = "dep_shot_redo"
	cbDepositCancel  = "dep_cancel"

	cbAdminApprove = "adm_dep_ok"
	cbAdminReject  = "adm_dep_no"
)

const timeLayout = "02 Jan 2006 15:04"

func fmtMoney(currency string, d decimal.Decimal) string {
	return currency + d.StringFixed(2)
}

func btn(text, unique string, data ...any) keyboard.InlineBtn {
	return keyboard.InlineBtn{Text: text, Unique: unique, Data: callbacks.Data(data...)}
}

func backToMenu() []keyboard.InlineBtn {
	return []keyboard.InlineBtn{btn("🏠 Main Menu", cbMenu)}
}

func menuKeyboard() *tele.ReplyMarkup {
	return keyboard.InlineRows(
		[]keyboard.InlineBtn{btn("🛒 Buy Number", cbShop)},
		[]keyboard.InlineBtn{btn("📦 My Purchases", cbPurchases), btn("👤 Profile", cbProfile)},
		[]keyboard.InlineBtn{btn("💰 Add Funds", cbDeposit), btn("❓ Help", cbHelp)},
	)
}

func renderWelcome(name string) string {
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("👋 Welcome, *%s*!\n\nBuy ready Telegram accounts by country, receive the login code right here and lock the account down when you are in.", format.MD(name))
}

func renderHelp(support string) string {
	var sb strings.Builder
	sb.WriteString("*How it works*\n\n")
	sb.WriteString("1. Add funds with UPI and send the transaction id plus a screenshot.\n")
	sb.WriteString("2. Pick a country and confirm the purchase.\n")
	sb.WriteString("3. Log in to the number in Telegram, then tap *Get Code*.\n")
	sb.WriteString("4. Once you are logged in, open *Manage Sessions* and terminate the old devices.\n")
	if support != "" {
		fmt.Fprintf(&sb, "\nSupport: %s", format.MD(support))
	}
	return sb.String()
}

func renderContactSupport(support string) string {
	text := "⚠️ Something went wrong. Please try again later."
	if support != "" {
		text += "\nIf it keeps happening contact " + format.MD(support) + "."
	}
	return text
}

func renderCountries(list []models.CountryStock, currency string) (string, *tele.ReplyMarkup) {
	if len(list) == 0 {
		return "😔 No numbers in stock right now. Check back soon.", keyboard.InlineRows(backToMenu())
	}
	btns := make([]keyboard.InlineBtn, 0, len(list))
	for _, c := range list {
		label := fmt.Sprintf("%s %s · %s (%d)", c.Emoji, c.Name, fmtMoney(currency, c.Price), c.Available)
		btns = append(btns, btn(strings.TrimSpace(label), cbCountry, c.ID))
	}
	return "🌍 *Choose a country:*", keyboard.InlineGrid(btns, 1, backToMenu())
}

func renderQuote(q purchase.Quote, currency string) (string, *tele.ReplyMarkup) {
	c := q.Country
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s *%s*\n\n", c.Emoji, format.MD(c.Name))
	fmt.Fprintf(&sb, "Price: *%s*\n", fmtMoney(currency, c.Price))
	fmt.Fprintf(&sb, "In stock: %d\n", c.Available)
	fmt.Fprintf(&sb, "Your balance: %s\n", fmtMoney(currency, q.Balance))
	if !q.Affordable {
		fmt.Fprintf(&sb, "\n❌ You need %s more.", fmtMoney(currency, q.Shortfall))
		return sb.String(), keyboard.InlineRows(
			[]keyboard.InlineBtn{btn("💰 Add Funds", cbDeposit)},
			[]keyboard.InlineBtn{btn("⬅️ Back", cbShop)},
		)
	}
	sb.WriteString("\nConfirm the purchase?")
	return sb.String(), keyboard.InlineRows(
		[]keyboard.InlineBtn{btn("✅ Buy", cbBuy, c.ID)},
		[]keyboard.InlineBtn{btn("⬅️ Back", cbShop)},
	)
}

func renderShortfall(shortfall decimal.Decimal, currency string) (string, *tele.ReplyMarkup) {
	text := fmt.Sprintf("❌ Insufficient balance. You need %s more.", fmtMoney(currency, shortfall))
	return text, keyboard.InlineRows(
		[]keyboard.InlineBtn{btn("💰 Add Funds", cbDeposit)},
		backToMenu(),
	)
}

func credentialLines(sb *strings.Builder, phone, twoFA string) {
	fmt.Fprintf(sb, "📱 Number: `%s`\n", phone)
	if twoFA != "" {
		fmt.Fprintf(sb, "🔐 2FA password: `%s`\n", twoFA)
	}
}

func purchaseKeyboard(purchaseID int64) *tele.ReplyMarkup {
	return keyboard.InlineRows(
		[]keyboard.InlineBtn{btn("📩 Get Code", cbOTP, purchaseID)},
		[]keyboard.InlineBtn{btn("🛡 Manage Sessions", cbDevices, purchaseID)},
		backToMenu(),
	)
}

func renderReceipt(phone, twoFA string, paid, balance decimal.Decimal, currency string, purchaseID int64) (string, *tele.ReplyMarkup) {
	var sb strings.Builder
	sb.WriteString("✅ *Purchase complete!*\n\n")
	credentialLines(&sb, phone, twoFA)
	fmt.Fprintf(&sb, "💸 Paid: %s\n", fmtMoney(currency, paid))
	fmt.Fprintf(&sb, "💰 Balance: %s\n\n", fmtMoney(currency, balance))
	sb.WriteString("Start logging in to this number in Telegram, then tap *Get Code*.")
	return sb.String(), purchaseKeyboard(purchaseID)
}

func renderSnapshot(s purchase.Snapshot) (string, *tele.ReplyMarkup) {
	var sb strings.Builder
	credentialLines(&sb, s.Phone, s.TwoFA)
	sb.WriteString("\n")
	rows := [][]keyboard.InlineBtn{{btn("🔄 Check Now", cbOTPCheck, s.PurchaseID)}}
	switch s.State {
	case purchase.StateCodeDelivered:
		fmt.Fprintf(&sb, "🔑 Login code: `%s`\n\n", s.Code)
		sb.WriteString("Enter it in Telegram. I will notice when you are logged in.")
		rows = append(rows, []keyboard.InlineBtn{btn("♻️ New Code", cbOTPResend, s.PurchaseID)})
	default:
		sb.WriteString("⏳ Waiting for the login code...")
	}
	if s.Attempt > 0 && s.MaxAttempts > 0 {
		fmt.Fprintf(&sb, "\n\n_Auto-checking %d/%d_", s.Attempt, s.MaxAttempts)
	}
	rows = append(rows, []keyboard.InlineBtn{btn("⏹ Stop", cbOTPStop, s.PurchaseID)})
	return sb.String(), keyboard.InlineRows(rows...)
}

func renderClaimed(s purchase.Snapshot) (string, *tele.ReplyMarkup) {
	var sb strings.Builder
	sb.WriteString("🎉 *You are logged in!*\n\n")
	credentialLines(&sb, s.Phone, s.TwoFA)
	sb.WriteString("\nOpen *Manage Sessions* now and terminate the other devices.")
	return sb.String(), keyboard.InlineRows(
		[]keyboard.InlineBtn{btn("🛡 Manage Sessions", cbDevices, s.PurchaseID)},
		backToMenu(),
	)
}

func renderTimedOut(purchaseID int64) (string, *tele.ReplyMarkup) {
	return "⌛ No login detected in time. Request the code again when you are ready.",
		keyboard.InlineRows(
			[]keyboard.InlineBtn{btn("🔁 Try Again", cbOTP, purchaseID)},
			backToMenu(),
		)
}

func renderStopped(purchaseID int64) (string, *tele.ReplyMarkup) {
	return "⏹ Code watch stopped.", purchaseKeyboard(purchaseID)
}

func renderWatchUnavailable(purchaseID int64) (string, *tele.ReplyMarkup) {
	return "⚠️ Could not reach this account right now. Your purchase is safe, try again in a moment.",
		keyboard.InlineRows(
			[]keyboard.InlineBtn{btn("🔁 Try Again", cbOTP, purchaseID)},
			backToMenu(),
		)
}

func renderSessions(purchaseID int64, phone string, list []devices.Session) (string, *tele.ReplyMarkup) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🛡 *Active sessions* for `%s`\n\n", phone)
	var kill []keyboard.InlineBtn
	for i, s := range list {
		marker := "•"
		if s.Current {
			marker = "⭐"
		}
		fmt.Fprintf(&sb, "%s *%s* (%s)\n", marker, format.MD(s.Device), format.MD(s.Platform))
		if s.App != "" {
			fmt.Fprintf(&sb, "   %s\n", format.MD(s.App))
		}
		if place := strings.TrimSpace(s.IP + " " + s.Country); place != "" {
			fmt.Fprintf(&sb, "   %s\n", format.MD(place))
		}
		if !s.LastActive.IsZero() {
			fmt.Fprintf(&sb, "   last active %s\n", s.LastActive.UTC().Format(timeLayout))
		}
		if !s.Current {
			kill = append(kill, btn(fmt.Sprintf("❌ %d. %s", i+1, s.Device), cbDeviceKill, purchaseID, s.Handle))
		}
	}
	if len(kill) == 0 {
		sb.WriteString("\n✅ Only this shop's session remains.")
	} else {
		sb.WriteString("\n⭐ marks the shop's own session and cannot be removed.")
	}
	footer := [][]keyboard.InlineBtn{}
	if len(kill) > 0 {
		footer = append(footer, []keyboard.InlineBtn{btn("🧹 Terminate All Others", cbDeviceKillAll, purchaseID)})
	}
	footer = append(footer,
		[]keyboard.InlineBtn{btn("🔄 Refresh", cbDevices, purchaseID)},
		backToMenu(),
	)
	return sb.String(), keyboard.InlineGrid(kill, 1, footer...)
}

func renderProfile(u models.User, currency string) (string, *tele.ReplyMarkup) {
	var sb strings.Builder
	sb.WriteString("👤 *Profile*\n\n")
	if u.Username != "" {
		fmt.Fprintf(&sb, "Username: @%s\n", format.MD(u.Username))
	}
	fmt.Fprintf(&sb, "ID: `%d`\n", u.TelegramID)
	fmt.Fprintf(&sb, "Balance: *%s*\n", fmtMoney(currency, u.Balance))
	return sb.String(), keyboard.InlineRows(
		[]keyboard.InlineBtn{btn("💰 Add Funds", cbDeposit), btn("🧾 Deposits", cbHistory)},
		backToMenu(),
	)
}

func renderPurchases(list []models.PurchaseView, currency string) (string, *tele.ReplyMarkup) {
	if len(list) == 0 {
		return "📦 You have not bought anything yet.", keyboard.InlineRows(
			[]keyboard.InlineBtn{btn("🛒 Buy Number", cbShop)},
			backToMenu(),
		)
	}
	var sb strings.Builder
	sb.WriteString("📦 *Your purchases*\n\n")
	rows := make([][]keyboard.InlineBtn, 0, len(list)+1)
	for _, p := range list {
		fmt.Fprintf(&sb, "%s `%s` · %s · %s\n", p.Emoji, p.PhoneNumber, fmtMoney(currency, p.Amount), p.CreatedAt.UTC().Format(timeLayout))
		rows = append(rows, []keyboard.InlineBtn{
			btn("📩 "+p.PhoneNumber, cbOTP, p.ID),
			btn("🛡 Sessions", cbDevices, p.ID),
		})
	}
	rows = append(rows, backToMenu())
	return sb.String(), keyboard.InlineRows(rows...)
}

var depositIcons = map[models.DepositStatus]string{
	models.DepositPending:  "⏳",
	models.DepositApproved: "✅",
	models.DepositRejected: "❌",
}

func renderDepositHistory(list []models.DepositView, currency string) (string, *tele.ReplyMarkup) {
	markup := keyboard.InlineRows(
		[]keyboard.InlineBtn{btn("💰 Add Funds", cbDeposit)},
		backToMenu(),
	)
	if len(list) == 0 {
		return "🧾 No deposits yet.", markup
	}
	var sb strings.Builder
	sb.WriteString("🧾 *Your deposits*\n\n")
	for _, d := range list {
		fmt.Fprintf(&sb, "%s %s · `%s` · %s\n", depositIcons[d.Status], fmtMoney(currency, d.Amount), d.UPIRefID, d.CreatedAt.UTC().Format(timeLayout))
	}
	return sb.String(), markup
}

func renderDepositAmountPrompt(minimum decimal.Decimal, currency string) string {
	return fmt.Sprintf("💰 *Add Funds*\n\nHow much do you want to add? Minimum %s.", fmtMoney(currency, minimum))
}

func renderPaymentInstructions(upiID, link string, amount decimal.Decimal, currency string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Pay *%s* to UPI id `%s`\n", fmtMoney(currency, amount), upiID)
	fmt.Fprintf(&sb, "Or open: %s\n\n", format.MD(link))
	sb.WriteString("After paying, send the UPI transaction id (UTR).")
	return sb.String()
}

func renderDepositReview(d models.DepositView, currency string) string {
	var sb strings.Builder
	sb.WriteString("🧾 *Deposit request*\n\n")
	fmt.Fprintf(&sb, "ID: %d\n", d.ID)
	who := fmt.Sprintf("`%d`", d.TelegramID)
	if d.Username != "" {
		who += " @" + format.MD(d.Username)
	}
	fmt.Fprintf(&sb, "User: %s\n", who)
	fmt.Fprintf(&sb, "Amount: *%s*\n", fmtMoney(currency, d.Amount))
	fmt.Fprintf(&sb, "UTR: `%s`\n", d.UPIRefID)
	fmt.Fprintf(&sb, "Status: %s %s", depositIcons[d.Status], d.Status)
	return sb.String()
}

func reviewKeyboard(depositID int64) *tele.ReplyMarkup {
	return keyboard.InlineRows([]keyboard.InlineBtn{
		btn("✅ Approve", cbAdminApprove, depositID),
		btn("❌ Reject", cbAdminReject, depositID),
	})
}

func renderDecisionNotice(d models.DepositView, balance decimal.Decimal, currency string) string {
	if d.Status == models.DepositApproved {
		return fmt.Sprintf("✅ Your deposit of %s was approved.\nBalance: *%s*", fmtMoney(currency, d.Amount), fmtMoney(currency, balance))
	}
	return fmt.Sprintf("❌ Your deposit of %s (UTR `%s`) was rejected.", fmtMoney(currency, d.Amount), d.UPIRefID)
}

func renderPending(list []models.DepositView, currency string) (string, *tele.ReplyMarkup) {
	if len(list) == 0 {
		return "✅ No deposits waiting for review.", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "⏳ *%d pending deposits*\n\n", len(list))
	rows := make([][]keyboard.InlineBtn, 0, len(list))
	for _, d := range list {
		fmt.Fprintf(&sb, "#%d · `%d` · %s · `%s`\n", d.ID, d.TelegramID, fmtMoney(currency, d.Amount), d.UPIRefID)
		rows = append(rows, []keyboard.InlineBtn{
			btn(fmt.Sprintf("✅ #%d", d.ID), cbAdminApprove, d.ID),
			btn(fmt.Sprintf("❌ #%d", d.ID), cbAdminReject, d.ID),
		})
	}
	return sb.String(), keyboard.InlineRows(rows...)
}

func renderWatches(list []watcher.Info, now time.Time) string {
	if len(list) == 0 {
		return "No active code watches."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "👁 *%d active watches*\n\n", len(list))
	for _, w := range list {
		state := "waiting"
		if w.Claimed {
			state = "claimed"
		}
		fmt.Fprintf(&sb, "`%s` · %s · %s\n", w.Phone, state, now.Sub(w.StartedAt).Round(time.Second))
	}
	return sb.String()
}
