package bot

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/numbershop/internal/devices"
	"github.com/m3rciful/numbershop/internal/models"
	"github.com/m3rciful/numbershop/internal/purchase"
	"github.com/m3rciful/numbershop/internal/watcher"
)

func india(available int) models.CountryStock {
	return models.CountryStock{
		Country:   models.Country{ID: 3, Name: "India", Emoji: "🇮🇳", Price: decimal.NewFromInt(80)},
		Available: available,
	}
}

func TestRenderCountries(t *testing.T) {
	text, markup := renderCountries(nil, "₹")
	assert.Contains(t, text, "No numbers in stock")
	require.Len(t, markup.InlineKeyboard, 1)
	assert.Equal(t, cbMenu, markup.InlineKeyboard[0][0].Unique)

	_, markup = renderCountries([]models.CountryStock{india(2)}, "₹")
	require.Len(t, markup.InlineKeyboard, 2)
	b := markup.InlineKeyboard[0][0]
	assert.Equal(t, cbCountry, b.Unique)
	assert.Equal(t, "3", b.Data)
	assert.Equal(t, "🇮🇳 India · ₹80.00 (2)", b.Text)
}

func TestRenderQuote(t *testing.T) {
	text, markup := renderQuote(purchase.Quote{Country: india(1), Balance: decimal.NewFromInt(100), Affordable: true}, "₹")
	assert.Contains(t, text, "Price: *₹80.00*")
	assert.Contains(t, text, "Your balance: ₹100.00")
	assert.Equal(t, cbBuy, markup.InlineKeyboard[0][0].Unique)
	assert.Equal(t, "3", markup.InlineKeyboard[0][0].Data)

	text, markup = renderQuote(purchase.Quote{
		Country:   india(1),
		Balance:   decimal.NewFromInt(50),
		Shortfall: decimal.NewFromInt(30),
	}, "₹")
	assert.Contains(t, text, "You need ₹30.00 more")
	assert.Equal(t, cbDeposit, markup.InlineKeyboard[0][0].Unique)
}

func TestRenderSnapshot(t *testing.T) {
	waiting := purchase.Snapshot{PurchaseID: 9, Phone: "+919876540001", State: purchase.StateAwaitingCode, Attempt: 3, MaxAttempts: 24, Watching: true}
	text, markup := renderSnapshot(waiting)
	assert.Contains(t, text, "Waiting for the login code")
	assert.Contains(t, text, "Auto-checking 3/24")
	assert.NotContains(t, text, "2FA")
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Equal(t, cbOTPCheck, markup.InlineKeyboard[0][0].Unique)
	assert.Equal(t, cbOTPStop, markup.InlineKeyboard[1][0].Unique)

	delivered := waiting
	delivered.State = purchase.StateCodeDelivered
	delivered.Code = "12345"
	delivered.TwoFA = "hunter2"
	delivered.Attempt = 0
	text, markup = renderSnapshot(delivered)
	assert.Contains(t, text, "Login code: `12345`")
	assert.Contains(t, text, "2FA password: `hunter2`")
	assert.NotContains(t, text, "Auto-checking")
	require.Len(t, markup.InlineKeyboard, 3)
	assert.Equal(t, cbOTPResend, markup.InlineKeyboard[1][0].Unique)
	assert.Equal(t, "9", markup.InlineKeyboard[1][0].Data)
}

func TestRenderSessions(t *testing.T) {
	list := []devices.Session{
		{Handle: "0", Device: "Shop", Platform: "Linux", Current: true},
		{Handle: "77", Device: "Pixel 8", Platform: "Android", IP: "1.2.3.4", Country: "IN", LastActive: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
	}
	text, markup := renderSessions(9, "+919876540001", list)
	assert.Contains(t, text, "⭐ *Shop* (Linux)")
	assert.Contains(t, text, "1.2.3.4 IN")
	assert.Contains(t, text, "last active 01 Mar 2026 10:00")

	// one kill button, terminate all, refresh, menu
	require.Len(t, markup.InlineKeyboard, 4)
	kill := markup.InlineKeyboard[0][0]
	assert.Equal(t, cbDeviceKill, kill.Unique)
	assert.Equal(t, "9:77", kill.Data)
	assert.Equal(t, cbDeviceKillAll, markup.InlineKeyboard[1][0].Unique)

	text, markup = renderSessions(9, "+919876540001", list[:1])
	assert.Contains(t, text, "Only this shop's session remains")
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Equal(t, cbDevices, markup.InlineKeyboard[0][0].Unique)
}

func TestRenderPurchases(t *testing.T) {
	list := []models.PurchaseView{{
		Purchase:    models.Purchase{ID: 4, Amount: decimal.NewFromInt(80), CreatedAt: time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC)},
		PhoneNumber: "+919876540001",
		CountryName: "India",
		Emoji:       "🇮🇳",
	}}
	text, markup := renderPurchases(list, "₹")
	assert.Contains(t, text, "`+919876540001` · ₹80.00 · 02 Jan 2026 03:04")
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Equal(t, cbOTP, markup.InlineKeyboard[0][0].Unique)
	assert.Equal(t, cbDevices, markup.InlineKeyboard[0][1].Unique)
	assert.Equal(t, "4", markup.InlineKeyboard[0][1].Data)

	text, _ = renderPurchases(nil, "₹")
	assert.Contains(t, text, "not bought anything")
}

func TestRenderProfileEscapesUsername(t *testing.T) {
	text, _ := renderProfile(models.User{TelegramID: 42, Username: "some_user", Balance: decimal.RequireFromString("12.5")}, "₹")
	assert.Contains(t, text, `@some\_user`)
	assert.Contains(t, text, "*₹12.50*")
}

func TestRenderDeposits(t *testing.T) {
	d := models.DepositView{
		Deposit:    models.Deposit{ID: 5, Amount: decimal.NewFromInt(250), UPIRefID: "UTR123456", Status: models.DepositApproved},
		TelegramID: 5001,
		Username:   "payer",
	}
	review := renderDepositReview(d, "₹")
	assert.Contains(t, review, "User: `5001` @payer")
	assert.Contains(t, review, "Status: ✅ APPROVED")

	notice := renderDecisionNotice(d, decimal.NewFromInt(300), "₹")
	assert.Contains(t, notice, "Balance: *₹300.00*")

	d.Status = models.DepositRejected
	assert.Contains(t, renderDecisionNotice(d, decimal.Zero, "₹"), "rejected")

	text, markup := renderPending([]models.DepositView{d}, "₹")
	assert.Contains(t, text, "1 pending deposits")
	assert.Equal(t, cbAdminApprove, markup.InlineKeyboard[0][0].Unique)
	assert.Equal(t, "5", markup.InlineKeyboard[0][0].Data)

	_, markup = renderPending(nil, "₹")
	assert.Nil(t, markup)

	history, _ := renderDepositHistory([]models.DepositView{d}, "₹")
	assert.Contains(t, history, "❌ ₹250.00 · `UTR123456`")
}

func TestRenderPaymentInstructions(t *testing.T) {
	text := renderPaymentInstructions("shop@upi", "upi://pay?am=100.00&cu=INR&pa=shop%40upi&tn=Deposit", decimal.NewFromInt(100), "₹")
	assert.Contains(t, text, "UPI id `shop@upi`")
	assert.True(t, strings.Contains(text, "upi://pay?am=100.00"))
}

func TestRenderWatches(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "No active code watches.", renderWatches(nil, now))
	text := renderWatches([]watcher.Info{
		{Phone: "+1", StartedAt: now.Add(-90 * time.Second)},
		{Phone: "+2", StartedAt: now.Add(-time.Minute), Claimed: true},
	}, now)
	assert.Contains(t, text, "`+1` · waiting · 1m30s")
	assert.Contains(t, text, "`+2` · claimed · 1m0s")
}

func TestSessionsRemoved(t *testing.T) {
	assert.Equal(t, "✅ No other sessions were active.", sessionsRemoved(0))
	assert.Equal(t, "✅ Terminated 1 session.", sessionsRemoved(1))
	assert.Equal(t, "✅ Terminated 3 sessions.", sessionsRemoved(3))
}
