package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	coreconfig "github.com/m3rciful/numbershop/core/config"
	tg "github.com/m3rciful/numbershop/core/telegram"
	"github.com/m3rciful/numbershop/internal/models"
	"github.com/m3rciful/numbershop/internal/store"
)

type fakeUsers struct {
	mu       sync.Mutex
	upserts  map[int64]int
	names    map[int64]string
	settings map[string]string
	err      error
}

func (f *fakeUsers) UpsertUser(_ context.Context, id int64, _, fullName string, _ bool) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upserts == nil {
		f.upserts = map[int64]int{}
		f.names = map[int64]string{}
	}
	f.upserts[id]++
	f.names[id] = fullName
	return models.User{TelegramID: id, FullName: fullName}, nil
}

func (f *fakeUsers) UserByTelegramID(context.Context, int64) (models.User, error) {
	return models.User{}, nil
}

func (f *fakeUsers) AddAccount(context.Context, models.Account) (int64, error) { return 0, nil }

func (f *fakeUsers) Setting(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.settings[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

func (f *fakeUsers) PutSetting(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settings == nil {
		f.settings = map[string]string{}
	}
	f.settings[key] = value
	return nil
}

func TestRegister(t *testing.T) {
	b := New(Options{Telegram: coreconfig.TelegramConfig{AdminID: 1}})
	reg := tg.NewRegistry()
	require.NoError(t, b.Register(reg))

	for _, key := range []string{cbMenu, cbShop, cbCountry, cbBuy, cbOTP, cbOTPCheck, cbOTPResend, cbOTPStop,
		cbDevices, cbDeviceKill, cbDeviceKillAll, cbDeposit, cbDepositShotOK, cbAdminApprove, cbAdminReject} {
		_, ok := reg.GetCallback(key)
		assert.True(t, ok, key)
	}

	_, cmd, ok := reg.LookupCommand("/menu")
	require.True(t, ok)
	assert.False(t, cmd.AdminOnly)
	_, cmd, ok = reg.LookupCommand("/addaccount 1 +1 s")
	require.True(t, ok)
	assert.True(t, cmd.AdminOnly)
	_, cmd, ok = reg.LookupCommand("/setsupport @help")
	require.True(t, ok)
	assert.True(t, cmd.AdminOnly)

	assert.True(t, b.IsAdmin(1))
	assert.False(t, b.IsAdmin(2))
	assert.NotNil(t, reg.TextFallback())

	require.Error(t, b.Register(reg), "second registration collides")
}

func TestSupportContactPrefersSetting(t *testing.T) {
	ctx := context.Background()
	users := &fakeUsers{}
	b := New(Options{Users: users, SupportContact: "@config_support"})

	assert.Equal(t, "@config_support", b.supportContact(ctx))

	require.NoError(t, users.PutSetting(ctx, store.SettingSupportContact, "@desk"))
	assert.Equal(t, "@desk", b.supportContact(ctx))

	users.err = errors.New("connection reset")
	assert.Equal(t, "@config_support", b.supportContact(ctx))
}

func TestParseAddAccount(t *testing.T) {
	acc, err := parseAddAccount([]string{"7", "+919876540001", "blob"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), acc.CountryID)
	assert.Equal(t, "+919876540001", acc.PhoneNumber)
	assert.Equal(t, "blob", acc.SessionData)
	assert.Equal(t, models.KindID, acc.Kind)
	assert.Nil(t, acc.TwoFAPassword)

	acc, err = parseAddAccount([]string{"7", "+919876540001", "blob", "hunter2", "kind=session"})
	require.NoError(t, err)
	assert.Equal(t, models.KindSession, acc.Kind)
	require.NotNil(t, acc.TwoFAPassword)
	assert.Equal(t, "hunter2", *acc.TwoFAPassword)

	acc, err = parseAddAccount([]string{"kind=ID", "7", "+919876540001", "blob"})
	require.NoError(t, err)
	assert.Equal(t, models.KindID, acc.Kind)

	for _, args := range [][]string{
		{"7", "+919876540001"},
		{"x", "+919876540001", "blob"},
		{"7", "+919876540001", "blob", "kind=BOTH"},
		{"7", "+919876540001", "blob", "pw", "extra"},
	} {
		_, err := parseAddAccount(args)
		assert.Error(t, err, args)
	}
}

func TestTrackUsersOncePerSender(t *testing.T) {
	users := &fakeUsers{}
	b := New(Options{Users: users})
	tb, err := tele.NewBot(tele.Settings{Offline: true})
	require.NoError(t, err)

	calls := 0
	h := b.TrackUsers(func(tele.Context) error {
		calls++
		return nil
	})
	upd := tele.Update{Message: &tele.Message{
		Sender: &tele.User{ID: 7, FirstName: "Asha", LastName: "Rao"},
		Chat:   &tele.Chat{ID: 7},
	}}
	for i := 0; i < 3; i++ {
		require.NoError(t, h(tb.NewContext(upd)))
	}
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, users.upserts[7])
	assert.Equal(t, "Asha Rao", users.names[7])
}

func TestShutdownWaitsForLoops(t *testing.T) {
	b := New(Options{})
	release := make(chan struct{})
	finished := make(chan struct{})
	require.True(t, b.spawn(func(ctx context.Context) {
		<-ctx.Done()
		<-release
		close(finished)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Shutdown(ctx), context.DeadlineExceeded)

	close(release)
	<-finished
	require.NoError(t, b.Shutdown(context.Background()))
	assert.False(t, b.spawn(func(context.Context) {}), "no loops after shutdown")
}
