package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	tele "gopkg.in/telebot.v4"
)

type fakeContext struct {
	tele.Context
	upd    tele.Update
	sender *tele.User
	store  map[string]any
	sent   []any
}

func newFakeContext(upd tele.Update, userID int64) *fakeContext {
	return &fakeContext{upd: upd, sender: &tele.User{ID: userID}, store: map[string]any{}}
}

func (f *fakeContext) Update() tele.Update     { return f.upd }
func (f *fakeContext) Sender() *tele.User      { return f.sender }
func (f *fakeContext) Chat() *tele.Chat        { return &tele.Chat{ID: f.sender.ID} }
func (f *fakeContext) Get(key string) any      { return f.store[key] }
func (f *fakeContext) Set(key string, val any) { f.store[key] = val }
func (f *fakeContext) Send(what any, _ ...any) error {
	f.sent = append(f.sent, what)
	return nil
}

func TestRateLimitDropsBurst(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	var handled, limited int
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval:  time.Second,
		OnLimited: func(tele.Context) error { limited++; return nil },
		now:       func() time.Time { return clock },
	})
	h := mw(func(tele.Context) error { handled++; return nil })

	msg := tele.Update{ID: 1, Message: &tele.Message{Text: "hi"}}
	assert.NoError(t, h(newFakeContext(msg, 7)))
	assert.NoError(t, h(newFakeContext(msg, 7)))
	assert.NoError(t, h(newFakeContext(msg, 8)))
	clock = clock.Add(1100 * time.Millisecond)
	assert.NoError(t, h(newFakeContext(msg, 7)))

	assert.Equal(t, 3, handled)
	assert.Equal(t, 1, limited)
}

func TestRateLimitExcludesKinds(t *testing.T) {
	var handled int
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval: time.Hour,
		Exclude:  map[string]struct{}{"photo": {}},
	})
	h := mw(func(tele.Context) error { handled++; return nil })

	photo := tele.Update{Message: &tele.Message{Photo: &tele.Photo{}}}
	for i := 0; i < 3; i++ {
		assert.NoError(t, h(newFakeContext(photo, 1)))
	}
	assert.Equal(t, 3, handled)
}

func TestUpdateKind(t *testing.T) {
	assert.Equal(t, "callback", UpdateKind(tele.Update{Callback: &tele.Callback{}}))
	assert.Equal(t, "photo", UpdateKind(tele.Update{Message: &tele.Message{Photo: &tele.Photo{}}}))
	assert.Equal(t, "message", UpdateKind(tele.Update{Message: &tele.Message{}}))
	assert.Equal(t, "other", UpdateKind(tele.Update{}))
}

func TestAdminOnlyMiddleware(t *testing.T) {
	var handled, rejected int
	mw := AdminOnlyMiddleware(AdminOptions{
		IsAdmin:  func(id int64) bool { return id == 42 },
		OnReject: func(tele.Context) error { rejected++; return nil },
	})
	h := mw(func(tele.Context) error { handled++; return nil })

	assert.NoError(t, h(newFakeContext(tele.Update{}, 42)))
	assert.NoError(t, h(newFakeContext(tele.Update{}, 1)))
	assert.Equal(t, 1, handled)
	assert.Equal(t, 1, rejected)
}

func TestRecoverMiddlewareRepliesOnPanic(t *testing.T) {
	c := newFakeContext(tele.Update{ID: 3}, 5)
	h := RecoverMiddleware(func(tele.Context) error { panic("boom") })
	assert.NoError(t, h(c))
	assert.Equal(t, []any{PanicReply}, c.sent)
}
