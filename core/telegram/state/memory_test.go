package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	tele "gopkg.in/telebot.v4"
)

type userContext struct {
	tele.Context
	id    int64
	store map[string]any
}

func (u *userContext) Sender() *tele.User      { return &tele.User{ID: u.id} }
func (u *userContext) Chat() *tele.Chat        { return &tele.Chat{ID: u.id} }
func (u *userContext) Update() tele.Update     { return tele.Update{} }
func (u *userContext) Get(key string) any      { return u.store[key] }
func (u *userContext) Set(key string, val any) { u.store[key] = val }

func TestManagerDispatchesByState(t *testing.T) {
	m := NewMemoryManager()
	var got []State
	m.Handle("amount", func(tele.Context) error { got = append(got, "amount"); return nil })
	m.Handle("utr", func(tele.Context) error { got = append(got, "utr"); return nil })

	c := &userContext{id: 9, store: map[string]any{}}
	assert.False(t, m.InProgress(9))

	m.SetState(9, "amount")
	assert.True(t, m.InProgress(9))
	assert.NoError(t, m.ManagerHandler(c))

	m.SetState(9, "utr")
	m.SetTemp(9, "amount", "250")
	assert.NoError(t, m.ManagerHandler(c))
	amount, ok := TempString(m, 9, "amount")
	assert.True(t, ok)
	assert.Equal(t, "250", amount)

	assert.Equal(t, []State{"amount", "utr"}, got)
}

func TestManagerResetsUnknownState(t *testing.T) {
	m := NewMemoryManager()
	m.SetState(3, "gone")
	assert.NoError(t, m.ManagerHandler(&userContext{id: 3, store: map[string]any{}}))
	assert.Equal(t, StateIdle, m.GetState(3))
}
