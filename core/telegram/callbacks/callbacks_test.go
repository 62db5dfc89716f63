package callbacks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

type cbContext struct {
	tele.Context
	cb *tele.Callback
}

func (c cbContext) Callback() *tele.Callback { return c.cb }

func TestParseCallbackData(t *testing.T) {
	key, payload := ParseCallbackData(&tele.Callback{Data: "\fbuy|12"})
	assert.Equal(t, "buy", key)
	assert.Equal(t, "12", payload)

	key, payload = ParseCallbackData(&tele.Callback{Unique: "buy", Data: "12"})
	assert.Equal(t, "buy", key)
	assert.Equal(t, "12", payload)

	key, payload = ParseCallbackData(&tele.Callback{Data: "\fmenu"})
	assert.Equal(t, "menu", key)
	assert.Empty(t, payload)
}

func TestPayloadInt64String(t *testing.T) {
	c := cbContext{cb: &tele.Callback{Data: "\frevoke|" + Data(int64(7), "12345")}}
	id, handle, err := PayloadInt64String(c)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, "12345", handle)

	_, err = PayloadInt64(c)
	assert.ErrorIs(t, err, ErrBadPayload)
}
