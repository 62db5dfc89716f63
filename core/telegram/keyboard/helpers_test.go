package keyboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInlineGrid(t *testing.T) {
	buttons := []InlineBtn{
		{Text: "India", Unique: "country", Data: "1"},
		{Text: "Brazil", Unique: "country", Data: "2"},
		{Text: "Kenya", Unique: "country", Data: "3"},
	}
	markup := InlineGrid(buttons, 2, []InlineBtn{Cancel("menu")})
	require.Len(t, markup.InlineKeyboard, 3)
	assert.Len(t, markup.InlineKeyboard[0], 2)
	assert.Len(t, markup.InlineKeyboard[1], 1)
	assert.Equal(t, CancelText, markup.InlineKeyboard[2][0].Text)
	assert.Equal(t, "country", markup.InlineKeyboard[0][1].Unique)
	assert.Equal(t, "2", markup.InlineKeyboard[0][1].Data)
}
