package mtproto

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pyrogramString(t *testing.T, layout int, dc byte, user uint64) string {
	t.Helper()
	key := bytes.Repeat([]byte{0xAB}, authKeyLen)
	var buf bytes.Buffer
	buf.WriteByte(dc)
	if layout == 271 {
		require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(12345)))
	}
	buf.WriteByte(0) // test mode
	buf.Write(key)
	if layout == 263 {
		require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(user)))
	} else {
		require.NoError(t, binary.Write(&buf, binary.BigEndian, user))
	}
	buf.WriteByte(0) // bot
	require.Equal(t, layout, buf.Len())
	return base64.URLEncoding.EncodeToString(buf.Bytes())
}

func TestParsePyrogramLayouts(t *testing.T) {
	for _, layout := range []int{271, 267, 263} {
		parsed, err := ParseSession(pyrogramString(t, layout, 2, 424242))
		require.NoError(t, err, "layout %d", layout)
		assert.Equal(t, FormatPyrogram, parsed.Format)
		assert.Equal(t, int64(424242), parsed.UserID)
		assert.Equal(t, 2, parsed.Data.DC)
		assert.Equal(t, "149.154.167.51:443", parsed.Data.Addr)
		assert.Len(t, parsed.Data.AuthKey, authKeyLen)
		assert.Len(t, parsed.Data.AuthKeyID, 8)
	}
}

func TestParseSessionRejects(t *testing.T) {
	cases := map[string]string{
		"empty":      "",
		"not base64": "%%%",
		"short":      base64.RawURLEncoding.EncodeToString([]byte{1, 2, 3}),
		"unknown dc": pyrogramString(t, 267, 9, 1),
	}
	for name, raw := range cases {
		_, err := ParseSession(raw)
		assert.True(t, errors.Is(err, ErrBadSession), name)
	}
}

func TestParseTelethonVersion(t *testing.T) {
	_, err := ParseSession("1" + "not-a-session")
	assert.ErrorIs(t, err, ErrBadSession)
}
