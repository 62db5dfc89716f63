package mtproto

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gotd/td/session"
)

// Session string formats.
const (
	FormatPyrogram = "pyrogram"
	FormatTelethon = "telethon"
)

const authKeyLen = 256

// ErrBadSession is returned for session strings that cannot be decoded.
var ErrBadSession = errors.New("mtproto: unsupported session string")

// Production data center addresses, keyed by DC id.
var prodDCs = map[int]string{
	1: "149.154.175.53",
	2: "149.154.167.51",
	3: "149.154.175.100",
	4: "149.154.167.91",
	5: "91.108.56.130",
}

// ParsedSession is a decoded session string.
type ParsedSession struct {
	Format string
	Data   *session.Data
	// UserID is known for Pyrogram strings only.
	UserID int64
}

// ParseSession decodes a Pyrogram or Telethon string session.
func ParseSession(raw string) (ParsedSession, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ParsedSession{}, fmt.Errorf("%w: empty", ErrBadSession)
	}
	if raw[0] == '1' {
		data, err := session.TelethonSession(raw)
		if err != nil {
			return ParsedSession{}, fmt.Errorf("%w: telethon: %v", ErrBadSession, err)
		}
		return ParsedSession{Format: FormatTelethon, Data: data}, nil
	}
	return parsePyrogram(raw)
}

// Pyrogram packs, big-endian:
//
//	271 bytes: dc u8, api_id u32, test bool, key [256], user_id u64, bot bool
//	267 bytes: dc u8, test bool, key [256], user_id u64, bot bool
//	263 bytes: dc u8, test bool, key [256], user_id u32, bot bool
func parsePyrogram(raw string) (ParsedSession, error) {
	buf, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
	if err != nil {
		return ParsedSession{}, fmt.Errorf("%w: base64: %v", ErrBadSession, err)
	}

	var (
		off    int
		userID int64
	)
	switch len(buf) {
	case 271:
		off = 5
	case 267, 263:
		off = 1
	default:
		return ParsedSession{}, fmt.Errorf("%w: unexpected length %d", ErrBadSession, len(buf))
	}
	dc := int(buf[0])
	if buf[off] != 0 {
		return ParsedSession{}, fmt.Errorf("%w: test server sessions are not supported", ErrBadSession)
	}
	key := buf[off+1 : off+1+authKeyLen]
	rest := buf[off+1+authKeyLen:]
	if len(buf) == 263 {
		userID = int64(binary.BigEndian.Uint32(rest[:4]))
	} else {
		userID = int64(binary.BigEndian.Uint64(rest[:8]))
	}

	host, ok := prodDCs[dc]
	if !ok {
		return ParsedSession{}, fmt.Errorf("%w: unknown dc %d", ErrBadSession, dc)
	}
	authKey := append([]byte(nil), key...)
	return ParsedSession{
		Format: FormatPyrogram,
		UserID: userID,
		Data: &session.Data{
			DC:        dc,
			Addr:      net.JoinHostPort(host, strconv.Itoa(443)),
			AuthKey:   authKey,
			AuthKeyID: authKeyID(authKey),
		},
	}, nil
}

// authKeyID is the low 64 bits of SHA1(key).
func authKeyID(key []byte) []byte {
	sum := sha1.Sum(key)
	return append([]byte(nil), sum[12:20]...)
}
