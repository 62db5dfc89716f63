// Package callbacks encodes and decodes inline button data of the form
// "\f<unique>|<payload>" and splits multi-part payloads.
package callbacks

import (
	"errors"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
)

// Sep joins payload parts, e.g. "<purchase_id>:<handle>".
const Sep = ":"

// ErrBadPayload is returned when a payload does not have the expected shape.
var ErrBadPayload = errors.New("callbacks: malformed payload")

// Data joins payload parts for markup.Data.
func Data(parts ...any) string {
	out := make([]string, len(parts))
	for i, p := range parts {
		switch v := p.(type) {
		case string:
			out[i] = v
		case int:
			out[i] = strconv.Itoa(v)
		case int64:
			out[i] = strconv.FormatInt(v, 10)
		default:
			out[i] = ""
		}
	}
	return strings.Join(out, Sep)
}

// ParseCallbackData returns the unique and the raw payload of cb.
func ParseCallbackData(cb *tele.Callback) (string, string) {
	if cb == nil {
		return "", ""
	}
	raw := strings.TrimPrefix(strings.TrimPrefix(cb.Data, "\f"), "\\f")
	unique, payload, _ := strings.Cut(raw, "|")
	unique = strings.TrimSpace(unique)
	if cb.Unique != "" {
		if unique != cb.Unique {
			// telebot already stripped the unique from Data
			return cb.Unique, cb.Data
		}
		return cb.Unique, payload
	}
	return unique, payload
}

// CallbackKey returns the unique of the current callback.
func CallbackKey(c tele.Context) string {
	key, _ := ParseCallbackData(c.Callback())
	return key
}

// CallbackPayload returns the payload of the current callback.
func CallbackPayload(c tele.Context) string {
	_, payload := ParseCallbackData(c.Callback())
	return payload
}

// PayloadInt64 parses a single-part payload as int64.
func PayloadInt64(c tele.Context) (int64, error) {
	v, err := strconv.ParseInt(CallbackPayload(c), 10, 64)
	if err != nil {
		return 0, ErrBadPayload
	}
	return v, nil
}

// PayloadParts splits the payload into exactly n parts.
func PayloadParts(c tele.Context, n int) ([]string, error) {
	parts := strings.Split(CallbackPayload(c), Sep)
	if len(parts) != n {
		return nil, ErrBadPayload
	}
	return parts, nil
}

// PayloadInt64String parses "<int64>:<string>" payloads.
func PayloadInt64String(c tele.Context) (int64, string, error) {
	parts, err := PayloadParts(c, 2)
	if err != nil {
		return 0, "", err
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", ErrBadPayload
	}
	return id, parts[1], nil
}
