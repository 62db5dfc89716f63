package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode"
)

type contextKey int

const (
	ctxRID contextKey = iota
	ctxUpdate
	ctxLogger
	ctxHandler
	ctxPhone
	ctxPurchase
)

type updateMeta struct {
	updateID int
	userID   int64
	chatID   int64
}

func ensure(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func value[T any](ctx context.Context, key contextKey) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	v, ok := ctx.Value(key).(T)
	return v, ok
}

// WithLogger stores log in ctx for FromContext.
func WithLogger(ctx context.Context, log *slog.Logger) context.Context {
	ctx = ensure(ctx)
	if log == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxLogger, log)
}

// FromContext returns the logger stored by WithLogger or L.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := value[*slog.Logger](ctx, ctxLogger); ok && l != nil {
		return l
	}
	return L
}

// WithRID attaches a request correlation id.
func WithRID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ensure(ctx), ctxRID, rid)
}

// RIDFrom returns the correlation id or "".
func RIDFrom(ctx context.Context) string {
	rid, _ := value[string](ctx, ctxRID)
	return rid
}

// WithUpdateMeta attaches Bot API update identifiers.
func WithUpdateMeta(ctx context.Context, updateID int, userID, chatID int64) context.Context {
	return context.WithValue(ensure(ctx), ctxUpdate, updateMeta{updateID: updateID, userID: userID, chatID: chatID})
}

// UpdateIDFrom returns the Bot API update id or 0.
func UpdateIDFrom(ctx context.Context) int {
	m, _ := value[updateMeta](ctx, ctxUpdate)
	return m.updateID
}

// UserIDFrom returns the Telegram user id of the update sender or 0.
func UserIDFrom(ctx context.Context) int64 {
	m, _ := value[updateMeta](ctx, ctxUpdate)
	return m.userID
}

// ChatIDFrom returns the chat id of the update or 0.
func ChatIDFrom(ctx context.Context) int64 {
	m, _ := value[updateMeta](ctx, ctxUpdate)
	return m.chatID
}

// WithHandler tags records with the handler that produced them.
func WithHandler(ctx context.Context, handler string) context.Context {
	ctx = ensure(ctx)
	if handler == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxHandler, handler)
}

// HandlerFrom returns the handler tag or "".
func HandlerFrom(ctx context.Context) string {
	h, _ := value[string](ctx, ctxHandler)
	return h
}

// WithPhone tags records with the watched phone number. It is masked on output.
func WithPhone(ctx context.Context, phone string) context.Context {
	return context.WithValue(ensure(ctx), ctxPhone, phone)
}

// PhoneFrom returns the raw phone number stored by WithPhone.
func PhoneFrom(ctx context.Context) string {
	p, _ := value[string](ctx, ctxPhone)
	return p
}

// WithPurchaseID tags records with a purchase id.
func WithPurchaseID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ensure(ctx), ctxPurchase, id)
}

// PurchaseIDFrom returns the purchase id or 0.
func PurchaseIDFrom(ctx context.Context) int64 {
	id, _ := value[int64](ctx, ctxPurchase)
	return id
}

// Sanitize drops control and format runes except tab and newline.
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
}

// SanitizeLimit applies Sanitize and keeps at most max runes.
func SanitizeLimit(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(Sanitize(s))
	if len(r) > max {
		r = r[:max]
	}
	return string(r)
}

// BuildRID returns a correlation id in the form updateID:chatID:userID.
func BuildRID(updateID int, chatID, userID int64) string {
	return fmt.Sprintf("%d:%d:%d", updateID, chatID, userID)
}

// CompactRID rewrites a BuildRID value as dot-separated base36 segments. Other
// inputs are returned trimmed.
func CompactRID(rid string) string {
	rid = strings.TrimSpace(rid)
	parts := strings.Split(rid, ":")
	if len(parts) != 3 {
		return rid
	}
	for i, part := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return rid
		}
		parts[i] = strconv.FormatInt(n, 36)
	}
	return strings.Join(parts, ".")
}
