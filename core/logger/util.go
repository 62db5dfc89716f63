package logger

import (
	"log/slog"
	"strings"
	"time"
)

// Status maps an error to the status attribute value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Took returns the rounded time elapsed since start.
func Took(start time.Time) time.Duration {
	return RoundMS(time.Since(start))
}

// RoundMS rounds d to the millisecond; negative durations become zero.
func RoundMS(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d.Round(time.Millisecond)
}

// SummarizeStrings joins up to limit values and reports whether some were left out.
func SummarizeStrings(values []string, limit int) (string, bool) {
	if limit <= 0 {
		return "", len(values) > 0
	}
	if len(values) <= limit {
		return strings.Join(values, ", "), false
	}
	return strings.Join(values[:limit], ", "), true
}

// MaskPhone keeps the country prefix marker and the last four digits: +91******0001.
func MaskPhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if len(phone) <= 4 {
		return phone
	}
	head := ""
	if strings.HasPrefix(phone, "+") {
		head = "+"
		phone = phone[1:]
	}
	keep := 4
	if len(phone) > 8 {
		head += phone[:2]
		phone = phone[2:]
	}
	return head + strings.Repeat("*", len(phone)-keep) + phone[len(phone)-keep:]
}

// MaskCode hides all but the last digit of a login code.
func MaskCode(code string) string {
	if len(code) <= 1 {
		return code
	}
	return strings.Repeat("*", len(code)-1) + code[len(code)-1:]
}

// Phone returns the masked phone attribute.
func Phone(phone string) slog.Attr {
	return slog.String("phone", MaskPhone(phone))
}

// Err returns the err attribute, or an empty attr for a nil error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("err", err.Error())
}
