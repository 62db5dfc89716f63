package logger

import "strings"

const (
	// LevelDebug represents the debug severity level name.
	LevelDebug = "DEBUG"
	// LevelInfo represents the info severity level name.
	LevelInfo = "INFO"
	// LevelWarn represents the warning severity level name.
	LevelWarn = "WARN"
	// LevelError represents the error severity level name.
	LevelError = "ERROR"
)

var levelNames = map[string]string{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

// enumFields lists attributes with a closed vocabulary. Unknown values are dropped
// for fields marked strict and passed through otherwise.
var enumFields = map[string]struct {
	values map[string]struct{}
	strict bool
}{
	"status": {values: set("ok", "fail", "skip", "retry", "rate_limited", "cancelled",
		"not_watching", "waiting", "logged_in", "timeout"), strict: false},
	"cache":   {values: set("hit", "miss", "stale", "refresh"), strict: true},
	"outcome": {values: set("ok", "fail", "cancelled", "rate_limited", "claimed", "timed_out", "stopped"), strict: true},
}

func set(values ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}

func normalizeLevel(level string) string {
	if level == "" {
		return LevelInfo
	}
	if mapped, ok := levelNames[strings.ToLower(level)]; ok {
		return mapped
	}
	return strings.ToUpper(level)
}

// normalizeEnum lowercases value and reports whether the field should be kept.
func normalizeEnum(field, value string) (string, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "", false
	}
	spec, ok := enumFields[field]
	if !ok {
		return value, true
	}
	if _, known := spec.values[value]; known || !spec.strict {
		return value, true
	}
	return "", false
}

var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"ts_unix_nano",
	"update_id",
	"user_id",
	"chat_id",
	"handler",
	"op",
	"cb_key",
	"phone",
	"purchase_id",
	"account_id",
	"country_id",
	"deposit_id",
	"attempt",
	"max_attempts",
	"outcome",
	"duration_ms",
	"cache",
	"code",
	"handle",
	"sessions",
	"amount",
	"balance",
	"event_type",
	"event_id",
	"mode",
	"listen",
	"public_url",
	"db",
	"host",
	"port",
	"err",
	"err_code",
	"cause",
	"retryable",
	"attempts",
	"backoff_ms",
	"pending_count",
}

// defaultRedactedKeys are replaced with a placeholder regardless of value.
var defaultRedactedKeys = []string{
	"session",
	"session_data",
	"session_string",
	"twofa",
	"twofa_password",
	"password",
	"api_hash",
	"token",
	"auth_key",
}
