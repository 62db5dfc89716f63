package watcher

import (
	"regexp"
	"strings"
)

// codeRe matches the first standalone run of 5 or 6 digits.
var codeRe = regexp.MustCompile(`\b\d{5,6}\b`)

// ExtractCode returns the login code carried by text, if any.
func ExtractCode(text string) (string, bool) {
	code := codeRe.FindString(text)
	return code, code != ""
}

// isLoginNotice reports whether text announces a completed login elsewhere.
// Code messages mention login and devices too, so anything carrying a code
// is not a notice.
func isLoginNotice(text string) bool {
	lower := strings.ToLower(text)
	if !strings.Contains(lower, "login") {
		return false
	}
	if !strings.Contains(lower, "new") && !strings.Contains(lower, "device") && !strings.Contains(lower, "successfully") {
		return false
	}
	_, hasCode := ExtractCode(text)
	return !hasCode
}
