// Package redact strips credentials (LLM API keys, bot tokens, dashboard
// bearer tokens) from strings and maps before they are logged or published.
//
// Redaction is best-effort and works on string representations only.
package redact

import (
	"regexp"
	"strings"
)

const placeholder = "[REDACTED]"

var bearerRe = regexp.MustCompile(`(?i)\b(bearer)\s+[A-Za-z0-9._~+/=-]{8,}`)

// String replaces every occurrence of each sensitive value in s, then masks
// any "Bearer <token>" credential. Values shorter than 4 characters are
// ignored.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return bearerRe.ReplaceAllString(s, "$1 "+placeholder)
}

// Error is String applied to err.Error(); nil yields "".
func Error(err error, sensitiveValues ...string) string {
	if err == nil {
		return ""
	}
	return String(err.Error(), sensitiveValues...)
}

// Map returns a shallow copy of m with string values masked for keys that
// look like credentials.
func Map(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if str, ok := v.(string); ok && str != "" && isSensitiveKey(k) {
			out[k] = placeholder
			continue
		}
		out[k] = v
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "token", "secret", "api_key", "apikey", "credential", "auth"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}
