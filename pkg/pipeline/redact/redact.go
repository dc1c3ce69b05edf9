package redact

import (
	"regexp"
	"strings"
)

var (
	// Matches "Bearer <token>" (JWTs and opaque tokens).
	bearerTokenRe = regexp.MustCompile(`(?i)\bBearer\s+[^\s"']+`)

	// key=value and "key": "value" forms that show up in error strings and echoed request bodies.
	tokenKVRe = regexp.MustCompile(`(?i)"?\b(api[_-]?token|api[_-]?key|extruct[_-]?api[_-]?token|access[_-]?token)\b"?\s*[:=]\s*"?[^\s"',}]+"?`)
)

// Secrets removes obvious secret-bearing substrings from error/log strings.
//
// Safe to call on any message, including user-provided inputs and upstream error strings.
func Secrets(s string) string {
	if s == "" {
		return ""
	}
	out := s
	out = bearerTokenRe.ReplaceAllString(out, "Bearer <redacted>")
	out = tokenKVRe.ReplaceAllString(out, "<redacted_kv>")
	return strings.TrimSpace(out)
}

// Error is a nil-safe shorthand for Secrets(err.Error()).
func Error(err error) string {
	if err == nil {
		return ""
	}
	return Secrets(err.Error())
}
