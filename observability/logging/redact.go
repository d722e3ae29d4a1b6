package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// fingerprintLen is how many trailing characters of a long secret are kept so
// operators can correlate rejected credentials.
const fingerprintLen = 4

var sensitiveKeys = map[string]struct{}{
	"authorization":   {},
	"token":           {},
	"hmac_secret":     {},
	"password":        {},
	"dsn":             {},
	"otlp_headers":    {},
	"idempotency_key": {},
}

// IsSensitive reports whether values logged under key must be masked. Keys
// ending in _secret or _token are always sensitive.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	if _, ok := sensitiveKeys[normalized]; ok {
		return true
	}
	return strings.HasSuffix(normalized, "_secret") || strings.HasSuffix(normalized, "_token")
}

// MaskValue hides value, keeping a short suffix of values long enough that
// the suffix reveals nothing useful. Blank values are returned unchanged.
func MaskValue(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return value
	}
	if len(trimmed) < 16 {
		return RedactedValue
	}
	return "[REDACTED:" + trimmed[len(trimmed)-fingerprintLen:] + "]"
}

// MaskField returns an attribute for key whose value is masked when the key is
// sensitive.
func MaskField(key, value string) slog.Attr {
	if IsSensitive(key) {
		return slog.String(key, MaskValue(value))
	}
	return slog.String(key, value)
}

// redactAttr masks string attributes logged under sensitive keys, including
// ones nested in groups.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindString && IsSensitive(attr.Key) {
		value := attr.Value.String()
		if strings.HasPrefix(value, RedactedValue[:len(RedactedValue)-1]) {
			return attr
		}
		return slog.String(attr.Key, MaskValue(value))
	}
	return attr
}
