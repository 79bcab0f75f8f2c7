package logging

import (
	"log/slog"
	"strings"
)

// Redacted replaces secret values in every log sink.
const Redacted = "[REDACTED]"

// secretKeys name attributes whose values never leave the process: relayer and
// wallet signatures, keystore passphrases and raw keys. Settlement identifiers
// (digest, from, to, amount) are public on the event stream and stay readable.
var secretKeys = map[string]struct{}{
	"signature":     {},
	"sig":           {},
	"x_signature":   {},
	"passphrase":    {},
	"password":      {},
	"private_key":   {},
	"privkey":       {},
	"authorization": {},
}

func normaliseKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "-", "_")
}

// Secret reports whether values logged under key are masked. Header spellings
// such as "X-Signature" match their snake_case form.
func Secret(key string) bool {
	_, ok := secretKeys[normaliseKey(key)]
	return ok
}

// MaskField builds a string attribute, masking a non-empty value under a
// secret key.
func MaskField(key, value string) slog.Attr {
	if value != "" && Secret(key) {
		value = Redacted
	}
	return slog.String(key, value)
}

// redactAttr is the handler-level hook; it sees every leaf attribute,
// including ones nested in groups and ones bound with Logger.With.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup || !Secret(attr.Key) {
		return attr
	}
	if attr.Value.Kind() == slog.KindString && attr.Value.String() == "" {
		return attr
	}
	return slog.String(attr.Key, Redacted)
}
