// Package logging configures the process-wide slog logger. Both binaries
// log JSON to stdout; attribute values whose keys look secret-bearing are
// masked before they reach the sink.
package logging

import (
	"log/slog"
	"net/http"
	"os"
	"strings"
)

const Masked = "***MASKED***"

// sensitiveKeys are attribute and header names whose values must never be
// logged in clear text. Matching is case-insensitive.
var sensitiveKeys = map[string]struct{}{
	"secrets":            {},
	"secret":             {},
	"buyer_secret":       {},
	"api_key":            {},
	"password":           {},
	"token":              {},
	"private_key":        {},
	"authorization":      {},
	"x-payment":          {},
	"x-payment-proof":    {},
	"x-buyer-secret":     {},
	"x-payment-response": {},
}

// Sensitive reports whether an attribute or header name must be masked.
func Sensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(key)]
	return ok
}

// Setup installs a JSON slog handler at the given level and returns the
// logger. Unknown levels fall back to info.
func Setup(level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: maskAttr,
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, opts))
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps a config string onto a slog level. Unknown values map
// to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING", "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func maskAttr(groups []string, a slog.Attr) slog.Attr {
	if Sensitive(a.Key) {
		return slog.String(a.Key, Masked)
	}
	return a
}

// MaskHeaders flattens HTTP headers for logging, masking secret-bearing
// ones. Multi-valued headers keep only the first value.
func MaskHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		if Sensitive(name) {
			out[name] = Masked
			continue
		}
		out[name] = values[0]
	}
	return out
}
