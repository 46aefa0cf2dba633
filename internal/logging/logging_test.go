package logging

import (
	"bytes"
	"log/slog"
	"net/http"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"DEBUG":   slog.LevelDebug,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"WARNING": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMaskAttrHidesSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{ReplaceAttr: maskAttr}))

	logger.Info("register", "buyer_secret", "abc-123", "task_id", "t-1")

	out := buf.String()
	if strings.Contains(out, "abc-123") {
		t.Fatalf("secret leaked: %s", out)
	}
	if !strings.Contains(out, Masked) {
		t.Fatalf("expected mask placeholder: %s", out)
	}
	if !strings.Contains(out, "t-1") {
		t.Fatalf("non-secret attribute lost: %s", out)
	}
}

func TestMaskHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("X-Buyer-Secret", "topsecret")
	h.Set("X-Payment", "eyJ4NDAyIjp9")
	h.Set("Authorization", "Bearer tok")

	out := MaskHeaders(h)
	if out["Content-Type"] != "application/json" {
		t.Fatalf("plain header altered: %v", out)
	}
	for _, name := range []string{"X-Buyer-Secret", "X-Payment", "Authorization"} {
		if out[name] != Masked {
			t.Fatalf("%s not masked: %v", name, out)
		}
	}
}

func TestSensitiveIsCaseInsensitive(t *testing.T) {
	for _, key := range []string{"X-PAYMENT", "x-payment", "Buyer_Secret", "PRIVATE_KEY"} {
		if !Sensitive(key) {
			t.Fatalf("expected %q to be sensitive", key)
		}
	}
	if Sensitive("content-type") {
		t.Fatal("content-type must not be masked")
	}
}
