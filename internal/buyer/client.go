// Package buyer is the client SDK for talking to the marketplace and to
// seller nodes, including the x402 payment flow: a 402 challenge is paid
// with the configured wallet and the request replayed with an X-PAYMENT
// header.
package buyer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/xymarket/node/internal/retry"
)

const maxResponseBytes = 1 << 20

// defaultRetry is the transport retry budget both clients start with:
// three attempts, one second initial delay, doubling up to a minute.
var defaultRetry = retry.Config{
	Attempts:     3,
	InitialDelay: time.Second,
	Multiplier:   2,
	MaxDelay:     60 * time.Second,
}

// APIError is a non-2xx response from the marketplace or a seller. Body
// keeps the raw bytes so callers can decode structured payloads such as
// 402 challenges.
type APIError struct {
	Status  int
	Code    string
	Message string
	Body    []byte
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("status %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status, Body: body}
	var parsed struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		apiErr.Code = parsed.ErrorCode
		apiErr.Message = parsed.Message
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(body))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// doJSON performs one logical request: transport failures and 5xx
// responses consume the retry budget, 4xx responses fail immediately, and
// a 2xx body is decoded into out when out is non-nil.
func doJSON(ctx context.Context, hc *http.Client, cfg retry.Config, logger *slog.Logger, method, url string, body []byte, header http.Header, out any) error {
	var apiErr *APIError

	err := retry.Do(ctx, cfg, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for name, values := range header {
			for _, v := range values {
				req.Header.Add(name, v)
			}
		}

		resp, err := hc.Do(req)
		if err != nil {
			logger.Warn("request failed",
				slog.String("method", method), slog.String("url", url), slog.Any("error", err))
			return err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			apiErr = newAPIError(resp.StatusCode, raw)
			if resp.StatusCode >= 500 {
				return apiErr
			}
			// 4xx is final; stop retrying and surface it below.
			return nil
		}
		apiErr = nil

		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if apiErr != nil {
		return apiErr
	}
	return nil
}
