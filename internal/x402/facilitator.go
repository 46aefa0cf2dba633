package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultCDPFacilitatorURL is the hosted Coinbase facilitator, used when
// CDP API credentials are configured without an explicit URL.
const DefaultCDPFacilitatorURL = "https://api.cdp.coinbase.com/platform/v2/x402"

const facilitatorTimeout = 60 * time.Second

// ErrNoFacilitator means neither a facilitator URL nor CDP credentials
// were configured.
var ErrNoFacilitator = errors.New("facilitator URL or CDP credentials required")

// FacilitatorConfig selects the facilitator endpoint. When APIKeyID and
// APIKeySecret are set, requests carry a CDP bearer token and the URL
// defaults to the hosted facilitator.
type FacilitatorConfig struct {
	URL          string
	APIKeyID     string
	APIKeySecret string
}

// FacilitatorError is a non-2xx answer from the facilitator. The payment
// middleware treats it as retryable.
type FacilitatorError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *FacilitatorError) Error() string {
	return fmt.Sprintf("facilitator %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// FacilitatorClient talks to an x402 facilitator over HTTP.
type FacilitatorClient struct {
	baseURL    string
	auth       *cdpAuth
	httpClient *http.Client
	logger     *slog.Logger
}

func NewFacilitatorClient(cfg FacilitatorConfig, logger *slog.Logger) (*FacilitatorClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(cfg.URL, "/")

	var auth *cdpAuth
	if cfg.APIKeyID != "" && cfg.APIKeySecret != "" {
		a, err := newCDPAuth(cfg.APIKeyID, cfg.APIKeySecret)
		if err != nil {
			return nil, fmt.Errorf("facilitator auth: %w", err)
		}
		auth = a
		if baseURL == "" {
			baseURL = DefaultCDPFacilitatorURL
		}
	}
	if baseURL == "" {
		return nil, ErrNoFacilitator
	}

	return &FacilitatorClient{
		baseURL:    baseURL,
		auth:       auth,
		httpClient: &http.Client{Timeout: facilitatorTimeout},
		logger:     logger,
	}, nil
}

// facilitatorRequest is the body of both /verify and /settle calls.
type facilitatorRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      *PaymentPayload     `json:"paymentPayload"`
	PaymentRequirements *PaymentRequirement `json:"paymentRequirements"`
}

// Verify asks the facilitator whether the payment authorization is valid
// for the selected requirement.
func (c *FacilitatorClient) Verify(ctx context.Context, payment *PaymentPayload, requirement *PaymentRequirement) (*VerifyResponse, error) {
	var out VerifyResponse
	if _, err := c.post(ctx, "/verify", payment, requirement, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle executes the payment on-chain through the facilitator.
func (c *FacilitatorClient) Settle(ctx context.Context, payment *PaymentPayload, requirement *PaymentRequirement) (*SettleResponse, error) {
	var out SettleResponse
	raw, err := c.post(ctx, "/settle", payment, requirement, &out)
	if err != nil {
		return nil, err
	}
	out.raw = raw
	return &out, nil
}

func (c *FacilitatorClient) post(ctx context.Context, path string, payment *PaymentPayload, requirement *PaymentRequirement, out any) ([]byte, error) {
	body, err := json.Marshal(facilitatorRequest{
		X402Version:         ProtocolVersion,
		PaymentPayload:      payment,
		PaymentRequirements: requirement,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal facilitator request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.auth != nil {
		token, err := c.auth.bearer(http.MethodPost, c.baseURL+path)
		if err != nil {
			return nil, fmt.Errorf("sign facilitator request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FacilitatorError{
			Endpoint:   path,
			StatusCode: resp.StatusCode,
			Body:       truncateBody(raw),
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("parse facilitator response: %w", err)
	}
	return raw, nil
}

func truncateBody(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
