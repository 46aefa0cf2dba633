// Package x402 implements the seller side of the x402 pay-per-call
// protocol: building 402 challenges, decoding X-PAYMENT headers, talking
// to a facilitator for verification and settlement, and signing payment
// authorizations on the buyer side.
package x402

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ProtocolVersion is the x402 wire version this node speaks.
const ProtocolVersion = 1

// SchemeExact is the only payment scheme supported: a signed EIP-3009
// transfer authorization for a fixed amount.
const SchemeExact = "exact"

// PaymentRequirement is one acceptable way to pay for a request. It is
// the wire form of a PaymentOption, resolved against the incoming request.
type PaymentRequirement struct {
	Scheme            string         `json:"scheme"`
	Network           string         `json:"network"`
	MaxAmountRequired string         `json:"maxAmountRequired"`
	Resource          string         `json:"resource"`
	Description       string         `json:"description"`
	MimeType          string         `json:"mimeType"`
	PayTo             string         `json:"payTo"`
	MaxTimeoutSeconds int            `json:"maxTimeoutSeconds"`
	Asset             string         `json:"asset"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// PaymentRequiredResponse is the JSON body of every 402 response.
type PaymentRequiredResponse struct {
	X402Version int                  `json:"x402Version"`
	Accepts     []PaymentRequirement `json:"accepts"`
	Error       string               `json:"error"`
}

// PaymentPayload is the decoded X-PAYMENT header.
type PaymentPayload struct {
	X402Version int            `json:"x402Version"`
	Scheme      string         `json:"scheme"`
	Network     string         `json:"network"`
	Payload     map[string]any `json:"payload"`
}

// VerifyResponse is the facilitator's answer to a verify call.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator's answer to a settle call. raw holds
// the facilitator's exact response bytes for the X-PAYMENT-RESPONSE header.
type SettleResponse struct {
	Success     bool   `json:"success"`
	ErrorReason string `json:"errorReason,omitempty"`
	Transaction string `json:"transaction,omitempty"`
	Network     string `json:"network,omitempty"`
	Payer       string `json:"payer,omitempty"`

	raw []byte
}

// EncodeHeader renders the settlement for the X-PAYMENT-RESPONSE header:
// base64 of the settle JSON, preferring the facilitator's own bytes.
func (s *SettleResponse) EncodeHeader() string {
	raw := s.raw
	if len(raw) == 0 {
		raw, _ = json.Marshal(s)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodePaymentHeader parses an X-PAYMENT header value. Raw JSON payloads
// (starting with '{') are accepted as-is; anything else is treated as
// base64-encoded JSON. The decoded payload must carry a version, scheme,
// network and a non-empty inner payload.
func DecodePaymentHeader(header string) (*PaymentPayload, error) {
	trimmed := strings.TrimSpace(header)
	var raw []byte
	if strings.HasPrefix(trimmed, "{") {
		raw = []byte(trimmed)
	} else {
		decoded, err := decodeBase64(trimmed)
		if err != nil {
			return nil, fmt.Errorf("decode payment header: %w", err)
		}
		raw = decoded
	}

	var payload PaymentPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse payment payload: %w", err)
	}
	if payload.X402Version == 0 {
		return nil, fmt.Errorf("payment payload missing x402Version")
	}
	if payload.Scheme == "" || payload.Network == "" {
		return nil, fmt.Errorf("payment payload missing scheme or network")
	}
	if len(payload.Payload) == 0 {
		return nil, fmt.Errorf("payment payload missing payload body")
	}
	return &payload, nil
}

// decodeBase64 tolerates both standard and URL-safe alphabets and missing
// padding, mirroring what buyer SDKs in the wild emit.
func decodeBase64(s string) ([]byte, error) {
	if pad := len(s) % 4; pad != 0 {
		s += strings.Repeat("=", 4-pad)
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// MatchRequirement returns the first requirement whose scheme and network
// match the payment, or nil when none does.
func MatchRequirement(accepts []PaymentRequirement, payment *PaymentPayload) *PaymentRequirement {
	for i := range accepts {
		if accepts[i].Scheme == payment.Scheme && accepts[i].Network == payment.Network {
			return &accepts[i]
		}
	}
	return nil
}

// PaymentOption is one row of the pricing table: accept token_amount minor
// units of token_address on chain_id.
type PaymentOption struct {
	ChainID      int64  `json:"chain_id" yaml:"chain_id"`
	TokenAddress string `json:"token_address" yaml:"token_address"`
	TokenAmount  int64  `json:"token_amount" yaml:"token_amount"`
}

// PricingTable maps operation ids to their accepted payment options.
// Operations absent from the table are free.
type PricingTable map[string][]PaymentOption

// RequestURL reconstructs the absolute URL the client requested, used as
// the challenge's resource field.
func RequestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
