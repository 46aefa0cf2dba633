package x402

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/xymarket/node/internal/metrics"
	"github.com/xymarket/node/internal/retry"
)

// Facilitator is the slice of FacilitatorClient the middleware needs.
type Facilitator interface {
	Verify(ctx context.Context, payment *PaymentPayload, requirement *PaymentRequirement) (*VerifyResponse, error)
	Settle(ctx context.Context, payment *PaymentPayload, requirement *PaymentRequirement) (*SettleResponse, error)
}

// Challenge error strings. Buyer SDKs match on these.
const (
	errNoHeader          = "No X-PAYMENT header provided"
	errBadHeader         = "Invalid payment header format"
	errNoMatch           = "No matching payment requirements found"
	errVerifyUnavailable = "Payment verification failed; please try again later."
)

const (
	defaultVerifyAttempts = 5
	defaultVerifyBackoff  = time.Second
)

// Options configures the payment middleware.
type Options struct {
	// Pricing maps operation ids to accepted payments. Operations
	// without an entry pass through unpaid.
	Pricing PricingTable
	// PayTo is the seller's payout wallet address.
	PayTo string
	// Facilitator verifies and settles payments. nil disables
	// enforcement entirely (test mode).
	Facilitator Facilitator
	// ResolveOperation maps a request to its operation id. Empty means
	// the request is not priceable.
	ResolveOperation func(r *http.Request) string
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
	// VerifyAttempts and VerifyBackoff tune the facilitator retry loop.
	// Zero values take the protocol defaults (5 attempts, 1s doubling).
	VerifyAttempts int
	VerifyBackoff  time.Duration
}

// Middleware enforces x402 payment on priced operations. Requests for
// unpriced operations, and all requests when no facilitator is configured,
// pass through untouched.
func Middleware(opts Options) func(http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := opts.VerifyAttempts
	if attempts <= 0 {
		attempts = defaultVerifyAttempts
	}
	backoff := opts.VerifyBackoff
	if backoff <= 0 {
		backoff = defaultVerifyBackoff
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Facilitator == nil {
				next.ServeHTTP(w, r)
				return
			}

			operation := ""
			if opts.ResolveOperation != nil {
				operation = opts.ResolveOperation(r)
			}
			options := opts.Pricing[operation]
			if operation == "" || len(options) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			requirements := BuildRequirements(options, opts.PayTo, r, logger)

			header := r.Header.Get("X-PAYMENT")
			if header == "" {
				header = r.Header.Get("X-Payment-Proof")
			}
			if header == "" {
				logger.Warn("payment header missing", "operation", operation)
				challenge(w, opts.Metrics, operation, "missing_header", requirements, errNoHeader)
				return
			}

			payment, err := DecodePaymentHeader(header)
			if err != nil {
				logger.Warn("invalid payment header", "operation", operation, "remote", r.RemoteAddr, "err", err)
				challenge(w, opts.Metrics, operation, "invalid_header", requirements, errBadHeader)
				return
			}

			selected := MatchRequirement(requirements, payment)
			if selected == nil {
				challenge(w, opts.Metrics, operation, "no_match", requirements, errNoMatch)
				return
			}

			verify, err := verifyWithRetry(r.Context(), opts.Facilitator, payment, selected, attempts, backoff, logger)
			if err != nil {
				logger.Error("payment verification unavailable", "operation", operation, "attempts", attempts, "err", err)
				countVerification(opts.Metrics, operation, "unavailable")
				challenge(w, opts.Metrics, operation, "verify_unavailable", requirements, errVerifyUnavailable)
				return
			}
			if !verify.IsValid {
				reason := verify.InvalidReason
				if reason == "" {
					reason = "Unknown reason"
				}
				countVerification(opts.Metrics, operation, "invalid")
				challenge(w, opts.Metrics, operation, "invalid_payment", requirements, "Invalid payment: "+reason)
				return
			}
			countVerification(opts.Metrics, operation, "valid")

			// Buffer the response so the settlement header can still be
			// attached after the handler ran.
			bw := &bufferedWriter{rw: w}
			next.ServeHTTP(bw, r)

			if bw.status >= 200 && bw.status < 300 {
				settleAndTag(r.Context(), opts, operation, payment, selected, bw, logger)
			}
			bw.flush()
		})
	}
}

func verifyWithRetry(ctx context.Context, fac Facilitator, payment *PaymentPayload, requirement *PaymentRequirement, attempts int, backoff time.Duration, logger *slog.Logger) (*VerifyResponse, error) {
	var out *VerifyResponse
	attempt := 0
	err := retry.Do(ctx, retry.Config{
		Attempts:     attempts,
		InitialDelay: backoff,
		Multiplier:   2,
	}, func() error {
		attempt++
		resp, err := fac.Verify(ctx, payment, requirement)
		if err != nil {
			logger.Warn("facilitator verify attempt failed", "attempt", attempt, "max_attempts", attempts, "err", err)
			return err
		}
		out = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func settleAndTag(ctx context.Context, opts Options, operation string, payment *PaymentPayload, requirement *PaymentRequirement, bw *bufferedWriter, logger *slog.Logger) {
	settle, err := opts.Facilitator.Settle(ctx, payment, requirement)
	if err != nil {
		logger.Error("payment settlement errored", "operation", operation, "err", err)
		countSettlement(opts.Metrics, operation, "error")
		return
	}
	if !settle.Success {
		reason := settle.ErrorReason
		if reason == "" {
			reason = "Unknown"
		}
		logger.Error("payment settlement failed", "operation", operation, "reason", reason)
		countSettlement(opts.Metrics, operation, "failure")
		return
	}
	bw.Header().Set("X-PAYMENT-RESPONSE", settle.EncodeHeader())
	countSettlement(opts.Metrics, operation, "success")
}

// BuildRequirements resolves pricing options against a request. Options on
// unknown chains are skipped with a warning.
func BuildRequirements(options []PaymentOption, payTo string, r *http.Request, logger *slog.Logger) []PaymentRequirement {
	accepts := make([]PaymentRequirement, 0, len(options))
	for _, option := range options {
		network, ok := NetworkName(option.ChainID)
		if !ok {
			logger.Warn("unknown chain_id in pricing config, skipping option", "chain_id", option.ChainID)
			continue
		}
		accepts = append(accepts, PaymentRequirement{
			Scheme:            SchemeExact,
			Network:           network,
			Asset:             option.TokenAddress,
			MaxAmountRequired: strconv.FormatInt(option.TokenAmount, 10),
			Resource:          RequestURL(r),
			Description:       "Payment for " + r.URL.Path,
			MimeType:          r.Header.Get("Content-Type"),
			PayTo:             payTo,
			MaxTimeoutSeconds: 60,
			Extra: map[string]any{
				"name":    TokenName(option.ChainID, option.TokenAddress),
				"version": TokenVersion(option.ChainID, option.TokenAddress),
			},
		})
	}
	return accepts
}

func challenge(w http.ResponseWriter, m *metrics.Metrics, operation, reason string, accepts []PaymentRequirement, msg string) {
	if m != nil {
		m.PaymentChallenges.WithLabelValues(operation, reason).Inc()
	}
	if accepts == nil {
		accepts = []PaymentRequirement{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(PaymentRequiredResponse{
		X402Version: ProtocolVersion,
		Accepts:     accepts,
		Error:       msg,
	})
}

func countVerification(m *metrics.Metrics, operation, outcome string) {
	if m != nil {
		m.PaymentVerifications.WithLabelValues(operation, outcome).Inc()
	}
}

func countSettlement(m *metrics.Metrics, operation, outcome string) {
	if m != nil {
		m.PaymentSettlements.WithLabelValues(operation, outcome).Inc()
	}
}

// bufferedWriter holds back status and body until flush so headers can be
// added after the handler returns. net/http freezes headers at WriteHeader.
type bufferedWriter struct {
	rw     http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (b *bufferedWriter) Header() http.Header { return b.rw.Header() }

func (b *bufferedWriter) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.buf.Write(p)
}

func (b *bufferedWriter) flush() {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	b.rw.WriteHeader(b.status)
	_, _ = b.rw.Write(b.buf.Bytes())
}
