package buyer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/xymarket/node/internal/models"
	"github.com/xymarket/node/internal/retry"
	"github.com/xymarket/node/internal/x402"
)

const sellerTimeout = 60 * time.Second

// ErrTaskFailed marks a task that reached the failed state. The returned
// envelope still carries the seller's error detail.
var ErrTaskFailed = errors.New("task failed")

// SellerClient talks to one seller node. With a wallet configured it pays
// a single 402 challenge per execute call; without one, 402 responses
// surface as *APIError.
type SellerClient struct {
	BaseURL    string
	Wallet     *x402.Wallet
	HTTPClient *http.Client
	Logger     *slog.Logger
	Retry      retry.Config

	now func() time.Time
}

func NewSellerClient(baseURL string, wallet *x402.Wallet, logger *slog.Logger) *SellerClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &SellerClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Wallet:     wallet,
		HTTPClient: &http.Client{Timeout: sellerTimeout},
		Logger:     logger,
		Retry:      defaultRetry,
		now:        time.Now,
	}
}

// ExecuteTask starts a task and returns the initial in_progress envelope.
// A 402 response is paid once with the wallet and the request replayed;
// a second 402 is returned to the caller as-is.
func (c *SellerClient) ExecuteTask(ctx context.Context, req *models.ExecutionRequest) (*models.ExecutionResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var result models.ExecutionResult
	err = doJSON(ctx, c.HTTPClient, c.Retry, c.Logger, http.MethodPost, c.BaseURL+"/execute", body, nil, &result)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusPaymentRequired && c.Wallet != nil {
		header, payErr := c.payChallenge(apiErr.Body)
		if payErr != nil {
			return nil, payErr
		}
		paid := http.Header{}
		paid.Set("X-PAYMENT", header)
		err = doJSON(ctx, c.HTTPClient, c.Retry, c.Logger, http.MethodPost, c.BaseURL+"/execute", body, paid, &result)
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// payChallenge signs an authorization for the first payable requirement
// in the challenge and returns the X-PAYMENT header value.
func (c *SellerClient) payChallenge(challengeBody []byte) (string, error) {
	var challenge x402.PaymentRequiredResponse
	if err := json.Unmarshal(challengeBody, &challenge); err != nil {
		return "", fmt.Errorf("parse payment challenge: %w", err)
	}

	var requirement *x402.PaymentRequirement
	for i := range challenge.Accepts {
		if challenge.Accepts[i].Scheme != x402.SchemeExact {
			continue
		}
		if _, ok := x402.ChainID(challenge.Accepts[i].Network); !ok {
			continue
		}
		requirement = &challenge.Accepts[i]
		break
	}
	if requirement == nil {
		return "", fmt.Errorf("challenge offers no payable requirement")
	}

	payload, err := c.Wallet.Pay(requirement, c.now())
	if err != nil {
		return "", err
	}
	c.Logger.Info("paying execute challenge",
		slog.String("network", requirement.Network),
		slog.String("amount", requirement.MaxAmountRequired),
		slog.String("pay_to", requirement.PayTo),
	)
	return x402.EncodePaymentHeader(payload)
}

// GetTaskStatus polls one task using the buyer secret issued at creation.
func (c *SellerClient) GetTaskStatus(ctx context.Context, taskID, buyerSecret string) (*models.ExecutionResult, error) {
	header := http.Header{}
	header.Set("X-Buyer-Secret", buyerSecret)

	var result models.ExecutionResult
	if err := doJSON(ctx, c.HTTPClient, c.Retry, c.Logger, http.MethodGet, c.BaseURL+"/tasks/"+taskID, nil, header, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// WaitForCompletion polls until the task reaches a terminal state. A
// failed task returns the final envelope together with ErrTaskFailed.
func (c *SellerClient) WaitForCompletion(ctx context.Context, taskID, buyerSecret string, interval time.Duration) (*models.ExecutionResult, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	for {
		result, err := c.GetTaskStatus(ctx, taskID, buyerSecret)
		if err != nil {
			return nil, err
		}
		switch result.Status {
		case models.TaskStatusDone:
			return result, nil
		case models.TaskStatusFailed:
			detail := "no error detail"
			if result.Error != nil {
				detail = result.Error.Message
			}
			return result, fmt.Errorf("%w: %s", ErrTaskFailed, detail)
		}

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// PricingResponse is the body of the seller's pricing endpoint.
type PricingResponse struct {
	Pricing map[string]any `json:"pricing"`
	Error   string         `json:"error,omitempty"`
}

// GetPricing fetches the seller's advertised pricing table.
func (c *SellerClient) GetPricing(ctx context.Context) (*PricingResponse, error) {
	var resp PricingResponse
	if err := doJSON(ctx, c.HTTPClient, c.Retry, c.Logger, http.MethodGet, c.BaseURL+"/pricing", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
