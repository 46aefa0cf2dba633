package buyer

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xymarket/node/internal/models"
	"github.com/xymarket/node/internal/retry"
)

const marketplaceTimeout = 30 * time.Second

// MarketplaceClient talks to the marketplace registry: registration for
// sellers, discovery for buyers.
type MarketplaceClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Retry      retry.Config
}

func NewMarketplaceClient(baseURL string, logger *slog.Logger) *MarketplaceClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketplaceClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: marketplaceTimeout},
		Logger:     logger,
		Retry:      defaultRetry,
	}
}

// Register submits a registration request. Conflicts and validation
// failures come back as *APIError with the marketplace's error code.
func (c *MarketplaceClient) Register(ctx context.Context, req *models.RegistrationRequest) (*models.RegistrationResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var resp models.RegistrationResponse
	if err := doJSON(ctx, c.HTTPClient, c.Retry, c.Logger, http.MethodPost, c.BaseURL+"/register", body, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListAgents pages through registered sellers, newest first.
func (c *MarketplaceClient) ListAgents(ctx context.Context, limit, offset int) ([]*models.AgentProfile, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var agents []*models.AgentProfile
	if err := doJSON(ctx, c.HTTPClient, c.Retry, c.Logger, http.MethodGet, c.BaseURL+"/register/new_entries?"+q.Encode(), nil, nil, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}
