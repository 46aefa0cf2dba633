package seller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/xymarket/node/internal/metrics"
	"github.com/xymarket/node/internal/retry"
)

const registrationTimeout = 30 * time.Second

// RegistrationConfig describes how the node announces itself.
type RegistrationConfig struct {
	MarketplaceBaseURL string
	AgentName          string
	BaseURL            string
	Description        string
	Tags               []string
	Attempts           int
	Delay              time.Duration
}

// RegistrationClient registers the node with the marketplace at startup.
// Registration is best-effort: the node serves traffic whether or not the
// marketplace accepted it.
type RegistrationClient struct {
	cfg        RegistrationConfig
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

func NewRegistrationClient(cfg RegistrationConfig, logger *slog.Logger, m *metrics.Metrics) *RegistrationClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 2 * time.Second
	}
	if cfg.Tags == nil {
		cfg.Tags = []string{}
	}
	return &RegistrationClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: registrationTimeout},
		logger:     logger,
		metrics:    m,
	}
}

// Register posts the agent profile, retrying with a fixed delay. A 409
// means a previous run already registered this node and counts as success.
// Run it on its own goroutine; the final failure is logged, never fatal.
func (c *RegistrationClient) Register(ctx context.Context) {
	payload, err := json.Marshal(map[string]any{
		"agent_name":  c.cfg.AgentName,
		"base_url":    c.cfg.BaseURL,
		"description": c.cfg.Description,
		"tags":        c.cfg.Tags,
	})
	if err != nil {
		c.logger.Error("marshal registration payload", "error", err)
		return
	}

	attempt := 0
	err = retry.Do(ctx, retry.Config{
		Attempts:     c.cfg.Attempts,
		InitialDelay: c.cfg.Delay,
		Multiplier:   1,
	}, func() error {
		attempt++
		return c.attempt(ctx, payload, attempt)
	})
	if err != nil {
		c.count("failure")
		c.logger.Error("marketplace registration failed, continuing without it",
			slog.String("marketplace", c.cfg.MarketplaceBaseURL),
			slog.Int("attempts", attempt),
			slog.String("error", err.Error()),
		)
	}
}

func (c *RegistrationClient) attempt(ctx context.Context, payload []byte, attempt int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.MarketplaceBaseURL+"/register", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("registration attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.cfg.Attempts),
			slog.String("error", err.Error()),
		)
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusOK:
		var reg struct {
			AgentID string `json:"agent_id"`
		}
		_ = json.Unmarshal(body, &reg)
		c.count("success")
		c.logger.Info("registered with marketplace",
			slog.String("agent_id", reg.AgentID),
			slog.String("agent_name", c.cfg.AgentName),
		)
		return nil

	case resp.StatusCode == http.StatusConflict:
		// A previous run of this node already holds the registration.
		c.count("already_registered")
		c.logger.Info("already registered with marketplace",
			slog.String("agent_name", c.cfg.AgentName),
		)
		return nil

	default:
		c.count("rejected")
		c.logger.Warn("marketplace rejected registration",
			slog.Int("attempt", attempt),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return fmt.Errorf("marketplace returned status %d", resp.StatusCode)
	}
}

func (c *RegistrationClient) count(outcome string) {
	if c.metrics != nil {
		c.metrics.RegistrationAttempts.WithLabelValues(outcome).Inc()
	}
}
