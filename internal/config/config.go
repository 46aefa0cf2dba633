// Package config loads the configuration envelopes for both binaries from
// the environment. A .env file in the working directory is honored when
// present; explicit environment variables always win.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Seller is the configuration envelope for the seller node.
type Seller struct {
	Host         string `env:"SELLER_HOST,default=0.0.0.0"`
	Port         int    `env:"SELLER_PORT,default=8010"`
	LoggingLevel string `env:"LOGGING_LEVEL,default=INFO"`

	Tasks        Tasks
	RateLimit    RateLimit
	X402         SellerX402
	Buyer        BuyerX402
	Registration Registration
}

// Addr returns the host:port the HTTP server binds to.
func (s *Seller) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Tasks configures the execution engine.
type Tasks struct {
	DefaultDeadlineSeconds int  `env:"TASKS_DEFAULT_DEADLINE_SECONDS,default=300"`
	JanitorIntervalSeconds int  `env:"TASKS_JANITOR_INTERVAL_SECONDS,default=600"`
	AllowTerminalOverwrite bool `env:"TASKS_ALLOW_TERMINAL_OVERWRITE,default=false"`
	ShutdownGraceSeconds   int  `env:"TASKS_SHUTDOWN_GRACE_SECONDS,default=10"`
}

func (t Tasks) DefaultDeadline() time.Duration {
	return time.Duration(t.DefaultDeadlineSeconds) * time.Second
}

func (t Tasks) JanitorInterval() time.Duration {
	return time.Duration(t.JanitorIntervalSeconds) * time.Second
}

func (t Tasks) ShutdownGrace() time.Duration {
	return time.Duration(t.ShutdownGraceSeconds) * time.Second
}

// RateLimit configures the fixed-window rate limiter. Rules is parsed from
// RATELIMIT_RULES, a comma-separated "pattern=limit" list whose declaration
// order is the match order.
type RateLimit struct {
	Enabled       bool   `env:"RATELIMIT_ENABLED,default=true"`
	WindowSeconds int    `env:"RATELIMIT_WINDOW_SECONDS,default=60"`
	RulesRaw      string `env:"RATELIMIT_RULES"`

	Rules []Rule
}

// defaultRateLimitRules matches the shipped route table: task submission,
// task polling and the admin surface.
const defaultRateLimitRules = "/execute=100,^/tasks/.*=30,/api/admin=20"

func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// Rule is one rate-limit entry: a path pattern and its budget per window.
type Rule struct {
	Pattern string
	Limit   int
}

// ParseRules decodes a "pattern=limit,pattern=limit" list, preserving
// declaration order. Empty entries are skipped.
func ParseRules(raw string) ([]Rule, error) {
	var rules []Rule
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		eq := strings.LastIndex(entry, "=")
		if eq <= 0 || eq == len(entry)-1 {
			return nil, fmt.Errorf("rate limit rule %q: want pattern=limit", entry)
		}
		limit, err := strconv.Atoi(entry[eq+1:])
		if err != nil || limit <= 0 {
			return nil, fmt.Errorf("rate limit rule %q: limit must be a positive integer", entry)
		}
		rules = append(rules, Rule{Pattern: entry[:eq], Limit: limit})
	}
	return rules, nil
}

// SellerX402 configures payment enforcement on the seller side.
type SellerX402 struct {
	PricingMode        string `env:"SELLER_X402_PRICING_MODE,default=on"`
	PayeeWalletAddress string `env:"SELLER_X402_PAYEE_WALLET_ADDRESS"`
	FacilitatorURL     string `env:"SELLER_X402_FACILITATOR_URL"`
	CDPAPIKeyID        string `env:"SELLER_X402_CDP_API_KEY_ID"`
	CDPAPIKeySecret    string `env:"SELLER_X402_CDP_API_KEY_SECRET"`
	PricingConfigPath  string `env:"SELLER_X402_PRICING_CONFIG_PATH,default=tool_pricing.yaml"`
}

// Enabled reports whether payment enforcement should be wired at all.
func (x SellerX402) Enabled() bool {
	return x.PricingMode == "on"
}

// HasFacilitator reports whether a facilitator endpoint or CDP credentials
// are configured. Without either the middleware runs in pass-through mode.
func (x SellerX402) HasFacilitator() bool {
	return x.FacilitatorURL != "" || (x.CDPAPIKeyID != "" && x.CDPAPIKeySecret != "")
}

// BuyerX402 configures outbound payments for sellers that buy from other
// services, and for the buyer SDK.
type BuyerX402 struct {
	WalletPrivateKey string `env:"BUYER_X402_WALLET_PRIVATE_KEY"`
}

// Registration configures the startup registration with the marketplace.
type Registration struct {
	Enabled            bool   `env:"MARKETPLACE_REGISTRATION_ENABLED,default=true"`
	MarketplaceBaseURL string `env:"MARKETPLACE_BASE_URL,default=http://localhost:8000"`
	AgentName          string `env:"SELLER_AGENT_NAME,default=xy-archivist"`
	SellerBaseURL      string `env:"SELLER_BASE_URL,default=http://localhost:8010"`
	Description        string `env:"SELLER_DESCRIPTION,default=Archive research agent"`
	TagsRaw            string `env:"SELLER_TAGS"`
	RetryAttempts      int    `env:"MARKETPLACE_REGISTRATION_RETRY_ATTEMPTS,default=3"`
	RetryDelaySeconds  int    `env:"MARKETPLACE_REGISTRATION_RETRY_DELAY_SECONDS,default=2"`

	Tags []string
}

func (r Registration) RetryDelay() time.Duration {
	return time.Duration(r.RetryDelaySeconds) * time.Second
}

// Marketplace is the configuration envelope for the registry service.
type Marketplace struct {
	Host               string `env:"MARKETPLACE_HOST,default=0.0.0.0"`
	Port               int    `env:"MARKETPLACE_PORT,default=8000"`
	LoggingLevel       string `env:"LOGGING_LEVEL,default=INFO"`
	AgentsFile         string `env:"MARKETPLACE_AGENTS_FILE,default=data/agents.json"`
	RateLimitEnabled   bool   `env:"MARKETPLACE_RATE_LIMIT_ENABLED,default=true"`
	RateLimitPerMinute int    `env:"MARKETPLACE_RATE_LIMIT_PER_MINUTE,default=10"`
}

func (m *Marketplace) Addr() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// LoadSeller reads the seller envelope from the environment.
func LoadSeller() (*Seller, error) {
	_ = godotenv.Load()

	var cfg Seller
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode seller config: %w", err)
	}

	raw := cfg.RateLimit.RulesRaw
	if raw == "" {
		raw = defaultRateLimitRules
	}
	rules, err := ParseRules(raw)
	if err != nil {
		return nil, err
	}
	cfg.RateLimit.Rules = rules
	cfg.Registration.Tags = splitTags(cfg.Registration.TagsRaw)

	return &cfg, nil
}

// LoadMarketplace reads the marketplace envelope from the environment.
func LoadMarketplace() (*Marketplace, error) {
	_ = godotenv.Load()

	var cfg Marketplace
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode marketplace config: %w", err)
	}
	return &cfg, nil
}

func splitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}
