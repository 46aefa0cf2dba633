// Package middleware carries the HTTP middleware chain of both services:
// request logging and fixed-window rate limiting. Payment enforcement lives
// in internal/x402 and is chained after the limiter.
package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/xymarket/node/internal/config"
	"github.com/xymarket/node/internal/metrics"
)

// regexMeta marks a pattern as a regular expression; anything without
// these characters is a plain prefix.
const regexMeta = `^\{*`

// RateLimiter applies fixed-window budgets per path pattern. Rules are
// matched exact-first, then in declaration order; the first hit wins.
type RateLimiter struct {
	rules   []compiledRule
	window  time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	counters map[string]*counter

	now func() time.Time
}

type compiledRule struct {
	pattern string
	limit   int
	// re is set for regex rules and nil for prefix rules.
	re *regexp.Regexp
}

type counter struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter compiles the rule list. Regex patterns are full-match; a
// pattern that fails to compile is a configuration error.
func NewRateLimiter(rules []config.Rule, window time.Duration, logger *slog.Logger, m *metrics.Metrics) (*RateLimiter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = 60 * time.Second
	}

	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		cr := compiledRule{pattern: rule.Pattern, limit: rule.Limit}
		if strings.ContainsAny(rule.Pattern, regexMeta) {
			re, err := regexp.Compile("^(?:" + rule.Pattern + ")$")
			if err != nil {
				return nil, fmt.Errorf("rate limit pattern %q: %w", rule.Pattern, err)
			}
			cr.re = re
		}
		compiled = append(compiled, cr)
	}

	return &RateLimiter{
		rules:    compiled,
		window:   window,
		logger:   logger,
		metrics:  m,
		counters: make(map[string]*counter),
		now:      time.Now,
	}, nil
}

// Middleware rejects over-budget requests with 429 before they reach the
// payment middleware or a handler. Paths with no matching rule pass through
// uncounted.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rule := rl.findRule(r.URL.Path)
		if rule == nil {
			next.ServeHTTP(w, r)
			return
		}

		if !rl.allow(rl.key(r), rule.limit) {
			rl.logger.Warn("rate limit exceeded",
				slog.String("path", r.URL.Path),
				slog.String("rule", rule.pattern),
				slog.Int("limit", rule.limit),
			)
			if rl.metrics != nil {
				rl.metrics.RateLimitDenials.WithLabelValues(rule.pattern).Inc()
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error_code": "RATE_LIMIT_EXCEEDED",
				"message": fmt.Sprintf("Rate limit exceeded. Limit: %d requests per %d seconds.",
					rule.limit, int(rl.window.Seconds())),
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// findRule returns the first rule matching path: exact pattern hits win
// over everything, then declaration order decides.
func (rl *RateLimiter) findRule(path string) *compiledRule {
	for i := range rl.rules {
		if rl.rules[i].pattern == path {
			return &rl.rules[i]
		}
	}
	for i := range rl.rules {
		rule := &rl.rules[i]
		if rule.re != nil {
			if rule.re.MatchString(path) {
				return rule
			}
			continue
		}
		if strings.HasPrefix(path, rule.pattern) {
			return rule
		}
	}
	return nil
}

// key buckets the request. Task polling authenticates with the buyer
// secret, so its budget follows the caller, not the address; everything
// else is counted per client address and path.
func (rl *RateLimiter) key(r *http.Request) string {
	if strings.Contains(r.URL.Path, "tasks") {
		if secret := r.Header.Get("X-Buyer-Secret"); secret != "" {
			return "secret:" + secret
		}
	}
	return "ip:" + clientAddr(r) + ":" + r.URL.Path
}

func (rl *RateLimiter) allow(key string, limit int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	c, ok := rl.counters[key]
	if !ok || now.Sub(c.windowStart) > rl.window {
		rl.counters[key] = &counter{count: 1, windowStart: now}
		return true
	}
	if c.count >= limit {
		return false
	}
	c.count++
	return true
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return "unknown"
	}
	return host
}
