// Package seller carries the HTTP surface of the seller node: task
// endpoints, pricing disclosure, demo routes, the MCP transport and the
// marketplace registration client.
package seller

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/xymarket/node/internal/x402"
)

const mcpPath = "/mcp"

// maxPeekBytes bounds the body read when resolving MCP tool calls.
const maxPeekBytes = 1 << 20

// Operation ties an operation id to the route or MCP tool serving it. The
// id is what the pricing table keys on.
type Operation struct {
	Method  string
	Pattern string
	ID      string
}

// OperationSet resolves requests to operation ids for the payment
// middleware. Patterns use {name} segments like the route table.
type OperationSet struct {
	ops    []Operation
	logger *slog.Logger
}

func NewOperationSet(ops []Operation, logger *slog.Logger) *OperationSet {
	if logger == nil {
		logger = slog.Default()
	}
	return &OperationSet{ops: ops, logger: logger}
}

// Resolve maps a request to its operation id, or "" when the request is
// not priceable. MCP tool calls resolve to the called tool's name; other
// MCP traffic (initialize, tools/list) is free.
func (s *OperationSet) Resolve(r *http.Request) string {
	if r.URL.Path == mcpPath {
		if r.Method != http.MethodPost {
			return ""
		}
		return s.resolveToolCall(r)
	}
	for _, op := range s.ops {
		if op.Pattern == mcpPath {
			continue
		}
		if op.Method == r.Method && matchPattern(op.Pattern, r.URL.Path) {
			return op.ID
		}
	}
	return ""
}

// resolveToolCall peeks at the JSON-RPC body for params.name and restores
// the body for the handler.
func (s *OperationSet) resolveToolCall(r *http.Request) string {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPeekBytes))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		s.logger.Warn("failed to read mcp body for pricing", slog.String("error", err.Error()))
		return ""
	}
	if gjson.GetBytes(raw, "method").String() != "tools/call" {
		return ""
	}
	return gjson.GetBytes(raw, "params.name").String()
}

// ValidatePricing warns about pricing entries whose operation id no route
// or tool provides. Misspelled ids would otherwise silently price nothing.
func (s *OperationSet) ValidatePricing(pricing x402.PricingTable) {
	known := make(map[string]struct{}, len(s.ops))
	for _, op := range s.ops {
		known[op.ID] = struct{}{}
	}
	for id := range pricing {
		if _, ok := known[id]; !ok {
			s.logger.Warn("priced operation has no registered route or tool",
				slog.String("operation", id))
		}
	}
}

// matchPattern compares a path against a route pattern segment by segment.
// {name} segments match any single non-empty segment.
func matchPattern(pattern, path string) bool {
	if pattern == path {
		return true
	}
	patternSegs := strings.Split(strings.Trim(pattern, "/"), "/")
	pathSegs := strings.Split(strings.Trim(path, "/"), "/")
	if len(patternSegs) != len(pathSegs) {
		return false
	}
	for i, seg := range patternSegs {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			if pathSegs[i] == "" {
				return false
			}
			continue
		}
		if seg != pathSegs[i] {
			return false
		}
	}
	return true
}
