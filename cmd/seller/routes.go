package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xymarket/node/internal/seller"
)

// registerRoutes wires the seller's HTTP surface onto mux and returns the
// operation table the payment middleware prices against. Pricing applies
// per operation id; routes without an entry in the table are never priced.
func registerRoutes(mux *http.ServeMux, h *seller.Handler, mcp *seller.MCPServer) []seller.Operation {
	// Task engine
	mux.HandleFunc("POST /execute", h.ExecuteTask)
	mux.HandleFunc("GET /tasks/{task_id}", h.GetTaskStatus)

	// Discovery & operations
	mux.HandleFunc("GET /pricing", h.GetPricing)
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Demo surfaces
	mux.HandleFunc("GET /api/admin/logs", h.AdminLogs)
	mux.HandleFunc("POST /hybrid/forecast", h.Forecast)

	// MCP transport (tool calls resolve to per-tool operation ids)
	mux.HandleFunc("POST /mcp", mcp.Handle)

	ops := []seller.Operation{
		{Method: http.MethodPost, Pattern: "/execute", ID: "execute_task"},
		{Method: http.MethodGet, Pattern: "/tasks/{task_id}", ID: "get_task_status"},
		{Method: http.MethodGet, Pattern: "/api/admin/logs", ID: "get_admin_logs"},
		{Method: http.MethodPost, Pattern: "/hybrid/forecast", ID: "get_weather_forecast"},
	}
	return append(ops, mcp.Operations()...)
}
