package main

import (
	"net/http"

	"github.com/xymarket/node/internal/registry"
)

// registerRoutes wires the registry's HTTP surface onto mux.
func registerRoutes(mux *http.ServeMux, h *registry.Handler) {
	mux.HandleFunc("POST /register", h.RegisterAgent)
	mux.HandleFunc("GET /register/new_entries", h.NewEntries)
	mux.HandleFunc("GET /health", h.Health)
}
