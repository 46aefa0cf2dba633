package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/xymarket/node/internal/config"
	"github.com/xymarket/node/internal/logging"
	"github.com/xymarket/node/internal/middleware"
	"github.com/xymarket/node/internal/registry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadMarketplace()
	if err != nil {
		logging.Setup("INFO").Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LoggingLevel)

	repo := registry.NewRepository(cfg.AgentsFile, logger)
	svc := registry.NewService(repo, logger)
	handler := registry.NewHandler(svc, logger)

	mux := http.NewServeMux()
	registerRoutes(mux, handler)

	// The marketplace runs without prometheus collectors; the middleware
	// accepts a nil metrics handle.
	var chain http.Handler = mux
	if cfg.RateLimitEnabled {
		limiter, err := middleware.NewRateLimiter(
			[]config.Rule{{Pattern: "/register", Limit: cfg.RateLimitPerMinute}},
			time.Minute, logger, nil)
		if err != nil {
			logger.Error("Invalid rate limit rules", "error", err)
			os.Exit(1)
		}
		chain = limiter.Middleware(chain)
	}
	chain = middleware.RequestLog(logger, nil)(chain)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}).Handler(chain)

	server := &http.Server{Addr: cfg.Addr(), Handler: corsHandler}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Starting marketplace", "addr", cfg.Addr(), "agents_file", cfg.AgentsFile)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	logger.Info("Shutdown complete")
}
