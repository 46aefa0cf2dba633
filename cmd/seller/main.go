package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"

	"github.com/xymarket/node/internal/config"
	"github.com/xymarket/node/internal/execution"
	"github.com/xymarket/node/internal/logging"
	"github.com/xymarket/node/internal/metrics"
	"github.com/xymarket/node/internal/middleware"
	"github.com/xymarket/node/internal/seller"
	"github.com/xymarket/node/internal/task"
	"github.com/xymarket/node/internal/x402"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadSeller()
	if err != nil {
		logging.Setup("INFO").Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LoggingLevel)

	m := metrics.New(prometheus.DefaultRegisterer)

	// Execution engine
	repo := task.NewRepository(task.Config{
		DefaultDeadline:        cfg.Tasks.DefaultDeadline(),
		AllowTerminalOverwrite: cfg.Tasks.AllowTerminalOverwrite,
	}, logger)
	exec := execution.NewService(repo, &execution.ArchiveRunner{}, logger, m)
	janitor, err := execution.NewJanitor(repo, cfg.Tasks.JanitorInterval(), logger, m)
	if err != nil {
		logger.Error("Failed to schedule janitor", "error", err)
		os.Exit(1)
	}

	// Payment enforcement
	var facilitator x402.Facilitator
	pricing := x402.PricingTable{}
	if cfg.X402.Enabled() {
		table, err := x402.LoadPricingFile(cfg.X402.PricingConfigPath)
		if err != nil {
			logger.Warn("Pricing table unavailable, priced operations served free",
				"path", cfg.X402.PricingConfigPath, "error", err)
		} else {
			pricing = table
		}
		if cfg.X402.HasFacilitator() {
			if !x402.ValidWalletAddress(cfg.X402.PayeeWalletAddress) {
				logger.Error("SELLER_X402_PAYEE_WALLET_ADDRESS is not a valid wallet address",
					"address", cfg.X402.PayeeWalletAddress)
				os.Exit(1)
			}
			client, err := x402.NewFacilitatorClient(x402.FacilitatorConfig{
				URL:          cfg.X402.FacilitatorURL,
				APIKeyID:     cfg.X402.CDPAPIKeyID,
				APIKeySecret: cfg.X402.CDPAPIKeySecret,
			}, logger)
			if err != nil {
				logger.Error("Failed to build facilitator client", "error", err)
				os.Exit(1)
			}
			facilitator = client
			logger.Info("Payment enforcement enabled", "pay_to", cfg.X402.PayeeWalletAddress)
		} else {
			logger.Warn("Pricing mode is on but no facilitator is configured, requests pass through unpaid")
		}
	} else {
		logger.Info("Pricing mode is off, every operation is free")
	}

	// Outbound payment identity, for runners that buy from other sellers.
	if cfg.Buyer.WalletPrivateKey != "" {
		wallet, err := x402.NewWallet(cfg.Buyer.WalletPrivateKey)
		if err != nil {
			logger.Error("BUYER_X402_WALLET_PRIVATE_KEY is not a valid private key", "error", err)
			os.Exit(1)
		}
		logger.Info("Buyer wallet configured", "address", wallet.Address())
	}

	// HTTP surface
	handler := seller.NewHandler(exec, cfg.X402.PricingConfigPath, logger)
	mcp := seller.NewMCPServer(exec, logger)

	mux := http.NewServeMux()
	ops := seller.NewOperationSet(registerRoutes(mux, handler, mcp), logger)
	ops.ValidatePricing(pricing)

	var chain http.Handler = mux
	chain = x402.Middleware(x402.Options{
		Pricing:          pricing,
		PayTo:            cfg.X402.PayeeWalletAddress,
		Facilitator:      facilitator,
		ResolveOperation: ops.Resolve,
		Logger:           logger,
		Metrics:          m,
	})(chain)
	if cfg.RateLimit.Enabled {
		limiter, err := middleware.NewRateLimiter(cfg.RateLimit.Rules, cfg.RateLimit.Window(), logger, m)
		if err != nil {
			logger.Error("Invalid rate limit rules", "error", err)
			os.Exit(1)
		}
		chain = limiter.Middleware(chain)
	}
	chain = middleware.RequestLog(logger, m)(chain)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-PAYMENT", "X-Buyer-Secret"},
		ExposedHeaders: []string{"X-PAYMENT-RESPONSE"},
	}).Handler(chain)

	server := &http.Server{Addr: cfg.Addr(), Handler: corsHandler}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	janitor.Start()

	if cfg.Registration.Enabled {
		reg := seller.NewRegistrationClient(seller.RegistrationConfig{
			MarketplaceBaseURL: cfg.Registration.MarketplaceBaseURL,
			AgentName:          cfg.Registration.AgentName,
			BaseURL:            cfg.Registration.SellerBaseURL,
			Description:        cfg.Registration.Description,
			Tags:               cfg.Registration.Tags,
			Attempts:           cfg.Registration.RetryAttempts,
			Delay:              cfg.Registration.RetryDelay(),
		}, logger, m)
		go reg.Register(ctx)
	}

	go func() {
		logger.Info("Starting seller node", "addr", cfg.Addr())
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
	janitor.Stop()

	graceCtx, cancelGrace := context.WithTimeout(context.Background(), cfg.Tasks.ShutdownGrace())
	defer cancelGrace()
	if err := exec.Shutdown(graceCtx); err != nil {
		logger.Warn("Abandoning in-flight tasks", "error", err)
	}
	logger.Info("Shutdown complete")
}
