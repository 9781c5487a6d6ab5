// ClickShield - Ad click fraud scoring that deploys in 60 seconds.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/clickshield/clickshield/internal/alerting"
	"github.com/clickshield/clickshield/internal/api"
	"github.com/clickshield/clickshield/internal/bus"
	"github.com/clickshield/clickshield/internal/cache"
	"github.com/clickshield/clickshield/internal/domain"
	"github.com/clickshield/clickshield/internal/enrich"
	"github.com/clickshield/clickshield/internal/features"
	"github.com/clickshield/clickshield/internal/geoip"
	"github.com/clickshield/clickshield/internal/metrics"
	"github.com/clickshield/clickshield/internal/model"
	"github.com/clickshield/clickshield/internal/optimize"
	"github.com/clickshield/clickshield/internal/repository"
	"github.com/clickshield/clickshield/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Local development convenience; a missing .env file is fine.
	_ = godotenv.Load()

	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("CLICKSHIELD_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting clickshield",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	cfg := loadConfig()

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	metrics.Register()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize enrichment pipeline. The memory tier is a dedicated
	// bounded cache so enrichment records cannot be crowded out by (or
	// crowd out) query-cache entries in the shared cache.
	gateway := geoip.NewGateway(cfg.Lookup)
	enrichTier := cache.NewFIFOCache(cfg.Scoring.EnrichmentCacheSize)
	enricher := enrich.NewEngine(gateway, enrichTier, repo, cfg.Scoring.EnrichmentTTL)
	slog.Info("enrichment engine initialized",
		"geo_endpoint", cfg.Lookup.GeoEndpoint,
		"vpn_provider", cfg.Lookup.VPNProviderKey != "",
	)

	// Initialize scoring pipeline
	extractor := features.NewExtractor(repo, enricher)
	predictor := model.NewPredictor(repo, extractor)
	trainer := model.NewTrainer(repo, extractor, cfg.Scoring)
	slog.Info("scoring pipeline initialized",
		"training_floor", cfg.Scoring.TrainingMinSamples,
	)

	// Initialize Alerter
	alerter, err := alerting.New(repo, busImpl)
	if err != nil {
		slog.Error("failed to initialize alerter", "error", err)
		os.Exit(1)
	}
	slog.Info("alerter initialized")

	// Initialize dashboard aggregation
	dashboard := optimize.NewDashboardLoader(repo, optimize.NewQueryCache(cacheImpl), cfg.Scoring.DashboardTTL)

	// Initialize async Worker (Pro tier)
	async := cfg.Tier == domain.TierPro || os.Getenv("CLICKSHIELD_ASYNC_WORKER") == "true"
	var asyncWorker *worker.Worker
	if async {
		asyncWorker = worker.NewWorker(busImpl, repo, enricher, predictor, trainer, alerter)

		accountIDs := []string{}
		if envAccounts := os.Getenv("CLICKSHIELD_ACCOUNTS"); envAccounts != "" {
			for _, id := range strings.Split(envAccounts, ",") {
				if id = strings.TrimSpace(id); id != "" {
					accountIDs = append(accountIDs, id)
				}
			}
		}

		workerCfg := worker.Config{
			AccountIDs:      accountIDs,
			RetrainInterval: cfg.Scoring.RetrainInterval,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "account_count", len(accountIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, enricher, predictor, trainer, alerter, dashboard, Version, async)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("clickshield is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("clickshield shutdown complete")
}

// loadConfig builds the runtime configuration: tier defaults first,
// then environment overrides.
func loadConfig() *domain.Config {
	cfg := domain.DefaultConfig()
	if os.Getenv("CLICKSHIELD_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	if v := os.Getenv("CLICKSHIELD_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("CLICKSHIELD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		} else {
			slog.Warn("invalid CLICKSHIELD_PORT, keeping default", "value", v)
		}
	}

	if v := os.Getenv("CLICKSHIELD_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("CLICKSHIELD_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("CLICKSHIELD_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("CLICKSHIELD_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("CLICKSHIELD_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}

	if v := os.Getenv("CLICKSHIELD_GEO_ENDPOINT"); v != "" {
		cfg.Lookup.GeoEndpoint = v
	}
	if v := os.Getenv("CLICKSHIELD_VPN_ENDPOINT"); v != "" {
		cfg.Lookup.VPNEndpoint = v
	}
	if v := os.Getenv("CLICKSHIELD_VPN_KEY"); v != "" {
		cfg.Lookup.VPNProviderKey = v
	}

	return cfg
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ==============================================")
	fmt.Println("                 CLICKSHIELD")
	fmt.Println("        Ad Click Fraud Scoring Engine")
	fmt.Println("  ==============================================")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /clicks            - Ingest and score a click")
	fmt.Println("    GET  /clicks/{id}       - Get click by ID")
	fmt.Println("    GET  /enrich/{ip}       - Enrich a single IP")
	fmt.Println("    POST /enrich/batch      - Enrich a batch of IPs")
	fmt.Println("    GET  /dashboard         - Account fraud dashboard")
	fmt.Println("    POST /models/train      - Train the account model")
	fmt.Println("    GET  /models/active     - Get the active model")
	fmt.Println("    GET  /alerts            - List recent alerts")
	fmt.Println("    GET  /alerts/condition  - Get the alert condition")
	fmt.Println("    PUT  /alerts/condition  - Replace the alert condition")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println("    GET  /metrics           - Prometheus metrics")
	fmt.Println()
}
