package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/agentguard/internal/alert"
	"github.com/tjfontaine/agentguard/internal/audit"
	"github.com/tjfontaine/agentguard/internal/config"
	"github.com/tjfontaine/agentguard/internal/domain"
	"github.com/tjfontaine/agentguard/internal/killswitch"
	"github.com/tjfontaine/agentguard/internal/ledger"
	"github.com/tjfontaine/agentguard/internal/proxy"
	"github.com/tjfontaine/agentguard/internal/ratelimit"
	"github.com/tjfontaine/agentguard/internal/risk"
	"github.com/tjfontaine/agentguard/internal/rules"
	"github.com/tjfontaine/agentguard/internal/server"
	"github.com/tjfontaine/agentguard/internal/storage/sqlite"
	"github.com/tjfontaine/agentguard/internal/telemetry"
)

// health adapts the store and kill switch to the /healthz endpoint.
type health struct {
	store *sqlite.Store
	kill  *killswitch.Manager
}

func (h *health) Ping(ctx context.Context) error { return h.store.Ping(ctx) }
func (h *health) Paused() bool                   { return h.kill.GlobalState().Paused }

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize OpenTelemetry
	shutdownTracer, err := telemetry.InitTracer("agentguard", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	store, err := sqlite.New(cfg.DB.Path, logger)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	kill := killswitch.NewManager(store, logger)
	if err := kill.Init(context.Background()); err != nil {
		log.Fatalf("Failed to load kill switch state: %v", err)
	}

	auditor := audit.NewLogger(store, logger,
		audit.WithBatchSize(cfg.Audit.BatchSize),
		audit.WithFlushInterval(cfg.FlushInterval()))

	led := ledger.New(store, logger)
	limiter := ratelimit.New()
	engine := rules.New(store, led, limiter, logger)
	streaks := risk.NewStreakTracker()
	detector := risk.New(store, led, streaks, logger)
	alerts := alert.NewManager(store, auditor, logger)

	handler := proxy.NewHandler(proxy.Deps{
		Directory: store,
		Kill:      kill,
		Engine:    engine,
		Detector:  detector,
		Ledger:    led,
		Streaks:   streaks,
		Audit:     auditor,
		Alerts:    alerts,
		Client:    &http.Client{Timeout: cfg.UpstreamTimeout()},
		Logger:    logger,
	})

	srv := server.New(cfg.Server.Port, cfg.RequestTimeout(), logger, &health{store: store, kill: kill})
	handler.Mount(srv.Router)

	auditor.SystemEvent(context.Background(), "startup", domain.SeverityInfo,
		"agentguard started", map[string]any{"port": cfg.Server.Port})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	case <-sigChan:
	}

	logger.Info("Shutdown signal received, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
	}

	// Drain in-flight alert deliveries, then flush the audit tail.
	alerts.Wait()
	auditor.SystemEvent(context.Background(), "shutdown", domain.SeverityInfo, "agentguard stopping", nil)
	auditor.Close()

	logger.Info("Shutdown complete")
}
