package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dealwatch/harvester/api"
	"github.com/dealwatch/harvester/auth"
	"github.com/dealwatch/harvester/browser"
	"github.com/dealwatch/harvester/config"
	"github.com/dealwatch/harvester/notify"
	"github.com/dealwatch/harvester/proxy"
	"github.com/dealwatch/harvester/retry"
	"github.com/dealwatch/harvester/scrape"
	"github.com/dealwatch/harvester/sitehealth"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("harvester starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxContexts", cfg.Pool.MaxContexts,
	)

	// ── 3. Proxy rotation ───────────────────────────────────────────
	rotator, err := proxy.NewRotator(cfg.Proxy)
	if err != nil {
		slog.Error("invalid proxy configuration", "error", err)
		os.Exit(1)
	}

	// ── 4. Browser pool (launches lazily on first acquisition) ──────
	pool := browser.NewPool(cfg.Pool, cfg.Browser,
		browser.WithProxyProvider(rotator.Next))

	// ── 5. Site health registry + reauth webhook ────────────────────
	webhook := notify.NewWebhook(cfg.Health.ReauthWebhookURL, cfg.Health.WebhookSecret)
	registry := sitehealth.NewRegistry(cfg.Health, webhook)

	// ── 6. Auth resolution ──────────────────────────────────────────
	// The standalone binary runs without a session store: monitors that
	// require cookies are refused until an embedding service injects one.
	var store auth.SessionStore
	resolver := auth.NewResolver(store, pool, cfg.Session)

	// ── 7. Scrape orchestration ─────────────────────────────────────
	orch, err := scrape.NewOrchestrator(cfg.Scrape, resolver, registry, store, pool,
		scrape.WithProxies(rotator),
		scrape.WithRetryPolicy(retry.PolicyFromConfig(cfg.Retry)))
	if err != nil {
		slog.Error("failed to initialise orchestrator", "error", err)
		os.Exit(1)
	}

	// ── 8. Ops HTTP server ──────────────────────────────────────────
	startTime := time.Now()
	router := api.NewRouter(orch, pool, registry, rotator, cfg, startTime)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 9. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Give in-flight requests 5 seconds to complete.
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// Drain leases (bounded) and kill the browser process.
	poolCtx, poolCancel := context.WithTimeout(context.Background(), cfg.Pool.ShutdownTimeout)
	defer poolCancel()
	_ = pool.Shutdown(poolCtx)

	slog.Info("harvester stopped")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
