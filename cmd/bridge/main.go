// Command bridge runs the outbound delivery worker and the admin HTTP
// surface as a standalone process. The inbound hook and tool, which
// depend on a gateway's plugin host, are registered separately when the
// bridge is embedded as a plugin (see internal/bridge.Register).
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ashureev/clawdbot-bridge/internal/adminapi"
	"github.com/ashureev/clawdbot-bridge/internal/breaker"
	"github.com/ashureev/clawdbot-bridge/internal/broker"
	"github.com/ashureev/clawdbot-bridge/internal/config"
	"github.com/ashureev/clawdbot-bridge/internal/outbound"
	"github.com/ashureev/clawdbot-bridge/internal/ratelimit"
	"github.com/ashureev/clawdbot-bridge/internal/splitter"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load(nil)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if !cfg.Active() {
		slog.Warn("no agents configured, outbound worker has nothing to deliver for", "agents", cfg.Agents)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup, err := broker.New(cfg.RedisURL, logger)
	if err != nil {
		slog.Error("failed to build broker supervisor", "error", err)
		os.Exit(1)
	}
	if err := sup.Connect(ctx); err != nil {
		slog.Error("failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer sup.Close()

	worker, err := outbound.New(ctx, outbound.Config{
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  cfg.ConsumerName,
		Publisher: splitter.PublisherConfig{
			URL:       cfg.Publisher.URL,
			Token:     cfg.Publisher.Token,
			PublicURL: cfg.Publisher.PublicURL,
		},
	}, sup, logger)
	if err != nil {
		slog.Error("failed to build outbound worker", "error", err)
		os.Exit(1)
	}
	if err := worker.Start(ctx); err != nil {
		slog.Error("failed to start outbound worker", "error", err)
		os.Exit(1)
	}
	defer worker.Stop()
	slog.Info("outbound worker started", "consumerGroup", cfg.ConsumerGroup, "consumerName", cfg.ConsumerName)

	limiter := ratelimit.New(ratelimit.Config{
		GlobalPerHour: cfg.RateLimit.GlobalPerHour,
		AgentPerHour:  cfg.RateLimit.AgentPerHour,
		AlertChatID:   cfg.RateLimit.AlertChatID,
		AlertCooldown: cfg.RateLimit.AlertCooldown,
	})
	brk := breaker.New(breaker.DefaultConfig())

	adminPort := os.Getenv("BRIDGE_ADMIN_PORT")
	if adminPort == "" {
		adminPort = "8089"
	}
	adminSrv := &http.Server{
		Addr:         ":" + adminPort,
		Handler:      adminapi.NewRouter(adminapi.StatsSource{Sup: sup, Breaker: brk, Limiter: limiter}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("admin api listening", "addr", adminSrv.Addr)
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin api failed", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	slog.Info("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("admin api forced to shutdown", "error", err)
	}

	slog.Info("bridge stopped")
}
