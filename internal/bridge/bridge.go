// Package bridge wires configuration, the safety envelope, the broker
// supervisor, the inbound hook/tool, and the outbound worker into a
// single registration against a plugin host.
package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/clawdbot-bridge/internal/breaker"
	"github.com/ashureev/clawdbot-bridge/internal/broker"
	"github.com/ashureev/clawdbot-bridge/internal/clidelivery"
	"github.com/ashureev/clawdbot-bridge/internal/config"
	"github.com/ashureev/clawdbot-bridge/internal/host"
	"github.com/ashureev/clawdbot-bridge/internal/inbound"
	"github.com/ashureev/clawdbot-bridge/internal/outbound"
	"github.com/ashureev/clawdbot-bridge/internal/ratelimit"
	"github.com/ashureev/clawdbot-bridge/internal/splitter"
)

const beforeReplyPriority = 100

// cliAlerter adapts the delivery CLI as a ratelimit.Alerter, so rate-limit
// alerts reach the configured chat through the same path as ordinary
// outbound deliveries.
type cliAlerter struct {
	delivery *clidelivery.Delivery
	channel  string
}

func (a cliAlerter) SendAlert(ctx context.Context, chatID, message string) error {
	if a.delivery == nil {
		return nil
	}
	return a.delivery.Send(ctx, a.channel, chatID, "", message)
}

// Registration holds the components built during Register, so callers
// (tests, or a host that wants finer control) can reach them directly.
type Registration struct {
	Config *config.Config
	Sup    *broker.Supervisor
	Worker *outbound.Worker
	Bridge *inbound.Bridge
	Logger *slog.Logger
}

// Register resolves configuration, builds the safety envelope and
// broker supervisor, and registers the hook, tool, and outbound worker
// with host. It returns the assembled Registration for callers that
// manage their own lifecycle, such as tests.
func Register(ctx context.Context, h host.PluginHost, alertChannel string) (*Registration, error) {
	logger := slog.Default()
	if h != nil && h.Logger() != nil {
		logger = slog.New(newHostHandler(h.Logger()))
	}

	var pc config.PluginConfig
	if h != nil {
		pc = h.Config()
	}
	cfg, err := config.Load(pc)
	if err != nil {
		return nil, fmt.Errorf("loading bridge configuration: %w", err)
	}
	if !cfg.Active() {
		logger.Info("bridge inactive: no agents configured")
		return &Registration{Config: cfg, Logger: logger}, nil
	}

	sup, err := broker.New(cfg.RedisURL, logger)
	if err != nil {
		return nil, fmt.Errorf("building broker supervisor: %w", err)
	}
	if err := sup.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connecting broker: %w", err)
	}

	delivery, err := clidelivery.Resolve(ctx, logger)
	if err != nil {
		sup.Close()
		return nil, fmt.Errorf("resolving delivery cli: %w", err)
	}

	agents := make(map[string]bool, len(cfg.Agents))
	for _, a := range cfg.Agents {
		agents[a] = true
	}

	limiter := ratelimit.New(ratelimit.Config{
		GlobalPerHour: cfg.RateLimit.GlobalPerHour,
		AgentPerHour:  cfg.RateLimit.AgentPerHour,
		AlertChatID:   cfg.RateLimit.AlertChatID,
		AlertCooldown: cfg.RateLimit.AlertCooldown,
	})

	br := &inbound.Bridge{
		Agents:         agents,
		Sup:            sup,
		Breaker:        breaker.New(breaker.DefaultConfig()),
		Limiter:        limiter,
		Alerter:        cliAlerter{delivery: delivery, channel: alertChannel},
		TimeoutSeconds: cfg.TimeoutSeconds,
		Logger:         logger,
	}

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
		sup.Close()
		return nil, fmt.Errorf("building outbound worker: %w", err)
	}

	if h != nil {
		h.RegisterHook("before_reply", beforeReplyPriority, br.Hook())
		h.RegisterTool("redis_bridge", br.ToolFactory())
		h.RegisterBackgroundService("clawdbot-outbound-worker", worker)
	}

	return &Registration{
		Config: cfg,
		Sup:    sup,
		Worker: worker,
		Bridge: br,
		Logger: logger,
	}, nil
}

// Close releases the broker connections. Safe to call on a zero-value
// (inactive) Registration.
func (r *Registration) Close() {
	if r == nil || r.Sup == nil {
		return
	}
	r.Sup.Close()
}
