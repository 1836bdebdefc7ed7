// Package ratelimit implements a sliding 1-hour rate limiter, global and
// per-agent, with best-effort alerting.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const window = time.Hour

// Config holds rate-limiter thresholds.
type Config struct {
	GlobalPerHour int
	AgentPerHour  int
	AlertChatID   string
	AlertCooldown time.Duration
}

// Alerter sends a best-effort alert message to a chat. Implementations
// must not block the hot path or return an error that the caller needs
// to act on; Limiter already treats failures as log-and-ignore.
type Alerter interface {
	SendAlert(ctx context.Context, chatID, message string) error
}

// Limiter tracks a global sliding window and one per-agent sliding
// window, pruning entries older than one hour on every check.
type Limiter struct {
	cfg Config

	mu           sync.Mutex
	global       []time.Time
	perAgent     map[string][]time.Time
	lastAlertAt  time.Time
}

// New creates a Limiter with the given config.
func New(cfg Config) *Limiter {
	if cfg.GlobalPerHour <= 0 {
		cfg.GlobalPerHour = 60
	}
	if cfg.AgentPerHour <= 0 {
		cfg.AgentPerHour = 20
	}
	if cfg.AlertCooldown <= 0 {
		cfg.AlertCooldown = 300 * time.Second
	}
	return &Limiter{
		cfg:      cfg,
		perAgent: make(map[string][]time.Time),
	}
}

// Check prunes both windows and returns a non-empty localized message if
// the agent or global limit would be exceeded by the next request; an
// empty string means the request is allowed. It does not record the
// request — call Record after a successful Check.
func (l *Limiter) Check(agentID string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.global = prune(l.global, now)
	l.perAgent[agentID] = prune(l.perAgent[agentID], now)

	if len(l.perAgent[agentID]) >= l.cfg.AgentPerHour {
		return fmt.Sprintf("Rate limit reached for agent %q. Please wait before sending more requests.", agentID)
	}
	if len(l.global) >= l.cfg.GlobalPerHour {
		return "Global rate limit reached. Please wait before sending more requests."
	}
	return ""
}

// Record appends the current time to both the global and per-agent
// windows. Must only be called after a successful Check for the same
// request.
func (l *Limiter) Record(agentID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.global = append(l.global, now)
	l.perAgent[agentID] = append(l.perAgent[agentID], now)
}

func prune(times []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(times); i++ {
		if times[i].After(cutoff) {
			break
		}
	}
	if i == 0 {
		return times
	}
	return append([]time.Time(nil), times[i:]...)
}

// Stats summarizes current window occupancy.
type Stats struct {
	GlobalCount int
	PerAgent    map[string]int
}

// Stats returns the current global count and non-zero per-agent counts.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.global = prune(l.global, now)
	out := Stats{GlobalCount: len(l.global), PerAgent: make(map[string]int)}
	for agent, times := range l.perAgent {
		pruned := prune(times, now)
		l.perAgent[agent] = pruned
		if len(pruned) > 0 {
			out.PerAgent[agent] = len(pruned)
		}
	}
	return out
}

// SendAlert is best-effort and rate-limited by AlertCooldown: failures
// from the alerter are logged, never raised, and callers should invoke
// this asynchronously so it never blocks the hot path.
func (l *Limiter) SendAlert(ctx context.Context, alerter Alerter, reason, agentID string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	l.mu.Lock()
	now := time.Now()
	if now.Sub(l.lastAlertAt) < l.cfg.AlertCooldown {
		l.mu.Unlock()
		return
	}
	l.lastAlertAt = now
	l.mu.Unlock()

	if alerter == nil || l.cfg.AlertChatID == "" {
		return
	}
	message := fmt.Sprintf("[redis-bridge] rate limit triggered: %s (agent=%s)", reason, agentID)
	if err := alerter.SendAlert(ctx, l.cfg.AlertChatID, message); err != nil {
		logger.Warn("rate limiter alert delivery failed", "error", err, "reason", reason, "agent", agentID)
	}
}
