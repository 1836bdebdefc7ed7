// Package inbound implements the request/response bridge: a before_reply
// hook and a companion tool that forward bridged agents' messages to the
// external engine over the broker and translate every failure into a
// well-formed reply.
package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ashureev/clawdbot-bridge/internal/breaker"
	"github.com/ashureev/clawdbot-bridge/internal/broker"
	"github.com/ashureev/clawdbot-bridge/internal/host"
	"github.com/ashureev/clawdbot-bridge/internal/ratelimit"
)

const (
	inboundStream   = "bridge:inbound"
	protocolVersion = "1"

	heartbeatMarkerA = "HEARTBEAT_OK"
	heartbeatMarkerB = "Read HEARTBEAT.md"
)

// Alerter delivers a rate-limit alert message through the host's
// delivery path. It is implemented by the glue layer so this package
// stays independent of the CLI delivery mechanism.
type Alerter interface {
	SendAlert(ctx context.Context, chatID, message string) error
}

// Bridge wires the safety envelope and broker together into the hook and
// tool forms described by the component design.
type Bridge struct {
	Agents         map[string]bool
	Sup            *broker.Supervisor
	Breaker        *breaker.Breaker
	Limiter        *ratelimit.Limiter
	Alerter        Alerter
	TimeoutSeconds time.Duration
	Logger         *slog.Logger

	// limitMu is held across the limiter's Check+Record pair so that
	// concurrent requests cannot both pass Check before either records.
	limitMu sync.Mutex
}

// engineReply is the JSON shape the engine is expected to push onto the
// rendezvous key; a bare string is also accepted and treated as Text.
type engineReply struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// Hook returns the before_reply hook. It is total: every path returns a
// HookResult, because an uncaught error would make the host silently
// fall back to its own model.
func (b *Bridge) Hook() host.HookFunc {
	return func(ctx context.Context, entry host.Entry) (result host.HookResult) {
		defer func() {
			if r := recover(); r != nil {
				b.Breaker.RecordFailure()
				b.Logger.Error("inbound hook panic recovered", "panic", r)
				result = errorResult("Le moteur a rencontré une erreur. Veuillez réessayer.")
			}
		}()

		if !b.Agents[entry.Agent] {
			return host.HookResult{}
		}

		if isHeartbeat(entry.Message) {
			return host.HookResult{Reply: &host.Reply{Text: heartbeatMarkerA}}
		}

		b.limitMu.Lock()
		denyMsg := b.Limiter.Check(entry.Agent)
		if denyMsg == "" {
			b.Limiter.Record(entry.Agent)
		}
		b.limitMu.Unlock()
		if denyMsg != "" {
			go b.Limiter.SendAlert(context.Background(), b.Alerter, denyMsg, entry.Agent, b.Logger)
			return errorResult(denyMsg)
		}

		switch b.Breaker.State() {
		case breaker.Open:
			return errorResult("Le moteur est temporairement indisponible. Veuillez réessayer plus tard.")
		case breaker.HalfOpen:
			b.Logger.Info("circuit breaker half-open, allowing probe request")
		}

		if !b.Sup.EnsureConnected(ctx) {
			b.Breaker.RecordFailure()
			return errorResult("La connexion au moteur a été perdue. Veuillez réessayer.")
		}

		correlationID := uuid.NewString()
		reply, err := b.dispatch(ctx, correlationID, entry, entry.From)
		if err != nil {
			b.Breaker.RecordFailure()
			b.Logger.Error("inbound dispatch failed", "correlationId", correlationID, "error", err)
			if err == errRendezvousTimeout {
				return errorResult("The engine did not respond in time. Please try again.")
			}
			var ee *engineError
			if errors.As(err, &ee) {
				return errorResult(fmt.Sprintf("Engine error: %s", ee.msg))
			}
			return errorResult("Le moteur a rencontré une erreur. Veuillez réessayer.")
		}

		b.Breaker.RecordSuccess()
		return host.HookResult{Reply: reply}
	}
}

// ToolFactory returns a ToolFactory that exposes the redis_bridge tool
// only to bridged agents. The tool skips the breaker, limiter, and
// auto-repair steps: it is an explicit opt-in path whose caller should
// see errors directly.
func (b *Bridge) ToolFactory() host.ToolFactory {
	return func(agent string) host.ToolFunc {
		if !b.Agents[agent] {
			return nil
		}
		return func(ctx context.Context, entry host.Entry) (host.Reply, error) {
			correlationID := uuid.NewString()
			reply, err := b.dispatch(ctx, correlationID, entry, "proxy")
			if err != nil {
				if err == errRendezvousTimeout {
					return host.Reply{}, fmt.Errorf("the engine did not respond in time")
				}
				return host.Reply{}, err
			}
			return *reply, nil
		}
	}
}

var errRendezvousTimeout = fmt.Errorf("rendezvous timed out")

// engineError wraps an error the engine itself reported via the
// rendezvous reply's error field, as distinct from a transport or
// broker failure encountered while trying to reach it. Only this kind
// should ever be echoed to the end user.
type engineError struct {
	msg string
}

func (e *engineError) Error() string { return e.msg }

// dispatch performs steps 7-9 of the bridge flow: append the inbound
// entry, block on the rendezvous key, and translate the response.
func (b *Bridge) dispatch(ctx context.Context, correlationID string, entry host.Entry, from string) (*host.Reply, error) {
	responseKey := "bridge:response:" + correlationID

	values := map[string]interface{}{
		"correlationId":   correlationID,
		"message":         entry.Message,
		"from":            from,
		"agent":           entry.Agent,
		"channel":         entry.Channel,
		"accountId":       entry.AccountID,
		"senderName":      entry.SenderName,
		"senderUsername":  entry.SenderUsername,
		"senderId":        entry.SenderID,
		"transcript":      entry.Transcript,
		"sessionKey":      sessionKey(entry),
		"timestamp":       strconv.FormatInt(time.Now().UnixMilli(), 10),
		"protocolVersion": protocolVersion,
	}

	if _, err := b.Sup.Normal.XAdd(ctx, &redis.XAddArgs{
		Stream: inboundStream,
		Values: values,
	}).Result(); err != nil {
		return nil, fmt.Errorf("appending inbound entry: %w", err)
	}

	timeout := b.TimeoutSeconds
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	popped, err := b.Sup.Blocking.BLPop(ctx, timeout, responseKey).Result()
	if err == redis.Nil {
		return nil, errRendezvousTimeout
	}
	if err != nil {
		return nil, fmt.Errorf("waiting for engine response: %w", err)
	}
	if len(popped) < 2 {
		return nil, errRendezvousTimeout
	}

	raw := popped[1]
	var parsed engineReply
	if jsonErr := json.Unmarshal([]byte(raw), &parsed); jsonErr != nil {
		parsed = engineReply{Text: raw}
	}
	if parsed.Error != "" {
		return nil, &engineError{msg: parsed.Error}
	}
	return &host.Reply{Text: parsed.Text}, nil
}

func sessionKey(entry host.Entry) string {
	if entry.SessionKey != "" {
		return entry.SessionKey
	}
	return fmt.Sprintf("%s:%s:%s", entry.Channel, entry.AccountID, entry.From)
}

func isHeartbeat(message string) bool {
	return strings.Contains(message, heartbeatMarkerA) || strings.Contains(message, heartbeatMarkerB)
}

func errorResult(text string) host.HookResult {
	return host.HookResult{Reply: &host.Reply{Text: text, IsError: true}}
}
