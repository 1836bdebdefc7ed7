// Package host defines the narrow interfaces through which the bridge
// talks to its embedding chat gateway. The gateway itself is an external
// collaborator: only its contract is modeled here.
package host

import "context"

// Logger is the structured logger the host hands to plugins. It mirrors
// the subset of log/slog's method surface the bridge actually needs, so
// a host can adapt any logging backend to it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// PluginConfig exposes host-managed configuration values by key, as a
// fallback below environment variables.
type PluginConfig interface {
	Get(key string) (string, bool)
}

// Reply is what a hook or tool returns to short-circuit the host's
// default reply generation.
type Reply struct {
	Text    string
	IsError bool
}

// HookResult is the return value of a before_reply hook. A nil Reply
// means "pass through" — the host continues with its own handling.
type HookResult struct {
	Reply *Reply
}

// Entry carries the context the host has about the inbound message that
// triggered the hook or tool invocation.
type Entry struct {
	Agent          string
	Channel        string
	AccountID      string
	From           string
	Message        string
	SenderName     string
	SenderUsername string
	SenderID       string
	Transcript     string
	SessionKey     string
}

// HookFunc is a before_reply hook. It must be total: every code path
// returns a HookResult, never an error that would propagate to the
// host's own exception handling.
type HookFunc func(ctx context.Context, entry Entry) HookResult

// ToolFunc is an explicitly invocable tool. Unlike a hook it may return
// an error, which the host surfaces to the caller directly.
type ToolFunc func(ctx context.Context, entry Entry) (Reply, error)

// BackgroundService is a long-running component the host starts once at
// plugin registration and stops at shutdown.
type BackgroundService interface {
	Start(ctx context.Context) error
	Stop()
}

// ToolFactory returns a ToolFunc for the given agent, or nil if the tool
// should not be exposed to that agent.
type ToolFactory func(agent string) ToolFunc

// PluginHost is the subset of the gateway's plugin API the bridge
// depends on.
type PluginHost interface {
	Logger() Logger
	Config() PluginConfig
	RegisterHook(event string, priority int, hook HookFunc)
	RegisterTool(name string, factory ToolFactory)
	RegisterBackgroundService(name string, svc BackgroundService)
}
