package bridge

import (
	"context"
	"log/slog"

	"github.com/ashureev/clawdbot-bridge/internal/host"
)

// hostHandler adapts a host.Logger to the slog.Handler interface so the
// rest of the bridge can use *slog.Logger uniformly, whether running
// standalone or embedded in a gateway that supplies its own logger.
type hostHandler struct {
	logger host.Logger
	attrs  []slog.Attr
}

func newHostHandler(l host.Logger) *hostHandler {
	return &hostHandler{logger: l}
}

func (h *hostHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *hostHandler) Handle(_ context.Context, r slog.Record) error {
	args := make([]any, 0, 2*(len(h.attrs)+r.NumAttrs()))
	for _, a := range h.attrs {
		args = append(args, a.Key, a.Value.Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		args = append(args, a.Key, a.Value.Any())
		return true
	})

	switch {
	case r.Level >= slog.LevelError:
		h.logger.Error(r.Message, args...)
	case r.Level >= slog.LevelWarn:
		h.logger.Warn(r.Message, args...)
	case r.Level >= slog.LevelInfo:
		h.logger.Info(r.Message, args...)
	default:
		h.logger.Debug(r.Message, args...)
	}
	return nil
}

func (h *hostHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &hostHandler{logger: h.logger, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

func (h *hostHandler) WithGroup(string) slog.Handler {
	return h
}
