// Package adminapi exposes a small operational HTTP surface for the
// bridge: a liveness probe and a snapshot of rate-limiter and breaker
// state. It is ambient tooling, not part of the bridge's message-path
// contract.
package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/clawdbot-bridge/internal/breaker"
	"github.com/ashureev/clawdbot-bridge/internal/broker"
	"github.com/ashureev/clawdbot-bridge/internal/ratelimit"
)

// StatsSource supplies the live state the /stats endpoint reports.
type StatsSource struct {
	Sup     *broker.Supervisor
	Breaker *breaker.Breaker
	Limiter *ratelimit.Limiter
}

type healthResponse struct {
	Status          string `json:"status"`
	BreakerState    string `json:"breakerState"`
	BreakerFailures int    `json:"breakerFailures"`
}

type statsResponse struct {
	BrokerReady     bool           `json:"brokerReady"`
	BreakerState    string         `json:"breakerState"`
	BreakerFailures int            `json:"breakerFailures"`
	RateLimitGlobal int            `json:"rateLimitGlobal"`
	RateLimitAgents map[string]int `json:"rateLimitAgents"`
}

// NewRouter builds the chi router serving /healthz and /stats.
func NewRouter(src StatsSource) http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ready := src.Sup.IsReady(r.Context())
		state := src.Breaker.State()
		resp := healthResponse{
			Status:          "ok",
			BreakerState:    string(state),
			BreakerFailures: src.Breaker.Failures(),
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready || state == breaker.Open {
			resp.Status = "degraded"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		stats := src.Limiter.Stats()
		resp := statsResponse{
			BrokerReady:     src.Sup.IsReady(r.Context()),
			BreakerState:    string(src.Breaker.State()),
			BreakerFailures: src.Breaker.Failures(),
			RateLimitGlobal: stats.GlobalCount,
			RateLimitAgents: stats.PerAgent,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	return r
}
