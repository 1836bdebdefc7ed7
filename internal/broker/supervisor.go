// Package broker manages the two Redis connections the bridge needs —
// one for ordinary commands, one reserved for blocking reads — and
// auto-repairs them with a single-flight reconnect guard.
//
// A single client serving both blocking reads and command writes is an
// anti-pattern for this class of driver: the blocking read holds the
// connection and starves everything else. Two clients with identical
// configuration are the minimum portable workaround.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	startupReadyTimeout = 10 * time.Second
	repairPollInterval  = 200 * time.Millisecond
	repairTimeout       = 3 * time.Second
)

// Supervisor owns the two Redis connections used throughout the bridge:
// Normal for appends/acks/pending-inspection/group-creation, and
// Blocking exclusively for blocking pops and blocking consumer-group
// reads. Readiness is never cached; it is re-derived from each client's
// own Ping on every call, matching the spec's distrust of driver
// "ready"/"close" events (a driver can reach a terminal state without
// firing the event we'd otherwise rely on).
type Supervisor struct {
	Normal   *redis.Client
	Blocking *redis.Client

	logger *slog.Logger

	mu                sync.Mutex
	reconnectInFlight bool
	reconnectDone     chan struct{}
}

// New builds both clients (lazily — no network I/O happens yet) from a
// Redis URL. Call Connect to perform the initial connection.
func New(redisURL string, logger *slog.Logger) (*Supervisor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	// Disable per-command retry: blocking commands misbehave if the
	// client transparently retries a BLPOP/XREADGROUP mid-block.
	opts.MaxRetries = -1

	normalOpts := *opts
	blockingOpts := *opts

	return &Supervisor{
		Normal:   redis.NewClient(&normalOpts),
		Blocking: redis.NewClient(&blockingOpts),
		logger:   logger,
	}, nil
}

// Connect performs the initial connection and waits for both clients to
// become ready, aborting after startupReadyTimeout.
func (s *Supervisor) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, startupReadyTimeout)
	defer cancel()

	for {
		if s.IsReady(ctx) {
			s.logger.Info("broker connections ready")
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("broker connections not ready within %s: %w", startupReadyTimeout, ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// IsReady re-derives readiness by pinging both clients; it is never
// cached as a boolean.
func (s *Supervisor) IsReady(ctx context.Context) bool {
	return pingOK(ctx, s.Normal) && pingOK(ctx, s.Blocking)
}

func pingOK(ctx context.Context, c *redis.Client) bool {
	if c == nil {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.Ping(pingCtx).Err() == nil
}

// EnsureConnected implements the auto-repair policy:
//  1. If already ready, return true immediately.
//  2. If a reconnect is in flight, wait up to repairTimeout polling
//     every repairPollInterval for readiness.
//  3. Otherwise take the single-flight, force-reconnect both clients,
//     poll for readiness up to repairTimeout, log the outcome, and
//     release the flight.
func (s *Supervisor) EnsureConnected(ctx context.Context) bool {
	if s.IsReady(ctx) {
		return true
	}

	s.mu.Lock()
	if s.reconnectInFlight {
		done := s.reconnectDone
		s.mu.Unlock()
		return s.waitForReady(ctx, done)
	}
	s.reconnectInFlight = true
	done := make(chan struct{})
	s.reconnectDone = done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reconnectInFlight = false
		s.reconnectDone = nil
		s.mu.Unlock()
		close(done)
	}()

	s.reconnect(ctx)

	deadline := time.Now().Add(repairTimeout)
	for time.Now().Before(deadline) {
		if s.IsReady(ctx) {
			s.logger.Info("broker reconnect succeeded")
			return true
		}
		time.Sleep(repairPollInterval)
	}
	ready := s.IsReady(ctx)
	s.logger.Warn("broker reconnect did not restore readiness within window", "ready", ready)
	return ready
}

// waitForReady polls readiness until done fires or repairTimeout elapses,
// without performing a reconnect of its own (the in-flight owner does
// that); it is the "rest poll for readiness" half of the single-flight
// guard.
func (s *Supervisor) waitForReady(ctx context.Context, done <-chan struct{}) bool {
	deadline := time.Now().Add(repairTimeout)
	for {
		if s.IsReady(ctx) {
			return true
		}
		select {
		case <-done:
			return s.IsReady(ctx)
		case <-ctx.Done():
			return false
		case <-time.After(repairPollInterval):
		}
		if time.Now().After(deadline) {
			return s.IsReady(ctx)
		}
	}
}

func (s *Supervisor) reconnect(ctx context.Context) {
	for _, c := range []*redis.Client{s.Normal, s.Blocking} {
		if pingOK(ctx, c) {
			continue
		}
		// go-redis clients reconnect lazily on next use; a Ping forces
		// an immediate connection attempt so readiness can be observed.
		if err := c.Ping(ctx).Err(); err != nil {
			s.logger.Warn("broker reconnect attempt failed", "error", err)
		}
	}
}

// Close shuts down both clients, swallowing errors so shutdown is always
// clean.
func (s *Supervisor) Close() {
	if s.Normal != nil {
		if err := s.Normal.Close(); err != nil {
			s.logger.Warn("failed to close normal redis client", "error", err)
		}
	}
	if s.Blocking != nil {
		if err := s.Blocking.Close(); err != nil {
			s.logger.Warn("failed to close blocking redis client", "error", err)
		}
	}
}

// ErrNotReady is returned by callers that require readiness before
// proceeding and find EnsureConnected returned false.
var ErrNotReady = errors.New("broker connection not ready")
