// Package outbound runs the background worker that drains the
// bridge:outbound stream as a consumer-group reader and fans entries out
// to end users through the host's delivery CLI.
package outbound

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashureev/clawdbot-bridge/internal/broker"
	"github.com/ashureev/clawdbot-bridge/internal/clidelivery"
	"github.com/ashureev/clawdbot-bridge/internal/splitter"
)

const (
	streamName = "bridge:outbound"

	readCount       = 10
	readBlock       = 5 * time.Second
	innerErrorDelay = 3 * time.Second
	backoffBase     = 1 * time.Second
	backoffMax      = 60 * time.Second

	maxDeliveryAttempts = 5
)

// Config configures a Worker.
type Config struct {
	ConsumerGroup string
	ConsumerName  string
	Publisher     splitter.PublisherConfig
}

// Worker consumes bridge:outbound via a consumer group and delivers each
// entry with the resolved delivery CLI.
type Worker struct {
	cfg       Config
	sup       *broker.Supervisor
	delivery  *clidelivery.Delivery
	publisher *splitter.Publisher
	logger    *slog.Logger

	running atomic.Bool
	wg      sync.WaitGroup
	stop    chan struct{}
}

// New builds a Worker. The delivery CLI is resolved eagerly so startup
// fails fast if neither binary is reachable.
func New(ctx context.Context, cfg Config, sup *broker.Supervisor, logger *slog.Logger) (*Worker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	delivery, err := clidelivery.Resolve(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("resolving delivery cli: %w", err)
	}
	return &Worker{
		cfg:       cfg,
		sup:       sup,
		delivery:  delivery,
		publisher: splitter.NewPublisher(cfg.Publisher),
		logger:    logger,
		stop:      make(chan struct{}),
	}, nil
}

// Start creates the consumer group (tolerating BUSYGROUP) and launches
// the resilient poll loop as a background goroutine. It satisfies the
// host's BackgroundService contract.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.ensureGroup(ctx); err != nil {
		return err
	}
	w.running.Store(true)
	w.wg.Add(1)
	go w.runOuterLoop(ctx)
	return nil
}

// Stop signals both loops to exit and blocks until the goroutine has
// returned. Safe to call even if Start failed or was never called.
func (w *Worker) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	close(w.stop)
	w.wg.Wait()
}

func (w *Worker) ensureGroup(ctx context.Context) error {
	err := w.sup.Normal.XGroupCreateMkStream(ctx, streamName, w.cfg.ConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

// runOuterLoop restarts the inner poll loop on unexpected termination —
// a panic, recovered here so one bad entry can never kill the worker —
// backing off with jittered exponential delay between restarts. The
// inner loop itself retries transient read errors without returning, so
// the outer loop is reserved for genuine crashes.
func (w *Worker) runOuterLoop(ctx context.Context) {
	defer w.wg.Done()

	delay := backoffBase
	for w.running.Load() {
		w.runInnerLoopRecovered(ctx)
		if !w.running.Load() {
			return
		}

		w.logger.Warn("outbound poll loop exited unexpectedly, backing off", "delay", delay)
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(jitter(delay)):
		}
		delay *= 2
		if delay > backoffMax {
			delay = backoffMax
		}
	}
}

func (w *Worker) runInnerLoopRecovered(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("outbound poll loop panic recovered", "panic", r)
		}
	}()
	w.innerLoop(ctx)
}

// innerLoop issues blocking consumer-group reads until the worker is
// stopped, retrying transient read errors on its own short delay rather
// than returning to the outer loop's backoff.
func (w *Worker) innerLoop(ctx context.Context) {
	for w.running.Load() {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		if !w.sup.EnsureConnected(ctx) {
			select {
			case <-w.stop:
				return
			case <-time.After(jitter(innerErrorDelay)):
			}
			continue
		}

		streams, err := w.sup.Blocking.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    w.cfg.ConsumerGroup,
			Consumer: w.cfg.ConsumerName,
			Streams:  []string{streamName, ">"},
			Count:    readCount,
			Block:    readBlock,
		}).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			w.logger.Error("outbound read failed", "error", err)
			select {
			case <-w.stop:
				return
			case <-time.After(jitter(innerErrorDelay)):
			}
			continue
		}

		for _, stream := range streams {
			for _, entry := range stream.Messages {
				w.processEntry(ctx, entry)
			}
		}
	}
}

func jitter(base time.Duration) time.Duration {
	factor := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(base) * factor)
}

// processEntry delivers a single outbound stream entry. It acknowledges
// malformed and dead-lettered entries but withholds acknowledgement on
// delivery failure so the broker redelivers.
func (w *Worker) processEntry(ctx context.Context, entry redis.XMessage) {
	fields := stringValues(entry.Values)

	message, to, channel := fields["message"], fields["to"], fields["channel"]
	if message == "" || to == "" || channel == "" {
		w.logger.Warn("dropping malformed outbound entry", "id", entry.ID)
		w.ack(ctx, entry.ID)
		return
	}

	if w.isDeadLetter(ctx, entry.ID) {
		w.logger.Error("Dead-lettering outbound entry after repeated delivery failures", "id", entry.ID)
		w.ack(ctx, entry.ID)
		return
	}

	accountID := fields["accountId"]

	deliverText := message
	if summary, ok := w.publisher.TryPublish(ctx, message); ok {
		deliverText = summary
	}

	chunks := splitter.Split(deliverText, splitter.MaxMsgLen)
	for _, chunk := range chunks {
		if err := w.delivery.Send(ctx, channel, to, accountID, chunk); err != nil {
			w.logger.Error("outbound delivery failed, leaving entry for redelivery", "id", entry.ID, "error", err)
			return
		}
	}

	w.ack(ctx, entry.ID)
}

func (w *Worker) ack(ctx context.Context, id string) {
	if err := w.sup.Normal.XAck(ctx, streamName, w.cfg.ConsumerGroup, id).Err(); err != nil {
		w.logger.Warn("failed to ack outbound entry", "id", id, "error", err)
	}
}

// isDeadLetter best-effort inspects the pending-entries list for this
// id. Any inspection error is treated as "not dead-lettered yet" — the
// worker proceeds to delivery rather than stalling on an ambiguous
// driver response.
func (w *Worker) isDeadLetter(ctx context.Context, id string) bool {
	entries, err := w.sup.Normal.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: streamName,
		Group:  w.cfg.ConsumerGroup,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(entries) == 0 {
		return false
	}
	return entries[0].RetryCount > maxDeliveryAttempts
}

func stringValues(values map[string]interface{}) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
