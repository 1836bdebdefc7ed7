// Package clidelivery delivers outbound chunks to chat channels by
// shelling out to the host's messaging CLI binary.
package clidelivery

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

const (
	probeTimeout   = 5 * time.Second
	sendTimeout    = 30 * time.Second
	defaultBinary  = "openclaw"
	fallbackBinary = "clawdbot"
)

// Delivery shells out to a resolved CLI binary to deliver messages.
type Delivery struct {
	binary string
	logger *slog.Logger
}

// Resolve probes for the messaging CLI, preferring defaultBinary and
// falling back to fallbackBinary, by running "<binary> --version" with
// a short timeout. It returns an error if neither binary responds.
func Resolve(ctx context.Context, logger *slog.Logger) (*Delivery, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, candidate := range []string{defaultBinary, fallbackBinary} {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := exec.CommandContext(probeCtx, candidate, "--version").Run()
		cancel()
		if err == nil {
			logger.Info("resolved delivery cli", "binary", candidate)
			return &Delivery{binary: candidate, logger: logger}, nil
		}
		logger.Debug("delivery cli probe failed", "binary", candidate, "error", err)
	}
	return nil, fmt.Errorf("no messaging cli found: tried %s, %s", defaultBinary, fallbackBinary)
}

// Send invokes the resolved binary to deliver a single chunk to a
// channel/target pair, optionally scoped to a specific account.
func (d *Delivery) Send(ctx context.Context, channel, target, accountID, message string) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	args := []string{"message", "send", "--channel", channel, "--target", target, "--message", message}
	if accountID != "" {
		args = append(args, "--account", accountID)
	}

	cmd := exec.CommandContext(ctx, d.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("delivery cli failed: %w: %s", err, stderr.String())
	}
	return nil
}
