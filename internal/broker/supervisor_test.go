package broker

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestSupervisor(t *testing.T) (*Supervisor, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	sup, err := New("redis://"+mr.Addr(), slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(sup.Close)
	return sup, mr
}

func TestConnectBecomesReady(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !sup.IsReady(ctx) {
		t.Error("expected ready after Connect")
	}
}

func TestIsReadyFalseWhenServerDown(t *testing.T) {
	sup, mr := newTestSupervisor(t)
	ctx := context.Background()
	if err := sup.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	mr.Close()
	if sup.IsReady(ctx) {
		t.Error("expected not ready once server is down")
	}
}

func TestEnsureConnectedReturnsTrueWhenAlreadyReady(t *testing.T) {
	sup, _ := newTestSupervisor(t)
	ctx := context.Background()
	if err := sup.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !sup.EnsureConnected(ctx) {
		t.Error("expected EnsureConnected true when already ready")
	}
}

func TestEnsureConnectedRecoversAfterRestart(t *testing.T) {
	sup, mr := newTestSupervisor(t)
	ctx := context.Background()
	if err := sup.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	addr := mr.Addr()
	mr.Close()
	if sup.IsReady(ctx) {
		t.Fatal("expected not ready immediately after server close")
	}

	restarted := miniredis.NewMiniRedis()
	if err := restarted.StartAddr(addr); err != nil {
		t.Fatalf("failed to restart miniredis on %s: %v", addr, err)
	}
	t.Cleanup(restarted.Close)

	if !sup.EnsureConnected(ctx) {
		t.Error("expected EnsureConnected to recover readiness")
	}
}

func TestEnsureConnectedSingleFlight(t *testing.T) {
	sup, mr := newTestSupervisor(t)
	ctx := context.Background()
	if err := sup.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	mr.Close()

	results := make(chan bool, 2)
	go func() { results <- sup.EnsureConnected(ctx) }()
	go func() { results <- sup.EnsureConnected(ctx) }()

	<-results
	<-results
	// Both calls should complete without deadlocking; since the server
	// stayed down, both should report not-ready.
}
