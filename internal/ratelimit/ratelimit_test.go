package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestCheckAllowsUnderLimit(t *testing.T) {
	l := New(Config{GlobalPerHour: 5, AgentPerHour: 2})
	if msg := l.Check("eng-1"); msg != "" {
		t.Fatalf("expected allowed, got %q", msg)
	}
}

func TestCheckDeniesAgentOverLimit(t *testing.T) {
	l := New(Config{GlobalPerHour: 100, AgentPerHour: 2})
	l.Record("eng-1")
	l.Record("eng-1")
	msg := l.Check("eng-1")
	if msg == "" {
		t.Fatal("expected agent limit message")
	}
}

func TestCheckDeniesGlobalOverLimit(t *testing.T) {
	l := New(Config{GlobalPerHour: 2, AgentPerHour: 100})
	l.Record("eng-1")
	l.Record("eng-2")
	msg := l.Check("eng-3")
	if msg == "" {
		t.Fatal("expected global limit message")
	}
}

func TestRecordRequiresPriorCheckSemantics(t *testing.T) {
	l := New(Config{GlobalPerHour: 1, AgentPerHour: 1})
	if msg := l.Check("eng-1"); msg != "" {
		t.Fatalf("expected allowed before recording, got %q", msg)
	}
	l.Record("eng-1")
	if msg := l.Check("eng-1"); msg == "" {
		t.Fatal("expected denial after recording up to limit")
	}
}

func TestStatsNonZeroOnly(t *testing.T) {
	l := New(Config{GlobalPerHour: 100, AgentPerHour: 100})
	l.Record("eng-1")
	stats := l.Stats()
	if stats.GlobalCount != 1 {
		t.Errorf("GlobalCount = %d, want 1", stats.GlobalCount)
	}
	if _, ok := stats.PerAgent["eng-2"]; ok {
		t.Error("expected no entry for agent with zero requests")
	}
	if stats.PerAgent["eng-1"] != 1 {
		t.Errorf("PerAgent[eng-1] = %d, want 1", stats.PerAgent["eng-1"])
	}
}

type fakeAlerter struct {
	calls   int
	lastMsg string
	err     error
}

func (f *fakeAlerter) SendAlert(_ context.Context, _ string, message string) error {
	f.calls++
	f.lastMsg = message
	return f.err
}

func TestSendAlertRespectsCooldown(t *testing.T) {
	l := New(Config{GlobalPerHour: 10, AgentPerHour: 10, AlertChatID: "chat-1", AlertCooldown: time.Hour})
	alerter := &fakeAlerter{}
	l.SendAlert(context.Background(), alerter, "agent limit", "eng-1", slog.Default())
	l.SendAlert(context.Background(), alerter, "agent limit", "eng-1", slog.Default())
	if alerter.calls != 1 {
		t.Errorf("expected exactly one alert within cooldown, got %d", alerter.calls)
	}
}

func TestSendAlertFailureDoesNotPanic(t *testing.T) {
	l := New(Config{GlobalPerHour: 10, AgentPerHour: 10, AlertChatID: "chat-1"})
	alerter := &fakeAlerter{err: errors.New("delivery failed")}
	l.SendAlert(context.Background(), alerter, "reason", "eng-1", slog.Default())
	if alerter.calls != 1 {
		t.Errorf("expected alert attempt, got %d calls", alerter.calls)
	}
}

func TestSendAlertNoopWithoutChatID(t *testing.T) {
	l := New(Config{GlobalPerHour: 10, AgentPerHour: 10})
	alerter := &fakeAlerter{}
	l.SendAlert(context.Background(), alerter, "reason", "eng-1", slog.Default())
	if alerter.calls != 0 {
		t.Errorf("expected no alert without chat id, got %d", alerter.calls)
	}
}
