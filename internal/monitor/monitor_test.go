package monitor

import (
	"context"
	"testing"
	"time"

	"futuresagent/internal/events"
	"futuresagent/internal/risk"
)

type captureSink struct {
	messages chan string
}

func (c *captureSink) Send(message string) error {
	c.messages <- message
	return nil
}

func TestMonitorAlertsOnRiskRejection(t *testing.T) {
	bus := events.NewBus()
	sink := &captureSink{messages: make(chan string, 1)}
	m := &Monitor{Bus: bus, Sink: sink}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	bus.Publish(events.EventRiskRejected, risk.Result{OK: false, Reason: "leverage above cap"})

	select {
	case msg := <-sink.messages:
		if msg == "" {
			t.Error("expected non-empty alert message")
		}
	case <-time.After(time.Second):
		t.Fatal("expected an alert within 1s")
	}
}

func TestMonitorIgnoresOKResults(t *testing.T) {
	bus := events.NewBus()
	sink := &captureSink{messages: make(chan string, 1)}
	m := &Monitor{Bus: bus, Sink: sink}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	bus.Publish(events.EventRiskRejected, risk.Result{OK: true})

	select {
	case msg := <-sink.messages:
		t.Fatalf("expected no alert for an OK result, got %q", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMonitorSkippedWhenUnconfigured(t *testing.T) {
	m := &Monitor{}
	m.Start(context.Background()) // must not panic
}
