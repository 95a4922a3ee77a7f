package monitor

import (
	"context"
	"log"
	"time"

	"futuresagent/internal/events"
	"futuresagent/internal/risk"
)

// Monitor watches the event bus for risk rejections and forwards them to
// an AlertSink. RuleEvaluator decides whether a given risk.Result is worth
// alerting on; Sink delivers the message.
type Monitor struct {
	Bus   *events.Bus
	Sink  AlertSink
	rules RuleEvaluator
}

// Start subscribes to risk.rejected and runs until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.Sink == nil {
		log.Println("[MONITOR] not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.Subscribe(events.EventRiskRejected, 50)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				result, ok := msg.(risk.Result)
				if !ok {
					continue
				}
				if alert, reason := m.rules.Check(result); alert {
					if err := m.Sink.Send(formatAlert(reason)); err != nil {
						log.Printf("[MONITOR] alert delivery failed: %v", err)
					}
				}
			}
		}
	}()
}

func formatAlert(reason string) string {
	return "[" + time.Now().Format(time.RFC3339) + "] risk rejection: " + reason
}
