package monitor

import "log"

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogAlertSink writes alerts through the standard logger. It is the default
// sink; a future webhook/email sink can implement AlertSink the same way.
type LogAlertSink struct{}

func (LogAlertSink) Send(message string) error {
	log.Printf("[MONITOR] %s", message)
	return nil
}
