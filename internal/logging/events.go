package logging

import (
	"github.com/go-logr/logr"

	"github.com/dc-tec/s3-wagon/internal/transport"
)

// EventLogger is a transport.Listener that logs transfer events.
// Completions and failures are logged at the default level, everything else
// at V(1).
type EventLogger struct {
	log logr.Logger
}

var _ transport.Listener = (*EventLogger)(nil)

// NewEventLogger returns a listener writing to log.
func NewEventLogger(log logr.Logger) *EventLogger {
	return &EventLogger{log: log}
}

// TransferEvent implements transport.Listener.
func (l *EventLogger) TransferEvent(e transport.Event) {
	log := l.log.WithValues("request", string(e.Request), "resource", e.Resource)
	if e.Key != "" {
		log = log.WithValues("key", e.Key)
	}
	if e.LocalPath != "" {
		log = log.WithValues("localPath", e.LocalPath)
	}

	switch e.Type {
	case transport.EventInitiated:
		log.V(1).Info("Transfer initiated")
	case transport.EventStarted:
		log.V(1).Info("Transfer started")
	case transport.EventCompleted:
		log.Info("Transfer completed", "bytes", e.Bytes, "duration", e.Duration.String())
	case transport.EventError:
		log.Error(e.Err, "Transfer failed", "duration", e.Duration.String())
	case transport.EventDebug:
		log.V(1).Info(e.Message)
	}
}
