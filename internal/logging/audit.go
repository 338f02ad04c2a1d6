// Package logging writes session audit lines and transfer events through logr.
package logging

import "github.com/go-logr/logr"

// Audit event types.
const (
	AuditSessionOpened = "session_opened"
	AuditSessionClosed = "session_closed"
	AuditOpenFailed    = "session_open_failed"
)

// LogAuditEvent logs a structured audit event for a session lifecycle change.
// Audit events are distinct from regular debug/info logs and are tagged
// with "audit=true" for easy filtering in log aggregation systems. Callers
// must never pass secrets in fields.
func LogAuditEvent(logger logr.Logger, eventType string, fields map[string]string) {
	auditLogger := logger.WithValues("audit", "true", "event_type", eventType)
	for key, value := range fields {
		auditLogger = auditLogger.WithValues(key, value)
	}
	auditLogger.Info("Session audit event")
}
