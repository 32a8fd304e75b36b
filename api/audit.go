package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginSuccess           AuditEvent = "login_success"
	AuditLoginFailure           AuditEvent = "login_failure"
	AuditLoginRateLimited       AuditEvent = "login_rate_limited"
	AuditRegister               AuditEvent = "register"
	AuditLogout                 AuditEvent = "logout"
	AuditTokenRejected          AuditEvent = "token_rejected"
	AuditPasswordResetRequested AuditEvent = "password_reset_requested"
	AuditPasswordReset          AuditEvent = "password_reset"
	AuditCheckoutStarted        AuditEvent = "checkout_started"
	AuditWebhookRejected        AuditEvent = "webhook_rejected"
	AuditTrailVerified          AuditEvent = "audit_trail_verified"
)

// auditLogger wraps slog.Logger for structured security event logging.
// These events complement the persisted audit trail; they never carry
// PII or credentials.
type auditLogger struct {
	logger *slog.Logger
	alerts *alertCollector
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "security"),
	}
}

func (al *auditLogger) log(event AuditEvent, r *http.Request, ip string, attrs ...slog.Attr) {
	if al == nil {
		return
	}
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", ip),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	if id := requestIDFrom(r.Context()); id != "" {
		baseAttrs = append(baseAttrs, slog.String("request_id", id))
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	al.alerts.recordEvent(event)
}

// logEvent is a convenience for events about a known user.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, ip string, userID int64, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("user_id", strconv.FormatInt(userID, 10)),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, ip, attrs...)
}

// logFailure logs a rejected attempt.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, ip, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, ip, attrs...)
}
