// Package notify delivers transactional email: rejection notices and
// password reset codes.
package notify

//go:generate mockgen -source=notify.go -destination=mocks/mocks.go -package=mocks Mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/jmcleod/donorhub/internal/derrors"
	"github.com/jmcleod/donorhub/internal/metrics"
	"github.com/jmcleod/donorhub/internal/retry"
)

// ErrDelivery is wrapped by every send failure.
var ErrDelivery = errors.New("notification delivery failed")

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer sends messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPMailer sends mail over SMTP with STARTTLS when the server offers it.
type SMTPMailer struct {
	cfg     SMTPConfig
	policy  retry.Policy
	metrics *metrics.Metrics
	dial    func(ctx context.Context, msg *mail.Msg) error
}

// NewSMTPMailer validates cfg and returns a mailer.
func NewSMTPMailer(cfg SMTPConfig, m *metrics.Metrics) (*SMTPMailer, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("notify: smtp host and from address are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	s := &SMTPMailer{cfg: cfg, policy: retry.Default, metrics: m}
	s.dial = s.dialAndSend
	return s, nil
}

func (s *SMTPMailer) buildMessage(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	return m, nil
}

func (s *SMTPMailer) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(s.cfg.Timeout),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// Send delivers msg, retrying transient SMTP failures.
func (s *SMTPMailer) Send(ctx context.Context, msg Message) error {
	m, err := s.buildMessage(msg)
	if err != nil {
		s.metrics.ObserveNotification(false)
		return derrors.ExternalService(fmt.Errorf("%w: %w", ErrDelivery, err), "sending email")
	}
	start := time.Now()
	err = s.policy.Do(ctx, func(ctx context.Context) error {
		return s.dial(ctx, m)
	})
	s.metrics.ObserveExternal("smtp", start, err)
	s.metrics.ObserveNotification(err == nil)
	if err != nil {
		return derrors.ExternalService(fmt.Errorf("%w: %w", ErrDelivery, err), "sending email")
	}
	return nil
}

// LogMailer writes messages to a logger instead of sending them. Bodies
// carry one-time codes, so they are logged at debug level only.
type LogMailer struct {
	Logger *slog.Logger
}

func (l LogMailer) Send(ctx context.Context, msg Message) error {
	l.Logger.InfoContext(ctx, "email suppressed", slog.String("subject", msg.Subject))
	l.Logger.DebugContext(ctx, "email body", slog.String("to", msg.To), slog.String("body", msg.Body))
	return nil
}

// RejectionNotice builds the message sent when a registration is rejected.
func RejectionNotice(to, firstName, lastName, reason string) Message {
	return Message{
		To:      to,
		Subject: "Your donor registration was rejected",
		Body: fmt.Sprintf("Hello %s %s,\n\nYour donor registration has been rejected.\n\nReason: %s\n\n"+
			"If you believe this is a mistake, please contact support.\n", firstName, lastName, reason),
	}
}

// PasswordResetCode builds the message carrying a reset code.
func PasswordResetCode(to, username, code string, ttl time.Duration) Message {
	return Message{
		To:      to,
		Subject: "Your password reset code",
		Body: fmt.Sprintf("Hello %s,\n\nYour password reset code is %s. It expires in %d minutes.\n\n"+
			"If you did not request a reset, you can ignore this email.\n", username, code, int(ttl.Minutes())),
	}
}
