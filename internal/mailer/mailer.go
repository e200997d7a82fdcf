// Package mailer is the outbound notification boundary. Delivery is
// fire-and-forget: callers never fail because an email could not be sent.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"
)

// Kind classifies a message for logging and templating.
type Kind string

const (
	KindVerification  Kind = "email_verification"
	KindPasswordReset Kind = "password_reset"
	KindSecurityAlert Kind = "security_alert"
)

// Message is a rendered email.
type Message struct {
	Kind    Kind
	To      string
	Subject string
	Body    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes a delivery record to the logger instead of sending mail.
// The body is not logged because it carries one-time links.
type LogMailer struct {
	Logger *slog.Logger
}

// Send implements Mailer.
func (m LogMailer) Send(ctx context.Context, msg Message) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "email queued", "kind", msg.Kind, "to", msg.To, "subject", msg.Subject)
	return nil
}

// Async wraps a Mailer so Send returns immediately and failures are only logged.
type Async struct {
	next    Mailer
	logger  *slog.Logger
	timeout time.Duration
}

// NewAsync returns a fire-and-forget wrapper around next.
func NewAsync(next Mailer, logger *slog.Logger) *Async {
	if logger == nil {
		logger = slog.Default()
	}
	return &Async{next: next, logger: logger, timeout: 30 * time.Second}
}

// Send dispatches msg in the background. The request context's cancellation
// does not abort delivery.
func (a *Async) Send(ctx context.Context, msg Message) error {
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		if err := a.next.Send(ctx, msg); err != nil {
			a.logger.WarnContext(ctx, "email delivery failed", "kind", msg.Kind, "to", msg.To, "error", err)
		}
	}()
	return nil
}

// VerificationEmail renders the verify-your-address message.
func VerificationEmail(to, frontendURL, token string) Message {
	return Message{
		Kind:    KindVerification,
		To:      to,
		Subject: "Verify your email address",
		Body:    fmt.Sprintf("Confirm your address by opening:\n\n%s\n", link(frontendURL, "/verify-email", token)),
	}
}

// PasswordResetEmail renders the reset-your-password message.
func PasswordResetEmail(to, frontendURL, token string) Message {
	return Message{
		Kind:    KindPasswordReset,
		To:      to,
		Subject: "Reset your password",
		Body: fmt.Sprintf("Choose a new password by opening:\n\n%s\n\nIf you did not ask for this, ignore this email.\n",
			link(frontendURL, "/reset-password", token)),
	}
}

// SecurityAlertEmail tells the user every session was signed out after a refresh token was replayed.
func SecurityAlertEmail(to string) Message {
	return Message{
		Kind:    KindSecurityAlert,
		To:      to,
		Subject: "You were signed out of all devices",
		Body: "A previously used sign-in token was presented again, which can mean it was stolen. " +
			"All of your sessions have been ended. Sign in again and consider changing your password.\n",
	}
}

func link(base, path, token string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + path + "?token=" + url.QueryEscape(token)
	}
	u.Path = path
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String()
}
