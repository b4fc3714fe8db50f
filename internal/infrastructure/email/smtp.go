package email

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/avatarctic/email-verification/internal/core/ports"
)

// SMTPDispatcher implements ports.EmailDispatcher over plain SMTP
type SMTPDispatcher struct {
	dialer   *gomail.Dialer
	from     string
	fromName string
	logger   *logrus.Logger
}

// Ensure SMTPDispatcher implements ports.EmailDispatcher
var _ ports.EmailDispatcher = (*SMTPDispatcher)(nil)

func NewSMTPDispatcher(host string, port int, user, password, fromEmail, fromName string, logger *logrus.Logger) *SMTPDispatcher {
	return &SMTPDispatcher{
		dialer:   gomail.NewDialer(host, port, user, password),
		from:     fromEmail,
		fromName: fromName,
		logger:   logger,
	}
}

func (d *SMTPDispatcher) message(to, subject, body string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", d.from, d.fromName)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)
	return m
}

// Send returns as soon as ctx is done even if the SMTP exchange is still in flight.
func (d *SMTPDispatcher) Send(ctx context.Context, to, subject, body string) error {
	m := d.message(to, subject, body)

	done := make(chan error, 1)
	go func() { done <- d.dialer.DialAndSend(m) }()

	select {
	case <-ctx.Done():
		d.logger.WithFields(logrus.Fields{"to": to}).WithError(ctx.Err()).Warn("smtp send aborted")
		return fmt.Errorf("failed to send email: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			d.logger.WithFields(logrus.Fields{"to": to, "subject": subject}).WithError(err).Error("Failed to send email")
			return fmt.Errorf("failed to send email: %w", err)
		}
	}

	d.logger.WithFields(logrus.Fields{"to": to, "subject": subject}).Info("Email sent successfully")
	return nil
}
