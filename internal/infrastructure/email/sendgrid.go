package email

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/email-verification/internal/core/ports"
)

// SendGridDispatcher implements ports.EmailDispatcher using the SendGrid v3 API
type SendGridDispatcher struct {
	client   *sendgrid.Client
	fromName string
	from     string
	logger   *logrus.Logger
}

// Ensure SendGridDispatcher implements ports.EmailDispatcher
var _ ports.EmailDispatcher = (*SendGridDispatcher)(nil)

// NewSendGridDispatcher creates a dispatcher talking to the public SendGrid API
func NewSendGridDispatcher(apiKey, fromEmail, fromName string, logger *logrus.Logger) *SendGridDispatcher {
	return NewSendGridDispatcherWithHost(apiKey, "", fromEmail, fromName, logger)
}

// NewSendGridDispatcherWithHost points the client at host instead of api.sendgrid.com
func NewSendGridDispatcherWithHost(apiKey, host, fromEmail, fromName string, logger *logrus.Logger) *SendGridDispatcher {
	request := sendgrid.GetRequest(apiKey, "/v3/mail/send", host)
	request.Method = "POST"
	return &SendGridDispatcher{
		client:   &sendgrid.Client{Request: request},
		fromName: fromName,
		from:     fromEmail,
		logger:   logger,
	}
}

func (d *SendGridDispatcher) Send(ctx context.Context, to, subject, body string) error {
	from := mail.NewEmail(d.fromName, d.from)
	recipient := mail.NewEmail("", to)
	message := mail.NewSingleEmail(from, subject, recipient, "", body)

	response, err := d.client.SendWithContext(ctx, message)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"to":      to,
			"subject": subject,
		}).WithError(err).Error("Failed to send email")
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 300 {
		d.logger.WithFields(logrus.Fields{
			"to":          to,
			"status_code": response.StatusCode,
		}).Error("SendGrid rejected email")
		return fmt.Errorf("sendgrid rejected email with status %d", response.StatusCode)
	}

	d.logger.WithFields(logrus.Fields{
		"to":          to,
		"subject":     subject,
		"status_code": response.StatusCode,
	}).Info("Email sent successfully")

	return nil
}
