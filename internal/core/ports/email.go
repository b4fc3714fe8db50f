package ports

import (
	"context"
)

// EmailDispatcher delivers a rendered message. A returned error means the message was not sent.
type EmailDispatcher interface {
	Send(ctx context.Context, to, subject, body string) error
}

// EmailTemplate holds the unrendered subject and body of an outgoing message
type EmailTemplate struct {
	Subject string
	Body    string
}
