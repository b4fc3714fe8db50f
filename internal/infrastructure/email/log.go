package email

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/avatarctic/email-verification/internal/core/ports"
)

// LogDispatcher writes messages to the logger instead of sending them. Meant for local
// development; the body (which carries the code) is only logged at debug level.
type LogDispatcher struct {
	logger *logrus.Logger
}

// Ensure LogDispatcher implements ports.EmailDispatcher
var _ ports.EmailDispatcher = (*LogDispatcher)(nil)

func NewLogDispatcher(logger *logrus.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry := d.logger.WithFields(logrus.Fields{"to": to, "subject": subject})
	entry.Info("email dispatched to log")
	entry.WithField("body", body).Debug("email body")
	return nil
}
