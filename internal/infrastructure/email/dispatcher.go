package email

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/avatarctic/email-verification/configs"
	"github.com/avatarctic/email-verification/internal/core/ports"
)

// NewDispatcher selects the EmailDispatcher for the configured provider
func NewDispatcher(cfg *configs.EmailConfig, logger *logrus.Logger) (ports.EmailDispatcher, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	switch cfg.Provider {
	case configs.EmailProviderSendGrid:
		if cfg.SendGridAPIKey == "" {
			return nil, fmt.Errorf("sendgrid api key is not configured")
		}
		return NewSendGridDispatcher(cfg.SendGridAPIKey, cfg.FromEmail, cfg.FromName, logger), nil
	case configs.EmailProviderSMTP:
		return NewSMTPDispatcher(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.FromEmail, cfg.FromName, logger), nil
	case configs.EmailProviderLog, "":
		return NewLogDispatcher(logger), nil
	default:
		return nil, fmt.Errorf("unsupported email provider %q", cfg.Provider)
	}
}
