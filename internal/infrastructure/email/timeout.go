package email

import (
	"context"
	"time"

	"github.com/avatarctic/email-verification/internal/core/ports"
)

// timeoutDispatcher bounds every Send call by a fixed timeout on top of the caller's context.
type timeoutDispatcher struct {
	next    ports.EmailDispatcher
	timeout time.Duration
}

// WithTimeout wraps next so that no single Send outlives timeout. A non-positive timeout
// returns next unchanged.
func WithTimeout(next ports.EmailDispatcher, timeout time.Duration) ports.EmailDispatcher {
	if timeout <= 0 {
		return next
	}
	return &timeoutDispatcher{next: next, timeout: timeout}
}

func (d *timeoutDispatcher) Send(ctx context.Context, to, subject, body string) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.next.Send(ctx, to, subject, body)
}
