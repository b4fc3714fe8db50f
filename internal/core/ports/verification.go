package ports

import (
	"context"
	"time"

	"github.com/avatarctic/email-verification/internal/core/domain/verification"
)

// Clock supplies the current instant so expiry and cooldown logic can be tested without sleeping.
type Clock interface {
	Now() time.Time
}

// CodeGenerator produces fixed-length numeric one-time codes.
type CodeGenerator interface {
	Generate(length int) (string, error)
}

// HandleGenerator produces unguessable session handles.
type HandleGenerator interface {
	NewHandle() (string, error)
}

// VerificationStore persists verification sessions.
// Implementations must return independent copies and must reject an Update whose Version
// does not match the stored record with verification.ErrConcurrentUpdate.
type VerificationStore interface {
	Create(ctx context.Context, session *verification.Session) (*verification.Session, error)
	Update(ctx context.Context, session *verification.Session) error
	GetByHandle(ctx context.Context, handle string) (*verification.Session, error)
	// GetActiveFor returns the most recently created pending or verified session.
	GetActiveFor(ctx context.Context, email string, purpose verification.Purpose) (*verification.Session, error)
}

// VerificationService defines the verification session state machine
type VerificationService interface {
	Start(ctx context.Context, email string, purpose verification.Purpose) (*verification.Session, error)
	Resend(ctx context.Context, handle string) (*verification.Session, error)
	Verify(ctx context.Context, handle, code string) (bool, error)
	Get(ctx context.Context, handle string) (*verification.Session, error)
	Complete(ctx context.Context, handle string) error
}
