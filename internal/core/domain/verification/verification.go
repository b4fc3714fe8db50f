package verification

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Purpose scopes what a verification session may be used for.
type Purpose string

const (
	PurposeRegistration  Purpose = "registration"
	PurposePasswordReset Purpose = "password_reset"
)

func (p Purpose) String() string {
	return string(p)
}

func (p Purpose) IsValid() bool {
	switch p {
	case PurposeRegistration, PurposePasswordReset:
		return true
	default:
		return false
	}
}

// Status represents the state of a verification session
type Status string

const (
	StatusPending   Status = "pending"
	StatusVerified  Status = "verified"
	StatusExpired   Status = "expired"
	StatusLocked    Status = "locked"
	StatusCompleted Status = "completed"
)

func (s Status) String() string {
	return string(s)
}

// IsActive reports whether a session in this status can still be looked up by (email, purpose).
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusVerified
}

// IsTerminal reports whether Verify and Resend are refused in this status.
func (s Status) IsTerminal() bool {
	return s == StatusLocked || s == StatusCompleted
}

var (
	ErrSessionNotFound    = errors.New("verification session not found")
	ErrSessionLocked      = errors.New("verification session is locked")
	ErrAlreadyCompleted   = errors.New("verification session already completed")
	ErrResendLimitReached = errors.New("verification resend limit reached")
	ErrCooldownActive     = errors.New("verification resend cooldown active")
	ErrInvalidPurpose     = errors.New("invalid verification purpose")
	ErrConcurrentUpdate   = errors.New("verification session was modified concurrently")
	ErrDuplicateHandle    = errors.New("verification session handle already exists")
)

// Session is one verification attempt for an (email, purpose) pair.
// Code must never leave the service boundary; use View for responses.
type Session struct {
	ID            uuid.UUID `json:"id" db:"id"`
	SessionHandle string    `json:"session_handle" db:"session_handle"`
	Email         string    `json:"email" db:"email"`
	Code          string    `json:"code" db:"code"`
	ExpiresAt     time.Time `json:"expires_at" db:"expires_at"`
	Attempts      int       `json:"attempts" db:"attempts"`
	ResendCount   int       `json:"resend_count" db:"resend_count"`
	LastSentAt    time.Time `json:"last_sent_at" db:"last_sent_at"`
	Purpose       Purpose   `json:"purpose" db:"purpose"`
	Status        Status    `json:"status" db:"status"`
	Version       int64     `json:"version" db:"version"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// IsExpiredAt checks if the current code is no longer valid at now. The code is still
// valid at exactly ExpiresAt.
func (s *Session) IsExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// CooldownEndsAt returns the earliest instant a resend is accepted.
func (s *Session) CooldownEndsAt(cooldown time.Duration) time.Time {
	return s.LastSentAt.Add(cooldown)
}

// Clone returns an independent copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// View is the externally visible projection of a session. It never carries the code.
type View struct {
	SessionHandle string    `json:"session_handle"`
	Email         string    `json:"email"`
	Purpose       Purpose   `json:"purpose"`
	Status        Status    `json:"status"`
	ExpiresAt     time.Time `json:"expires_at"`
	Attempts      int       `json:"attempts"`
	ResendCount   int       `json:"resend_count"`
	LastSentAt    time.Time `json:"last_sent_at"`
}

func (s *Session) View() View {
	return View{
		SessionHandle: s.SessionHandle,
		Email:         s.Email,
		Purpose:       s.Purpose,
		Status:        s.Status,
		ExpiresAt:     s.ExpiresAt,
		Attempts:      s.Attempts,
		ResendCount:   s.ResendCount,
		LastSentAt:    s.LastSentAt,
	}
}

// StartRequest represents the request to start a verification session
type StartRequest struct {
	Email   string  `json:"email" validate:"required,email"`
	Purpose Purpose `json:"purpose" validate:"required"`
}

// VerifyRequest represents the request to redeem a code
type VerifyRequest struct {
	Code string `json:"code" validate:"required,numeric"`
}

// VerifyResponse reports the outcome of a code comparison
type VerifyResponse struct {
	Verified bool   `json:"verified"`
	Status   Status `json:"status"`
}
