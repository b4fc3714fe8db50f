package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/avatarctic/email-verification/internal/core/domain/verification"
	"github.com/avatarctic/email-verification/internal/core/ports"
	"github.com/sirupsen/logrus"
)

const (
	// CodePlaceholder is replaced by the current code in email templates.
	CodePlaceholder = "{CODE}"
	// TTLPlaceholder is replaced by the code validity window in whole minutes.
	TTLPlaceholder = "{TTL_MINUTES}"

	maxUpdateRetries   = 10
	maxHandleRetries   = 3
	maxRegenerateTries = 5
)

// VerificationConfig groups the limits of the verification state machine.
type VerificationConfig struct {
	CodeLength     int
	CodeTTL        time.Duration
	MaxAttempts    int
	MaxResends     int
	ResendCooldown time.Duration
	Template       ports.EmailTemplate
}

// VerificationService implements ports.VerificationService.
type VerificationService struct {
	store      ports.VerificationStore
	dispatcher ports.EmailDispatcher
	codes      ports.CodeGenerator
	handles    ports.HandleGenerator
	clock      ports.Clock
	cfg        VerificationConfig
	logger     *logrus.Logger
}

// Ensure VerificationService implements ports.VerificationService
var _ ports.VerificationService = (*VerificationService)(nil)

// NewVerificationService wires the state machine. Nil generators and clock fall back to
// crypto/rand backed generators and the system clock.
func NewVerificationService(
	store ports.VerificationStore,
	dispatcher ports.EmailDispatcher,
	codes ports.CodeGenerator,
	handles ports.HandleGenerator,
	clock ports.Clock,
	cfg VerificationConfig,
	logger *logrus.Logger,
) *VerificationService {
	if codes == nil {
		codes = NewDigitCodeGenerator(nil)
	}
	if handles == nil {
		handles = NewRandomHandleGenerator(nil)
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = 6
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &VerificationService{
		store:      store,
		dispatcher: dispatcher,
		codes:      codes,
		handles:    handles,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Start issues a new code for (email, purpose) unless a verified session can be reused.
// When the email cannot be dispatched the stored session is returned together with the error
// so the caller can recover through Resend.
func (s *VerificationService) Start(ctx context.Context, email string, purpose verification.Purpose) (*verification.Session, error) {
	if !purpose.IsValid() {
		return nil, verification.ErrInvalidPurpose
	}

	active, err := s.store.GetActiveFor(ctx, email, purpose)
	if err != nil && !errors.Is(err, verification.ErrSessionNotFound) {
		return nil, fmt.Errorf("failed to look up active session: %w", err)
	}

	if active != nil {
		if active.Status == verification.StatusVerified {
			return active, nil
		}
		if active.IsExpiredAt(s.clock.Now()) {
			if err := s.expire(ctx, active.SessionHandle); err != nil {
				return nil, err
			}
		}
		// A live pending session does not block a new one, so several pending sessions may
		// exist for the same (email, purpose), e.g. one per device. Revisit if prior pending
		// sessions should be invalidated here instead.
	}

	session, err := s.create(ctx, email, purpose)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": session.ID,
		"purpose":    purpose,
	}).Info("verification session started")

	if err := s.dispatch(ctx, session); err != nil {
		return session, err
	}
	return session, nil
}

// Resend issues a fresh code for an existing session, reviving it if it had expired.
func (s *VerificationService) Resend(ctx context.Context, handle string) (*verification.Session, error) {
	session, err := s.mutate(ctx, handle, func(cur *verification.Session) (bool, error) {
		switch cur.Status {
		case verification.StatusLocked:
			return false, verification.ErrSessionLocked
		case verification.StatusCompleted:
			return false, verification.ErrAlreadyCompleted
		}
		if cur.ResendCount >= s.cfg.MaxResends {
			return false, verification.ErrResendLimitReached
		}
		now := s.clock.Now()
		if cur.CooldownEndsAt(s.cfg.ResendCooldown).After(now) {
			return false, verification.ErrCooldownActive
		}

		code, err := s.freshCode(cur.Code)
		if err != nil {
			return false, err
		}
		cur.Code = code
		cur.ExpiresAt = now.Add(s.cfg.CodeTTL)
		cur.ResendCount++
		cur.Attempts = 0
		cur.LastSentAt = now
		cur.Status = verification.StatusPending
		cur.UpdatedAt = now
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"session_id":   session.ID,
		"resend_count": session.ResendCount,
	}).Info("verification code reissued")

	if err := s.dispatch(ctx, session); err != nil {
		return session, err
	}
	return session, nil
}

// Verify compares code against the session's current code. Only infrastructure failures are
// returned as errors; every business outcome is reported through the boolean.
func (s *VerificationService) Verify(ctx context.Context, handle, code string) (bool, error) {
	matched := false
	session, err := s.mutate(ctx, handle, func(cur *verification.Session) (bool, error) {
		matched = false
		// a verified session has already redeemed its code; only Resend issues a new one
		if cur.Status.IsTerminal() || cur.Status == verification.StatusVerified {
			return false, nil
		}
		now := s.clock.Now()
		if cur.Status == verification.StatusExpired || cur.IsExpiredAt(now) {
			if cur.Status == verification.StatusExpired {
				return false, nil
			}
			cur.Status = verification.StatusExpired
			cur.UpdatedAt = now
			return true, nil
		}
		if subtle.ConstantTimeCompare([]byte(code), []byte(cur.Code)) == 1 {
			matched = true
			cur.Status = verification.StatusVerified
			cur.UpdatedAt = now
			return true, nil
		}
		cur.Attempts++
		if cur.Attempts >= s.cfg.MaxAttempts {
			cur.Status = verification.StatusLocked
		}
		cur.UpdatedAt = now
		return true, nil
	})
	if errors.Is(err, verification.ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	fields := logrus.Fields{"session_id": session.ID, "status": session.Status, "attempts": session.Attempts}
	if session.Status == verification.StatusLocked {
		s.logger.WithFields(fields).Warn("verification session locked")
	} else {
		s.logger.WithFields(fields).Debug("verification attempt")
	}
	return matched, nil
}

// Get returns the session without side effects.
func (s *VerificationService) Get(ctx context.Context, handle string) (*verification.Session, error) {
	return s.store.GetByHandle(ctx, handle)
}

// Complete marks a session as consumed. Unknown handles are ignored.
func (s *VerificationService) Complete(ctx context.Context, handle string) error {
	_, err := s.mutate(ctx, handle, func(cur *verification.Session) (bool, error) {
		if cur.Status == verification.StatusCompleted {
			return false, nil
		}
		cur.Status = verification.StatusCompleted
		cur.UpdatedAt = s.clock.Now()
		return true, nil
	})
	if errors.Is(err, verification.ErrSessionNotFound) {
		return nil
	}
	return err
}

// mutate runs a read-modify-write against one session, re-reading and re-applying fn when
// the store reports a concurrent update. fn returns false when nothing needs persisting.
func (s *VerificationService) mutate(ctx context.Context, handle string, fn func(*verification.Session) (bool, error)) (*verification.Session, error) {
	for i := 0; i < maxUpdateRetries; i++ {
		cur, err := s.store.GetByHandle(ctx, handle)
		if err != nil {
			if errors.Is(err, verification.ErrSessionNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to get verification session: %w", err)
		}

		changed, err := fn(cur)
		if err != nil {
			return cur, err
		}
		if !changed {
			return cur, nil
		}

		err = s.store.Update(ctx, cur)
		if errors.Is(err, verification.ErrConcurrentUpdate) {
			s.logger.WithFields(logrus.Fields{"session_id": cur.ID, "retry": i + 1}).Debug("verification session update conflict")
			continue
		}
		if err != nil {
			if errors.Is(err, verification.ErrSessionNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to update verification session: %w", err)
		}
		return cur, nil
	}
	return nil, fmt.Errorf("failed to update verification session after %d attempts: %w", maxUpdateRetries, verification.ErrConcurrentUpdate)
}

func (s *VerificationService) expire(ctx context.Context, handle string) error {
	_, err := s.mutate(ctx, handle, func(cur *verification.Session) (bool, error) {
		now := s.clock.Now()
		if cur.Status != verification.StatusPending || !cur.IsExpiredAt(now) {
			return false, nil
		}
		cur.Status = verification.StatusExpired
		cur.UpdatedAt = now
		return true, nil
	})
	if err != nil && !errors.Is(err, verification.ErrSessionNotFound) {
		return fmt.Errorf("failed to expire stale session: %w", err)
	}
	return nil
}

func (s *VerificationService) create(ctx context.Context, email string, purpose verification.Purpose) (*verification.Session, error) {
	code, err := s.codes.Generate(s.cfg.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}

	for i := 0; i < maxHandleRetries; i++ {
		handle, err := s.handles.NewHandle()
		if err != nil {
			return nil, fmt.Errorf("failed to generate session handle: %w", err)
		}

		now := s.clock.Now()
		stored, err := s.store.Create(ctx, &verification.Session{
			SessionHandle: handle,
			Email:         email,
			Code:          code,
			ExpiresAt:     now.Add(s.cfg.CodeTTL),
			Attempts:      0,
			ResendCount:   0,
			LastSentAt:    now,
			Purpose:       purpose,
			Status:        verification.StatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
		if errors.Is(err, verification.ErrDuplicateHandle) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to save verification session: %w", err)
		}
		return stored, nil
	}
	return nil, fmt.Errorf("failed to allocate session handle: %w", verification.ErrDuplicateHandle)
}

// freshCode generates a code that differs from prev.
func (s *VerificationService) freshCode(prev string) (string, error) {
	var code string
	for i := 0; i < maxRegenerateTries; i++ {
		c, err := s.codes.Generate(s.cfg.CodeLength)
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		code = c
		if code != prev {
			break
		}
	}
	return code, nil
}

func (s *VerificationService) dispatch(ctx context.Context, session *verification.Session) error {
	r := strings.NewReplacer(
		CodePlaceholder, session.Code,
		TTLPlaceholder, strconv.Itoa(int(s.cfg.CodeTTL/time.Minute)),
	)
	subject := r.Replace(s.cfg.Template.Subject)
	body := r.Replace(s.cfg.Template.Body)

	if err := s.dispatcher.Send(ctx, session.Email, subject, body); err != nil {
		s.logger.WithFields(logrus.Fields{
			"session_id": session.ID,
			"purpose":    session.Purpose,
		}).WithError(err).Warn("failed to send verification email")
		return fmt.Errorf("failed to send verification email: %w", err)
	}
	return nil
}
