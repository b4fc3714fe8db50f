package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/email-verification/internal/core/domain/verification"
	"github.com/avatarctic/email-verification/internal/core/ports"
	"github.com/avatarctic/email-verification/internal/infrastructure/db"
)

const pgUniqueViolation = "23505"

const sessionColumns = `id, session_handle, email, code, expires_at, attempts, resend_count,
		last_sent_at, purpose, status, version, created_at, updated_at`

// VerificationDBRepository stores sessions in the verification_sessions table.
// Updates are guarded by the version column.
type VerificationDBRepository struct {
	db     *db.Database
	logger *logrus.Logger
}

// NewVerificationDBRepository creates a new Postgres backed verification store
func NewVerificationDBRepository(database *db.Database, logger *logrus.Logger) *VerificationDBRepository {
	return &VerificationDBRepository{db: database, logger: logger}
}

// Ensure VerificationDBRepository implements ports.VerificationStore
var _ ports.VerificationStore = (*VerificationDBRepository)(nil)

// Create inserts a new session and assigns its identity
func (r *VerificationDBRepository) Create(ctx context.Context, s *verification.Session) (*verification.Session, error) {
	rec := *s
	rec.ID = uuid.New()
	rec.Version = 1
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	query := `
		INSERT INTO verification_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.DB.ExecContext(ctx, query,
		rec.ID, rec.SessionHandle, rec.Email, rec.Code, rec.ExpiresAt, rec.Attempts, rec.ResendCount,
		rec.LastSentAt, rec.Purpose, rec.Status, rec.Version, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return nil, verification.ErrDuplicateHandle
		}
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"session_id": rec.ID}).WithError(err).Error("db: failed to create verification session")
		}
		return nil, fmt.Errorf("failed to create verification session: %w", err)
	}

	return &rec, nil
}

// Update writes the mutable fields if the stored version still matches s.Version
func (r *VerificationDBRepository) Update(ctx context.Context, s *verification.Session) error {
	query := `
		UPDATE verification_sessions
		SET code = $3, expires_at = $4, attempts = $5, resend_count = $6, last_sent_at = $7,
			status = $8, updated_at = $9, version = version + 1
		WHERE id = $1 AND version = $2`

	result, err := r.db.DB.ExecContext(ctx, query,
		s.ID, s.Version, s.Code, s.ExpiresAt, s.Attempts, s.ResendCount, s.LastSentAt, s.Status, s.UpdatedAt)
	if err != nil {
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"session_id": s.ID}).WithError(err).Error("db: failed to update verification session")
		}
		return fmt.Errorf("failed to update verification session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		var exists bool
		if err := r.db.DB.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM verification_sessions WHERE id = $1)`, s.ID); err != nil {
			return fmt.Errorf("failed to check verification session: %w", err)
		}
		if !exists {
			return verification.ErrSessionNotFound
		}
		return verification.ErrConcurrentUpdate
	}

	s.Version++
	return nil
}

// GetByHandle retrieves a session by its handle
func (r *VerificationDBRepository) GetByHandle(ctx context.Context, handle string) (*verification.Session, error) {
	var s verification.Session
	query := `SELECT ` + sessionColumns + ` FROM verification_sessions WHERE session_handle = $1`

	if err := r.db.DB.GetContext(ctx, &s, query, handle); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, verification.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get verification session: %w", err)
	}

	return &s, nil
}

// GetActiveFor retrieves the most relevant active session for (email, purpose): a verified
// session wins over pending ones, then the newest
func (r *VerificationDBRepository) GetActiveFor(ctx context.Context, email string, purpose verification.Purpose) (*verification.Session, error) {
	var s verification.Session
	query := `
		SELECT ` + sessionColumns + `
		FROM verification_sessions
		WHERE email = $1 AND purpose = $2 AND status IN ($3, $4)
		ORDER BY (status = $4) DESC, created_at DESC
		LIMIT 1`

	err := r.db.DB.GetContext(ctx, &s, query, email, purpose, verification.StatusPending, verification.StatusVerified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, verification.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get active verification session: %w", err)
	}

	return &s, nil
}
