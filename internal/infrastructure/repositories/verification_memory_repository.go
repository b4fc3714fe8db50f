package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avatarctic/email-verification/internal/core/domain/verification"
	"github.com/avatarctic/email-verification/internal/core/ports"
)

// VerificationMemoryRepository keeps sessions in process memory. Records are stored and
// returned by value so callers can only change state through Update.
type VerificationMemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]memoryRecord // handle -> record
	seq      uint64
}

// memoryRecord pairs a session with its insertion order, which breaks CreatedAt ties.
type memoryRecord struct {
	session verification.Session
	seq     uint64
}

func NewVerificationMemoryRepository() *VerificationMemoryRepository {
	return &VerificationMemoryRepository{sessions: make(map[string]memoryRecord)}
}

// Ensure VerificationMemoryRepository implements ports.VerificationStore
var _ ports.VerificationStore = (*VerificationMemoryRepository)(nil)

func (r *VerificationMemoryRepository) Create(ctx context.Context, s *verification.Session) (*verification.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.SessionHandle]; ok {
		return nil, verification.ErrDuplicateHandle
	}

	rec := *s
	rec.ID = uuid.New()
	rec.Version = 1
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	r.seq++
	r.sessions[rec.SessionHandle] = memoryRecord{session: rec, seq: r.seq}

	out := rec
	return &out, nil
}

func (r *VerificationMemoryRepository) Update(ctx context.Context, s *verification.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.sessions[s.SessionHandle]
	if !ok || stored.session.ID != s.ID {
		return verification.ErrSessionNotFound
	}
	if stored.session.Version != s.Version {
		return verification.ErrConcurrentUpdate
	}

	rec := *s
	rec.Version = stored.session.Version + 1
	rec.CreatedAt = stored.session.CreatedAt
	r.sessions[rec.SessionHandle] = memoryRecord{session: rec, seq: stored.seq}
	s.Version = rec.Version
	return nil
}

func (r *VerificationMemoryRepository) GetByHandle(ctx context.Context, handle string) (*verification.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.sessions[handle]
	if !ok {
		return nil, verification.ErrSessionNotFound
	}
	rec := stored.session
	return &rec, nil
}

func (r *VerificationMemoryRepository) GetActiveFor(ctx context.Context, email string, purpose verification.Purpose) (*verification.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var latest *memoryRecord
	for _, stored := range r.sessions {
		rec := stored.session
		if rec.Email != email || rec.Purpose != purpose || !rec.Status.IsActive() {
			continue
		}
		if latest == nil || moreRelevant(stored, *latest) {
			c := stored
			latest = &c
		}
	}
	if latest == nil {
		return nil, verification.ErrSessionNotFound
	}
	rec := latest.session
	return &rec, nil
}

// moreRelevant ranks verified before pending, then newest first.
func moreRelevant(a, b memoryRecord) bool {
	av, bv := a.session.Status == verification.StatusVerified, b.session.Status == verification.StatusVerified
	if av != bv {
		return av
	}
	if !a.session.CreatedAt.Equal(b.session.CreatedAt) {
		return a.session.CreatedAt.After(b.session.CreatedAt)
	}
	return a.seq > b.seq
}
