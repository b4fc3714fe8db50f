package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/email-verification/internal/core/domain/verification"
	"github.com/avatarctic/email-verification/internal/core/ports"
)

const (
	// verificationKeyPrefix prefixes Redis keys for verification sessions.
	verificationKeyPrefix = "verify"
)

// VerificationRedisRepository stores sessions as JSON blobs. Each (purpose, email) pair keeps
// a sorted set of active handles scored by creation time.
type VerificationRedisRepository struct {
	redisClient *redis.Client
	retention   time.Duration
	logger      *logrus.Logger
}

// NewVerificationRedisRepository creates a Redis backed store. Keys expire after retention;
// zero keeps them forever.
func NewVerificationRedisRepository(redisClient *redis.Client, retention time.Duration, logger *logrus.Logger) *VerificationRedisRepository {
	return &VerificationRedisRepository{redisClient: redisClient, retention: retention, logger: logger}
}

// Ensure VerificationRedisRepository implements ports.VerificationStore
var _ ports.VerificationStore = (*VerificationRedisRepository)(nil)

func (r *VerificationRedisRepository) keyByHandle(handle string) string {
	return fmt.Sprintf("%s:session:%s", verificationKeyPrefix, handle)
}

func (r *VerificationRedisRepository) keyActive(email string, purpose verification.Purpose) string {
	return fmt.Sprintf("%s:active:%s:%s", verificationKeyPrefix, purpose, email)
}

func (r *VerificationRedisRepository) Create(ctx context.Context, s *verification.Session) (*verification.Session, error) {
	rec := *s
	rec.ID = uuid.New()
	rec.Version = 1
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	b, err := json.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal verification session: %w", err)
	}

	key := r.keyByHandle(rec.SessionHandle)
	ok, err := r.redisClient.SetNX(ctx, key, b, r.retention).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to store verification session in redis: %w", err)
	}
	if !ok {
		return nil, verification.ErrDuplicateHandle
	}

	pipe := r.redisClient.TxPipeline()
	r.index(ctx, pipe, &rec)
	if _, err := pipe.Exec(ctx); err != nil {
		// drop the blob so no unindexed session is left behind
		if delErr := r.redisClient.Del(context.WithoutCancel(ctx), key).Err(); delErr != nil && r.logger != nil {
			r.logger.WithFields(logrus.Fields{"session_id": rec.ID}).WithError(delErr).Error("redis: failed to remove unindexed verification session")
		}
		return nil, fmt.Errorf("failed to index verification session in redis: %w", err)
	}

	return &rec, nil
}

func (r *VerificationRedisRepository) Update(ctx context.Context, s *verification.Session) error {
	key := r.keyByHandle(s.SessionHandle)
	var newVersion int64

	err := r.redisClient.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := r.read(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur.ID != s.ID {
			return verification.ErrSessionNotFound
		}
		if cur.Version != s.Version {
			return verification.ErrConcurrentUpdate
		}

		rec := *s
		rec.Version = cur.Version + 1
		rec.CreatedAt = cur.CreatedAt
		b, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("failed to marshal verification session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, r.retention)
			r.index(ctx, pipe, &rec)
			return nil
		})
		if err != nil {
			return err
		}
		newVersion = rec.Version
		return nil
	}, key)

	switch {
	case err == nil:
		s.Version = newVersion
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return verification.ErrConcurrentUpdate
	case errors.Is(err, verification.ErrConcurrentUpdate), errors.Is(err, verification.ErrSessionNotFound):
		return err
	default:
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{"session_id": s.ID}).WithError(err).Error("redis: failed to update verification session")
		}
		return fmt.Errorf("failed to update verification session in redis: %w", err)
	}
}

func (r *VerificationRedisRepository) GetByHandle(ctx context.Context, handle string) (*verification.Session, error) {
	return r.read(ctx, r.redisClient, r.keyByHandle(handle))
}

func (r *VerificationRedisRepository) GetActiveFor(ctx context.Context, email string, purpose verification.Purpose) (*verification.Session, error) {
	handles, err := r.redisClient.ZRevRange(ctx, r.keyActive(email, purpose), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active verification sessions: %w", err)
	}

	// handles are newest first; a verified session wins over any pending one
	var pending *verification.Session
	for _, h := range handles {
		s, err := r.GetByHandle(ctx, h)
		if errors.Is(err, verification.ErrSessionNotFound) {
			// retention expired the blob before the index entry
			continue
		}
		if err != nil {
			return nil, err
		}
		switch {
		case s.Status == verification.StatusVerified:
			return s, nil
		case s.Status.IsActive() && pending == nil:
			pending = s
		}
	}
	if pending == nil {
		return nil, verification.ErrSessionNotFound
	}
	return pending, nil
}

// index keeps the active set in sync with the session status.
func (r *VerificationRedisRepository) index(ctx context.Context, pipe redis.Pipeliner, s *verification.Session) {
	key := r.keyActive(s.Email, s.Purpose)
	if s.Status.IsActive() {
		pipe.ZAdd(ctx, key, &redis.Z{Score: float64(s.CreatedAt.UnixMilli()), Member: s.SessionHandle})
		if r.retention > 0 {
			pipe.Expire(ctx, key, r.retention)
		}
		return
	}
	pipe.ZRem(ctx, key, s.SessionHandle)
}

// stringGetter is satisfied by both *redis.Client and *redis.Tx.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *VerificationRedisRepository) read(ctx context.Context, c stringGetter, key string) (*verification.Session, error) {
	b, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, verification.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get verification session from redis: %w", err)
	}

	var s verification.Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verification session: %w", err)
	}
	return &s, nil
}
