package remediation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/gve-sw/gve-devnet-meraki-mv-offline-debugger/internal/models"
)

// ErrNoSession reports that no remediation session exists for a camera.
var ErrNoSession = errors.New("no active session")

const sessionKeyPrefix = "mv:session:"

// SessionStore keeps remediation sessions in Redis, one key per camera
// serial. Creation uses SETNX so two concurrent down alerts can never spawn
// two sessions for the same camera.
type SessionStore struct {
	redisClient *redis.Client
	ttl         time.Duration
	logger      *zap.Logger
}

// NewSessionStore creates a session store. ttl bounds how long an orphaned
// session can linger if its deferred checks are lost.
func NewSessionStore(redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) *SessionStore {
	return &SessionStore{
		redisClient: redisClient,
		ttl:         ttl,
		logger:      logger,
	}
}

func sessionKey(serial string) string {
	return sessionKeyPrefix + serial
}

// Create stores a new session unless one already exists. Returns false when
// an active session coalesced the alert.
func (s *SessionStore) Create(ctx context.Context, session *models.Session) (bool, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return false, fmt.Errorf("failed to marshal session: %w", err)
	}
	created, err := s.redisClient.SetNX(ctx, sessionKey(session.CameraSerial), data, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to create session: %w", err)
	}
	return created, nil
}

// Get loads the active session for a camera.
func (s *SessionStore) Get(ctx context.Context, serial string) (*models.Session, error) {
	val, err := s.redisClient.Get(ctx, sessionKey(serial)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("%w: %s", ErrNoSession, serial)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	var session models.Session
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// Update overwrites the stored session, refreshing its TTL.
func (s *SessionStore) Update(ctx context.Context, session *models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.redisClient.Set(ctx, sessionKey(session.CameraSerial), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// Delete closes a session.
func (s *SessionStore) Delete(ctx context.Context, serial string) error {
	if err := s.redisClient.Del(ctx, sessionKey(serial)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
