package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/org/sharebox/internal/storage"
	"github.com/org/sharebox/pkg/models"
)

const tokenPrefix = "sbx_"

// DefaultSessionTTL is how long a login lasts.
const DefaultSessionTTL = 24 * time.Hour

// ErrInvalidSession is returned for unknown or expired session tokens.
var ErrInvalidSession = errors.New("invalid or expired session")

// SessionService issues and validates login sessions. Only the SHA-256 of a
// session token is stored.
type SessionService struct {
	store storage.Backend
	ttl   time.Duration
}

// NewSessionService creates a SessionService backed by the given storage.
func NewSessionService(store storage.Backend, ttl time.Duration) *SessionService {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionService{store: store, ttl: ttl}
}

// TTL returns the session lifetime.
func (s *SessionService) TTL() time.Duration {
	return s.ttl
}

// Create starts a session for username. It returns the session and the
// plaintext token, which is handed to the client once.
func (s *SessionService) Create(ctx context.Context, username string) (*models.Session, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("generating token: %w", err)
	}
	plaintext := tokenPrefix + base64.RawURLEncoding.EncodeToString(raw)

	now := time.Now().UTC()
	sess := &models.Session{
		ID:        uuid.NewString(),
		TokenHash: HashToken(plaintext),
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.WriteSession(ctx, sess); err != nil {
		return nil, "", fmt.Errorf("persisting session: %w", err)
	}
	return sess, plaintext, nil
}

// Validate looks up a session by its plaintext token. Expired sessions are
// deleted on sight.
func (s *SessionService) Validate(ctx context.Context, plaintext string) (*models.Session, error) {
	if plaintext == "" {
		return nil, ErrInvalidSession
	}
	hash := HashToken(plaintext)
	sess, err := s.store.GetSession(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	if sess.IsExpired() {
		s.store.DeleteSession(ctx, hash) //nolint:errcheck
		return nil, ErrInvalidSession
	}
	return sess, nil
}

// Revoke ends the session identified by plaintext.
func (s *SessionService) Revoke(ctx context.Context, plaintext string) error {
	return s.store.DeleteSession(ctx, HashToken(plaintext))
}

// RevokeUser ends every session of username.
func (s *SessionService) RevokeUser(ctx context.Context, username string) error {
	return s.store.DeleteUserSessions(ctx, username)
}

// Purge drops expired sessions and returns how many were removed.
func (s *SessionService) Purge(ctx context.Context) (int64, error) {
	return s.store.PurgeExpiredSessions(ctx, time.Now().UTC())
}

// HashToken returns the SHA-256 hex hash of a plaintext token.
func HashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}
