package storage

import (
	"context"
	"errors"
	"time"

	"github.com/org/sharebox/pkg/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when trying to create a resource that already exists.
var ErrAlreadyExists = errors.New("already exists")

// Backend defines the persistence interface for accounts, sessions and the
// audit trail. Folder permissions are not stored here; they live in the
// permission document.
type Backend interface {
	// Users
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, username string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	// UpdateUser replaces the user stored under username. user.Username may
	// differ from username to rename the account.
	UpdateUser(ctx context.Context, username string, user *models.User) error
	DeleteUser(ctx context.Context, username string) error

	// Groups
	ListGroups(ctx context.Context) ([]string, error)
	AddGroup(ctx context.Context, name string) error
	DeleteGroup(ctx context.Context, name string) error

	// Sessions
	WriteSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, tokenHash string) (*models.Session, error)
	DeleteSession(ctx context.Context, tokenHash string) error
	DeleteUserSessions(ctx context.Context, username string) error
	PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	// Audit
	WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error)

	// Metrics helpers
	CountUsers(ctx context.Context) (int64, error)
	CountActiveSessions(ctx context.Context) (int64, error)

	// Lifecycle
	Close()
}

// AuditFilter specifies query parameters for audit log retrieval.
type AuditFilter struct {
	Path     string
	Username string
	Since    *time.Time
	Limit    int
	Offset   int
}

func (f AuditFilter) matches(e *models.AuditEntry) bool {
	if f.Path != "" && !hasPrefix(e.Path, f.Path) {
		return false
	}
	if f.Username != "" && e.Username != f.Username {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	return true
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
