package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/org/sharebox/internal/storage"
	"github.com/org/sharebox/pkg/models"
)

var (
	// ErrInvalidCredentials is returned when a login does not match.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrInvalidInput is returned for malformed account data.
	ErrInvalidInput = errors.New("invalid input")
)

// dummyHash keeps failed logins for unknown users as slow as for known ones.
var dummyHash, _ = HashPassword("sharebox-dummy-password")

// UserService manages accounts.
type UserService struct {
	store storage.Backend
}

// NewUserService creates a UserService backed by the given storage.
func NewUserService(store storage.Backend) *UserService {
	return &UserService{store: store}
}

// Authenticate checks a username and password.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	u, err := s.store.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			CheckPassword(dummyHash, password)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !CheckPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// EnsureDefaultAdmin creates an admin account in the Admin group when no
// account named username exists yet. It reports whether one was created.
func (s *UserService) EnsureDefaultAdmin(ctx context.Context, username, password string) (bool, error) {
	_, err := s.store.GetUser(ctx, username)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}
	if _, err := s.Create(ctx, username, password, models.RoleAdmin, models.GroupAdmin); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return false, nil
		}
		return false, err
	}
	log.Warn().Str("username", username).Msg("created default admin account, change its password")
	return true, nil
}

func validUsername(name string) bool {
	return name != "" && name == strings.TrimSpace(name) && !strings.ContainsAny(name, "/\\\x00")
}

func validRole(role string) bool {
	return role == models.RoleAdmin || role == models.RoleUser
}

// Create adds an account.
func (s *UserService) Create(ctx context.Context, username, password, role, group string) (*models.User, error) {
	if !validUsername(username) {
		return nil, fmt.Errorf("%w: bad username", ErrInvalidInput)
	}
	if password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	if role == "" {
		role = models.RoleUser
	}
	if !validRole(role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	u := &models.User{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		Group:        strings.TrimSpace(group),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Get returns one account.
func (s *UserService) Get(ctx context.Context, username string) (*models.User, error) {
	return s.store.GetUser(ctx, username)
}

// List returns every account.
func (s *UserService) List(ctx context.Context) ([]*models.User, error) {
	return s.store.ListUsers(ctx)
}

// UserUpdate holds optional changes to an account. Empty fields are left
// unchanged.
type UserUpdate struct {
	NewUsername string
	NewPassword string
	Role        string
}

// Update applies upd to username and returns the stored account.
func (s *UserService) Update(ctx context.Context, username string, upd UserUpdate) (*models.User, error) {
	u, err := s.store.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if upd.NewUsername != "" {
		if !validUsername(upd.NewUsername) {
			return nil, fmt.Errorf("%w: bad username", ErrInvalidInput)
		}
		u.Username = upd.NewUsername
	}
	if upd.NewPassword != "" {
		hash, err := HashPassword(upd.NewPassword)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		u.PasswordHash = hash
	}
	if upd.Role != "" {
		if !validRole(upd.Role) {
			return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, upd.Role)
		}
		u.Role = upd.Role
	}
	if err := s.store.UpdateUser(ctx, username, u); err != nil {
		return nil, err
	}
	return u, nil
}

// SetGroup assigns the account's access group. An empty group removes it.
func (s *UserService) SetGroup(ctx context.Context, username, group string) (*models.User, error) {
	u, err := s.store.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	u.Group = strings.TrimSpace(group)
	if err := s.store.UpdateUser(ctx, username, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Delete removes an account.
func (s *UserService) Delete(ctx context.Context, username string) error {
	return s.store.DeleteUser(ctx, username)
}
