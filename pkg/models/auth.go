package models

import "time"

// Role values gate the admin panel. They are independent of folder access,
// which is decided by User.Group alone.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Reserved access groups.
const (
	// GroupDefault on a permission entry makes the path visible to everyone.
	GroupDefault = "Default"
	// GroupAdmin membership bypasses every folder restriction.
	GroupAdmin = "Admin"
)

// User is an account allowed to sign in.
type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"passwordHash"`
	Role         string    `json:"role"`
	Group        string    `json:"group,omitempty"`
	CreatedAt    time.Time `json:"createdAt,omitempty"`
}

// IsAdmin returns true if the user may use the admin API.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Groups returns the user's access groups as a slice. Users belong to at
// most one group; an ungrouped user gets an empty slice.
func (u *User) Groups() []string {
	if u.Group == "" {
		return []string{}
	}
	return []string{u.Group}
}

// Session is a server-side login session. The plaintext token lives only in
// the client's cookie; TokenHash is its SHA-256.
type Session struct {
	ID        string
	TokenHash string
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired returns true if the session has passed its expiry time.
func (s *Session) IsExpired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}
