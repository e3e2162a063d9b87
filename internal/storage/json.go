package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/org/sharebox/pkg/models"
)

// File names of the JSON documents in the state directory.
const (
	UsersFile  = "users.json"
	GroupsFile = "groups.json"
)

// DefaultAuditCapacity is the number of audit entries the JSON backend keeps.
const DefaultAuditCapacity = 10000

// JSONBackend keeps users and groups as JSON documents in a state
// directory. Sessions and the audit trail are held in memory only.
type JSONBackend struct {
	fs  afero.Fs
	dir string

	mu       sync.RWMutex
	users    []*models.User
	groups   []string
	sessions map[string]*models.Session

	audit    []*models.AuditEntry
	auditCap int
	auditSeq int64
}

// NewJSONBackend loads users.json and groups.json from dir. Missing
// documents start empty; unreadable ones are an error.
func NewJSONBackend(fsys afero.Fs, dir string, auditCap int) (*JSONBackend, error) {
	if auditCap <= 0 {
		auditCap = DefaultAuditCapacity
	}
	b := &JSONBackend{
		fs:       fsys,
		dir:      dir,
		sessions: map[string]*models.Session{},
		auditCap: auditCap,
	}
	if err := b.readJSON(UsersFile, &b.users); err != nil {
		return nil, err
	}
	var doc struct {
		Groups []string `json:"groups"`
	}
	if err := b.readJSON(GroupsFile, &doc); err != nil {
		return nil, err
	}
	b.groups = doc.Groups
	log.Debug().Str("dir", dir).Int("users", len(b.users)).Int("groups", len(b.groups)).Msg("json storage loaded")
	return b, nil
}

func (b *JSONBackend) readJSON(name string, dst any) error {
	data, err := afero.ReadFile(b.fs, path.Join(b.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", name, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	return nil
}

// writeJSON replaces a document through a temp file and rename.
func (b *JSONBackend) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if err := b.fs.MkdirAll(b.dir, 0o755); err != nil {
		return err
	}
	tmp, err := afero.TempFile(b.fs, b.dir, "."+name+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = b.fs.Rename(tmpName, path.Join(b.dir, name))
	}
	if err != nil {
		b.fs.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

func (b *JSONBackend) saveUsers() error {
	users := b.users
	if users == nil {
		users = []*models.User{}
	}
	return b.writeJSON(UsersFile, users)
}

func (b *JSONBackend) saveGroups() error {
	groups := b.groups
	if groups == nil {
		groups = []string{}
	}
	return b.writeJSON(GroupsFile, map[string][]string{"groups": groups})
}

func (b *JSONBackend) Close() {}

// --- Users ---

func (b *JSONBackend) findUser(username string) int {
	for i, u := range b.users {
		if u.Username == username {
			return i
		}
	}
	return -1
}

func (b *JSONBackend) CreateUser(ctx context.Context, user *models.User) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.findUser(user.Username) >= 0 {
		return ErrAlreadyExists
	}
	cp := *user
	b.users = append(b.users, &cp)
	if err := b.saveUsers(); err != nil {
		b.users = b.users[:len(b.users)-1]
		return err
	}
	return nil
}

func (b *JSONBackend) GetUser(ctx context.Context, username string) (*models.User, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	i := b.findUser(username)
	if i < 0 {
		return nil, ErrNotFound
	}
	cp := *b.users[i]
	return &cp, nil
}

func (b *JSONBackend) ListUsers(ctx context.Context) ([]*models.User, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*models.User, 0, len(b.users))
	for _, u := range b.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (b *JSONBackend) UpdateUser(ctx context.Context, username string, user *models.User) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.findUser(username)
	if i < 0 {
		return ErrNotFound
	}
	if user.Username != username && b.findUser(user.Username) >= 0 {
		return ErrAlreadyExists
	}
	prev := b.users[i]
	cp := *user
	b.users[i] = &cp
	if err := b.saveUsers(); err != nil {
		b.users[i] = prev
		return err
	}
	return nil
}

func (b *JSONBackend) DeleteUser(ctx context.Context, username string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.findUser(username)
	if i < 0 {
		return ErrNotFound
	}
	prev := b.users
	b.users = append(append([]*models.User{}, b.users[:i]...), b.users[i+1:]...)
	if err := b.saveUsers(); err != nil {
		b.users = prev
		return err
	}
	return nil
}

// --- Groups ---

func (b *JSONBackend) ListGroups(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string{}, b.groups...), nil
}

func (b *JSONBackend) AddGroup(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, g := range b.groups {
		if g == name {
			return ErrAlreadyExists
		}
	}
	b.groups = append(b.groups, name)
	if err := b.saveGroups(); err != nil {
		b.groups = b.groups[:len(b.groups)-1]
		return err
	}
	return nil
}

func (b *JSONBackend) DeleteGroup(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := make([]string, 0, len(b.groups))
	for _, g := range b.groups {
		if g != name {
			kept = append(kept, g)
		}
	}
	if len(kept) == len(b.groups) {
		return ErrNotFound
	}
	prev := b.groups
	b.groups = kept
	if err := b.saveGroups(); err != nil {
		b.groups = prev
		return err
	}
	return nil
}

// --- Sessions ---

func (b *JSONBackend) WriteSession(ctx context.Context, s *models.Session) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := *s
	b.sessions[s.TokenHash] = &cp
	return nil
}

func (b *JSONBackend) GetSession(ctx context.Context, tokenHash string) (*models.Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[tokenHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (b *JSONBackend) DeleteSession(ctx context.Context, tokenHash string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, tokenHash)
	return nil
}

func (b *JSONBackend) DeleteUserSessions(ctx context.Context, username string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for h, s := range b.sessions {
		if s.Username == username {
			delete(b.sessions, h)
		}
	}
	return nil
}

func (b *JSONBackend) PurgeExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int64
	for h, s := range b.sessions {
		if !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt) {
			delete(b.sessions, h)
			n++
		}
	}
	return n, nil
}

// --- Audit ---

func (b *JSONBackend) WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.auditSeq++
	cp := *entry
	cp.ID = b.auditSeq
	b.audit = append(b.audit, &cp)
	if over := len(b.audit) - b.auditCap; over > 0 {
		b.audit = append([]*models.AuditEntry{}, b.audit[over:]...)
	}
	return nil
}

// QueryAuditLog returns matching entries newest first.
func (b *JSONBackend) QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*models.AuditEntry
	skipped := 0
	for i := len(b.audit) - 1; i >= 0; i-- {
		e := b.audit[i]
		if !filter.matches(e) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		cp := *e
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// --- Metrics helpers ---

func (b *JSONBackend) CountUsers(ctx context.Context) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int64(len(b.users)), nil
}

func (b *JSONBackend) CountActiveSessions(ctx context.Context) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var n int64
	now := time.Now()
	for _, s := range b.sessions {
		if s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt) {
			n++
		}
	}
	return n, nil
}
