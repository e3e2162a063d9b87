// Package permission owns the folder permission model: the path -> groups
// mapping, its persisted JSON document and the reconciliation pass that
// backfills entries for paths found on disk.
package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/org/sharebox/pkg/models"
)

// DocumentName is the file name of the persisted mapping in the state dir.
const DocumentName = "folderPermissions.json"

// Store is the single owner of the permission mapping for a process.
// Mutations run one at a time inside a critical section and are persisted
// before they become visible; readers use Snapshot without locking.
type Store struct {
	fs   afero.Fs
	path string

	mu   sync.Mutex
	snap atomic.Pointer[Mapping]
}

// NewStore creates a Store persisting to docPath on fsys. The in-memory
// mapping starts empty until Load or Reconcile runs.
func NewStore(fsys afero.Fs, docPath string) *Store {
	s := &Store{fs: fsys, path: docPath}
	s.snap.Store(NewMapping())
	return s
}

// Path returns the location of the persisted document.
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns the current mapping. It must not be modified.
func (s *Store) Snapshot() *Mapping {
	return s.snap.Load()
}

// Load reads the persisted document and makes it current. A missing or
// malformed document yields an empty mapping, not an error.
func (s *Store) Load(ctx context.Context) (*Mapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.read()
	if err != nil {
		return nil, err
	}
	s.snap.Store(m)
	return m, nil
}

func (s *Store) read() (*Mapping, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Debug().Str("file", s.path).Msg("no permission document yet")
			return NewMapping(), nil
		}
		return nil, fmt.Errorf("reading permission document: %w", err)
	}
	m, dropped, err := decodeDocument(data)
	if err != nil {
		log.Warn().Err(err).Str("file", s.path).Msg("permission document is malformed, starting empty")
		return NewMapping(), nil
	}
	for _, key := range dropped {
		log.Warn().Str("key", key).Msg("dropping unusable permission entry")
	}
	return m, nil
}

// Save persists m and makes it current.
func (s *Store) Save(ctx context.Context, m *Mapping) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := m.Copy()
	if err := s.write(next); err != nil {
		return err
	}
	s.snap.Store(next)
	return nil
}

// write replaces the document through a temp file in the same directory so
// a crash leaves either the old or the new document.
func (s *Store) write(m *Mapping) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding permissions: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	tmp, err := afero.TempFile(s.fs, dir, ".permissions-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("writing permissions: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("syncing permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("closing permissions: %w", err)
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		s.fs.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("replacing permission document: %w", err)
	}
	return nil
}

// Update applies fn to a private copy of the current mapping inside the
// store's critical section, persists the result and publishes it. If fn
// fails nothing changes.
func (s *Store) Update(ctx context.Context, fn func(m *Mapping) error) (*Mapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snap.Load().Copy()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := s.write(next); err != nil {
		return nil, err
	}
	s.snap.Store(next)
	return next, nil
}

func entryKey(p string) (string, error) {
	key, err := Normalize(p)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", fmt.Errorf("%w: the root has no permission entry", ErrInvalidPath)
	}
	return key, nil
}

// Grant adds groups to the entry for p. A path without an entry starts from
// {"Default"}, so granting to a fresh path keeps it public until "Default"
// is revoked. The result is independent of call order.
func (s *Store) Grant(ctx context.Context, p string, groups ...string) (GroupSet, error) {
	key, err := entryKey(p)
	if err != nil {
		return nil, err
	}
	var out GroupSet
	_, err = s.Update(ctx, func(m *Mapping) error {
		cur, ok := m.Lookup(key)
		if !ok {
			cur = GroupSet{models.GroupDefault}
		}
		out = cur.Union(groups...)
		m.Set(key, out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Revoke removes group from the entry for p. A path without an entry first
// receives its implicit {"Default"}. Removing the last group leaves an empty
// entry, which only Admin members can see.
func (s *Store) Revoke(ctx context.Context, p string, group string) (GroupSet, error) {
	key, err := entryKey(p)
	if err != nil {
		return nil, err
	}
	var out GroupSet
	_, err = s.Update(ctx, func(m *Mapping) error {
		out = m.Allowed(key).Without(group)
		m.Set(key, out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Replace sets the entry for p to exactly groups.
func (s *Store) Replace(ctx context.Context, p string, groups ...string) (GroupSet, error) {
	key, err := entryKey(p)
	if err != nil {
		return nil, err
	}
	out := NewGroupSet(groups...)
	if _, err := s.Update(ctx, func(m *Mapping) error {
		m.Set(key, out)
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// Remove deletes the entry for p and, when recursive, every entry below it.
// It returns the number of entries removed.
func (s *Store) Remove(ctx context.Context, p string, recursive bool) (int, error) {
	key, err := entryKey(p)
	if err != nil {
		return 0, err
	}
	var n int
	_, err = s.Update(ctx, func(m *Mapping) error {
		if !recursive {
			if m.Delete(key) {
				n = 1
			}
			return nil
		}
		var doomed []string
		m.ScanSubtree(key, func(k string, _ GroupSet) bool {
			doomed = append(doomed, k)
			return true
		})
		for _, k := range doomed {
			m.Delete(k)
		}
		n = len(doomed)
		return nil
	})
	return n, err
}

// Move re-keys the entry for from and everything below it under to,
// overwriting entries already present there. It returns the number of
// entries moved.
func (s *Store) Move(ctx context.Context, from, to string) (int, error) {
	src, err := entryKey(from)
	if err != nil {
		return 0, err
	}
	dst, err := entryKey(to)
	if err != nil {
		return 0, err
	}
	if within(dst, src) {
		return 0, fmt.Errorf("%w: cannot move %q into itself", ErrInvalidPath, src)
	}
	var n int
	_, err = s.Update(ctx, func(m *Mapping) error {
		type kv struct {
			key    string
			groups GroupSet
		}
		var moved []kv
		m.ScanSubtree(src, func(k string, g GroupSet) bool {
			moved = append(moved, kv{k, g})
			return true
		})
		for _, e := range moved {
			m.Delete(e.key)
		}
		for _, e := range moved {
			m.Set(dst+e.key[len(src):], e.groups)
		}
		n = len(moved)
		return nil
	})
	return n, err
}
