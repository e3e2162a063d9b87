// Package files performs structural changes to the managed root and keeps
// the permission store in step with them.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/org/sharebox/internal/permission"
	"github.com/org/sharebox/internal/tree"
)

var (
	// ErrAlreadyExists is returned when the target of a create or rename is taken.
	ErrAlreadyExists = errors.New("files: already exists")
	// ErrIsDirectory is returned when a file was expected.
	ErrIsDirectory = errors.New("files: is a directory")
	// ErrNotImage is returned for thumbnails of non-image files.
	ErrNotImage = errors.New("files: not an image")
)

// Manager mutates the managed root. root must be rooted at the managed
// directory; state holds the thumbnail cache.
type Manager struct {
	root  afero.Fs
	state afero.Fs
	perms *permission.Store
	opts  Options
}

// Options configures a Manager.
type Options struct {
	Tree tree.Options
	// ThumbDir is the thumbnail cache directory on the state filesystem.
	ThumbDir string
	// ThumbSize is the longest edge of generated thumbnails.
	ThumbSize int
}

// NewManager creates a Manager.
func NewManager(root, state afero.Fs, perms *permission.Store, opts Options) *Manager {
	if opts.ThumbSize <= 0 {
		opts.ThumbSize = defaultThumbSize
	}
	return &Manager{root: root, state: state, perms: perms, opts: opts}
}

func entryKey(p string) (string, error) {
	key, err := permission.Normalize(p)
	if err != nil {
		return "", err
	}
	if key == "" {
		return "", fmt.Errorf("%w: the root cannot be changed", permission.ErrInvalidPath)
	}
	return key, nil
}

func (m *Manager) exists(rel string) (bool, error) {
	_, err := m.root.Stat(tree.FSPath(rel))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Mkdir creates name inside parent. With no groups the new folder gets the
// implicit {"Default"} entry; otherwise its entry is exactly groups.
func (m *Manager) Mkdir(ctx context.Context, parent, name string, groups []string) (string, error) {
	dir, err := permission.Normalize(parent)
	if err != nil {
		return "", err
	}
	key, err := permission.Join(dir, name)
	if err != nil {
		return "", err
	}
	if _, err := tree.StatDir(m.root, dir, m.opts.Tree); err != nil {
		return "", err
	}
	taken, err := m.exists(key)
	if err != nil {
		return "", err
	}
	if taken {
		return "", fmt.Errorf("%q: %w", key, ErrAlreadyExists)
	}
	if err := m.root.Mkdir(tree.FSPath(key), 0o755); err != nil {
		return "", fmt.Errorf("creating folder: %w", err)
	}

	if len(groups) > 0 {
		_, err = m.perms.Replace(ctx, key, groups...)
	} else {
		_, err = m.perms.Grant(ctx, key)
	}
	if err != nil {
		return "", fmt.Errorf("recording permissions for %q: %w", key, err)
	}
	log.Info().Str("path", key).Strs("groups", groups).Msg("folder created")
	return key, nil
}

// Rename gives p a new name within the same parent. Permission entries for
// p and everything below it follow the rename.
func (m *Manager) Rename(ctx context.Context, p, newName string) (string, error) {
	key, err := entryKey(p)
	if err != nil {
		return "", err
	}
	dst, err := permission.Join(permission.Parent(key), newName)
	if err != nil {
		return "", err
	}
	if dst == key {
		return key, nil
	}
	if _, err := tree.Stat(m.root, key, m.opts.Tree); err != nil {
		return "", err
	}
	taken, err := m.exists(dst)
	if err != nil {
		return "", err
	}
	if taken {
		return "", fmt.Errorf("%q: %w", dst, ErrAlreadyExists)
	}
	if err := m.root.Rename(tree.FSPath(key), tree.FSPath(dst)); err != nil {
		return "", fmt.Errorf("renaming %q: %w", key, err)
	}
	moved, err := m.perms.Move(ctx, key, dst)
	if err != nil {
		return "", fmt.Errorf("moving permissions for %q: %w", key, err)
	}
	log.Info().Str("from", key).Str("to", dst).Int("entries", moved).Msg("renamed")
	return dst, nil
}

// Delete removes p and everything below it together with their permission
// entries.
func (m *Manager) Delete(ctx context.Context, p string) error {
	key, err := entryKey(p)
	if err != nil {
		return err
	}
	if _, err := tree.Stat(m.root, key, m.opts.Tree); err != nil {
		return err
	}
	if err := m.root.RemoveAll(tree.FSPath(key)); err != nil {
		return fmt.Errorf("deleting %q: %w", key, err)
	}
	removed, err := m.perms.Remove(ctx, key, true)
	if err != nil {
		return fmt.Errorf("removing permissions for %q: %w", key, err)
	}
	log.Info().Str("path", key).Int("entries", removed).Msg("deleted")
	return nil
}

// Upload stores r as name inside dir, replacing an existing file of that
// name. The data lands in a temp file next to the target first, so readers
// never see a partial file.
func (m *Manager) Upload(ctx context.Context, dir, name string, r io.Reader) (string, int64, error) {
	parent, err := permission.Normalize(dir)
	if err != nil {
		return "", 0, err
	}
	key, err := permission.Join(parent, name)
	if err != nil {
		return "", 0, err
	}
	if _, err := tree.StatDir(m.root, parent, m.opts.Tree); err != nil {
		return "", 0, err
	}
	if fi, err := m.root.Stat(tree.FSPath(key)); err == nil && fi.IsDir() {
		return "", 0, fmt.Errorf("%q: %w", key, ErrIsDirectory)
	}

	tmp, err := afero.TempFile(m.root, tree.FSPath(parent), tree.TempPrefix+"*")
	if err != nil {
		return "", 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	n, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		m.root.Remove(tmpName) //nolint:errcheck
		return "", 0, fmt.Errorf("writing upload: %w", err)
	}
	if err := m.root.Rename(tmpName, tree.FSPath(key)); err != nil {
		m.root.Remove(tmpName) //nolint:errcheck
		return "", 0, fmt.Errorf("storing upload: %w", err)
	}
	if _, err := m.perms.Grant(ctx, key); err != nil {
		return "", 0, fmt.Errorf("recording permissions for %q: %w", key, err)
	}
	log.Info().Str("path", key).Int64("bytes", n).Msg("uploaded")
	return key, n, nil
}

// Open returns the regular file at p for reading.
func (m *Manager) Open(p string) (afero.File, os.FileInfo, error) {
	key, err := permission.Normalize(p)
	if err != nil {
		return nil, nil, err
	}
	fi, err := tree.Stat(m.root, key, m.opts.Tree)
	if err != nil {
		return nil, nil, err
	}
	if fi.IsDir() {
		return nil, nil, fmt.Errorf("%q: %w", key, ErrIsDirectory)
	}
	f, err := m.root.Open(tree.FSPath(key))
	if err != nil {
		return nil, nil, err
	}
	return f, fi, nil
}

// Stat describes p.
func (m *Manager) Stat(p string) (os.FileInfo, error) {
	key, err := permission.Normalize(p)
	if err != nil {
		return nil, err
	}
	return tree.Stat(m.root, key, m.opts.Tree)
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
