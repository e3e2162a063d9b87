// Package tree enumerates the managed root through an afero.Fs rooted at the
// managed directory. Paths are root-relative and slash-separated; "" is the
// root itself.
package tree

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// DefaultMaxDepth bounds traversal when no explicit limit is configured.
const DefaultMaxDepth = 64

// TempPrefix marks in-flight uploads. Such entries are never reported.
const TempPrefix = ".sharebox-upload-"

// ErrNotDirectory is returned when a directory was expected.
var ErrNotDirectory = errors.New("not a directory")

// Options controls how directories are enumerated.
type Options struct {
	// FollowSymlinks reports links as their target's type. When false,
	// links are skipped entirely. Links resolving outside the root are
	// always skipped.
	FollowSymlinks bool
	// MaxDepth is the deepest level visited below the starting directory.
	// Zero means DefaultMaxDepth.
	MaxDepth int
	// Ignore lists entry names that are never reported (e.g. ".DS_Store").
	Ignore []string
}

func (o Options) maxDepth() int {
	if o.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return o.MaxDepth
}

// Entry is one directory child.
type Entry struct {
	Name    string
	Rel     string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// FSPath maps a root-relative path onto the rooted filesystem.
func FSPath(rel string) string {
	return "/" + rel
}

// JoinRel appends a single name to a root-relative parent.
func JoinRel(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// Stat describes rel. Symlinks are reported as missing unless
// FollowSymlinks is set, in which case the target is described. A path that
// resolves outside the root is missing either way.
func Stat(fsys afero.Fs, rel string, opts Options) (os.FileInfo, error) {
	if rel == "" {
		return fsys.Stat(FSPath(rel))
	}
	var fi os.FileInfo
	var err error
	if ls, ok := fsys.(afero.Lstater); ok && !opts.FollowSymlinks {
		fi, _, err = ls.LstatIfPossible(FSPath(rel))
		if err == nil && fi.Mode()&os.ModeSymlink != 0 {
			return nil, &fs.PathError{Op: "stat", Path: rel, Err: fs.ErrNotExist}
		}
	} else {
		fi, err = fsys.Stat(FSPath(rel))
	}
	if err != nil {
		return nil, err
	}
	if !withinRoot(fsys, rel) {
		return nil, &fs.PathError{Op: "stat", Path: rel, Err: fs.ErrNotExist}
	}
	return fi, nil
}

// realPather is implemented by afero.BasePathFs.
type realPather interface {
	RealPath(name string) (string, error)
}

// withinRoot reports whether rel still lies inside the root of fsys once
// every link on the way is resolved. Filesystems without host paths have no
// links to leave through.
func withinRoot(fsys afero.Fs, rel string) bool {
	rp, ok := fsys.(realPather)
	if !ok {
		return true
	}
	base, err := rp.RealPath("/")
	if err != nil {
		return false
	}
	target, err := rp.RealPath(FSPath(rel))
	if err != nil {
		return false
	}
	if base, err = filepath.EvalSymlinks(base); err != nil {
		return false
	}
	if target, err = filepath.EvalSymlinks(target); err != nil {
		return false
	}
	r, err := filepath.Rel(base, target)
	return err == nil && r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator))
}

// StatDir is Stat that also requires rel to be a directory.
func StatDir(fsys afero.Fs, rel string, opts Options) (os.FileInfo, error) {
	fi, err := Stat(fsys, rel, opts)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%q: %w", rel, ErrNotDirectory)
	}
	return fi, nil
}

// ReadDir returns the children of rel sorted by name, applying the symlink
// and ignore policy.
func ReadDir(fsys afero.Fs, rel string, opts Options) ([]Entry, error) {
	if rel != "" && !withinRoot(fsys, rel) {
		return nil, &fs.PathError{Op: "readdir", Path: rel, Err: fs.ErrNotExist}
	}
	infos, err := afero.ReadDir(fsys, FSPath(rel))
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		name := fi.Name()
		if opts.ignored(name) {
			continue
		}
		child := JoinRel(rel, name)
		if fi.Mode()&os.ModeSymlink != 0 {
			if !opts.FollowSymlinks {
				continue
			}
			target, err := fsys.Stat(FSPath(child))
			if err != nil {
				// dangling link
				continue
			}
			if !withinRoot(fsys, child) {
				log.Debug().Str("path", child).Msg("skipping link outside the root")
				continue
			}
			fi = target
		}
		entries = append(entries, Entry{
			Name:    name,
			Rel:     child,
			IsDir:   fi.IsDir(),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (o Options) ignored(name string) bool {
	if strings.HasPrefix(name, TempPrefix) {
		return true
	}
	for _, n := range o.Ignore {
		if n == name {
			return true
		}
	}
	return false
}

// Walk visits every entry below start with an explicit work stack. fn is
// called once per entry; returning an error stops the walk. A directory that
// cannot be read below start is skipped with a warning.
func Walk(ctx context.Context, fsys afero.Fs, start string, opts Options, fn func(e Entry) error) error {
	type frame struct {
		rel   string
		depth int
	}
	limit := opts.maxDepth()
	stack := []frame{{rel: start}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := ReadDir(fsys, f.rel, opts)
		if err != nil {
			if f.rel == start {
				return err
			}
			log.Warn().Err(err).Str("path", f.rel).Msg("skipping unreadable directory")
			continue
		}
		for _, e := range entries {
			if err := fn(e); err != nil {
				return err
			}
			if e.IsDir && f.depth+1 < limit {
				stack = append(stack, frame{rel: e.Rel, depth: f.depth + 1})
			}
		}
	}
	return nil
}
