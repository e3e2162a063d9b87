package permission

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrInvalidPath is returned for paths that escape the managed root or are
// otherwise unusable as permission keys.
var ErrInvalidPath = errors.New("permission: invalid path")

// Normalize turns a user supplied path into a permission key: relative to
// the managed root, forward-slash separated, without "." segments or a
// trailing slash. Leading slashes are treated as root-relative. Paths that
// would climb above the root are rejected. The root itself is "".
func Normalize(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: contains NUL", ErrInvalidPath)
	}
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "", nil
	}
	clean := path.Clean(p)
	if clean == "." {
		return "", nil
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q escapes the root", ErrInvalidPath, p)
	}
	return clean, nil
}

// Join appends a single path segment to a normalized parent.
func Join(parent, name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return "", fmt.Errorf("%w: bad name %q", ErrInvalidPath, name)
	}
	if parent == "" {
		return name, nil
	}
	return Normalize(parent + "/" + name)
}

// Parent returns the parent key of p, or "" for top-level entries.
func Parent(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// Ancestors returns every proper ancestor of p, outermost first.
func Ancestors(p string) []string {
	if p == "" {
		return nil
	}
	var out []string
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			out = append(out, p[:i])
		}
	}
	return out
}

// within reports whether key equals root or lies below it.
func within(key, root string) bool {
	if root == "" {
		return true
	}
	return key == root || strings.HasPrefix(key, root+"/")
}
