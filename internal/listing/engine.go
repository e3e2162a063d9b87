// Package listing produces access-filtered, nested directory listings of the
// managed root.
package listing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/org/sharebox/internal/permission"
	"github.com/org/sharebox/internal/policy"
	"github.com/org/sharebox/internal/tree"
)

// ErrNotDirectory is returned when the listed path is a regular file.
var ErrNotDirectory = tree.ErrNotDirectory

// Request describes one listing.
type Request struct {
	// Dir is the directory to list, relative to the managed root.
	Dir string
	// Groups are the requester's groups.
	Groups []string
	// Depth limits how many levels are expanded; 0 expands everything up
	// to the engine's traversal limit and 1 lists direct children only.
	Depth int
}

// Engine lists directories below a managed root.
type Engine struct {
	root afero.Fs
	opts tree.Options
}

// NewEngine creates an Engine over root, which must be rooted at the managed
// directory.
func NewEngine(root afero.Fs, opts tree.Options) *Engine {
	return &Engine{root: root, opts: opts}
}

// List returns the children of req.Dir that req.Groups may see, with visible
// directories expanded recursively. Entries are sorted by name at every
// level. Inaccessible entries are omitted together with everything below
// them; an accessible directory is listed even when none of its children is.
//
// List only filters what lies below req.Dir. Callers decide whether the
// requester may open req.Dir itself (see policy.Visible).
func (e *Engine) List(ctx context.Context, req Request, m *permission.Mapping) ([]*Node, error) {
	key, err := permission.Normalize(req.Dir)
	if err != nil {
		return nil, err
	}
	if _, err := tree.StatDir(e.root, key, e.opts); err != nil {
		return nil, fmt.Errorf("listing: %w", err)
	}

	groups := permission.NewGroupSet(req.Groups...)
	limit := e.opts.MaxDepth
	if limit <= 0 {
		limit = tree.DefaultMaxDepth
	}
	if req.Depth > 0 && req.Depth < limit {
		limit = req.Depth
	}

	type frame struct {
		rel   string
		depth int
		out   *[]*Node
	}
	var nodes []*Node
	stack := []frame{{rel: key, out: &nodes}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := tree.ReadDir(e.root, f.rel, e.opts)
		if err != nil {
			if f.rel == key {
				return nil, fmt.Errorf("listing %q: %w", key, err)
			}
			log.Warn().Err(err).Str("path", f.rel).Msg("skipping unreadable directory")
			continue
		}
		children := make([]*Node, 0, len(entries))
		for _, ent := range entries {
			if !policy.IsAccessible(groups, m.Allowed(ent.Rel)) {
				continue
			}
			n := &Node{
				Name:        ent.Name,
				Path:        ent.Rel,
				IsDirectory: ent.IsDir,
				ModTime:     ent.ModTime,
			}
			if ent.IsDir {
				n.Children = []*Node{}
				if f.depth+1 < limit {
					stack = append(stack, frame{rel: ent.Rel, depth: f.depth + 1, out: &n.Children})
				} else {
					n.Truncated = true
				}
			} else {
				n.Size = ent.Size
			}
			children = append(children, n)
		}
		*f.out = children
	}
	return nodes, nil
}
