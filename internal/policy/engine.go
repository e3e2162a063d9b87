package policy

import (
	"github.com/org/sharebox/internal/permission"
	"github.com/org/sharebox/pkg/models"
)

// SnapshotSource is the minimal interface the Engine needs from the
// permission store.
type SnapshotSource interface {
	Snapshot() *permission.Mapping
}

// Engine answers folder visibility questions against the current permission
// snapshot.
type Engine struct {
	perms SnapshotSource
}

// NewEngine creates a new policy Engine backed by the given permission source.
func NewEngine(perms SnapshotSource) *Engine {
	return &Engine{perms: perms}
}

// IsAllowed returns true if a user in userGroups may see reqPath. reqPath is
// normalized first; paths escaping the root are never allowed.
func (e *Engine) IsAllowed(userGroups []string, reqPath string) bool {
	key, err := permission.Normalize(reqPath)
	if err != nil {
		return false
	}
	return Visible(e.perms.Snapshot(), key, permission.NewGroupSet(userGroups...))
}

// SubtreeAllowed reports whether a user in userGroups may see reqPath and
// every entry recorded below it. Destructive operations on a folder need
// this; seeing the folder alone is not enough.
func (e *Engine) SubtreeAllowed(userGroups []string, reqPath string) bool {
	key, err := permission.Normalize(reqPath)
	if err != nil {
		return false
	}
	groups := permission.NewGroupSet(userGroups...)
	m := e.perms.Snapshot()
	if !Visible(m, key, groups) {
		return false
	}
	ok := true
	m.ScanSubtree(key, func(_ string, allowed permission.GroupSet) bool {
		ok = IsAccessible(groups, allowed)
		return ok
	})
	return ok
}

// IsAccessible decides whether userGroups may see a path whose entry allows
// allowed:
//  1. "Default" in allowed grants everyone, including ungrouped users
//  2. "Admin" in userGroups overrides every restriction
//  3. otherwise the sets must intersect
func IsAccessible(userGroups, allowed permission.GroupSet) bool {
	if allowed.Contains(models.GroupDefault) {
		return true
	}
	if userGroups.Contains(models.GroupAdmin) {
		return true
	}
	return userGroups.Intersects(allowed)
}

// Visible returns true if key and all of its ancestors are accessible. This
// matches what a recursive listing from the root would reveal. The root is
// always visible.
func Visible(m *permission.Mapping, key string, userGroups permission.GroupSet) bool {
	if key == "" {
		return true
	}
	for _, p := range permission.Ancestors(key) {
		if !IsAccessible(userGroups, m.Allowed(p)) {
			return false
		}
	}
	return IsAccessible(userGroups, m.Allowed(key))
}
