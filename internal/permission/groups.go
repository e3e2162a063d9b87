package permission

import (
	"encoding/json"
	"sort"
	"strings"
)

// GroupSet is a sorted set of group names.
type GroupSet []string

// NewGroupSet builds a set from names, dropping blanks and duplicates.
func NewGroupSet(names ...string) GroupSet {
	return GroupSet(nil).Union(names...)
}

// Contains reports whether name is in the set.
func (g GroupSet) Contains(name string) bool {
	i := sort.SearchStrings(g, name)
	return i < len(g) && g[i] == name
}

// Union returns a new set holding g and names.
func (g GroupSet) Union(names ...string) GroupSet {
	seen := make(map[string]struct{}, len(g)+len(names))
	out := make(GroupSet, 0, len(g)+len(names))
	add := func(n string) {
		n = strings.TrimSpace(n)
		if n == "" {
			return
		}
		if _, ok := seen[n]; ok {
			return
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	for _, n := range g {
		add(n)
	}
	for _, n := range names {
		add(n)
	}
	sort.Strings(out)
	return out
}

// Without returns a new set lacking name.
func (g GroupSet) Without(name string) GroupSet {
	out := make(GroupSet, 0, len(g))
	for _, n := range g {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

// Intersects reports whether the sets share a member.
func (g GroupSet) Intersects(other GroupSet) bool {
	for _, n := range g {
		if other.Contains(n) {
			return true
		}
	}
	return false
}

// Equal reports whether both sets hold the same names.
func (g GroupSet) Equal(other GroupSet) bool {
	if len(g) != len(other) {
		return false
	}
	for i := range g {
		if g[i] != other[i] {
			return false
		}
	}
	return true
}

// MarshalJSON encodes an empty set as [] rather than null.
func (g GroupSet) MarshalJSON() ([]byte, error) {
	if g == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(g))
}
