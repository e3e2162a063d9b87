package permission

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/btree"

	"github.com/org/sharebox/pkg/models"
)

// Mapping holds path -> allowed groups in key order. Mappings handed out by
// Store.Snapshot are shared between goroutines and must be treated as
// read-only; take a Copy before mutating.
type Mapping struct {
	tree *btree.Map[string, GroupSet]
}

// NewMapping returns an empty mapping.
func NewMapping() *Mapping {
	return &Mapping{tree: btree.NewMap[string, GroupSet](0)}
}

// Len returns the number of entries.
func (m *Mapping) Len() int {
	return m.tree.Len()
}

// Lookup returns the explicit entry for key.
func (m *Mapping) Lookup(key string) (GroupSet, bool) {
	return m.tree.Get(key)
}

// Allowed returns the groups allowed on key, defaulting to {"Default"} when
// the path has no entry.
func (m *Mapping) Allowed(key string) GroupSet {
	if g, ok := m.tree.Get(key); ok {
		return g
	}
	return GroupSet{models.GroupDefault}
}

// Set replaces the entry for key.
func (m *Mapping) Set(key string, groups GroupSet) {
	if groups == nil {
		groups = GroupSet{}
	}
	m.tree.Set(key, groups)
}

// Delete removes the entry for key.
func (m *Mapping) Delete(key string) bool {
	_, ok := m.tree.Delete(key)
	return ok
}

// Scan calls fn for every entry in key order until fn returns false.
func (m *Mapping) Scan(fn func(key string, groups GroupSet) bool) {
	m.tree.Scan(fn)
}

// ScanSubtree calls fn for root and every entry below it, in key order.
func (m *Mapping) ScanSubtree(root string, fn func(key string, groups GroupSet) bool) {
	if root == "" {
		m.tree.Scan(fn)
		return
	}
	if g, ok := m.tree.Get(root); ok {
		if !fn(root, g) {
			return
		}
	}
	// Keys such as "a b" sort between "a" and "a/", so the scan starts at
	// the separator rather than at root.
	prefix := root + "/"
	m.tree.Ascend(prefix, func(key string, g GroupSet) bool {
		if !within(key, root) {
			return false
		}
		return fn(key, g)
	})
}

// Copy returns an independent mapping. The underlying tree is copied lazily.
func (m *Mapping) Copy() *Mapping {
	return &Mapping{tree: m.tree.Copy()}
}

// MarshalJSON encodes the mapping as an object of path -> group array.
// encoding/json sorts the keys, so equal mappings encode to equal bytes.
func (m *Mapping) MarshalJSON() ([]byte, error) {
	doc := make(map[string]GroupSet, m.Len())
	m.Scan(func(key string, g GroupSet) bool {
		doc[key] = g
		return true
	})
	return json.Marshal(doc)
}

// decodeDocument parses a persisted permission document. The document must
// be a JSON object; entries whose key or value is unusable, and absolute
// keys, are skipped and reported in dropped. Keys that normalize to the same path are merged.
func decodeDocument(data []byte) (m *Mapping, dropped []string, err error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}
	m = NewMapping()
	for key, val := range raw {
		var groups []string
		if err := json.Unmarshal(val, &groups); err != nil {
			dropped = append(dropped, key)
			continue
		}
		// Absolute keys come from an older layout and name host paths.
		if strings.HasPrefix(key, "/") {
			dropped = append(dropped, key)
			continue
		}
		norm, err := Normalize(key)
		if err != nil || norm == "" {
			dropped = append(dropped, key)
			continue
		}
		if norm != key {
			log.Debug().Str("key", key).Str("normalized", norm).Msg("normalizing permission key")
		}
		existing, _ := m.Lookup(norm)
		m.Set(norm, existing.Union(groups...))
	}
	return m, dropped, nil
}
