package permission

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/org/sharebox/internal/tree"
	"github.com/org/sharebox/pkg/models"
)

// Reconciler backfills {"Default"} entries for every path on disk that has
// none. Existing entries are never touched.
type Reconciler struct {
	store *Store
	root  afero.Fs
	opts  tree.Options
}

// NewReconciler creates a Reconciler over the managed root. root must be
// rooted at the managed directory (see tree.FSPath).
func NewReconciler(store *Store, root afero.Fs, opts tree.Options) *Reconciler {
	return &Reconciler{store: store, root: root, opts: opts}
}

// Reconcile walks start ("" for the whole root), records missing entries,
// persists the mapping and returns it along with the number of entries added.
// It builds on the store's current mapping, so Store.Load must run first at
// startup.
func (r *Reconciler) Reconcile(ctx context.Context, start string) (*Mapping, int, error) {
	key, err := Normalize(start)
	if err != nil {
		return nil, 0, err
	}
	began := time.Now()
	var added int
	m, err := r.store.Update(ctx, func(m *Mapping) error {
		added = 0
		return tree.Walk(ctx, r.root, key, r.opts, func(e tree.Entry) error {
			if _, ok := m.Lookup(e.Rel); !ok {
				m.Set(e.Rel, GroupSet{models.GroupDefault})
				added++
			}
			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}
	log.Info().
		Str("start", key).
		Int("added", added).
		Int("entries", m.Len()).
		Dur("took", time.Since(began)).
		Msg("permissions reconciled")
	return m, added, nil
}
