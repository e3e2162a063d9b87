package permission

import (
	"context"
	"path"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/org/sharebox/internal/tree"
)

func newTestRoot(t *testing.T, files ...string) afero.Fs {
	t.Helper()
	root := afero.NewMemMapFs()
	for _, f := range files {
		if f[len(f)-1] == '/' {
			require.NoError(t, root.MkdirAll("/"+f, 0o755))
			continue
		}
		require.NoError(t, root.MkdirAll(path.Dir("/"+f), 0o755))
		require.NoError(t, afero.WriteFile(root, "/"+f, []byte("x"), 0o644))
	}
	return root
}

func TestReconcileBackfillsDefault(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := newTestRoot(t, "photos/2024/a.jpg", "photos/private/b.jpg", "notes.txt", "empty/")
	s, _ := newTestStore(t)
	_, err := s.Replace(ctx, "photos/private", "Staff")
	require.NoError(t, err)

	r := NewReconciler(s, root, tree.Options{})
	m, added, err := r.Reconcile(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 6, added)
	require.Equal(t, 7, m.Len())

	for _, p := range []string{"photos", "photos/2024", "photos/2024/a.jpg", "photos/private/b.jpg", "notes.txt", "empty"} {
		g, ok := m.Lookup(p)
		require.True(t, ok, p)
		require.Equal(t, GroupSet{"Default"}, g, p)
	}
	g, _ := m.Lookup("photos/private")
	require.Equal(t, GroupSet{"Staff"}, g, "existing entries are not touched")
	require.Same(t, m, s.Snapshot())
}

func TestReconcileIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := newTestRoot(t, "a/b/c/d.txt", "a/e.txt", "z/")
	s, fsys := newTestStore(t)
	r := NewReconciler(s, root, tree.Options{})

	_, _, err := r.Reconcile(ctx, "")
	require.NoError(t, err)
	first, err := afero.ReadFile(fsys, testDoc)
	require.NoError(t, err)

	_, added, err := r.Reconcile(ctx, "")
	require.NoError(t, err)
	require.Zero(t, added)
	second, err := afero.ReadFile(fsys, testDoc)
	require.NoError(t, err)
	require.Equal(t, string(first), string(second))
}

func TestReconcileSubtreeAndIgnore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := newTestRoot(t, "a/x.txt", "a/.DS_Store", "b/y.txt")
	s, _ := newTestStore(t)
	r := NewReconciler(s, root, tree.Options{Ignore: []string{".DS_Store"}})

	m, added, err := r.Reconcile(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 1, added)
	_, ok := m.Lookup("a/x.txt")
	require.True(t, ok)
	_, ok = m.Lookup("a/.DS_Store")
	require.False(t, ok)
	_, ok = m.Lookup("b")
	require.False(t, ok)

	_, _, err = r.Reconcile(ctx, "missing")
	require.Error(t, err)
	_, _, err = r.Reconcile(ctx, "../up")
	require.ErrorIs(t, err, ErrInvalidPath)
}

func TestReconcileRespectsMaxDepth(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	root := newTestRoot(t, "l1/l2/l3/f.txt")
	s, _ := newTestStore(t)
	r := NewReconciler(s, root, tree.Options{MaxDepth: 2})

	m, _, err := r.Reconcile(ctx, "")
	require.NoError(t, err)
	_, ok := m.Lookup("l1/l2")
	require.True(t, ok)
	_, ok = m.Lookup("l1/l2/l3")
	require.False(t, ok)
}

func TestReconcileHonoursCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, _ := newTestStore(t)
	r := NewReconciler(s, newTestRoot(t, "a/b.txt"), tree.Options{})
	_, _, err := r.Reconcile(ctx, "")
	require.ErrorIs(t, err, context.Canceled)
}
