package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/org/sharebox/internal/storage"
	"github.com/org/sharebox/pkg/models"
)

// ErrReservedGroup is returned when deleting Default or Admin.
var ErrReservedGroup = errors.New("reserved group")

// GroupRegistry lists the groups an administrator can assign. Default and
// Admin are always present. Deleting a group leaves folder permission
// entries that name it untouched.
type GroupRegistry struct {
	store storage.Backend
}

// NewGroupRegistry creates a GroupRegistry backed by the given storage.
func NewGroupRegistry(store storage.Backend) *GroupRegistry {
	return &GroupRegistry{store: store}
}

func reserved(name string) bool {
	return name == models.GroupDefault || name == models.GroupAdmin
}

// Seed adds names that are not registered yet.
func (r *GroupRegistry) Seed(ctx context.Context, names []string) error {
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || reserved(n) {
			continue
		}
		if err := r.store.AddGroup(ctx, n); err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
			return fmt.Errorf("seeding group %q: %w", n, err)
		}
	}
	return nil
}

// List returns the reserved groups followed by the registered ones.
func (r *GroupRegistry) List(ctx context.Context) ([]string, error) {
	stored, err := r.store.ListGroups(ctx)
	if err != nil {
		return nil, err
	}
	out := []string{models.GroupDefault, models.GroupAdmin}
	for _, g := range stored {
		if !reserved(g) {
			out = append(out, g)
		}
	}
	return out, nil
}

// Add registers a group.
func (r *GroupRegistry) Add(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, ",/\\\x00") {
		return fmt.Errorf("%w: bad group name", ErrInvalidInput)
	}
	if reserved(name) {
		return storage.ErrAlreadyExists
	}
	return r.store.AddGroup(ctx, name)
}

// Delete unregisters a group.
func (r *GroupRegistry) Delete(ctx context.Context, name string) error {
	if reserved(name) {
		return fmt.Errorf("%w: %s", ErrReservedGroup, name)
	}
	return r.store.DeleteGroup(ctx, name)
}
