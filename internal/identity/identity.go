// ABOUTME: User identity directory mapping opaque user ids to display names
// ABOUTME: Stores two mirror records per user so lookup works in either direction

package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/tinytodo-gateway/internal/kv"
)

// ErrNotFound is returned when no identity record exists for a key.
var ErrNotFound = errors.New("user not found")

// Directory maps user ids to display names and back. Each user has two
// records in the table: pk=id/sk=name and pk=name/sk=id, so a single
// partition query resolves either direction. Identities are written
// once at signup and never mutated or deleted.
type Directory struct {
	store kv.Store
}

// NewDirectory creates a directory over the given store.
func NewDirectory(store kv.Store) *Directory {
	return &Directory{store: store}
}

// Create writes both mirror records for a new user.
func (d *Directory) Create(ctx context.Context, userID, userName string) error {
	if err := d.store.Put(ctx, kv.Item{PK: userID, SK: userName}); err != nil {
		return fmt.Errorf("writing id record: %w", err)
	}
	if err := d.store.Put(ctx, kv.Item{PK: userName, SK: userID}); err != nil {
		return fmt.Errorf("writing name record: %w", err)
	}
	return nil
}

// Lookup resolves a user id to its display name, or a display name to
// its user id. Returns ErrNotFound when the user does not exist.
func (d *Directory) Lookup(ctx context.Context, key string) (string, error) {
	items, err := d.store.Query(ctx, key, "")
	if err != nil {
		return "", fmt.Errorf("querying identity: %w", err)
	}
	if len(items) == 0 {
		return "", ErrNotFound
	}
	return items[0].SK, nil
}
