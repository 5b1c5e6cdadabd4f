package core

import (
	"context"
	"fmt"
	"path"
	"strings"
)

type (
	// LocalStore is the per-device fallback store. All operations are scoped
	// to the device, not to a user.
	LocalStore interface {
		// Save writes data under slot, replacing any previous value.
		Save(ctx context.Context, slot string, data *SaveData) error

		// Load returns ErrNotFound when the slot holds nothing.
		Load(ctx context.Context, slot string) (*SaveData, error)

		// List returns metadata for every readable entry. Corrupt entries are
		// skipped, not reported.
		List(ctx context.Context) ([]*SaveMetadata, error)

		// Delete is idempotent.
		Delete(ctx context.Context, slot string) error
	}

	// RemoteStore is the authenticated cloud store keyed by (userID, slot).
	RemoteStore interface {
		// Save upserts; a second save to the same slot overwrites.
		Save(ctx context.Context, userID, slot string, data *SaveData, meta SaveMetadata) error

		// Load returns ErrNotFound when the slot holds nothing.
		Load(ctx context.Context, userID, slot string) (*SaveData, error)

		// List returns metadata only, most recently updated first.
		List(ctx context.Context, userID string) ([]*SaveMetadata, error)

		Delete(ctx context.Context, userID, slot string) error
	}

	// SaveRowStore persists raw remote rows. RemoteStore implementations wrap
	// one and own the codec work.
	SaveRowStore interface {
		// Upsert inserts or replaces the row for (row.UserID, row.SlotName).
		// CreatedAt is preserved on replace; UpdatedAt is set by the store.
		Upsert(ctx context.Context, row *SaveRow) error

		// Get returns ErrNotFound when no row exists.
		Get(ctx context.Context, userID, slot string) (*SaveRow, error)

		// List returns rows without Data, ordered by UpdatedAt descending.
		List(ctx context.Context, userID string) ([]*SaveRow, error)

		Delete(ctx context.Context, userID, slot string) error
	}
)

// ValidateSlot rejects slot names that could escape a key namespace.
func ValidateSlot(slot string) error {
	if slot == "" || slot == "." || slot == ".." {
		return fmt.Errorf("%w: must not be empty or a dot directory", ErrInvalidSlot)
	}
	if path.Base(slot) != slot || strings.ContainsAny(slot, `/\`) {
		return fmt.Errorf("%w: must not be a path", ErrInvalidSlot)
	}
	return nil
}
