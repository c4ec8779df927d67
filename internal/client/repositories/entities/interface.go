package entities

import (
	"context"

	"github.com/souzou-notes/souzou/internal/client/models"
)

// Ref is a lightweight projection of an entity used for structural passes
// (dangling-parent repair, cycle detection) that do not need payloads.
type Ref struct {
	ID       string
	ParentID string
	Deleted  bool
}

// Repository describes storage of the local entity forest. Implementations
// are backed by the local SQLite database and never touch the network.
type Repository interface {
	// Get returns an entity by id, tombstones included.
	// Returns common.ErrNotFound when no row exists.
	Get(ctx context.Context, id string) (*models.Entity, error)

	// Upsert inserts or fully replaces an entity by id. It does not journal;
	// callers that perform a local mutation must pair it with a journal
	// write in the same transaction.
	Upsert(ctx context.Context, e *models.Entity) error

	// SetRev updates only the server-assigned revision. Bookkeeping write:
	// UpdatedAt is left alone.
	SetRev(ctx context.Context, id string, rev int64) error

	// SetParent re-points an entity at a new parent. Used by tree repair.
	SetParent(ctx context.Context, id, parentID string) error

	// ListChildren returns live direct children of parentID ordered by
	// creation time, then id.
	ListChildren(ctx context.Context, parentID string) ([]*models.Entity, error)

	// ListAll returns all live entities with ChildIDs populated.
	ListAll(ctx context.Context) ([]*models.Entity, error)

	// ListRefs returns structural projections of every row, tombstones
	// included.
	ListRefs(ctx context.Context) ([]Ref, error)

	// HardDelete physically removes a row. Only legal for entities the
	// remote has never seen or whose tombstone it has confirmed.
	HardDelete(ctx context.Context, id string) error

	// PurgeTombstones removes confirmed tombstones (rev > 0) last touched
	// before the given wall-clock cutoff. Returns the number purged.
	PurgeTombstones(ctx context.Context, beforeWallMS int64) (int64, error)
}
