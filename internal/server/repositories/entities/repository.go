package entities

import (
	"context"

	"github.com/souzou-notes/souzou/internal/server/models"
)

type Repository interface {
	// Get returns an entity by id, tombstones included.
	// Returns common.ErrNotFound when no row exists.
	Get(ctx context.Context, id string) (*models.Entity, error)

	// Upsert inserts or fully replaces an entity by id.
	Upsert(ctx context.Context, e *models.Entity) error

	// SelectUpdated returns all entities with rev > minRev ordered by rev.
	SelectUpdated(ctx context.Context, minRev int64) ([]*models.Entity, error)

	// MaxRev returns the highest assigned revision, 0 for an empty table.
	MaxRev(ctx context.Context) (int64, error)

	// NextRev allocates the next revision. Revisions are strictly
	// increasing and never reused, even across rolled-back transactions.
	NextRev(ctx context.Context) (int64, error)
}
