// Package journal stores the append-only record of local mutations pending
// push. At most one coalesced entry exists per entity id.
package journal

import (
	"context"

	"github.com/souzou-notes/souzou/internal/client/models"
)

type Repository interface {
	// Record coalesces op into any pending entry for entityID and reports
	// whether an entry remains. kept=false means a create+delete pair
	// collapsed to nothing; the caller should hard-delete the entity since
	// it never left the device.
	Record(ctx context.Context, entityID string, op models.Operation, stamp models.Stamp) (kept bool, err error)

	// Put writes an entry verbatim, replacing any pending one. Used by the
	// reconciler to requeue a merge result.
	Put(ctx context.Context, e *models.JournalEntry) error

	// Get returns the pending entry for entityID, or common.ErrNotFound.
	Get(ctx context.Context, entityID string) (*models.JournalEntry, error)

	// Pending lists all pending entries ordered by entity id.
	Pending(ctx context.Context) ([]*models.JournalEntry, error)

	// Clear removes the pending entry for entityID. Only called once the
	// remote has confirmed acceptance, or when the local edit lost a merge.
	Clear(ctx context.Context, entityID string) error

	// ClearIfStamp removes the pending entry only when its stamp still
	// equals stamp, reporting whether a row was removed. Lets the
	// reconciler acknowledge exactly the state it pushed and nothing newer.
	ClearIfStamp(ctx context.Context, entityID string, stamp models.Stamp) (bool, error)
}
