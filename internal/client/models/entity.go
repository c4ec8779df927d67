// Package models defines the entity graph persisted in the local database
// and the sync bookkeeping types attached to it.
package models

import "github.com/souzou-notes/souzou/internal/wire"

// EntityType classifies an entity kind.
type EntityType string

const (
	EntityTypeNote     EntityType = "note"
	EntityTypeTemplate EntityType = "template"
	EntityTypeMedia    EntityType = "media"
	EntityTypeView     EntityType = "view"
	EntityTypeWidget   EntityType = "widget"
	EntityTypeKanban   EntityType = "kanban"
	EntityTypeCalendar EntityType = "calendar"
	EntityTypeCanvas   EntityType = "canvas"
)

// Entity is one node of the note forest, stored flat and keyed by id.
// Parent/child structure is a doubly-linked relation: ParentID is persisted,
// ChildIDs is derived by the store on read and never written directly.
type Entity struct {
	// ID is a globally unique identifier, client-generated so entities can
	// be created offline.
	ID string

	// Type is the entity kind (note, template, media, ...).
	Type EntityType

	Title   string
	Content string

	// ParentID is empty for roots. It must reference a live entity; the
	// reconciler re-parents to root when it does not.
	ParentID string

	// ChildIDs lists direct children in stable order. Derived, read-only.
	ChildIDs []string

	// Rev is the monotonic revision assigned by the remote authority on
	// acceptance. 0 means the entity has never been synced.
	Rev int64

	// UpdatedAt is the logical timestamp of the last observable mutation.
	// Bookkeeping writes (revision stamps) do not touch it.
	UpdatedAt Stamp

	// Deleted marks the entity as a tombstone. Deletion is a mutation, not
	// physical removal, until the remote confirms it.
	Deleted bool

	// CreatedAtMS is wall-clock creation time, used to order siblings.
	CreatedAtMS int64
}

// ContentEquals reports whether two entities carry the same observable
// state. Revision and derived fields are bookkeeping and do not count.
func (e *Entity) ContentEquals(o *Entity) bool {
	if e == nil || o == nil {
		return e == o
	}
	return e.Type == o.Type &&
		e.Title == o.Title &&
		e.Content == o.Content &&
		e.ParentID == o.ParentID &&
		e.Deleted == o.Deleted
}

// ToWire converts the entity to its transport representation.
func (e *Entity) ToWire() *wire.Entity {
	return &wire.Entity{
		ID:          e.ID,
		Type:        string(e.Type),
		Title:       e.Title,
		Content:     e.Content,
		ParentID:    e.ParentID,
		Deleted:     e.Deleted,
		Rev:         e.Rev,
		UpdatedAt:   wire.Stamp(e.UpdatedAt),
		CreatedAtMS: e.CreatedAtMS,
	}
}

// EntityFromWire converts a transport entity to the local model.
func EntityFromWire(w *wire.Entity) *Entity {
	return &Entity{
		ID:          w.ID,
		Type:        EntityType(w.Type),
		Title:       w.Title,
		Content:     w.Content,
		ParentID:    w.ParentID,
		Deleted:     w.Deleted,
		Rev:         w.Rev,
		UpdatedAt:   Stamp(w.UpdatedAt),
		CreatedAtMS: w.CreatedAtMS,
	}
}
