// Package models holds the server-side persistence model.
package models

import "github.com/souzou-notes/souzou/internal/wire"

// Entity is one row of the authoritative entity table. Rev is assigned by
// the server on every accepted mutation and is strictly increasing across
// the whole table, which is what makes pull cursors work.
type Entity struct {
	ID            string
	Type          string
	Title         string
	Content       string
	ParentID      string
	Deleted       bool
	Rev           int64
	UpdatedWallMS int64
	UpdatedSeq    int64
	UpdatedOrigin string
	CreatedAtMS   int64
}

func (e *Entity) ToWire() *wire.Entity {
	return &wire.Entity{
		ID:       e.ID,
		Type:     e.Type,
		Title:    e.Title,
		Content:  e.Content,
		ParentID: e.ParentID,
		Deleted:  e.Deleted,
		Rev:      e.Rev,
		UpdatedAt: wire.Stamp{
			WallMS: e.UpdatedWallMS,
			Seq:    e.UpdatedSeq,
			Origin: e.UpdatedOrigin,
		},
		CreatedAtMS: e.CreatedAtMS,
	}
}

func EntityFromWire(w *wire.Entity) *Entity {
	return &Entity{
		ID:            w.ID,
		Type:          w.Type,
		Title:         w.Title,
		Content:       w.Content,
		ParentID:      w.ParentID,
		Deleted:       w.Deleted,
		Rev:           w.Rev,
		UpdatedWallMS: w.UpdatedAt.WallMS,
		UpdatedSeq:    w.UpdatedAt.Seq,
		UpdatedOrigin: w.UpdatedAt.Origin,
		CreatedAtMS:   w.CreatedAtMS,
	}
}
