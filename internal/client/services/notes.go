// Package services exposes the local-edit API consumed by the presentation
// layer. All operations are synchronous and local-only: they mutate the
// entity store and the change journal in one transaction and never block on
// the network.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/souzou-notes/souzou/internal/client/models"
	"github.com/souzou-notes/souzou/internal/client/repositories/entities"
	"github.com/souzou-notes/souzou/internal/client/repositories/journal"
	"github.com/souzou-notes/souzou/internal/client/store"
	"github.com/souzou-notes/souzou/internal/common"
	"github.com/souzou-notes/souzou/internal/dbx"
	"github.com/souzou-notes/souzou/internal/logging"
)

type NoteService struct {
	st     *store.Store
	clock  *models.Clock
	logger logging.Logger
}

func NewNoteService(st *store.Store, clock *models.Clock, logger logging.Logger) *NoteService {
	return &NoteService{st: st, clock: clock, logger: logger.With("module", "notes")}
}

// Create makes a new entity under parentID ("" for root) and journals the
// creation. The id is generated locally so creation works offline.
func (s *NoteService) Create(ctx context.Context, typ models.EntityType, title, content, parentID string) (*models.Entity, error) {
	if title == "" {
		return nil, common.ErrMissingTitle
	}
	if err := s.checkParent(ctx, parentID); err != nil {
		return nil, err
	}

	stamp := s.clock.Now()
	e := &models.Entity{
		ID:          uuid.NewString(),
		Type:        typ,
		Title:       title,
		Content:     content,
		ParentID:    parentID,
		UpdatedAt:   stamp,
		CreatedAtMS: stamp.WallMS,
	}

	err := dbx.WithTx(ctx, s.st.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := entities.NewSQLiteRepository(tx).Upsert(ctx, e); err != nil {
			return err
		}
		_, err := journal.NewSQLiteRepository(tx).Record(ctx, e.ID, models.OpCreate, stamp)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create entity: %w", err)
	}
	return e, nil
}

// Update replaces the observable fields of an entity and journals the edit.
// Re-parenting is validated against the forest invariant: the new parent
// must be live and must not be a descendant of the entity.
func (s *NoteService) Update(ctx context.Context, id, title, content, parentID string) error {
	if title == "" {
		return common.ErrMissingTitle
	}

	e, err := s.st.Entities.Get(ctx, id)
	if err != nil {
		return err
	}
	if e.Deleted {
		return common.ErrNotFound
	}

	if parentID != e.ParentID {
		if err := s.checkParent(ctx, parentID); err != nil {
			return err
		}
		if err := s.checkNoCycle(ctx, id, parentID); err != nil {
			return err
		}
	}

	e.Title = title
	e.Content = content
	e.ParentID = parentID
	e.UpdatedAt = s.clock.Now()

	err = dbx.WithTx(ctx, s.st.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := entities.NewSQLiteRepository(tx).Upsert(ctx, e); err != nil {
			return err
		}
		_, err := journal.NewSQLiteRepository(tx).Record(ctx, e.ID, models.OpUpdate, e.UpdatedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update entity: %w", err)
	}
	return nil
}

// Delete tombstones an entity and its whole subtree and journals the
// deletions. An entity that was created locally and never pushed is removed
// physically instead; there is nothing to propagate.
func (s *NoteService) Delete(ctx context.Context, id string) error {
	root, err := s.st.Entities.Get(ctx, id)
	if err != nil {
		return err
	}
	if root.Deleted {
		return nil
	}

	subtree, err := s.collectSubtree(ctx, root)
	if err != nil {
		return err
	}

	err = dbx.WithTx(ctx, s.st.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		entRepo := entities.NewSQLiteRepository(tx)
		jrnRepo := journal.NewSQLiteRepository(tx)

		for _, e := range subtree {
			stamp := s.clock.Now()
			kept, err := jrnRepo.Record(ctx, e.ID, models.OpDelete, stamp)
			if err != nil {
				return err
			}
			if !kept {
				// Created and deleted before ever syncing.
				if err := entRepo.HardDelete(ctx, e.ID); err != nil {
					return err
				}
				continue
			}
			e.Deleted = true
			e.UpdatedAt = stamp
			if err := entRepo.Upsert(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	return nil
}

// Get returns one live entity with its ChildIDs populated.
func (s *NoteService) Get(ctx context.Context, id string) (*models.Entity, error) {
	e, err := s.st.Entities.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Deleted {
		return nil, common.ErrNotFound
	}

	children, err := s.st.Entities.ListChildren(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, c := range children {
		e.ChildIDs = append(e.ChildIDs, c.ID)
	}
	return e, nil
}

// List returns every live entity with child links populated. Used by the
// presentation layer to refresh its cached view after a sync notification.
func (s *NoteService) List(ctx context.Context) ([]*models.Entity, error) {
	return s.st.Entities.ListAll(ctx)
}

// Children returns the live direct children of parentID in stable order.
func (s *NoteService) Children(ctx context.Context, parentID string) ([]*models.Entity, error) {
	return s.st.Entities.ListChildren(ctx, parentID)
}

func (s *NoteService) checkParent(ctx context.Context, parentID string) error {
	if parentID == "" {
		return nil
	}
	p, err := s.st.Entities.Get(ctx, parentID)
	if errors.Is(err, common.ErrNotFound) {
		return common.ErrUnknownParent
	}
	if err != nil {
		return err
	}
	if p.Deleted {
		return common.ErrDeletedParent
	}
	return nil
}

// checkNoCycle walks up from newParentID and fails if it passes through id.
func (s *NoteService) checkNoCycle(ctx context.Context, id, newParentID string) error {
	cur := newParentID
	for cur != "" {
		if cur == id {
			return common.ErrCycle
		}
		p, err := s.st.Entities.Get(ctx, cur)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		cur = p.ParentID
	}
	return nil
}

// collectSubtree returns root plus all live descendants, parents first.
func (s *NoteService) collectSubtree(ctx context.Context, root *models.Entity) ([]*models.Entity, error) {
	result := []*models.Entity{root}
	queue := []string{root.ID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		children, err := s.st.Entities.ListChildren(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			result = append(result, c)
			queue = append(queue, c.ID)
		}
	}
	return result, nil
}
