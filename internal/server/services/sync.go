// Package services implements the server-side sync authority and media
// storage helpers.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/souzou-notes/souzou/internal/common"
	"github.com/souzou-notes/souzou/internal/logging"
	"github.com/souzou-notes/souzou/internal/server/models"
	"github.com/souzou-notes/souzou/internal/server/repositories/entities"
	"github.com/souzou-notes/souzou/internal/server/repositories/repomanager"
	"github.com/souzou-notes/souzou/internal/wire"
)

// SyncService is the authority over entity state. It assigns revisions,
// serves incremental pulls and arbitrates pushed mutations.
type SyncService struct {
	mgr    repomanager.Manager
	logger logging.Logger
}

func NewSyncService(mgr repomanager.Manager, logger logging.Logger) *SyncService {
	return &SyncService{mgr: mgr, logger: logger.With("module", "sync_service")}
}

// Pull returns every entity changed after the client's cursor, tombstones
// included, plus the new cursor. A client that stores the cursor and pulls
// again gets an empty batch.
func (s *SyncService) Pull(ctx context.Context, since int64) (*wire.PullResponse, error) {
	var resp wire.PullResponse
	err := s.mgr.InTx(ctx, func(ctx context.Context, repo entities.Repository) error {
		updated, err := repo.SelectUpdated(ctx, since)
		if err != nil {
			return err
		}
		maxRev, err := repo.MaxRev(ctx)
		if err != nil {
			return err
		}

		resp.Cursor = since
		if maxRev > since {
			resp.Cursor = maxRev
		}
		resp.Entities = make([]wire.Entity, 0, len(updated))
		for _, e := range updated {
			resp.Entities = append(resp.Entities, *e.ToWire())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pull failed: %w", err)
	}
	return &resp, nil
}

// Push applies a batch of mutations in one transaction and returns one
// outcome per mutation, in order. A mutation whose base revision does not
// match the stored one is a conflict and carries the current server state
// back to the client; invalid mutations are rejected with a reason and do
// not fail the batch.
func (s *SyncService) Push(ctx context.Context, origin string, muts []wire.Mutation) ([]wire.Outcome, error) {
	outcomes := make([]wire.Outcome, 0, len(muts))

	err := s.mgr.InTx(ctx, func(ctx context.Context, repo entities.Repository) error {
		for i := range muts {
			out, err := s.apply(ctx, repo, &muts[i])
			if err != nil {
				return err
			}
			outcomes = append(outcomes, *out)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("push failed: %w", err)
	}

	for _, out := range outcomes {
		if out.Status == wire.StatusRejected {
			s.logger.Warn(ctx, "mutation rejected", "origin", origin, "entity", out.ID, "reason", out.Reason)
		}
	}
	return outcomes, nil
}

func (s *SyncService) apply(ctx context.Context, repo entities.Repository, m *wire.Mutation) (*wire.Outcome, error) {
	if m.Entity == nil {
		return &wire.Outcome{ID: m.ID, Status: wire.StatusRejected, Reason: "missing payload"}, nil
	}
	if m.Entity.ID != m.ID {
		return &wire.Outcome{ID: m.ID, Status: wire.StatusRejected, Reason: "payload id mismatch"}, nil
	}

	current, err := repo.Get(ctx, m.ID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	if current == nil {
		// Deleting something the server never saw is a no-op, not an error:
		// the client can drop the row immediately.
		if m.Op == wire.OpDelete {
			return &wire.Outcome{ID: m.ID, Status: wire.StatusAccepted, Rev: 0}, nil
		}
	} else if current.Rev != m.BaseRev {
		// The client acted on a stale base. Hand back the current state so
		// it can merge locally and retry.
		return &wire.Outcome{ID: m.ID, Status: wire.StatusConflict, Server: current.ToWire()}, nil
	}

	if reason := s.validate(ctx, repo, m); reason != "" {
		return &wire.Outcome{ID: m.ID, Status: wire.StatusRejected, Reason: reason}, nil
	}

	rev, err := repo.NextRev(ctx)
	if err != nil {
		return nil, err
	}

	e := models.EntityFromWire(m.Entity)
	e.Rev = rev
	if m.Op == wire.OpDelete {
		e.Deleted = true
	}
	if err := repo.Upsert(ctx, e); err != nil {
		return nil, err
	}
	return &wire.Outcome{ID: m.ID, Status: wire.StatusAccepted, Rev: rev}, nil
}

// validate checks structural rules for live writes. Tombstones skip them:
// deletion must always be able to go through.
func (s *SyncService) validate(ctx context.Context, repo entities.Repository, m *wire.Mutation) string {
	if m.Op == wire.OpDelete || m.Entity.Deleted {
		return ""
	}
	if m.Entity.Title == "" {
		return "missing title"
	}
	if m.Entity.ParentID == "" {
		return ""
	}
	if m.Entity.ParentID == m.ID {
		return "entity cannot be its own parent"
	}
	parent, err := repo.Get(ctx, m.Entity.ParentID)
	if err != nil {
		return "unknown parent"
	}
	if parent.Deleted {
		return "parent is deleted"
	}
	return ""
}
