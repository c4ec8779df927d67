package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/souzou-notes/souzou/internal/client/models"
	"github.com/souzou-notes/souzou/internal/client/repositories/entities"
	"github.com/souzou-notes/souzou/internal/client/repositories/journal"
	"github.com/souzou-notes/souzou/internal/common"
	"github.com/souzou-notes/souzou/internal/dbx"
	"github.com/souzou-notes/souzou/internal/logging"
	"github.com/souzou-notes/souzou/internal/wire"
)

// reconciler merges remote batches into the local store. All methods run
// inside a transaction owned by the Manager; nothing here touches the
// network.
type reconciler struct {
	logger logging.Logger
}

func newReconciler(logger logging.Logger) *reconciler {
	return &reconciler{logger: logger.With("module", "reconciler")}
}

// mergePull folds one pulled batch into the store and returns how many
// entities actually changed. Entities with no pending local edit take the
// remote state verbatim and are not journaled: a pull is not a local
// mutation. Entities with a pending edit go through resolve.
func (r *reconciler) mergePull(ctx context.Context, tx dbx.DBTX, batch []wire.Entity) (int, error) {
	entRepo := entities.NewSQLiteRepository(tx)
	jrnRepo := journal.NewSQLiteRepository(tx)

	changed := 0
	for i := range batch {
		remote := models.EntityFromWire(&batch[i])

		local, err := entRepo.Get(ctx, remote.ID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return 0, err
		}

		if local == nil {
			if remote.Deleted {
				// Tombstone for an entity this device never had.
				continue
			}
			if err := entRepo.Upsert(ctx, remote); err != nil {
				return 0, err
			}
			changed++
			continue
		}

		pending, err := jrnRepo.Get(ctx, remote.ID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return 0, err
		}

		if pending == nil {
			// Remote wins outright: strictly newer by revision ordering.
			if !local.ContentEquals(remote) {
				changed++
			}
			if local.ContentEquals(remote) && local.Rev == remote.Rev {
				continue // idempotent re-pull
			}
			if err := entRepo.Upsert(ctx, remote); err != nil {
				return 0, err
			}
			continue
		}

		merged, pendingOp := resolve(local, pending, remote)
		if !local.ContentEquals(merged) {
			changed++
		}
		if err := entRepo.Upsert(ctx, merged); err != nil {
			return 0, err
		}
		if err := r.requeue(ctx, jrnRepo, merged, pending, pendingOp); err != nil {
			return 0, err
		}
	}
	return changed, nil
}

// mergePush applies the outcomes of one pushed batch. Accepted mutations
// get their new revision stamped and their journal entry cleared, unless an
// edit committed while the push was in flight re-journaled the entity with
// a newer stamp; such an entry survives the acknowledgement and goes out on
// the next cycle. Conflicts are merged against the carried remote state
// right away and stay pending; rejections stay pending untouched and are
// reported for diagnostics.
func (r *reconciler) mergePush(ctx context.Context, tx dbx.DBTX, batch []wire.Mutation, outcomes []wire.Outcome) (int, []Diagnostic, error) {
	entRepo := entities.NewSQLiteRepository(tx)
	jrnRepo := journal.NewSQLiteRepository(tx)

	sent := make(map[string]*wire.Mutation, len(batch))
	for i := range batch {
		sent[batch[i].ID] = &batch[i]
	}

	pushed := 0
	var diags []Diagnostic

	for i := range outcomes {
		out := &outcomes[i]

		switch out.Status {
		case wire.StatusAccepted:
			mut := sent[out.ID]
			if mut == nil || mut.Entity == nil {
				return 0, nil, fmt.Errorf("accepted outcome for %s matches no pushed mutation", out.ID)
			}
			cleared, err := jrnRepo.ClearIfStamp(ctx, out.ID, models.Stamp(mut.Entity.UpdatedAt))
			if err != nil {
				return 0, nil, err
			}
			if !cleared {
				r.logger.Info(ctx, "entity edited during push, keeping it pending", "entity", out.ID)
			}
			switch {
			case out.Rev > 0:
				if err := entRepo.SetRev(ctx, out.ID, out.Rev); err != nil && !errors.Is(err, common.ErrNotFound) {
					return 0, nil, err
				}
			case cleared && mut.Op == wire.OpDelete:
				// Rev 0 means the remote never saw the entity; the
				// confirmed tombstone row has nothing left to wait for.
				if err := entRepo.HardDelete(ctx, out.ID); err != nil && !errors.Is(err, common.ErrNotFound) {
					return 0, nil, err
				}
			}
			pushed++

		case wire.StatusConflict:
			if out.Server == nil {
				return 0, nil, fmt.Errorf("conflict outcome for %s carries no server state", out.ID)
			}
			if err := r.mergeConflict(ctx, entRepo, jrnRepo, out); err != nil {
				return 0, nil, err
			}

		case wire.StatusRejected:
			// Never silently dropped: the entry stays pending and the
			// reason is surfaced upward.
			r.logger.Warn(ctx, "mutation rejected by remote", "entity", out.ID, "reason", out.Reason)
			diags = append(diags, Diagnostic{EntityID: out.ID, Reason: out.Reason})

		default:
			return 0, nil, fmt.Errorf("unknown push outcome status %q for %s", out.Status, out.ID)
		}
	}
	return pushed, diags, nil
}

// mergeConflict resolves a push conflict immediately instead of waiting for
// the next pull, then requeues the merge result so it reaches the remote on
// the next cycle.
func (r *reconciler) mergeConflict(ctx context.Context, entRepo entities.Repository, jrnRepo journal.Repository, out *wire.Outcome) error {
	remote := models.EntityFromWire(out.Server)

	local, err := entRepo.Get(ctx, out.ID)
	if err != nil {
		return err
	}
	pending, err := jrnRepo.Get(ctx, out.ID)
	if err != nil {
		return err
	}

	merged, pendingOp := resolve(local, pending, remote)
	if err := entRepo.Upsert(ctx, merged); err != nil {
		return err
	}

	// Push-merge keeps the result pending even when the local edit lost:
	// the merged state is retried on the next cycle.
	if pendingOp == "" {
		pendingOp = models.OpUpdate
		if merged.Deleted {
			pendingOp = models.OpDelete
		}
	}
	return r.requeue(ctx, jrnRepo, merged, pending, pendingOp)
}

func (r *reconciler) requeue(ctx context.Context, jrnRepo journal.Repository, merged *models.Entity, pending *models.JournalEntry, op models.Operation) error {
	if op == "" {
		// The local edit lost on pull; its journal entry is consumed.
		return jrnRepo.Clear(ctx, merged.ID)
	}
	return jrnRepo.Put(ctx, &models.JournalEntry{EntityID: merged.ID, Op: op, Stamp: merged.UpdatedAt})
}

// resolve applies the conflict policy to one entity: last-writer-wins by
// logical timestamp for observable fields, tombstone-wins for deletion, the
// larger origin breaking exact timestamp ties. It returns the merged entity
// (always based on the remote revision) and the operation to keep pending,
// "" meaning the pending entry is consumed.
func resolve(local *models.Entity, pending *models.JournalEntry, remote *models.Entity) (*models.Entity, models.Operation) {
	localDeleted := local.Deleted || pending.Op == models.OpDelete

	// Tombstone-wins: a deletion on either side makes the result deleted,
	// regardless of timestamps. Deletion must stay sticky so a removed note
	// is never resurrected by a slower replica.
	if remote.Deleted || localDeleted {
		merged := *remote
		merged.Deleted = true
		if !remote.Deleted {
			// The remote does not know about the tombstone yet; push it.
			merged.UpdatedAt = laterStamp(remote.UpdatedAt, pending.Stamp)
			return &merged, models.OpDelete
		}
		// The remote tombstone is authoritative; nothing left to push.
		return &merged, ""
	}

	// An equal stamp is our own edit echoed back (a push whose response was
	// lost): the remote already holds it, so treat it as the winner.
	if remote.UpdatedAt.Compare(pending.Stamp) >= 0 {
		merged := *remote
		return &merged, ""
	}

	// Local pending edit is newer: keep its fields, adopt the remote
	// revision as the new base, and leave the edit pending for push.
	merged := *local
	merged.Rev = remote.Rev

	op := pending.Op
	if op == models.OpCreate {
		// The entity exists remotely now; the retried push is an update.
		op = models.OpUpdate
	}
	return &merged, op
}

func laterStamp(a, b models.Stamp) models.Stamp {
	if a.Compare(b) >= 0 {
		return a
	}
	return b
}

// repairTree restores the forest property after a merge: dangling parent
// references are re-parented to root (never dropped), and any cycle is
// broken by promoting its lexicographically largest member to root. Both
// repairs are deterministic so every client converges on the same shape
// without journaling them. A remote that triggers this is buggy or
// malicious; repairs are logged and never fatal.
func (r *reconciler) repairTree(ctx context.Context, tx dbx.DBTX) error {
	entRepo := entities.NewSQLiteRepository(tx)

	refs, err := entRepo.ListRefs(ctx)
	if err != nil {
		return err
	}

	byID := make(map[string]*entities.Ref, len(refs))
	for i := range refs {
		byID[refs[i].ID] = &refs[i]
	}

	reparent := func(ref *entities.Ref, reason string) error {
		r.logger.Warn(ctx, "repairing entity tree", "entity", ref.ID, "parent", ref.ParentID, "reason", reason)
		if err := entRepo.SetParent(ctx, ref.ID, ""); err != nil {
			return err
		}
		ref.ParentID = ""
		return nil
	}

	// Pass 1: dangling or tombstoned parents.
	for _, ref := range refs {
		node := byID[ref.ID]
		if node.ParentID == "" {
			continue
		}
		parent, ok := byID[node.ParentID]
		switch {
		case !ok:
			if err := reparent(node, "dangling parent"); err != nil {
				return err
			}
		case parent.Deleted && !node.Deleted:
			if err := reparent(node, "deleted parent"); err != nil {
				return err
			}
		}
	}

	// Pass 2: cycles. Walk up from every node; a walk that revisits its
	// starting point found a cycle.
	const (
		unvisited  = 0
		inProgress = 1
		done       = 2
	)
	state := make(map[string]int, len(byID))

	for _, ref := range refs {
		if state[ref.ID] != unvisited {
			continue
		}

		var path []string
		cur := byID[ref.ID]
		for cur != nil && state[cur.ID] == unvisited {
			state[cur.ID] = inProgress
			path = append(path, cur.ID)
			if cur.ParentID == "" {
				break
			}
			cur = byID[cur.ParentID]
		}

		if cur != nil && state[cur.ID] == inProgress && cur.ParentID != "" {
			// path re-entered itself at cur: everything from cur onward in
			// path is the cycle.
			start := 0
			for i, id := range path {
				if id == cur.ID {
					start = i
					break
				}
			}
			cycle := path[start:]
			victim := cycle[0]
			for _, id := range cycle {
				if id > victim {
					victim = id
				}
			}
			if err := reparent(byID[victim], "cycle"); err != nil {
				return err
			}
		}

		for _, id := range path {
			state[id] = done
		}
	}
	return nil
}
