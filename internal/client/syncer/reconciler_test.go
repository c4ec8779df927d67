package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/souzou-notes/souzou/internal/client/models"
	"github.com/souzou-notes/souzou/internal/client/store"
	"github.com/souzou-notes/souzou/internal/common"
	"github.com/souzou-notes/souzou/internal/logging"
	"github.com/souzou-notes/souzou/internal/wire"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stamp(wall, seq int64, origin string) models.Stamp {
	return models.Stamp{WallMS: wall, Seq: seq, Origin: origin}
}

func entity(id string, rev int64, at models.Stamp) *models.Entity {
	return &models.Entity{
		ID:          id,
		Type:        models.EntityTypeNote,
		Title:       "title " + id,
		UpdatedAt:   at,
		Rev:         rev,
		CreatedAtMS: at.WallMS,
	}
}

func TestResolve_RemoteNewerWins(t *testing.T) {
	local := entity("n1", 3, stamp(100, 1, "a"))
	local.Title = "local edit"
	pending := &models.JournalEntry{EntityID: "n1", Op: models.OpUpdate, Stamp: local.UpdatedAt}

	remote := entity("n1", 4, stamp(200, 1, "b"))
	remote.Title = "remote edit"

	merged, op := resolve(local, pending, remote)
	assert.Equal(t, "remote edit", merged.Title)
	assert.Equal(t, int64(4), merged.Rev)
	assert.Equal(t, models.Operation(""), op, "losing pull conflict consumes the pending entry")
}

func TestResolve_EqualStampIsOwnEcho(t *testing.T) {
	// A push whose response was lost: the remote already holds our edit and
	// echoes it back with the same stamp. Remote must win so the pending
	// entry is consumed instead of being pushed again forever.
	at := stamp(100, 2, "a")
	local := entity("n1", 3, at)
	pending := &models.JournalEntry{EntityID: "n1", Op: models.OpUpdate, Stamp: at}
	remote := entity("n1", 4, at)

	_, op := resolve(local, pending, remote)
	assert.Equal(t, models.Operation(""), op)
}

func TestResolve_LocalNewerKeepsFieldsAdoptsRev(t *testing.T) {
	local := entity("n1", 3, stamp(300, 1, "a"))
	local.Title = "local edit"
	pending := &models.JournalEntry{EntityID: "n1", Op: models.OpUpdate, Stamp: local.UpdatedAt}

	remote := entity("n1", 4, stamp(200, 1, "b"))
	remote.Title = "remote edit"

	merged, op := resolve(local, pending, remote)
	assert.Equal(t, "local edit", merged.Title)
	assert.Equal(t, int64(4), merged.Rev, "winner still rebases on the remote revision")
	assert.Equal(t, models.OpUpdate, op)
}

func TestResolve_OriginBreaksExactTie(t *testing.T) {
	local := entity("n1", 3, stamp(100, 1, "zzz"))
	local.Title = "local edit"
	pending := &models.JournalEntry{EntityID: "n1", Op: models.OpUpdate, Stamp: local.UpdatedAt}

	remote := entity("n1", 4, stamp(100, 1, "aaa"))
	remote.Title = "remote edit"

	merged, op := resolve(local, pending, remote)
	assert.Equal(t, "local edit", merged.Title)
	assert.Equal(t, models.OpUpdate, op)
}

func TestResolve_CreateBecomesUpdateAfterConflict(t *testing.T) {
	local := entity("n1", 0, stamp(300, 1, "a"))
	pending := &models.JournalEntry{EntityID: "n1", Op: models.OpCreate, Stamp: local.UpdatedAt}
	remote := entity("n1", 1, stamp(200, 1, "b"))

	_, op := resolve(local, pending, remote)
	assert.Equal(t, models.OpUpdate, op, "the entity exists remotely now")
}

func TestResolve_TombstoneWins(t *testing.T) {
	t.Run("remote tombstone beats newer local edit", func(t *testing.T) {
		local := entity("n1", 3, stamp(500, 1, "a"))
		pending := &models.JournalEntry{EntityID: "n1", Op: models.OpUpdate, Stamp: local.UpdatedAt}
		remote := entity("n1", 4, stamp(100, 1, "b"))
		remote.Deleted = true

		merged, op := resolve(local, pending, remote)
		assert.True(t, merged.Deleted)
		assert.Equal(t, models.Operation(""), op)
	})

	t.Run("local tombstone beats newer remote edit", func(t *testing.T) {
		local := entity("n1", 3, stamp(100, 1, "a"))
		local.Deleted = true
		pending := &models.JournalEntry{EntityID: "n1", Op: models.OpDelete, Stamp: local.UpdatedAt}
		remote := entity("n1", 4, stamp(500, 1, "b"))

		merged, op := resolve(local, pending, remote)
		assert.True(t, merged.Deleted)
		assert.Equal(t, models.OpDelete, op, "the remote is still live and must learn about the tombstone")
		assert.Equal(t, stamp(500, 1, "b"), merged.UpdatedAt)
	})
}

func TestMergePull_InsertsUnknownEntity(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	r := newReconciler(testLogger())

	remote := entity("n1", 1, stamp(100, 1, "srv"))
	changed, err := r.mergePull(ctx, s.DB, []wire.Entity{*remote.ToWire()})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	got, err := s.Entities.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "title n1", got.Title)
	assert.Equal(t, int64(1), got.Rev)
}

func TestMergePull_SkipsTombstoneForUnknownEntity(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	r := newReconciler(testLogger())

	remote := entity("ghost", 5, stamp(100, 1, "srv"))
	remote.Deleted = true
	changed, err := r.mergePull(ctx, s.DB, []wire.Entity{*remote.ToWire()})
	require.NoError(t, err)
	assert.Zero(t, changed)

	_, err = s.Entities.Get(ctx, "ghost")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestMergePull_RemoteWinsWithoutPendingEdit(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	r := newReconciler(testLogger())

	local := entity("n1", 1, stamp(100, 1, "a"))
	require.NoError(t, s.Entities.Upsert(ctx, local))

	remote := entity("n1", 2, stamp(200, 1, "srv"))
	remote.Title = "renamed elsewhere"
	changed, err := r.mergePull(ctx, s.DB, []wire.Entity{*remote.ToWire()})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	got, err := s.Entities.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "renamed elsewhere", got.Title)

	_, err = s.Journal.Get(ctx, "n1")
	assert.True(t, errors.Is(err, common.ErrNotFound), "a pull is not a local mutation")
}

func TestMergePull_RepullIsIdempotent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	r := newReconciler(testLogger())

	remote := entity("n1", 2, stamp(200, 1, "srv"))
	batch := []wire.Entity{*remote.ToWire()}

	changed, err := r.mergePull(ctx, s.DB, batch)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	changed, err = r.mergePull(ctx, s.DB, batch)
	require.NoError(t, err)
	assert.Zero(t, changed, "replaying the same batch changes nothing")
}

func TestMergePull_PendingEditLoses(t *testing.T) {
	// Concurrent title edits, remote is newer. The local edit's journal
	// entry is consumed; nothing is pushed back.
	s := setupStore(t)
	ctx := context.Background()
	r := newReconciler(testLogger())

	local := entity("n1", 1, stamp(100, 1, "a"))
	local.Title = "local title"
	require.NoError(t, s.Entities.Upsert(ctx, local))
	require.NoError(t, s.Journal.Put(ctx, &models.JournalEntry{EntityID: "n1", Op: models.OpUpdate, Stamp: local.UpdatedAt}))

	remote := entity("n1", 2, stamp(200, 1, "b"))
	remote.Title = "remote title"
	changed, err := r.mergePull(ctx, s.DB, []wire.Entity{*remote.ToWire()})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	got, err := s.Entities.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "remote title", got.Title)

	_, err = s.Journal.Get(ctx, "n1")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestMergePull_PendingEditWinsAndStaysQueued(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	r := newReconciler(testLogger())

	local := entity("n1", 1, stamp(300, 1, "a"))
	local.Title = "local title"
	require.NoError(t, s.Entities.Upsert(ctx, local))
	require.NoError(t, s.Journal.Put(ctx, &models.JournalEntry{EntityID: "n1", Op: models.OpUpdate, Stamp: local.UpdatedAt}))

	remote := entity("n1", 2, stamp(200, 1, "b"))
	remote.Title = "remote title"
	_, err := r.mergePull(ctx, s.DB, []wire.Entity{*remote.ToWire()})
	require.NoError(t, err)

	got, err := s.Entities.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "local title", got.Title)
	assert.Equal(t, int64(2), got.Rev, "rebased on the pulled revision")

	p, err := s.Journal.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, models.OpUpdate, p.Op)
}

func TestMergePush_AcceptedClearsJournal(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	r := newReconciler(testLogger())

	local := entity("n1", 0, stamp(100, 1, "a"))
	require.NoError(t, s.Entities.Upsert(ctx, local))
	require.NoError(t, s.Journal.Put(ctx, &models.JournalEntry{EntityID: "n1", Op: models.OpCreate, Stamp: local.UpdatedAt}))

	batch := []wire.Mutation{{ID: "n1", Op: wire.OpCreate, Entity: local.ToWire()}}
	pushed, diags, err := r.mergePush(ctx, s.DB, batch, []wire.Outcome{
		{ID: "n1", Status: wire.StatusAccepted, Rev: 7},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, pushed)
	assert.Empty(t, diags)

	got, err := s.Entities.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Rev)

	_, err = s.Journal.Get(ctx, "n1")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestMergePush_ConflictMergesAndRequeues(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	r := newReconciler(testLogger())

	local := entity("n1", 1, stamp(300, 1, "a"))
	local.Title = "local title"
	require.NoError(t, s.Entities.Upsert(ctx, local))
	require.NoError(t, s.Journal.Put(ctx, &models.JournalEntry{EntityID: "n1", Op: models.OpUpdate, Stamp: local.UpdatedAt}))

	server := entity("n1", 2, stamp(200, 1, "b"))
	server.Title = "server title"

	batch := []wire.Mutation{{ID: "n1", Op: wire.OpUpdate, BaseRev: 1, Entity: local.ToWire()}}
	pushed, diags, err := r.mergePush(ctx, s.DB, batch, []wire.Outcome{
		{ID: "n1", Status: wire.StatusConflict, Server: server.ToWire()},
	})
	require.NoError(t, err)
	assert.Zero(t, pushed)
	assert.Empty(t, diags)

	got, err := s.Entities.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "local title", got.Title, "local edit is newer and survives the merge")
	assert.Equal(t, int64(2), got.Rev)

	p, err := s.Journal.Get(ctx, "n1")
	require.NoError(t, err, "push conflicts keep the merge result pending for the next cycle")
	assert.Equal(t, models.OpUpdate, p.Op)
}

func TestMergePush_ConflictLocalLosesStillRequeued(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	r := newReconciler(testLogger())

	local := entity("n1", 1, stamp(100, 1, "a"))
	require.NoError(t, s.Entities.Upsert(ctx, local))
	require.NoError(t, s.Journal.Put(ctx, &models.JournalEntry{EntityID: "n1", Op: models.OpUpdate, Stamp: local.UpdatedAt}))

	server := entity("n1", 2, stamp(200, 1, "b"))
	server.Title = "server title"

	batch := []wire.Mutation{{ID: "n1", Op: wire.OpUpdate, BaseRev: 1, Entity: local.ToWire()}}
	_, _, err := r.mergePush(ctx, s.DB, batch, []wire.Outcome{
		{ID: "n1", Status: wire.StatusConflict, Server: server.ToWire()},
	})
	require.NoError(t, err)

	got, err := s.Entities.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "server title", got.Title)

	p, err := s.Journal.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, models.OpUpdate, p.Op)
}

func TestMergePush_RejectedStaysPending(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	r := newReconciler(testLogger())

	local := entity("n1", 1, stamp(100, 1, "a"))
	require.NoError(t, s.Entities.Upsert(ctx, local))
	require.NoError(t, s.Journal.Put(ctx, &models.JournalEntry{EntityID: "n1", Op: models.OpUpdate, Stamp: local.UpdatedAt}))

	batch := []wire.Mutation{{ID: "n1", Op: wire.OpUpdate, BaseRev: 1, Entity: local.ToWire()}}
	pushed, diags, err := r.mergePush(ctx, s.DB, batch, []wire.Outcome{
		{ID: "n1", Status: wire.StatusRejected, Reason: "payload too large"},
	})
	require.NoError(t, err)
	assert.Zero(t, pushed)
	require.Len(t, diags, 1)
	assert.Equal(t, Diagnostic{EntityID: "n1", Reason: "payload too large"}, diags[0])

	_, err = s.Journal.Get(ctx, "n1")
	require.NoError(t, err, "rejected mutations are never silently dropped")
}

func TestRepairTree_DanglingParent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	r := newReconciler(testLogger())

	child := entity("n1", 1, stamp(100, 1, "a"))
	child.ParentID = "gone"
	require.NoError(t, s.Entities.Upsert(ctx, child))

	require.NoError(t, r.repairTree(ctx, s.DB))

	got, err := s.Entities.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Empty(t, got.ParentID, "re-parented to root, never dropped")
}

func TestRepairTree_TombstonedParent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	r := newReconciler(testLogger())

	parent := entity("p", 1, stamp(100, 1, "a"))
	parent.Deleted = true
	require.NoError(t, s.Entities.Upsert(ctx, parent))
	child := entity("c", 1, stamp(100, 2, "a"))
	child.ParentID = "p"
	require.NoError(t, s.Entities.Upsert(ctx, child))

	require.NoError(t, r.repairTree(ctx, s.DB))

	got, err := s.Entities.Get(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, got.ParentID)
}

func TestRepairTree_BreaksCycleDeterministically(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	r := newReconciler(testLogger())

	a := entity("a", 1, stamp(100, 1, "x"))
	a.ParentID = "b"
	b := entity("b", 1, stamp(100, 2, "x"))
	b.ParentID = "a"
	require.NoError(t, s.Entities.Upsert(ctx, a))
	require.NoError(t, s.Entities.Upsert(ctx, b))

	require.NoError(t, r.repairTree(ctx, s.DB))

	gotA, err := s.Entities.Get(ctx, "a")
	require.NoError(t, err)
	gotB, err := s.Entities.Get(ctx, "b")
	require.NoError(t, err)

	assert.Empty(t, gotB.ParentID, "the lexicographically largest member is promoted to root")
	assert.Equal(t, "b", gotA.ParentID, "the rest of the cycle stays attached")
}

func TestRepairTree_IntactForestUntouched(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	r := newReconciler(testLogger())

	root := entity("root", 1, stamp(100, 1, "x"))
	child := entity("child", 1, stamp(100, 2, "x"))
	child.ParentID = "root"
	require.NoError(t, s.Entities.Upsert(ctx, root))
	require.NoError(t, s.Entities.Upsert(ctx, child))

	require.NoError(t, r.repairTree(ctx, s.DB))

	got, err := s.Entities.Get(ctx, "child")
	require.NoError(t, err)
	assert.Equal(t, "root", got.ParentID)
}

func TestMergePush_AcceptedKeepsEditMadeDuringPush(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	r := newReconciler(testLogger())

	pushedState := entity("n1", 0, stamp(100, 1, "a"))
	require.NoError(t, s.Entities.Upsert(ctx, pushedState))
	require.NoError(t, s.Journal.Put(ctx, &models.JournalEntry{EntityID: "n1", Op: models.OpCreate, Stamp: pushedState.UpdatedAt}))
	batch := []wire.Mutation{{ID: "n1", Op: wire.OpCreate, Entity: pushedState.ToWire()}}

	// The user saved again while the batch above was on the wire.
	edited := entity("n1", 0, stamp(200, 1, "a"))
	edited.Title = "edited mid-push"
	require.NoError(t, s.Entities.Upsert(ctx, edited))
	require.NoError(t, s.Journal.Put(ctx, &models.JournalEntry{EntityID: "n1", Op: models.OpCreate, Stamp: edited.UpdatedAt}))

	pushed, _, err := r.mergePush(ctx, s.DB, batch, []wire.Outcome{
		{ID: "n1", Status: wire.StatusAccepted, Rev: 7},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, pushed)

	got, err := s.Entities.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "edited mid-push", got.Title)
	assert.Equal(t, int64(7), got.Rev, "acceptance still re-bases the entity")

	p, err := s.Journal.Get(ctx, "n1")
	require.NoError(t, err, "the newer edit must stay pending")
	assert.Equal(t, stamp(200, 1, "a"), p.Stamp)
}

func TestMergePush_AcceptedDeleteOfUnsyncedEntityRemovesRow(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	r := newReconciler(testLogger())

	tomb := entity("n1", 0, stamp(100, 1, "a"))
	tomb.Deleted = true
	require.NoError(t, s.Entities.Upsert(ctx, tomb))
	require.NoError(t, s.Journal.Put(ctx, &models.JournalEntry{EntityID: "n1", Op: models.OpDelete, Stamp: tomb.UpdatedAt}))
	batch := []wire.Mutation{{ID: "n1", Op: wire.OpDelete, Entity: tomb.ToWire()}}

	pushed, _, err := r.mergePush(ctx, s.DB, batch, []wire.Outcome{
		{ID: "n1", Status: wire.StatusAccepted, Rev: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, pushed)

	// The remote never saw the entity, so no tombstone needs to linger.
	_, err = s.Entities.Get(ctx, "n1")
	assert.True(t, errors.Is(err, common.ErrNotFound))
	_, err = s.Journal.Get(ctx, "n1")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}
