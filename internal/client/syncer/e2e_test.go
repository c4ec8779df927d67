package syncer

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/souzou-notes/souzou/internal/client/gateway"
	"github.com/souzou-notes/souzou/internal/client/models"
	"github.com/souzou-notes/souzou/internal/client/services"
	"github.com/souzou-notes/souzou/internal/client/store"
	"github.com/souzou-notes/souzou/internal/common"
	"github.com/souzou-notes/souzou/internal/server/repositories/repomanager"
	server "github.com/souzou-notes/souzou/internal/server/services"
	"github.com/souzou-notes/souzou/internal/wire"
)

// localGateway wires a client straight into the server's sync service,
// bypassing HTTP. The transport itself is covered in the gateway package.
type localGateway struct {
	svc    *server.SyncService
	origin string
}

func (g *localGateway) Pull(ctx context.Context, since int64) (*wire.PullResponse, error) {
	return g.svc.Pull(ctx, since)
}

func (g *localGateway) Push(ctx context.Context, batch []wire.Mutation) ([]wire.Outcome, error) {
	return g.svc.Push(ctx, g.origin, batch)
}

func (g *localGateway) MediaUploadURL(ctx context.Context) (string, string, error) {
	return "", "", common.ErrUnavailable
}

var _ gateway.Gateway = (*localGateway)(nil)

// client bundles one device's full local stack.
type client struct {
	store   *store.Store
	notes   *services.NoteService
	manager *Manager
}

func newClient(t *testing.T, origin string, svc *server.SyncService) *client {
	t.Helper()
	s := setupStore(t)
	logger := testLogger()
	return &client{
		store:   s,
		notes:   services.NewNoteService(s, models.NewClock(origin), logger),
		manager: NewManager(s, &localGateway{svc: svc, origin: origin}, NewBus(), Config{}, logger),
	}
}

func (c *client) sync(t *testing.T) Result {
	t.Helper()
	res, err := c.manager.RunCycle(context.Background())
	require.NoError(t, err)
	return res
}

// snapshot reduces a store to a comparable picture of its live forest.
type row struct {
	ID       string
	Title    string
	Content  string
	ParentID string
	Rev      int64
}

func snapshot(t *testing.T, s *store.Store) []row {
	t.Helper()
	all, err := s.Entities.ListAll(context.Background())
	require.NoError(t, err)

	rows := make([]row, 0, len(all))
	for _, e := range all {
		rows = append(rows, row{ID: e.ID, Title: e.Title, Content: e.Content, ParentID: e.ParentID, Rev: e.Rev})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows
}

func requireConverged(t *testing.T, a, b *client) {
	t.Helper()
	sa, sb := snapshot(t, a.store), snapshot(t, b.store)
	require.Equal(t, sa, sb, "devices diverged")
}

func newSyncPair(t *testing.T) (*client, *client) {
	t.Helper()
	svc := server.NewSyncService(repomanager.NewInMemoryManager(), testLogger())
	return newClient(t, "dev-a", svc), newClient(t, "dev-b", svc)
}

func TestTwoDevices_EditPropagates(t *testing.T) {
	ctx := context.Background()
	a, b := newSyncPair(t)

	note, err := a.notes.Create(ctx, models.EntityTypeNote, "groceries", "milk", "")
	require.NoError(t, err)

	res := a.sync(t)
	assert.Equal(t, 1, res.Pushed)

	res = b.sync(t)
	assert.Equal(t, 1, res.Pulled)

	got, err := b.notes.Get(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, "groceries", got.Title)
	assert.Equal(t, "milk", got.Content)
	require.Greater(t, got.Rev, int64(0))

	require.NoError(t, b.notes.Update(ctx, note.ID, "groceries", "milk, eggs", ""))
	b.sync(t)
	a.sync(t)

	got, err = a.notes.Get(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, "milk, eggs", got.Content)

	requireConverged(t, a, b)
}

func TestTwoDevices_ConcurrentEditsConverge(t *testing.T) {
	ctx := context.Background()
	a, b := newSyncPair(t)

	note, err := a.notes.Create(ctx, models.EntityTypeNote, "draft", "v0", "")
	require.NoError(t, err)
	a.sync(t)
	b.sync(t)

	// Both devices edit offline. B edits second, so its stamp orders after
	// A's and must win on every device. The clocks tick in milliseconds.
	require.NoError(t, a.notes.Update(ctx, note.ID, "draft", "from a", ""))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, b.notes.Update(ctx, note.ID, "draft", "from b", ""))

	a.sync(t)
	b.sync(t) // b pulls a's version, keeps its own, requeues
	b.sync(t) // b pushes the merge result
	a.sync(t) // a adopts it

	got, err := a.notes.Get(ctx, note.ID)
	require.NoError(t, err)
	assert.Equal(t, "from b", got.Content)

	requireConverged(t, a, b)
}

func TestTwoDevices_DeletePropagates(t *testing.T) {
	ctx := context.Background()
	a, b := newSyncPair(t)

	note, err := a.notes.Create(ctx, models.EntityTypeNote, "scratch", "", "")
	require.NoError(t, err)
	a.sync(t)
	b.sync(t)

	require.NoError(t, a.notes.Delete(ctx, note.ID))
	a.sync(t)
	b.sync(t)

	_, err = b.notes.Get(ctx, note.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	requireConverged(t, a, b)
}

func TestTwoDevices_CreateUnderConcurrentlyDeletedParent(t *testing.T) {
	ctx := context.Background()
	a, b := newSyncPair(t)

	parent, err := a.notes.Create(ctx, models.EntityTypeNote, "project", "", "")
	require.NoError(t, err)
	a.sync(t)
	b.sync(t)

	// B files a note under the project while A deletes the project.
	child, err := b.notes.Create(ctx, models.EntityTypeNote, "task", "", parent.ID)
	require.NoError(t, err)
	require.NoError(t, a.notes.Delete(ctx, parent.ID))

	a.sync(t)
	// B pulls the tombstone; the orphaned child is moved to the root before
	// the push, so the create is accepted.
	res := b.sync(t)
	assert.Equal(t, 1, res.Pushed)
	a.sync(t)

	got, err := a.notes.Get(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, "", got.ParentID)

	requireConverged(t, a, b)
}

func TestTwoDevices_ConcurrentReparentConverges(t *testing.T) {
	ctx := context.Background()
	a, b := newSyncPair(t)

	p1, err := a.notes.Create(ctx, models.EntityTypeNote, "p1", "", "")
	require.NoError(t, err)
	p2, err := a.notes.Create(ctx, models.EntityTypeNote, "p2", "", "")
	require.NoError(t, err)
	note, err := a.notes.Create(ctx, models.EntityTypeNote, "n", "", p1.ID)
	require.NoError(t, err)
	a.sync(t)
	b.sync(t)

	require.NoError(t, a.notes.Update(ctx, note.ID, "n", "", p2.ID))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, b.notes.Update(ctx, note.ID, "n", "", ""))

	a.sync(t)
	b.sync(t)
	b.sync(t)
	a.sync(t)

	requireConverged(t, a, b)
}

func TestTwoDevices_OfflineBatchCatchesUp(t *testing.T) {
	ctx := context.Background()
	a, b := newSyncPair(t)

	root, err := a.notes.Create(ctx, models.EntityTypeNote, "inbox", "", "")
	require.NoError(t, err)
	for _, title := range []string{"one", "two", "three"} {
		_, err := a.notes.Create(ctx, models.EntityTypeNote, title, "", root.ID)
		require.NoError(t, err)
	}

	res := a.sync(t)
	assert.Equal(t, 4, res.Pushed)

	res = b.sync(t)
	assert.Equal(t, 4, res.Pulled)

	children, err := b.notes.Children(ctx, root.ID)
	require.NoError(t, err)
	assert.Len(t, children, 3)

	requireConverged(t, a, b)
}
