// Package syncer implements the offline-first synchronization engine: the
// Manager orchestrates pull/reconcile/push cycles against the remote
// gateway, the reconciler merges divergent histories, and the Bus tells the
// presentation layer when a cycle changed anything.
package syncer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/souzou-notes/souzou/internal/client/gateway"
	"github.com/souzou-notes/souzou/internal/client/repositories/metadata"
	"github.com/souzou-notes/souzou/internal/client/store"
	"github.com/souzou-notes/souzou/internal/dbx"
	"github.com/souzou-notes/souzou/internal/logging"
	"github.com/souzou-notes/souzou/internal/wire"
)

// State names the phase a cycle is in. Failures from any state fall back to
// StateIdle.
type State int32

const (
	StateIdle State = iota
	StatePulling
	StateReconciling
	StatePushing
)

func (s State) String() string {
	switch s {
	case StatePulling:
		return "pulling"
	case StateReconciling:
		return "reconciling"
	case StatePushing:
		return "pushing"
	default:
		return "idle"
	}
}

// Diagnostic reports a mutation the remote rejected. The pending change is
// kept; this only informs the user.
type Diagnostic struct {
	EntityID string
	Reason   string
}

// Config tunes a Manager.
type Config struct {
	// CallTimeout bounds each remote gateway call. A call exceeding it is a
	// transient failure that aborts only the current cycle.
	CallTimeout time.Duration

	// TombstoneRetention is how long confirmed tombstones are kept before
	// physical removal. Zero disables purging.
	TombstoneRetention time.Duration

	// OnDiagnostic, when set, receives rejection reports.
	OnDiagnostic func(Diagnostic)
}

// Manager owns the sync checkpoint and runs cycles. At most one cycle is in
// flight process-wide: concurrent RunCycle calls share the running cycle's
// result instead of issuing a second network round-trip.
type Manager struct {
	st     *store.Store
	gw     gateway.Gateway
	bus    *Bus
	rec    *reconciler
	cfg    Config
	logger logging.Logger

	group singleflight.Group
	state atomic.Int32
}

func NewManager(st *store.Store, gw gateway.Gateway, bus *Bus, cfg Config, logger logging.Logger) *Manager {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &Manager{
		st:     st,
		gw:     gw,
		bus:    bus,
		rec:    newReconciler(logger),
		cfg:    cfg,
		logger: logger.With("module", "syncer"),
	}
}

// State returns the phase of the in-flight cycle, or StateIdle.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// OnSyncCompleted subscribes fn to cycle completions.
func (m *Manager) OnSyncCompleted(fn func(Result)) (unsubscribe func()) {
	return m.bus.Subscribe(fn)
}

// RunCycle runs one pull-then-push cycle and returns what it changed. Safe
// to call concurrently and repeatedly: a call made while a cycle is in
// flight attaches to that cycle and returns its result.
func (m *Manager) RunCycle(ctx context.Context) (Result, error) {
	v, err, _ := m.group.Do("cycle", func() (any, error) {
		return m.runCycle(ctx)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// RunPeriodic runs cycles every interval until ctx is cancelled. Errors are
// logged and the loop keeps going; the next tick is the retry.
func (m *Manager) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.RunCycle(ctx); err != nil {
				m.logger.Warn(ctx, "sync cycle failed", "error", err)
			}
		}
	}
}

func (m *Manager) runCycle(ctx context.Context) (result Result, err error) {
	defer m.state.Store(int32(StateIdle))

	checkpoint, err := m.st.Metadata.Checkpoint(ctx)
	if err != nil {
		return Result{}, err
	}

	// Pull. The only suspension points of a cycle are the two gateway
	// calls; both run under a bounded timeout.
	m.state.Store(int32(StatePulling))
	pullCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	pull, err := m.gw.Pull(pullCtx, checkpoint)
	cancel()
	if err != nil {
		return Result{}, fmt.Errorf("pull failed: %w", err)
	}

	// Reconcile the pulled batch before anything is pushed, so a push
	// never sends a mutation whose base state is already known stale.
	m.state.Store(int32(StateReconciling))
	var pulled int
	err = dbx.WithTx(ctx, m.st.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		if pulled, err = m.rec.mergePull(ctx, tx, pull.Entities); err != nil {
			return err
		}
		return m.rec.repairTree(ctx, tx)
	})
	if err != nil {
		return Result{}, fmt.Errorf("pull merge failed: %w", err)
	}

	// Push whatever is pending after the merge.
	batch, err := m.buildPushBatch(ctx)
	if err != nil {
		return Result{}, err
	}

	var outcomes []wire.Outcome
	if len(batch) > 0 {
		m.state.Store(int32(StatePushing))
		pushCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
		outcomes, err = m.gw.Push(pushCtx, batch)
		cancel()
		if err != nil {
			return Result{}, fmt.Errorf("push failed: %w", err)
		}
	}

	// Final merge; advancing the checkpoint is the last durable write of
	// the cycle, inside the same transaction, so an abort anywhere above
	// leaves the cycle fully re-runnable from the previous checkpoint.
	m.state.Store(int32(StateReconciling))
	var pushed int
	var diags []Diagnostic
	err = dbx.WithTx(ctx, m.st.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		if pushed, diags, err = m.rec.mergePush(ctx, tx, batch, outcomes); err != nil {
			return err
		}
		if pull.Cursor > checkpoint {
			return metadata.NewSQLiteRepository(tx).SetCheckpoint(ctx, pull.Cursor)
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("push merge failed: %w", err)
	}

	m.purgeTombstones(ctx)

	result = Result{Pulled: pulled, Pushed: pushed}
	m.logger.Info(ctx, "sync cycle complete", "pulled", pulled, "pushed", pushed, "checkpoint", pull.Cursor)

	m.bus.Publish(result)
	if m.cfg.OnDiagnostic != nil {
		for _, d := range diags {
			m.cfg.OnDiagnostic(d)
		}
	}
	return result, nil
}

func (m *Manager) buildPushBatch(ctx context.Context) ([]wire.Mutation, error) {
	pending, err := m.st.Journal.Pending(ctx)
	if err != nil {
		return nil, err
	}

	batch := make([]wire.Mutation, 0, len(pending))
	for _, p := range pending {
		e, err := m.st.Entities.Get(ctx, p.EntityID)
		if err != nil {
			// A journal row without an entity row cannot happen through the
			// edit API; drop it rather than wedge the push forever.
			m.logger.Warn(ctx, "journal entry without entity, dropping", "entity", p.EntityID, "error", err)
			if clearErr := m.st.Journal.Clear(ctx, p.EntityID); clearErr != nil {
				return nil, clearErr
			}
			continue
		}
		batch = append(batch, wire.Mutation{
			ID:      p.EntityID,
			Op:      string(p.Op),
			BaseRev: e.Rev,
			Entity:  e.ToWire(),
		})
	}
	return orderParentsFirst(batch), nil
}

// orderParentsFirst reorders batch so a mutation never precedes the create
// of its parent within the same batch. The server validates parents one
// mutation at a time, so a child arriving first would bounce.
func orderParentsFirst(batch []wire.Mutation) []wire.Mutation {
	index := make(map[string]int, len(batch))
	for i, m := range batch {
		index[m.ID] = i
	}

	ordered := make([]wire.Mutation, 0, len(batch))
	emitted := make([]bool, len(batch))
	var emit func(i int)
	emit = func(i int) {
		if emitted[i] {
			return
		}
		emitted[i] = true
		if e := batch[i].Entity; e != nil && e.ParentID != "" {
			if j, ok := index[e.ParentID]; ok {
				emit(j)
			}
		}
		ordered = append(ordered, batch[i])
	}
	for i := range batch {
		emit(i)
	}
	return ordered
}

func (m *Manager) purgeTombstones(ctx context.Context) {
	if m.cfg.TombstoneRetention <= 0 {
		return
	}
	cutoff := time.Now().Add(-m.cfg.TombstoneRetention).UnixMilli()
	n, err := m.st.Entities.PurgeTombstones(ctx, cutoff)
	if err != nil {
		m.logger.Warn(ctx, "tombstone purge failed", "error", err)
		return
	}
	if n > 0 {
		m.logger.Debug(ctx, "purged tombstones", "count", n)
	}
}
