// Package cli is the interactive client: a small REPL over the local note
// store with background synchronization.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "modernc.org/sqlite"

	"github.com/souzou-notes/souzou/internal/client/config"
	"github.com/souzou-notes/souzou/internal/client/gateway"
	"github.com/souzou-notes/souzou/internal/client/models"
	"github.com/souzou-notes/souzou/internal/client/services"
	"github.com/souzou-notes/souzou/internal/client/store"
	"github.com/souzou-notes/souzou/internal/client/syncer"
	"github.com/souzou-notes/souzou/internal/filex"
	"github.com/souzou-notes/souzou/internal/logging"
)

type App struct {
	config  *config.Config
	store   *store.Store
	notes   *services.NoteService
	media   *services.MediaService
	manager *syncer.Manager
	logger  logging.Logger
	reader  *bufio.Reader
}

func NewApp(c *config.Config) (*App, error) {
	ctx := context.Background()

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if c.DatabaseDSN != ":memory:" {
		if _, err := filex.EnsureParentDir(c.DatabaseDSN); err != nil {
			return nil, fmt.Errorf("error preparing data directory: %w", err)
		}
	}

	st, err := store.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}

	deviceID, err := st.DeviceID(ctx)
	if err != nil {
		return nil, err
	}

	clock := models.NewClock(deviceID)
	gw := gateway.NewHTTPGateway(c.ServerURL, deviceID, []byte(c.SecretKey), c.RequestTimeout)

	notes := services.NewNoteService(st, clock, logger)
	media := services.NewMediaService(notes, gw)

	manager := syncer.NewManager(st, gw, syncer.NewBus(), syncer.Config{
		CallTimeout:        c.RequestTimeout,
		TombstoneRetention: c.TombstoneRetention,
		OnDiagnostic: func(d syncer.Diagnostic) {
			fmt.Printf("change to %s was rejected: %s\n", d.EntityID, d.Reason)
		},
	}, logger)

	return &App{
		config:  c,
		store:   st,
		notes:   notes,
		media:   media,
		manager: manager,
		logger:  logger,
		reader:  bufio.NewReader(os.Stdin),
	}, nil
}

func (a *App) Run(ctx context.Context) {
	defer func() { _ = a.store.Close() }()

	unsubscribe := a.manager.OnSyncCompleted(func(r syncer.Result) {
		if r.Pulled > 0 || r.Pushed > 0 {
			fmt.Printf("synced: %d pulled, %d pushed\n", r.Pulled, r.Pushed)
		}
	})
	defer unsubscribe()

	go a.manager.RunPeriodic(ctx, a.config.SyncInterval)

	a.runREPL(ctx)
}
