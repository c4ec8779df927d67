// Package server initializes and runs the sync backend: storage, the sync
// authority, media presigning and the HTTP endpoint, with graceful shutdown
// on OS signals.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/souzou-notes/souzou/internal/logging"
	"github.com/souzou-notes/souzou/internal/server/config"
	"github.com/souzou-notes/souzou/internal/server/httpapi"
	"github.com/souzou-notes/souzou/internal/server/repositories/repomanager"
	"github.com/souzou-notes/souzou/internal/server/services"
)

type App struct {
	config *config.Config
	logger logging.Logger
	sync   *services.SyncService
	media  *services.MediaService
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	var mgr repomanager.Manager
	if c.DatabaseDSN == "" {
		logger.Warn(ctx, "no database DSN configured, using in-memory storage")
		mgr = repomanager.NewInMemoryManager()
	} else {
		pg, err := repomanager.NewPostgresManager(c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		mgr = pg
	}

	if err := mgr.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return &App{
		config: c,
		logger: logger,
		sync:   services.NewSyncService(mgr, logger),
		media:  services.NewMediaService(c),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := httpapi.NewHTTPServer(app.config.EndpointAddr, app.logger, app.sync, app.media, app.config.SecretKey)

	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()
}
