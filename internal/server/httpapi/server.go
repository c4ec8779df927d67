// Package httpapi exposes the sync authority over HTTP/JSON.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/souzou-notes/souzou/internal/logging"
	"github.com/souzou-notes/souzou/internal/server/services"
)

type HTTPServer struct {
	address   string
	sync      *services.SyncService
	media     *services.MediaService
	logger    logging.Logger
	jwtSecret []byte
}

func NewHTTPServer(addr string, logger logging.Logger, sync *services.SyncService, media *services.MediaService, secretKey string) *HTTPServer {
	return &HTTPServer{
		address:   addr,
		logger:    logger.With("module", "http_server"),
		sync:      sync,
		media:     media,
		jwtSecret: []byte(secretKey),
	}
}

// Handler returns the full route table. Exposed separately so tests can
// drive it through httptest without binding a port.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /api/sync/pull", s.withAuth(http.HandlerFunc(s.handlePull)))
	mux.Handle("POST /api/sync/push", s.withAuth(http.HandlerFunc(s.handlePush)))
	mux.Handle("GET /api/media/upload-url", s.withAuth(http.HandlerFunc(s.handleUploadURL)))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
