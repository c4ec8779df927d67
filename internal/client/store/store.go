// Package store opens the local SQLite database, runs its migrations, and
// hands out repositories bound to it. Entities, journal and checkpoint all
// live in this one transactional file so a crash can never leave them
// mutually inconsistent.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"

	"github.com/souzou-notes/souzou/internal/client/migrations"
	"github.com/souzou-notes/souzou/internal/client/repositories/entities"
	"github.com/souzou-notes/souzou/internal/client/repositories/journal"
	"github.com/souzou-notes/souzou/internal/client/repositories/metadata"
)

// Store owns the local database handle and default (non-transactional)
// repositories. Transactional paths construct repositories over the tx via
// the repo package constructors.
type Store struct {
	DB       *sql.DB
	Entities entities.Repository
	Journal  journal.Repository
	Metadata metadata.Repository
}

// RunMigrations applies the embedded goose migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// Open opens (creating if necessary) the local database at dsn, applies
// migrations and returns a ready Store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// The engine serializes its own writes; a single connection avoids
	// SQLITE_BUSY between the edit path and a running sync cycle.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		DB:       db,
		Entities: entities.NewSQLiteRepository(db),
		Journal:  journal.NewSQLiteRepository(db),
		Metadata: metadata.NewSQLiteRepository(db),
	}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

// DeviceID returns this installation's stable device id, generating and
// persisting one on first use. The id becomes the Origin component of every
// local Stamp.
func (s *Store) DeviceID(ctx context.Context) (string, error) {
	raw, err := s.Metadata.Get(ctx, metadata.KeyDeviceID)
	if err != nil {
		return "", err
	}
	if len(raw) > 0 {
		return string(raw), nil
	}

	id := uuid.NewString()
	if err := s.Metadata.Set(ctx, metadata.KeyDeviceID, []byte(id)); err != nil {
		return "", err
	}
	return id, nil
}
