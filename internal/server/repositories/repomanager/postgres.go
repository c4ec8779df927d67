// Package repomanager provides concrete Managers wiring repositories to
// their backing storage, plus schema migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/souzou-notes/souzou/internal/dbx"
	"github.com/souzou-notes/souzou/internal/server/migrations"
	"github.com/souzou-notes/souzou/internal/server/repositories/entities"
)

type PostgresManager struct {
	db *sql.DB
}

// NewPostgresManager opens a pgx connection pool for the given DSN.
func NewPostgresManager(dsn string) (*PostgresManager, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	return &PostgresManager{db: db}, nil
}

// RunMigrations sets up goose with the embedded migrations and runs them.
func (m *PostgresManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return goose.UpContext(ctx, m.db, ".")
}

func (m *PostgresManager) InTx(ctx context.Context, fn func(ctx context.Context, repo entities.Repository) error) error {
	return dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, entities.NewPostgresRepository(tx))
	})
}

func (m *PostgresManager) Close() error {
	return m.db.Close()
}
