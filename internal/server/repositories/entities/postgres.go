// Package entities provides PostgreSQL-backed storage for the authoritative
// entity table and the sync queries over it.
package entities

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/souzou-notes/souzou/internal/common"
	"github.com/souzou-notes/souzou/internal/dbx"
	"github.com/souzou-notes/souzou/internal/server/models"
)

const entityColumns = `id, type, title, content, parent_id, deleted, rev,
	updated_wall_ms, updated_seq, updated_origin, created_at_ms`

// PostgresRepository implements entity storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Entity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = $1`, id)

	var e models.Entity
	err := row.Scan(&e.ID, &e.Type, &e.Title, &e.Content, &e.ParentID, &e.Deleted, &e.Rev,
		&e.UpdatedWallMS, &e.UpdatedSeq, &e.UpdatedOrigin, &e.CreatedAtMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select entity: %w", err)
	}
	return &e, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, e *models.Entity) error {
	query := `
		INSERT INTO entities (` + entityColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id)
		DO UPDATE SET
			type = EXCLUDED.type,
			title = EXCLUDED.title,
			content = EXCLUDED.content,
			parent_id = EXCLUDED.parent_id,
			deleted = EXCLUDED.deleted,
			rev = EXCLUDED.rev,
			updated_wall_ms = EXCLUDED.updated_wall_ms,
			updated_seq = EXCLUDED.updated_seq,
			updated_origin = EXCLUDED.updated_origin;
	`
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.Type, e.Title, e.Content, e.ParentID, e.Deleted, e.Rev,
		e.UpdatedWallMS, e.UpdatedSeq, e.UpdatedOrigin, e.CreatedAtMS)
	if err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SelectUpdated(ctx context.Context, minRev int64) ([]*models.Entity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE rev > $1 ORDER BY rev`, minRev)
	if err != nil {
		return nil, fmt.Errorf("failed to select entities: %w", err)
	}
	defer rows.Close()

	var result []*models.Entity
	for rows.Next() {
		var e models.Entity
		if err := rows.Scan(&e.ID, &e.Type, &e.Title, &e.Content, &e.ParentID, &e.Deleted, &e.Rev,
			&e.UpdatedWallMS, &e.UpdatedSeq, &e.UpdatedOrigin, &e.CreatedAtMS); err != nil {
			return nil, err
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) MaxRev(ctx context.Context) (int64, error) {
	var rev int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(rev), 0) FROM entities`).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("failed to select max rev: %w", err)
	}
	return rev, nil
}

func (r *PostgresRepository) NextRev(ctx context.Context) (int64, error) {
	var rev int64
	err := r.db.QueryRowContext(ctx, `SELECT nextval('entity_rev_seq')`).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate rev: %w", err)
	}
	return rev, nil
}
