package entities

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/souzou-notes/souzou/internal/client/models"
	"github.com/souzou-notes/souzou/internal/common"
	"github.com/souzou-notes/souzou/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const entityColumns = `id, type, title, content, parent_id, deleted, rev, updated_wall_ms, updated_seq, updated_origin, created_at_ms`

func scanEntity(scan func(dest ...any) error) (*models.Entity, error) {
	e := &models.Entity{}
	var deleted int
	err := scan(&e.ID, &e.Type, &e.Title, &e.Content, &e.ParentID, &deleted,
		&e.Rev, &e.UpdatedAt.WallMS, &e.UpdatedAt.Seq, &e.UpdatedAt.Origin, &e.CreatedAtMS)
	if err != nil {
		return nil, err
	}
	e.Deleted = deleted != 0
	return e, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Entity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, e *models.Entity) error {
	query := `INSERT INTO entities (` + entityColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			title = excluded.title,
			content = excluded.content,
			parent_id = excluded.parent_id,
			deleted = excluded.deleted,
			rev = excluded.rev,
			updated_wall_ms = excluded.updated_wall_ms,
			updated_seq = excluded.updated_seq,
			updated_origin = excluded.updated_origin
	`
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.Type, e.Title, e.Content, e.ParentID, boolToInt(e.Deleted),
		e.Rev, e.UpdatedAt.WallMS, e.UpdatedAt.Seq, e.UpdatedAt.Origin, e.CreatedAtMS)
	if err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) SetRev(ctx context.Context, id string, rev int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE entities SET rev = ? WHERE id = ?`, rev, id)
	if err != nil {
		return fmt.Errorf("failed to set rev: %w", err)
	}
	return expectOneRow(res)
}

func (r *SQLiteRepository) SetParent(ctx context.Context, id, parentID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE entities SET parent_id = ? WHERE id = ?`, parentID, id)
	if err != nil {
		return fmt.Errorf("failed to set parent: %w", err)
	}
	return expectOneRow(res)
}

func (r *SQLiteRepository) ListChildren(ctx context.Context, parentID string) ([]*models.Entity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE parent_id = ? AND deleted = 0 ORDER BY created_at_ms, id`,
		parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to select children: %w", err)
	}
	return collectEntities(rows)
}

func (r *SQLiteRepository) ListAll(ctx context.Context) ([]*models.Entity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE deleted = 0 ORDER BY created_at_ms, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select entities: %w", err)
	}
	result, err := collectEntities(rows)
	if err != nil {
		return nil, err
	}

	// Rows are already in sibling order, so the derived child lists are too.
	children := make(map[string][]string)
	for _, e := range result {
		if e.ParentID != "" {
			children[e.ParentID] = append(children[e.ParentID], e.ID)
		}
	}
	for _, e := range result {
		e.ChildIDs = children[e.ID]
	}
	return result, nil
}

func (r *SQLiteRepository) ListRefs(ctx context.Context) ([]Ref, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, parent_id, deleted FROM entities`)
	if err != nil {
		return nil, fmt.Errorf("failed to select refs: %w", err)
	}
	defer rows.Close()

	var result []Ref
	for rows.Next() {
		var ref Ref
		var deleted int
		if err := rows.Scan(&ref.ID, &ref.ParentID, &deleted); err != nil {
			return nil, err
		}
		ref.Deleted = deleted != 0
		result = append(result, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *SQLiteRepository) HardDelete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to hard-delete entity: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) PurgeTombstones(ctx context.Context, beforeWallMS int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM entities WHERE deleted = 1 AND rev > 0 AND updated_wall_ms < ?`, beforeWallMS)
	if err != nil {
		return 0, fmt.Errorf("failed to purge tombstones: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func collectEntities(rows *sql.Rows) ([]*models.Entity, error) {
	defer rows.Close()

	var result []*models.Entity
	for rows.Next() {
		e, err := scanEntity(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func expectOneRow(res sql.Result) error {
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
