package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

func (r *SQLiteRepository) Record(ctx context.Context, entityID string, op models.Operation, stamp models.Stamp) (bool, error) {
	existing, err := r.Get(ctx, entityID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return false, err
	}

	var existingOp models.Operation
	if existing != nil {
		existingOp = existing.Op
	}

	next, kept := models.CoalesceOp(existingOp, op)
	if !kept {
		if err := r.Clear(ctx, entityID); err != nil {
			return false, err
		}
		return false, nil
	}

	return true, r.Put(ctx, &models.JournalEntry{EntityID: entityID, Op: next, Stamp: stamp})
}

func (r *SQLiteRepository) Put(ctx context.Context, e *models.JournalEntry) error {
	query := `INSERT INTO journal (entity_id, op, wall_ms, seq, origin)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			op = excluded.op,
			wall_ms = excluded.wall_ms,
			seq = excluded.seq,
			origin = excluded.origin
	`
	_, err := r.db.ExecContext(ctx, query, e.EntityID, e.Op, e.Stamp.WallMS, e.Stamp.Seq, e.Stamp.Origin)
	if err != nil {
		return fmt.Errorf("failed to put journal entry: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, entityID string) (*models.JournalEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT entity_id, op, wall_ms, seq, origin FROM journal WHERE entity_id = ?`, entityID)

	e := &models.JournalEntry{}
	err := row.Scan(&e.EntityID, &e.Op, &e.Stamp.WallMS, &e.Stamp.Seq, &e.Stamp.Origin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get journal entry: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) Pending(ctx context.Context) ([]*models.JournalEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT entity_id, op, wall_ms, seq, origin FROM journal ORDER BY entity_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select journal entries: %w", err)
	}
	defer rows.Close()

	var result []*models.JournalEntry
	for rows.Next() {
		e := &models.JournalEntry{}
		if err := rows.Scan(&e.EntityID, &e.Op, &e.Stamp.WallMS, &e.Stamp.Seq, &e.Stamp.Origin); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) ClearIfStamp(ctx context.Context, entityID string, stamp models.Stamp) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM journal WHERE entity_id = ? AND wall_ms = ? AND seq = ? AND origin = ?`,
		entityID, stamp.WallMS, stamp.Seq, stamp.Origin)
	if err != nil {
		return false, fmt.Errorf("failed to clear journal entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SQLiteRepository) Clear(ctx context.Context, entityID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM journal WHERE entity_id = ?`, entityID)
	if err != nil {
		return fmt.Errorf("failed to clear journal entry: %w", err)
	}
	return nil
}
