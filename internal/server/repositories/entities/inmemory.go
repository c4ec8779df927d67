package entities

import (
	"context"
	"sort"
	"sync"

	"github.com/souzou-notes/souzou/internal/common"
	"github.com/souzou-notes/souzou/internal/server/models"
)

// InMemoryRepository is a map-backed Repository used in tests and for
// running the server without PostgreSQL.
type InMemoryRepository struct {
	mu      sync.RWMutex
	rows    map[string]models.Entity
	lastRev int64
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{rows: make(map[string]models.Entity)}
}

func (r *InMemoryRepository) Get(ctx context.Context, id string) (*models.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.rows[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &e, nil
}

func (r *InMemoryRepository) Upsert(ctx context.Context, e *models.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.rows[e.ID]; ok {
		// created_at_ms is immutable, same as the SQL upsert.
		c := *e
		c.CreatedAtMS = existing.CreatedAtMS
		r.rows[e.ID] = c
		return nil
	}
	r.rows[e.ID] = *e
	return nil
}

func (r *InMemoryRepository) SelectUpdated(ctx context.Context, minRev int64) ([]*models.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []*models.Entity
	for _, e := range r.rows {
		if e.Rev > minRev {
			c := e
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Rev < result[j].Rev })
	return result, nil
}

func (r *InMemoryRepository) MaxRev(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var max int64
	for _, e := range r.rows {
		if e.Rev > max {
			max = e.Rev
		}
	}
	return max, nil
}

func (r *InMemoryRepository) NextRev(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRev++
	return r.lastRev, nil
}
