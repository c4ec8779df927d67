package repomanager

import (
	"context"
	"sync"

	"github.com/souzou-notes/souzou/internal/server/repositories/entities"
)

// InMemoryManager serializes units of work over a map-backed repository.
// There is no rollback: a failed unit may leave partial state. Fine for
// tests and local development, not for production.
type InMemoryManager struct {
	mu   sync.Mutex
	repo *entities.InMemoryRepository
}

func NewInMemoryManager() *InMemoryManager {
	return &InMemoryManager{repo: entities.NewInMemoryRepository()}
}

func (m *InMemoryManager) RunMigrations(ctx context.Context) error {
	return nil
}

func (m *InMemoryManager) InTx(ctx context.Context, fn func(ctx context.Context, repo entities.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, m.repo)
}
