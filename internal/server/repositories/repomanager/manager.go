package repomanager

import (
	"context"

	"github.com/souzou-notes/souzou/internal/server/repositories/entities"
)

// Manager vends repositories and scopes units of work. InTx runs fn against
// a repository bound to a single transaction; an error from fn rolls the
// whole unit back.
type Manager interface {
	RunMigrations(ctx context.Context) error
	InTx(ctx context.Context, fn func(ctx context.Context, repo entities.Repository) error) error
}
