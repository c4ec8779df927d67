// Package metadata is a small key/value store living in the same SQLite file
// as the entities and the journal. The sync checkpoint and the device id are
// kept here so they can never diverge from entity state across a crash.
package metadata

import "context"

// Keys used by the sync engine.
const (
	KeyCheckpoint = "sync_checkpoint"
	KeyDeviceID   = "device_id"
)

type Repository interface {
	// Get returns the value for key, or nil when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error

	// Checkpoint returns the last pulled remote cursor, 0 when never synced.
	Checkpoint(ctx context.Context) (int64, error)
	SetCheckpoint(ctx context.Context, cursor int64) error
}
