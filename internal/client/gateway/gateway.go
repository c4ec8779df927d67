// Package gateway abstracts the network-facing remote authority. The sync
// engine depends only on the two logical operations defined here plus the
// media upload helper; the HTTP implementation lives in http.go.
package gateway

import (
	"context"

	"github.com/souzou-notes/souzou/internal/wire"
)

// Gateway is the engine's view of the remote authority.
//
// Pull returns every entity changed since checkpoint (each already carrying
// its authoritative revision, in no particular order) plus the new cursor.
//
// Push submits a batch of pending mutations and returns one outcome per
// mutation: accepted, conflict (carrying the authoritative state, not an
// error) or rejected (carrying a reason).
type Gateway interface {
	Pull(ctx context.Context, checkpoint int64) (*wire.PullResponse, error)
	Push(ctx context.Context, batch []wire.Mutation) ([]wire.Outcome, error)

	// MediaUploadURL asks for a presigned URL to upload one media blob.
	MediaUploadURL(ctx context.Context) (key, url string, err error)
}
