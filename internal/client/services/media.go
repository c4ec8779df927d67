package services

import (
	"context"
	"fmt"

	"github.com/souzou-notes/souzou/internal/client/gateway"
	"github.com/souzou-notes/souzou/internal/client/models"
	"github.com/souzou-notes/souzou/internal/netx"
)

// MediaService stores media blobs out-of-band: the blob goes straight to
// object storage via a presigned URL, and only the storage key travels
// through the sync engine as a media entity's content.
type MediaService struct {
	notes *NoteService
	gw    gateway.Gateway
}

func NewMediaService(notes *NoteService, gw gateway.Gateway) *MediaService {
	return &MediaService{notes: notes, gw: gw}
}

// Upload pushes blob to object storage and creates a media entity under
// parentID whose content is the storage key. Unlike note edits this needs
// the network; offline media capture is queued by the caller until online.
func (s *MediaService) Upload(ctx context.Context, title, parentID string, blob []byte) (*models.Entity, error) {
	key, url, err := s.gw.MediaUploadURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get upload url: %w", err)
	}

	if err := netx.UploadToPresignedURL(ctx, url, blob); err != nil {
		return nil, fmt.Errorf("failed to upload media: %w", err)
	}

	return s.notes.Create(ctx, models.EntityTypeMedia, title, key, parentID)
}
