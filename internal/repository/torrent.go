package repository

import (
	"context"

	"torrra/internal/domain"
)

// TorrentRepository exposes persistence operations for torrent records.
type TorrentRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, t *domain.Torrent) error
	Get(ctx context.Context, magnetURI string) (*domain.Torrent, error)
	List(ctx context.Context) ([]domain.Torrent, error)
	UpdateMetadata(ctx context.Context, magnetURI, title string, size int64) error
	UpdatePaused(ctx context.Context, magnetURI string, paused bool) error
	MarkNotified(ctx context.Context, magnetURI string) error
	Delete(ctx context.Context, magnetURI string) error
}
