package service

import (
	"context"
	"errors"
	"strings"

	"torrra/internal/domain"
	"torrra/internal/repository"
)

// TorrentService coordinates torrent record operations backed by the repository.
type TorrentService interface {
	CreateTorrent(ctx context.Context, magnetURI, source string, paused bool) (*domain.Torrent, error)
	GetTorrent(ctx context.Context, magnetURI string) (*domain.Torrent, error)
	ListTorrents(ctx context.Context) ([]domain.Torrent, error)
	UpdateMetadata(ctx context.Context, magnetURI, title string, size int64) error
	SetPaused(ctx context.Context, magnetURI string, paused bool) error
	MarkNotified(ctx context.Context, magnetURI string) error
	DeleteTorrent(ctx context.Context, magnetURI string) error
}

type torrentService struct {
	torrents repository.TorrentRepository
}

func NewTorrentService(torrents repository.TorrentRepository) TorrentService {
	return &torrentService{torrents: torrents}
}

func (s *torrentService) CreateTorrent(ctx context.Context, magnetURI, source string, paused bool) (*domain.Torrent, error) {
	magnetURI = strings.TrimSpace(magnetURI)
	if magnetURI == "" {
		return nil, errors.New("magnet URI is required")
	}

	t := &domain.Torrent{
		MagnetURI: magnetURI,
		Source:    source,
		IsPaused:  paused,
	}
	if err := s.torrents.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *torrentService) GetTorrent(ctx context.Context, magnetURI string) (*domain.Torrent, error) {
	return s.torrents.Get(ctx, magnetURI)
}

func (s *torrentService) ListTorrents(ctx context.Context) ([]domain.Torrent, error) {
	return s.torrents.List(ctx)
}

func (s *torrentService) UpdateMetadata(ctx context.Context, magnetURI, title string, size int64) error {
	return s.torrents.UpdateMetadata(ctx, magnetURI, title, size)
}

func (s *torrentService) SetPaused(ctx context.Context, magnetURI string, paused bool) error {
	return s.torrents.UpdatePaused(ctx, magnetURI, paused)
}

func (s *torrentService) MarkNotified(ctx context.Context, magnetURI string) error {
	return s.torrents.MarkNotified(ctx, magnetURI)
}

func (s *torrentService) DeleteTorrent(ctx context.Context, magnetURI string) error {
	return s.torrents.Delete(ctx, magnetURI)
}
