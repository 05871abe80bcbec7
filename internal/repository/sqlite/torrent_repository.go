package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"torrra/internal/domain"
	"torrra/internal/repository"
)

const createTorrentsTable = `
CREATE TABLE IF NOT EXISTS torrents (
	magnet_uri TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0,
	source TEXT NOT NULL DEFAULT '',
	is_paused BOOLEAN NOT NULL DEFAULT 0,
	is_notified BOOLEAN NOT NULL DEFAULT 0
);
`

type TorrentRepository struct {
	db *sql.DB
}

func NewTorrentRepository(db *sql.DB) repository.TorrentRepository {
	return &TorrentRepository{db: db}
}

func (r *TorrentRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createTorrentsTable); err != nil {
		return fmt.Errorf("create torrents table: %w", err)
	}
	return r.ensureTorrentColumns(ctx)
}

// ensureTorrentColumns adds columns introduced after the first release to
// databases created by older builds.
func (r *TorrentRepository) ensureTorrentColumns(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, `PRAGMA table_info(torrents)`)
	if err != nil {
		return fmt.Errorf("describe torrents table: %w", err)
	}
	defer rows.Close()

	columns := map[string]struct{}{}
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("scan pragma table info: %w", err)
		}
		columns[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate pragma table info: %w", err)
	}

	if _, exists := columns["is_notified"]; !exists {
		if _, err := r.db.ExecContext(ctx, `ALTER TABLE torrents ADD COLUMN is_notified BOOLEAN NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("add column is_notified: %w", err)
		}
	}
	return nil
}

func (r *TorrentRepository) Create(ctx context.Context, t *domain.Torrent) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO torrents (magnet_uri, title, size, source, is_paused, is_notified)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (magnet_uri) DO NOTHING`,
		t.MagnetURI,
		t.Title,
		t.Size,
		t.Source,
		t.IsPaused,
		t.IsNotified,
	)
	if err != nil {
		return fmt.Errorf("insert torrent: %w", err)
	}
	return nil
}

func (r *TorrentRepository) Get(ctx context.Context, magnetURI string) (*domain.Torrent, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT magnet_uri, title, size, source, is_paused, is_notified
FROM torrents
WHERE magnet_uri = ?`,
		magnetURI,
	)
	return scanTorrent(row)
}

func (r *TorrentRepository) List(ctx context.Context) ([]domain.Torrent, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT magnet_uri, title, size, source, is_paused, is_notified
FROM torrents
ORDER BY rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("query torrents: %w", err)
	}
	defer rows.Close()

	var torrents []domain.Torrent
	for rows.Next() {
		t, err := scanTorrent(rows)
		if err != nil {
			return nil, err
		}
		torrents = append(torrents, *t)
	}
	return torrents, rows.Err()
}

func (r *TorrentRepository) UpdateMetadata(ctx context.Context, magnetURI, title string, size int64) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE torrents
SET title = ?, size = ?
WHERE magnet_uri = ?`,
		title,
		size,
		magnetURI,
	)
	if err != nil {
		return fmt.Errorf("update torrent metadata: %w", err)
	}
	return nil
}

func (r *TorrentRepository) UpdatePaused(ctx context.Context, magnetURI string, paused bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE torrents SET is_paused = ? WHERE magnet_uri = ?`, paused, magnetURI)
	if err != nil {
		return fmt.Errorf("update torrent paused flag: %w", err)
	}
	return nil
}

func (r *TorrentRepository) MarkNotified(ctx context.Context, magnetURI string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE torrents SET is_notified = 1 WHERE magnet_uri = ?`, magnetURI)
	if err != nil {
		return fmt.Errorf("mark torrent notified: %w", err)
	}
	return nil
}

func (r *TorrentRepository) Delete(ctx context.Context, magnetURI string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM torrents WHERE magnet_uri = ?`, magnetURI)
	if err != nil {
		return fmt.Errorf("delete torrent: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("torrent delete rows affected: %w", err)
	}
	if aff == 0 {
		return fmt.Errorf("torrent not found")
	}
	return nil
}

func scanTorrent(scanner interface {
	Scan(dest ...any) error
}) (*domain.Torrent, error) {
	var t domain.Torrent
	if err := scanner.Scan(
		&t.MagnetURI,
		&t.Title,
		&t.Size,
		&t.Source,
		&t.IsPaused,
		&t.IsNotified,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("torrent not found")
		}
		return nil, fmt.Errorf("scan torrent: %w", err)
	}
	return &t, nil
}
