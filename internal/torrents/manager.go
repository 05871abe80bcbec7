package torrents

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"torrra/internal/domain"
	"torrra/internal/engine"
)

// Records receives torrent metadata once the engine exposes it.
type Records interface {
	UpdateMetadata(ctx context.Context, magnetURI, title string, size int64) error
}

type Config struct {
	SavePath       string
	DisableSeeding bool
	Logger         *logrus.Logger
}

// Manager owns the set of torrents attached to the engine and keeps a
// single authoritative handle per magnet URI.
type Manager struct {
	cfg     Config
	session engine.Session
	resume  *ResumeStore
	records Records

	// handles and metadataSeen are only touched from the tick loop and
	// the API goroutines; the mutex covers both.
	mu           sync.Mutex
	handles      map[string]engine.Handle
	metadataSeen map[string]struct{}
}

func NewManager(cfg Config, session engine.Session, resume *ResumeStore, records Records) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Manager{
		cfg:          cfg,
		session:      session,
		resume:       resume,
		records:      records,
		handles:      make(map[string]engine.Handle),
		metadataSeen: make(map[string]struct{}),
	}
}

// Add attaches a torrent to the engine. Calling it again for an
// attached torrent only reconciles the paused flag. A stored resume
// blob is preferred over a cold start; a corrupt blob is deleted and
// the add falls through to a cold start.
func (m *Manager) Add(magnetURI string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger := m.cfg.Logger.WithField("magnet_uri", magnetURI)

	if h, ok := m.handles[magnetURI]; ok {
		if !h.Valid() {
			delete(m.handles, magnetURI)
		} else {
			if h.Paused() != paused {
				if paused {
					h.Pause()
				} else {
					h.Resume()
				}
			}
			return nil
		}
	}

	if m.resume.Exists(magnetURI) {
		blob, err := m.resume.Load(magnetURI)
		if err == nil {
			h, addErr := m.session.AddFromResumeBlob(magnetURI, blob, m.cfg.SavePath, paused)
			if addErr == nil {
				m.handles[magnetURI] = h
				return nil
			}
			err = addErr
		}
		logger.Warnf("resume blob unusable, cold starting: %v", err)
		if err := m.resume.Delete(magnetURI); err != nil {
			logger.Warnf("delete resume blob: %v", err)
		}
	}

	h, err := m.session.AddFromMagnet(magnetURI, m.cfg.SavePath, paused)
	if err != nil {
		return err
	}
	m.handles[magnetURI] = h
	return nil
}

// Remove detaches the torrent and drops its resume blob. Removing an
// unknown torrent only clears any leftover blob.
func (m *Manager) Remove(magnetURI string) {
	m.mu.Lock()
	if h, ok := m.handles[magnetURI]; ok {
		m.session.Remove(h)
		delete(m.handles, magnetURI)
	}
	delete(m.metadataSeen, magnetURI)
	m.mu.Unlock()

	if err := m.resume.Delete(magnetURI); err != nil {
		m.cfg.Logger.WithField("magnet_uri", magnetURI).Warnf("remove resume blob: %v", err)
	}
}

// TogglePause flips the live paused flag. No-op for unknown or invalid handles.
func (m *Manager) TogglePause(magnetURI string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.handles[magnetURI]
	if !ok || !h.Valid() {
		return
	}
	if h.Paused() {
		h.Resume()
	} else {
		h.Pause()
	}
}

// Status returns the live status, or false when the torrent is not
// attached or its handle became invalid.
func (m *Manager) Status(magnetURI string) (domain.TorrentStatus, bool) {
	m.mu.Lock()
	h, ok := m.handles[magnetURI]
	m.mu.Unlock()

	if !ok || !h.Valid() {
		return domain.TorrentStatus{}, false
	}
	return h.Status(), true
}

// Files lists the absolute paths of the torrent's files. Empty until
// the engine reports metadata.
func (m *Manager) Files(magnetURI string) []string {
	m.mu.Lock()
	h, ok := m.handles[magnetURI]
	m.mu.Unlock()

	if !ok || !h.Valid() || !h.HasMetadata() {
		return nil
	}

	infos := h.Files()
	paths := make([]string, len(infos))
	for i, fi := range infos {
		paths[i] = filepath.Join(m.cfg.SavePath, fi.Path)
	}
	return paths
}

// Attached lists the magnet URIs currently tracked by the manager.
func (m *Manager) Attached() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	uris := make([]string, 0, len(m.handles))
	for uri := range m.handles {
		uris = append(uris, uri)
	}
	return uris
}

// RefreshMetadata captures each torrent's title and size the first time
// metadata becomes available and hands them to the record store. A
// failed persist is retried on the next tick; a captured torrent is
// never re-captured.
func (m *Manager) RefreshMetadata(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for uri, h := range m.handles {
		if _, seen := m.metadataSeen[uri]; seen {
			continue
		}
		if !h.Valid() || !h.HasMetadata() {
			continue
		}
		title := h.Title()
		size := h.TotalSize()
		if title == "" && size == 0 {
			// metadata not fully readable yet, try again next tick
			continue
		}
		if err := m.records.UpdateMetadata(ctx, uri, title, size); err != nil {
			m.cfg.Logger.WithField("magnet_uri", uri).Warnf("persist metadata: %v", err)
			continue
		}
		m.metadataSeen[uri] = struct{}{}
	}
}

// EnforceSeedingPolicy pauses unpaused torrents that are seeding or
// completed when seeding is disabled. Runs every tick; idempotent.
func (m *Manager) EnforceSeedingPolicy() {
	if !m.cfg.DisableSeeding {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range m.handles {
		if !h.Valid() || h.Paused() {
			continue
		}
		switch h.Status().State {
		case domain.TorrentStateSeeding, domain.TorrentStateCompleted:
			h.Pause()
		}
	}
}

// FlushResumeData requests a resume snapshot for every metadata-ready
// torrent and persists the blobs as the engine produces them. Bounded
// by the context deadline: torrents whose snapshot never arrives are
// skipped, so this is safe to call during shutdown.
func (m *Manager) FlushResumeData(ctx context.Context) {
	m.mu.Lock()
	pending := make(map[string]struct{})
	for uri, h := range m.handles {
		if !h.Valid() || !h.HasMetadata() {
			continue
		}
		h.RequestResumeSnapshot()
		pending[uri] = struct{}{}
	}
	m.mu.Unlock()

	for len(pending) > 0 {
		for _, ev := range m.session.PollEvents() {
			if _, ok := pending[ev.MagnetURI]; !ok {
				continue
			}
			delete(pending, ev.MagnetURI)
			if ev.Failed {
				continue
			}
			if err := m.resume.Save(ev.MagnetURI, ev.Blob); err != nil {
				m.cfg.Logger.WithField("magnet_uri", ev.MagnetURI).Warnf("save resume blob: %v", err)
			}
		}
		if len(pending) == 0 {
			return
		}
		select {
		case <-ctx.Done():
			m.cfg.Logger.Debugf("resume flush deadline reached, %d torrents skipped", len(pending))
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
}
