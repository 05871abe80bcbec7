package anacrolix

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"github.com/sirupsen/logrus"

	"torrra/internal/domain"
	"torrra/internal/engine"
)

// value restored when resuming a paused torrent
const defaultMaxConns = 55

// eventBuffer bounds pending snapshot events; a full buffer drops the
// oldest unread event rather than blocking the producer.
const eventBuffer = 64

type Config struct {
	ListenAddr string
	Logger     *logrus.Logger
}

// Session adapts an anacrolix/torrent client to the engine capability.
type Session struct {
	client *torrent.Client
	logger *logrus.Logger

	mu     sync.Mutex
	events chan engine.Event
}

func NewSession(cfg Config) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	clientConfig := torrent.NewDefaultClientConfig()
	clientConfig.Seed = true
	if cfg.ListenAddr != "" {
		clientConfig.SetListenAddr(cfg.ListenAddr)
	}

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create torrent client: %w", err)
	}

	return &Session{
		client: client,
		logger: cfg.Logger,
		events: make(chan engine.Event, eventBuffer),
	}, nil
}

func (s *Session) AddFromMagnet(magnetURI, savePath string, startPaused bool) (engine.Handle, error) {
	spec, err := torrent.TorrentSpecFromMagnetUri(magnetURI)
	if err != nil {
		return nil, fmt.Errorf("parse magnet uri: %w", err)
	}
	return s.addSpec(magnetURI, spec, savePath, startPaused)
}

func (s *Session) AddFromResumeBlob(magnetURI string, blob []byte, savePath string, startPaused bool) (engine.Handle, error) {
	mi, err := metainfo.Load(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("decode resume blob: %w", err)
	}
	spec, err := torrent.TorrentSpecFromMetaInfoErr(mi)
	if err != nil {
		return nil, fmt.Errorf("resume blob spec: %w", err)
	}
	return s.addSpec(magnetURI, spec, savePath, startPaused)
}

func (s *Session) addSpec(magnetURI string, spec *torrent.TorrentSpec, savePath string, startPaused bool) (engine.Handle, error) {
	spec.Storage = storage.NewFile(savePath)

	t, _, err := s.client.AddTorrentSpec(spec)
	if err != nil {
		return nil, fmt.Errorf("add torrent: %w", err)
	}

	h := &handle{
		session:   s,
		torrent:   t,
		magnetURI: magnetURI,
		savePath:  savePath,
		lastTime:  time.Now(),
	}
	if startPaused {
		h.Pause()
	} else {
		go func() {
			<-t.GotInfo()
			if !h.Paused() && h.Valid() {
				t.DownloadAll()
			}
		}()
	}
	return h, nil
}

func (s *Session) Remove(h engine.Handle) {
	ah, ok := h.(*handle)
	if !ok || ah == nil {
		return
	}
	ah.mu.Lock()
	dropped := ah.dropped
	ah.dropped = true
	ah.mu.Unlock()
	if !dropped {
		ah.torrent.Drop()
	}
}

func (s *Session) PollEvents() []engine.Event {
	var events []engine.Event
	for {
		select {
		case ev := <-s.events:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func (s *Session) Close() {
	s.client.Close()
}

func (s *Session) pushEvent(ev engine.Event) {
	for {
		select {
		case s.events <- ev:
			return
		default:
			// drop the oldest unread event to make room
			select {
			case <-s.events:
			default:
			}
		}
	}
}

type handle struct {
	session   *Session
	torrent   *torrent.Torrent
	magnetURI string
	savePath  string

	mu        sync.Mutex
	paused    bool
	dropped   bool
	lastRead  int64
	lastWrite int64
	lastTime  time.Time
}

func (h *handle) Valid() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.dropped
}

func (h *handle) Paused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

// Pause prevents all network activity by disallowing data transfer and
// disconnecting peers. anacrolix has no first-class pause, so this is
// the closest equivalent.
func (h *handle) Pause() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dropped || h.paused {
		return
	}
	h.paused = true
	h.torrent.DisallowDataDownload()
	h.torrent.DisallowDataUpload()
	h.torrent.SetMaxEstablishedConns(0)
}

func (h *handle) Resume() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dropped || !h.paused {
		return
	}
	h.paused = false
	h.torrent.SetMaxEstablishedConns(defaultMaxConns)
	h.torrent.AllowDataUpload()
	h.torrent.AllowDataDownload()
	if h.torrent.Info() != nil {
		h.torrent.DownloadAll()
	}
}

func (h *handle) HasMetadata() bool {
	if !h.Valid() {
		return false
	}
	return h.torrent.Info() != nil
}

func (h *handle) Title() string {
	if !h.Valid() {
		return ""
	}
	return h.torrent.Name()
}

func (h *handle) TotalSize() int64 {
	if !h.HasMetadata() {
		return 0
	}
	return h.torrent.Length()
}

func (h *handle) Files() []engine.FileInfo {
	if !h.HasMetadata() {
		return nil
	}
	files := h.torrent.Files()
	infos := make([]engine.FileInfo, len(files))
	for i, f := range files {
		infos[i] = engine.FileInfo{
			Path: f.Path(),
			Size: f.Length(),
		}
	}
	return infos
}

func (h *handle) Status() domain.TorrentStatus {
	if !h.Valid() {
		return domain.TorrentStatus{State: domain.TorrentStateUnknown}
	}

	stats := h.torrent.Stats()

	h.mu.Lock()
	paused := h.paused
	now := time.Now()
	elapsed := now.Sub(h.lastTime).Seconds()
	read := stats.BytesReadData.Int64()
	written := stats.BytesWrittenData.Int64()
	var downRate, upRate int64
	if elapsed > 0 {
		downRate = int64(float64(read-h.lastRead) / elapsed)
		upRate = int64(float64(written-h.lastWrite) / elapsed)
	}
	h.lastRead = read
	h.lastWrite = written
	h.lastTime = now
	h.mu.Unlock()

	status := domain.TorrentStatus{
		DownloadRate: downRate,
		UploadRate:   upRate,
		Seeders:      stats.ConnectedSeeders,
		Leechers:     stats.ActivePeers,
		IsPaused:     paused,
	}

	switch {
	case h.torrent.Info() == nil:
		status.State = domain.TorrentStateFetching
	case h.torrent.BytesMissing() == 0:
		if h.torrent.Seeding() {
			status.State = domain.TorrentStateSeeding
		} else {
			status.State = domain.TorrentStateCompleted
		}
		status.Progress = 100
	default:
		status.State = domain.TorrentStateDownloading
		if total := h.torrent.Length(); total > 0 {
			status.Progress = float64(h.torrent.BytesCompleted()) / float64(total) * 100
		}
	}
	return status
}

// RequestResumeSnapshot serializes the torrent's metainfo in the
// background and surfaces the result through the session event queue.
// Without metadata there is nothing worth snapshotting yet.
func (h *handle) RequestResumeSnapshot() {
	if !h.Valid() {
		h.session.pushEvent(engine.Event{MagnetURI: h.magnetURI, Failed: true})
		return
	}
	go func() {
		if h.torrent.Info() == nil {
			h.session.pushEvent(engine.Event{MagnetURI: h.magnetURI, Failed: true})
			return
		}
		mi := h.torrent.Metainfo()
		blob, err := bencode.Marshal(mi)
		if err != nil {
			h.session.logger.WithField("magnet_uri", h.magnetURI).Warnf("encode resume snapshot: %v", err)
			h.session.pushEvent(engine.Event{MagnetURI: h.magnetURI, Failed: true})
			return
		}
		h.session.pushEvent(engine.Event{MagnetURI: h.magnetURI, Blob: blob})
	}()
}

var _ engine.Session = (*Session)(nil)
var _ engine.Handle = (*handle)(nil)
