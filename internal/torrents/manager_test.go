package torrents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"torrra/internal/domain"
	"torrra/internal/engine"
)

type fakeHandle struct {
	valid    bool
	paused   bool
	metadata bool
	title    string
	size     int64
	state    domain.TorrentState
	files    []engine.FileInfo

	snapshotRequests int
}

func (h *fakeHandle) Valid() bool   { return h.valid }
func (h *fakeHandle) Paused() bool  { return h.paused }
func (h *fakeHandle) Pause()        { h.paused = true }
func (h *fakeHandle) Resume()       { h.paused = false }
func (h *fakeHandle) HasMetadata() bool {
	return h.metadata
}
func (h *fakeHandle) Title() string            { return h.title }
func (h *fakeHandle) TotalSize() int64         { return h.size }
func (h *fakeHandle) Files() []engine.FileInfo { return h.files }
func (h *fakeHandle) RequestResumeSnapshot()   { h.snapshotRequests++ }
func (h *fakeHandle) Status() domain.TorrentStatus {
	return domain.TorrentStatus{State: h.state, IsPaused: h.paused}
}

type fakeSession struct {
	mu          sync.Mutex
	handles     map[string]*fakeHandle
	magnetAdds  int
	resumeAdds  int
	removed     []string
	resumeErr   error
	events      []engine.Event
	newHandle   func() *fakeHandle
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		handles: make(map[string]*fakeHandle),
		newHandle: func() *fakeHandle {
			return &fakeHandle{valid: true, state: domain.TorrentStateDownloading}
		},
	}
}

func (s *fakeSession) AddFromMagnet(magnetURI, savePath string, startPaused bool) (engine.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.magnetAdds++
	h := s.newHandle()
	h.paused = startPaused
	s.handles[magnetURI] = h
	return h, nil
}

func (s *fakeSession) AddFromResumeBlob(magnetURI string, blob []byte, savePath string, startPaused bool) (engine.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumeAdds++
	if s.resumeErr != nil {
		return nil, s.resumeErr
	}
	h := s.newHandle()
	h.paused = startPaused
	s.handles[magnetURI] = h
	return h, nil
}

func (s *fakeSession) Remove(h engine.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for uri, fh := range s.handles {
		if fh == h {
			fh.valid = false
			s.removed = append(s.removed, uri)
		}
	}
}

func (s *fakeSession) PollEvents() []engine.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.events
	s.events = nil
	return events
}

func (s *fakeSession) Close() {}

type fakeRecords struct {
	mu      sync.Mutex
	updates map[string]string
	err     error
}

func (r *fakeRecords) UpdateMetadata(ctx context.Context, magnetURI, title string, size int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.updates == nil {
		r.updates = make(map[string]string)
	}
	r.updates[magnetURI] = fmt.Sprintf("%s/%d", title, size)
	return nil
}

func newTestManager(t *testing.T, session engine.Session, records Records, disableSeeding bool) *Manager {
	t.Helper()
	if records == nil {
		records = &fakeRecords{}
	}
	return NewManager(Config{
		SavePath:       t.TempDir(),
		DisableSeeding: disableSeeding,
	}, session, NewResumeStore(t.TempDir()), records)
}

func TestManager_AddIsIdempotent(t *testing.T) {
	session := newFakeSession()
	manager := newTestManager(t, session, nil, false)

	if err := manager.Add(testMagnet, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := manager.Add(testMagnet, false); err != nil {
		t.Fatalf("second add: %v", err)
	}
	if session.magnetAdds != 1 {
		t.Errorf("expected 1 engine add, got %d", session.magnetAdds)
	}

	// a repeated add reconciles the paused flag instead of re-adding
	if err := manager.Add(testMagnet, true); err != nil {
		t.Fatalf("reconcile add: %v", err)
	}
	status, ok := manager.Status(testMagnet)
	if !ok {
		t.Fatal("torrent not attached")
	}
	if !status.IsPaused {
		t.Error("expected torrent paused after reconcile")
	}
	if session.magnetAdds != 1 {
		t.Errorf("reconcile caused a re-add, engine adds = %d", session.magnetAdds)
	}
}

func TestManager_AddPrefersResumeBlob(t *testing.T) {
	session := newFakeSession()
	resume := NewResumeStore(t.TempDir())
	manager := NewManager(Config{SavePath: t.TempDir()}, session, resume, &fakeRecords{})

	if err := resume.Save(testMagnet, []byte("blob")); err != nil {
		t.Fatalf("seed resume blob: %v", err)
	}

	if err := manager.Add(testMagnet, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if session.resumeAdds != 1 || session.magnetAdds != 0 {
		t.Errorf("expected resume add, got resume=%d magnet=%d", session.resumeAdds, session.magnetAdds)
	}
}

func TestManager_CorruptResumeBlobColdStarts(t *testing.T) {
	session := newFakeSession()
	session.resumeErr = errors.New("bad blob")
	resume := NewResumeStore(t.TempDir())
	manager := NewManager(Config{SavePath: t.TempDir()}, session, resume, &fakeRecords{})

	if err := resume.Save(testMagnet, []byte("garbage")); err != nil {
		t.Fatalf("seed resume blob: %v", err)
	}

	if err := manager.Add(testMagnet, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if session.magnetAdds != 1 {
		t.Errorf("expected cold start after corrupt blob, magnet adds = %d", session.magnetAdds)
	}
	if resume.Exists(testMagnet) {
		t.Error("corrupt blob was not deleted")
	}
}

func TestManager_RemoveDropsResumeBlob(t *testing.T) {
	session := newFakeSession()
	resume := NewResumeStore(t.TempDir())
	manager := NewManager(Config{SavePath: t.TempDir()}, session, resume, &fakeRecords{})

	if err := manager.Add(testMagnet, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := resume.Save(testMagnet, []byte("blob")); err != nil {
		t.Fatalf("seed resume blob: %v", err)
	}

	manager.Remove(testMagnet)

	if resume.Exists(testMagnet) {
		t.Error("resume blob survived removal")
	}
	if _, ok := manager.Status(testMagnet); ok {
		t.Error("torrent still attached after removal")
	}

	// re-adding after removal cold starts, never resumes stale state
	if err := manager.Add(testMagnet, false); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if session.resumeAdds != 0 {
		t.Errorf("re-add used a resume blob, resume adds = %d", session.resumeAdds)
	}
}

func TestManager_TogglePause(t *testing.T) {
	session := newFakeSession()
	manager := newTestManager(t, session, nil, false)

	if err := manager.Add(testMagnet, false); err != nil {
		t.Fatalf("add: %v", err)
	}

	manager.TogglePause(testMagnet)
	if status, _ := manager.Status(testMagnet); !status.IsPaused {
		t.Error("expected paused after first toggle")
	}
	if state, _ := manager.Status(testMagnet); state.DisplayState() != domain.TorrentStatePaused {
		t.Errorf("display state = %s, expected paused", state.DisplayState())
	}

	manager.TogglePause(testMagnet)
	if status, _ := manager.Status(testMagnet); status.IsPaused {
		t.Error("expected resumed after second toggle")
	}

	// unknown torrents are a no-op
	manager.TogglePause("magnet:?xt=urn:btih:unknown")
}

func TestManager_RefreshMetadataCapturesOnce(t *testing.T) {
	session := newFakeSession()
	session.newHandle = func() *fakeHandle {
		return &fakeHandle{valid: true, metadata: true, title: "Movie", size: 700, state: domain.TorrentStateDownloading}
	}
	records := &fakeRecords{}
	manager := newTestManager(t, session, records, false)

	if err := manager.Add(testMagnet, false); err != nil {
		t.Fatalf("add: %v", err)
	}

	manager.RefreshMetadata(context.Background())
	if got := records.updates[testMagnet]; got != "Movie/700" {
		t.Fatalf("metadata update = %q, expected Movie/700", got)
	}

	// mutate the handle and refresh again; the capture must not repeat
	session.handles[testMagnet].title = "Changed"
	manager.RefreshMetadata(context.Background())
	if got := records.updates[testMagnet]; got != "Movie/700" {
		t.Errorf("metadata re-captured as %q", got)
	}
}

func TestManager_RefreshMetadataRetriesAfterPersistFailure(t *testing.T) {
	session := newFakeSession()
	session.newHandle = func() *fakeHandle {
		return &fakeHandle{valid: true, metadata: true, title: "Movie", size: 700, state: domain.TorrentStateDownloading}
	}
	records := &fakeRecords{err: errors.New("db locked")}
	manager := newTestManager(t, session, records, false)

	if err := manager.Add(testMagnet, false); err != nil {
		t.Fatalf("add: %v", err)
	}

	manager.RefreshMetadata(context.Background())
	if len(records.updates) != 0 {
		t.Fatalf("unexpected update despite persist failure: %v", records.updates)
	}

	records.err = nil
	manager.RefreshMetadata(context.Background())
	if got := records.updates[testMagnet]; got != "Movie/700" {
		t.Errorf("metadata not captured on retry, got %q", got)
	}
}

func TestManager_EnforceSeedingPolicy(t *testing.T) {
	session := newFakeSession()
	session.newHandle = func() *fakeHandle {
		return &fakeHandle{valid: true, state: domain.TorrentStateSeeding}
	}
	manager := newTestManager(t, session, nil, true)

	if err := manager.Add(testMagnet, false); err != nil {
		t.Fatalf("add: %v", err)
	}

	manager.EnforceSeedingPolicy()
	if status, _ := manager.Status(testMagnet); !status.IsPaused {
		t.Error("seeding torrent not paused with seeding disabled")
	}
}

func TestManager_EnforceSeedingPolicyDisabled(t *testing.T) {
	session := newFakeSession()
	session.newHandle = func() *fakeHandle {
		return &fakeHandle{valid: true, state: domain.TorrentStateSeeding}
	}
	manager := newTestManager(t, session, nil, false)

	if err := manager.Add(testMagnet, false); err != nil {
		t.Fatalf("add: %v", err)
	}

	manager.EnforceSeedingPolicy()
	if status, _ := manager.Status(testMagnet); status.IsPaused {
		t.Error("torrent paused even though seeding is allowed")
	}
}

func TestManager_FlushResumeDataSavesBlobs(t *testing.T) {
	session := newFakeSession()
	session.newHandle = func() *fakeHandle {
		return &fakeHandle{valid: true, metadata: true, state: domain.TorrentStateDownloading}
	}
	resume := NewResumeStore(t.TempDir())
	manager := NewManager(Config{SavePath: t.TempDir()}, session, resume, &fakeRecords{})

	if err := manager.Add(testMagnet, false); err != nil {
		t.Fatalf("add: %v", err)
	}

	session.mu.Lock()
	session.events = []engine.Event{{MagnetURI: testMagnet, Blob: []byte("snapshot")}}
	session.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	manager.FlushResumeData(ctx)

	blob, err := resume.Load(testMagnet)
	if err != nil {
		t.Fatalf("load flushed blob: %v", err)
	}
	if string(blob) != "snapshot" {
		t.Errorf("flushed blob = %q", blob)
	}
	if session.handles[testMagnet].snapshotRequests != 1 {
		t.Errorf("snapshot requests = %d, expected 1", session.handles[testMagnet].snapshotRequests)
	}
}

func TestManager_FlushResumeDataHonorsDeadline(t *testing.T) {
	session := newFakeSession()
	session.newHandle = func() *fakeHandle {
		return &fakeHandle{valid: true, metadata: true, state: domain.TorrentStateDownloading}
	}
	manager := newTestManager(t, session, nil, false)

	if err := manager.Add(testMagnet, false); err != nil {
		t.Fatalf("add: %v", err)
	}

	// no event ever arrives; the flush must return at the deadline
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	manager.FlushResumeData(ctx)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("flush ran %v past its deadline", elapsed)
	}
}

func TestManager_FilesJoinSavePath(t *testing.T) {
	session := newFakeSession()
	session.newHandle = func() *fakeHandle {
		return &fakeHandle{
			valid:    true,
			metadata: true,
			state:    domain.TorrentStateDownloading,
			files: []engine.FileInfo{
				{Path: "Movie/movie.avi", Size: 700},
				{Path: "Movie/sample.txt", Size: 1},
			},
		}
	}
	savePath := t.TempDir()
	manager := NewManager(Config{SavePath: savePath}, session, NewResumeStore(t.TempDir()), &fakeRecords{})

	if err := manager.Add(testMagnet, false); err != nil {
		t.Fatalf("add: %v", err)
	}

	files := manager.Files(testMagnet)
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	for _, f := range files {
		if !strings.HasPrefix(f, savePath) {
			t.Errorf("file %q not under save path %q", f, savePath)
		}
	}
}
