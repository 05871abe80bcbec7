package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"torrra/internal/domain"
	"torrra/internal/engine"
	"torrra/internal/repository/sqlite"
	"torrra/internal/service"
	"torrra/internal/torrents"
	"torrra/internal/transcode"
)

type stubHandle struct {
	state  domain.TorrentState
	paused bool
	files  []engine.FileInfo
}

func (h *stubHandle) Valid() bool            { return true }
func (h *stubHandle) Paused() bool           { return h.paused }
func (h *stubHandle) Pause()                 { h.paused = true }
func (h *stubHandle) Resume()                { h.paused = false }
func (h *stubHandle) HasMetadata() bool      { return true }
func (h *stubHandle) Title() string          { return "Movie" }
func (h *stubHandle) TotalSize() int64       { return 700 }
func (h *stubHandle) Files() []engine.FileInfo {
	return h.files
}
func (h *stubHandle) RequestResumeSnapshot() {}
func (h *stubHandle) Status() domain.TorrentStatus {
	return domain.TorrentStatus{State: h.state, IsPaused: h.paused}
}

type stubSession struct {
	handle *stubHandle
}

func (s *stubSession) AddFromMagnet(magnetURI, savePath string, startPaused bool) (engine.Handle, error) {
	return s.handle, nil
}

func (s *stubSession) AddFromResumeBlob(magnetURI string, blob []byte, savePath string, startPaused bool) (engine.Handle, error) {
	return s.handle, nil
}

func (s *stubSession) Remove(h engine.Handle)    {}
func (s *stubSession) PollEvents() []engine.Event { return nil }
func (s *stubSession) Close()                     {}

func TestReconciler_CompletedDownloadQueuesJobsOnce(t *testing.T) {
	ctx := context.Background()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	torrentRepo := sqlite.NewTorrentRepository(db)
	jobRepo := sqlite.NewTranscodeJobRepository(db)
	if err := torrentRepo.Init(ctx); err != nil {
		t.Fatalf("init torrents: %v", err)
	}
	if err := jobRepo.Init(ctx); err != nil {
		t.Fatalf("init jobs: %v", err)
	}

	records := service.NewTorrentService(torrentRepo)
	magnet := "magnet:?xt=urn:btih:abcd"
	if _, err := records.CreateTorrent(ctx, magnet, "manual", false); err != nil {
		t.Fatalf("create torrent: %v", err)
	}

	savePath := t.TempDir()
	session := &stubSession{handle: &stubHandle{
		state: domain.TorrentStateSeeding,
		files: []engine.FileInfo{
			{Path: "movie.avi", Size: 700},
			{Path: "notes.txt", Size: 1},
		},
	}}
	manager := torrents.NewManager(torrents.Config{SavePath: savePath},
		session, torrents.NewResumeStore(t.TempDir()), records)
	if err := manager.Add(magnet, false); err != nil {
		t.Fatalf("attach torrent: %v", err)
	}

	for _, name := range []string{"movie.avi", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(savePath, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write download file: %v", err)
		}
	}

	matcher := transcode.NewMatcher([]domain.TranscodeRule{
		{InputExtension: "avi", OutputFormat: "mp4"},
	}, t.TempDir())
	scheduler := transcode.NewScheduler(transcode.Config{FFmpegPath: "/bin/false"},
		jobRepo, matcher, transcode.NewNotifier(), nil)
	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("start scheduler: %v", err)
	}
	defer scheduler.Shutdown()

	reconciler := New(Config{Transcoding: true}, manager, records, scheduler)
	reconciler.Tick(ctx)

	record, err := records.GetTorrent(ctx, magnet)
	if err != nil {
		t.Fatalf("get torrent: %v", err)
	}
	if !record.IsNotified {
		t.Error("completed torrent not marked notified")
	}
	if record.Title != "Movie" || record.Size != 700 {
		t.Errorf("metadata = %q/%d, expected Movie/700", record.Title, record.Size)
	}

	jobs, err := jobRepo.List(ctx)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	// only the file with a matching rule is queued
	if len(jobs) != 1 {
		t.Fatalf("expected 1 queued job, got %d", len(jobs))
	}
	if filepath.Base(jobs[0].SourceFile) != "movie.avi" {
		t.Errorf("queued %q", jobs[0].SourceFile)
	}

	// a second pass must not queue duplicates
	reconciler.Tick(ctx)
	jobs, _ = jobRepo.List(ctx)
	if len(jobs) != 1 {
		t.Errorf("second tick duplicated jobs, got %d", len(jobs))
	}
}

func TestReconciler_DownloadingTorrentNotNotified(t *testing.T) {
	ctx := context.Background()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	torrentRepo := sqlite.NewTorrentRepository(db)
	jobRepo := sqlite.NewTranscodeJobRepository(db)
	if err := torrentRepo.Init(ctx); err != nil {
		t.Fatalf("init torrents: %v", err)
	}
	if err := jobRepo.Init(ctx); err != nil {
		t.Fatalf("init jobs: %v", err)
	}

	records := service.NewTorrentService(torrentRepo)
	magnet := "magnet:?xt=urn:btih:abcd"
	if _, err := records.CreateTorrent(ctx, magnet, "manual", false); err != nil {
		t.Fatalf("create torrent: %v", err)
	}

	session := &stubSession{handle: &stubHandle{state: domain.TorrentStateDownloading}}
	manager := torrents.NewManager(torrents.Config{SavePath: t.TempDir()},
		session, torrents.NewResumeStore(t.TempDir()), records)
	if err := manager.Add(magnet, false); err != nil {
		t.Fatalf("attach torrent: %v", err)
	}

	scheduler := transcode.NewScheduler(transcode.Config{FFmpegPath: "/bin/false"},
		jobRepo, transcode.NewMatcher(nil, t.TempDir()), transcode.NewNotifier(), nil)
	if err := scheduler.Start(ctx); err != nil {
		t.Fatalf("start scheduler: %v", err)
	}
	defer scheduler.Shutdown()

	reconciler := New(Config{Transcoding: true}, manager, records, scheduler)
	reconciler.Tick(ctx)

	record, _ := records.GetTorrent(ctx, magnet)
	if record.IsNotified {
		t.Error("downloading torrent marked notified")
	}
}
