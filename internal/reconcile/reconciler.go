package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"torrra/internal/domain"
	"torrra/internal/service"
	"torrra/internal/torrents"
	"torrra/internal/transcode"
)

type Config struct {
	Interval      time.Duration
	FlushInterval time.Duration
	FlushTimeout  time.Duration
	Transcoding   bool
	Logger        *logrus.Logger
}

// Reconciler drives the periodic tick: capture newly available
// metadata, enforce the seeding policy, react to completed downloads,
// admit pending transcode jobs, and periodically flush resume data.
type Reconciler struct {
	cfg       Config
	manager   *torrents.Manager
	records   service.TorrentService
	scheduler *transcode.Scheduler
}

func New(cfg Config, manager *torrents.Manager, records service.TorrentService, scheduler *transcode.Scheduler) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Reconciler{
		cfg:       cfg,
		manager:   manager,
		records:   records,
		scheduler: scheduler,
	}
}

// Run blocks until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	flushTicker := time.NewTicker(r.cfg.FlushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		case <-flushTicker.C:
			flushCtx, cancel := context.WithTimeout(ctx, r.cfg.FlushTimeout)
			r.manager.FlushResumeData(flushCtx)
			cancel()
		}
	}
}

// Tick runs one reconciliation pass. Exposed so drivers can force a
// pass outside the timer.
func (r *Reconciler) Tick(ctx context.Context) {
	r.manager.RefreshMetadata(ctx)
	r.manager.EnforceSeedingPolicy()
	r.handleCompletedDownloads(ctx)
	if err := r.scheduler.Admit(ctx); err != nil {
		r.cfg.Logger.Warnf("admit transcode jobs: %v", err)
	}
}

// handleCompletedDownloads fires once per torrent: when a download
// first reaches a completed state, the record is marked notified and
// every file with a matching rule is queued for transcoding.
func (r *Reconciler) handleCompletedDownloads(ctx context.Context) {
	records, err := r.records.ListTorrents(ctx)
	if err != nil {
		r.cfg.Logger.Warnf("list torrents: %v", err)
		return
	}

	for i := range records {
		record := records[i]
		if record.IsNotified {
			continue
		}
		status, ok := r.manager.Status(record.MagnetURI)
		if !ok {
			continue
		}
		switch status.State {
		case domain.TorrentStateSeeding, domain.TorrentStateCompleted:
		default:
			continue
		}

		logger := r.cfg.Logger.WithField("magnet_uri", record.MagnetURI)
		if err := r.records.MarkNotified(ctx, record.MagnetURI); err != nil {
			logger.Warnf("mark notified: %v", err)
			continue
		}
		logger.Infof("download completed: %s", record.Title)

		if !r.cfg.Transcoding {
			continue
		}
		for _, file := range r.manager.Files(record.MagnetURI) {
			if _, err := r.scheduler.QueueJob(ctx, record.MagnetURI, file); err != nil {
				if errors.Is(err, transcode.ErrNoMatchingRule) {
					continue
				}
				logger.Warnf("queue transcode job: %v", err)
			}
		}
	}
}
