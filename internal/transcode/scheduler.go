package transcode

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"torrra/internal/domain"
	"torrra/internal/repository"
)

// stderrTail bounds the diagnostic captured from a failing encoder.
const stderrTail = 500

// Archiver optionally ships a completed job's output to remote storage.
type Archiver interface {
	ArchiveFile(ctx context.Context, localPath string) (string, error)
}

type Config struct {
	FFmpegPath  string
	MaxParallel int
	Logger      *logrus.Logger
}

// Scheduler admits pending transcode jobs up to a concurrency budget,
// runs each as one external encoder process, and finalizes status in
// the job store. The store is the source of truth; the scheduler keeps
// only the process handles and duration cache in memory.
type Scheduler struct {
	cfg      Config
	jobs     repository.TranscodeJobRepository
	matcher  *Matcher
	notifier *Notifier
	archiver Archiver

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// procs and durations race between a finishing job and CancelJob.
	mu        sync.Mutex
	procs     map[int64]*exec.Cmd
	durations map[int64]float64
}

func NewScheduler(cfg Config, jobs repository.TranscodeJobRepository, matcher *Matcher, notifier *Notifier, archiver Archiver) *Scheduler {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if notifier == nil {
		notifier = NewNotifier()
	}
	return &Scheduler{
		cfg:       cfg,
		jobs:      jobs,
		matcher:   matcher,
		notifier:  notifier,
		archiver:  archiver,
		procs:     make(map[int64]*exec.Cmd),
		durations: make(map[int64]float64),
	}
}

// Start requeues jobs orphaned by a previous run and arms the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	requeued, err := s.jobs.RequeueInProgress(ctx)
	if err != nil {
		return fmt.Errorf("requeue orphaned jobs: %w", err)
	}
	if requeued > 0 {
		s.cfg.Logger.Infof("requeued %d orphaned transcode jobs", requeued)
	}
	return nil
}

// Shutdown terminates running encoders and waits for their job tasks.
// Interrupted jobs stay in_progress and are requeued on next start.
func (s *Scheduler) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Lock()
	for id, cmd := range s.procs {
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				s.cfg.Logger.WithField("job_id", id).Warnf("terminate encoder: %v", err)
			}
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Notifier returns the scheduler's notification slot.
func (s *Scheduler) Notifier() *Notifier {
	return s.notifier
}

// ListJobs returns all jobs, newest first.
func (s *Scheduler) ListJobs(ctx context.Context) ([]domain.TranscodeJob, error) {
	return s.jobs.List(ctx)
}

// QueueJob inserts a pending job for the source file. Fails with
// ErrNoMatchingRule when no rule covers the file's extension. Never
// starts the encoder itself.
func (s *Scheduler) QueueJob(ctx context.Context, magnetURI, sourceFile string) (int64, error) {
	rule, ok := s.matcher.Match(sourceFile)
	if !ok {
		return 0, fmt.Errorf("%w for %s", ErrNoMatchingRule, filepath.Base(sourceFile))
	}

	job := &domain.TranscodeJob{
		MagnetURI:       magnetURI,
		SourceFile:      sourceFile,
		DestinationFile: s.matcher.DestinationFor(sourceFile, rule),
		Status:          domain.JobStatusPending,
	}
	id, err := s.jobs.Create(ctx, job)
	if err != nil {
		return 0, err
	}
	s.cfg.Logger.WithField("job_id", id).Infof("queued transcode of %s", filepath.Base(sourceFile))
	return id, nil
}

// Admit starts pending jobs, oldest first, up to the concurrency
// budget. The in-progress count is read fresh on every call since it
// races with concurrent completions. Safe to call repeatedly.
func (s *Scheduler) Admit(ctx context.Context) error {
	inProgress, err := s.jobs.CountInProgress(ctx)
	if err != nil {
		return err
	}
	capacity := s.cfg.MaxParallel - inProgress
	if capacity <= 0 {
		return nil
	}

	pending, err := s.jobs.ListPending(ctx)
	if err != nil {
		return err
	}
	if len(pending) > capacity {
		pending = pending[:capacity]
	}

	for i := range pending {
		job := pending[i]
		// claim before spawning so overlapping Admit calls cannot
		// start the same job twice
		claimed, err := s.jobs.FinalizeIfActive(ctx, job.ID, domain.JobStatusInProgress, 0, "")
		if err != nil {
			return err
		}
		if !claimed {
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runJob(job.ID, job)
		}()
	}
	return nil
}

// CancelJob terminates the job's encoder if one is running and marks
// the job cancelled unless it already reached a terminal status. A
// pending job cancelled here is never admitted afterwards.
func (s *Scheduler) CancelJob(ctx context.Context, id int64) error {
	// dropping the tracking entry first means a concurrently finishing
	// runJob finds no process to double-terminate
	s.mu.Lock()
	cmd, tracked := s.procs[id]
	delete(s.procs, id)
	s.mu.Unlock()

	if tracked && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil {
			s.cfg.Logger.WithField("job_id", id).Warnf("terminate encoder: %v", err)
		}
	}

	if _, err := s.jobs.FinalizeIfActive(ctx, id, domain.JobStatusCancelled, -1, ""); err != nil {
		return err
	}
	return nil
}

// RemoveJob cancels the job if needed and deletes its record.
func (s *Scheduler) RemoveJob(ctx context.Context, id int64) error {
	if err := s.CancelJob(ctx, id); err != nil {
		return err
	}
	return s.jobs.Delete(ctx, id)
}

// runJob is the background task body for one admitted job. The job is
// already in_progress when this runs.
func (s *Scheduler) runJob(id int64, job domain.TranscodeJob) {
	logger := s.cfg.Logger.WithField("job_id", id)
	filename := filepath.Base(job.SourceFile)

	defer func() {
		s.mu.Lock()
		delete(s.procs, id)
		delete(s.durations, id)
		s.mu.Unlock()
	}()

	if job.DestinationFile == "" {
		s.failJob(id, filename, "no destination file")
		return
	}
	if _, err := os.Stat(job.SourceFile); err != nil {
		s.failJob(id, filename, fmt.Sprintf("source file not found: %s", job.SourceFile))
		return
	}

	// the rule set may have changed since the job was queued
	rule, ok := s.matcher.Match(job.SourceFile)
	if !ok {
		s.failJob(id, filename, "no matching transcode rule")
		return
	}

	// best effort: without a duration progress reporting degrades to none
	if duration, err := probeDuration(s.ctx, ffprobePathFor(s.cfg.FFmpegPath), job.SourceFile); err == nil {
		s.mu.Lock()
		s.durations[id] = duration
		s.mu.Unlock()
	} else {
		logger.Debugf("probe duration: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(job.DestinationFile), 0o755); err != nil {
		s.failJob(id, filename, fmt.Sprintf("create destination dir: %v", err))
		return
	}

	s.notifier.Notify(NotifyStarted, filename)

	cmd := exec.Command(s.cfg.FFmpegPath, buildEncoderArgs(job.SourceFile, job.DestinationFile, rule)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.failJob(id, filename, fmt.Sprintf("encoder stdout pipe: %v", err))
		return
	}
	var stderr tailBuffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		s.failJob(id, filename, fmt.Sprintf("start encoder: %v", err))
		return
	}

	s.mu.Lock()
	s.procs[id] = cmd
	s.mu.Unlock()

	// each parsed sample is written straight to the store, in emission order
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		s.mu.Lock()
		duration := s.durations[id]
		s.mu.Unlock()
		if progress, ok := parseProgressLine(scanner.Text(), duration); ok {
			if err := s.jobs.UpdateProgress(s.ctx, id, progress); err != nil {
				logger.Warnf("update progress: %v", err)
			}
		}
	}

	waitErr := cmd.Wait()

	if s.ctx.Err() != nil {
		// shutdown: leave the row in_progress so the next start requeues it
		logger.Info("encoder interrupted by shutdown")
		return
	}

	if waitErr != nil {
		// guarded write: a cancel that already marked the job keeps it
		// cancelled and suppresses the failure notification
		msg := fmt.Sprintf("encoder failed: %v", waitErr)
		if tail := stderr.Tail(); tail != "" {
			msg = fmt.Sprintf("%s: %s", msg, tail)
		}
		s.failJob(id, filename, msg)
		return
	}

	applied, err := s.jobs.FinalizeIfActive(s.ctx, id, domain.JobStatusCompleted, 100, "")
	if err != nil {
		logger.Errorf("finalize completed: %v", err)
		return
	}
	if !applied {
		logger.Info("job cancelled before completion write")
		return
	}
	logger.Infof("transcode of %s completed", filename)
	s.notifier.Notify(NotifyCompleted, filename)
	s.archive(id, job.DestinationFile)
}

func (s *Scheduler) failJob(id int64, filename, message string) {
	applied, err := s.jobs.FinalizeIfActive(s.ctx, id, domain.JobStatusFailed, -1, message)
	if err != nil {
		s.cfg.Logger.WithField("job_id", id).Errorf("finalize failed: %v", err)
		return
	}
	if !applied {
		return
	}
	s.cfg.Logger.WithField("job_id", id).Errorf("transcode failed: %s", message)
	s.notifier.Notify(NotifyFailed, filename)
}

func (s *Scheduler) archive(id int64, localPath string) {
	if s.archiver == nil {
		return
	}
	logger := s.cfg.Logger.WithField("job_id", id)
	dest, err := s.archiver.ArchiveFile(s.ctx, localPath)
	if err != nil {
		logger.Warnf("archive output: %v", err)
		return
	}
	logger.Infof("output archived to %s", dest)
}

// buildEncoderArgs derives the encoder invocation from a rule: h264
// video, aac audio, optional scaling to the rule's resolution with
// even dimensions and preserved aspect ratio, machine-readable progress
// on stdout.
func buildEncoderArgs(source, destination string, rule domain.TranscodeRule) []string {
	args := []string{
		"-i", source,
		"-y",
		"-progress", "pipe:1",
		"-nostats",
		"-c:v", "libx264", "-preset", "medium", "-crf", "23",
	}

	if height, ok := resolutionHeight(rule.Resolution); ok {
		args = append(args, "-vf", fmt.Sprintf("scale=-2:%d", height))
	}

	args = append(args, "-c:a", "aac", "-b:a", "192k", destination)
	return args
}

func resolutionHeight(resolution string) (int, bool) {
	switch strings.ToLower(resolution) {
	case "720p":
		return 720, true
	case "1080p":
		return 1080, true
	case "4k", "2160p":
		return 2160, true
	}
	return 0, false
}

// tailBuffer keeps the last stderrTail bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > stderrTail {
		t.buf = t.buf[len(t.buf)-stderrTail:]
	}
	return len(p), nil
}

func (t *tailBuffer) Tail() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
