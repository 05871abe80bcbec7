package repository

import (
	"context"

	"torrra/internal/domain"
)

// TranscodeJobRepository is the durable source of truth backing the
// transcode scheduler. Ordering matters: List returns newest first for
// display, ListPending oldest first so admission stays FIFO.
type TranscodeJobRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, job *domain.TranscodeJob) (int64, error)
	Get(ctx context.Context, id int64) (*domain.TranscodeJob, error)
	List(ctx context.Context) ([]domain.TranscodeJob, error)
	ListPending(ctx context.Context) ([]domain.TranscodeJob, error)
	// CountInProgress must hit the database on every call; the
	// scheduler's admission decision races with job completions.
	CountInProgress(ctx context.Context) (int, error)
	UpdateStatus(ctx context.Context, id int64, status domain.JobStatus, errorMessage string) error
	UpdateProgress(ctx context.Context, id int64, progress float64) error
	// FinalizeIfActive applies the status only while the job is still
	// pending or in_progress, and reports whether a row changed. A
	// cancelled job is never overwritten back to completed or failed.
	// A negative progress leaves the stored progress untouched.
	FinalizeIfActive(ctx context.Context, id int64, status domain.JobStatus, progress float64, errorMessage string) (bool, error)
	// RequeueInProgress moves every in_progress job back to pending.
	// Called once at startup: an in_progress row with no live encoder
	// process is a leftover from a crash or hard shutdown.
	RequeueInProgress(ctx context.Context) (int64, error)
	Delete(ctx context.Context, id int64) error
}
