package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"torrra/internal/domain"
	"torrra/internal/repository"
)

const createTranscodeJobsTable = `
CREATE TABLE IF NOT EXISTS transcode_jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	magnet_uri TEXT NOT NULL,
	source_file TEXT NOT NULL,
	destination_file TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	progress REAL NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	FOREIGN KEY (magnet_uri) REFERENCES torrents(magnet_uri)
		ON DELETE CASCADE
);
`

type TranscodeJobRepository struct {
	db *sql.DB
}

func NewTranscodeJobRepository(db *sql.DB) repository.TranscodeJobRepository {
	return &TranscodeJobRepository{db: db}
}

func (r *TranscodeJobRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createTranscodeJobsTable); err != nil {
		return fmt.Errorf("create transcode jobs table: %w", err)
	}
	return nil
}

func (r *TranscodeJobRepository) Create(ctx context.Context, job *domain.TranscodeJob) (int64, error) {
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO transcode_jobs (magnet_uri, source_file, destination_file, status, progress, error_message, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.MagnetURI,
		job.SourceFile,
		job.DestinationFile,
		string(job.Status),
		job.Progress,
		job.ErrorMessage,
		job.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert transcode job: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("transcode job last insert id: %w", err)
	}
	job.ID = id
	return id, nil
}

func (r *TranscodeJobRepository) Get(ctx context.Context, id int64) (*domain.TranscodeJob, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, magnet_uri, source_file, destination_file, status, progress, error_message, created_at
FROM transcode_jobs
WHERE id = ?`,
		id,
	)
	return scanTranscodeJob(row)
}

func (r *TranscodeJobRepository) List(ctx context.Context) ([]domain.TranscodeJob, error) {
	return r.queryJobs(ctx, `
SELECT id, magnet_uri, source_file, destination_file, status, progress, error_message, created_at
FROM transcode_jobs
ORDER BY created_at DESC, id DESC`)
}

func (r *TranscodeJobRepository) ListPending(ctx context.Context) ([]domain.TranscodeJob, error) {
	// oldest first keeps admission FIFO
	return r.queryJobs(ctx, `
SELECT id, magnet_uri, source_file, destination_file, status, progress, error_message, created_at
FROM transcode_jobs
WHERE status = ?
ORDER BY created_at ASC, id ASC`, string(domain.JobStatusPending))
}

func (r *TranscodeJobRepository) queryJobs(ctx context.Context, query string, args ...any) ([]domain.TranscodeJob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transcode jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.TranscodeJob
	for rows.Next() {
		job, err := scanTranscodeJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func (r *TranscodeJobRepository) CountInProgress(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transcode_jobs WHERE status = ?`,
		string(domain.JobStatusInProgress),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count in-progress jobs: %w", err)
	}
	return count, nil
}

func (r *TranscodeJobRepository) UpdateStatus(ctx context.Context, id int64, status domain.JobStatus, errorMessage string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE transcode_jobs
SET status = ?, error_message = ?
WHERE id = ?`,
		string(status),
		errorMessage,
		id,
	)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

func (r *TranscodeJobRepository) UpdateProgress(ctx context.Context, id int64, progress float64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE transcode_jobs SET progress = ? WHERE id = ?`, progress, id)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

func (r *TranscodeJobRepository) FinalizeIfActive(ctx context.Context, id int64, status domain.JobStatus, progress float64, errorMessage string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE transcode_jobs
SET status = ?, progress = CASE WHEN ? < 0 THEN progress ELSE ? END, error_message = ?
WHERE id = ? AND status IN (?, ?)`,
		string(status),
		progress,
		progress,
		errorMessage,
		id,
		string(domain.JobStatusPending),
		string(domain.JobStatusInProgress),
	)
	if err != nil {
		return false, fmt.Errorf("finalize job: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("finalize rows affected: %w", err)
	}
	return aff > 0, nil
}

func (r *TranscodeJobRepository) RequeueInProgress(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE transcode_jobs
SET status = ?, progress = 0
WHERE status = ?`,
		string(domain.JobStatusPending),
		string(domain.JobStatusInProgress),
	)
	if err != nil {
		return 0, fmt.Errorf("requeue in-progress jobs: %w", err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue rows affected: %w", err)
	}
	return aff, nil
}

func (r *TranscodeJobRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM transcode_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transcode job: %w", err)
	}
	return nil
}

func scanTranscodeJob(scanner interface {
	Scan(dest ...any) error
}) (*domain.TranscodeJob, error) {
	var (
		job       domain.TranscodeJob
		status    string
		createdAt time.Time
	)
	if err := scanner.Scan(
		&job.ID,
		&job.MagnetURI,
		&job.SourceFile,
		&job.DestinationFile,
		&status,
		&job.Progress,
		&job.ErrorMessage,
		&createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("transcode job not found")
		}
		return nil, fmt.Errorf("scan transcode job: %w", err)
	}
	job.Status = domain.JobStatus(status)
	job.CreatedAt = createdAt.Local()
	return &job, nil
}
