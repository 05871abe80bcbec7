package domain

import "time"

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether a job can no longer change status except by removal.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// TranscodeJob is a persisted media transcode job. DestinationFile is
// fixed at creation and never recomputed.
type TranscodeJob struct {
	ID              int64
	MagnetURI       string
	SourceFile      string
	DestinationFile string
	Status          JobStatus
	Progress        float64
	ErrorMessage    string
	CreatedAt       time.Time
}

// TranscodeRule maps a source file extension to an output format and
// target resolution. Rules come from configuration, not the database.
type TranscodeRule struct {
	InputExtension string `mapstructure:"input_extension"`
	OutputFormat   string `mapstructure:"output_format"`
	Resolution     string `mapstructure:"resolution"`
}
