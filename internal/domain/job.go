package domain

import (
	"errors"
	"time"
)

// ErrJobNotFound reports an ingest job id with no known status.
var ErrJobNotFound = errors.New("ingest job not found")

// JobState is the lifecycle position of an ingest job.
type JobState string

const (
	JobRunning   JobState = "running"
	JobDraining  JobState = "draining"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether the job has stopped for good.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// JobStatus is a point-in-time snapshot of an ingest job.
type JobStatus struct {
	ID         string     `json:"id"`
	Path       string     `json:"path"`
	State      JobState   `json:"state"`
	Read       int64      `json:"recordsRead"`
	Skipped    int64      `json:"rowsSkipped"`
	Published  int64      `json:"published"`
	Failed     int64      `json:"publishFailed"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Error      string     `json:"error,omitempty"`
}
