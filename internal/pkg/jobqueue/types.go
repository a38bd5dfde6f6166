package jobqueue

import (
	"time"

	"github.com/ManuelReschke/Redirector/internal/pkg/mapping"
)

// JobStatus represents the current status of a job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// SourceKind tells the worker where the mapping table comes from
type SourceKind string

const (
	SourceFile    SourceKind = "file"
	SourcePayload SourceKind = "payload"
)

// ErrorKindInterrupted marks jobs the sweeper gave up on
const ErrorKindInterrupted = "Interrupted"

// Source is either a staged upload or an inline document
type Source struct {
	Kind    SourceKind        `json:"kind"`
	Key     string            `json:"key,omitempty"`
	Name    string            `json:"name,omitempty"`
	Payload *mapping.Document `json:"payload,omitempty"`
}

// JobError is the failure detail of a failed job
type JobError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// Job is one redirect mapping import, addressed by (Queue, ID)
type Job struct {
	Queue         string         `json:"queue"`
	ID            int64          `json:"jobId"`
	ApplicationID string         `json:"applicationId"`
	RedirectID    string         `json:"redirectId"`
	Source        Source         `json:"source"`
	Status        JobStatus      `json:"status"`
	Result        []mapping.Pair `json:"result,omitempty"`
	Error         *JobError      `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	StartedAt     *time.Time     `json:"startedAt,omitempty"`
	FinishedAt    *time.Time     `json:"finishedAt,omitempty"`
}

// IsTerminal reports whether the job can no longer change
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}

// OwnedBy checks the job belongs to the given redirect
func (j *Job) OwnedBy(applicationID, redirectID string) bool {
	return j.ApplicationID == applicationID && j.RedirectID == redirectID
}

// MarkAsRunning updates the job status to running
func (j *Job) MarkAsRunning(now time.Time) {
	j.Status = JobStatusRunning
	j.UpdatedAt = now
	j.StartedAt = &now
}

// MarkAsSucceeded stores the committed pairs
func (j *Job) MarkAsSucceeded(now time.Time, result []mapping.Pair) {
	j.Status = JobStatusSucceeded
	j.UpdatedAt = now
	j.FinishedAt = &now
	j.Result = result
	j.Error = nil
}

// MarkAsFailed records the failure detail
func (j *Job) MarkAsFailed(now time.Time, jobErr *JobError) {
	j.Status = JobStatusFailed
	j.UpdatedAt = now
	j.FinishedAt = &now
	j.Result = nil
	j.Error = jobErr
}

// runningSince returns when the job entered processing
func (j *Job) runningSince() time.Time {
	if j.StartedAt != nil && !j.StartedAt.IsZero() {
		return *j.StartedAt
	}
	if !j.UpdatedAt.IsZero() {
		return j.UpdatedAt
	}
	return j.CreatedAt
}
