package models

import (
	"fmt"
	"time"

	"github.com/erdilatifi/chunkd/internal/common"
)

// JobStatus is the lifecycle state of a computation job.
// Transitions are monotonic: pending -> running -> terminal.
// Completed, failed and cancelled are terminal and immutable.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// IsValid reports whether the status is one of the known states.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job is the progress record for one submitted computation.
// It is created atomically with its chunk partition before any chunk is
// dispatched, lives in the progress store while the job runs, and is
// retained for the configured window after it reaches a terminal state.
type Job struct {
	ID              string     `json:"id"`
	N               int64      `json:"n"` // upper bound of the range [1, n]
	RequestedChunks int        `json:"requested_chunks"`
	TotalChunks     int        `json:"total_chunks"` // effective chunk count, min(requested, n)
	Status          JobStatus  `json:"status"`
	Progress        float64    `json:"progress"` // completed/total clamped to [0,1]
	CompletedChunks int        `json:"completed_chunks"`
	Result          *int64     `json:"result,omitempty"`
	Detail          string     `json:"detail,omitempty"`
	Cached          bool       `json:"cached"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationMs      *int64     `json:"duration_ms,omitempty"`
}

// NewJob creates a pending job record for the range [1, n].
func NewJob(n int64, requestedChunks, totalChunks int) *Job {
	return &Job{
		ID:              common.NewJobID(),
		N:               n,
		RequestedChunks: requestedChunks,
		TotalChunks:     totalChunks,
		Status:          JobStatusPending,
		Progress:        0,
		CompletedChunks: 0,
		Detail:          "Job accepted and waiting for workers.",
		CreatedAt:       time.Now().UTC(),
	}
}

// Clone returns a deep copy so callers never share mutable state with the store.
func (j *Job) Clone() *Job {
	out := *j
	if j.Result != nil {
		r := *j.Result
		out.Result = &r
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	if j.DurationMs != nil {
		d := *j.DurationMs
		out.DurationMs = &d
	}
	return &out
}

// ChunkStatus is the lifecycle state of a single chunk.
type ChunkStatus string

const (
	ChunkStatusPending   ChunkStatus = "pending"
	ChunkStatusRunning   ChunkStatus = "running"
	ChunkStatusCompleted ChunkStatus = "completed"
	ChunkStatusFailed    ChunkStatus = "failed"
)

// Chunk is one contiguous partition [Start, End] of a job's range.
// Chunks have no identity outside their owning job: the job owns the
// partition and chunks are addressed by (JobID, Index).
type Chunk struct {
	JobID  string      `json:"job_id"`
	Index  int         `json:"index"`
	Start  int64       `json:"start"`
	End    int64       `json:"end"`
	Status ChunkStatus `json:"status"`
	Result int64       `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func (c *Chunk) String() string {
	return fmt.Sprintf("chunk %d [%d-%d] of %s", c.Index, c.Start, c.End, c.JobID)
}
