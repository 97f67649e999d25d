package interfaces

import (
	"context"
	"time"

	"github.com/erdilatifi/chunkd/internal/models"
)

// JobListOptions controls pagination and filtering for job history queries.
type JobListOptions struct {
	Status models.JobStatus
	Limit  int
	Offset int
}

// JobStorage is the optional durable record store collaborator. The
// orchestrator is fully functional without it: every call is best-effort
// and a failure is logged as a warning, never propagated to the job.
type JobStorage interface {
	// SaveJob upserts the job record.
	SaveJob(ctx context.Context, job *models.Job) error

	// GetJob returns the stored record, or an error when absent.
	GetJob(ctx context.Context, jobID string) (*models.Job, error)

	// ListJobs returns records sorted by creation time descending.
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.Job, error)

	// GetCachedResult looks up a completed job with identical parameters,
	// for serving repeat submissions from cache.
	GetCachedResult(ctx context.Context, n int64, chunks int) (*models.Job, error)

	// DeleteOlderThan removes terminal records older than the cutoff and
	// returns the number removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// Close releases the underlying database.
	Close() error
}
