package interfaces

import (
	"context"
	"time"

	"github.com/erdilatifi/chunkd/internal/models"
)

// ProgressStore is the single shared mutable resource across concurrent
// chunk executions. Every component receives it by injection; there is no
// ambient global state. Implementations must make IncrementCompleted an
// atomic read-modify-write and must refuse mutations to terminal jobs so
// late chunk results arriving after cancellation or failure are dropped.
type ProgressStore interface {
	// CreateJob stores a new job record. Fails if the ID already exists.
	CreateJob(ctx context.Context, job *models.Job) error

	// GetJob returns a copy of the job record, or ErrJobNotFound.
	GetJob(ctx context.Context, jobID string) (*models.Job, error)

	// IncrementCompleted atomically bumps the completed-chunk counter,
	// recomputes progress and returns the new counts. It is a no-op on a
	// terminal job.
	IncrementCompleted(ctx context.Context, jobID string) (completed, total int, err error)

	// SetStatus updates status and detail. Transitions out of a terminal
	// status are silently dropped (terminal states are immutable).
	SetStatus(ctx context.Context, jobID string, status models.JobStatus, detail string) error

	// SetResult records the final aggregated value alongside a terminal
	// completed status.
	SetResult(ctx context.Context, jobID string, result int64) error

	// Expire schedules the job record for removal after the given duration.
	Expire(ctx context.Context, jobID string, after time.Duration) error

	// SweepExpired removes records whose expiry has passed and returns the
	// number removed.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}
