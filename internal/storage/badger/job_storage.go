package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/erdilatifi/chunkd/internal/interfaces"
	"github.com/erdilatifi/chunkd/internal/models"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) SaveJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(jobID, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("CreatedAt").Reverse()

	if opts != nil {
		if opts.Status != "" {
			query = badgerhold.Where("Status").Eq(opts.Status).SortBy("CreatedAt").Reverse()
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// GetCachedResult finds a completed job with the same parameters. Returns
// ErrJobNotFound when no prior run matches.
func (s *JobStorage) GetCachedResult(ctx context.Context, n int64, chunks int) (*models.Job, error) {
	query := badgerhold.Where("N").Eq(n).
		And("RequestedChunks").Eq(chunks).
		And("Status").Eq(models.JobStatusCompleted).
		SortBy("CreatedAt").Reverse().
		Limit(1)

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to query cached result: %w", err)
	}
	if len(jobs) == 0 {
		return nil, interfaces.ErrJobNotFound
	}
	return &jobs[0], nil
}

// DeleteOlderThan removes terminal job records created before the cutoff.
// Running jobs are never deleted regardless of age.
func (s *JobStorage) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	query := badgerhold.Where("CreatedAt").Lt(cutoff)

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return 0, fmt.Errorf("failed to query old jobs: %w", err)
	}

	deleted := 0
	for i := range jobs {
		if !jobs[i].Status.IsTerminal() {
			continue
		}
		if err := s.db.Store().Delete(jobs[i].ID, &models.Job{}); err != nil {
			s.logger.Warn().Str("job_id", jobs[i].ID).Err(err).Msg("Failed to delete old job record")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Info().Int("deleted", deleted).Msg("Deleted old job records")
	}
	return deleted, nil
}

func (s *JobStorage) Close() error {
	return s.db.Close()
}
