// Package progress provides the in-memory job progress store. The store is
// the single shared mutable resource between concurrent chunk executions;
// all mutation goes through its lock so counter updates are never lost.
package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/erdilatifi/chunkd/internal/common"
	"github.com/erdilatifi/chunkd/internal/interfaces"
	"github.com/erdilatifi/chunkd/internal/models"
)

type entry struct {
	job       *models.Job
	expiresAt time.Time // zero means no expiry scheduled
}

// Store is an in-memory implementation of interfaces.ProgressStore.
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]*entry
	logger arbor.ILogger
}

// NewStore creates an empty progress store.
func NewStore() *Store {
	return &Store{
		jobs:   make(map[string]*entry),
		logger: common.GetLogger(),
	}
}

// CreateJob stores a new job record. The record must be in place before any
// chunk is dispatched so a status read immediately after submission always
// finds the job.
func (s *Store) CreateJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return interfaces.ErrJobExists
	}
	s.jobs[job.ID] = &entry{job: job.Clone()}
	return nil
}

// GetJob returns a copy of the job record.
func (s *Store) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.jobs[jobID]
	if !ok {
		return nil, interfaces.ErrJobNotFound
	}
	return e.job.Clone(), nil
}

// IncrementCompleted atomically bumps the completed-chunk counter and
// recomputes progress. Terminal jobs are left untouched so chunk results
// arriving after cancellation or failure are dropped.
func (s *Store) IncrementCompleted(ctx context.Context, jobID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[jobID]
	if !ok {
		return 0, 0, interfaces.ErrJobNotFound
	}

	job := e.job
	if job.Status.IsTerminal() {
		s.logger.Debug().
			Str("job_id", jobID).
			Str("status", string(job.Status)).
			Msg("Dropping chunk completion for terminal job")
		return job.CompletedChunks, job.TotalChunks, nil
	}

	job.CompletedChunks++
	if job.CompletedChunks > job.TotalChunks {
		job.CompletedChunks = job.TotalChunks
	}
	job.Progress = float64(job.CompletedChunks) / float64(job.TotalChunks)
	job.Detail = fmt.Sprintf("Processed chunk %d of %d.", job.CompletedChunks, job.TotalChunks)

	return job.CompletedChunks, job.TotalChunks, nil
}

// SetStatus updates status and detail. Transitions out of a terminal status
// are silently dropped.
func (s *Store) SetStatus(ctx context.Context, jobID string, status models.JobStatus, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[jobID]
	if !ok {
		return interfaces.ErrJobNotFound
	}

	job := e.job
	if job.Status.IsTerminal() {
		s.logger.Debug().
			Str("job_id", jobID).
			Str("status", string(job.Status)).
			Str("requested", string(status)).
			Msg("Dropping status transition for terminal job")
		return nil
	}

	now := time.Now().UTC()
	job.Status = status
	if detail != "" {
		job.Detail = detail
	}

	if status == models.JobStatusRunning && job.StartedAt == nil {
		t := now
		job.StartedAt = &t
	}
	if status.IsTerminal() {
		t := now
		job.CompletedAt = &t
		start := job.CreatedAt
		if job.StartedAt != nil {
			start = *job.StartedAt
		}
		ms := now.Sub(start).Milliseconds()
		job.DurationMs = &ms
	}

	return nil
}

// SetResult records the aggregated value and marks the job completed.
func (s *Store) SetResult(ctx context.Context, jobID string, result int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[jobID]
	if !ok {
		return interfaces.ErrJobNotFound
	}

	job := e.job
	if job.Status.IsTerminal() {
		s.logger.Warn().
			Str("job_id", jobID).
			Str("status", string(job.Status)).
			Msg("Dropping result for terminal job")
		return nil
	}

	now := time.Now().UTC()
	r := result
	job.Result = &r
	job.Status = models.JobStatusCompleted
	job.CompletedChunks = job.TotalChunks
	job.Progress = 1.0
	job.Detail = "Job completed."
	t := now
	job.CompletedAt = &t
	start := job.CreatedAt
	if job.StartedAt != nil {
		start = *job.StartedAt
	}
	ms := now.Sub(start).Milliseconds()
	job.DurationMs = &ms

	return nil
}

// Expire schedules the job record for removal after the given duration.
func (s *Store) Expire(ctx context.Context, jobID string, after time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[jobID]
	if !ok {
		return interfaces.ErrJobNotFound
	}
	e.expiresAt = time.Now().UTC().Add(after)
	return nil
}

// SweepExpired removes records whose expiry has passed.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.jobs {
		if !e.expiresAt.IsZero() && e.expiresAt.Before(now) {
			delete(s.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Swept expired job records")
	}
	return removed, nil
}

// Len returns the number of resident job records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
