// Package jobs implements the fan-out/fan-in job orchestrator: submissions
// are partitioned into chunks, chunks run concurrently under a shared worker
// pool, and a completion barrier aggregates the partial results into the
// final value exactly once.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/erdilatifi/chunkd/internal/common"
	"github.com/erdilatifi/chunkd/internal/interfaces"
	"github.com/erdilatifi/chunkd/internal/metrics"
	"github.com/erdilatifi/chunkd/internal/models"
)

// Config bounds submissions and sizes the shared worker pool.
type Config struct {
	MaxN      int64
	MaxChunks int
	Workers   int
	Retention time.Duration // how long terminal records stay readable
}

// Orchestrator coordinates the full job lifecycle. All state lives in the
// injected progress store; the optional storage collaborator receives
// best-effort durable copies.
type Orchestrator struct {
	config   Config
	store    interfaces.ProgressStore
	storage  interfaces.JobStorage // may be nil
	events   interfaces.EventService
	executor *Executor
	metrics  *metrics.Metrics
	logger   arbor.ILogger

	workers   chan struct{} // shared execution slots across all jobs
	cancels   sync.Map      // jobID -> context.CancelFunc
	finalized sync.Map      // jobID -> struct{}, set by whichever path finishes the job first
	wg        sync.WaitGroup
}

// markFinalized claims the single finalization slot for a job. Both Cancel
// and the post-barrier path race to it; only the winner emits the terminal
// event, metrics and durable write.
func (o *Orchestrator) markFinalized(jobID string) bool {
	_, loaded := o.finalized.LoadOrStore(jobID, struct{}{})
	return !loaded
}

// NewOrchestrator wires the orchestrator. events and m may be nil; storage
// may be nil when durable records are disabled.
func NewOrchestrator(config Config, store interfaces.ProgressStore, storage interfaces.JobStorage, events interfaces.EventService, executor *Executor, m *metrics.Metrics) *Orchestrator {
	if config.Workers < 1 {
		config.Workers = 1
	}
	return &Orchestrator{
		config:   config,
		store:    store,
		storage:  storage,
		events:   events,
		executor: executor,
		metrics:  m,
		logger:   common.GetLogger(),
		workers:  make(chan struct{}, config.Workers),
	}
}

// Submit validates the request, writes the job record and dispatches the
// chunks. The record is in the progress store before Submit returns, so a
// status read with the returned ID always succeeds.
func (o *Orchestrator) Submit(ctx context.Context, n int64, chunks int) (*models.Job, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: n must be at least 1, got %d", ErrInvalidArgument, n)
	}
	if chunks < 1 {
		return nil, fmt.Errorf("%w: chunks must be at least 1, got %d", ErrInvalidArgument, chunks)
	}
	if n > o.config.MaxN {
		return nil, fmt.Errorf("%w: n must not exceed %d, got %d", ErrLimitExceeded, o.config.MaxN, n)
	}
	if chunks > o.config.MaxChunks {
		return nil, fmt.Errorf("%w: chunks must not exceed %d, got %d", ErrLimitExceeded, o.config.MaxChunks, chunks)
	}

	job := models.NewJob(n, chunks, EffectiveChunks(n, chunks))
	partition := Partition(job.ID, n, chunks)

	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job record: %w", err)
	}
	o.saveDurable(job)

	if o.metrics != nil {
		o.metrics.JobsSubmitted.Inc()
		o.metrics.ActiveJobs.Inc()
	}
	o.logger.Info().
		Str("job_id", job.ID).
		Int64("n", n).
		Int("chunks", len(partition)).
		Msg("Job submitted")
	o.publishStatus(job)

	o.wg.Add(1)
	go o.run(job.ID, partition)

	return job.Clone(), nil
}

// Get returns the job record, falling back to the durable store for records
// the progress store no longer holds.
func (o *Orchestrator) Get(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err == nil {
		return job, nil
	}
	if o.storage != nil {
		if stored, serr := o.storage.GetJob(ctx, jobID); serr == nil {
			return stored, nil
		}
	}
	return nil, err
}

// List returns durable job records. Without a durable store only an empty
// history is available.
func (o *Orchestrator) List(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	if o.storage == nil {
		return []*models.Job{}, nil
	}
	return o.storage.ListJobs(ctx, opts)
}

// CachedResult looks up a completed job with the same parameters. Returns
// nil without error when no durable store is configured or nothing matches.
func (o *Orchestrator) CachedResult(ctx context.Context, n int64, chunks int) *models.Job {
	if o.storage == nil {
		return nil
	}
	job, err := o.storage.GetCachedResult(ctx, n, chunks)
	if err != nil || job == nil {
		return nil
	}
	if o.metrics != nil {
		o.metrics.CachedResults.Inc()
	}
	return job
}

// Cancel requests cooperative cancellation. The terminal status is recorded
// immediately; in-flight chunks observe their context and stop, and any
// late results are dropped by the store's terminal immutability.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobTerminal, jobID, job.Status)
	}

	if err := o.store.SetStatus(ctx, jobID, models.JobStatusCancelled, "Job cancelled by request."); err != nil {
		return nil, err
	}
	if cancel, ok := o.cancels.Load(jobID); ok {
		cancel.(context.CancelFunc)()
	}

	updated, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	o.logger.Info().Str("job_id", jobID).Msg("Job cancelled")
	if o.markFinalized(jobID) {
		o.finishMetrics(updated)
		o.publishStatus(updated)
		o.saveDurable(updated)
		o.expire(jobID)
	}

	return updated, nil
}

// Shutdown waits for running jobs to finish or the context to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes all chunks of one job and finalizes it. It is the only
// goroutine that aggregates; the WaitGroup barrier guarantees every chunk
// reached a terminal outcome before the final value is computed.
func (o *Orchestrator) run(jobID string, partition []models.Chunk) {
	defer o.wg.Done()

	log := o.logger.WithCorrelationId(jobID)

	jctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.cancels.Store(jobID, cancel)
	defer o.cancels.Delete(jobID)

	if err := o.store.SetStatus(jctx, jobID, models.JobStatusRunning, "Chunks dispatched to workers."); err != nil {
		log.Warn().Err(err).Msg("Failed to mark job running")
	}
	if job, err := o.store.GetJob(jctx, jobID); err == nil {
		o.publishStatus(job)
	}

	results := newResultSet(len(partition))
	var failed atomic.Bool
	var failErr error
	var failMu sync.Mutex

	var wg sync.WaitGroup
	for i := range partition {
		chunk := partition[i]
		wg.Add(1)
		if o.metrics != nil {
			o.metrics.QueueDepth.Inc()
		}
		go func() {
			defer wg.Done()
			defer func() {
				if o.metrics != nil {
					o.metrics.QueueDepth.Dec()
				}
			}()

			select {
			case o.workers <- struct{}{}:
				defer func() { <-o.workers }()
			case <-jctx.Done():
				return
			}

			value, err := o.executor.Execute(jctx, &chunk)
			if err != nil {
				if jctx.Err() == nil && failed.CompareAndSwap(false, true) {
					failMu.Lock()
					failErr = err
					failMu.Unlock()
					cancel() // one permanent chunk failure fails the whole job
				}
				return
			}

			results.set(chunk.Index, value)
			completed, total, ierr := o.store.IncrementCompleted(jctx, jobID)
			if ierr != nil {
				log.Warn().Err(ierr).Msg("Failed to record chunk completion")
				return
			}
			log.Debug().
				Int("completed", completed).
				Int("total", total).
				Msg("Chunk completed")
			if job, gerr := o.store.GetJob(jctx, jobID); gerr == nil {
				o.publishStatus(job)
			}
		}()
	}

	wg.Wait()
	o.finalize(jobID, results, &failed, &failMu, &failErr)
}

// finalize runs once per job after the barrier. Terminal immutability in
// the store makes it a no-op for jobs that were cancelled mid-flight.
func (o *Orchestrator) finalize(jobID string, results *resultSet, failed *atomic.Bool, failMu *sync.Mutex, failErr *error) {
	ctx := context.Background()

	if failed.Load() {
		failMu.Lock()
		detail := fmt.Sprintf("Job failed: %v", *failErr)
		failMu.Unlock()
		if err := o.store.SetStatus(ctx, jobID, models.JobStatusFailed, detail); err != nil {
			o.logger.Error().Str("job_id", jobID).Err(err).Msg("Failed to record job failure")
		}
	} else {
		total, complete := results.sum()
		if complete {
			if err := o.store.SetResult(ctx, jobID, total); err != nil {
				o.logger.Error().Str("job_id", jobID).Err(err).Msg("Failed to record job result")
			}
		}
		// An incomplete result set without a recorded failure means the job
		// was cancelled; the store already holds the terminal state.
	}

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		o.logger.Error().Str("job_id", jobID).Err(err).Msg("Job record missing at finalization")
		return
	}

	if !o.markFinalized(jobID) {
		return
	}
	o.logger.Info().
		Str("job_id", jobID).
		Str("status", string(job.Status)).
		Msg("Job finished")
	o.finishMetrics(job)
	o.publishStatus(job)
	o.saveDurable(job)
	o.expire(jobID)
}

func (o *Orchestrator) publishStatus(job *models.Job) {
	if o.events == nil {
		return
	}
	event := interfaces.Event{Type: interfaces.EventJobStatus, Payload: job}
	if err := o.events.Publish(context.Background(), event); err != nil {
		o.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to publish job status event")
	}
}

// saveDurable mirrors the record into the durable store. Failures are
// logged, never propagated; the job does not depend on durability.
func (o *Orchestrator) saveDurable(job *models.Job) {
	if o.storage == nil {
		return
	}
	if err := o.storage.SaveJob(context.Background(), job); err != nil {
		o.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to persist job record")
	}
}

func (o *Orchestrator) expire(jobID string) {
	if o.config.Retention <= 0 {
		return
	}
	if err := o.store.Expire(context.Background(), jobID, o.config.Retention); err != nil {
		o.logger.Warn().Str("job_id", jobID).Err(err).Msg("Failed to schedule record expiry")
	}
}

func (o *Orchestrator) finishMetrics(job *models.Job) {
	if o.metrics == nil || !job.Status.IsTerminal() {
		return
	}
	o.metrics.ActiveJobs.Dec()
	o.metrics.JobsFinished.WithLabelValues(string(job.Status)).Inc()
	if job.DurationMs != nil {
		o.metrics.JobDuration.Observe(float64(*job.DurationMs) / 1000)
	}
}
