package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/erdilatifi/chunkd/internal/common"
	"github.com/erdilatifi/chunkd/internal/metrics"
	"github.com/erdilatifi/chunkd/internal/models"
)

// ChunkFunc computes the partial result for one contiguous range. It must
// honor context cancellation; the executor applies the per-attempt deadline.
type ChunkFunc func(ctx context.Context, start, end int64) (int64, error)

// SumRange computes the sum of the integers in [start, end] by iteration,
// checking for cancellation periodically. Iteration keeps chunk runtime
// proportional to range size, which the progress stream relies on.
func SumRange(ctx context.Context, start, end int64) (int64, error) {
	var sum int64
	for i := start; i <= end; i++ {
		if i%4096 == 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			default:
			}
		}
		sum += i
	}
	return sum, nil
}

// Executor runs a single chunk to a terminal outcome: compute with a
// per-attempt deadline, retry transient failures with backoff, and fail
// permanently once the attempt budget is spent. A deadline expiry is
// permanent immediately; retrying work that already ran out its time
// allowance would only repeat the expiry.
type Executor struct {
	fn      ChunkFunc
	policy  RetryPolicy
	timeout time.Duration
	metrics *metrics.Metrics
	logger  arbor.ILogger
}

// NewExecutor creates an executor. A nil fn defaults to SumRange; m may be
// nil when instrumentation is not wanted.
func NewExecutor(fn ChunkFunc, policy RetryPolicy, timeout time.Duration, m *metrics.Metrics) *Executor {
	if fn == nil {
		fn = SumRange
	}
	return &Executor{
		fn:      fn,
		policy:  policy,
		timeout: timeout,
		metrics: m,
		logger:  common.GetLogger(),
	}
}

// Execute runs the chunk until it succeeds, fails permanently or the job
// context is cancelled.
func (e *Executor) Execute(ctx context.Context, chunk *models.Chunk) (int64, error) {
	var lastErr error

	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		result, err := e.attempt(ctx, chunk)
		if err == nil {
			if e.metrics != nil {
				e.metrics.ChunkAttempts.WithLabelValues("completed").Inc()
			}
			return result, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) {
			return 0, err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			if e.metrics != nil {
				e.metrics.ChunkAttempts.WithLabelValues("timeout").Inc()
			}
			e.logger.Warn().
				Str("job_id", chunk.JobID).
				Int("chunk", chunk.Index).
				Msg("Chunk exceeded execution deadline, failing without retry")
			return 0, fmt.Errorf("%w: %s timed out after %s", ErrChunkFailed, chunk, e.timeout)
		}

		if !e.policy.ShouldRetry(attempt) {
			break
		}

		delay := e.policy.Delay(attempt)
		if e.metrics != nil {
			e.metrics.ChunkRetries.Inc()
		}
		e.logger.Warn().
			Str("job_id", chunk.JobID).
			Int("chunk", chunk.Index).
			Int("attempt", attempt).
			Str("delay", delay.String()).
			Err(err).
			Msg("Chunk attempt failed, retrying")

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
		}
	}

	if e.metrics != nil {
		e.metrics.ChunkAttempts.WithLabelValues("failed").Inc()
	}
	return 0, fmt.Errorf("%w: %s after %d attempts: %v", ErrChunkFailed, chunk, e.policy.MaxAttempts, lastErr)
}

func (e *Executor) attempt(ctx context.Context, chunk *models.Chunk) (int64, error) {
	actx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	result, err := e.fn(actx, chunk.Start, chunk.End)
	if err != nil {
		// Report the attempt deadline as such, but pass job cancellation up.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return 0, context.DeadlineExceeded
		}
		if ctx.Err() != nil {
			return 0, context.Canceled
		}
		return 0, err
	}
	return result, nil
}
