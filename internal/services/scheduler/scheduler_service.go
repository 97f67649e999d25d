// Package scheduler runs the periodic maintenance sweeps: expired progress
// records, idempotency keys past retention, idle rate limit buckets and old
// durable job records.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/erdilatifi/chunkd/internal/common"
	"github.com/erdilatifi/chunkd/internal/idempotency"
	"github.com/erdilatifi/chunkd/internal/interfaces"
	"github.com/erdilatifi/chunkd/internal/ratelimit"
)

// CleanupResult summarizes one retention sweep.
type CleanupResult struct {
	JobRecords       int `json:"job_records"`
	IdempotencyKeys  int `json:"idempotency_keys"`
	RateLimitBuckets int `json:"rate_limit_buckets"`
	DurableRecords   int `json:"durable_records"`
}

// Service owns the cron runner. Sweeps also run on demand via RunCleanup.
type Service struct {
	cron    *cron.Cron
	config  *common.Config
	store   interfaces.ProgressStore
	guard   *idempotency.Guard
	limiter *ratelimit.Limiter
	storage interfaces.JobStorage // may be nil
	events  interfaces.EventService
	logger  arbor.ILogger
}

// NewService creates the scheduler. storage and events may be nil.
func NewService(config *common.Config, store interfaces.ProgressStore, guard *idempotency.Guard, limiter *ratelimit.Limiter, storage interfaces.JobStorage, events interfaces.EventService, logger arbor.ILogger) *Service {
	return &Service{
		cron:    cron.New(cron.WithSeconds()),
		config:  config,
		store:   store,
		guard:   guard,
		limiter: limiter,
		storage: storage,
		events:  events,
		logger:  logger,
	}
}

// Start registers the cron entries and begins the runner.
func (s *Service) Start() error {
	if _, err := s.cron.AddFunc(s.config.Retention.Schedule, func() {
		if _, err := s.RunCleanup(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("Scheduled cleanup failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to register cleanup schedule %q: %w", s.config.Retention.Schedule, err)
	}

	sweep := fmt.Sprintf("@every %s", s.config.RateLimit.CleanupInterval)
	if _, err := s.cron.AddFunc(sweep, func() {
		s.limiter.SweepIdle(s.config.RateLimit.CleanupInterval)
	}); err != nil {
		return fmt.Errorf("failed to register rate limit sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info().
		Str("schedule", s.config.Retention.Schedule).
		Msg("Cleanup scheduler started")
	return nil
}

// Stop halts the runner and waits for in-flight sweeps.
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Cleanup scheduler stopped")
}

// RunCleanup performs one full retention sweep.
func (s *Service) RunCleanup(ctx context.Context) (*CleanupResult, error) {
	now := time.Now().UTC()
	result := &CleanupResult{}

	swept, err := s.store.SweepExpired(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("progress sweep failed: %w", err)
	}
	result.JobRecords = swept

	keys, err := s.guard.SweepExpired(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("idempotency sweep failed: %w", err)
	}
	result.IdempotencyKeys = keys

	result.RateLimitBuckets = s.limiter.SweepIdle(s.config.RateLimit.CleanupInterval)

	if s.storage != nil {
		cutoff := now.Add(-s.config.Retention.JobTTL)
		deleted, err := s.storage.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Durable record cleanup failed")
		} else {
			result.DurableRecords = deleted
		}
	}

	s.logger.Info().
		Int("job_records", result.JobRecords).
		Int("idempotency_keys", result.IdempotencyKeys).
		Int("rate_limit_buckets", result.RateLimitBuckets).
		Int("durable_records", result.DurableRecords).
		Msg("Cleanup sweep finished")

	if s.events != nil {
		event := interfaces.Event{Type: interfaces.EventCleanupTriggered, Payload: result}
		if err := s.events.Publish(ctx, event); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to publish cleanup event")
		}
	}

	return result, nil
}
