// Package app wires the services and handlers into one application.
package app

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/erdilatifi/chunkd/internal/common"
	"github.com/erdilatifi/chunkd/internal/handlers"
	"github.com/erdilatifi/chunkd/internal/idempotency"
	"github.com/erdilatifi/chunkd/internal/interfaces"
	"github.com/erdilatifi/chunkd/internal/jobs"
	"github.com/erdilatifi/chunkd/internal/metrics"
	"github.com/erdilatifi/chunkd/internal/progress"
	"github.com/erdilatifi/chunkd/internal/ratelimit"
	"github.com/erdilatifi/chunkd/internal/services/auth"
	"github.com/erdilatifi/chunkd/internal/services/events"
	"github.com/erdilatifi/chunkd/internal/services/scheduler"
	"github.com/erdilatifi/chunkd/internal/storage/badger"
)

// App holds the wired application components.
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	ProgressStore *progress.Store
	JobStorage    interfaces.JobStorage // nil when durable storage is disabled
	EventService  interfaces.EventService
	Orchestrator  *jobs.Orchestrator
	Guard         *idempotency.Guard
	Limiter       *ratelimit.Limiter
	DemoLimiter   *ratelimit.Limiter
	Metrics       *metrics.Metrics
	Scheduler     *scheduler.Service

	JobHandler    *handlers.JobHandler
	StreamHandler *handlers.StreamHandler
	WSHandler     *handlers.WebSocketHandler
	APIHandler    *handlers.APIHandler

	badgerDB *badger.BadgerDB
}

// New creates and wires the application.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	a.Metrics = metrics.New()
	a.EventService = events.NewService(logger)
	a.ProgressStore = progress.NewStore()
	a.Guard = idempotency.NewGuard(config.Idempotency.Retention)
	a.Limiter = ratelimit.NewLimiter(config.RateLimit.RequestsPerMinute, config.RateLimit.Window)
	a.DemoLimiter = ratelimit.NewLimiter(config.Demo.RequestsPerMinute, config.RateLimit.Window)

	if config.Storage.Badger.Enabled {
		db, err := badger.NewBadgerDB(logger, &config.Storage.Badger)
		if err != nil {
			return nil, err
		}
		db.StartGC(10 * time.Minute)
		a.badgerDB = db
		a.JobStorage = badger.NewJobStorage(db, logger)
	} else {
		logger.Info().Msg("Durable job storage disabled, running in-memory only")
	}

	executor := jobs.NewExecutor(nil, jobs.RetryPolicy{
		MaxAttempts: config.Jobs.MaxAttempts,
		BaseDelay:   config.Jobs.RetryBaseDelay,
		MaxDelay:    config.Jobs.RetryMaxDelay,
		Jitter:      config.Jobs.RetryJitter,
	}, config.Jobs.ChunkTimeout, a.Metrics)

	a.Orchestrator = jobs.NewOrchestrator(jobs.Config{
		MaxN:      config.Jobs.MaxN,
		MaxChunks: config.Jobs.MaxChunks,
		Workers:   config.Jobs.Workers,
		Retention: config.Retention.JobTTL,
	}, a.ProgressStore, a.JobStorage, a.EventService, executor, a.Metrics)

	a.Scheduler = scheduler.NewService(config, a.ProgressStore, a.Guard, a.Limiter, a.JobStorage, a.EventService, logger)

	// Bearer auth is enabled when tokens are configured
	var verifier interfaces.TokenVerifier
	if entries := os.Getenv("CHUNKD_API_TOKENS"); entries != "" {
		verifier = auth.NewStaticVerifier(strings.Split(entries, ","))
		logger.Info().Msg("Bearer token authentication enabled")
	}

	a.JobHandler = handlers.NewJobHandler(a.Orchestrator, a.Guard, a.Limiter, a.DemoLimiter, verifier, a.Metrics, config, logger)
	a.StreamHandler = handlers.NewStreamHandler(a.Orchestrator, &config.Stream, logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, logger, a.Metrics, &config.WebSocket)
	a.APIHandler = handlers.NewAPIHandler(a.Scheduler, a.WSHandler, logger)

	return a, nil
}

// Start begins the background services.
func (a *App) Start() error {
	return a.Scheduler.Start()
}

// Close shuts down services and releases resources.
func (a *App) Close(ctx context.Context) {
	a.Scheduler.Stop()

	if err := a.Orchestrator.Shutdown(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Jobs still running at shutdown")
	}
	if err := a.EventService.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to close event service")
	}
	if a.badgerDB != nil {
		if err := a.badgerDB.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close database")
		}
	}
}
