package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/erdilatifi/chunkd/internal/common"
	"github.com/erdilatifi/chunkd/internal/idempotency"
	"github.com/erdilatifi/chunkd/internal/interfaces"
	"github.com/erdilatifi/chunkd/internal/jobs"
	"github.com/erdilatifi/chunkd/internal/metrics"
	"github.com/erdilatifi/chunkd/internal/models"
	"github.com/erdilatifi/chunkd/internal/ratelimit"
	"github.com/erdilatifi/chunkd/internal/services/auth"
)

// IdempotencyKeyHeader carries the client's deduplication key on submissions.
const IdempotencyKeyHeader = "Idempotency-Key"

// JobHandler serves the job submission and status API.
type JobHandler struct {
	orchestrator *jobs.Orchestrator
	guard        *idempotency.Guard
	limiter      *ratelimit.Limiter
	demoLimiter  *ratelimit.Limiter
	validate     *validator.Validate
	verifier     interfaces.TokenVerifier // nil disables authentication
	metrics      *metrics.Metrics
	config       *common.Config
	logger       arbor.ILogger
}

// NewJobHandler creates the job API handler. verifier and m may be nil.
func NewJobHandler(orchestrator *jobs.Orchestrator, guard *idempotency.Guard, limiter, demoLimiter *ratelimit.Limiter, verifier interfaces.TokenVerifier, m *metrics.Metrics, config *common.Config, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		orchestrator: orchestrator,
		guard:        guard,
		limiter:      limiter,
		demoLimiter:  demoLimiter,
		validate:     validator.New(),
		verifier:     verifier,
		metrics:      m,
		config:       config,
		logger:       logger,
	}
}

// SubmitHandler handles POST /api/jobs.
func (h *JobHandler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if h.verifier != nil && !h.authenticate(w, r) {
		return
	}
	if !h.admit(w, r, h.limiter) {
		return
	}
	h.submit(w, r, h.config.Jobs.MaxN, h.config.Jobs.MaxChunks)
}

// SubmitDemoHandler handles POST /api/jobs/demo: no authentication, tighter
// caps and its own stricter bucket.
func (h *JobHandler) SubmitDemoHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if !h.admit(w, r, h.demoLimiter) {
		return
	}
	h.submit(w, r, h.config.Demo.MaxN, h.config.Demo.MaxChunks)
}

func (h *JobHandler) submit(w http.ResponseWriter, r *http.Request, maxN int64, maxChunks int) {
	var req models.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Validation failed: %v", err))
		return
	}
	if req.N > maxN {
		WriteError(w, http.StatusUnprocessableEntity, fmt.Sprintf("n must not exceed %d", maxN))
		return
	}
	if req.Chunks > maxChunks {
		WriteError(w, http.StatusUnprocessableEntity, fmt.Sprintf("chunks must not exceed %d", maxChunks))
		return
	}

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key != "" {
		if done := h.reserveKey(w, r, key); done {
			return
		}
		// Key is reserved for us from here; release on failure so the
		// client's retry can run the submission again.
	}

	// Serve identical parameters from a prior completed run when possible
	if cached := h.orchestrator.CachedResult(r.Context(), req.N, req.Chunks); cached != nil {
		response := &models.JobCreated{
			JobID:  cached.ID,
			Status: cached.Status,
			Cached: true,
			Result: cached.Result,
		}
		if key != "" {
			h.guard.Commit(r.Context(), key, response)
		}
		h.logger.Info().
			Str("job_id", cached.ID).
			Int64("n", req.N).
			Msg("Submission served from result cache")
		WriteJSON(w, http.StatusOK, response)
		return
	}

	job, err := h.orchestrator.Submit(r.Context(), req.N, req.Chunks)
	if err != nil {
		if key != "" {
			h.guard.Release(r.Context(), key)
		}
		switch {
		case errors.Is(err, jobs.ErrInvalidArgument), errors.Is(err, jobs.ErrLimitExceeded):
			WriteError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.logger.Error().Err(err).Msg("Job submission failed")
			WriteError(w, http.StatusInternalServerError, "Failed to submit job")
		}
		return
	}

	response := &models.JobCreated{JobID: job.ID, Status: job.Status}
	if key != "" {
		h.guard.Commit(r.Context(), key, response)
	}
	WriteJSON(w, http.StatusAccepted, response)
}

// reserveKey claims the idempotency key. Returns true when the response has
// already been written: a replay of the recorded response, or a conflict
// while another request with the same key is still in flight.
func (h *JobHandler) reserveKey(w http.ResponseWriter, r *http.Request, key string) bool {
	for attempt := 0; attempt < 10; attempt++ {
		owned, replay := h.guard.Reserve(r.Context(), key)
		if owned {
			return false
		}
		if replay != nil {
			if h.metrics != nil {
				h.metrics.IdempotencyHits.Inc()
			}
			h.logger.Info().
				Str("job_id", replay.JobID).
				Msg("Replaying recorded response for idempotency key")
			WriteJSON(w, http.StatusOK, replay)
			return true
		}
		// Another request holds the key uncommitted; give it a moment
		select {
		case <-r.Context().Done():
			WriteError(w, http.StatusConflict, "Request with this idempotency key is in flight")
			return true
		case <-time.After(50 * time.Millisecond):
		}
	}
	WriteError(w, http.StatusConflict, "Request with this idempotency key is in flight")
	return true
}

// StatusHandler handles GET /api/jobs/{id}.
func (h *JobHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := extractJobID(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	job, err := h.orchestrator.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, fmt.Sprintf("Job not found: %s", jobID))
			return
		}
		h.logger.Error().Str("job_id", jobID).Err(err).Msg("Failed to read job")
		WriteError(w, http.StatusInternalServerError, "Failed to read job")
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// ListHandler handles GET /api/jobs.
func (h *JobHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit, offset := GetListParams(r)
	opts := &interfaces.JobListOptions{
		Status: models.JobStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	}
	if opts.Status != "" && !opts.Status.IsValid() {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("Unknown status: %s", opts.Status))
		return
	}

	list, err := h.orchestrator.List(r.Context(), opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"count": len(list),
	})
}

// CancelHandler handles DELETE /api/jobs/{id}.
func (h *JobHandler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	jobID := extractJobID(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	job, err := h.orchestrator.Cancel(r.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, interfaces.ErrJobNotFound):
			WriteError(w, http.StatusNotFound, fmt.Sprintf("Job not found: %s", jobID))
		case errors.Is(err, jobs.ErrJobTerminal):
			WriteError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error().Str("job_id", jobID).Err(err).Msg("Failed to cancel job")
			WriteError(w, http.StatusInternalServerError, "Failed to cancel job")
		}
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// admit spends a token from the caller's bucket; writes 429 with
// Retry-After when the bucket is empty.
func (h *JobHandler) admit(w http.ResponseWriter, r *http.Request, limiter *ratelimit.Limiter) bool {
	decision := limiter.Allow(ClientKey(r))
	if decision.Allowed {
		return true
	}
	if h.metrics != nil {
		h.metrics.RateLimited.Inc()
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", ratelimit.RetryAfterSeconds(decision.RetryAfter)))
	WriteError(w, http.StatusTooManyRequests, "Rate limit exceeded, slow down")
	return false
}

func (h *JobHandler) authenticate(w http.ResponseWriter, r *http.Request) bool {
	token, ok := auth.ParseBearer(r.Header.Get("Authorization"))
	if !ok {
		WriteError(w, http.StatusUnauthorized, "Missing bearer token")
		return false
	}
	if _, err := h.verifier.Verify(r.Context(), token); err != nil {
		WriteError(w, http.StatusUnauthorized, "Invalid or expired token")
		return false
	}
	return true
}

// extractJobID pulls the job ID out of /api/jobs/{id} and its subpaths.
func extractJobID(path string) string {
	rest := strings.TrimPrefix(path, "/api/jobs/")
	if rest == path {
		return ""
	}
	if idx := strings.Index(rest, "/"); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}
