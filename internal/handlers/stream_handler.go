package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/erdilatifi/chunkd/internal/common"
	"github.com/erdilatifi/chunkd/internal/interfaces"
	"github.com/erdilatifi/chunkd/internal/jobs"
	"github.com/erdilatifi/chunkd/internal/models"
)

// StreamHandler serves the pull-based live status stream over SSE. It polls
// the job record and emits an event whenever the observable state changed,
// ending with the terminal snapshot or a timeout event.
type StreamHandler struct {
	orchestrator *jobs.Orchestrator
	config       *common.StreamConfig
	logger       arbor.ILogger
}

// NewStreamHandler creates the SSE stream handler.
func NewStreamHandler(orchestrator *jobs.Orchestrator, config *common.StreamConfig, logger arbor.ILogger) *StreamHandler {
	return &StreamHandler{
		orchestrator: orchestrator,
		config:       config,
		logger:       logger,
	}
}

// StreamJobHandler handles GET /api/jobs/{id}/stream.
func (h *StreamHandler) StreamJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobID := extractJobID(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "Job ID is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	// The job must exist before the stream starts
	if _, err := h.orchestrator.Get(r.Context(), jobID); err != nil {
		if errors.Is(err, interfaces.ErrJobNotFound) {
			WriteError(w, http.StatusNotFound, fmt.Sprintf("Job not found: %s", jobID))
			return
		}
		h.logger.Error().Str("job_id", jobID).Err(err).Msg("Failed to read job for stream")
		WriteError(w, http.StatusInternalServerError, "Failed to read job")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	h.logger.Debug().Str("job_id", jobID).Msg("Status stream opened")

	ticker := time.NewTicker(h.config.PollInterval)
	defer ticker.Stop()

	var lastStatus models.JobStatus
	lastCompleted := -1

	for i := 0; i < h.config.MaxIterations; i++ {
		job, err := h.orchestrator.Get(r.Context(), jobID)
		if err != nil {
			// Record expired mid-stream; tell the client and stop
			h.writeEvent(w, "gone", map[string]string{"job_id": jobID})
			flusher.Flush()
			return
		}

		// Emit only when the observable state moved
		if job.Status != lastStatus || job.CompletedChunks != lastCompleted {
			lastStatus = job.Status
			lastCompleted = job.CompletedChunks
			if !h.writeEvent(w, "status", job) {
				return
			}
			flusher.Flush()
		}

		if job.Status.IsTerminal() {
			h.logger.Debug().Str("job_id", jobID).Str("status", string(job.Status)).Msg("Status stream finished")
			return
		}

		select {
		case <-r.Context().Done():
			h.logger.Debug().Str("job_id", jobID).Msg("Status stream client disconnected")
			return
		case <-ticker.C:
		}
	}

	h.writeEvent(w, "timeout", map[string]string{
		"job_id": jobID,
		"detail": "Stream exceeded maximum duration, reconnect to continue.",
	})
	flusher.Flush()
	h.logger.Debug().Str("job_id", jobID).Msg("Status stream timed out")
}

func (h *StreamHandler) writeEvent(w http.ResponseWriter, event string, payload interface{}) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to marshal stream event")
		return false
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return false
	}
	return true
}
