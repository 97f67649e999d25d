package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/erdilatifi/chunkd/internal/common"
	"github.com/erdilatifi/chunkd/internal/services/scheduler"
)

// APIHandler serves the system endpoints.
type APIHandler struct {
	scheduler *scheduler.Service
	ws        *WebSocketHandler
	startedAt time.Time
	logger    arbor.ILogger
}

// NewAPIHandler creates the system endpoint handler.
func NewAPIHandler(sched *scheduler.Service, ws *WebSocketHandler, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		scheduler: sched,
		ws:        ws,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// HealthHandler handles GET /api/health.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	body := map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	}
	if h.ws != nil {
		body["websocket_clients"] = h.ws.ClientCount()
	}
	WriteJSON(w, http.StatusOK, body)
}

// VersionHandler handles GET /api/version.
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
		"full":    common.GetFullVersion(),
	})
}

// TriggerCleanupHandler handles POST /api/cleanup/trigger: runs the
// retention sweep outside its schedule.
func (h *APIHandler) TriggerCleanupHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	result, err := h.scheduler.RunCleanup(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Manual cleanup failed")
		WriteError(w, http.StatusInternalServerError, "Cleanup failed")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"swept":  result,
	})
}

// NotFoundHandler handles unmatched API routes.
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteError(w, http.StatusNotFound, "Not found")
}
